// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package chunker splits oversized JSON archive files into fixed-size chunk
// files that downstream ingestion can process one batch at a time.
//
// An archive is either a JSON array of records or a JSON object whose values
// are the records. Split fully decodes the archive before writing anything,
// so a malformed archive never leaves partial chunk files behind.
package chunker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/poiesic/convodex/core"
)

const (
	// DefaultSplitThreshold is the archive size above which ShouldSplit
	// recommends splitting.
	DefaultSplitThreshold = 5 * 1024 * 1024

	// ItemsPerChunk is the record count per chunk file. It equals the
	// store's sub-batch size so one chunk maps onto one unit of indexing
	// work.
	ItemsPerChunk = core.BatchSize

	chunkDirSuffix  = "_chunks"
	chunkFilePrefix = "chunk_"
)

// ShouldSplit reports whether the file at path exceeds threshold bytes.
// A non-positive threshold means DefaultSplitThreshold. Unreadable paths
// report false; the subsequent read surfaces the real error.
func ShouldSplit(path string, threshold int64) bool {
	if threshold <= 0 {
		threshold = DefaultSplitThreshold
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Size() > threshold
}

// ChunkDir returns the chunk directory for an archive path: the archive's
// base name without extension, suffixed with "_chunks", alongside the
// archive.
func ChunkDir(archivePath string) string {
	base := filepath.Base(archivePath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(archivePath), base+chunkDirSuffix)
}

// ChunkPath returns the path of the n-th chunk file (1-indexed) in dir.
func ChunkPath(dir string, n int) string {
	return filepath.Join(dir, fmt.Sprintf("%s%d.json", chunkFilePrefix, n))
}

// IsChunkFile reports whether name looks like a chunk file produced by Split.
func IsChunkFile(name string) bool {
	return strings.HasPrefix(name, chunkFilePrefix) && strings.HasSuffix(name, ".json")
}

// Split decodes the archive at path and writes its records into chunk files
// of at most ItemsPerChunk records each, returning the chunk paths in order.
//
// The archive is decoded in full before the first write. Malformed JSON
// returns core.ErrMalformedInput and leaves the filesystem untouched.
func Split(archivePath string) ([]string, error) {
	data, err := os.ReadFile(archivePath)
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}

	items, err := DecodeRecords(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", archivePath, err)
	}

	dir := ChunkDir(archivePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk dir: %w", err)
	}

	var paths []string
	for offset := 0; offset < len(items); offset += ItemsPerChunk {
		end := min(offset+ItemsPerChunk, len(items))
		chunk, err := json.Marshal(items[offset:end])
		if err != nil {
			return nil, fmt.Errorf("encode chunk: %w", err)
		}

		path := ChunkPath(dir, len(paths)+1)
		if err := os.WriteFile(path, chunk, 0o644); err != nil {
			return nil, fmt.Errorf("write chunk: %w", err)
		}
		paths = append(paths, path)
	}

	slog.Default().With("component", "chunker").Info("archive split",
		"archive", archivePath,
		"records", len(items),
		"chunks", len(paths))
	return paths, nil
}

// DecodeRecords extracts the record list from an archive body. Arrays yield
// their elements; objects yield their values in document order.
func DecodeRecords(data []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty archive", core.ErrMalformedInput)
	}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := strictUnmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		return items, nil
	case '{':
		return decodeObjectValues(trimmed)
	default:
		return nil, fmt.Errorf("%w: archive must be a JSON array or object", core.ErrMalformedInput)
	}
}

// decodeObjectValues walks a JSON object and collects its values in document
// order. Plain map decoding would randomize the order and with it the chunk
// contents.
func decodeObjectValues(data []byte) ([]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil { // opening brace
		return nil, fmt.Errorf("%w: %w", core.ErrMalformedInput, err)
	}

	var items []json.RawMessage
	for dec.More() {
		if _, err := dec.Token(); err != nil { // key
			return nil, fmt.Errorf("%w: %w", core.ErrMalformedInput, err)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrMalformedInput, err)
		}
		items = append(items, value)
	}

	if _, err := dec.Token(); err != nil { // closing brace
		return nil, fmt.Errorf("%w: %w", core.ErrMalformedInput, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after archive", core.ErrMalformedInput)
	}
	return items, nil
}

func strictUnmarshal(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %w", core.ErrMalformedInput, err)
	}
	return nil
}
