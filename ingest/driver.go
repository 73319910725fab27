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


package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/convodex/chunker"
	"github.com/poiesic/convodex/core"
	"github.com/poiesic/convodex/store"
)

// BatchProcessor is the slice of the store the driver needs.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, conversations []core.Conversation) (*store.BatchSummary, error)
}

// Config holds ingestion settings.
type Config struct {
	// ArchiveDir is scanned for *.json archive files.
	ArchiveDir string

	// SplitThreshold is the archive size in bytes above which an archive is
	// split into chunk files. Non-positive means chunker.DefaultSplitThreshold.
	SplitThreshold int64

	// MinFreeBytes is the free disk space required before ingestion starts.
	MinFreeBytes uint64

	// SplitWorkers is the pool size for splitting archives in parallel.
	// Splitting is read-only per archive, so archives can split concurrently
	// even though indexing itself is strictly sequential.
	SplitWorkers int
}

// ConfigOption mutates a Config.
type ConfigOption func(*Config)

// WithArchiveDir sets the archive directory.
func WithArchiveDir(dir string) ConfigOption {
	return func(c *Config) { c.ArchiveDir = dir }
}

// WithSplitThreshold sets the split threshold in bytes.
func WithSplitThreshold(n int64) ConfigOption {
	return func(c *Config) { c.SplitThreshold = n }
}

// WithMinFreeBytes sets the disk space pre-flight requirement.
func WithMinFreeBytes(n uint64) ConfigOption {
	return func(c *Config) { c.MinFreeBytes = n }
}

// WithSplitWorkers sets the split pool size.
func WithSplitWorkers(n int) ConfigOption {
	return func(c *Config) { c.SplitWorkers = n }
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		ArchiveDir:   ".",
		MinFreeBytes: 1 << 30, // 1 GiB
		SplitWorkers: 4,
	}
}

// NewConfig builds a Config from defaults plus options.
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.ArchiveDir == "" {
		return errors.New("ingest config: ArchiveDir is required")
	}
	if c.SplitWorkers <= 0 {
		return errors.New("ingest config: SplitWorkers must be positive")
	}
	return nil
}

// RunSummary aggregates one ingestion run.
type RunSummary struct {
	RunID            string
	Archives         int
	SkippedArchives  int
	Chunks           int
	SkippedChunks    int
	Total            int
	Indexed          int
	AlreadyProcessed int
	Failed           int
}

func (s *RunSummary) absorb(batch *store.BatchSummary) {
	s.Total += batch.Total
	s.Indexed += batch.Indexed
	s.AlreadyProcessed += batch.AlreadyProcessed
	s.Failed += batch.Failed
}

// Driver walks an archive directory, splits oversized archives, and feeds
// each chunk to the store as one batch.
type Driver struct {
	cfg       *Config
	processor BatchProcessor
	logger    *slog.Logger
}

// NewDriver creates an ingestion driver over the given batch processor.
func NewDriver(processor BatchProcessor, opts ...ConfigOption) (*Driver, error) {
	cfg := NewConfig(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if processor == nil {
		return nil, errors.New("ingest: batch processor is required")
	}
	return &Driver{
		cfg:       cfg,
		processor: processor,
		logger:    slog.Default().With("component", "ingest"),
	}, nil
}

// Run ingests every archive currently in the archive directory.
//
// The run starts with a disk space pre-flight: splitting roughly doubles an
// archive's footprint, so a run on a nearly full disk fails up front with
// ErrInsufficientDiskSpace instead of part-way through.
func (d *Driver) Run(ctx context.Context) (*RunSummary, error) {
	if err := checkDiskSpace(d.cfg.ArchiveDir, d.cfg.MinFreeBytes); err != nil {
		return nil, err
	}

	archives, err := d.discoverArchives()
	if err != nil {
		return nil, err
	}

	summary := &RunSummary{RunID: uuid.NewString()}
	d.logger.Info("ingestion run starting",
		"run_id", summary.RunID,
		"archives", len(archives))

	chunkLists, err := d.splitAll(archives)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	for i, archive := range archives {
		before := summary.Chunks
		for _, chunkPath := range chunkLists[i] {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			if err := d.processChunk(ctx, chunkPath, summary); err != nil {
				return summary, err
			}
		}

		// An archive counts as ingested only when at least one of its
		// chunks was processed; an empty chunk list means splitAll skipped
		// it as malformed, and a small archive whose single chunk is
		// unreadable lands here too.
		if summary.Chunks > before {
			summary.Archives++
			d.logger.Info("archive ingested", "archive", archive, "chunks", summary.Chunks-before)
		} else {
			summary.SkippedArchives++
		}
	}

	d.logger.Info("ingestion run complete",
		"run_id", summary.RunID,
		"indexed", summary.Indexed,
		"skipped_archives", summary.SkippedArchives,
		"skipped_chunks", summary.SkippedChunks,
		"failed", summary.Failed,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return summary, nil
}

// ProcessArchive ingests a single archive file.
func (d *Driver) ProcessArchive(ctx context.Context, archivePath string) (*RunSummary, error) {
	if err := checkDiskSpace(d.cfg.ArchiveDir, d.cfg.MinFreeBytes); err != nil {
		return nil, err
	}

	chunks, err := d.chunksFor(archivePath)
	if err != nil {
		return nil, err
	}

	summary := &RunSummary{RunID: uuid.NewString()}
	for _, chunkPath := range chunks {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if err := d.processChunk(ctx, chunkPath, summary); err != nil {
			return summary, err
		}
	}
	if summary.Chunks > 0 {
		summary.Archives = 1
	} else {
		summary.SkippedArchives = 1
	}
	return summary, nil
}

// discoverArchives lists *.json files in the archive directory, excluding
// chunk files produced by earlier runs.
func (d *Driver) discoverArchives() ([]string, error) {
	entries, err := os.ReadDir(d.cfg.ArchiveDir)
	if err != nil {
		return nil, fmt.Errorf("read archive dir: %w", err)
	}

	var archives []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || chunker.IsChunkFile(name) {
			continue
		}
		archives = append(archives, filepath.Join(d.cfg.ArchiveDir, name))
	}
	sort.Strings(archives)
	return archives, nil
}

// splitAll resolves each archive to its chunk file list, splitting oversized
// archives concurrently.
func (d *Driver) splitAll(archives []string) ([][]string, error) {
	pool, err := ants.NewPool(d.cfg.SplitWorkers)
	if err != nil {
		return nil, fmt.Errorf("create split pool: %w", err)
	}
	defer pool.Release()

	chunkLists := make([][]string, len(archives))
	errs := make([]error, len(archives))
	var wg sync.WaitGroup

	for i, archive := range archives {
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			chunkLists[i], errs[i] = d.chunksFor(archive)
		}); err != nil {
			wg.Done()
			return nil, fmt.Errorf("submit split task: %w", err)
		}
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			// A malformed archive is skipped, not fatal; its slot stays empty.
			if errors.Is(err, core.ErrMalformedInput) {
				d.logger.Error("skipping malformed archive", "archive", archives[i], "error", err)
				chunkLists[i] = nil
				continue
			}
			return nil, err
		}
	}
	return chunkLists, nil
}

// chunksFor returns the chunk files for one archive. Oversized archives are
// split (or their existing chunk directory reused); small archives are their
// own single chunk.
func (d *Driver) chunksFor(archivePath string) ([]string, error) {
	if !chunker.ShouldSplit(archivePath, d.cfg.SplitThreshold) {
		return []string{archivePath}, nil
	}

	dir := chunker.ChunkDir(archivePath)
	if existing, err := listChunkFiles(dir); err == nil && len(existing) > 0 {
		d.logger.Info("reusing existing chunks", "archive", archivePath, "chunks", len(existing))
		return existing, nil
	}

	return chunker.Split(archivePath)
}

// processChunk loads one chunk file and hands it to the store. A chunk that
// cannot be read or parsed is logged and skipped so the rest of the run
// proceeds; only cancellation is fatal at this level.
func (d *Driver) processChunk(ctx context.Context, chunkPath string, summary *RunSummary) error {
	conversations, err := loadConversations(chunkPath)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.logger.Error("skipping unreadable chunk", "chunk", chunkPath, "error", err)
		summary.SkippedChunks++
		return nil
	}

	batch, err := d.processor.ProcessBatch(ctx, conversations)
	if batch != nil {
		summary.Chunks++
		summary.absorb(batch)
	}
	return err
}

// loadConversations reads a chunk or archive file into conversation records.
func loadConversations(path string) ([]core.Conversation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chunk: %w", err)
	}

	records, err := chunker.DecodeRecords(data)
	if err != nil {
		return nil, err
	}

	conversations := make([]core.Conversation, 0, len(records))
	for i, record := range records {
		var conv core.Conversation
		if err := json.Unmarshal(record, &conv); err != nil {
			return nil, fmt.Errorf("%w: record %d in %s: %w", core.ErrMalformedInput, i, path, err)
		}
		conversations = append(conversations, conv)
	}
	return conversations, nil
}

// listChunkFiles returns dir's chunk files sorted by chunk number.
func listChunkFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	type numbered struct {
		n    int
		path string
	}
	var chunks []numbered
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !chunker.IsChunkFile(name) {
			continue
		}
		numText := strings.TrimSuffix(strings.TrimPrefix(name, "chunk_"), ".json")
		n, err := strconv.Atoi(numText)
		if err != nil {
			continue
		}
		chunks = append(chunks, numbered{n: n, path: filepath.Join(dir, name)})
	}

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].n < chunks[j].n })
	paths := make([]string, len(chunks))
	for i, c := range chunks {
		paths[i] = c.path
	}
	return paths, nil
}
