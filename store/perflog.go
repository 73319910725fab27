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


package store

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"
)

const perfLogFileName = "vector_store_performance.log"

var perfLogHeader = []string{"timestamp", "operation", "duration_seconds", "memory_mb", "batch_size"}

// perfLog appends one CSV row per timed operation. Rows are flushed
// immediately so a crash does not lose measurements.
type perfLog struct {
	file   *os.File
	writer *csv.Writer
}

func openPerfLog(storageDir string) (*perfLog, error) {
	path := filepath.Join(storageDir, perfLogFileName)

	info, statErr := os.Stat(path)
	needHeader := os.IsNotExist(statErr) || (statErr == nil && info.Size() == 0)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open performance log: %w", err)
	}

	p := &perfLog{file: file, writer: csv.NewWriter(file)}
	if needHeader {
		if err := p.writer.Write(perfLogHeader); err != nil {
			file.Close()
			return nil, fmt.Errorf("write performance log header: %w", err)
		}
		p.writer.Flush()
	}
	return p, nil
}

func (p *perfLog) record(operation string, duration time.Duration, batchSize int) error {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	row := []string{
		time.Now().UTC().Format(time.RFC3339),
		operation,
		strconv.FormatFloat(duration.Seconds(), 'f', 6, 64),
		strconv.FormatFloat(float64(mem.Alloc)/(1024*1024), 'f', 2, 64),
		strconv.Itoa(batchSize),
	}
	if err := p.writer.Write(row); err != nil {
		return err
	}
	p.writer.Flush()
	return p.writer.Error()
}

func (p *perfLog) close() error {
	if p == nil || p.file == nil {
		return nil
	}
	p.writer.Flush()
	err := p.file.Close()
	p.file = nil
	return err
}
