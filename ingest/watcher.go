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
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/poiesic/convodex/chunker"
)

// Watcher emits the path of each new archive file that appears in a
// directory. Chunk files written by the splitter are ignored so ingestion
// does not re-trigger on its own output.
type Watcher struct {
	fsw    *fsnotify.Watcher
	events chan string
	logger *slog.Logger
}

// NewWatcher watches dir for new archive files.
func NewWatcher(dir string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	return &Watcher{
		fsw:    fsw,
		events: make(chan string),
		logger: slog.Default().With("component", "watcher"),
	}, nil
}

// Events delivers archive paths. The channel closes when Run returns.
func (w *Watcher) Events() <-chan string {
	return w.events
}

// Run pumps filesystem events until the context is cancelled or the
// underlying watcher closes.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			name := filepath.Base(event.Name)
			if !strings.HasSuffix(name, ".json") || chunker.IsChunkFile(name) {
				continue
			}
			w.logger.Info("archive detected", "path", event.Name)
			select {
			case w.events <- event.Name:
			case <-ctx.Done():
				return ctx.Err()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watch error", "error", err)
		}
	}
}

// Close stops the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// RunLoop ingests every archive path arriving on the channel until the
// channel closes or the context is cancelled. A failed archive is logged and
// the loop continues.
func (d *Driver) RunLoop(ctx context.Context, paths <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case path, ok := <-paths:
			if !ok {
				return nil
			}
			if _, err := d.ProcessArchive(ctx, path); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				d.logger.Error("archive ingestion failed", "path", path, "error", err)
			}
		}
	}
}

// Watch runs the driver continuously: each archive that appears in the
// archive directory is ingested as it arrives. Watch returns when the
// context is cancelled.
func (d *Driver) Watch(ctx context.Context) error {
	watcher, err := NewWatcher(d.cfg.ArchiveDir)
	if err != nil {
		return err
	}
	defer watcher.Close()

	go watcher.Run(ctx)

	return d.RunLoop(ctx, watcher.Events())
}
