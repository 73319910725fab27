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
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/poiesic/convodex/ai"
	"github.com/poiesic/convodex/core"
	"github.com/poiesic/convodex/index"
)

// SubBatchResult records the outcome of one embed-and-upsert sub-batch.
type SubBatchResult struct {
	Size    int
	Indexed int
	Err     error
}

// BatchSummary aggregates a ProcessBatch run.
type BatchSummary struct {
	Total            int
	AlreadyProcessed int
	Indexed          int
	Failed           int
	SubBatches       []SubBatchResult
}

// Store orchestrates the conversation pipeline: dedup against the ledger,
// embed, upsert into the vector index, and persist progress.
//
// A Store is exclusive per storage directory. Open takes an advisory flock
// and a second Open against the same directory fails with ErrAlreadyLocked.
type Store struct {
	cfg      *Config
	embedder ai.Embedder
	index    index.Client
	ledger   *ledger
	lock     *processLock
	perf     *perfLog
	logger   *slog.Logger
}

// Open initializes a store over the given embedder and index client.
//
// The sequence is deliberate: verify the embedding backend is alive, take the
// lock so concurrent opens fail fast, verify the collection, then load the
// ledger. Any failure after the lock is taken releases it before returning.
// The store owns the index client and closes it; the embedder is borrowed.
func Open(ctx context.Context, embedder ai.Embedder, idx index.Client, opts ...ConfigOption) (*Store, error) {
	cfg := NewConfig(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if embedder == nil {
		return nil, fmt.Errorf("store: embedder is required")
	}
	if idx == nil {
		return nil, fmt.Errorf("store: index client is required")
	}

	// The embedder constructors self-check too, but injected embedders
	// bypass them; a dead backend must surface here, not mid-batch.
	vector, err := embedder.EmbedText(ctx, "connection test")
	if err != nil {
		return nil, fmt.Errorf("embedding service self-check failed: %w", err)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: self-check returned an empty vector", core.ErrInvalidResponse)
	}

	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	lock, err := acquireLock(cfg.StorageDir)
	if err != nil {
		return nil, err
	}

	if err := idx.EnsureCollection(ctx); err != nil {
		lock.release()
		return nil, err
	}

	led, err := loadLedger(cfg.StorageDir)
	if err != nil {
		lock.release()
		return nil, err
	}

	perf, err := openPerfLog(cfg.StorageDir)
	if err != nil {
		lock.release()
		return nil, err
	}

	logger := slog.Default().With("component", "store")
	logger.Info("store opened",
		"storage_dir", cfg.StorageDir,
		"processed", led.size(),
		"batch_size", cfg.BatchSize)

	return &Store{
		cfg:      cfg,
		embedder: embedder,
		index:    idx,
		ledger:   led,
		lock:     lock,
		perf:     perf,
		logger:   logger,
	}, nil
}

// ProcessBatch indexes the given conversations, skipping any whose key is
// already in the ledger. Work proceeds in sub-batches of cfg.BatchSize; each
// sub-batch is embedded, upserted, and recorded in the ledger before the next
// begins. A failing sub-batch is counted and skipped, and processing
// continues, so one bad batch cannot block the rest of an archive.
//
// The returned summary is valid even when err is non-nil. A non-nil error
// means the run was cut short by context cancellation; sub-batch failures
// alone never produce one.
func (s *Store) ProcessBatch(ctx context.Context, conversations []core.Conversation) (*BatchSummary, error) {
	summary := &BatchSummary{Total: len(conversations)}

	pending := make([]core.Conversation, 0, len(conversations))
	for _, conv := range conversations {
		if s.ledger.contains(conv.Key()) {
			summary.AlreadyProcessed++
			continue
		}
		pending = append(pending, conv)
	}

	if len(pending) == 0 {
		s.logger.Info("batch already processed", "total", summary.Total)
		return summary, nil
	}

	start := time.Now()
	for offset := 0; offset < len(pending); offset += s.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		end := min(offset+s.cfg.BatchSize, len(pending))
		sub := pending[offset:end]

		result := s.processSubBatch(ctx, sub)
		summary.SubBatches = append(summary.SubBatches, result)
		summary.Indexed += result.Indexed
		if result.Err != nil {
			summary.Failed += result.Size
			s.logger.Error("sub-batch failed, continuing",
				"size", result.Size, "error", result.Err)
			continue
		}

		s.logger.Info("sub-batch indexed",
			"indexed", summary.Indexed,
			"remaining", len(pending)-end)
	}

	if err := s.perf.record("total_process", time.Since(start), len(pending)); err != nil {
		s.logger.Warn("performance log write failed", "error", err)
	}

	s.logger.Info("batch complete",
		"total", summary.Total,
		"indexed", summary.Indexed,
		"skipped", summary.AlreadyProcessed,
		"failed", summary.Failed)
	return summary, nil
}

func (s *Store) processSubBatch(ctx context.Context, sub []core.Conversation) SubBatchResult {
	result := SubBatchResult{Size: len(sub)}
	start := time.Now()

	texts := make([]string, len(sub))
	keys := make([]string, len(sub))
	for i, conv := range sub {
		texts[i] = core.CanonicalText(&conv)
		keys[i] = conv.Key()
	}

	var vectors [][]float32
	err := retryWithBackoff(ctx, s.cfg.MaxRetries, s.cfg.RetryDelay, func() error {
		var embedErr error
		vectors, embedErr = s.embedder.EmbedTexts(ctx, texts)
		return embedErr
	})
	if err != nil {
		result.Err = fmt.Errorf("embed sub-batch: %w", err)
		return result
	}

	points := make([]index.Point, len(sub))
	for i, conv := range sub {
		points[i] = index.Point{
			ID:     core.PointID(keys[i]),
			Vector: vectors[i],
			Payload: index.Payload{
				Text:       texts[i],
				ID:         keys[i],
				Title:      conv.DisplayTitle(),
				CreateTime: conv.CreateTime,
				UpdateTime: conv.UpdateTime,
			},
		}
	}

	err = retryWithBackoff(ctx, s.cfg.MaxRetries, s.cfg.RetryDelay, func() error {
		return s.index.Upsert(ctx, points)
	})
	if err != nil {
		result.Err = fmt.Errorf("upsert sub-batch: %w", err)
		return result
	}

	// Ledger entries are added only after the upsert succeeded, then saved
	// immediately. A crash between upsert and save re-indexes the sub-batch
	// on the next run, which the idempotent upsert absorbs.
	s.ledger.add(keys...)
	if err := s.ledger.save(); err != nil {
		result.Err = fmt.Errorf("persist ledger: %w", err)
		return result
	}

	result.Indexed = len(sub)
	if err := s.perf.record("batch_process", time.Since(start), len(sub)); err != nil {
		s.logger.Warn("performance log write failed", "error", err)
	}
	return result
}

// Search embeds the query and returns matches above the score threshold.
func (s *Store) Search(ctx context.Context, query string, limit int, scoreThreshold float32) ([]index.Match, error) {
	return s.FilterSearch(ctx, query, limit, scoreThreshold, nil)
}

// FilterSearch is Search restricted to conversations created inside timeRange.
func (s *Store) FilterSearch(ctx context.Context, query string, limit int, scoreThreshold float32, timeRange *index.TimeRange) ([]index.Match, error) {
	start := time.Now()

	vector, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	matches, err := s.index.Search(ctx, vector, limit, scoreThreshold, timeRange)
	if err != nil {
		return nil, err
	}

	operation := "search"
	if timeRange != nil {
		operation = "filter_search"
	}
	if err := s.perf.record(operation, time.Since(start), len(matches)); err != nil {
		s.logger.Warn("performance log write failed", "error", err)
	}
	return matches, nil
}

// Stats returns collection statistics plus the ledger size.
func (s *Store) Stats(ctx context.Context) (*index.CollectionStats, int, error) {
	stats, err := s.index.Stats(ctx)
	if err != nil {
		return nil, 0, err
	}
	return stats, s.ledger.size(), nil
}

// ProcessedCount reports how many conversation keys the ledger holds.
func (s *Store) ProcessedCount() int {
	return s.ledger.size()
}

// Close releases the lock, the performance log, and the index client.
func (s *Store) Close() error {
	var firstErr error
	if err := s.perf.close(); err != nil {
		firstErr = err
	}
	if err := s.index.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.lock.release(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
