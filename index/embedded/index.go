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


// Package embedded implements index.Client on a local BadgerDB store, for
// single-machine deployments that do not run a Qdrant server. Search is an
// exhaustive cosine scan, which is adequate for personal-archive corpus sizes.
package embedded

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/poiesic/convodex/core"
	"github.com/poiesic/convodex/index"
)

// Config holds settings for the embedded index.
type Config struct {
	// Path is the BadgerDB directory. Ignored when InMemory is set.
	Path string

	// Collection is the collection name; points from different collections
	// never mix even when sharing a database directory.
	Collection string

	// Dimension is the vector size recorded in the collection metadata.
	Dimension int

	// InMemory runs BadgerDB without disk persistence (tests).
	InMemory bool
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Path == "" && !c.InMemory {
		return errors.New("embedded config: Path is required")
	}
	if c.Collection == "" {
		return errors.New("embedded config: Collection is required")
	}
	if c.Dimension <= 0 {
		return errors.New("embedded config: Dimension must be positive")
	}
	return nil
}

// Index is a BadgerDB-backed vector index.
type Index struct {
	db     *badger.DB
	cfg    Config
	logger *slog.Logger
}

var _ index.Client = (*Index)(nil)

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// Open opens (creating if needed) the embedded index database.
func Open(cfg Config) (*Index, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrIndexUnavailable, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts.Logger = &badgerLoggerAdapter{logger: slog.Default()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrIndexUnavailable, err)
	}

	return &Index{
		db:     db,
		cfg:    cfg,
		logger: slog.Default().With("component", "embedded-index"),
	}, nil
}

// EnsureCollection records the collection metadata if absent and verifies
// the dimension of an existing collection.
func (ix *Index) EnsureCollection(ctx context.Context) error {
	key := makeCollectionKey(ix.cfg.Collection)

	var meta []byte
	err := ix.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get(key)
		if err != nil {
			return err
		}
		meta, err = item.ValueCopy(nil)
		return err
	})
	switch {
	case err == nil:
		if len(meta) != 8 {
			return fmt.Errorf("corrupted collection metadata for %q", ix.cfg.Collection)
		}
		if existing := int(binary.BigEndian.Uint64(meta)); existing != ix.cfg.Dimension {
			return fmt.Errorf("collection %q has dimension %d, expected %d",
				ix.cfg.Collection, existing, ix.cfg.Dimension)
		}
		return nil
	case !errors.Is(err, badger.ErrKeyNotFound):
		return wrapStorageError(err)
	}

	ix.logger.Info("creating collection", "collection", ix.cfg.Collection, "dimension", ix.cfg.Dimension)
	created := make([]byte, 8)
	binary.BigEndian.PutUint64(created, uint64(ix.cfg.Dimension))
	return wrapStorageError(ix.db.Update(func(tx *badger.Txn) error {
		return tx.Set(key, created)
	}))
}

// Upsert writes all points in one transaction, so the batch is visible
// all-or-nothing.
func (ix *Index) Upsert(ctx context.Context, points []index.Point) error {
	if len(points) == 0 {
		return nil
	}

	for _, p := range points {
		if len(p.Vector) != ix.cfg.Dimension {
			return fmt.Errorf("point %d has dimension %d, expected %d",
				p.ID, len(p.Vector), ix.cfg.Dimension)
		}
	}

	err := ix.db.Update(func(tx *badger.Txn) error {
		for _, p := range points {
			value, err := marshalPoint(&p)
			if err != nil {
				return err
			}
			if err := tx.Set(makePointKey(ix.cfg.Collection, p.ID), value); err != nil {
				return err
			}
		}
		return nil
	})
	return wrapStorageError(err)
}

// Search scans every point, scores it by cosine similarity, and returns the
// top matches in descending score order.
func (ix *Index) Search(ctx context.Context, vector []float32, limit int, scoreThreshold float32, timeRange *index.TimeRange) ([]index.Match, error) {
	if len(vector) != ix.cfg.Dimension {
		return nil, fmt.Errorf("query vector has dimension %d, expected %d",
			len(vector), ix.cfg.Dimension)
	}
	if limit <= 0 {
		limit = 10
	}

	var matches []index.Match
	prefix := pointPrefix(ix.cfg.Collection)

	err := ix.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := tx.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			id, err := pointIDFromKey(ix.cfg.Collection, item.Key())
			if err != nil {
				return err
			}
			err = item.Value(func(val []byte) error {
				point, err := unmarshalPoint(id, val)
				if err != nil {
					return err
				}
				if !timeRange.Contains(point.Payload.CreateTime) {
					return nil
				}
				score := cosineSimilarity(vector, point.Vector)
				if scoreThreshold > 0 && score < scoreThreshold {
					return nil
				}
				matches = append(matches, index.Match{
					ID:      point.ID,
					Score:   score,
					Payload: point.Payload,
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrapStorageError(err)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Stats counts the stored points. The embedded backend has a single segment
// and indexes synchronously, so indexed equals stored.
func (ix *Index) Stats(ctx context.Context) (*index.CollectionStats, error) {
	var count uint64
	prefix := pointPrefix(ix.cfg.Collection)

	err := ix.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := tx.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return nil, wrapStorageError(err)
	}

	return &index.CollectionStats{
		PointCount:   count,
		IndexedCount: count,
		SegmentCount: 1,
		Status:       "green",
	}, nil
}

// Close closes the BadgerDB database.
func (ix *Index) Close() error {
	return ix.db.Close()
}

func cosineSimilarity(a, b []float32) float32 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

func wrapStorageError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", core.ErrIndexUnavailable, err)
}
