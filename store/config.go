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
	"errors"
	"time"

	"github.com/poiesic/convodex/core"
)

// Config holds store settings.
type Config struct {
	// StorageDir holds the ledger, the exclusivity lock, and the performance
	// log. Created if absent.
	StorageDir string

	// BatchSize is the number of conversations embedded and upserted per
	// sub-batch. The ledger is persisted after every sub-batch, so this is
	// also the largest amount of work lost to a crash.
	BatchSize int

	// MaxRetries is the number of attempts for each embed and upsert call.
	MaxRetries int

	// RetryDelay is the base delay between retry attempts; it doubles on
	// each failure.
	RetryDelay time.Duration
}

// ConfigOption mutates a Config.
type ConfigOption func(*Config)

// WithStorageDir sets the storage directory.
func WithStorageDir(dir string) ConfigOption {
	return func(c *Config) { c.StorageDir = dir }
}

// WithBatchSize sets the sub-batch size.
func WithBatchSize(n int) ConfigOption {
	return func(c *Config) { c.BatchSize = n }
}

// WithMaxRetries sets the attempt count for embed and upsert calls.
func WithMaxRetries(n int) ConfigOption {
	return func(c *Config) { c.MaxRetries = n }
}

// WithRetryDelay sets the base retry delay.
func WithRetryDelay(d time.Duration) ConfigOption {
	return func(c *Config) { c.RetryDelay = d }
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		StorageDir: "./convodex_data",
		BatchSize:  core.BatchSize,
		MaxRetries: 3,
		RetryDelay: time.Second,
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
	if c.StorageDir == "" {
		return errors.New("store config: StorageDir is required")
	}
	if c.BatchSize <= 0 {
		return errors.New("store config: BatchSize must be positive")
	}
	if c.MaxRetries <= 0 {
		return errors.New("store config: MaxRetries must be positive")
	}
	return nil
}
