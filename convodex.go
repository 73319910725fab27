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


package convodex

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/poiesic/convodex/ai"
	"github.com/poiesic/convodex/ai/ollama"
	"github.com/poiesic/convodex/ai/openai"
	"github.com/poiesic/convodex/index"
	"github.com/poiesic/convodex/index/embedded"
	"github.com/poiesic/convodex/index/qdrant"
	"github.com/poiesic/convodex/ingest"
	"github.com/poiesic/convodex/store"
)

// Embedding providers selectable via WithProvider.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Archive is the top-level handle: an open store wired to an embedder and a
// vector index, plus ingestion drivers created on demand.
type Archive struct {
	store    *store.Store
	embedder ai.Embedder
}

// Option configures an Archive.
type Option func(*archiveOptions)

type archiveOptions struct {
	aiConfig   *ai.Config
	provider   string
	embedder   ai.Embedder
	indexURL   string
	collection string
	storeOpts  []store.ConfigOption
}

// WithAIConfig sets the embedding service configuration.
func WithAIConfig(cfg *ai.Config) Option {
	return func(o *archiveOptions) { o.aiConfig = cfg }
}

// WithProvider selects the embedding provider, ProviderOllama (default) or
// ProviderOpenAI.
func WithProvider(provider string) Option {
	return func(o *archiveOptions) { o.provider = provider }
}

// WithEmbedder injects a pre-built embedder, bypassing provider construction.
func WithEmbedder(e ai.Embedder) Option {
	return func(o *archiveOptions) { o.embedder = e }
}

// WithIndexURL points the archive at a Qdrant server. Without it the archive
// uses an embedded local index under the storage directory.
func WithIndexURL(url string) Option {
	return func(o *archiveOptions) { o.indexURL = url }
}

// WithCollection sets the index collection name. Default: "conversations".
func WithCollection(name string) Option {
	return func(o *archiveOptions) { o.collection = name }
}

// WithStoreOptions forwards options to the underlying store.
func WithStoreOptions(opts ...store.ConfigOption) Option {
	return func(o *archiveOptions) { o.storeOpts = append(o.storeOpts, opts...) }
}

// Open wires an embedder, an index backend, and the store together under
// storageDir. The embedder is verified against the live service during
// construction, so a misconfigured endpoint fails here rather than mid-batch.
func Open(ctx context.Context, storageDir string, opts ...Option) (*Archive, error) {
	options := &archiveOptions{
		aiConfig:   ai.DefaultConfig(),
		provider:   ProviderOllama,
		collection: "conversations",
	}
	for _, opt := range opts {
		opt(options)
	}

	embedder := options.embedder
	if embedder == nil {
		var err error
		switch options.provider {
		case ProviderOllama:
			embedder, err = ollama.NewEmbedder(ctx, options.aiConfig)
		case ProviderOpenAI:
			embedder, err = openai.NewEmbedder(ctx, options.aiConfig)
		default:
			return nil, fmt.Errorf("unknown embedding provider %q", options.provider)
		}
		if err != nil {
			return nil, err
		}
	}

	idx, err := openIndex(options, storageDir)
	if err != nil {
		return nil, err
	}

	s, err := store.Open(ctx, embedder, idx,
		append([]store.ConfigOption{store.WithStorageDir(storageDir)}, options.storeOpts...)...)
	if err != nil {
		idx.Close()
		return nil, err
	}

	return &Archive{store: s, embedder: embedder}, nil
}

func openIndex(options *archiveOptions, storageDir string) (index.Client, error) {
	if options.indexURL != "" {
		return qdrant.NewClient(qdrant.Config{
			URL:        options.indexURL,
			Collection: options.collection,
			Dimension:  options.aiConfig.Dimension,
		})
	}
	return embedded.Open(embedded.Config{
		Path:       filepath.Join(storageDir, "index"),
		Collection: options.collection,
		Dimension:  options.aiConfig.Dimension,
	})
}

// Store exposes the underlying store.
func (a *Archive) Store() *store.Store {
	return a.store
}

// NewDriver creates an ingestion driver feeding this archive's store.
func (a *Archive) NewDriver(opts ...ingest.ConfigOption) (*ingest.Driver, error) {
	return ingest.NewDriver(a.store, opts...)
}

// Search embeds the query and returns matches above the score threshold.
func (a *Archive) Search(ctx context.Context, query string, limit int, scoreThreshold float32) ([]index.Match, error) {
	return a.store.Search(ctx, query, limit, scoreThreshold)
}

// FilterSearch is Search restricted to a creation-time range.
func (a *Archive) FilterSearch(ctx context.Context, query string, limit int, scoreThreshold float32, timeRange *index.TimeRange) ([]index.Match, error) {
	return a.store.FilterSearch(ctx, query, limit, scoreThreshold, timeRange)
}

// Stats returns index statistics plus the number of processed conversations.
func (a *Archive) Stats(ctx context.Context) (*index.CollectionStats, int, error) {
	return a.store.Stats(ctx)
}

// Close releases the store, which owns the index client and the process lock.
func (a *Archive) Close() error {
	return a.store.Close()
}
