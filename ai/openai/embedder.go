// Package openai implements ai.Embedder for OpenAI-compatible embedding APIs
// (OpenAI, Ollama's /v1 endpoint, LocalAI, vLLM).
package openai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/convodex/ai"
	"github.com/poiesic/convodex/core"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// Embedder implements ai.Embedder using OpenAI-compatible embedding APIs.
type Embedder struct {
	embedder  embeddings.Embedder
	dimension int
	logger    *slog.Logger
}

// NewEmbedder creates an embedder for an OpenAI-compatible host and performs
// the same single-text connectivity self-check as the native client, failing
// fast with core.ErrServiceUnreachable when the backend is dead.
//
// Returns ai.Embedder interface to enforce abstraction.
func NewEmbedder(ctx context.Context, config *ai.Config) (ai.Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	// OpenAI-compatible APIs expect the /v1 suffix; "none" as token keeps
	// local services that skip authentication happy.
	host := strings.TrimSuffix(config.Host, "/")
	if !strings.HasSuffix(host, "/v1") {
		host = host + "/v1"
	}

	client, err := openai.New(
		openai.WithBaseURL(host),
		openai.WithToken("none"),
		openai.WithEmbeddingModel(config.Model),
	)
	if err != nil {
		return nil, err
	}

	inner, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, err
	}

	e := &Embedder{
		embedder:  inner,
		dimension: config.Dimension,
		logger:    slog.Default().With("component", "openai-embedder"),
	}

	if _, err := e.EmbedText(ctx, "connection test"); err != nil {
		return nil, fmt.Errorf("embedding service self-check failed: %w", err)
	}

	return e, nil
}

// EmbedText generates a vector embedding for a single text string.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedTexts generates vector embeddings for multiple text strings in a batch.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e.logger.Debug("generating embeddings", "count", len(texts))

	embeddings, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		e.logger.Error("failed to generate embeddings", "count", len(texts), "err", err)
		return nil, fmt.Errorf("%w: %w", core.ErrServiceUnreachable, err)
	}

	if len(embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, received %d",
			core.ErrInvalidResponse, len(texts), len(embeddings))
	}
	for i, vector := range embeddings {
		if len(vector) != e.dimension {
			return nil, fmt.Errorf("%w: embedding %d has dimension %d, expected %d",
				core.ErrInvalidResponse, i, len(vector), e.dimension)
		}
	}

	return embeddings, nil
}
