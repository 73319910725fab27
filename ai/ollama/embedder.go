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


// Package ollama implements ai.Embedder against the native Ollama embed API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/poiesic/convodex/ai"
	"github.com/poiesic/convodex/core"
)

const embedPath = "/api/embed"

// Embedder implements ai.Embedder using Ollama's /api/embed endpoint.
// The wire contract is {model, input: [string,...]} in and
// {embeddings: [[float,...],...]} out, one vector per input in order.
type Embedder struct {
	config *ai.Config
	url    string
	http   *http.Client
	logger *slog.Logger
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewEmbedder creates an embedder for the configured Ollama host and performs
// a single-text connectivity self-check. Construction fails fast with
// core.ErrServiceUnreachable when the backend is dead, so callers never start
// a run that cannot make progress.
//
// Returns ai.Embedder interface to enforce abstraction.
func NewEmbedder(ctx context.Context, config *ai.Config) (ai.Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	e := &Embedder{
		config: config,
		url:    strings.TrimRight(config.Host, "/") + embedPath,
		http:   &http.Client{Timeout: config.Timeout},
		logger: slog.Default().With("component", "ollama-embedder"),
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

	body, err := json.Marshal(embedRequest{Model: e.config.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %w", core.ErrInvalidResponse, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", core.ErrServiceUnreachable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		e.logger.Error("embedding request failed", "err", err)
		return nil, fmt.Errorf("%w: %w", core.ErrServiceUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", core.ErrServiceUnreachable, resp.StatusCode)
	}

	var decoded embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", core.ErrInvalidResponse, err)
	}

	return e.validate(decoded.Embeddings, len(texts))
}

// validate enforces the response shape: one vector per input, each of the
// configured dimension.
func (e *Embedder) validate(embeddings [][]float32, want int) ([][]float32, error) {
	if len(embeddings) != want {
		return nil, fmt.Errorf("%w: expected %d embeddings, received %d",
			core.ErrInvalidResponse, want, len(embeddings))
	}
	for i, vector := range embeddings {
		if len(vector) != e.config.Dimension {
			return nil, fmt.Errorf("%w: embedding %d has dimension %d, expected %d",
				core.ErrInvalidResponse, i, len(vector), e.config.Dimension)
		}
	}
	return embeddings, nil
}
