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


// Package qdrant implements index.Client against a Qdrant server's REST API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/poiesic/convodex/core"
	"github.com/poiesic/convodex/index"
)

const maxErrorBodyBytes = 1024

// Config holds connection settings for a Qdrant server.
type Config struct {
	// URL is the Qdrant REST endpoint, e.g. "http://localhost:6333".
	URL string

	// Collection is the collection name.
	Collection string

	// Dimension is the vector size for EnsureCollection and upsert validation.
	Dimension int

	// Timeout bounds each request. Default: 10s.
	Timeout time.Duration
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("qdrant config: URL is required")
	}
	if c.Collection == "" {
		return errors.New("qdrant config: Collection is required")
	}
	if c.Dimension <= 0 {
		return errors.New("qdrant config: Dimension must be positive")
	}
	return nil
}

// Client talks to a Qdrant server over REST.
type Client struct {
	cfg     Config
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

var _ index.Client = (*Client)(nil)

type envelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

type searchResultItem struct {
	ID      core.ID       `json:"id"`
	Score   float32       `json:"score"`
	Payload index.Payload `json:"payload"`
}

// NewClient creates a Qdrant REST client. It performs no network calls;
// connectivity surfaces on the first operation (typically EnsureCollection
// during store construction, which is where failures should be fatal).
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  slog.Default().With("component", "qdrant-client"),
	}, nil
}

// EnsureCollection creates the collection only if absent and verifies the
// dimension of an existing one.
func (c *Client) EnsureCollection(ctx context.Context) error {
	var info struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}

	err := c.doJSON(ctx, http.MethodGet, c.collectionPath(""), nil, &info)
	if err == nil {
		if size := info.Config.Params.Vectors.Size; size != 0 && size != c.cfg.Dimension {
			return fmt.Errorf("collection %q has dimension %d, expected %d",
				c.cfg.Collection, size, c.cfg.Dimension)
		}
		return nil
	}

	var status *statusError
	if !errors.As(err, &status) || status.code != http.StatusNotFound {
		return err
	}

	c.logger.Info("creating collection", "collection", c.cfg.Collection, "dimension", c.cfg.Dimension)
	req := map[string]any{
		"vectors": map[string]any{
			"size":     c.cfg.Dimension,
			"distance": "Cosine",
		},
	}
	return c.doJSON(ctx, http.MethodPut, c.collectionPath(""), req, nil)
}

// Upsert writes points with wait=true so the call returns only once the
// points are visible.
func (c *Client) Upsert(ctx context.Context, points []index.Point) error {
	if len(points) == 0 {
		return nil
	}

	encoded := make([]map[string]any, 0, len(points))
	for _, p := range points {
		if len(p.Vector) != c.cfg.Dimension {
			return fmt.Errorf("point %d has dimension %d, expected %d",
				p.ID, len(p.Vector), c.cfg.Dimension)
		}
		encoded = append(encoded, map[string]any{
			"id":      uint64(p.ID),
			"vector":  p.Vector,
			"payload": p.Payload,
		})
	}

	req := map[string]any{"points": encoded}
	return c.doJSON(ctx, http.MethodPut, c.collectionPath("/points?wait=true"), req, nil)
}

// Search runs a similarity query, optionally bounded by score threshold and
// creation-time range.
func (c *Client) Search(ctx context.Context, vector []float32, limit int, scoreThreshold float32, timeRange *index.TimeRange) ([]index.Match, error) {
	if len(vector) != c.cfg.Dimension {
		return nil, fmt.Errorf("query vector has dimension %d, expected %d",
			len(vector), c.cfg.Dimension)
	}
	if limit <= 0 {
		limit = 10
	}

	req := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  false,
	}
	if scoreThreshold > 0 {
		req["score_threshold"] = scoreThreshold
	}
	if filter := rangeFilter(timeRange); filter != nil {
		req["filter"] = filter
	}

	var items []searchResultItem
	if err := c.doJSON(ctx, http.MethodPost, c.collectionPath("/points/search"), req, &items); err != nil {
		return nil, err
	}

	matches := make([]index.Match, 0, len(items))
	for _, item := range items {
		matches = append(matches, index.Match{
			ID:      item.ID,
			Score:   item.Score,
			Payload: item.Payload,
		})
	}
	return matches, nil
}

// Stats returns collection statistics.
func (c *Client) Stats(ctx context.Context) (*index.CollectionStats, error) {
	var info struct {
		PointsCount         uint64 `json:"points_count"`
		IndexedVectorsCount uint64 `json:"indexed_vectors_count"`
		SegmentsCount       uint64 `json:"segments_count"`
		Status              string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, c.collectionPath(""), nil, &info); err != nil {
		return nil, err
	}

	return &index.CollectionStats{
		PointCount:   info.PointsCount,
		IndexedCount: info.IndexedVectorsCount,
		SegmentCount: info.SegmentsCount,
		Status:       info.Status,
	}, nil
}

// Close is a no-op; the client holds no persistent connections.
func (c *Client) Close() error {
	return nil
}

// rangeFilter translates a TimeRange into a Qdrant must/range filter on
// create_time.
func rangeFilter(r *index.TimeRange) map[string]any {
	if r == nil || (r.Start == nil && r.End == nil) {
		return nil
	}

	bounds := map[string]any{}
	if r.Start != nil {
		bounds["gte"] = *r.Start
	}
	if r.End != nil {
		bounds["lte"] = *r.End
	}

	return map[string]any{
		"must": []any{
			map[string]any{
				"key":   "create_time",
				"range": bounds,
			},
		},
	}
}

// statusError carries a non-2xx HTTP status so EnsureCollection can
// distinguish "absent" from "broken".
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant http status=%d body=%q", e.code, e.body)
}

func (c *Client) collectionPath(suffix string) string {
	return "/collections/" + c.cfg.Collection + suffix
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return fmt.Errorf("%w: encode request: %w", core.ErrIndexUnavailable, err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: build request: %w", core.ErrIndexUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrIndexUnavailable, err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 10*maxErrorBodyBytes))
	if readErr != nil {
		return fmt.Errorf("%w: read response: %w", core.ErrIndexUnavailable, readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %w", core.ErrIndexUnavailable,
			&statusError{code: resp.StatusCode, body: truncateBody(raw)})
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: decode envelope: %w", core.ErrIndexUnavailable, err)
	}
	if statusErr := parseEnvelopeStatus(env.Status); statusErr != "" {
		return fmt.Errorf("%w: %s", core.ErrIndexUnavailable, statusErr)
	}

	if out == nil || len(env.Result) == 0 || string(env.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("%w: decode result: %w", core.ErrIndexUnavailable, err)
	}
	return nil
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}

	var statusString string
	if err := json.Unmarshal(raw, &statusString); err == nil {
		if strings.EqualFold(statusString, "ok") {
			return ""
		}
		return fmt.Sprintf("qdrant status=%q", statusString)
	}

	var statusObject struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &statusObject); err == nil {
		if strings.TrimSpace(statusObject.Error) != "" {
			return strings.TrimSpace(statusObject.Error)
		}
	}

	return fmt.Sprintf("qdrant status=%s", status)
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}
