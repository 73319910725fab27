package ollama

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/poiesic/convodex/ai"
	"github.com/poiesic/convodex/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDim = 8

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// embedServer returns a fake Ollama endpoint producing vectors of dim
// dimensions, recording the last request body.
func embedServer(t *testing.T, dim int, lastRequest *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embed", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if lastRequest != nil {
			*lastRequest = map[string]any{"model": req.Model, "input": req.Input}
		}

		embeddings := make([][]float32, len(req.Input))
		for i := range embeddings {
			vector := make([]float32, dim)
			vector[0] = float32(i + 1)
			embeddings[i] = vector
		}
		json.NewEncoder(w).Encode(map[string]any{"embeddings": embeddings})
	}))
}

func testConfig(host string) *ai.Config {
	return ai.NewConfig(
		ai.WithHost(host),
		ai.WithModel("mxbai-embed-large"),
		ai.WithDimension(testDim),
		ai.WithTimeout(2*time.Second),
	)
}

func TestNewEmbedder(t *testing.T) {
	t.Run("performs connectivity self-check", func(t *testing.T) {
		var last map[string]any
		server := embedServer(t, testDim, &last)
		defer server.Close()

		e, err := NewEmbedder(context.Background(), testConfig(server.URL))
		require.NoError(t, err)
		require.NotNil(t, e)
		assert.Equal(t, "mxbai-embed-large", last["model"])
	})

	t.Run("fails fast when service is dead", func(t *testing.T) {
		server := embedServer(t, testDim, nil)
		server.Close() // connection refused from here on

		e, err := NewEmbedder(context.Background(), testConfig(server.URL))
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrServiceUnreachable)
		assert.Nil(t, e)
	})

	t.Run("fails fast on dimension mismatch", func(t *testing.T) {
		server := embedServer(t, testDim+1, nil)
		defer server.Close()

		_, err := NewEmbedder(context.Background(), testConfig(server.URL))
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrInvalidResponse)
	})

	t.Run("rejects invalid config", func(t *testing.T) {
		cfg := testConfig("")
		_, err := NewEmbedder(context.Background(), cfg)
		assert.Error(t, err)
	})
}

func TestEmbedder_EmbedTexts(t *testing.T) {
	var last map[string]any
	server := embedServer(t, testDim, &last)
	defer server.Close()

	e, err := NewEmbedder(context.Background(), testConfig(server.URL))
	require.NoError(t, err)

	t.Run("order preserving batch", func(t *testing.T) {
		embeddings, err := e.EmbedTexts(context.Background(), []string{"a", "b", "c"})
		require.NoError(t, err)
		require.Len(t, embeddings, 3)
		assert.Equal(t, []string{"a", "b", "c"}, last["input"])
		for i, vector := range embeddings {
			assert.Len(t, vector, testDim)
			assert.Equal(t, float32(i+1), vector[0])
		}
	})

	t.Run("malformed response body", func(t *testing.T) {
		bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}))
		defer bad.Close()

		broken := &Embedder{
			config: testConfig(bad.URL),
			url:    bad.URL + "/api/embed",
			http:   bad.Client(),
			logger: testLogger(),
		}
		_, err := broken.EmbedTexts(context.Background(), []string{"x"})
		assert.ErrorIs(t, err, core.ErrInvalidResponse)
	})

	t.Run("server error status", func(t *testing.T) {
		bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not found", http.StatusNotFound)
		}))
		defer bad.Close()

		broken := &Embedder{
			config: testConfig(bad.URL),
			url:    bad.URL + "/api/embed",
			http:   bad.Client(),
			logger: testLogger(),
		}
		_, err := broken.EmbedTexts(context.Background(), []string{"x"})
		assert.ErrorIs(t, err, core.ErrServiceUnreachable)
	})

	t.Run("count mismatch", func(t *testing.T) {
		short := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"embeddings": [][]float32{make([]float32, testDim)},
			})
		}))
		defer short.Close()

		broken := &Embedder{
			config: testConfig(short.URL),
			url:    short.URL + "/api/embed",
			http:   short.Client(),
			logger: testLogger(),
		}
		_, err := broken.EmbedTexts(context.Background(), []string{"x", "y"})
		assert.ErrorIs(t, err, core.ErrInvalidResponse)
	})
}

func TestEmbedder_EmbedText(t *testing.T) {
	server := embedServer(t, testDim, nil)
	defer server.Close()

	e, err := NewEmbedder(context.Background(), testConfig(server.URL))
	require.NoError(t, err)

	vector, err := e.EmbedText(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vector, testDim)
}
