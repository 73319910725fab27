package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/convodex/ai/mock"
	"github.com/poiesic/convodex/core"
	"github.com/poiesic/convodex/index"
	"github.com/poiesic/convodex/index/embedded"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDim = 8

func testEmbedder() *mock.MockEmbedder {
	return &mock.MockEmbedder{Dimension: testDim}
}

func testIndexClient(t *testing.T) index.Client {
	t.Helper()
	ix, err := embedded.Open(embedded.Config{
		Collection: "conversations",
		Dimension:  testDim,
		InMemory:   true,
	})
	require.NoError(t, err)
	return ix
}

func openStore(t *testing.T, dir string, embedder *mock.MockEmbedder, batchSize int) *Store {
	t.Helper()
	s, err := Open(context.Background(), embedder, testIndexClient(t),
		WithStorageDir(dir),
		WithBatchSize(batchSize),
		WithMaxRetries(1),
		WithRetryDelay(time.Millisecond),
	)
	require.NoError(t, err)
	return s
}

func makeConversations(n int) []core.Conversation {
	convs := make([]core.Conversation, n)
	for i := range convs {
		convs[i] = core.Conversation{
			ID:         fmt.Sprintf("conv-%03d", i),
			Title:      fmt.Sprintf("Conversation %d", i),
			CreateTime: float64(100 * (i + 1)),
			UpdateTime: float64(100*(i+1) + 50),
			Messages: []core.Message{
				{Role: "user", Content: fmt.Sprintf("question number %d", i)},
				{Role: "assistant", Content: fmt.Sprintf("answer number %d", i)},
			},
		}
	}
	return convs
}

func TestOpen(t *testing.T) {
	t.Run("enforces process exclusivity", func(t *testing.T) {
		dir := t.TempDir()

		first := openStore(t, dir, testEmbedder(), 10)
		defer first.Close()

		_, err := Open(context.Background(), testEmbedder(), testIndexClient(t),
			WithStorageDir(dir))
		assert.ErrorIs(t, err, core.ErrAlreadyLocked)
	})

	t.Run("lock is released on close", func(t *testing.T) {
		dir := t.TempDir()

		first := openStore(t, dir, testEmbedder(), 10)
		require.NoError(t, first.Close())

		second := openStore(t, dir, testEmbedder(), 10)
		require.NoError(t, second.Close())
	})

	t.Run("rejects invalid config", func(t *testing.T) {
		_, err := Open(context.Background(), testEmbedder(), testIndexClient(t),
			WithStorageDir(""))
		assert.Error(t, err)
	})

	t.Run("fails fast when the embedding backend is dead", func(t *testing.T) {
		dir := t.TempDir()
		embedder := testEmbedder()
		embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
			return nil, fmt.Errorf("%w: connection refused", core.ErrServiceUnreachable)
		}

		_, err := Open(context.Background(), embedder, testIndexClient(t),
			WithStorageDir(dir))
		assert.ErrorIs(t, err, core.ErrServiceUnreachable)

		// The self-check ran before the lock, so the directory is still free.
		s := openStore(t, dir, testEmbedder(), 10)
		require.NoError(t, s.Close())
	})
}

func TestStore_ProcessBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("indexes new conversations and skips them on re-ingestion", func(t *testing.T) {
		s := openStore(t, t.TempDir(), testEmbedder(), 2)
		defer s.Close()

		convs := makeConversations(5)
		summary, err := s.ProcessBatch(ctx, convs)
		require.NoError(t, err)
		assert.Equal(t, 5, summary.Total)
		assert.Equal(t, 5, summary.Indexed)
		assert.Equal(t, 0, summary.Failed)
		assert.Len(t, summary.SubBatches, 3)

		stats, processed, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(5), stats.PointCount)
		assert.Equal(t, 5, processed)

		// Re-ingesting the same archive is a no-op.
		again, err := s.ProcessBatch(ctx, convs)
		require.NoError(t, err)
		assert.Equal(t, 5, again.AlreadyProcessed)
		assert.Equal(t, 0, again.Indexed)
	})

	t.Run("a failing sub-batch does not block the rest", func(t *testing.T) {
		embedder := testEmbedder()
		s := openStore(t, t.TempDir(), embedder, 2)
		defer s.Close()

		convs := makeConversations(6)
		poisonKey := convs[2].Key()

		embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
			for _, text := range texts {
				if strings.Contains(text, "question number 2") {
					return nil, errors.New("embedding backend exploded")
				}
			}
			vectors := make([][]float32, len(texts))
			for i, text := range texts {
				vectors[i] = mock.DeterministicVector(text, testDim)
			}
			return vectors, nil
		}

		summary, err := s.ProcessBatch(ctx, convs)
		require.NoError(t, err)
		assert.Equal(t, 4, summary.Indexed)
		assert.Equal(t, 2, summary.Failed)

		assert.False(t, s.ledger.contains(poisonKey))

		// Once the backend recovers, only the failed sub-batch is redone.
		embedder.EmbedTextsFunc = nil
		retry, err := s.ProcessBatch(ctx, convs)
		require.NoError(t, err)
		assert.Equal(t, 4, retry.AlreadyProcessed)
		assert.Equal(t, 2, retry.Indexed)
		assert.Equal(t, 0, retry.Failed)
	})

	t.Run("progress survives a restart", func(t *testing.T) {
		dir := t.TempDir()
		convs := makeConversations(3)

		s := openStore(t, dir, testEmbedder(), 10)
		_, err := s.ProcessBatch(ctx, convs)
		require.NoError(t, err)
		require.NoError(t, s.Close())

		reopened := openStore(t, dir, testEmbedder(), 10)
		defer reopened.Close()

		summary, err := reopened.ProcessBatch(ctx, convs)
		require.NoError(t, err)
		assert.Equal(t, 3, summary.AlreadyProcessed)
		assert.Equal(t, 0, summary.Indexed)
	})

	t.Run("ledger on disk reflects only successful sub-batches", func(t *testing.T) {
		dir := t.TempDir()
		embedder := testEmbedder()
		s := openStore(t, dir, embedder, 2)

		convs := makeConversations(6)
		embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
			for _, text := range texts {
				if strings.Contains(text, "question number 2") {
					return nil, errors.New("embedding backend exploded")
				}
			}
			vectors := make([][]float32, len(texts))
			for i, text := range texts {
				vectors[i] = mock.DeterministicVector(text, testDim)
			}
			return vectors, nil
		}

		summary, err := s.ProcessBatch(ctx, convs)
		require.NoError(t, err)
		require.Equal(t, 4, summary.Indexed)
		require.NoError(t, s.Close())

		// The persisted ledger holds exactly the successful sub-batches.
		data, err := os.ReadFile(filepath.Join(dir, ledgerFileName))
		require.NoError(t, err)
		var keys []string
		require.NoError(t, json.Unmarshal(data, &keys))
		assert.Len(t, keys, 4)
		assert.NotContains(t, keys, convs[2].Key())
		assert.NotContains(t, keys, convs[3].Key())

		// A fresh store picks up from that ledger and redoes only the
		// failed sub-batch.
		reopened := openStore(t, dir, testEmbedder(), 2)
		defer reopened.Close()

		retry, err := reopened.ProcessBatch(ctx, convs)
		require.NoError(t, err)
		assert.Equal(t, 4, retry.AlreadyProcessed)
		assert.Equal(t, 2, retry.Indexed)
	})

	t.Run("stops between sub-batches on cancellation", func(t *testing.T) {
		s := openStore(t, t.TempDir(), testEmbedder(), 2)
		defer s.Close()

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		summary, err := s.ProcessBatch(cancelled, makeConversations(4))
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, summary.Indexed)
	})
}

func TestStore_Search(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T) (*Store, []core.Conversation) {
		s := openStore(t, t.TempDir(), testEmbedder(), 10)
		t.Cleanup(func() { s.Close() })
		convs := makeConversations(4)
		_, err := s.ProcessBatch(ctx, convs)
		require.NoError(t, err)
		return s, convs
	}

	t.Run("exact canonical text is the top match", func(t *testing.T) {
		s, convs := seed(t)
		query := core.CanonicalText(&convs[1])

		matches, err := s.Search(ctx, query, 10, 0)
		require.NoError(t, err)
		require.NotEmpty(t, matches)
		assert.Equal(t, convs[1].ID, matches[0].Payload.ID)
		assert.InDelta(t, 1.0, matches[0].Score, 0.001)
	})

	t.Run("threshold bounds every score", func(t *testing.T) {
		s, convs := seed(t)
		query := core.CanonicalText(&convs[1])

		matches, err := s.Search(ctx, query, 10, 0.99)
		require.NoError(t, err)
		for _, m := range matches {
			assert.GreaterOrEqual(t, m.Score, float32(0.99))
		}
	})

	t.Run("time range excludes conversations outside it", func(t *testing.T) {
		s, convs := seed(t)
		query := core.CanonicalText(&convs[1])

		// convs[1] has CreateTime 200; restrict to later conversations.
		start := 250.0
		matches, err := s.FilterSearch(ctx, query, 10, 0, &index.TimeRange{Start: &start})
		require.NoError(t, err)
		for _, m := range matches {
			assert.GreaterOrEqual(t, m.Payload.CreateTime, start)
			assert.NotEqual(t, convs[1].ID, m.Payload.ID)
		}
	})
}

func TestStore_PerfLog(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir, testEmbedder(), 10)

	_, err := s.ProcessBatch(context.Background(), makeConversations(2))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	data, err := os.ReadFile(filepath.Join(dir, perfLogFileName))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.GreaterOrEqual(t, len(lines), 2)
	assert.Equal(t, "timestamp,operation,duration_seconds,memory_mb,batch_size", lines[0])
	assert.Contains(t, string(data), "batch_process")
}

func TestLedger(t *testing.T) {
	t.Run("round-trips through disk", func(t *testing.T) {
		dir := t.TempDir()

		l, err := loadLedger(dir)
		require.NoError(t, err)
		l.add("a", "b")
		require.NoError(t, l.save())

		reloaded, err := loadLedger(dir)
		require.NoError(t, err)
		assert.True(t, reloaded.contains("a"))
		assert.True(t, reloaded.contains("b"))
		assert.False(t, reloaded.contains("c"))
	})

	t.Run("rejects corrupt ledger", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, ledgerFileName), []byte("{not json"), 0o644))

		_, err := loadLedger(dir)
		assert.Error(t, err)
	})
}
