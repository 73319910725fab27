package embedded

import (
	"context"
	"testing"

	"github.com/poiesic/convodex/core"
	"github.com/poiesic/convodex/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDim = 4

func testIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(Config{Collection: "conversations", Dimension: testDim, InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })
	require.NoError(t, ix.EnsureCollection(context.Background()))
	return ix
}

func testPoint(id core.ID, vector []float32, createTime float64) index.Point {
	return index.Point{
		ID:     id,
		Vector: vector,
		Payload: index.Payload{
			Text:       "Title: test",
			ID:         "c-test",
			Title:      "test",
			CreateTime: createTime,
		},
	}
}

func TestOpen(t *testing.T) {
	t.Run("rejects incomplete config", func(t *testing.T) {
		_, err := Open(Config{Collection: "conversations"})
		assert.Error(t, err)
	})

	t.Run("creates the database directory", func(t *testing.T) {
		dir := t.TempDir() + "/nested/index"
		ix, err := Open(Config{Path: dir, Collection: "conversations", Dimension: testDim})
		require.NoError(t, err)
		require.NoError(t, ix.Close())
	})
}

func TestIndex_EnsureCollection(t *testing.T) {
	t.Run("idempotent", func(t *testing.T) {
		ix := testIndex(t)
		require.NoError(t, ix.EnsureCollection(context.Background()))
		require.NoError(t, ix.EnsureCollection(context.Background()))
	})

	t.Run("rejects dimension change", func(t *testing.T) {
		dir := t.TempDir()
		ix, err := Open(Config{Path: dir, Collection: "conversations", Dimension: testDim})
		require.NoError(t, err)
		require.NoError(t, ix.EnsureCollection(context.Background()))
		require.NoError(t, ix.Close())

		ix, err = Open(Config{Path: dir, Collection: "conversations", Dimension: testDim + 1})
		require.NoError(t, err)
		defer ix.Close()

		err = ix.EnsureCollection(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "dimension")
	})
}

func TestIndex_Upsert(t *testing.T) {
	ctx := context.Background()

	t.Run("stores and overwrites", func(t *testing.T) {
		ix := testIndex(t)

		require.NoError(t, ix.Upsert(ctx, []index.Point{
			testPoint(1, []float32{1, 0, 0, 0}, 10),
		}))

		// Same id again with a new payload.
		updated := testPoint(1, []float32{1, 0, 0, 0}, 10)
		updated.Payload.Title = "renamed"
		require.NoError(t, ix.Upsert(ctx, []index.Point{updated}))

		stats, err := ix.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), stats.PointCount)

		matches, err := ix.Search(ctx, []float32{1, 0, 0, 0}, 1, 0, nil)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "renamed", matches[0].Payload.Title)
	})

	t.Run("empty upsert is a no-op", func(t *testing.T) {
		ix := testIndex(t)
		require.NoError(t, ix.Upsert(ctx, nil))
	})

	t.Run("rejects wrong dimension", func(t *testing.T) {
		ix := testIndex(t)
		err := ix.Upsert(ctx, []index.Point{{ID: 1, Vector: []float32{1, 2}}})
		assert.Error(t, err)
	})
}

func TestIndex_Search(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T) *Index {
		ix := testIndex(t)
		require.NoError(t, ix.Upsert(ctx, []index.Point{
			testPoint(1, []float32{1, 0, 0, 0}, 100),
			testPoint(2, []float32{0.9, 0.1, 0, 0}, 200),
			testPoint(3, []float32{0, 1, 0, 0}, 300),
		}))
		return ix
	}

	t.Run("orders by descending similarity", func(t *testing.T) {
		ix := seed(t)
		matches, err := ix.Search(ctx, []float32{1, 0, 0, 0}, 10, 0, nil)
		require.NoError(t, err)
		require.Len(t, matches, 3)
		assert.Equal(t, core.ID(1), matches[0].ID)
		assert.Equal(t, core.ID(2), matches[1].ID)
		assert.Equal(t, core.ID(3), matches[2].ID)
		for i := 1; i < len(matches); i++ {
			assert.LessOrEqual(t, matches[i].Score, matches[i-1].Score)
		}
	})

	t.Run("honors limit", func(t *testing.T) {
		ix := seed(t)
		matches, err := ix.Search(ctx, []float32{1, 0, 0, 0}, 2, 0, nil)
		require.NoError(t, err)
		assert.Len(t, matches, 2)
	})

	t.Run("applies score threshold", func(t *testing.T) {
		ix := seed(t)
		matches, err := ix.Search(ctx, []float32{1, 0, 0, 0}, 10, 0.5, nil)
		require.NoError(t, err)
		require.NotEmpty(t, matches)
		for _, m := range matches {
			assert.GreaterOrEqual(t, m.Score, float32(0.5))
		}
		for _, m := range matches {
			assert.NotEqual(t, core.ID(3), m.ID)
		}
	})

	t.Run("filters by creation time", func(t *testing.T) {
		ix := seed(t)
		start, end := 150.0, 250.0
		matches, err := ix.Search(ctx, []float32{1, 0, 0, 0}, 10, 0,
			&index.TimeRange{Start: &start, End: &end})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, core.ID(2), matches[0].ID)
	})

	t.Run("rejects wrong query dimension", func(t *testing.T) {
		ix := seed(t)
		_, err := ix.Search(ctx, []float32{1}, 10, 0, nil)
		assert.Error(t, err)
	})
}

func TestIndex_Persistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := Config{Path: dir, Collection: "conversations", Dimension: testDim}

	ix, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, ix.EnsureCollection(ctx))
	require.NoError(t, ix.Upsert(ctx, []index.Point{
		testPoint(7, []float32{0, 0, 1, 0}, 42),
	}))
	require.NoError(t, ix.Close())

	ix, err = Open(cfg)
	require.NoError(t, err)
	defer ix.Close()
	require.NoError(t, ix.EnsureCollection(ctx))

	matches, err := ix.Search(ctx, []float32{0, 0, 1, 0}, 1, 0, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, core.ID(7), matches[0].ID)
	assert.Equal(t, float64(42), matches[0].Payload.CreateTime)
}
