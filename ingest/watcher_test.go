package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriver_RunLoop(t *testing.T) {
	dir := t.TempDir()
	processor := &fakeProcessor{}
	d := testDriver(t, dir, processor)

	archive := writeArchiveFile(t, dir, "late.json", makeConversations(2))

	paths := make(chan string, 1)
	paths <- archive
	close(paths)

	require.NoError(t, d.RunLoop(context.Background(), paths))
	require.Len(t, processor.batches, 1)
	assert.Len(t, processor.batches[0], 2)
}

func TestWatcher(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWatcher(dir)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Chunk files and non-JSON files never surface as events.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chunk_1.json"), []byte("[]"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	archive := filepath.Join(dir, "conversations.json")
	require.NoError(t, os.WriteFile(archive, []byte("[]"), 0o644))

	select {
	case got := <-w.Events():
		assert.Equal(t, archive, got)
	case <-time.After(5 * time.Second):
		t.Fatal("no event for new archive")
	}

	// Cancellation closes the event stream.
	cancel()
	select {
	case _, ok := <-w.Events():
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("event channel did not close")
	}
}
