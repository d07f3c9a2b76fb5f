package checkpoint

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := NewStore(t.TempDir(), logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	return store
}

func TestStoreMarkAndCheck(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	processed, err := store.IsProcessed(ctx, "memory-1")
	require.NoError(t, err)
	assert.False(t, processed)

	require.NoError(t, store.MarkProcessed(ctx, "memory-1"))

	processed, err = store.IsProcessed(ctx, "memory-1")
	require.NoError(t, err)
	assert.True(t, processed)

	processed, err = store.IsProcessed(ctx, "memory-2")
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestStoreProcessedAt(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, ok, err := store.ProcessedAt(ctx, "memory-1")
	require.NoError(t, err)
	assert.False(t, ok)

	before := time.Now().UTC().Add(-time.Second)
	require.NoError(t, store.MarkProcessed(ctx, "memory-1"))
	after := time.Now().UTC().Add(time.Second)

	at, ok, err := store.ProcessedAt(ctx, "memory-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, at.After(before))
	assert.True(t, at.Before(after))
}

func TestStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.MarkProcessed(ctx, "memory-1"))
	require.NoError(t, store.Delete(ctx, "memory-1"))

	processed, err := store.IsProcessed(ctx, "memory-1")
	require.NoError(t, err)
	assert.False(t, processed)

	// Deleting an unknown memory is a no-op.
	require.NoError(t, store.Delete(ctx, "never-seen"))
}

func TestStoreProcessedCount(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	count, err := store.ProcessedCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.MarkProcessed(ctx, id))
	}

	count, err = store.ProcessedCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// Marking the same memory again does not inflate the count.
	require.NoError(t, store.MarkProcessed(ctx, "a"))

	count, err = store.ProcessedCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestStoreCleanOld(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.MarkProcessed(ctx, "fresh"))

	// A zero maxAge makes every existing record stale.
	time.Sleep(10 * time.Millisecond)
	removed, err := store.CleanOld(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	processed, err := store.IsProcessed(ctx, "fresh")
	require.NoError(t, err)
	assert.False(t, processed)

	// Fresh records survive a generous maxAge.
	require.NoError(t, store.MarkProcessed(ctx, "fresh"))
	removed, err = store.CleanOld(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	processed, err = store.IsProcessed(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestStoreClear(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, id := range []string{"a", "b"} {
		require.NoError(t, store.MarkProcessed(ctx, id))
	}

	require.NoError(t, store.Clear(ctx))

	count, err := store.ProcessedCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// The store is still usable after a clear.
	require.NoError(t, store.MarkProcessed(ctx, "a"))

	processed, err := store.IsProcessed(ctx, "a")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestStoreRejectsEmptyMemoryID(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	assert.ErrorIs(t, store.MarkProcessed(ctx, ""), ErrInvalidMemoryID)

	_, err := store.IsProcessed(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidMemoryID)

	_, _, err = store.ProcessedAt(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidMemoryID)

	assert.ErrorIs(t, store.Delete(ctx, ""), ErrInvalidMemoryID)
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := NewStore(dir, logger)
	require.NoError(t, err)
	require.NoError(t, store.MarkProcessed(ctx, "memory-1"))
	require.NoError(t, store.Close())

	reopened, err := NewStore(dir, logger)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, reopened.Close())
	}()

	processed, err := reopened.IsProcessed(ctx, "memory-1")
	require.NoError(t, err)
	assert.True(t, processed)
}
