package statestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorePutGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	state := newTestState("t1", testNow)
	require.NoError(t, store.Put(ctx, state))
	assert.Equal(t, int64(1), state.Version)

	got, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, state, got)
}

func TestMemoryStoreRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, newTestState("t1", testNow)))

	first, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	second, err := store.Get(ctx, "t1")
	require.NoError(t, err)

	first.AddNote("from worker a")
	require.NoError(t, store.Put(ctx, first))

	second.AddNote("from worker b")
	assert.ErrorIs(t, store.Put(ctx, second), ErrVersionConflict)
	assert.Equal(t, int64(1), second.Version)

	fresh := newTestState("t1", testNow)
	assert.ErrorIs(t, store.Put(ctx, fresh), ErrVersionConflict, "a new state must not overwrite an existing thread")
}

func TestMemoryStoreScanOrdersByRecency(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, newTestState("old", testNow.Add(-10*24*time.Hour))))
	require.NoError(t, store.Put(ctx, newTestState("mid", testNow.Add(-2*time.Hour))))
	require.NoError(t, store.Put(ctx, newTestState("new", testNow.Add(-time.Minute))))

	got, err := store.Scan(ctx, testNow.Add(-7*24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].ThreadID)
	assert.Equal(t, "mid", got[1].ThreadID)
	assert.Equal(t, "new@example.com", got[0].CustomerEmail)

	limited, err := store.Scan(ctx, time.Time{}, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMemoryStoreCleanupBoundary(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	cutoff := testNow.Add(-30 * 24 * time.Hour)

	require.NoError(t, store.Put(ctx, newTestState("expired", cutoff.Add(-time.Second))))
	require.NoError(t, store.Put(ctx, newTestState("boundary", cutoff)))
	require.NoError(t, store.Put(ctx, newTestState("active", cutoff.Add(time.Second))))

	expired, err := store.ListExpired(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "expired", expired[0].ThreadID)

	n, err := store.DeleteOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.Get(ctx, "expired")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, "boundary")
	assert.NoError(t, err)
	_, err = store.Get(ctx, "active")
	assert.NoError(t, err)
}
