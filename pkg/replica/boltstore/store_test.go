package boltstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/piratar/members-sync/pkg/replica"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "replica.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestUpsertIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	doc := replica.Document{
		"kennitala": "0101302989",
		"profile":   map[string]any{"name": "Alice"},
	}

	require.NoError(t, store.Upsert(ctx, "0101302989", doc))
	first, err := store.Get(ctx, "0101302989")
	require.NoError(t, err)

	require.NoError(t, store.Upsert(ctx, "0101302989", doc))
	second, err := store.Get(ctx, "0101302989")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	name, ok := second.Lookup("profile.name")
	require.True(t, ok)
	assert.Equal(t, "Alice", name)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0101302989"}, keys)
}

func TestDeleteAbsentIsNotAnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Delete(ctx, "0101302989"))

	require.NoError(t, store.Upsert(ctx, "0101302989", replica.Document{"kennitala": "0101302989"}))
	require.NoError(t, store.Delete(ctx, "0101302989"))
	require.NoError(t, store.Delete(ctx, "0101302989"))

	_, err := store.Get(ctx, "0101302989")
	require.ErrorIs(t, err, replica.ErrNotFound)
}

func TestCanceledContextIsRejected(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, store.Upsert(ctx, "0101302989", replica.Document{}), context.Canceled)
	require.NoError(t, store.Ping(context.Background()))
}
