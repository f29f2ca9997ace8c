package snapshotstore_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/docrelay/relay/internal/snapshotstore"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) *snapshotstore.RedisStore {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	t.Cleanup(func() { _ = client.Close() })

	return snapshotstore.NewRedisStore(client)
}

func TestRedisStore_LoadMissing(t *testing.T) {
	t.Parallel()

	store := newTestRedisStore(t)

	_, err := store.Load(context.Background(), "d1")
	require.ErrorIs(t, err, snapshotstore.ErrNotFound)
}

func TestRedisStore_SaveThenLoad(t *testing.T) {
	t.Parallel()

	store := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "d1", snapshotstore.Record{Text: "restored", Version: 42}))

	rec, err := store.Load(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, "restored", rec.Text)
	require.Equal(t, 42, rec.Version)
}
