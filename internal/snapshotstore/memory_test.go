package snapshotstore_test

import (
	"context"
	"testing"

	"github.com/docrelay/relay/internal/snapshotstore"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_LoadMissing(t *testing.T) {
	t.Parallel()

	store := snapshotstore.NewMemoryStore()

	_, err := store.Load(context.Background(), "d1")
	require.ErrorIs(t, err, snapshotstore.ErrNotFound)
}

func TestMemoryStore_SaveThenLoad(t *testing.T) {
	t.Parallel()

	store := snapshotstore.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "d1", snapshotstore.Record{Text: "hi", Version: 1}))

	rec, err := store.Load(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, "hi", rec.Text)
	require.Equal(t, 1, rec.Version)
}
