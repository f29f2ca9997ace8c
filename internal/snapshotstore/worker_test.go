package snapshotstore_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/docrelay/relay/internal/snapshotstore"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type recordingStore struct {
	mu    sync.Mutex
	saves map[string][]snapshotstore.Record
}

func newRecordingStore() *recordingStore {
	return &recordingStore{saves: make(map[string][]snapshotstore.Record)}
}

func (s *recordingStore) Load(_ context.Context, docID string) (snapshotstore.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.saves[docID]
	if len(recs) == 0 {
		return snapshotstore.Record{}, snapshotstore.ErrNotFound
	}

	return recs[len(recs)-1], nil
}

func (s *recordingStore) Save(_ context.Context, docID string, rec snapshotstore.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.saves[docID] = append(s.saves[docID], rec)

	return nil
}

func (s *recordingStore) latest(docID string) (snapshotstore.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.saves[docID]
	if len(recs) == 0 {
		return snapshotstore.Record{}, false
	}

	return recs[len(recs)-1], true
}

func TestPool_EnqueueEventuallyPersists(t *testing.T) {
	t.Parallel()

	store := newRecordingStore()
	log := logrus.New()
	pool := snapshotstore.NewPool(store, 2, log)
	defer pool.Stop()

	pool.Enqueue("d1", snapshotstore.Record{Text: "hi", Version: 1})

	require.Eventually(t, func() bool {
		rec, ok := store.latest("d1")

		return ok && rec.Version == 1
	}, time.Second, 5*time.Millisecond)
}

func TestPool_CoalescesRapidEnqueues(t *testing.T) {
	t.Parallel()

	store := newRecordingStore()
	log := logrus.New()
	pool := snapshotstore.NewPool(store, 1, log)
	defer pool.Stop()

	for v := 1; v <= 10; v++ {
		pool.Enqueue("d1", snapshotstore.Record{Text: "x", Version: v})
	}

	require.Eventually(t, func() bool {
		rec, ok := store.latest("d1")

		return ok && rec.Version == 10
	}, time.Second, 5*time.Millisecond)
}

func TestPool_FlushPersistsPending(t *testing.T) {
	t.Parallel()

	store := newRecordingStore()
	log := logrus.New()
	pool := snapshotstore.NewPool(store, 0, log)

	pool.Enqueue("d1", snapshotstore.Record{Text: "final", Version: 3})
	pool.Flush(context.Background())
	pool.Stop()

	rec, ok := store.latest("d1")
	require.True(t, ok)
	require.Equal(t, 3, rec.Version)
}
