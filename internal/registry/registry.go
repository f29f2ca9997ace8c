// Package registry owns the docId → Room map for one replica and
// implements the atomic get-or-load described in spec.md §4.1 / §9:
// two concurrent first-accessors for the same docId must agree on a
// single Room instance, with only one of them reading the snapshot
// store.
package registry

import (
	"context"
	"sync"

	"github.com/docrelay/relay/internal/room"
	"github.com/docrelay/relay/internal/snapshotstore"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Registry maps document ids to their locally resident Room.
type Registry struct {
	store   snapshotstore.Store
	persist room.Persister
	log     logrus.FieldLogger

	rooms sync.Map // docID -> *room.Room
	group singleflight.Group
}

// New creates a Registry backed by store for cold loads and persist for
// scheduling async snapshot writes.
func New(store snapshotstore.Store, persist room.Persister, log logrus.FieldLogger) *Registry {
	return &Registry{
		store:   store,
		persist: persist,
		log:     log,
	}
}

// GetOrLoad returns the resident Room for docID, loading it from the
// snapshot store on first access. Concurrent first-accessors for the
// same docID are coalesced via singleflight so only one snapshot read
// happens and every caller observes the same *room.Room.
func (r *Registry) GetOrLoad(ctx context.Context, docID string) (*room.Room, error) {
	if v, ok := r.rooms.Load(docID); ok {
		return v.(*room.Room), nil
	}

	v, err, _ := r.group.Do(docID, func() (any, error) {
		if v, ok := r.rooms.Load(docID); ok {
			return v, nil
		}

		text, version := r.loadSeed(ctx, docID)
		rm := room.New(docID, text, version, r.persist, r.log)
		r.rooms.Store(docID, rm)

		return rm, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*room.Room), nil
}

// loadSeed reads the persisted snapshot, degrading to ("", 0) on a
// store failure or a missing record — correctness is preserved because
// the next local edit re-persists (spec.md §8).
func (r *Registry) loadSeed(ctx context.Context, docID string) (string, int) {
	rec, err := r.store.Load(ctx, docID)
	if err != nil {
		if err != snapshotstore.ErrNotFound {
			r.log.WithError(err).WithField("doc_id", docID).Warn("snapshot read failed, seeding empty document")
		}

		return "", 0
	}

	return rec.Text, rec.Version
}

// Lookup returns the resident Room for docID without loading it, or
// nil if it isn't currently resident.
func (r *Registry) Lookup(docID string) *room.Room {
	v, ok := r.rooms.Load(docID)
	if !ok {
		return nil
	}

	return v.(*room.Room)
}

// Evict drops docID from the registry. Safe to call whether or not the
// room has any attached sessions; eviction has no correctness cost
// because the next open reloads from the store (spec.md §4.1).
func (r *Registry) Evict(docID string) {
	r.rooms.Delete(docID)
}
