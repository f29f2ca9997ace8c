// Package room holds the per-document, per-replica authoritative state:
// current text, current version, and the set of locally-attached live
// sessions. Convergence across replicas is last-write-wins on full
// text, keyed by a server-assigned monotonic version.
package room

import (
	"sync"

	"github.com/docrelay/relay/internal/snapshotstore"
	"github.com/docrelay/relay/internal/wire"
	"github.com/sirupsen/logrus"
)

// Peer is anything the Room can fan messages out to: one locally
// attached session. Deliver must not block the room's mutex — it is
// always invoked after the room's lock has been released (spec.md §9:
// "mutex held across I/O → copy-under-lock, send-outside-lock").
type Peer interface {
	ID() string
	Deliver(msg wire.Message) error
}

// Persister schedules an asynchronous write of the current snapshot.
// Satisfied by (*snapshotstore.Pool).Enqueue.
type Persister interface {
	Enqueue(docID string, rec snapshotstore.Record)
}

// Room is the authoritative in-memory state for one document on one
// replica. All mutation of (text, version, sessions) holds mu, per
// invariant I4 in spec.md §3.
type Room struct {
	docID string

	mu       sync.Mutex
	text     string
	version  int
	sessions map[string]Peer

	persist Persister
	log     logrus.FieldLogger
}

// New constructs a Room already seeded with (text, version) — the
// caller (internal/registry) is responsible for the Get-or-load
// semantics of consulting the snapshot store on a cold miss.
func New(docID, text string, version int, persist Persister, log logrus.FieldLogger) *Room {
	return &Room{
		docID:    docID,
		text:     text,
		version:  version,
		sessions: make(map[string]Peer),
		persist:  persist,
		log:      log,
	}
}

// DocID returns the document identifier this room holds.
func (r *Room) DocID() string {
	return r.docID
}

// State returns a snapshot of the current (text, version).
func (r *Room) State() (string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.text, r.version
}

// Attach adds a session to the local live set and returns the current
// (text, version) so the caller can push the initial snapshot frame.
func (r *Room) Attach(p Peer) (text string, version int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[p.ID()] = p

	return r.text, r.version
}

// Detach removes a session from the local live set.
func (r *Room) Detach(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, p.ID())
}

// SessionCount returns the number of locally attached sessions.
func (r *Room) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions)
}

// ApplyLocal accepts a client-originated edit. It computes
// newVersion = max(current.version+1, incomingVersion+1) so that no
// accepted client edit is ever silently dropped, even when the
// client's claimed version is stale — the safer of the two variants
// spec.md §9 surfaces as an open question, with a structured warning
// on the stale-but-accepted path. The caller is responsible for
// publishing to the bus and fanning out locally (spec.md §4.1, §4.4);
// ApplyLocal only mutates state and schedules persistence.
func (r *Room) ApplyLocal(text string, incomingVersion int) (newVersion int) {
	r.mu.Lock()
	newVersion = max(r.version+1, incomingVersion+1)

	if incomingVersion >= 0 && incomingVersion < r.version {
		r.log.WithFields(logrus.Fields{
			"doc_id":           r.docID,
			"current_version":  r.version,
			"incoming_version": incomingVersion,
			"stale_client_op":  true,
		}).Warn("accepted client edit based on a stale version")
	}

	r.text = text
	r.version = newVersion
	rec := snapshotstore.Record{Text: r.text, Version: r.version}
	r.mu.Unlock()

	r.persist.Enqueue(r.docID, rec)

	return newVersion
}

// ApplyRemote accepts an envelope received from another replica via
// the Relay Broker. It accepts only if the envelope's version is
// strictly greater than the current version (stale remotes are
// silently dropped per spec.md §8), and on acceptance fans the update
// out to local sessions itself — unlike ApplyLocal, whose caller fans
// out (spec.md §4.1).
func (r *Room) ApplyRemote(text string, version int, msg wire.Message) (applied bool) {
	r.mu.Lock()

	if version <= r.version {
		r.mu.Unlock()

		return false
	}

	r.text = text
	r.version = version
	rec := snapshotstore.Record{Text: r.text, Version: r.version}
	peers := r.snapshotPeers()
	r.mu.Unlock()

	r.persist.Enqueue(r.docID, rec)
	r.fanOut(peers, "", msg)

	return true
}

// FanOutLocal delivers msg to every locally attached session except
// the one identified by excludeID (the sender, for local edits). The
// session set is copied under the lock and messages are sent outside
// it, so a slow or blocked peer never stalls the room.
func (r *Room) FanOutLocal(excludeID string, msg wire.Message) {
	r.mu.Lock()
	peers := r.snapshotPeers()
	r.mu.Unlock()

	r.fanOut(peers, excludeID, msg)
}

// snapshotPeers copies the current session set. Must be called with mu
// held.
func (r *Room) snapshotPeers() []Peer {
	peers := make([]Peer, 0, len(r.sessions))
	for _, p := range r.sessions {
		peers = append(peers, p)
	}

	return peers
}

func (r *Room) fanOut(peers []Peer, excludeID string, msg wire.Message) {
	for _, p := range peers {
		if p.ID() == excludeID {
			continue
		}

		if err := p.Deliver(msg); err != nil {
			r.log.WithError(err).WithFields(logrus.Fields{
				"doc_id":     r.docID,
				"session_id": p.ID(),
			}).Warn("fanout delivery failed, session will be detached by its handler")
		}
	}
}
