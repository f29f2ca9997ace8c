package syncclient

import (
	"sync"

	"github.com/docrelay/relay/internal/wire"
	"github.com/google/uuid"
)

// state holds the client-side document buffer and in-flight op
// bookkeeping described in spec.md §4.7. It has no network
// dependencies, which keeps it directly testable.
type state struct {
	mu sync.Mutex

	docID         string
	text          string
	serverVersion int
	sequence      int

	// pending holds ops sent but not yet confirmed by the server, in
	// send order. A reconnect replays this queue verbatim.
	pending []wire.Message
}

func newState(docID string) *state {
	return &state{docID: docID, serverVersion: -1}
}

// snapshot returns the current buffer and server version.
func (s *state) snapshot() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.text, s.serverVersion
}

// applySnapshot replaces the buffer wholesale on a "snapshot" frame.
// It never touches pending — those are replayed by the caller once
// this has run.
func (s *state) applySnapshot(text string, version int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.text = text
	s.serverVersion = version
}

// enqueueEdit records a local buffer change as a fresh outbound edit
// and returns the frame to send. Called after the debounce window
// elapses.
func (s *state) enqueueEdit(text string) wire.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.text = text
	s.sequence++

	v := s.serverVersion + 1
	seq := s.sequence

	msg := wire.Message{
		Type:     wire.TypeEdit,
		OpID:     uuid.New().String(),
		DocID:    s.docID,
		Text:     text,
		Version:  &v,
		Sequence: &seq,
	}

	s.pending = append(s.pending, msg)

	return msg
}

// pendingOps returns a copy of the currently unconfirmed ops, in send
// order, for replay after a reconnect.
func (s *state) pendingOps() []wire.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]wire.Message(nil), s.pending...)
}

// applyInbound processes a server-originated op/edit frame per
// spec.md §4.7: an echo whose opId matches any pending op confirms and
// dequeues that op without touching the buffer; anything else with a strictly
// greater server version is applied; anything at or below the known
// version is ignored.
func (s *state) applyInbound(msg wire.Message) (applied bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range s.pending {
		if p.OpID != "" && p.OpID == msg.OpID {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)

			return false
		}
	}

	incoming := msg.IncomingVersion()
	if msg.ServerVersion != nil {
		incoming = *msg.ServerVersion
	}

	if incoming <= s.serverVersion {
		return false
	}

	s.text = msg.Text
	s.serverVersion = incoming

	return true
}
