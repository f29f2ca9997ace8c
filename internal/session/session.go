package session

import (
	"sync"
	"sync/atomic"

	"github.com/docrelay/relay/internal/wire"
	"github.com/gorilla/websocket"
)

// Session owns one client socket: exactly one goroutine (run) reads
// from it, and any goroutine may write through Deliver, which
// serializes outbound frames with a mutex so writes to one socket are
// never concurrent (spec.md §5).
type Session struct {
	id    string
	docID string

	conn   Conn
	wmu    sync.Mutex
	closed atomic.Bool
}

// New wraps conn as a Session pinned to docID.
func New(id, docID string, conn Conn) *Session {
	return &Session{id: id, docID: docID, conn: conn}
}

// ID implements room.Peer.
func (s *Session) ID() string { return s.id }

// DocID returns the document this session is pinned to.
func (s *Session) DocID() string { return s.docID }

// Deliver implements room.Peer. A failed write is terminal: the
// connection is closed so the session's read loop unwinds and detaches
// (spec.md §4.2, §4.8).
func (s *Session) Deliver(msg wire.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}

	s.wmu.Lock()
	err = s.conn.WriteMessage(websocket.TextMessage, data)
	s.wmu.Unlock()

	if err != nil {
		s.Close()

		return err
	}

	return nil
}

// Receive reads and decodes the next client frame.
func (s *Session) Receive() (wire.Message, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return wire.Message{}, err
	}

	return wire.DecodeClientMessage(data)
}

// Close closes the underlying socket. Safe to call more than once.
func (s *Session) Close() {
	if s.closed.CompareAndSwap(false, true) {
		_ = s.conn.Close()
	}
}
