package session_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/docrelay/relay/internal/session"
	"github.com/docrelay/relay/internal/wire"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu       sync.Mutex
	written  [][]byte
	incoming chan []byte
	closed   bool
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{incoming: make(chan []byte, 8)}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeErr != nil {
		return c.writeErr
	}

	c.written = append(c.written, data)

	return nil
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-c.incoming
	if !ok {
		return 0, nil, errors.New("connection closed")
	}

	return websocket.TextMessage, data, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.incoming)
	}

	return nil
}

func (c *fakeConn) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([][]byte(nil), c.written...)
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

func TestSession_DeliverWritesEncodedMessage(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	sess := session.New("s1", "doc1", conn)

	require.NoError(t, sess.Deliver(wire.Snapshot("doc1", "hello", 3, "r1")))

	writes := conn.Writes()
	require.Len(t, writes, 1)
	require.Contains(t, string(writes[0]), `"text":"hello"`)
}

func TestSession_DeliverClosesOnWriteError(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	conn.writeErr = errors.New("broken pipe")
	sess := session.New("s1", "doc1", conn)

	err := sess.Deliver(wire.Snapshot("doc1", "hello", 1, "r1"))
	require.Error(t, err)
	require.True(t, conn.IsClosed())
}

func TestSession_ReceiveDecodesClientMessage(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	sess := session.New("s1", "doc1", conn)

	conn.incoming <- []byte(`{"type":"edit","opId":"o1","docId":"doc1","text":"hi","version":0}`)

	msg, err := sess.Receive()
	require.NoError(t, err)
	require.True(t, msg.IsEdit())
	require.Equal(t, "hi", msg.Text)
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	sess := session.New("s1", "doc1", conn)

	sess.Close()
	sess.Close()

	require.True(t, conn.IsClosed())
}

func TestSession_IDAndDocID(t *testing.T) {
	t.Parallel()

	sess := session.New("s7", "doc9", newFakeConn())

	require.Equal(t, "s7", sess.ID())
	require.Equal(t, "doc9", sess.DocID())
}
