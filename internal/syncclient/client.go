// Package syncclient implements the Client Sync Loop described in
// spec.md §4.7: the other half of the wire protocol, responsible for
// connection lifecycle, debounced outbound edits, snapshot-on-open,
// reconnect with backoff, and the pending-op queue that survives a
// disconnect.
package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/docrelay/relay/internal/wire"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const defaultPingInterval = 15 * time.Second

// RemoteApplier is notified whenever the local buffer changes because
// of a server-originated frame (snapshot or an accepted remote edit).
// Optional; a nil value is a no-op.
type RemoteApplier func(text string)

// Client drives one document's connection to the relay. One socket at
// a time: a new Client must be constructed to point at a different
// docId, per spec.md §4.7 ("Lifecycle ownership").
type Client struct {
	docID  string
	url    string
	dialer *websocket.Dialer
	log    logrus.FieldLogger

	debounce     time.Duration
	pingInterval time.Duration
	onRemote     RemoteApplier

	st *state

	wmu  sync.Mutex
	conn *websocket.Conn

	dmu        sync.Mutex
	debounceAt *time.Timer
}

// Option customizes a Client constructed via New.
type Option func(*Client)

// WithDebounce overrides the 300ms default outbound debounce window.
func WithDebounce(d time.Duration) Option {
	return func(c *Client) { c.debounce = d }
}

// WithPingInterval overrides the default liveness ping cadence.
func WithPingInterval(d time.Duration) Option {
	return func(c *Client) { c.pingInterval = d }
}

// WithDialer overrides the gorilla dialer, e.g. for TLS config in
// tests.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithRemoteApplier registers a callback fired whenever the buffer is
// replaced by a server frame, so a caller (editor UI, test) can
// observe convergence.
func WithRemoteApplier(fn RemoteApplier) Option {
	return func(c *Client) { c.onRemote = fn }
}

// New constructs a Client that will connect to url (already carrying
// ?docId=<urlencoded>, per spec.md §4.7) when Run is called.
func New(docID, url string, log logrus.FieldLogger, opts ...Option) *Client {
	c := &Client{
		docID:        docID,
		url:          url,
		dialer:       websocket.DefaultDialer,
		log:          log,
		debounce:     300 * time.Millisecond,
		pingInterval: defaultPingInterval,
		st:           newState(docID),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Snapshot returns the current local buffer and known server version.
func (c *Client) Snapshot() (string, int) {
	return c.st.snapshot()
}

// Edit registers a local buffer change and schedules the debounced
// outbound send. Safe to call from any goroutine.
func (c *Client) Edit(text string) {
	c.dmu.Lock()
	defer c.dmu.Unlock()

	if c.debounceAt != nil {
		c.debounceAt.Stop()
	}

	c.debounceAt = time.AfterFunc(c.debounce, func() {
		msg := c.st.enqueueEdit(text)
		c.send(msg)
	})
}

// Run owns the connection for as long as ctx is alive: dial, handshake,
// read until the socket drops, then reconnect with backoff. It returns
// when ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			c.log.WithError(err).WithField("doc_id", c.docID).Warn("dial failed, backing off")

			if !sleepBackoff(ctx, nextBackoff(attempt)) {
				return ctx.Err()
			}

			attempt++

			continue
		}

		attempt = 0
		c.setConn(conn)

		if err := c.sendSnapshotRequest(); err != nil {
			c.log.WithError(err).Warn("failed to request initial snapshot")
		}

		stop := make(chan struct{})
		go c.pingLoop(ctx, stop)

		readErr := c.readLoop(conn)
		close(stop)
		c.clearConn()
		_ = conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.log.WithError(readErr).WithField("doc_id", c.docID).Warn("connection lost, reconnecting")
	}
}

func sleepBackoff(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.conn = conn
}

func (c *Client) clearConn() {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.conn = nil
}

func (c *Client) send(msg wire.Message) {
	data, err := msg.Encode()
	if err != nil {
		c.log.WithError(err).Warn("failed to encode outbound frame")

		return
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.conn == nil {
		// Not connected; the frame stays in the pending queue (if it's
		// an edit) and is replayed on the next successful reconnect.
		return
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.log.WithError(err).Warn("write failed")
	}
}

func (c *Client) sendSnapshotRequest() error {
	c.wmu.Lock()
	conn := c.conn
	c.wmu.Unlock()

	if conn == nil {
		return errors.New("syncclient: no active connection")
	}

	data, err := wire.Message{Type: wire.TypeSnapshotRequest, DocID: c.docID}.Encode()
	if err != nil {
		return fmt.Errorf("syncclient: encode snapshot_request: %w", err)
	}

	c.wmu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.wmu.Unlock()

	return err
}

func (c *Client) replayPending() {
	for _, msg := range c.st.pendingOps() {
		c.send(msg)
	}
}

func (c *Client) pingLoop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			c.send(wire.Message{Type: wire.TypePing, TS: time.Now().UnixMilli()})
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg wire.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.WithError(err).Warn("dropping unparseable server frame")

			continue
		}

		c.handleInbound(msg)
	}
}

func (c *Client) handleInbound(msg wire.Message) {
	switch msg.Type {
	case wire.TypeSnapshot:
		c.st.applySnapshot(msg.Text, msg.IncomingVersion())

		if c.onRemote != nil {
			c.onRemote(msg.Text)
		}

		c.replayPending()
	case wire.TypePong:
		// Liveness only; nothing to do.
	default:
		if applied := c.st.applyInbound(msg); applied && c.onRemote != nil {
			text, _ := c.st.snapshot()
			c.onRemote(text)
		}
	}
}
