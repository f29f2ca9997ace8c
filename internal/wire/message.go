// Package wire defines the JSON message schema exchanged over the
// WebSocket transport and the envelope shape published on the
// cross-replica pub/sub bus.
package wire

import "encoding/json"

// Message types, client- and server-originated.
const (
	TypeEdit            = "edit"
	TypeOp              = "op"
	TypePing            = "ping"
	TypePong            = "pong"
	TypeSnapshotRequest = "snapshot_request"
	TypeSnapshot        = "snapshot"
)

// Message is the envelope for all WebSocket traffic. Unknown fields are
// ignored on decode; unknown Type values are rebroadcast verbatim to
// local sessions, so Raw retains the exact bytes the client sent.
type Message struct {
	Type          string `json:"type"`
	OpID          string `json:"opId,omitempty"`
	DocID         string `json:"docId,omitempty"`
	Text          string `json:"text,omitempty"`
	Version       *int   `json:"version,omitempty"`
	Sequence      *int   `json:"sequence,omitempty"`
	Timestamp     int64  `json:"timestamp,omitempty"`
	ReqID         string `json:"reqId,omitempty"`
	TS            int64  `json:"ts,omitempty"`
	ServerID      string `json:"serverId,omitempty"`
	ServerVersion *int   `json:"serverVersion,omitempty"`

	// Raw holds the exact bytes this message was decoded from, so
	// unrecognized types can be rebroadcast without reserialization
	// dropping or reordering fields the kernel doesn't know about.
	Raw json.RawMessage `json:"-"`
}

// DecodeClientMessage parses a text frame sent by a client. A missing
// "type" field defaults to "op" per the wire protocol.
func DecodeClientMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, err
	}

	if msg.Type == "" {
		msg.Type = TypeOp
	}

	msg.Raw = append(json.RawMessage(nil), data...)

	return msg, nil
}

// Encode serializes the message for writing to a socket. A message
// that still carries Raw (one decoded from a client and not rebuilt
// since) is written as those exact bytes.
func (m Message) Encode() ([]byte, error) {
	if m.Raw != nil {
		return m.Raw, nil
	}

	return json.Marshal(m)
}

// IsEdit reports whether the message carries a client edit.
func (m Message) IsEdit() bool {
	return m.Type == TypeEdit || m.Type == TypeOp
}

// IncomingVersion returns the client's claimed next version, or -1 if
// the client omitted it.
func (m Message) IncomingVersion() int {
	if m.Version == nil {
		return -1
	}

	return *m.Version
}

// Snapshot builds the S->C "snapshot" frame.
func Snapshot(docID, text string, version int, serverID string) Message {
	v := version

	return Message{
		Type:     TypeSnapshot,
		DocID:    docID,
		Text:     text,
		Version:  &v,
		ServerID: serverID,
	}
}

// Pong builds the S->C "pong" frame echoing the client's ping.
func Pong(serverID string, timestamp int64) Message {
	return Message{
		Type:      TypePong,
		ServerID:  serverID,
		Timestamp: timestamp,
	}
}

// EchoEdit builds the S->C echo of an accepted edit, stamped with the
// assigned server version and originating replica.
func EchoEdit(original Message, serverID string, serverVersion int) Message {
	out := original
	out.ServerID = serverID
	sv := serverVersion
	out.ServerVersion = &sv
	out.Raw = nil

	return out
}

// Envelope is the payload published on doc:<docId>:ops and consumed by
// every other replica's Relay Broker.
type Envelope struct {
	ServerID      string          `json:"serverId"`
	DocID         string          `json:"docId"`
	Type          string          `json:"type"`
	ServerVersion int             `json:"serverVersion"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps an accepted local edit for publication on the bus.
func NewEnvelope(serverID, docID string, serverVersion int, original Message) (Envelope, error) {
	payload := original.Raw
	if payload == nil {
		var err error

		payload, err = original.Encode()
		if err != nil {
			return Envelope{}, err
		}
	}

	return Envelope{
		ServerID:      serverID,
		DocID:         docID,
		Type:          TypeOp,
		ServerVersion: serverVersion,
		Payload:       payload,
	}, nil
}

// Encode serializes the envelope for publication.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses a bus payload.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}

	return env, nil
}
