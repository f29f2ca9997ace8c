// Package broker bridges local Document Rooms with the external
// pub/sub bus: it publishes locally accepted edits so every other
// replica can see them, and applies edits published by other replicas
// to local rooms after filtering out the publishing replica's own
// echo.
package broker

import (
	"context"
	"fmt"
	"strings"

	"github.com/docrelay/relay/internal/registry"
	"github.com/docrelay/relay/internal/replica"
	"github.com/docrelay/relay/internal/wire"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const opsPattern = "doc:*:ops"

func channelFor(docID string) string {
	return "doc:" + docID + ":ops"
}

// docIDFromChannel derives the docId from a doc:<docId>:ops channel
// name, the primary source per spec.md §4.4; callers fall back to the
// envelope's own DocID field if this fails.
func docIDFromChannel(channel string) (string, bool) {
	const prefix, suffix = "doc:", ":ops"
	if !strings.HasPrefix(channel, prefix) || !strings.HasSuffix(channel, suffix) {
		return "", false
	}

	return channel[len(prefix) : len(channel)-len(suffix)], true
}

// Broker publishes local ops and applies remote ones.
type Broker struct {
	client   *redis.Client
	self     replica.ID
	registry *registry.Registry
	log      logrus.FieldLogger
}

// New creates a Broker. Call Subscribe to start the single
// process-lifetime subscription described in spec.md §4.4.
func New(client *redis.Client, self replica.ID, reg *registry.Registry, log logrus.FieldLogger) *Broker {
	return &Broker{client: client, self: self, registry: reg, log: log}
}

// Publish serializes and publishes an envelope for a locally accepted
// edit. Publication failure is logged, never fatal: the local fanout
// has already happened, and the snapshot is being persisted, so a
// later reconnecting client elsewhere will reconverge (spec.md §4.4).
func (b *Broker) Publish(ctx context.Context, docID string, serverVersion int, original wire.Message) {
	env, err := wire.NewEnvelope(string(b.self), docID, serverVersion, original)
	if err != nil {
		b.log.WithError(err).WithField("doc_id", docID).Warn("failed to build envelope, dropping publish")

		return
	}

	data, err := env.Encode()
	if err != nil {
		b.log.WithError(err).WithField("doc_id", docID).Warn("failed to encode envelope, dropping publish")

		return
	}

	if err := b.client.Publish(ctx, channelFor(docID), data).Err(); err != nil {
		b.log.WithError(err).WithField("doc_id", docID).Warn("bus publish failed, convergence may be delayed")
	}
}

// Subscribe opens the single process-lifetime PSUBSCRIBE to doc:*:ops
// and processes messages until ctx is cancelled. Run it in its own
// goroutine.
func (b *Broker) Subscribe(ctx context.Context) error {
	pubsub := b.client.PSubscribe(ctx, opsPattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("broker: subscribe to %s: %w", opsPattern, err)
	}

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			b.handleMessage(ctx, msg)
		}
	}
}

func (b *Broker) handleMessage(ctx context.Context, msg *redis.Message) {
	env, err := wire.DecodeEnvelope([]byte(msg.Payload))
	if err != nil {
		b.log.WithError(err).WithField("channel", msg.Channel).Warn("dropping unparseable bus message")

		return
	}

	if env.ServerID == string(b.self) {
		// Our own echo; self-echo suppression (spec.md P3).
		return
	}

	docID, ok := docIDFromChannel(msg.Channel)
	if !ok {
		docID = env.DocID
	}

	inner, err := wire.DecodeClientMessage(env.Payload)
	if err != nil {
		b.log.WithError(err).WithField("doc_id", docID).Warn("dropping bus message with unparseable payload")

		return
	}

	rm, err := b.registry.GetOrLoad(ctx, docID)
	if err != nil {
		b.log.WithError(err).WithField("doc_id", docID).Warn("failed to load room for remote envelope")

		return
	}

	rm.ApplyRemote(inner.Text, env.ServerVersion, wire.EchoEdit(inner, env.ServerID, env.ServerVersion))
}
