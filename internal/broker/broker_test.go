package broker_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/docrelay/relay/internal/broker"
	"github.com/docrelay/relay/internal/registry"
	"github.com/docrelay/relay/internal/replica"
	"github.com/docrelay/relay/internal/snapshotstore"
	"github.com/docrelay/relay/internal/wire"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type noopPersister struct{}

func (noopPersister) Enqueue(string, snapshotstore.Record) {}

func newTestBroker(t *testing.T, self replica.ID) (*broker.Broker, *registry.Registry, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	reg := registry.New(snapshotstore.NewMemoryStore(), noopPersister{}, logrus.New())
	b := broker.New(client, self, reg, logrus.New())

	return b, reg, client
}

func TestBroker_AppliesRemoteEnvelope(t *testing.T) {
	t.Parallel()

	b, reg, client := newTestBroker(t, "R2")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = b.Subscribe(ctx) }()

	// Give the subscriber a moment to establish before publishing.
	time.Sleep(50 * time.Millisecond)

	edit, err := wire.DecodeClientMessage([]byte(`{"type":"edit","opId":"o1","docId":"d3","text":"hello","version":1}`))
	require.NoError(t, err)

	env, err := wire.NewEnvelope("R1", "d3", 1, edit)
	require.NoError(t, err)

	data, err := env.Encode()
	require.NoError(t, err)

	require.NoError(t, client.Publish(ctx, "doc:d3:ops", data).Err())

	require.Eventually(t, func() bool {
		rm := reg.Lookup("d3")
		if rm == nil {
			return false
		}

		text, version := rm.State()

		return text == "hello" && version == 1
	}, time.Second, 10*time.Millisecond)
}

func TestBroker_SuppressesSelfEcho(t *testing.T) {
	t.Parallel()

	b, reg, client := newTestBroker(t, "R1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = b.Subscribe(ctx) }()

	time.Sleep(50 * time.Millisecond)

	edit, err := wire.DecodeClientMessage([]byte(`{"type":"edit","docId":"d9","text":"mine","version":1}`))
	require.NoError(t, err)

	env, err := wire.NewEnvelope("R1", "d9", 1, edit)
	require.NoError(t, err)

	data, err := env.Encode()
	require.NoError(t, err)

	require.NoError(t, client.Publish(ctx, "doc:d9:ops", data).Err())

	// Give it time to (not) apply, then assert the room was never
	// created by our own echo.
	time.Sleep(150 * time.Millisecond)
	require.Nil(t, reg.Lookup("d9"))
}

func TestBroker_Publish_UsesDocChannel(t *testing.T) {
	t.Parallel()

	b, _, client := newTestBroker(t, "R1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := client.PSubscribe(ctx, "doc:*:ops")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	ch := sub.Channel()

	edit, err := wire.DecodeClientMessage([]byte(`{"type":"edit","docId":"d7","text":"x","version":1}`))
	require.NoError(t, err)

	b.Publish(ctx, "d7", 1, edit)

	select {
	case msg := <-ch:
		require.Equal(t, "doc:d7:ops", msg.Channel)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for publish")
	}
}
