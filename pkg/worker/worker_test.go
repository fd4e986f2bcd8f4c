package worker_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/arrakis-platform/gateway-proxy/pkg/dispatcher"
	"github.com/arrakis-platform/gateway-proxy/pkg/envelope"
	"github.com/arrakis-platform/gateway-proxy/pkg/handler"
	"github.com/arrakis-platform/gateway-proxy/pkg/messaging"
	memorybroker "github.com/arrakis-platform/gateway-proxy/pkg/messaging/adapters/memory"
	"github.com/arrakis-platform/gateway-proxy/pkg/ratelimiter"
	"github.com/arrakis-platform/gateway-proxy/pkg/replier"
	"github.com/arrakis-platform/gateway-proxy/pkg/statestore/adapters/memory"
	"github.com/arrakis-platform/gateway-proxy/pkg/tenant"
	"github.com/arrakis-platform/gateway-proxy/pkg/worker"
	"github.com/stretchr/testify/require"
)

func newTestConsumer(t *testing.T, queue string, register func(*handler.Registry)) (*worker.Consumer, *memorybroker.Broker, func()) {
	t.Helper()

	store := memory.New()
	mgr, err := tenant.NewManager(context.Background(), tenant.ManagerConfig{}, store)
	require.NoError(t, err)

	registry := handler.NewRegistry()
	register(registry)

	rep := replier.NewMemory()
	limiter := ratelimiter.New(store)
	d := dispatcher.New(mgr, limiter, registry, rep, store)

	broker := memorybroker.New(memorybroker.Config{})
	c := worker.New(worker.Config{}, broker, store, d, queue, "")

	return c, broker, func() {
		mgr.Close()
		store.Close()
	}
}

func publish(t *testing.T, broker *memorybroker.Broker, queue string, env *envelope.Envelope) {
	t.Helper()
	payload, err := json.Marshal(env)
	require.NoError(t, err)

	producer, err := broker.Producer(queue)
	require.NoError(t, err)
	require.NoError(t, producer.Publish(context.Background(), &messaging.Message{
		ID:      env.EventID,
		Topic:   queue,
		Payload: payload,
	}))
}

func TestConsumerAcksOnHandlerSuccess(t *testing.T) {
	const queue = "arrakis.events.guild"

	handled := make(chan struct{}, 1)
	c, broker, cleanup := newTestConsumer(t, queue, func(r *handler.Registry) {
		r.Register("member.join", func(hc handler.Context) (handler.Disposition, error) {
			handled <- struct{}{}
			return handler.Ack, nil
		})
	})
	defer cleanup()

	env, err := envelope.Builder{EventType: "member.join", GuildID: "guild-1", UserID: "user-1"}.Build()
	require.NoError(t, err)
	publish(t, broker, queue, env)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go c.Run(ctx)

	select {
	case <-handled:
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}
}

func TestConsumerDropsMalformedEnvelope(t *testing.T) {
	const queue = "arrakis.events.guild"

	c, broker, cleanup := newTestConsumer(t, queue, func(r *handler.Registry) {})
	defer cleanup()

	producer, err := broker.Producer(queue)
	require.NoError(t, err)
	require.NoError(t, producer.Publish(context.Background(), &messaging.Message{
		ID:      "bad-1",
		Topic:   queue,
		Payload: []byte("not json"),
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err = c.Run(ctx)
	require.NoError(t, err)
}

func TestConsumerSkipsAlreadyIdempotentEvent(t *testing.T) {
	const queue = "arrakis.events.guild"

	var invocations int
	c, broker, cleanup := newTestConsumer(t, queue, func(r *handler.Registry) {
		r.Register("member.join", func(hc handler.Context) (handler.Disposition, error) {
			invocations++
			return handler.Ack, nil
		})
	})
	defer cleanup()

	env, err := envelope.Builder{EventType: "member.join", GuildID: "guild-1", UserID: "user-1"}.Build()
	require.NoError(t, err)

	// Publish the same envelope twice; only the first delivery should reach
	// the handler.
	publish(t, broker, queue, env)
	publish(t, broker, queue, env)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	c.Run(ctx)

	require.Equal(t, 1, invocations)
}
