package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/arrakis-platform/gateway-proxy/pkg/messaging"
	"github.com/arrakis-platform/gateway-proxy/pkg/messaging/adapters/memory"
	"github.com/stretchr/testify/require"
)

func TestPublishThenConsume(t *testing.T) {
	broker := memory.New(memory.Config{BufferSize: 10})
	defer broker.Close()

	producer, err := broker.Producer("events.guild")
	require.NoError(t, err)

	consumer, err := broker.Consumer("events.guild", "workers")
	require.NoError(t, err)

	require.NoError(t, producer.Publish(context.Background(), &messaging.Message{
		Topic:   "events.guild",
		Payload: []byte(`{"event_type":"member.join"}`),
	}))

	received := make(chan *messaging.Message, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go consumer.Consume(ctx, func(ctx context.Context, msg *messaging.Message) error {
		received <- msg
		return nil
	})

	select {
	case msg := <-received:
		require.Equal(t, `{"event_type":"member.join"}`, string(msg.Payload))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestPublishFailsWhenBufferFull(t *testing.T) {
	broker := memory.New(memory.Config{BufferSize: 1})
	defer broker.Close()

	producer, err := broker.Producer("full-topic")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, producer.Publish(ctx, &messaging.Message{Topic: "full-topic", Payload: []byte("a")}))
	require.Error(t, producer.Publish(ctx, &messaging.Message{Topic: "full-topic", Payload: []byte("b")}))
}

func TestHandlerErrorRequeues(t *testing.T) {
	broker := memory.New(memory.Config{BufferSize: 10})
	defer broker.Close()

	producer, _ := broker.Producer("retry-topic")
	consumer, _ := broker.Consumer("retry-topic", "workers")

	require.NoError(t, producer.Publish(context.Background(), &messaging.Message{
		Topic: "retry-topic", Payload: []byte("x"),
	}))

	var attempts int
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_ = consumer.Consume(ctx, func(ctx context.Context, msg *messaging.Message) error {
		attempts++
		if attempts < 2 {
			return assertErr
		}
		return messaging.ErrDropMessage
	})

	require.GreaterOrEqual(t, attempts, 2)
}

var assertErr = messaging.ErrConsumeFailed(nil)
