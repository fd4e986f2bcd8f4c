// Package memory provides an in-process Broker for tests and local development.
package memory

import (
	"context"
	"sync"

	"github.com/arrakis-platform/gateway-proxy/pkg/messaging"
	"github.com/google/uuid"
)

// Config configures the in-memory broker.
type Config struct {
	// BufferSize is the channel capacity backing each topic.
	BufferSize int
}

// Broker is a channel-backed messaging.Broker with no external dependencies.
type Broker struct {
	cfg Config

	mu     sync.Mutex
	topics map[string]chan *messaging.Message
	closed bool
}

// New creates an in-memory broker.
func New(cfg Config) *Broker {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	return &Broker{cfg: cfg, topics: make(map[string]chan *messaging.Message)}
}

func (b *Broker) topic(name string) chan *messaging.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.topics[name]
	if !ok {
		ch = make(chan *messaging.Message, b.cfg.BufferSize)
		b.topics[name] = ch
	}
	return ch
}

// Producer returns a producer bound to topic.
func (b *Broker) Producer(topic string) (messaging.Producer, error) {
	return &producer{broker: b, topic: topic}, nil
}

// Consumer returns a consumer bound to topic. The group parameter is
// accepted for interface conformance; the in-memory broker has a single
// logical consumer group per topic.
func (b *Broker) Consumer(topic string, group string) (messaging.Consumer, error) {
	return &consumer{broker: b, topic: topic}, nil
}

// Close marks the broker closed. In-flight channels are left for any
// consumers still draining them.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Healthy reports whether the broker is still open (Close not yet called).
func (b *Broker) Healthy(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed
}

type producer struct {
	broker *Broker
	topic  string
}

func (p *producer) Publish(ctx context.Context, msg *messaging.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	topic := p.topic
	if msg.Topic != "" {
		topic = msg.Topic
	}

	ch := p.broker.topic(topic)
	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return messaging.ErrQueueFull(nil)
	}
}

func (p *producer) PublishBatch(ctx context.Context, msgs []*messaging.Message) error {
	for _, m := range msgs {
		if err := p.Publish(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (p *producer) Close() error { return nil }

type consumer struct {
	broker *Broker
	topic  string
}

// Consume reads from the topic's channel until ctx is canceled. A handler
// error other than messaging.ErrDropMessage requeues the message at the
// back of the channel (best-effort, no redelivery cap at this layer).
func (c *consumer) Consume(ctx context.Context, handler messaging.MessageHandler) error {
	ch := c.broker.topic(c.topic)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-ch:
			err := handler(ctx, msg)
			if err != nil && err != messaging.ErrDropMessage {
				msg.Metadata.DeliveryCount++
				select {
				case ch <- msg:
				default:
				}
			}
		}
	}
}

func (c *consumer) Close() error { return nil }
