package ingestor

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/arrakis-platform/gateway-proxy/pkg/envelope"
	"github.com/arrakis-platform/gateway-proxy/pkg/errors"
	"github.com/arrakis-platform/gateway-proxy/pkg/messaging"
	"github.com/arrakis-platform/gateway-proxy/pkg/resilience"
)

// PublishStatus is the Publisher's exposed health snapshot (§4.2).
type PublishStatus struct {
	Connected     bool
	ChannelOpen   bool
	LastPublishMS int64
	PublishCount  int64
	ErrorCount    int64
}

// Publisher wraps a broker Producer with the confirmed-publish, bounded-
// retry and status-tracking contract of §4.2.
type Publisher struct {
	broker   messaging.Broker
	producer messaging.Producer
	exchange string

	mu            sync.RWMutex
	lastPublishMS int64
	publishCount  int64
	errorCount    int64
}

// NewPublisher opens a Producer against exchange.
func NewPublisher(broker messaging.Broker, exchange string) (*Publisher, error) {
	producer, err := broker.Producer(exchange)
	if err != nil {
		return nil, errors.Wrap(err, "open publisher producer")
	}
	return &Publisher{broker: broker, producer: producer, exchange: exchange}, nil
}

// Publish sends env to its routed queue/priority (§4.1 table), confirmed,
// persistent, carrying message_id=event_id and the shardId/guildId headers
// required by §4.2. nonInteraction events get up to 3 attempts in total
// (≤1s of backoff); interaction events are not retried here — the caller (the
// gateway event handler) owns the synchronous error-reply fallback.
func (p *Publisher) Publish(ctx context.Context, env *envelope.Envelope) error {
	route, err := envelope.RouteFor(env.StaticKind())
	if err != nil {
		return err
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return errors.Internal("failed to marshal envelope", err)
	}

	msg := &messaging.Message{
		ID:        env.EventID,
		Topic:     route.Queue,
		Payload:   payload,
		Timestamp: time.UnixMilli(env.Timestamp),
		Headers: map[string]string{
			"shardId":  strconv.Itoa(env.ShardID),
			"guildId":  env.GuildID,
			"priority": strconv.Itoa(int(route.Priority)),
		},
	}

	var publishErr error
	if env.StaticKind().IsInteraction() {
		// Interactions are not retried here: the gateway handler owns the
		// synchronous error-reply fallback and a drop on first failure.
		publishErr = p.producer.Publish(ctx, msg)
	} else {
		retryCfg := resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     400 * time.Millisecond,
			Multiplier:     2,
		}
		publishErr = resilience.Retry(ctx, retryCfg, func(ctx context.Context) error {
			return p.producer.Publish(ctx, msg)
		})
	}

	p.record(publishErr)
	return publishErr
}

func (p *Publisher) record(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		p.publishCount++
		p.lastPublishMS = time.Now().UnixMilli()
	} else {
		p.errorCount++
	}
}

// Status reports the Publisher's health snapshot.
func (p *Publisher) Status() PublishStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PublishStatus{
		Connected:     p.broker.Healthy(context.Background()),
		ChannelOpen:   p.broker.Healthy(context.Background()),
		LastPublishMS: p.lastPublishMS,
		PublishCount:  p.publishCount,
		ErrorCount:    p.errorCount,
	}
}

// Close releases the producer.
func (p *Publisher) Close() error {
	return p.producer.Close()
}
