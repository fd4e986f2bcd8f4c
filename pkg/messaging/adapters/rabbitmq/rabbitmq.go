// Package rabbitmq adapts github.com/rabbitmq/amqp091-go to the
// pkg/messaging Broker/Producer/Consumer interfaces, with confirm-mode
// publish and explicit topology assertion.
package rabbitmq

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/arrakis-platform/gateway-proxy/pkg/concurrency"
	"github.com/arrakis-platform/gateway-proxy/pkg/errors"
	"github.com/arrakis-platform/gateway-proxy/pkg/logger"
	"github.com/arrakis-platform/gateway-proxy/pkg/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Config configures the RabbitMQ connection.
type Config struct {
	URL                  string        `env:"RABBITMQ_URL" validate:"required"`
	ReconnectBackoffBase time.Duration `env:"RABBITMQ_RECONNECT_BASE" env-default:"5s"`
	ReconnectBackoffMax  time.Duration `env:"RABBITMQ_RECONNECT_MAX" env-default:"60s"`
	MaxReconnectAttempts int           `env:"RABBITMQ_RECONNECT_ATTEMPTS" env-default:"10"`
}

// Broker owns a single AMQP connection and confirm-mode channel.
type Broker struct {
	cfg Config

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

// New dials RabbitMQ and opens a confirm-mode channel.
func New(cfg Config) (*Broker, error) {
	b := &Broker{cfg: cfg}
	if err := b.connect(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Broker) connect() error {
	conn, err := amqp.Dial(b.cfg.URL)
	if err != nil {
		return messaging.ErrConnectionFailed(err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return messaging.ErrConnectionFailed(err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return messaging.ErrConnectionFailed(err)
	}

	b.mu.Lock()
	b.conn = conn
	b.channel = ch
	b.mu.Unlock()

	return nil
}

// reconnect retries connect with exponential backoff (doubling, capped at
// ReconnectBackoffMax, no jitter), honoring a hard attempt cap; returns the
// last error if the budget is exhausted.
func (b *Broker) reconnect(ctx context.Context) error {
	backoff := b.cfg.ReconnectBackoffBase
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	maxBackoff := b.cfg.ReconnectBackoffMax
	if maxBackoff <= 0 {
		maxBackoff = 60 * time.Second
	}
	attempts := b.cfg.MaxReconnectAttempts
	if attempts <= 0 {
		attempts = 10
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := b.connect(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	return lastErr
}

// Topology declares the exchanges, queues, bindings and dead-letter routing
// an Ingestor needs before it opens the gateway session.
type Topology struct {
	Exchange    string
	DLXExchange string
	DLQQueue    string
	DLQTTL      time.Duration
	Queues      []QueueBinding
}

// QueueBinding describes one durable queue bound to Exchange by one or more
// routing-key patterns.
type QueueBinding struct {
	Queue       string
	MaxPriority uint8 // 0 means no priority feature
	RoutingKeys []string
}

// DeclareTopology asserts exchanges/queues/bindings idempotently. Safe to
// call on every start-up.
func (b *Broker) DeclareTopology(ctx context.Context, top Topology) error {
	b.mu.RLock()
	ch := b.channel
	b.mu.RUnlock()

	if err := ch.ExchangeDeclare(top.Exchange, "topic", true, false, false, false, nil); err != nil {
		return errors.Wrap(err, "declare exchange")
	}

	if top.DLXExchange != "" {
		if err := ch.ExchangeDeclare(top.DLXExchange, "fanout", true, false, false, false, nil); err != nil {
			return errors.Wrap(err, "declare dlx exchange")
		}

		dlqArgs := amqp.Table{}
		if top.DLQTTL > 0 {
			dlqArgs["x-message-ttl"] = top.DLQTTL.Milliseconds()
		}
		if _, err := ch.QueueDeclare(top.DLQQueue, true, false, false, false, dlqArgs); err != nil {
			return errors.Wrap(err, "declare dlq")
		}
		if err := ch.QueueBind(top.DLQQueue, "", top.DLXExchange, false, nil); err != nil {
			return errors.Wrap(err, "bind dlq")
		}
	}

	for _, qb := range top.Queues {
		args := amqp.Table{}
		if top.DLXExchange != "" {
			args["x-dead-letter-exchange"] = top.DLXExchange
		}
		if qb.MaxPriority > 0 {
			args["x-max-priority"] = qb.MaxPriority
		}

		if _, err := ch.QueueDeclare(qb.Queue, true, false, false, false, args); err != nil {
			return errors.Wrap(err, "declare queue "+qb.Queue)
		}

		for _, key := range qb.RoutingKeys {
			if err := ch.QueueBind(qb.Queue, key, top.Exchange, false, nil); err != nil {
				return errors.Wrap(err, "bind queue "+qb.Queue)
			}
		}
	}

	return nil
}

// Producer returns a confirm-mode producer publishing to the given exchange.
func (b *Broker) Producer(exchange string) (messaging.Producer, error) {
	return &producer{broker: b, exchange: exchange}, nil
}

// Consumer binds to the named queue with a fixed prefetch of 10. group is
// accepted for interface conformance; AMQP queues already fan out across
// concurrent consumers without a group concept.
func (b *Broker) Consumer(queue string, group string) (messaging.Consumer, error) {
	return &consumer{broker: b, queue: queue, prefetch: 10}, nil
}

// Close shuts down the channel and connection.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	if b.channel != nil {
		b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

// Healthy reports whether the broker is open and its connection is up; the
// channel's state is not checked.
func (b *Broker) Healthy(ctx context.Context) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed && b.conn != nil && !b.conn.IsClosed()
}

type producer struct {
	broker   *Broker
	exchange string
}

// Publish is confirmed: it blocks until the broker acknowledges durability,
// per the Publisher's contract. Priority is read from msg.Headers["priority"].
func (p *producer) Publish(ctx context.Context, msg *messaging.Message) error {
	p.broker.mu.RLock()
	ch := p.broker.channel
	p.broker.mu.RUnlock()

	if ch == nil {
		return messaging.ErrConnectionFailed(nil)
	}

	routingKey := msg.Topic

	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}

	var priority uint8
	if raw, ok := msg.Headers["priority"]; ok {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 && parsed <= 255 {
			priority = uint8(parsed)
		}
	}

	timestamp := msg.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	confirmation, err := ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		Headers:      headers,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Priority:     priority,
		MessageId:    msg.ID,
		Timestamp:    timestamp,
		Body:         msg.Payload,
	})
	if err != nil {
		return messaging.ErrPublishFailed(err)
	}

	ok, err := confirmation.WaitContext(ctx)
	if err != nil {
		return messaging.ErrPublishFailed(err)
	}
	if !ok {
		return messaging.ErrPublishFailed(nil)
	}

	return nil
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
	broker   *Broker
	queue    string
	prefetch int
}

// Consume binds with QoS prefetch and drains deliveries until ctx is
// canceled. Handler dispositions:
//   - nil: ack
//   - messaging.ErrDropMessage: nack without requeue (routes to DLQ)
//   - any other error: republished with a bumped redelivery-count header,
//     then acked, so the count survives the requeue cycle (AMQP's own
//     Redelivered flag is a single bool, not a counter, and a nack-requeue
//     gives no way to rewrite headers on the in-flight delivery)
func (c *consumer) Consume(ctx context.Context, handler messaging.MessageHandler) error {
	c.broker.mu.RLock()
	ch := c.broker.channel
	c.broker.mu.RUnlock()

	if ch == nil {
		return messaging.ErrConnectionFailed(nil)
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return errors.Wrap(err, "set qos")
	}

	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return messaging.ErrConsumeFailed(err)
	}

	// Qos(prefetch) only bounds how many unacked deliveries the broker will
	// buffer to this channel; without a bounded worker pool here, this loop
	// would still process them one at a time. Sizing the pool to prefetch
	// makes "prefetch" actually mean concurrent in-flight handlers.
	pool := concurrency.NewWorkerPool(c.prefetch, c.prefetch)
	pool.Start(ctx)
	defer pool.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return messaging.ErrConsumeFailed(nil)
			}

			msg := deliveryToMessage(d)
			pool.Submit(func(taskCtx context.Context) {
				err := handler(taskCtx, msg)

				switch {
				case err == nil:
					if ackErr := d.Ack(false); ackErr != nil {
						logger.L().ErrorContext(taskCtx, "ack failed", "error", ackErr)
					}
				case err == messaging.ErrDropMessage:
					if nackErr := d.Nack(false, false); nackErr != nil {
						logger.L().ErrorContext(taskCtx, "nack (drop) failed", "error", nackErr)
					}
				default:
					if requeueErr := c.requeueWithBumpedCount(taskCtx, d, msg); requeueErr != nil {
						logger.L().ErrorContext(taskCtx, "requeue republish failed, falling back to in-place nack", "error", requeueErr)
						if nackErr := d.Nack(false, true); nackErr != nil {
							logger.L().ErrorContext(taskCtx, "nack (requeue) failed", "error", nackErr)
						}
					}
				}
			})
		}
	}
}

// requeueWithBumpedCount republishes d directly to its own queue (the
// default exchange routes by queue name) with messaging.RedeliveryCountHeader
// incremented, then acks the original delivery. The publish is
// confirm-mode, so the original is only acked once the bumped copy is
// durably enqueued; a publish failure leaves the original delivery
// untouched for the caller to nack-requeue in place instead.
func (c *consumer) requeueWithBumpedCount(ctx context.Context, d amqp.Delivery, msg *messaging.Message) error {
	c.broker.mu.RLock()
	ch := c.broker.channel
	c.broker.mu.RUnlock()

	if ch == nil {
		return messaging.ErrConnectionFailed(nil)
	}

	count := msg.Metadata.DeliveryCount
	if raw, ok := msg.Headers[messaging.RedeliveryCountHeader]; ok {
		if parsed, err := strconv.Atoi(raw); err == nil {
			count = parsed
		}
	}
	count++

	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[messaging.RedeliveryCountHeader] = strconv.Itoa(count)

	confirmation, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", c.queue, false, false, amqp.Publishing{
		Headers:      headers,
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		Priority:     d.Priority,
		MessageId:    d.MessageId,
		Timestamp:    d.Timestamp,
		Body:         d.Body,
	})
	if err != nil {
		return messaging.ErrPublishFailed(err)
	}

	ok, err := confirmation.WaitContext(ctx)
	if err != nil {
		return messaging.ErrPublishFailed(err)
	}
	if !ok {
		return messaging.ErrPublishFailed(nil)
	}

	return d.Ack(false)
}

func deliveryToMessage(d amqp.Delivery) *messaging.Message {
	headers := make(map[string]string, len(d.Headers))
	for k, v := range d.Headers {
		if s, ok := v.(string); ok {
			headers[k] = s
		}
	}

	deliveryCount := 0
	if d.Redelivered {
		deliveryCount = 1
	}

	return &messaging.Message{
		ID:        d.MessageId,
		Topic:     d.RoutingKey,
		Payload:   d.Body,
		Headers:   headers,
		Timestamp: d.Timestamp,
		Metadata: messaging.MessageMetadata{
			DeliveryCount: deliveryCount,
			Raw:           d,
		},
	}
}

func (c *consumer) Close() error { return nil }
