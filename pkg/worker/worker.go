// Package worker implements the Consumer of §4.3: binds to the broker's
// primary queues, decodes each delivery into an envelope, enforces
// idempotency against the State Store, delegates to the Dispatcher, and
// translates the result into an ack/nack/DLQ disposition.
package worker

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/arrakis-platform/gateway-proxy/pkg/communication/chat"
	"github.com/arrakis-platform/gateway-proxy/pkg/dispatcher"
	"github.com/arrakis-platform/gateway-proxy/pkg/envelope"
	"github.com/arrakis-platform/gateway-proxy/pkg/errors"
	"github.com/arrakis-platform/gateway-proxy/pkg/handler"
	"github.com/arrakis-platform/gateway-proxy/pkg/logger"
	"github.com/arrakis-platform/gateway-proxy/pkg/messaging"
	"github.com/arrakis-platform/gateway-proxy/pkg/statestore"
)

// Config controls the Consumer's retry cap and shutdown drain. Prefetch is
// not passed to the broker: the rabbitmq adapter's consumers use a fixed
// prefetch of 10.
type Config struct {
	Prefetch        int           `env:"WORKER_PREFETCH" env-default:"10"`
	MaxRedeliveries int           `env:"WORKER_MAX_REDELIVERIES" env-default:"5"`
	DrainDeadline   time.Duration `env:"WORKER_DRAIN_DEADLINE" env-default:"30s"`
	IdempotencyTTL  time.Duration `env:"WORKER_IDEMPOTENCY_TTL" env-default:"168h"`
	ClaimTTL        time.Duration `env:"WORKER_CLAIM_TTL" env-default:"30s"`
}

func (c Config) withDefaults() Config {
	if c.Prefetch <= 0 {
		c.Prefetch = 10
	}
	if c.MaxRedeliveries <= 0 {
		c.MaxRedeliveries = 5
	}
	if c.DrainDeadline <= 0 {
		c.DrainDeadline = 30 * time.Second
	}
	if c.IdempotencyTTL <= 0 {
		c.IdempotencyTTL = 7 * 24 * time.Hour
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 30 * time.Second
	}
	return c
}

// Consumer binds to one broker queue and runs the §4.3 per-delivery
// pipeline against a shared Dispatcher.
type Consumer struct {
	cfg        Config
	broker     messaging.Broker
	store      statestore.Store
	dispatcher *dispatcher.Dispatcher
	queue      string
	group      string

	alerts       chat.Sender
	alertChannel string

	wg sync.WaitGroup
}

// New builds a Consumer bound to queue.
func New(cfg Config, broker messaging.Broker, store statestore.Store, d *dispatcher.Dispatcher, queue, group string) *Consumer {
	return &Consumer{
		cfg:        cfg.withDefaults(),
		broker:     broker,
		store:      store,
		dispatcher: d,
		queue:      queue,
		group:      group,
	}
}

// WithOpsAlerts routes DLQ-bound deliveries to an ops channel through
// sender, in addition to the structured log already emitted for them.
func (c *Consumer) WithOpsAlerts(sender chat.Sender, channelID string) *Consumer {
	c.alerts = sender
	c.alertChannel = channelID
	return c
}

// Run opens the queue's consumer and blocks until ctx is canceled,
// draining in-flight handlers up to cfg.DrainDeadline before returning.
func (c *Consumer) Run(ctx context.Context) error {
	consumer, err := c.broker.Consumer(c.queue, c.group)
	if err != nil {
		return errors.Wrap(err, "open consumer for "+c.queue)
	}
	defer consumer.Close()

	err = consumer.Consume(ctx, c.handle)

	drained := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(c.cfg.DrainDeadline):
		logger.L().WarnContext(ctx, "drain deadline reached with handlers still in flight", "queue", c.queue)
	}

	if err == context.Canceled || err == context.DeadlineExceeded {
		return nil
	}
	return err
}

// handle runs the §4.3 pipeline for one delivery. Its return value is the
// error messaging.Consumer's ack/nack switch dispatches on: nil acks,
// messaging.ErrDropMessage nacks-without-requeue, anything else nacks
// with requeue.
func (c *Consumer) handle(ctx context.Context, msg *messaging.Message) error {
	c.wg.Add(1)
	defer c.wg.Done()

	var env envelope.Envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		logger.L().ErrorContext(ctx, "malformed envelope, dropping", "error", err, "message_id", msg.ID)
		return messaging.ErrDropMessage
	}
	if err := env.Validate(); err != nil {
		logger.L().ErrorContext(ctx, "invalid envelope, dropping", "error", err, "event_id", env.EventID)
		return messaging.ErrDropMessage
	}

	// SetNX atomically claims the event_id: a concurrent duplicate delivery
	// (two worker-pool slots racing a redelivery, or a second consumer
	// replica) sees claimed=false and acks without reprocessing. A plain
	// Get-then-Set has a window between the two calls where both deliveries
	// would observe "not yet processed" and both dispatch.
	idempotencyKey := "idempotency:" + env.EventID
	claimed, err := c.store.SetNX(ctx, idempotencyKey, true, c.cfg.ClaimTTL)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	disposition, dispatchErr := c.dispatcher.Dispatch(ctx, &env)

	switch disposition {
	case handler.Ack:
		if err := c.store.Set(ctx, idempotencyKey, true, c.cfg.IdempotencyTTL); err != nil {
			logger.L().ErrorContext(ctx, "failed to extend idempotency marker", "error", err, "event_id", env.EventID)
		}
		return nil

	case handler.Drop:
		// A no-op event: ack without extending the idempotency marker, and
		// let the short-lived claim set above expire on its own.
		return nil

	case handler.Abandon:
		return messaging.ErrDropMessage

	default: // handler.Retry
		// Release the claim so a requeue (or the crash-recovery redelivery
		// that prompted it) is free to dispatch again instead of silently
		// no-oping until ClaimTTL expires.
		if err := c.store.Delete(ctx, idempotencyKey); err != nil {
			logger.L().WarnContext(ctx, "failed to release idempotency claim", "error", err, "event_id", env.EventID)
		}
		if c.exceedsRedeliveryCap(msg) {
			logger.L().ErrorContext(ctx, "exceeded redelivery cap, routing to dlq", "event_id", env.EventID)
			c.notifyDLQ(ctx, &env)
			return messaging.ErrDropMessage
		}
		if dispatchErr != nil {
			return dispatchErr
		}
		return errors.Internal("handler requested retry", nil)
	}
}

func (c *Consumer) notifyDLQ(ctx context.Context, env *envelope.Envelope) {
	if c.alerts == nil {
		return
	}
	err := c.alerts.Send(ctx, &chat.Message{
		ChannelID: c.alertChannel,
		Text:      "event " + env.EventID + " (" + env.EventType + ") exceeded its redelivery cap and was routed to the DLQ",
	})
	if err != nil {
		logger.L().WarnContext(ctx, "failed to send dlq ops alert", "error", err, "event_id", env.EventID)
	}
}

func (c *Consumer) exceedsRedeliveryCap(msg *messaging.Message) bool {
	count := msg.Metadata.DeliveryCount
	if raw, ok := msg.Headers[messaging.RedeliveryCountHeader]; ok {
		if parsed, err := strconv.Atoi(raw); err == nil {
			count = parsed
		}
	}
	return count >= c.cfg.MaxRedeliveries
}
