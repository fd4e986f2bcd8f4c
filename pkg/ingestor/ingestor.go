// Package ingestor wires the Ingestor subsystem (§4.1): it holds the
// Discord gateway session, the broker Publisher and the /healthz server,
// and owns the start-up order the spec requires — the broker topology is
// asserted before the gateway session opens.
package ingestor

import (
	"context"
	"time"

	"github.com/arrakis-platform/gateway-proxy/pkg/errors"
	"github.com/arrakis-platform/gateway-proxy/pkg/logger"
	"github.com/arrakis-platform/gateway-proxy/pkg/messaging"
	"github.com/arrakis-platform/gateway-proxy/pkg/messaging/adapters/rabbitmq"
	"github.com/arrakis-platform/gateway-proxy/pkg/replier"
	"golang.org/x/sync/errgroup"
)

// Config is the Ingestor's complete environment-sourced configuration.
type Config struct {
	DiscordBotToken   string `env:"DISCORD_BOT_TOKEN" validate:"required"`
	RabbitMQURL       string `env:"RABBITMQ_URL" validate:"required"`
	ShardID           int    `env:"SHARD_ID" env-default:"0"`
	ShardCount        int    `env:"SHARD_COUNT" env-default:"1"`
	ExchangeName      string `env:"EXCHANGE_NAME" env-default:"arrakis.events"`
	InteractionQueue  string `env:"INTERACTION_QUEUE" env-default:"arrakis.interactions"`
	EventQueue        string `env:"EVENT_QUEUE" env-default:"arrakis.events.guild"`
	DLXExchange       string `env:"DLX_EXCHANGE" env-default:"arrakis.dlx"`
	DLQQueue          string `env:"DLQ_QUEUE" env-default:"arrakis.dlq"`
	Port              string `env:"PORT" env-default:"8080"`
	MemoryThresholdMB uint64 `env:"MEMORY_THRESHOLD_MB" env-default:"75"`
	ApplicationID     string `env:"DISCORD_APPLICATION_ID" validate:"required"`
}

// Ingestor is the top-level assembly of the gateway session, the publisher
// and the health endpoint.
type Ingestor struct {
	cfg     Config
	broker  messaging.Broker
	pub     *Publisher
	session *Session
	health  *HealthServer
}

// New dials the broker, asserts its topology, and assembles the gateway
// session and health server against it. The gateway connection itself is
// opened later, by Run, so broker readiness is always established first.
// The raw AMQP broker is passed through messaging.NewResilientBroker with a
// zero-valued config, which enables neither its circuit breaker nor its
// retry, and is wrapped with OTel instrumentation before anything else
// touches it.
func New(ctx context.Context, cfg Config) (*Ingestor, error) {
	rawBroker, err := rabbitmq.New(rabbitmq.Config{URL: cfg.RabbitMQURL})
	if err != nil {
		return nil, errors.Wrap(err, "connect to broker")
	}

	topology := rabbitmq.Topology{
		Exchange:    cfg.ExchangeName,
		DLXExchange: cfg.DLXExchange,
		DLQQueue:    cfg.DLQQueue,
		DLQTTL:      7 * 24 * time.Hour,
		Queues: []rabbitmq.QueueBinding{
			{
				Queue:       cfg.InteractionQueue,
				MaxPriority: 10,
				RoutingKeys: []string{
					"interaction.*",
					"interaction.command.*",
					"interaction.button.*",
					"interaction.modal.*",
					"interaction.autocomplete.*",
				},
			},
			{
				Queue:       cfg.EventQueue,
				RoutingKeys: []string{"guild.*", "member.*", "message.*"},
			},
		},
	}
	if err := rawBroker.DeclareTopology(ctx, topology); err != nil {
		return nil, errors.Wrap(err, "declare broker topology")
	}

	var broker messaging.Broker = rawBroker
	broker = messaging.NewResilientBroker(broker, messaging.ResilientBrokerConfig{})
	broker = messaging.NewInstrumentedBroker(broker)

	pub, err := NewPublisher(broker, cfg.ExchangeName)
	if err != nil {
		return nil, err
	}

	rep, err := replier.New(replier.Config{BotToken: cfg.DiscordBotToken, ApplicationID: cfg.ApplicationID})
	if err != nil {
		return nil, err
	}

	session := NewSession(cfg, pub, rep)
	health := NewHealthServer(session, pub, cfg.MemoryThresholdMB)

	return &Ingestor{cfg: cfg, broker: broker, pub: pub, session: session, health: health}, nil
}

// Run opens the gateway session and serves the health endpoint until ctx
// is canceled, tearing both down together.
func (in *Ingestor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return in.session.Run(ctx)
	})
	g.Go(func() error {
		return in.health.Start(ctx, ":"+in.cfg.Port)
	})

	err := g.Wait()
	if closeErr := in.Close(); closeErr != nil {
		logger.L().ErrorContext(ctx, "ingestor shutdown error", "error", closeErr)
	}
	return err
}

// Close releases the publisher and broker connection.
func (in *Ingestor) Close() error {
	pubErr := in.pub.Close()
	if err := in.broker.Close(); err != nil {
		return errors.Wrap(err, "close broker")
	}
	return errors.Wrap(pubErr, "close publisher")
}
