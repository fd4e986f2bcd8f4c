// Command worker runs the consumer pool: it binds to the broker's
// interaction and guild-event queues and dispatches each envelope through
// the Handler Registry.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/arrakis-platform/gateway-proxy/internal/handlers"
	"github.com/arrakis-platform/gateway-proxy/pkg/communication/chat"
	chatdiscord "github.com/arrakis-platform/gateway-proxy/pkg/communication/chat/adapters/discord"
	"github.com/arrakis-platform/gateway-proxy/pkg/config"
	"github.com/arrakis-platform/gateway-proxy/pkg/dispatcher"
	"github.com/arrakis-platform/gateway-proxy/pkg/handler"
	"github.com/arrakis-platform/gateway-proxy/pkg/logger"
	"github.com/arrakis-platform/gateway-proxy/pkg/messaging"
	"github.com/arrakis-platform/gateway-proxy/pkg/messaging/adapters/rabbitmq"
	"github.com/arrakis-platform/gateway-proxy/pkg/ratelimiter"
	"github.com/arrakis-platform/gateway-proxy/pkg/replier"
	"github.com/arrakis-platform/gateway-proxy/pkg/statestore"
	redisstore "github.com/arrakis-platform/gateway-proxy/pkg/statestore/adapters/redis"
	"github.com/arrakis-platform/gateway-proxy/pkg/telemetry"
	"github.com/arrakis-platform/gateway-proxy/pkg/tenant"
	"github.com/arrakis-platform/gateway-proxy/pkg/worker"
	"golang.org/x/sync/errgroup"
)

// appConfig is the Worker's complete environment-sourced configuration.
type appConfig struct {
	RabbitMQURL       string `env:"RABBITMQ_URL" validate:"required"`
	ExchangeName      string `env:"EXCHANGE_NAME" env-default:"arrakis.events"`
	InteractionQueue  string `env:"INTERACTION_QUEUE" env-default:"arrakis.interactions"`
	EventQueue        string `env:"EVENT_QUEUE" env-default:"arrakis.events.guild"`
	ConsumerGroup     string `env:"CONSUMER_GROUP" env-default:"arrakis-worker"`
	DiscordBotToken   string `env:"DISCORD_BOT_TOKEN" validate:"required"`
	DiscordAppID      string `env:"DISCORD_APPLICATION_ID" validate:"required"`
	StateStoreDriver  string `env:"STATESTORE_DRIVER" env-default:"redis"`
	RedisURL          string `env:"REDIS_URL" validate:"required"`
	WorkerPrefetch    int    `env:"WORKER_PREFETCH" env-default:"10"`
	WorkerMaxRedelivs int    `env:"WORKER_MAX_REDELIVERIES" env-default:"5"`
	OpsAlertChannelID string `env:"OPS_ALERT_CHANNEL_ID"`
}

func main() {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		panic(err)
	}

	var lcfg logger.Config
	if err := config.Load(&lcfg); err != nil {
		panic(err)
	}
	logger.Init(lcfg)

	var tcfg telemetry.Config
	if err := config.Load(&tcfg); err != nil {
		logger.L().ErrorContext(context.Background(), "failed to load telemetry config", "error", err)
	}
	if tcfg.ServiceName == "" || tcfg.ServiceName == "unknown-service" {
		tcfg.ServiceName = "arrakis-worker"
	}
	shutdownTracing, err := telemetry.Init(tcfg)
	if err != nil {
		logger.L().ErrorContext(context.Background(), "failed to init telemetry, tracing disabled", "error", err)
	} else {
		defer shutdownTracing(context.Background())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := redisstore.New(statestore.Config{Driver: cfg.StateStoreDriver, URL: cfg.RedisURL})
	if err != nil {
		logger.L().ErrorContext(ctx, "failed to connect to state store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	mgr, err := tenant.NewManager(ctx, tenant.ManagerConfig{}, store)
	if err != nil {
		logger.L().ErrorContext(ctx, "failed to start tenant manager", "error", err)
		os.Exit(1)
	}
	defer mgr.Close()

	rep, err := replier.New(replier.Config{BotToken: cfg.DiscordBotToken, ApplicationID: cfg.DiscordAppID})
	if err != nil {
		logger.L().ErrorContext(ctx, "failed to build replier", "error", err)
		os.Exit(1)
	}

	registry := handler.NewRegistry()
	handlers.Register(registry)

	limiter := ratelimiter.New(store)
	d := dispatcher.New(mgr, limiter, registry, rep, store)

	rawBroker, err := rabbitmq.New(rabbitmq.Config{URL: cfg.RabbitMQURL})
	if err != nil {
		logger.L().ErrorContext(ctx, "failed to connect to broker", "error", err)
		os.Exit(1)
	}
	defer rawBroker.Close()

	var broker messaging.Broker = rawBroker
	broker = messaging.NewResilientBroker(broker, messaging.ResilientBrokerConfig{})
	broker = messaging.NewInstrumentedBroker(broker)

	workerCfg := worker.Config{Prefetch: cfg.WorkerPrefetch, MaxRedeliveries: cfg.WorkerMaxRedelivs}

	interactionConsumer := worker.New(workerCfg, broker, store, d, cfg.InteractionQueue, cfg.ConsumerGroup)
	eventConsumer := worker.New(workerCfg, broker, store, d, cfg.EventQueue, cfg.ConsumerGroup)

	if cfg.OpsAlertChannelID != "" {
		if sender, err := chatdiscord.New(chat.Config{Driver: "discord", DiscordToken: cfg.DiscordBotToken}); err == nil {
			alerts := chat.NewInstrumentedSender(sender)
			interactionConsumer.WithOpsAlerts(alerts, cfg.OpsAlertChannelID)
			eventConsumer.WithOpsAlerts(alerts, cfg.OpsAlertChannelID)
		} else {
			logger.L().WarnContext(ctx, "failed to build ops alert sender, DLQ alerts disabled", "error", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return interactionConsumer.Run(gctx) })
	g.Go(func() error { return eventConsumer.Run(gctx) })

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.L().ErrorContext(ctx, "worker exited with error", "error", err)
		os.Exit(1)
	}
}
