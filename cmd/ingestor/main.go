// Command ingestor runs the stateless Discord gateway listener: it opens a
// shard session, turns each event into an envelope, and publishes it to the
// broker for the Worker pool to consume.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/arrakis-platform/gateway-proxy/pkg/config"
	"github.com/arrakis-platform/gateway-proxy/pkg/ingestor"
	"github.com/arrakis-platform/gateway-proxy/pkg/logger"
	"github.com/arrakis-platform/gateway-proxy/pkg/telemetry"
)

func main() {
	var cfg ingestor.Config
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
		tcfg.ServiceName = "arrakis-ingestor"
	}
	shutdownTracing, err := telemetry.Init(tcfg)
	if err != nil {
		logger.L().ErrorContext(context.Background(), "failed to init telemetry, tracing disabled", "error", err)
	} else {
		defer shutdownTracing(context.Background())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	in, err := ingestor.New(ctx, cfg)
	if err != nil {
		logger.L().ErrorContext(ctx, "failed to start ingestor", "error", err)
		os.Exit(1)
	}

	if err := in.Run(ctx); err != nil && ctx.Err() == nil {
		logger.L().ErrorContext(ctx, "ingestor exited with error", "error", err)
		os.Exit(1)
	}
}
