package ingestor

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
)

// healthResponse is the §6 health endpoint body.
type healthResponse struct {
	Status string       `json:"status"`
	Checks healthChecks `json:"checks"`
}

type healthChecks struct {
	Discord  discordCheck  `json:"discord"`
	RabbitMQ rabbitMQCheck `json:"rabbitmq"`
	Memory   memoryCheck   `json:"memory"`
}

type discordCheck struct {
	Connected bool  `json:"connected"`
	Latency   int64 `json:"latency"`
	ShardID   int   `json:"shardId"`
}

type rabbitMQCheck struct {
	Connected   bool `json:"connected"`
	ChannelOpen bool `json:"channelOpen"`
}

type memoryCheck struct {
	HeapUsedMB     uint64 `json:"heapUsed"`
	HeapTotalMB    uint64 `json:"heapTotal"`
	RSSMB          uint64 `json:"rss"`
	BelowThreshold bool   `json:"belowThreshold"`
}

// HealthServer exposes the Ingestor's §6 health endpoint over HTTP, built
// on the same echo/otelecho stack used for inbound REST instrumentation
// elsewhere in this module.
type HealthServer struct {
	echo      *echo.Echo
	session   *Session
	publisher *Publisher
	thresholdMB uint64
}

// NewHealthServer wires a /healthz route reporting the composite status of
// the gateway session, the broker publisher and the process heap.
func NewHealthServer(session *Session, publisher *Publisher, thresholdMB uint64) *HealthServer {
	if thresholdMB == 0 {
		thresholdMB = 75
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(otelecho.Middleware("arrakis-ingestor"))

	hs := &HealthServer{echo: e, session: session, publisher: publisher, thresholdMB: thresholdMB}
	e.GET("/healthz", hs.handle)

	return hs
}

// Start serves the health endpoint on addr until ctx is canceled.
func (h *HealthServer) Start(ctx context.Context, addr string) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5000000000)
		defer cancel()
		h.echo.Shutdown(shutdownCtx)
	}()

	if err := h.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (h *HealthServer) handle(c echo.Context) error {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	heapUsedMB := mem.HeapAlloc / (1024 * 1024)
	belowThreshold := heapUsedMB < h.thresholdMB

	pubStatus := h.publisher.Status()
	discordConnected := h.session.State() == StateReady

	resp := healthResponse{
		Checks: healthChecks{
			Discord: discordCheck{
				Connected: discordConnected,
				ShardID:   h.session.cfg.ShardID,
			},
			RabbitMQ: rabbitMQCheck{
				Connected:   pubStatus.Connected,
				ChannelOpen: pubStatus.ChannelOpen,
			},
			Memory: memoryCheck{
				HeapUsedMB:     heapUsedMB,
				HeapTotalMB:    mem.HeapSys / (1024 * 1024),
				RSSMB:          mem.Sys / (1024 * 1024),
				BelowThreshold: belowThreshold,
			},
		},
	}

	healthy := discordConnected && pubStatus.Connected && pubStatus.ChannelOpen && belowThreshold
	if healthy {
		resp.Status = "ok"
		return c.JSON(http.StatusOK, resp)
	}

	resp.Status = "degraded"
	return c.JSON(http.StatusServiceUnavailable, resp)
}
