package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/arrakis-platform/gateway-proxy/pkg/logger"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
)

func TestTraceHandlerInjectsSpanContext(t *testing.T) {
	var buf bytes.Buffer
	h := logger.NewTraceHandler(slog.NewJSONHandler(&buf, nil))
	l := slog.New(h)

	tp := trace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	l.InfoContext(ctx, "hello")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.NotEmpty(t, decoded["trace_id"])
	require.NotEmpty(t, decoded["span_id"])
}

func TestRedactHandlerMasksSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	h := logger.NewRedactHandler(slog.NewJSONHandler(&buf, nil))
	l := slog.New(h)

	l.Info("login attempt", "bot_token", "super-secret", "email", "user@example.com")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, "[REDACTED]", decoded["bot_token"])
	require.Equal(t, "[REDACTED]", decoded["email"])
}

func TestSamplingHandlerAlwaysLogsWarnings(t *testing.T) {
	var buf bytes.Buffer
	h := logger.NewSamplingHandler(slog.NewJSONHandler(&buf, nil), 0.0)
	l := slog.New(h)

	l.Warn("downstream degraded")

	require.NotEmpty(t, buf.Bytes())
}
