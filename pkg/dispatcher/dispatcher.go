// Package dispatcher implements the per-delivery pipeline of §4.4:
// tracing/logging context, tenant resolution, admin authorization,
// rate-limit check, the hard interaction deferral deadline, handler
// invocation and result disposition.
package dispatcher

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/arrakis-platform/gateway-proxy/pkg/envelope"
	"github.com/arrakis-platform/gateway-proxy/pkg/handler"
	"github.com/arrakis-platform/gateway-proxy/pkg/logger"
	"github.com/arrakis-platform/gateway-proxy/pkg/ratelimiter"
	"github.com/arrakis-platform/gateway-proxy/pkg/replier"
	"github.com/arrakis-platform/gateway-proxy/pkg/statestore"
	"github.com/arrakis-platform/gateway-proxy/pkg/tenant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// DeferralDeadline is the hard wall-clock budget for an interaction's
// first REST defer call, measured from envelope timestamp (§4.4 step 5).
const DeferralDeadline = 2500 * time.Millisecond

// InteractionBudget is the soft SLO an interaction handler's context is
// given, measured from envelope timestamp (§5 "Cancellation & timeouts").
const InteractionBudget = 15 * time.Second

// memberData is the subset of an interaction envelope's data payload the
// Dispatcher inspects for admin-command authorization.
type memberData struct {
	Member struct {
		Permissions string `json:"permissions"`
	} `json:"member"`
}

const adminPermissionBit = 0x8 // Discord ADMINISTRATOR permission bit

// actionTypeFor maps an envelope's static kind to the Rate Limiter action
// type checked before handler invocation.
func actionTypeFor(kind envelope.Kind) ratelimiter.ActionType {
	switch kind {
	case envelope.KindInteractionCommand:
		return ratelimiter.ActionCommand
	case envelope.KindInteractionButton:
		return ratelimiter.ActionButton
	case envelope.KindInteractionModal:
		return ratelimiter.ActionSelect
	case envelope.KindInteractionAutocomplete:
		return ratelimiter.ActionAutocomplete
	default:
		return ratelimiter.ActionCommand
	}
}

// Dispatcher wires the Tenant Manager, Rate Limiter, Handler Registry and
// REST Replier together into the per-delivery pipeline.
type Dispatcher struct {
	tenants  tenant.Manager
	limiter  ratelimiter.Limiter
	registry *handler.Registry
	replier  replier.Replier
	store    statestore.Store
	tracer   trace.Tracer
}

// New builds a Dispatcher.
func New(tenants tenant.Manager, limiter ratelimiter.Limiter, registry *handler.Registry, rep replier.Replier, store statestore.Store) *Dispatcher {
	return &Dispatcher{
		tenants:  tenants,
		limiter:  limiter,
		registry: registry,
		replier:  rep,
		store:    store,
		tracer:   otel.Tracer("arrakis/dispatcher"),
	}
}

// Dispatch runs the full §4.4 pipeline for one envelope and returns the
// disposition the Consumer should act on.
func (d *Dispatcher) Dispatch(ctx context.Context, env *envelope.Envelope) (handler.Disposition, error) {
	ctx, span := d.startSpan(ctx, env)
	defer span.End()

	fields := []any{"event_id", env.EventID, "guild_id", env.GuildID, "event_type", env.EventType}

	isInteraction := env.StaticKind().IsInteraction()
	receivedAt := time.UnixMilli(env.Timestamp)

	if isInteraction {
		deadline := receivedAt.Add(InteractionBudget)
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	tenantCtx, err := d.tenants.GetContext(ctx, env.GuildID, env.UserID)
	if err != nil {
		logger.L().ErrorContext(ctx, "tenant resolution failed", append(fields, "error", err)...)
		if isInteraction {
			d.replyError(ctx, env, "Guild is not configured")
		}
		return handler.Retry, err
	}

	if tenantCtx.Disabled {
		if isInteraction {
			d.replyError(ctx, env, "This guild is disabled")
		}
		return handler.Drop, nil
	}

	if env.StaticKind() == envelope.KindInteractionCommand && isAdminCommand(env.EventType) {
		if !hasAdminPermission(env.Data) {
			d.replyError(ctx, env, "Administrator permissions required")
			return handler.Ack, nil
		}
	}

	action := actionTypeFor(env.StaticKind())
	limitCfg := tenantCtx.Config.RateLimits[string(action)]
	if limitCfg.Max != 0 {
		result, err := d.limiter.CheckLimit(ctx, env.GuildID, action, limitCfg)
		if err != nil {
			return handler.Retry, err
		}
		if !result.Allowed {
			if isInteraction {
				d.replyError(ctx, env, "Rate limit exceeded; retry in "+strconv.FormatInt(result.RetryAfterMS, 10)+" ms")
			}
			return handler.Ack, nil
		}
	}

	if isInteraction {
		deferDeadline := receivedAt.Add(DeferralDeadline)
		if time.Now().After(deferDeadline) {
			logger.L().ErrorContext(ctx, "missed interaction deferral deadline", fields...)
			return handler.Abandon, nil
		}

		deferCtx, cancel := context.WithDeadline(ctx, deferDeadline)
		result := d.replier.DeferReply(deferCtx, env.InteractionID, env.InteractionToken, false)
		cancel()
		if !result.Success {
			logger.L().ErrorContext(ctx, "interaction defer failed", append(fields, "error", result.Err)...)
			return handler.Abandon, result.Err
		}
	}

	fn := d.registry.Lookup(env.EventType)

	hc := handler.Context{
		Context:  ctx,
		Envelope: env,
		Tenant:   tenantCtx,
		Replier:  d.replier,
		Store:    d.store,
	}

	return fn(hc)
}

func (d *Dispatcher) startSpan(ctx context.Context, env *envelope.Envelope) (context.Context, trace.Span) {
	if env.Trace.TraceID != "" {
		if traceID, err := trace.TraceIDFromHex(env.Trace.TraceID); err == nil {
			spanID, _ := trace.SpanIDFromHex(env.Trace.SpanID)
			sc := trace.NewSpanContext(trace.SpanContextConfig{
				TraceID:    traceID,
				SpanID:     spanID,
				TraceFlags: trace.FlagsSampled,
				Remote:     true,
			})
			ctx = trace.ContextWithSpanContext(ctx, sc)
		}
	}
	return d.tracer.Start(ctx, "dispatch."+env.EventType)
}

// replyError sends a user-visible error as a followup. A followup is only
// valid after the initial type-5 deferred response, so this always defers
// first, matching the happy path's own defer→followup sequencing.
func (d *Dispatcher) replyError(ctx context.Context, env *envelope.Envelope, message string) {
	if env.InteractionToken == "" {
		return
	}
	d.replier.DeferReply(ctx, env.InteractionID, env.InteractionToken, false)
	d.replier.SendFollowup(ctx, env.InteractionToken, message, []replier.Embed{
		{Title: "Error", Description: message},
	})
}

func isAdminCommand(eventType string) bool {
	const prefix = "interaction.command.admin"
	return strings.HasPrefix(eventType, prefix)
}

func hasAdminPermission(data json.RawMessage) bool {
	var md memberData
	if err := json.Unmarshal(data, &md); err != nil {
		return false
	}

	perms := parsePermissions(md.Member.Permissions)
	return perms&adminPermissionBit != 0
}

func parsePermissions(s string) int64 {
	var perms int64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		perms = perms*10 + int64(c-'0')
	}
	return perms
}

