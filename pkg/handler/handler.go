// Package handler defines the Handler Registry (§4.7): a keyed mapping
// from event_type, including its dynamic tail, to the function that
// handles one envelope.
package handler

import (
	"context"
	"sync"

	"github.com/arrakis-platform/gateway-proxy/pkg/envelope"
	"github.com/arrakis-platform/gateway-proxy/pkg/errors"
	"github.com/arrakis-platform/gateway-proxy/pkg/replier"
	"github.com/arrakis-platform/gateway-proxy/pkg/statestore"
	"github.com/arrakis-platform/gateway-proxy/pkg/tenant"
)

// Disposition is a handler's outcome, driving the Consumer's ack/nack
// decision (§4.4 step 7).
type Disposition int

const (
	// Ack extends the idempotency claim to its long-lived TTL and acks.
	Ack Disposition = iota
	// Retry releases the idempotency claim and nacks with requeue,
	// subject to the redelivery cap.
	Retry
	// Drop acks without touching the idempotency claim: a no-op event,
	// distinct from Abandon in that it was never a delivery failure.
	Drop
	// Abandon nacks without requeue (DLQ), for deliveries the Dispatcher
	// itself refused before handler invocation — e.g. a missed interaction
	// deferral deadline (§4.4 step 5) — where no followup may be attempted
	// and redelivery would only repeat the same miss.
	Abandon
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Retry:
		return "retry"
	case Drop:
		return "drop"
	case Abandon:
		return "abandon"
	default:
		return "unknown"
	}
}

// Context is passed to every handler: the tenant config, the REST
// Replier, the State Store, and the logger/cancellation signal already
// live on ctx (slog via context, cancellation via ctx.Done()).
type Context struct {
	context.Context

	Envelope *envelope.Envelope
	Tenant   tenant.Context
	Replier  replier.Replier
	Store    statestore.Store
}

// Func handles one envelope and returns a disposition plus an optional
// error describing the outcome (e.g. ErrUnknownCommand alongside Ack); the
// disposition alone decides how the delivery is settled.
type Func func(hc Context) (Disposition, error)

// Registry is the keyed mapping from event_type to Func, with a default
// fallback for unregistered types (§4.7 "Unknown command").
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Func
	fallback Func
}

// NewRegistry returns an empty Registry. Register the default fallback
// with SetFallback; NewRegistry's zero-value fallback acks with no reply.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Func),
		fallback: func(hc Context) (Disposition, error) { return Drop, nil },
	}
}

// Register binds eventType (which may include a dynamic tail, e.g.
// "interaction.command.stats") to fn. Registering the same eventType
// twice replaces the prior binding.
func (r *Registry) Register(eventType string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = fn
}

// SetFallback overrides the default handler invoked when event_type has
// no registration.
func (r *Registry) SetFallback(fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = fn
}

// Lookup resolves eventType to its handler, or the fallback if none is
// registered.
func (r *Registry) Lookup(eventType string) Func {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if fn, ok := r.handlers[eventType]; ok {
		return fn
	}
	return r.fallback
}

// ErrUnknownCommand classifies a fallback invocation for metrics/logging.
var ErrUnknownCommand = errors.NotFound("no handler registered for event type", nil)
