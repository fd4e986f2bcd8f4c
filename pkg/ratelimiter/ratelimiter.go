// Package ratelimiter implements the fixed-window Rate Limiter described
// in §4.6: per-{tenant, action, window} atomic counters backed by the
// State Store, with an unlimited sentinel for enterprise-tier actions.
package ratelimiter

import (
	"context"
	"fmt"
	"time"

	"github.com/arrakis-platform/gateway-proxy/pkg/errors"
	"github.com/arrakis-platform/gateway-proxy/pkg/statestore"
	"github.com/arrakis-platform/gateway-proxy/pkg/tenant"
)

// ActionType is the minimum set of rate-limited action kinds.
type ActionType string

const (
	ActionCommand          ActionType = "command"
	ActionButton           ActionType = "button"
	ActionSelect           ActionType = "select"
	ActionAutocomplete     ActionType = "autocomplete"
	ActionEligibilityCheck ActionType = "eligibility_check"
	ActionRoleSync         ActionType = "role_sync"
)

// Unlimited is the sentinel rate-limit config meaning "no limit".
const Unlimited int64 = -1

// Result is the outcome of a check_limit call.
type Result struct {
	Allowed      bool
	Limit        int64
	Remaining    int64
	RetryAfterMS int64
}

// Limiter checks and resets per-tenant, per-action rate budgets.
type Limiter interface {
	// CheckLimit increments the current window's counter for
	// {tenantID, action} and reports whether the action is still allowed.
	CheckLimit(ctx context.Context, tenantID string, action ActionType, limit tenant.RateLimit) (Result, error)

	// Reset deletes the current window's counter, as if no requests had
	// been made in it yet.
	Reset(ctx context.Context, tenantID string, action ActionType, windowMS int64) error
}

// fixedWindowLimiter implements Limiter against a statestore.Store.
type fixedWindowLimiter struct {
	store statestore.Store
}

// New builds a fixed-window Limiter over store.
func New(store statestore.Store) Limiter {
	return &fixedWindowLimiter{store: store}
}

func windowKey(tenantID string, action ActionType, windowMS int64, windowIndex int64) string {
	return fmt.Sprintf("rl:%s:%s:%d", tenantID, action, windowIndex)
}

func currentWindowIndex(windowMS int64) int64 {
	if windowMS <= 0 {
		return 0
	}
	return time.Now().UnixMilli() / windowMS
}

func (l *fixedWindowLimiter) CheckLimit(ctx context.Context, tenantID string, action ActionType, limit tenant.RateLimit) (Result, error) {
	if limit.Max == Unlimited {
		return Result{Allowed: true, Limit: Unlimited, Remaining: Unlimited}, nil
	}

	windowMS := limit.WindowMS
	if windowMS <= 0 {
		return Result{}, errors.InvalidArgument("rate limit window_ms must be positive", nil)
	}

	idx := currentWindowIndex(windowMS)
	key := windowKey(tenantID, action, windowMS, idx)

	count, err := l.store.IncrWindow(ctx, key, time.Duration(windowMS)*time.Millisecond)
	if err != nil {
		return Result{}, errors.Wrap(err, "increment rate window")
	}

	remaining := limit.Max - count
	if remaining < 0 {
		remaining = 0
	}

	result := Result{
		Limit:     limit.Max,
		Remaining: remaining,
	}

	if count <= limit.Max {
		result.Allowed = true
		return result, nil
	}

	windowEnd := (idx + 1) * windowMS
	result.Allowed = false
	result.RetryAfterMS = windowEnd - time.Now().UnixMilli()
	if result.RetryAfterMS < 0 {
		result.RetryAfterMS = 0
	}
	return result, nil
}

func (l *fixedWindowLimiter) Reset(ctx context.Context, tenantID string, action ActionType, windowMS int64) error {
	idx := currentWindowIndex(windowMS)
	return l.store.Delete(ctx, windowKey(tenantID, action, windowMS, idx))
}
