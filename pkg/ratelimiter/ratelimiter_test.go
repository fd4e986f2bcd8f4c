package ratelimiter_test

import (
	"context"
	"testing"

	"github.com/arrakis-platform/gateway-proxy/pkg/ratelimiter"
	"github.com/arrakis-platform/gateway-proxy/pkg/statestore/adapters/memory"
	"github.com/arrakis-platform/gateway-proxy/pkg/tenant"
	"github.com/stretchr/testify/require"
)

func TestCheckLimitAllowsUpToMax(t *testing.T) {
	store := memory.New()
	defer store.Close()
	limiter := ratelimiter.New(store)
	ctx := context.Background()
	limit := tenant.RateLimit{WindowMS: 60_000, Max: 3}

	for i := 0; i < 3; i++ {
		result, err := limiter.CheckLimit(ctx, "guild-1", ratelimiter.ActionCommand, limit)
		require.NoError(t, err)
		require.True(t, result.Allowed, "request %d should be allowed", i+1)
	}

	result, err := limiter.CheckLimit(ctx, "guild-1", ratelimiter.ActionCommand, limit)
	require.NoError(t, err)
	require.False(t, result.Allowed)
	require.Zero(t, result.Remaining)
}

func TestCheckLimitUnlimitedSentinelSkipsIncrement(t *testing.T) {
	store := memory.New()
	defer store.Close()
	limiter := ratelimiter.New(store)
	ctx := context.Background()
	limit := tenant.RateLimit{WindowMS: 60_000, Max: ratelimiter.Unlimited}

	result, err := limiter.CheckLimit(ctx, "guild-ent", ratelimiter.ActionCommand, limit)
	require.NoError(t, err)
	require.True(t, result.Allowed)
	require.EqualValues(t, ratelimiter.Unlimited, result.Limit)
}

func TestPerActionCountersAreIndependent(t *testing.T) {
	store := memory.New()
	defer store.Close()
	limiter := ratelimiter.New(store)
	ctx := context.Background()
	limit := tenant.RateLimit{WindowMS: 60_000, Max: 1}

	_, err := limiter.CheckLimit(ctx, "guild-1", ratelimiter.ActionCommand, limit)
	require.NoError(t, err)
	commandResult, err := limiter.CheckLimit(ctx, "guild-1", ratelimiter.ActionCommand, limit)
	require.NoError(t, err)
	require.False(t, commandResult.Allowed)

	selectResult, err := limiter.CheckLimit(ctx, "guild-1", ratelimiter.ActionSelect, limit)
	require.NoError(t, err)
	require.True(t, selectResult.Allowed, "exhausting commands must not affect select eligibility")
}

func TestResetClearsCurrentWindow(t *testing.T) {
	store := memory.New()
	defer store.Close()
	limiter := ratelimiter.New(store)
	ctx := context.Background()
	limit := tenant.RateLimit{WindowMS: 60_000, Max: 1}

	_, err := limiter.CheckLimit(ctx, "guild-1", ratelimiter.ActionCommand, limit)
	require.NoError(t, err)

	require.NoError(t, limiter.Reset(ctx, "guild-1", ratelimiter.ActionCommand, limit.WindowMS))

	result, err := limiter.CheckLimit(ctx, "guild-1", ratelimiter.ActionCommand, limit)
	require.NoError(t, err)
	require.True(t, result.Allowed)
}
