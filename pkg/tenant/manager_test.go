package tenant_test

import (
	"context"
	"sync"
	"testing"
	"time"

	distlockmemory "github.com/arrakis-platform/gateway-proxy/pkg/concurrency/distlock/adapters/memory"
	"github.com/arrakis-platform/gateway-proxy/pkg/statestore/adapters/memory"
	"github.com/arrakis-platform/gateway-proxy/pkg/tenant"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) (*tenant.CacheManager, func()) {
	t.Helper()
	store := memory.New()
	mgr, err := tenant.NewManager(context.Background(), tenant.ManagerConfig{}, store)
	require.NoError(t, err)
	return mgr, func() {
		mgr.Close()
		store.Close()
	}
}

func TestGetContextCreatesFreeDefaultOnFirstSight(t *testing.T) {
	mgr, cleanup := newManager(t)
	defer cleanup()

	ctx, err := mgr.GetContext(context.Background(), "guild-1", "user-1")
	require.NoError(t, err)
	require.Equal(t, tenant.TierFree, ctx.Tier)
	require.Equal(t, int64(10), ctx.Config.RateLimits["command"].Max)
}

func TestGetContextIsCachedAcrossCalls(t *testing.T) {
	mgr, cleanup := newManager(t)
	defer cleanup()

	first, err := mgr.GetContext(context.Background(), "guild-1", "user-1")
	require.NoError(t, err)

	second, err := mgr.GetContext(context.Background(), "guild-1", "user-2")
	require.NoError(t, err)

	require.Equal(t, first.Config.CreatedAt, second.Config.CreatedAt)
}

func TestConcurrentMissesCreateAtMostOnce(t *testing.T) {
	mgr, cleanup := newManager(t)
	defer cleanup()

	const n = 20
	var wg sync.WaitGroup
	created := make([]time.Time, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, err := mgr.GetContext(context.Background(), "guild-race", "user")
			require.NoError(t, err)
			created[i] = ctx.Config.CreatedAt
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		require.Equal(t, created[0], created[i], "all concurrent misses must observe the same created_at")
	}
}

func TestUpgradeTierAndInvalidation(t *testing.T) {
	mgr, cleanup := newManager(t)
	defer cleanup()
	ctx := context.Background()

	_, err := mgr.GetContext(ctx, "guild-2", "user-1")
	require.NoError(t, err)

	require.NoError(t, mgr.UpgradeTier(ctx, "guild-2", tenant.TierPro))

	require.Eventually(t, func() bool {
		tc, err := mgr.GetContext(ctx, "guild-2", "user-1")
		return err == nil && tc.Tier == tenant.TierPro
	}, time.Second, 5*time.Millisecond)
}

func TestUpgradeTierRejectsConcurrentUpgradeUnderLock(t *testing.T) {
	mgr, cleanup := newManager(t)
	defer cleanup()
	ctx := context.Background()

	locker := distlockmemory.New()
	defer locker.Close()
	mgr.WithLocker(locker)

	lock := locker.NewLock("tenant:upgrade:guild-3", 5*time.Second)
	acquired, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, acquired)
	defer lock.Release(ctx)

	err = mgr.UpgradeTier(ctx, "guild-3", tenant.TierPro)
	require.Error(t, err)
}

func TestParseTierDefaultsToFree(t *testing.T) {
	require.Equal(t, tenant.TierFree, tenant.ParseTier("bogus"))
	require.Equal(t, tenant.TierEnterprise, tenant.ParseTier("enterprise"))
}
