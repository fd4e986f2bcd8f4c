//go:build integration

package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/arrakis-platform/gateway-proxy/pkg/statestore"
	redisadapter "github.com/arrakis-platform/gateway-proxy/pkg/statestore/adapters/redis"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestRedisStore(t *testing.T) {
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	defer container.Terminate(ctx)

	connStr, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	store, err := redisadapter.New(statestore.Config{URL: connStr})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Set(ctx, "tenant:1", map[string]string{"tier": "pro"}, time.Minute))

	var got map[string]string
	require.NoError(t, store.Get(ctx, "tenant:1", &got))
	require.Equal(t, "pro", got["tier"])

	created, err := store.SetNX(ctx, "tenant:default:1", "defaults", time.Minute)
	require.NoError(t, err)
	require.True(t, created)

	createdAgain, err := store.SetNX(ctx, "tenant:default:1", "other", time.Minute)
	require.NoError(t, err)
	require.False(t, createdAgain)

	count, err := store.IncrWindow(ctx, "ratelimit:guild:1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	count, err = store.IncrWindow(ctx, "ratelimit:guild:1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	ch, closeFn, err := store.Subscribe(ctx, "tenant:reload")
	require.NoError(t, err)
	defer closeFn()

	require.NoError(t, store.Publish(ctx, "tenant:reload", "tenant-42"))

	select {
	case msg := <-ch:
		require.Equal(t, "tenant-42", msg)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}
