package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/arrakis-platform/gateway-proxy/pkg/errors"
	"github.com/arrakis-platform/gateway-proxy/pkg/statestore/adapters/memory"
	"github.com/stretchr/testify/require"
)

func TestGetSetDelete(t *testing.T) {
	store := memory.New()
	defer store.Close()
	ctx := context.Background()

	var missing string
	err := store.Get(ctx, "missing", &missing)
	require.Error(t, err)

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, errors.CodeNotFound, appErr.Code)

	require.NoError(t, store.Set(ctx, "tenant:1", map[string]string{"tier": "pro"}, time.Minute))

	var got map[string]string
	require.NoError(t, store.Get(ctx, "tenant:1", &got))
	require.Equal(t, "pro", got["tier"])

	require.NoError(t, store.Delete(ctx, "tenant:1"))
	require.Error(t, store.Get(ctx, "tenant:1", &got))
}

func TestGetExpiredKeyIsNotFound(t *testing.T) {
	store := memory.New()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "cooldown:1", "x", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	var dest string
	require.Error(t, store.Get(ctx, "cooldown:1", &dest))
}

func TestSetNXOnlyCreatesOnce(t *testing.T) {
	store := memory.New()
	defer store.Close()
	ctx := context.Background()

	created, err := store.SetNX(ctx, "tenant:default:1", "defaults", time.Minute)
	require.NoError(t, err)
	require.True(t, created)

	createdAgain, err := store.SetNX(ctx, "tenant:default:1", "other", time.Minute)
	require.NoError(t, err)
	require.False(t, createdAgain)

	var got string
	require.NoError(t, store.Get(ctx, "tenant:default:1", &got))
	require.Equal(t, "defaults", got)
}

func TestSetNXAfterExpiryRecreates(t *testing.T) {
	store := memory.New()
	defer store.Close()
	ctx := context.Background()

	created, err := store.SetNX(ctx, "idempotency:1", "x", time.Millisecond)
	require.NoError(t, err)
	require.True(t, created)

	time.Sleep(5 * time.Millisecond)

	createdAgain, err := store.SetNX(ctx, "idempotency:1", "y", time.Minute)
	require.NoError(t, err)
	require.True(t, createdAgain)
}

func TestIncrWindowSetsTTLOnlyOnFirstIncrement(t *testing.T) {
	store := memory.New()
	defer store.Close()
	ctx := context.Background()

	count, err := store.IncrWindow(ctx, "ratelimit:guild:1", 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	count, err = store.IncrWindow(ctx, "ratelimit:guild:1", time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	time.Sleep(15 * time.Millisecond)

	count, err = store.IncrWindow(ctx, "ratelimit:guild:1", 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, int64(1), count, "window must reset once the original TTL elapses")
}

func TestPublishSubscribe(t *testing.T) {
	store := memory.New()
	defer store.Close()
	ctx := context.Background()

	ch, closeFn, err := store.Subscribe(ctx, "tenant:reload")
	require.NoError(t, err)
	defer closeFn()

	require.NoError(t, store.Publish(ctx, "tenant:reload", "tenant-42"))

	select {
	case msg := <-ch:
		require.Equal(t, "tenant-42", msg)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestPublishWithNoSubscribersIsNoop(t *testing.T) {
	store := memory.New()
	defer store.Close()
	require.NoError(t, store.Publish(context.Background(), "nobody-listening", "msg"))
}
