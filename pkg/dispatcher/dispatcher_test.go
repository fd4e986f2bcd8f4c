package dispatcher_test

import (
	"context"
	"testing"
	"time"

	"github.com/arrakis-platform/gateway-proxy/pkg/dispatcher"
	"github.com/arrakis-platform/gateway-proxy/pkg/envelope"
	"github.com/arrakis-platform/gateway-proxy/pkg/handler"
	"github.com/arrakis-platform/gateway-proxy/pkg/ratelimiter"
	"github.com/arrakis-platform/gateway-proxy/pkg/replier"
	"github.com/arrakis-platform/gateway-proxy/pkg/statestore/adapters/memory"
	"github.com/arrakis-platform/gateway-proxy/pkg/tenant"
	"github.com/stretchr/testify/require"
)

func newDispatcher(t *testing.T) (*dispatcher.Dispatcher, *handler.Registry, *replier.Memory, func()) {
	t.Helper()
	store := memory.New()
	mgr, err := tenant.NewManager(context.Background(), tenant.ManagerConfig{}, store)
	require.NoError(t, err)

	registry := handler.NewRegistry()
	rep := replier.NewMemory()
	limiter := ratelimiter.New(store)

	d := dispatcher.New(mgr, limiter, registry, rep, store)

	return d, registry, rep, func() {
		mgr.Close()
		store.Close()
	}
}

func buildCommandEnvelope(t *testing.T, name string) *envelope.Envelope {
	t.Helper()
	env, err := envelope.Builder{
		EventType:        "interaction.command." + name,
		GuildID:          "guild-1",
		UserID:           "user-1",
		InteractionID:    "int-1",
		InteractionToken: "tok-1",
		TraceID:          "0123456789abcdef0123456789abcdef",
		Data:             map[string]interface{}{},
	}.Build()
	require.NoError(t, err)
	return env
}

func TestSlashCommandHappyPath(t *testing.T) {
	d, registry, rep, cleanup := newDispatcher(t)
	defer cleanup()

	var invoked bool
	registry.Register("interaction.command.stats", func(hc handler.Context) (handler.Disposition, error) {
		invoked = true
		hc.Replier.SendFollowup(hc, hc.Envelope.InteractionToken, "here are your stats", nil)
		return handler.Ack, nil
	})

	env := buildCommandEnvelope(t, "stats")

	disposition, err := d.Dispatch(context.Background(), env)
	require.NoError(t, err)
	require.Equal(t, handler.Ack, disposition)
	require.True(t, invoked)
	require.Len(t, rep.Calls, 2)
	require.Equal(t, "defer_reply", rep.Calls[0].Op)
	require.Equal(t, "send_followup", rep.Calls[1].Op)
}

func TestAdminCommandDeniedWithoutPermission(t *testing.T) {
	d, registry, rep, cleanup := newDispatcher(t)
	defer cleanup()

	var reached bool
	registry.Register("interaction.command.admin.badge", func(hc handler.Context) (handler.Disposition, error) {
		reached = true
		return handler.Ack, nil
	})

	env, err := envelope.Builder{
		EventType:        "interaction.command.admin.badge",
		GuildID:          "guild-1",
		UserID:           "user-1",
		InteractionID:    "int-2",
		InteractionToken: "tok-2",
		Data:             map[string]interface{}{"member": map[string]string{"permissions": "2048"}},
	}.Build()
	require.NoError(t, err)

	disposition, err := d.Dispatch(context.Background(), env)
	require.NoError(t, err)
	require.Equal(t, handler.Ack, disposition)
	require.False(t, reached, "handler must not run without the admin bit")
	require.Len(t, rep.Calls, 2)
	require.Equal(t, "defer_reply", rep.Calls[0].Op)
	require.Equal(t, "send_followup", rep.Calls[1].Op)
	require.Contains(t, rep.Calls[1].Content, "Administrator permissions")
}

func TestAdminCommandAllowedWithPermission(t *testing.T) {
	d, registry, _, cleanup := newDispatcher(t)
	defer cleanup()

	var reached bool
	registry.Register("interaction.command.admin.badge", func(hc handler.Context) (handler.Disposition, error) {
		reached = true
		return handler.Ack, nil
	})

	env, err := envelope.Builder{
		EventType:        "interaction.command.admin.badge",
		GuildID:          "guild-1",
		UserID:           "user-1",
		InteractionID:    "int-3",
		InteractionToken: "tok-3",
		Data:             map[string]interface{}{"member": map[string]string{"permissions": "8"}},
	}.Build()
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), env)
	require.NoError(t, err)
	require.True(t, reached)
}

func TestRateLimitExceededRepliesAndAcks(t *testing.T) {
	d, registry, rep, cleanup := newDispatcher(t)
	defer cleanup()

	registry.Register("interaction.command.stats", func(hc handler.Context) (handler.Disposition, error) {
		return handler.Ack, nil
	})

	// Free tier allows 10 commands/min; exhaust the budget first.
	for i := 0; i < 10; i++ {
		env := buildCommandEnvelope(t, "stats")
		_, err := d.Dispatch(context.Background(), env)
		require.NoError(t, err)
	}

	rep.Calls = nil
	env := buildCommandEnvelope(t, "stats")
	disposition, err := d.Dispatch(context.Background(), env)
	require.NoError(t, err)
	require.Equal(t, handler.Ack, disposition)
	require.Len(t, rep.Calls, 2)
	require.Equal(t, "defer_reply", rep.Calls[0].Op)
	require.Equal(t, "send_followup", rep.Calls[1].Op)
	require.Contains(t, rep.Calls[1].Content, "Rate limit exceeded")
}

func TestMissedDeferralDeadlineAbandons(t *testing.T) {
	d, registry, _, cleanup := newDispatcher(t)
	defer cleanup()

	registry.Register("interaction.command.stats", func(hc handler.Context) (handler.Disposition, error) {
		return handler.Ack, nil
	})

	env := buildCommandEnvelope(t, "stats")
	env.Timestamp = envelope.NewTimestamp(time.Now().Add(-10 * time.Second))

	disposition, err := d.Dispatch(context.Background(), env)
	require.NoError(t, err)
	require.Equal(t, handler.Abandon, disposition)
}

func TestDisabledTenantRepliesAndDrops(t *testing.T) {
	store := memory.New()
	defer store.Close()

	mgr, err := tenant.NewManager(context.Background(), tenant.ManagerConfig{}, store)
	require.NoError(t, err)
	defer mgr.Close()

	cfg := tenant.DefaultConfig("guild-disabled")
	cfg.Disabled = true
	require.NoError(t, store.Set(context.Background(), "tenant:config:guild-disabled", cfg, 0))

	registry := handler.NewRegistry()
	var reached bool
	registry.Register("interaction.command.stats", func(hc handler.Context) (handler.Disposition, error) {
		reached = true
		return handler.Ack, nil
	})

	rep := replier.NewMemory()
	limiter := ratelimiter.New(store)
	d := dispatcher.New(mgr, limiter, registry, rep, store)

	env, err := envelope.Builder{
		EventType:        "interaction.command.stats",
		GuildID:          "guild-disabled",
		UserID:           "user-1",
		InteractionID:    "int-4",
		InteractionToken: "tok-4",
		Data:             map[string]interface{}{},
	}.Build()
	require.NoError(t, err)

	disposition, err := d.Dispatch(context.Background(), env)
	require.NoError(t, err)
	require.Equal(t, handler.Drop, disposition)
	require.False(t, reached)
	require.Len(t, rep.Calls, 2)
	require.Equal(t, "defer_reply", rep.Calls[0].Op)
	require.Equal(t, "send_followup", rep.Calls[1].Op)
	require.Contains(t, rep.Calls[1].Content, "disabled")
}

func TestUnregisteredEventTypeFallsBackToDrop(t *testing.T) {
	d, _, _, cleanup := newDispatcher(t)
	defer cleanup()

	env, err := envelope.Builder{
		EventType: "message.create",
		GuildID:   "guild-1",
		Data:      map[string]interface{}{},
	}.Build()
	require.NoError(t, err)

	disposition, err := d.Dispatch(context.Background(), env)
	require.NoError(t, err)
	require.Equal(t, handler.Drop, disposition)
}
