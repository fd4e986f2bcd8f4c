package replier_test

import (
	"context"
	"testing"

	"github.com/arrakis-platform/gateway-proxy/pkg/replier"
	"github.com/stretchr/testify/require"
)

func TestMemoryReplierRecordsCalls(t *testing.T) {
	r := replier.NewMemory()
	ctx := context.Background()

	result := r.DeferReply(ctx, "int-1", "tok-1", false)
	require.True(t, result.Success)

	result = r.SendFollowup(ctx, "tok-1", "done", nil)
	require.True(t, result.Success)

	require.Len(t, r.Calls, 2)
	require.Equal(t, "defer_reply", r.Calls[0].Op)
	require.Equal(t, "send_followup", r.Calls[1].Op)
	require.Equal(t, "done", r.Calls[1].Content)
}

func TestMemoryReplierRoleAssignment(t *testing.T) {
	r := replier.NewMemory()
	result := r.AssignRole(context.Background(), "guild-1", "user-1", "role-1")
	require.True(t, result.Success)
	require.Equal(t, "guild-1:user-1", r.Calls[0].Target)
	require.Equal(t, "role-1", r.Calls[0].Content)
}
