package envelope_test

import (
	"testing"

	"github.com/arrakis-platform/gateway-proxy/pkg/envelope"
	"github.com/stretchr/testify/require"
)

func TestRouteForInteractionCommand(t *testing.T) {
	route, err := envelope.RouteFor(envelope.KindInteractionCommand)
	require.NoError(t, err)
	require.Equal(t, envelope.QueueInteractions, route.Queue)
	require.EqualValues(t, 10, route.Priority)
}

func TestRouteForMessageCreate(t *testing.T) {
	route, err := envelope.RouteFor(envelope.KindMessageCreate)
	require.NoError(t, err)
	require.Equal(t, envelope.QueueEventsGuild, route.Queue)
	require.EqualValues(t, 1, route.Priority)
}

func TestRouteForUnknownKind(t *testing.T) {
	_, err := envelope.RouteFor(envelope.Kind("unknown.kind"))
	require.Error(t, err)
}

func TestStaticKindStripsDynamicTail(t *testing.T) {
	env := &envelope.Envelope{EventType: "interaction.command.stats"}
	require.Equal(t, envelope.KindInteractionCommand, env.StaticKind())
}

func TestBuilderGeneratesEventIDAndTimestamp(t *testing.T) {
	env, err := envelope.Builder{
		EventType:        "interaction.command.stats",
		ShardID:          0,
		GuildID:          "g1",
		InteractionID:    "int-1",
		InteractionToken: "tok-1",
		TraceID:          "trace-1",
		Data:             map[string]string{"name": "stats"},
	}.Build()

	require.NoError(t, err)
	require.NotEmpty(t, env.EventID)
	require.Positive(t, env.Timestamp)
	require.Equal(t, "trace-1", env.Trace.TraceID)
}

func TestValidateRejectsMismatchedInteractionFields(t *testing.T) {
	env := &envelope.Envelope{
		EventID:       "evt-1",
		EventType:     "interaction.button.confirm",
		InteractionID: "int-1",
	}
	require.Error(t, env.Validate())
}

func TestValidateRejectsMissingEventID(t *testing.T) {
	env := &envelope.Envelope{EventType: "message.create"}
	require.Error(t, env.Validate())
}

func TestValidateAcceptsNonInteractionWithoutIDs(t *testing.T) {
	env := &envelope.Envelope{EventID: "evt-2", EventType: "message.create", GuildID: "g1"}
	require.NoError(t, env.Validate())
}
