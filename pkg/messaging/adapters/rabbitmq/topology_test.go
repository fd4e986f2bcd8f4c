package rabbitmq_test

import (
	"testing"
	"time"

	"github.com/arrakis-platform/gateway-proxy/pkg/messaging/adapters/rabbitmq"
	"github.com/stretchr/testify/require"
)

func TestTopologyShape(t *testing.T) {
	top := rabbitmq.Topology{
		Exchange:    "arrakis.events",
		DLXExchange: "arrakis.dlx",
		DLQQueue:    "arrakis.dlq",
		DLQTTL:      7 * 24 * time.Hour,
		Queues: []rabbitmq.QueueBinding{
			{
				Queue:       "arrakis.interactions",
				MaxPriority: 10,
				RoutingKeys: []string{
					"interaction.*",
					"interaction.command.*",
					"interaction.button.*",
					"interaction.modal.*",
					"interaction.autocomplete.*",
				},
			},
			{
				Queue:       "arrakis.events.guild",
				RoutingKeys: []string{"guild.*", "member.*", "message.*"},
			},
		},
	}

	require.Equal(t, "arrakis.events", top.Exchange)
	require.Len(t, top.Queues, 2)
	require.EqualValues(t, 10, top.Queues[0].MaxPriority)
	require.EqualValues(t, 0, top.Queues[1].MaxPriority)
}
