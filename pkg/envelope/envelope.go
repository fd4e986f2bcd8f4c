// Package envelope defines the Event Envelope: the single payload shape
// every Discord gateway event is normalized into before it crosses the
// broker, and the routing/priority table that maps an event kind to its
// destination queue.
package envelope

import (
	"encoding/json"
	"time"

	"github.com/arrakis-platform/gateway-proxy/pkg/errors"
)

// Kind is the closed set of event kinds an Envelope can carry. Interaction
// kinds carry a dynamic tail (command name or custom ID) appended at
// construction time, e.g. "interaction.command.stats".
type Kind string

const (
	KindInteractionCommand      Kind = "interaction.command"
	KindInteractionButton       Kind = "interaction.button"
	KindInteractionModal        Kind = "interaction.modal"
	KindInteractionAutocomplete Kind = "interaction.autocomplete"
	KindMemberJoin              Kind = "member.join"
	KindMemberLeave             Kind = "member.leave"
	KindMemberUpdate            Kind = "member.update"
	KindGuildJoin               Kind = "guild.join"
	KindGuildLeave              Kind = "guild.leave"
	KindMessageCreate           Kind = "message.create"
)

// IsInteraction reports whether kind is one of the four interaction kinds.
func (k Kind) IsInteraction() bool {
	switch k {
	case KindInteractionCommand, KindInteractionButton, KindInteractionModal, KindInteractionAutocomplete:
		return true
	default:
		return false
	}
}

// Queue names, matching the topology asserted at start-up.
const (
	QueueInteractions = "arrakis.interactions"
	QueueEventsGuild  = "arrakis.events.guild"
)

// Route describes where an event kind is published and at what priority.
type Route struct {
	Queue    string
	Priority uint8
}

// routingTable is the fixed routing/priority mapping. Dynamic-tail kinds
// (interaction.*) are matched by their static prefix.
var routingTable = map[Kind]Route{
	KindInteractionCommand:      {Queue: QueueInteractions, Priority: 10},
	KindInteractionButton:       {Queue: QueueInteractions, Priority: 8},
	KindInteractionModal:        {Queue: QueueInteractions, Priority: 8},
	KindInteractionAutocomplete: {Queue: QueueInteractions, Priority: 6},
	KindMemberJoin:              {Queue: QueueEventsGuild, Priority: 5},
	KindMemberLeave:             {Queue: QueueEventsGuild, Priority: 5},
	KindMemberUpdate:            {Queue: QueueEventsGuild, Priority: 3},
	KindGuildJoin:               {Queue: QueueEventsGuild, Priority: 4},
	KindGuildLeave:              {Queue: QueueEventsGuild, Priority: 4},
	KindMessageCreate:           {Queue: QueueEventsGuild, Priority: 1},
}

// RouteFor resolves the routing key's static kind prefix to its queue and
// priority. kind must already have any dynamic tail stripped (see
// Envelope.StaticKind).
func RouteFor(kind Kind) (Route, error) {
	route, ok := routingTable[kind]
	if !ok {
		return Route{}, errors.InvalidArgument("no route for event kind "+string(kind), nil)
	}
	return route, nil
}

// TraceContext carries W3C-style correlation identifiers. TraceID is
// created by the Ingestor and is immutable from that point on.
type TraceContext struct {
	TraceID      string `json:"trace_id"`
	SpanID       string `json:"span_id"`
	ParentSpanID string `json:"parent_span_id,omitempty"`
}

// Envelope is the broker payload: the normalized shape every Discord
// gateway event takes before publication. EventType's dynamic tail
// (command name / custom ID) is appended to the static Kind prefix, e.g.
// "interaction.command.stats".
type Envelope struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	Timestamp        int64           `json:"timestamp"`
	ShardID          int             `json:"shard_id"`
	GuildID          string          `json:"guild_id,omitempty"`
	ChannelID        string          `json:"channel_id,omitempty"`
	UserID           string          `json:"user_id,omitempty"`
	InteractionID    string          `json:"interaction_id,omitempty"`
	InteractionToken string          `json:"interaction_token,omitempty"`
	Trace            TraceContext    `json:"trace"`
	Data             json.RawMessage `json:"data"`
}

// StaticKind returns the routing-table kind for this envelope, stripping
// any dynamic tail from an interaction EventType.
func (e *Envelope) StaticKind() Kind {
	for _, prefix := range []Kind{
		KindInteractionCommand, KindInteractionButton,
		KindInteractionModal, KindInteractionAutocomplete,
	} {
		if len(e.EventType) >= len(prefix) && e.EventType[:len(prefix)] == string(prefix) {
			return prefix
		}
	}
	return Kind(e.EventType)
}

// Validate enforces the Data Model invariants of §3: event_id/event_type
// presence, guild_id presence (every envelope is tenant-scoped; DM events,
// which carry no guild_id, are rejected), and interaction_id/
// interaction_token always appearing together.
func (e *Envelope) Validate() error {
	if e.EventID == "" {
		return errors.InvalidArgument("envelope missing event_id", nil)
	}
	if e.EventType == "" {
		return errors.InvalidArgument("envelope missing event_type", nil)
	}
	if e.GuildID == "" {
		return errors.InvalidArgument("envelope missing guild_id", nil)
	}

	hasID := e.InteractionID != ""
	hasToken := e.InteractionToken != ""
	if hasID != hasToken {
		return errors.InvalidArgument("interaction_id and interaction_token must appear together", nil)
	}

	if e.StaticKind().IsInteraction() && !hasID {
		return errors.InvalidArgument("interaction envelope missing interaction_id/interaction_token", nil)
	}

	return nil
}

// NewTimestamp returns milliseconds since epoch, matching the envelope's
// timestamp unit (Ingestor receipt time).
func NewTimestamp(t time.Time) int64 {
	return t.UnixMilli()
}
