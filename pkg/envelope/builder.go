package envelope

import (
	"encoding/json"
	"time"

	"github.com/arrakis-platform/gateway-proxy/pkg/errors"
	"github.com/google/uuid"
)

// Builder constructs a valid Envelope from the fields an Ingestor collects
// off a single gateway event, generating its event_id and timestamp.
type Builder struct {
	EventType        string
	ShardID          int
	GuildID          string
	ChannelID        string
	UserID           string
	InteractionID    string
	InteractionToken string
	TraceID          string
	SpanID           string
	ParentSpanID     string
	Data             interface{}
}

// Build marshals Data, generates a UUIDv4 EventID, stamps Timestamp with
// the current time, and validates the result.
func (b Builder) Build() (*Envelope, error) {
	data, err := json.Marshal(b.Data)
	if err != nil {
		return nil, errors.Internal("failed to marshal envelope data", err)
	}

	env := &Envelope{
		EventID:          uuid.NewString(),
		EventType:        b.EventType,
		Timestamp:        NewTimestamp(time.Now()),
		ShardID:          b.ShardID,
		GuildID:          b.GuildID,
		ChannelID:        b.ChannelID,
		UserID:           b.UserID,
		InteractionID:    b.InteractionID,
		InteractionToken: b.InteractionToken,
		Trace: TraceContext{
			TraceID:      b.TraceID,
			SpanID:       b.SpanID,
			ParentSpanID: b.ParentSpanID,
		},
		Data: data,
	}

	if err := env.Validate(); err != nil {
		return nil, err
	}

	return env, nil
}
