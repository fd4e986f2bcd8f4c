package replier

import (
	"context"
	"sync"
)

// Call records one invocation against a memory Replier, for test
// assertions on what a handler sent.
type Call struct {
	Op      string
	Target  string
	Content string
}

// Memory is an in-process Replier fake: every operation succeeds and is
// recorded, with no network calls.
type Memory struct {
	mu    sync.Mutex
	Calls []Call
}

// NewMemory returns an empty Memory replier.
func NewMemory() *Memory {
	return &Memory{}
}

var _ Replier = (*Memory)(nil)

func (m *Memory) record(op, target, content string) Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, Call{Op: op, Target: target, Content: content})
	return Result{Success: true}
}

func (m *Memory) DeferReply(ctx context.Context, interactionID, interactionToken string, ephemeral bool) Result {
	return m.record("defer_reply", interactionID, "")
}

func (m *Memory) SendFollowup(ctx context.Context, interactionToken string, content string, embeds []Embed) Result {
	return m.record("send_followup", interactionToken, content)
}

func (m *Memory) EditOriginal(ctx context.Context, interactionToken string, content string, embeds []Embed) Result {
	return m.record("edit_original", interactionToken, content)
}

func (m *Memory) RespondAutocomplete(ctx context.Context, interactionID, interactionToken string, choices map[string]string) Result {
	return m.record("respond_autocomplete", interactionID, "")
}

func (m *Memory) UpdateMessage(ctx context.Context, interactionID, interactionToken string, content string, embeds []Embed) Result {
	return m.record("update_message", interactionID, content)
}

func (m *Memory) DeferUpdate(ctx context.Context, interactionID, interactionToken string) Result {
	return m.record("defer_update", interactionID, "")
}

func (m *Memory) SendDM(ctx context.Context, userID string, content string) Result {
	return m.record("send_dm", userID, content)
}

func (m *Memory) AssignRole(ctx context.Context, guildID, userID, roleID string) Result {
	return m.record("assign_role", guildID+":"+userID, roleID)
}

func (m *Memory) RemoveRole(ctx context.Context, guildID, userID, roleID string) Result {
	return m.record("remove_role", guildID+":"+userID, roleID)
}
