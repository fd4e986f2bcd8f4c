package ingestor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/arrakis-platform/gateway-proxy/pkg/concurrency"
	"github.com/arrakis-platform/gateway-proxy/pkg/envelope"
	"github.com/arrakis-platform/gateway-proxy/pkg/errors"
	"github.com/arrakis-platform/gateway-proxy/pkg/logger"
	"github.com/arrakis-platform/gateway-proxy/pkg/replier"
	"github.com/arrakis-platform/gateway-proxy/pkg/resilience"
)

// SessionState is one state of the gateway session's state machine (§4.1).
type SessionState string

const (
	StateDisconnected SessionState = "disconnected"
	StateConnecting   SessionState = "connecting"
	StateReady        SessionState = "ready"
)

const (
	reconnectBackoffBase = 1 * time.Second
	reconnectBackoffCap  = 60 * time.Second
	reconnectFactor      = 2.0
)

// Session owns the Discord gateway WebSocket connection and turns each
// supported gateway event into an envelope published through a Publisher.
// No user/message/member/presence/voice/thread/reaction/ban/invite/
// scheduled-event/auto-mod cache is retained: every discordgo collection is
// configured to zero capacity, per §4.1's caching prohibition.
type Session struct {
	cfg       Config
	publisher *Publisher
	replier   replier.Replier

	mu               sync.RWMutex
	state            SessionState
	session          *discordgo.Session
	reconnectAttempt int
}

// NewSession builds a gateway Session. It does not connect.
func NewSession(cfg Config, pub *Publisher, rep replier.Replier) *Session {
	return &Session{cfg: cfg, publisher: pub, replier: rep, state: StateDisconnected}
}

// Run connects, retrying a failed connect with jittered exponential backoff
// (1s base, factor 2, cap 60s), then holds the gateway session open until
// ctx is canceled. Once connected, Run does not reconnect the session
// itself.
func (s *Session) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := s.connect(); err != nil {
			logger.L().ErrorContext(ctx, "gateway connect failed", "error", err)
			if !s.sleepBackoff(ctx) {
				return ctx.Err()
			}
			continue
		}

		s.reconnectAttempt = 0
		<-ctx.Done()
		s.disconnect()
		return ctx.Err()
	}
}

// sleepBackoff waits out one jittered exponential backoff step (1s base,
// factor 2, cap 60s) and advances the attempt counter, returning false if
// ctx was canceled first.
func (s *Session) sleepBackoff(ctx context.Context) bool {
	jittered := resilience.ExponentialBackoff(s.reconnectAttempt, reconnectBackoffBase, reconnectBackoffCap, 0.5)
	s.reconnectAttempt++

	select {
	case <-ctx.Done():
		return false
	case <-time.After(jittered):
		return true
	}
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// State reports the current gateway session state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) connect() error {
	s.setState(StateConnecting)

	dg, err := discordgo.New("Bot " + s.cfg.DiscordBotToken)
	if err != nil {
		return errors.Internal("failed to create gateway session", err)
	}

	// Intent set is restricted to guilds, guild members, guild messages and
	// interactions (the default); presence and typing are forbidden by §4.1
	// and deliberately left out.
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages

	dg.ShardID = s.cfg.ShardID
	dg.ShardCount = s.cfg.ShardCount

	// Zero-capacity caching: every State collection is disabled so no user,
	// message, member, presence, voice, thread, reaction, ban, invite,
	// scheduled-event or auto-mod data accumulates in-process.
	dg.State.MaxMessageCount = 0
	dg.State.TrackChannels = false
	dg.State.TrackEmojis = false
	dg.State.TrackMembers = false
	dg.State.TrackThreads = false
	dg.State.TrackPresences = false
	dg.State.TrackVoice = false
	dg.State.TrackRoles = false

	dg.AddHandler(s.onInteractionCreate)
	dg.AddHandler(s.onGuildMemberAdd)
	dg.AddHandler(s.onGuildMemberRemove)
	dg.AddHandler(s.onGuildMemberUpdate)
	dg.AddHandler(s.onGuildCreate)
	dg.AddHandler(s.onGuildDelete)
	dg.AddHandler(s.onMessageCreate)
	dg.AddHandler(s.onReady)
	dg.AddHandler(s.onDisconnect)

	if err := dg.Open(); err != nil {
		return errors.Unavailable("failed to open gateway connection", err)
	}

	s.mu.Lock()
	s.session = dg
	s.mu.Unlock()

	return nil
}

func (s *Session) disconnect() {
	s.setState(StateDisconnected)

	s.mu.Lock()
	sess := s.session
	s.session = nil
	s.mu.Unlock()

	if sess != nil {
		sess.Close()
	}
}

func (s *Session) onReady(_ *discordgo.Session, _ *discordgo.Ready) {
	s.setState(StateReady)
}

func (s *Session) onDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	s.setState(StateDisconnected)
}

// publish builds and sends an envelope, applying §4.1's failure semantics:
// a publish failure on an interaction gets a best-effort synchronous error
// reply (if time remains) before the envelope is dropped; a publish failure
// on any other event is silently dropped with an error log (retries already
// happened inside Publisher.Publish).
//
// The actual build+send runs on its own goroutine via concurrency.SafeGo:
// discordgo invokes handlers on its single gateway dispatch goroutine, so a
// slow broker publish (or a panic in envelope construction) must not block
// or take down event delivery for the rest of the session.
func (s *Session) publish(ctx context.Context, b envelope.Builder) {
	concurrency.SafeGo(ctx, func() {
		env, err := b.Build()
		if err != nil {
			logger.L().ErrorContext(ctx, "failed to build envelope", "error", err, "event_type", b.EventType)
			return
		}

		if err := s.publisher.Publish(ctx, env); err != nil {
			logger.L().ErrorContext(ctx, "publish failed", "error", err, "event_type", env.EventType, "event_id", env.EventID)

			if env.StaticKind().IsInteraction() && env.InteractionToken != "" {
				deadline := time.UnixMilli(env.Timestamp).Add(2500 * time.Millisecond)
				if time.Now().Before(deadline) {
					s.replier.DeferReply(ctx, env.InteractionID, env.InteractionToken, false)
					s.replier.SendFollowup(ctx, env.InteractionToken, "Something went wrong handling that, please try again.", nil)
				}
			}
		}
	})
}

func (s *Session) onInteractionCreate(_ *discordgo.Session, ic *discordgo.InteractionCreate) {
	ctx := context.Background()

	// DM interactions (no guild_id) have no tenant to rate-limit or scope
	// config against; reject at the boundary rather than carry an optional
	// guild_id through every downstream layer.
	if ic.GuildID == "" {
		return
	}

	var eventType string
	var data interface{}

	switch ic.Type {
	case discordgo.InteractionApplicationCommand:
		eventType = "interaction.command." + ic.ApplicationCommandData().Name
		data = ic.ApplicationCommandData()
	case discordgo.InteractionMessageComponent:
		md := ic.MessageComponentData()
		if md.ComponentType == discordgo.ButtonComponent {
			eventType = "interaction.button." + md.CustomID
		} else {
			eventType = "interaction.modal." + md.CustomID
		}
		data = md
	case discordgo.InteractionModalSubmit:
		eventType = "interaction.modal." + ic.ModalSubmitData().CustomID
		data = ic.ModalSubmitData()
	case discordgo.InteractionApplicationCommandAutocomplete:
		eventType = "interaction.autocomplete." + ic.ApplicationCommandData().Name
		data = ic.ApplicationCommandData()
	default:
		return
	}

	var userID string
	if ic.Member != nil && ic.Member.User != nil {
		userID = ic.Member.User.ID
	} else if ic.User != nil {
		userID = ic.User.ID
	}

	payload, _ := json.Marshal(struct {
		Member interface{} `json:"member"`
		Data   interface{} `json:"data"`
	}{Member: ic.Member, Data: data})

	s.publish(ctx, envelope.Builder{
		EventType:        eventType,
		ShardID:          s.cfg.ShardID,
		GuildID:          ic.GuildID,
		ChannelID:        ic.ChannelID,
		UserID:           userID,
		InteractionID:    ic.ID,
		InteractionToken: ic.Token,
		Data:             json.RawMessage(payload),
	})
}

func (s *Session) onGuildMemberAdd(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
	s.publish(context.Background(), envelope.Builder{
		EventType: string(envelope.KindMemberJoin),
		ShardID:   s.cfg.ShardID,
		GuildID:   m.GuildID,
		UserID:    m.User.ID,
		Data:      m.Member,
	})
}

func (s *Session) onGuildMemberRemove(_ *discordgo.Session, m *discordgo.GuildMemberRemove) {
	s.publish(context.Background(), envelope.Builder{
		EventType: string(envelope.KindMemberLeave),
		ShardID:   s.cfg.ShardID,
		GuildID:   m.GuildID,
		UserID:    m.User.ID,
		Data:      m.Member,
	})
}

func (s *Session) onGuildMemberUpdate(_ *discordgo.Session, m *discordgo.GuildMemberUpdate) {
	s.publish(context.Background(), envelope.Builder{
		EventType: string(envelope.KindMemberUpdate),
		ShardID:   s.cfg.ShardID,
		GuildID:   m.GuildID,
		UserID:    m.User.ID,
		Data:      m.Member,
	})
}

func (s *Session) onGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	if g.Unavailable {
		return
	}
	s.publish(context.Background(), envelope.Builder{
		EventType: string(envelope.KindGuildJoin),
		ShardID:   s.cfg.ShardID,
		GuildID:   g.ID,
		Data:      struct{}{},
	})
}

func (s *Session) onGuildDelete(_ *discordgo.Session, g *discordgo.GuildDelete) {
	if g.Unavailable {
		return
	}
	s.publish(context.Background(), envelope.Builder{
		EventType: string(envelope.KindGuildLeave),
		ShardID:   s.cfg.ShardID,
		GuildID:   g.ID,
		Data:      struct{}{},
	})
}

func (s *Session) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	s.publish(context.Background(), envelope.Builder{
		EventType: string(envelope.KindMessageCreate),
		ShardID:   s.cfg.ShardID,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		UserID:    m.Author.ID,
		Data: struct {
			Content string `json:"content"`
		}{Content: m.Content},
	})
}
