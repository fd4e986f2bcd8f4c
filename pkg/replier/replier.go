// Package replier implements the REST Replier: the nine Discord REST
// operations a Dispatcher-invoked handler uses to respond to an
// interaction or act on a guild member, with platform rate-limit
// retry-with-backoff (§4.8).
package replier

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/arrakis-platform/gateway-proxy/pkg/client/rest"
	"github.com/arrakis-platform/gateway-proxy/pkg/errors"
	"github.com/arrakis-platform/gateway-proxy/pkg/logger"
)

// Result is the outcome of a REST Replier operation: it never throws on
// an expected platform 4xx, surfacing it through Err instead.
type Result struct {
	Success bool
	Err     error
}

// Embed is a minimal, serialization-friendly rich-message payload; it
// maps 1:1 onto discordgo.MessageEmbed at the call boundary.
type Embed struct {
	Title       string
	Description string
	Color       int
	Fields      []EmbedField
}

// EmbedField is one row of an Embed's field table.
type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// Replier is the interaction/member-facing REST surface a handler uses to
// respond. It never requires the bot token for interaction replies — only
// for role grants and DMs, matching §4.8's token-scoping rule.
type Replier interface {
	// DeferReply acknowledges an interaction (type 5), buying time up to
	// the interaction deadline while the handler does real work.
	DeferReply(ctx context.Context, interactionID, interactionToken string, ephemeral bool) Result

	// SendFollowup posts the substantive reply after a DeferReply.
	SendFollowup(ctx context.Context, interactionToken string, content string, embeds []Embed) Result

	// EditOriginal replaces the original deferred/replied message.
	EditOriginal(ctx context.Context, interactionToken string, content string, embeds []Embed) Result

	// RespondAutocomplete answers an autocomplete interaction with choices.
	RespondAutocomplete(ctx context.Context, interactionID, interactionToken string, choices map[string]string) Result

	// UpdateMessage edits the message a component interaction originated
	// from, in the same response as acknowledging it (type 7).
	UpdateMessage(ctx context.Context, interactionID, interactionToken string, content string, embeds []Embed) Result

	// DeferUpdate acknowledges a component interaction without changing
	// the message (type 6), when the handler will follow up later.
	DeferUpdate(ctx context.Context, interactionID, interactionToken string) Result

	// SendDM delivers a direct message to a user. Requires the bot token.
	SendDM(ctx context.Context, userID string, content string) Result

	// AssignRole grants a role to a guild member. Requires the bot token.
	AssignRole(ctx context.Context, guildID, userID, roleID string) Result

	// RemoveRole revokes a role from a guild member. Requires the bot token.
	RemoveRole(ctx context.Context, guildID, userID, roleID string) Result
}

// Config configures the Discord-backed Replier.
type Config struct {
	BotToken      string `env:"DISCORD_BOT_TOKEN" validate:"required"`
	ApplicationID string `env:"DISCORD_APPLICATION_ID" validate:"required"`
	MaxRetries    int    `env:"REPLIER_MAX_RETRIES" env-default:"2"`
}

// discordReplier implements Replier over a discordgo.Session. Interaction
// operations address Discord by interaction_id/interaction_token alone
// (the platform's interaction-callback endpoints require no bot auth);
// role/DM operations go through the session's bot-token-authenticated
// REST client.
type discordReplier struct {
	session *discordgo.Session
	appID   string
	retries int
}

// New builds a Replier. The session's bot token is used only for role and
// DM operations, per §4.8.
func New(cfg Config) (Replier, error) {
	session, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, errors.Internal("failed to create discord session", err)
	}

	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 2
	}

	// Route the session's own REST calls through the retrying, OTel-
	// instrumented transport. The rest.Client's circuit breaker guards only
	// its Do method, which discordgo does not call, and is not enabled by
	// this Config. withRetry below layers Discord's own rate-limit wait on
	// top of this.
	session.Client = rest.New(rest.Config{Retries: retries}).HTTPClient()

	return &discordReplier{session: session, appID: cfg.ApplicationID, retries: retries}, nil
}

var _ Replier = (*discordReplier)(nil)

func toDiscordEmbeds(embeds []Embed) []*discordgo.MessageEmbed {
	if len(embeds) == 0 {
		return nil
	}
	out := make([]*discordgo.MessageEmbed, 0, len(embeds))
	for _, e := range embeds {
		fields := make([]*discordgo.MessageEmbedField, 0, len(e.Fields))
		for _, f := range e.Fields {
			fields = append(fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
		}
		out = append(out, &discordgo.MessageEmbed{
			Title:       e.Title,
			Description: e.Description,
			Color:       e.Color,
			Fields:      fields,
		})
	}
	return out
}

func (r *discordReplier) interaction(id, token string) *discordgo.Interaction {
	return &discordgo.Interaction{ID: id, Token: token, AppID: r.appID}
}

// withRetry applies platform rate-limit retry-with-backoff: up to
// r.retries extra attempts, honoring discordgo's own RateLimitError wait.
func (r *discordReplier) withRetry(ctx context.Context, op func() error) Result {
	var err error
	for attempt := 0; attempt <= r.retries; attempt++ {
		err = op()
		if err == nil {
			return Result{Success: true}
		}

		if rlErr, ok := err.(*discordgo.RateLimitError); ok {
			wait := time.Duration(rlErr.RetryAfter * float64(time.Second))
			logger.L().WarnContext(ctx, "discord rate limited, retrying", "attempt", attempt, "retry_after", wait)
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return Result{Success: false, Err: ctx.Err()}
			}
		}

		break
	}
	return Result{Success: false, Err: errors.Wrap(err, "discord rest call failed")}
}

func (r *discordReplier) DeferReply(ctx context.Context, interactionID, interactionToken string, ephemeral bool) Result {
	return r.withRetry(ctx, func() error {
		resp := &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredChannelMessageWithSource}
		if ephemeral {
			resp.Data = &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral}
		}
		return r.session.InteractionRespond(r.interaction(interactionID, interactionToken), resp, discordgo.WithContext(ctx))
	})
}

func (r *discordReplier) SendFollowup(ctx context.Context, interactionToken string, content string, embeds []Embed) Result {
	return r.withRetry(ctx, func() error {
		_, err := r.session.FollowupMessageCreate(r.interaction("", interactionToken), true, &discordgo.WebhookParams{
			Content: content,
			Embeds:  toDiscordEmbeds(embeds),
		}, discordgo.WithContext(ctx))
		return err
	})
}

func (r *discordReplier) EditOriginal(ctx context.Context, interactionToken string, content string, embeds []Embed) Result {
	return r.withRetry(ctx, func() error {
		_, err := r.session.InteractionResponseEdit(r.interaction("", interactionToken), &discordgo.WebhookEdit{
			Content: &content,
			Embeds:  ptrEmbeds(toDiscordEmbeds(embeds)),
		}, discordgo.WithContext(ctx))
		return err
	})
}

func ptrEmbeds(e []*discordgo.MessageEmbed) *[]*discordgo.MessageEmbed {
	if e == nil {
		return nil
	}
	return &e
}

func (r *discordReplier) RespondAutocomplete(ctx context.Context, interactionID, interactionToken string, choices map[string]string) Result {
	return r.withRetry(ctx, func() error {
		options := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(choices))
		for name, value := range choices {
			options = append(options, &discordgo.ApplicationCommandOptionChoice{Name: name, Value: value})
		}
		resp := &discordgo.InteractionResponse{
			Type: discordgo.InteractionApplicationCommandAutocompleteResult,
			Data: &discordgo.InteractionResponseData{Choices: options},
		}
		return r.session.InteractionRespond(r.interaction(interactionID, interactionToken), resp, discordgo.WithContext(ctx))
	})
}

func (r *discordReplier) UpdateMessage(ctx context.Context, interactionID, interactionToken string, content string, embeds []Embed) Result {
	return r.withRetry(ctx, func() error {
		resp := &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseUpdateMessage,
			Data: &discordgo.InteractionResponseData{
				Content: content,
				Embeds:  toDiscordEmbeds(embeds),
			},
		}
		return r.session.InteractionRespond(r.interaction(interactionID, interactionToken), resp, discordgo.WithContext(ctx))
	})
}

func (r *discordReplier) DeferUpdate(ctx context.Context, interactionID, interactionToken string) Result {
	return r.withRetry(ctx, func() error {
		resp := &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate}
		return r.session.InteractionRespond(r.interaction(interactionID, interactionToken), resp, discordgo.WithContext(ctx))
	})
}

func (r *discordReplier) SendDM(ctx context.Context, userID string, content string) Result {
	return r.withRetry(ctx, func() error {
		channel, err := r.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
		if err != nil {
			return err
		}
		_, err = r.session.ChannelMessageSend(channel.ID, content, discordgo.WithContext(ctx))
		return err
	})
}

func (r *discordReplier) AssignRole(ctx context.Context, guildID, userID, roleID string) Result {
	return r.withRetry(ctx, func() error {
		return r.session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx))
	})
}

func (r *discordReplier) RemoveRole(ctx context.Context, guildID, userID, roleID string) Result {
	return r.withRetry(ctx, func() error {
		return r.session.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx))
	})
}
