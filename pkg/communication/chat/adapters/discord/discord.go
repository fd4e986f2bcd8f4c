package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/arrakis-platform/gateway-proxy/pkg/communication/chat"
	"github.com/arrakis-platform/gateway-proxy/pkg/errors"
	"github.com/go-playground/validator/v10"
)

// Sender implements chat.Sender for Discord.
type Sender struct {
	session *discordgo.Session
}

// New creates a new Discord sender.
func New(cfg chat.Config) (*Sender, error) {
	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.InvalidArgument("invalid config", err)
	}

	if cfg.DiscordToken == "" {
		return nil, errors.InvalidArgument("Discord token is required", nil)
	}

	// Create a new Discord session using the provided bot token.
	dg, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, errors.Internal("failed to create discord session", err)
	}

	return &Sender{
		session: dg,
	}, nil
}

// Send implements chat.Sender.
func (s *Sender) Send(ctx context.Context, msg *chat.Message) error {
	channelID := msg.ChannelID
	if channelID == "" {
		return errors.InvalidArgument("ChannelID is required for Discord", nil)
	}

	// Simple text message
	if len(msg.Attachments) == 0 {
		_, err := s.session.ChannelMessageSend(channelID, msg.Text)
		if err != nil {
			return errors.Internal("failed to send discord message", err)
		}
		return nil
	}

	// Rich embed
	embed := &discordgo.MessageEmbed{
		Title:       "Message", // Default title if none, or handle differently
		Description: msg.Text,
	}

	// Discord API limits 1 embed per message usually in simple helper, or complex allows list.
	// We'll map the first attachment to the main embed, and fields.
	// Or we create complex message.

	// Complex implementation to handle attachments roughly mapped to Embeds
	for _, att := range msg.Attachments {
		if att.Title != "" {
			embed.Title = att.Title
		}
		if att.Text != "" {
			embed.Description = att.Text // Use attachment text if present, or msg.Text
		}
		if att.Color != "" {
			// Parse hex color string to int? Discord expects int.
			// skipping color parsing for brevity/robustness unless needed.
		}
		if att.ImageURL != "" {
			embed.Image = &discordgo.MessageEmbedImage{
				URL: att.ImageURL,
			}
		}
		for _, f := range att.Fields {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
				Name:   f.Title,
				Value:  f.Value,
				Inline: f.Short,
			})
		}
		// Discord supports multiple embeds but send helper usually takes one.
		// We'll stop at first for basic support.
		break
	}

	_, err := s.session.ChannelMessageSendEmbed(channelID, embed)
	if err != nil {
		return errors.Internal("failed to send discord embed", err)
	}

	return nil
}

// Close implements chat.Sender.
func (s *Sender) Close() error {
	return s.session.Close()
}
