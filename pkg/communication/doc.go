/*
Package communication provides outbound delivery services.

Subpackages:

  - chat: channel messages (plain text or embeds) via Discord or an in-memory adapter

Usage:

	import "github.com/arrakis-platform/gateway-proxy/pkg/communication/chat/adapters/discord"

	sender, err := discord.New(cfg)
	err = sender.Send(ctx, &chat.Message{ChannelID: "123", Text: "hello"})
*/
package communication
