// Package handlers registers the representative command/button handlers
// that exercise the Handler Registry end to end. The full command catalog
// (member stats, badges, waitlist, etc.) is out of scope; these stand in
// for it.
package handlers

import (
	"strings"

	"github.com/arrakis-platform/gateway-proxy/pkg/handler"
	"github.com/arrakis-platform/gateway-proxy/pkg/replier"
)

// Register binds the sample handlers into r.
func Register(r *handler.Registry) {
	r.Register("interaction.command.stats", stats)
	r.Register("interaction.command.admin-badge", adminBadge)
	r.SetFallback(unknownCommand)

	// The Registry matches event_type exactly, so a button whose customId
	// embeds an argument (alerts_toggle_position_<profileId>) is only
	// reachable here for the profile ids registered explicitly; a full
	// command catalog would generate these registrations per profile or
	// move the dispatch into the handler body via a shared prefix parser.
	r.Register("interaction.button.alerts_toggle_position_demo-guild-1", alertsTogglePosition)
}

// stats is the §8 slash-command happy path: defer, do the (stubbed) lookup,
// post a followup embed.
func stats(hc handler.Context) (handler.Disposition, error) {
	env := hc.Envelope

	hc.Replier.DeferReply(hc, env.InteractionID, env.InteractionToken, false)

	hc.Replier.SendFollowup(hc, env.InteractionToken, "", []replier.Embed{
		{
			Title:       "Member Stats",
			Description: "Stats for <@" + env.UserID + ">",
			Fields: []replier.EmbedField{
				{Name: "Guild", Value: env.GuildID, Inline: true},
			},
		},
	})

	return handler.Ack, nil
}

// adminBadge exists to be reached only when the Dispatcher's admin-bit
// check (§4.4 step 3) has already passed; the denial path never calls in
// here.
func adminBadge(hc handler.Context) (handler.Disposition, error) {
	hc.Replier.SendFollowup(hc, hc.Envelope.InteractionToken, "Badge granted.", nil)
	return handler.Ack, nil
}

// unknownCommand is the default fallback (§4.7): ack with a reply instead
// of silently dropping, so the invoking user sees a response. The returned
// error classifies the invocation for metrics/logging even though the
// disposition itself is Ack.
func unknownCommand(hc handler.Context) (handler.Disposition, error) {
	env := hc.Envelope
	if env.InteractionToken != "" {
		hc.Replier.SendFollowup(hc, env.InteractionToken, "Unknown command.", nil)
	}
	return handler.Ack, handler.ErrUnknownCommand
}

// alertsTogglePosition demonstrates the customId-namespacing convention
// (§9): the dynamic tail after the handler's registered prefix carries the
// profile id argument.
func alertsTogglePosition(hc handler.Context) (handler.Disposition, error) {
	const prefix = "interaction.button.alerts_toggle_position_"

	profileID := strings.TrimPrefix(hc.Envelope.EventType, prefix)

	hc.Replier.UpdateMessage(hc, hc.Envelope.InteractionID, hc.Envelope.InteractionToken,
		"Alerts toggled for profile "+profileID, nil)

	return handler.Ack, nil
}
