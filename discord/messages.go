package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	sentry "github.com/getsentry/sentry-go"
)

// Reply is what a command answers with.
type Reply struct {
	Content    string
	Embeds     []*discordgo.MessageEmbed
	Components []discordgo.MessageComponent
	Ephemeral  bool
}

func (r *Reply) ResponseData() *discordgo.InteractionResponseData {
	data := &discordgo.InteractionResponseData{
		Content:    r.Content,
		Embeds:     r.Embeds,
		Components: r.Components,
	}
	if r.Ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return data
}

// WebhookEdit converts the reply into an edit of a deferred response.
// Fields left empty are cleared so a "thinking" placeholder never lingers.
func (r *Reply) WebhookEdit() *discordgo.WebhookEdit {
	content := r.Content
	embeds := r.Embeds
	if embeds == nil {
		embeds = []*discordgo.MessageEmbed{}
	}
	components := r.Components
	if components == nil {
		components = []discordgo.MessageComponent{}
	}
	return &discordgo.WebhookEdit{
		Content:    &content,
		Embeds:     &embeds,
		Components: &components,
	}
}

// WebhookParams converts the reply into a follow-up message. Follow-ups are
// the only way to answer a deferred interaction privately.
func (r *Reply) WebhookParams() *discordgo.WebhookParams {
	params := &discordgo.WebhookParams{
		Content:    r.Content,
		Embeds:     r.Embeds,
		Components: r.Components,
	}
	if r.Ephemeral {
		params.Flags = discordgo.MessageFlagsEphemeral
	}
	return params
}

// DeferredResponse acknowledges an interaction that is answered later with
// EditResponse. Component clicks update the message they came from.
func DeferredResponse(interaction *discordgo.Interaction, ephemeral bool) *discordgo.InteractionResponse {
	if interaction.Type == discordgo.InteractionMessageComponent {
		return &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate}
	}
	response := &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredChannelMessageWithSource}
	if ephemeral {
		response.Data = &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral}
	}
	return response
}

func (c *Client) Defer(interaction *discordgo.Interaction, ephemeral bool) error {
	if err := c.Session.InteractionRespond(interaction, DeferredResponse(interaction, ephemeral)); err != nil {
		sentry.CaptureException(err)
		return fmt.Errorf("error deferring interaction: %w", err)
	}
	return nil
}

func (c *Client) Respond(interaction *discordgo.Interaction, reply *Reply) error {
	err := c.Session.InteractionRespond(interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: reply.ResponseData(),
	})
	if err != nil {
		sentry.CaptureException(err)
		return fmt.Errorf("error responding to interaction: %w", err)
	}
	return nil
}

// EditResponse fills in a deferred response. It only needs the interaction
// token, so it also completes interactions received over HTTP.
func (c *Client) EditResponse(interaction *discordgo.Interaction, reply *Reply) error {
	if _, err := c.Session.InteractionResponseEdit(interaction, reply.WebhookEdit()); err != nil {
		sentry.CaptureException(err)
		c.logger.Errorf("Error editing interaction response: %v", err)
		return fmt.Errorf("error editing interaction response: %w", err)
	}
	return nil
}

// FollowUp answers a deferred interaction with a new message. The public
// "thinking" placeholder of a slash command is removed; a button click keeps
// the card it came from.
func (c *Client) FollowUp(interaction *discordgo.Interaction, reply *Reply) error {
	if _, err := c.Session.FollowupMessageCreate(interaction, true, reply.WebhookParams()); err != nil {
		sentry.CaptureException(err)
		return fmt.Errorf("error sending follow-up message: %w", err)
	}
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return nil
	}
	if err := c.Session.InteractionResponseDelete(interaction); err != nil {
		c.logger.Warnf("Error deleting deferred response: %v", err)
	}
	return nil
}
