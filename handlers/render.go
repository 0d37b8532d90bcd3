package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"

	"wavebot/controller"
	"wavebot/discord"
	"wavebot/sentryhelper"
)

// render maps each gate outcome to its reply.
func (manager *Manager) render(ctx context.Context, cmd Command, outcome controller.Outcome) *discord.Reply {
	channel := ""
	if outcome.Session.ChannelID != "" {
		channel = manager.platform.ChannelName(outcome.Session.ChannelID)
	}

	if outcome.Failed() && !errors.Is(outcome.Err, context.Canceled) {
		switch outcome.Result {
		case controller.ConnectFailed, controller.StreamUnavailable:
			sentryhelper.CaptureException(ctx, outcome.Err)
		}
		manager.logger.WithField("guildID", cmd.GuildID).Warnf("%s: %v", outcome.Result, outcome.Err)
	}
	if outcome.Changed() {
		manager.logger.WithFields(log.Fields{
			"guildID": cmd.GuildID,
			"userID":  cmd.UserID,
		}).Infof("%s: %s", cmd.Name, outcome.Result)
	}

	switch outcome.Result {
	case controller.Joined:
		return &discord.Reply{
			Embeds: []*discordgo.MessageEmbed{discord.BuildRadioEmbed(&discord.RadioCard{
				Title:       "Joined " + channel,
				Description: "Use /play to start the radio." + manager.tips.For(cmd.GuildID, outcome.Result),
				ChannelName: channel,
				RequestedBy: cmd.UserID,
			})},
			Components: discord.BuildRadioButtons(cmd.GuildID, false),
		}
	case controller.Playing:
		return &discord.Reply{
			Embeds: []*discordgo.MessageEmbed{discord.BuildRadioEmbed(&discord.RadioCard{
				Title:       "Now playing",
				Description: fmt.Sprintf("Streaming %s in **%s**.", manager.options.RadioName, channel) + manager.tips.For(cmd.GuildID, outcome.Result),
				RadioName:   manager.options.RadioName,
				RadioURL:    outcome.Session.RadioURL,
				ChannelName: channel,
				RequestedBy: cmd.UserID,
			})},
			Components: discord.BuildRadioButtons(cmd.GuildID, true),
		}
	case controller.Stopped:
		return &discord.Reply{
			Embeds: []*discordgo.MessageEmbed{discord.BuildRadioEmbed(&discord.RadioCard{
				Title:       "Stopped the radio",
				Description: "I'm still in the channel. Use /play to start it again.",
				ChannelName: channel,
			})},
			Components: discord.BuildRadioButtons(cmd.GuildID, false),
		}
	case controller.Left:
		manager.tips.forget(cmd.GuildID)
		return &discord.Reply{Content: fmt.Sprintf("Left **%s**. See you next time!", channel)}
	case controller.AlreadyConnected:
		return ephemeral(fmt.Sprintf("I'm already in **%s**.", channel))
	case controller.AlreadyPlaying:
		return ephemeral(fmt.Sprintf("The radio is already playing in **%s**.", channel))
	case controller.NotConnected:
		return ephemeral("I'm still connecting to the voice channel, try again in a moment.")
	case controller.NotPlaying:
		return ephemeral("The radio isn't playing. Use /play to start it.")
	case controller.NotInChannel:
		return ephemeral("I'm not in a voice channel. Use /join or /radio first.")
	case controller.ConnectFailed:
		return ephemeral("I couldn't join your voice channel. Please try again.")
	case controller.StreamUnavailable:
		return ephemeral("The radio stream is unavailable right now. Please try again later.")
	case controller.Busy:
		return ephemeral("I'm still working on another command for this server, try again in a moment.")
	default:
		return ephemeral("An error occurred while processing your command")
	}
}
