package discord

import (
	"errors"

	"github.com/bwmarrin/discordgo"
)

var (
	ErrUserNotInVoice = errors.New("user is not in a voice channel")
	ErrMissingConnect = errors.New("missing permission to connect to the voice channel")
	ErrMissingSpeak   = errors.New("missing permission to speak in the voice channel")
	ErrChannelUnknown = errors.New("voice channel is not in the state cache")
)

// VoiceChannelOf returns the voice channel userID currently sits in.
func VoiceChannelOf(state *discordgo.State, guildID, userID string) (string, error) {
	if state == nil {
		return "", ErrUserNotInVoice
	}
	voiceState, err := state.VoiceState(guildID, userID)
	if err != nil || voiceState == nil || voiceState.ChannelID == "" {
		return "", ErrUserNotInVoice
	}
	return voiceState.ChannelID, nil
}

// CanJoin checks that botUserID may connect and speak in channelID.
func CanJoin(state *discordgo.State, botUserID, channelID string) error {
	if state == nil {
		return ErrChannelUnknown
	}
	permissions, err := state.UserChannelPermissions(botUserID, channelID)
	if err != nil {
		return ErrChannelUnknown
	}
	if permissions&discordgo.PermissionAdministrator != 0 {
		return nil
	}
	if permissions&discordgo.PermissionVoiceConnect == 0 {
		return ErrMissingConnect
	}
	if permissions&discordgo.PermissionVoiceSpeak == 0 {
		return ErrMissingSpeak
	}
	return nil
}

// VoiceChannelName resolves a channel ID for display, falling back to a mention.
func VoiceChannelName(state *discordgo.State, channelID string) string {
	if state != nil {
		if channel, err := state.Channel(channelID); err == nil && channel.Name != "" {
			return channel.Name
		}
	}
	return "<#" + channelID + ">"
}
