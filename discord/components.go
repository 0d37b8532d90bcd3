package discord

import (
	"strings"

	"github.com/bwmarrin/discordgo"
)

const (
	ButtonPrefix = "radio"

	ActionPlay  = "play"
	ActionStop  = "stop"
	ActionLeave = "leave"
)

// ButtonCustomID builds the custom ID of a radio control button
// Format: "radio:action:guildID"
func ButtonCustomID(action, guildID string) string {
	return ButtonPrefix + ":" + action + ":" + guildID
}

// ParseButtonCustomID extracts action and guildID from button custom ID
func ParseButtonCustomID(customID string) (action, guildID string, ok bool) {
	parts := strings.Split(customID, ":")
	if len(parts) != 3 || parts[0] != ButtonPrefix || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// BuildRadioButtons creates the control row shown under a radio card
func BuildRadioButtons(guildID string, isPlaying bool) []discordgo.MessageComponent {
	playOrStop := discordgo.Button{
		CustomID: ButtonCustomID(ActionPlay, guildID),
		Label:    "Play",
		Style:    discordgo.SuccessButton,
		Emoji:    &discordgo.ComponentEmoji{Name: "▶️"},
	}
	if isPlaying {
		playOrStop = discordgo.Button{
			CustomID: ButtonCustomID(ActionStop, guildID),
			Label:    "Stop",
			Style:    discordgo.SecondaryButton,
			Emoji:    &discordgo.ComponentEmoji{Name: "⏹️"},
		}
	}

	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				playOrStop,
				discordgo.Button{
					CustomID: ButtonCustomID(ActionLeave, guildID),
					Label:    "Leave",
					Style:    discordgo.DangerButton,
					Emoji:    &discordgo.ComponentEmoji{Name: "👋"},
				},
			},
		},
	}
}
