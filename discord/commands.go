package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Command names understood by the handlers.
const (
	CommandJoin      = "join"
	CommandPlay      = "play"
	CommandLeave     = "leave"
	CommandStop      = "stop"
	CommandRadio     = "radio"
	CommandVaporwave = "vaporwave"
	CommandStatus    = "status"
	CommandPing      = "ping"
	CommandStats     = "stats"
	CommandHelp      = "help"
	CommandInvite    = "invite"
	CommandSupport   = "support"
)

// InvitePermissions is the permission set requested by the invite link:
// view channels, send messages, embed links, connect, speak.
const InvitePermissions = discordgo.PermissionViewChannel |
	discordgo.PermissionSendMessages |
	discordgo.PermissionEmbedLinks |
	discordgo.PermissionVoiceConnect |
	discordgo.PermissionVoiceSpeak

func Commands() []*discordgo.ApplicationCommand {
	guildOnly := false
	return []*discordgo.ApplicationCommand{
		{Name: CommandJoin, Description: "Join the voice channel you are in", DMPermission: &guildOnly},
		{Name: CommandPlay, Description: "Start the radio in the channel I joined", DMPermission: &guildOnly},
		{Name: CommandRadio, Description: "Join your voice channel and start the radio", DMPermission: &guildOnly},
		{Name: CommandVaporwave, Description: "Join your voice channel and start the radio", DMPermission: &guildOnly},
		{Name: CommandStop, Description: "Stop the radio but stay in the channel", DMPermission: &guildOnly},
		{Name: CommandLeave, Description: "Stop the radio and leave the voice channel", DMPermission: &guildOnly},
		{Name: CommandStatus, Description: "Show what the radio is doing in this server", DMPermission: &guildOnly},
		{Name: CommandPing, Description: "Show gateway latency"},
		{Name: CommandStats, Description: "Show bot statistics"},
		{Name: CommandHelp, Description: "List the available commands"},
		{Name: CommandInvite, Description: "Get a link to add the bot to your server"},
		{Name: CommandSupport, Description: "Get a link to the support server"},
	}
}

// RegisterCommands overwrites the application's slash commands. A non-empty
// guildID registers them for that guild only, which applies instantly.
func (c *Client) RegisterCommands(appID, guildID string) error {
	registered, err := c.Session.ApplicationCommandBulkOverwrite(appID, guildID, Commands())
	if err != nil {
		return fmt.Errorf("error registering commands: %w", err)
	}

	scope := "globally"
	if guildID != "" {
		scope = "for guild " + guildID
	}
	c.logger.Infof("registered %d commands %s", len(registered), scope)
	return nil
}

func InviteURL(appID string) string {
	return fmt.Sprintf(
		"https://discord.com/oauth2/authorize?client_id=%s&scope=bot%%20applications.commands&permissions=%d",
		appID, InvitePermissions)
}
