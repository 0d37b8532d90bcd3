package handlers

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"

	"wavebot/audio"
	"wavebot/controller"
	"wavebot/database"
	"wavebot/discord"
	"wavebot/session"
	"wavebot/stats"
)

// Platform is what the command layer needs from the chat gateway.
type Platform interface {
	VoiceChannelOf(guildID, userID string) (string, error)
	CanJoin(channelID string) error
	ChannelName(channelID string) string
	Opener(guildID string) controller.Opener
	Latency() time.Duration
}

// Responder delivers replies to interactions.
type Responder interface {
	Respond(interaction *discordgo.Interaction, reply *discord.Reply) error
	Defer(interaction *discordgo.Interaction, ephemeral bool) error
	EditResponse(interaction *discordgo.Interaction, reply *discord.Reply) error
	FollowUp(interaction *discordgo.Interaction, reply *discord.Reply) error
}

// StreamAttacher opens a radio stream on a connection. onEnd is called once
// when the stream stops on its own; err is nil for a clean end of stream.
type StreamAttacher interface {
	Attach(ctx context.Context, conn session.Connection, radioURL string, onEnd func(stream session.Stream, err error)) (session.Stream, error)
}

type StatsSource interface {
	Snapshot(ctx context.Context) stats.Snapshot
}

// GuildHistory is optional lifetime activity per guild.
type GuildHistory interface {
	GuildPlays(ctx context.Context, guildID string) (int64, error)
	RecentEvents(ctx context.Context, guildID string, limit int) ([]database.SessionEvent, error)
}

type discordPlatform struct {
	client *discord.Client
}

func NewDiscordPlatform(client *discord.Client) Platform {
	return &discordPlatform{client: client}
}

func (p *discordPlatform) VoiceChannelOf(guildID, userID string) (string, error) {
	return discord.VoiceChannelOf(p.client.Session.State, guildID, userID)
}

func (p *discordPlatform) CanJoin(channelID string) error {
	return discord.CanJoin(p.client.Session.State, p.client.BotUserID(), channelID)
}

func (p *discordPlatform) ChannelName(channelID string) string {
	return discord.VoiceChannelName(p.client.Session.State, channelID)
}

func (p *discordPlatform) Opener(guildID string) controller.Opener {
	return p.client.Opener(guildID)
}

func (p *discordPlatform) Latency() time.Duration {
	return p.client.Latency()
}

type audioAttacher struct {
	streamer *audio.Streamer
}

// NewAudioAttacher adapts the audio streamer to the command layer.
func NewAudioAttacher(streamer *audio.Streamer) StreamAttacher {
	return &audioAttacher{streamer: streamer}
}

func (a *audioAttacher) Attach(ctx context.Context, conn session.Connection, radioURL string, onEnd func(session.Stream, error)) (session.Stream, error) {
	stream, err := a.streamer.Attach(ctx, conn, radioURL, func(s *audio.Stream, event audio.StreamEvent) {
		switch event.Type {
		case audio.StreamEnded:
			onEnd(s, nil)
		case audio.StreamFailed:
			onEnd(s, event.Err)
		}
	})
	if err != nil {
		return nil, err
	}
	return stream, nil
}
