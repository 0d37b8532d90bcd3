package discord

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"wavebot/stats"
)

const (
	EmbedColor  = 0xFF6AD5
	EmbedFooter = "Powered by plaza.one"

	thumbnailFirst = 2
	thumbnailLast  = 84
)

// RadioCard contains the info shown on a join/play card
type RadioCard struct {
	Title        string
	Description  string
	RadioName    string
	RadioURL     string
	ChannelName  string
	RequestedBy  string
	PlayingSince *time.Time
}

// ThumbnailURL picks one of the station's background gifs at random
func ThumbnailURL() string {
	n := thumbnailFirst + rand.IntN(thumbnailLast-thumbnailFirst+1)
	return fmt.Sprintf("https://plaza.one/img/backs/%02d.gif", n)
}

// BuildRadioEmbed creates the card sent when the bot joins or starts playing
func BuildRadioEmbed(card *RadioCard) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       card.Title,
		Description: card.Description,
		Color:       EmbedColor,
		Thumbnail: &discordgo.MessageEmbedThumbnail{
			URL: ThumbnailURL(),
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: EmbedFooter,
		},
		Timestamp: time.Now().Format(time.RFC3339),
	}

	if card.ChannelName != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   "Channel",
			Value:  card.ChannelName,
			Inline: true,
		})
	}
	if card.RadioName != "" {
		station := card.RadioName
		if card.RadioURL != "" {
			station = fmt.Sprintf("[%s](%s)", card.RadioName, card.RadioURL)
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   "Station",
			Value:  station,
			Inline: true,
		})
	}
	if card.RequestedBy != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   "Requested by",
			Value:  "<@" + card.RequestedBy + ">",
			Inline: true,
		})
	}
	if card.PlayingSince != nil {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   "On air for",
			Value:  FormatDuration(time.Since(*card.PlayingSince)),
			Inline: true,
		})
	}

	return embed
}

// BuildMessageEmbed wraps a plain reply in the bot's colors
func BuildMessageEmbed(title, description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       EmbedColor,
		Footer: &discordgo.MessageEmbedFooter{
			Text: EmbedFooter,
		},
	}
}

func BuildHelpEmbed(commands []*discordgo.ApplicationCommand) *discordgo.MessageEmbed {
	var desc strings.Builder
	for _, command := range commands {
		desc.WriteString(fmt.Sprintf("**/%s** | %s\n", command.Name, command.Description))
	}
	desc.WriteString("\nPlease join a voice channel before using /radio.")

	embed := BuildMessageEmbed("Commands", desc.String())
	embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: ThumbnailURL()}
	return embed
}

func BuildStatsEmbed(snapshot *stats.Snapshot) *discordgo.MessageEmbed {
	embed := BuildMessageEmbed("Stats", "")
	embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: ThumbnailURL()}
	embed.Fields = []*discordgo.MessageEmbedField{
		{Name: "Uptime", Value: stats.FormatUptime(snapshot.Uptime), Inline: true},
		{Name: "Memory", Value: stats.FormatBytes(snapshot.MemoryBytes), Inline: true},
		{Name: "CPU", Value: fmt.Sprintf("%.1f%%", snapshot.CPUPercent), Inline: true},
		{Name: "Servers", Value: fmt.Sprint(snapshot.Guilds), Inline: true},
		{Name: "Voice sessions", Value: fmt.Sprint(snapshot.Sessions), Inline: true},
		{Name: "Playing", Value: fmt.Sprint(snapshot.Playing), Inline: true},
	}
	if snapshot.LifetimePlays > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   "Streams started",
			Value:  stats.FormatCount(snapshot.LifetimePlays),
			Inline: true,
		})
	}
	return embed
}

// FormatDuration formats duration as MM:SS or HH:MM:SS
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
