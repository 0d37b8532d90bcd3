package discord

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"

	"wavebot/config"
)

// Client wraps the gateway session the bot uses for commands and voice.
type Client struct {
	Session *discordgo.Session
	logger  *log.Entry
}

func NewSession(discordConfig config.DiscordConfig, radioName string) (*Client, error) {
	session, err := discordgo.New("Bot " + discordConfig.BotToken)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	client := &Client{
		Session: session,
		logger: log.WithFields(log.Fields{
			"module": "discord",
		}),
	}

	session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		client.logger.Infof("%s is ready in %d guilds", r.User.Username, len(r.Guilds))
		if err := s.UpdateListeningStatus(radioName); err != nil {
			client.logger.Warnf("error setting presence: %v", err)
		}
	})

	return client, nil
}

func (c *Client) Open() error {
	if err := c.Session.Open(); err != nil {
		return fmt.Errorf("error opening Discord gateway: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.Session.Close()
}

func (c *Client) Latency() time.Duration {
	return c.Session.HeartbeatLatency()
}

func (c *Client) GuildCount() int {
	if c.Session.State == nil {
		return 0
	}
	c.Session.State.RLock()
	defer c.Session.State.RUnlock()
	return len(c.Session.State.Guilds)
}

func (c *Client) BotUserID() string {
	if c.Session.State == nil || c.Session.State.User == nil {
		return ""
	}
	return c.Session.State.User.ID
}
