package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	log "github.com/sirupsen/logrus"
)

type ConfigStruct struct {
	Discord  DiscordConfig
	Radio    RadioConfig
	Options  Options
	Database DatabaseConfig
	Sentry   SentryConfig
}

type DiscordConfig struct {
	BotToken   string `env:"DISCORD_BOT_TOKEN"`
	AppID      string `env:"DISCORD_APP_ID"`
	PublicKey  string `env:"DISCORD_PUBLIC_KEY"`
	GuildID    string `env:"DISCORD_GUILD_ID"`
	SupportURL string `env:"SUPPORT_URL" envDefault:"https://discord.gg/DaXPp8C"`
}

type RadioConfig struct {
	URL  string `env:"RADIO_URL" envDefault:"http://radio.plaza.one/ogg"`
	Name string `env:"RADIO_NAME" envDefault:"vaporwave radio"`
}

type DatabaseConfig struct {
	Path string `env:"DB_PATH" envDefault:"/app/data/wavebot.db"`
}

type SentryConfig struct {
	DSN     string `env:"SENTRY_DSN"`
	Release string `env:"RELEASE"`
}

type Options struct {
	Port                  string `env:"PORT" envDefault:"8080"`
	LogLevel              string `env:"LOG_LEVEL" envDefault:"info"`
	AutoReplay            bool   `env:"AUTO_REPLAY" envDefault:"true"`
	ConnectTimeoutSeconds int    `env:"CONNECT_TIMEOUT_SECONDS" envDefault:"10"`
	StreamTimeoutSeconds  int    `env:"STREAM_TIMEOUT_SECONDS" envDefault:"15"`
	AudioBitrate          int    `env:"AUDIO_BITRATE" envDefault:"128000"` // bps
	CommandRatePerMinute  int    `env:"COMMAND_RATE_PER_MINUTE" envDefault:"20"`
}

func (d *DiscordConfig) InteractionsEnabled() bool {
	return d.PublicKey != ""
}

func (options *Options) ConnectTimeout() time.Duration {
	return time.Duration(options.ConnectTimeoutSeconds) * time.Second
}

func (options *Options) StreamTimeout() time.Duration {
	return time.Duration(options.StreamTimeoutSeconds) * time.Second
}

var Config *ConfigStruct

// NewConfig parses the environment into the package-level Config.
func NewConfig() error {
	config, err := Parse()
	if err != nil {
		return err
	}
	Config = config
	return nil
}

func Parse() (*ConfigStruct, error) {
	config := &ConfigStruct{}
	if err := env.Parse(config); err != nil {
		var aggregate env.AggregateError
		if !errors.As(err, &aggregate) {
			return nil, err
		}
		for _, fieldErr := range aggregate.Errors {
			var parseErr env.ParseError
			if errors.As(fieldErr, &parseErr) && clampedFields[parseErr.Name] {
				// clamped below to its default
				log.Warnf("ignoring invalid %s: %v", parseErr.Name, parseErr.Err)
				continue
			}
			return nil, fmt.Errorf("error parsing config: %w", fieldErr)
		}
	}

	config.Options.ConnectTimeoutSeconds = getConnectTimeout(config.Options.ConnectTimeoutSeconds)
	config.Options.StreamTimeoutSeconds = getStreamTimeout(config.Options.StreamTimeoutSeconds)
	config.Options.AudioBitrate = getAudioBitrate(config.Options.AudioBitrate)
	config.Options.CommandRatePerMinute = getCommandRate(config.Options.CommandRatePerMinute)
	if config.Options.Port == "" {
		config.Options.Port = "8080"
	}

	if config.Discord.BotToken == "" || config.Discord.AppID == "" {
		return nil, errors.New("DISCORD_BOT_TOKEN and DISCORD_APP_ID must be set")
	}
	return config, nil
}

// clampedFields fall back to their defaults when malformed.
var clampedFields = map[string]bool{
	"ConnectTimeoutSeconds": true,
	"StreamTimeoutSeconds":  true,
	"AudioBitrate":          true,
	"CommandRatePerMinute":  true,
}

func getConnectTimeout(seconds int) int {
	if seconds <= 0 {
		return 10
	}
	if seconds > 60 {
		return 60
	}
	return seconds
}

func getStreamTimeout(seconds int) int {
	if seconds <= 0 {
		return 15
	}
	if seconds > 120 {
		return 120
	}
	return seconds
}

func getCommandRate(perMinute int) int {
	if perMinute <= 0 {
		return 20
	}
	if perMinute > 600 {
		return 600
	}
	return perMinute
}

func getAudioBitrate(bitrate int) int {
	if bitrate <= 0 {
		return 128000 // max for regular voice channels
	}
	// Discord accepts 8 kbps to 512 kbps for Opus
	if bitrate < 8000 {
		return 8000
	}
	if bitrate > 512000 {
		return 512000
	}
	return bitrate
}
