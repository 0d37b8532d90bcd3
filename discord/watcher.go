package discord

import (
	"time"

	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"

	"wavebot/session"
)

// dropGrace is how long a fresh session is trusted over a disconnect event
// that may have been sent for the connection it replaced.
const dropGrace = 3 * time.Second

// VoiceEvents is the part of the gate the watcher needs.
type VoiceEvents interface {
	OnConnectionDropped(guildID string) (session.VoiceSession, bool)
	OnChannelMoved(guildID, channelID string) (session.VoiceSession, bool)
	Registry() *session.Registry
}

type readiness interface {
	Ready() bool
}

// VoiceWatcher removes sessions whose voice connection was severed from
// outside a leave command: a moderator disconnecting the bot, the channel
// being deleted, or the bot being kicked from the guild.
type VoiceWatcher struct {
	gate      VoiceEvents
	onDropped func(session.VoiceSession)
	now       func() time.Time
	logger    *log.Entry
}

func NewVoiceWatcher(gate VoiceEvents, onDropped func(session.VoiceSession)) *VoiceWatcher {
	return &VoiceWatcher{
		gate:      gate,
		onDropped: onDropped,
		now:       time.Now,
		logger: log.WithFields(log.Fields{
			"module": "voice-watcher",
		}),
	}
}

// Register subscribes the watcher to the gateway events it needs.
func (w *VoiceWatcher) Register(s *discordgo.Session) {
	s.AddHandler(func(s *discordgo.Session, update *discordgo.VoiceStateUpdate) {
		if s.State == nil || s.State.User == nil {
			return
		}
		w.HandleVoiceState(s.State.User.ID, update.VoiceState)
	})
	s.AddHandler(func(s *discordgo.Session, event *discordgo.GuildDelete) {
		w.HandleGuildRemoved(event.ID)
	})
}

func (w *VoiceWatcher) HandleVoiceState(botUserID string, state *discordgo.VoiceState) {
	if state == nil || state.UserID != botUserID {
		return
	}

	logger := w.logger.WithFields(log.Fields{
		"method":  "HandleVoiceState",
		"guildID": state.GuildID,
	})

	current, ok := w.gate.Registry().Get(state.GuildID)
	if !ok {
		return
	}

	if state.ChannelID != "" {
		if state.ChannelID != current.ChannelID {
			logger.Infof("moved from %s to %s", current.ChannelID, state.ChannelID)
			w.gate.OnChannelMoved(state.GuildID, state.ChannelID)
		}
		return
	}

	if w.isFresh(current) {
		logger.Debug("ignoring disconnect for a session that just joined")
		return
	}

	w.drop(state.GuildID)
}

// HandleGuildRemoved drops the session of a guild the bot can no longer see.
func (w *VoiceWatcher) HandleGuildRemoved(guildID string) {
	if _, ok := w.gate.Registry().Get(guildID); !ok {
		return
	}
	w.drop(guildID)
}

func (w *VoiceWatcher) drop(guildID string) {
	removed, ok := w.gate.OnConnectionDropped(guildID)
	if !ok {
		return
	}
	if w.onDropped != nil {
		w.onDropped(removed)
	}
}

func (w *VoiceWatcher) isFresh(current session.VoiceSession) bool {
	if w.now().Sub(current.JoinedAt) >= dropGrace {
		return false
	}
	conn, ok := current.Connection.(readiness)
	return ok && conn.Ready()
}
