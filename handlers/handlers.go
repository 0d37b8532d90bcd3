package handlers

// handlers turn slash commands and button clicks into gate operations and
// render every outcome as exactly one reply.

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"

	"wavebot/controller"
	"wavebot/database"
	"wavebot/discord"
	"wavebot/sentry"
	"wavebot/sentryhelper"
)

// Command is one request from a user, independent of how it arrived.
type Command struct {
	Name       string
	GuildID    string
	UserID     string
	FromButton bool
}

type Options struct {
	AppID          string
	RadioURL       string
	RadioName      string
	SupportURL     string
	AutoReplay     bool
	CommandRate    int
	ReplayAttempts int
	ReplayBackoff  time.Duration
}

type Dependencies struct {
	Gate      *controller.Gate
	Platform  Platform
	Streams   StreamAttacher
	Responder Responder
	Stats     StatsSource
	History   GuildHistory
}

type Manager struct {
	gate      *controller.Gate
	platform  Platform
	streams   StreamAttacher
	responder Responder
	stats     StatsSource
	history   GuildHistory
	tips      *tips
	limiter   *userLimiter
	options   Options

	ctx        context.Context
	cancel     context.CancelFunc
	background sync.WaitGroup
	closeMu    sync.Mutex
	closed     bool

	logger *log.Entry
}

func NewManager(deps Dependencies, options Options) *Manager {
	if options.ReplayAttempts <= 0 {
		options.ReplayAttempts = 3
	}
	if options.ReplayBackoff <= 0 {
		options.ReplayBackoff = 2 * time.Second
	}
	if options.CommandRate <= 0 {
		options.CommandRate = 20
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		gate:      deps.Gate,
		platform:  deps.Platform,
		streams:   deps.Streams,
		responder: deps.Responder,
		stats:     deps.Stats,
		history:   deps.History,
		tips:      newTips(options.AutoReplay),
		limiter:   newUserLimiter(options.CommandRate),
		options:   options,
		ctx:       ctx,
		cancel:    cancel,
		logger: log.WithFields(log.Fields{
			"module": "handlers",
		}),
	}
}

// Close cancels pending replays and follow-ups and waits for them.
func (manager *Manager) Close() {
	manager.closeMu.Lock()
	manager.closed = true
	manager.closeMu.Unlock()

	manager.cancel()
	manager.background.Wait()
}

// goBackground runs fn unless the manager is shutting down.
func (manager *Manager) goBackground(fn func()) bool {
	manager.closeMu.Lock()
	defer manager.closeMu.Unlock()
	if manager.closed {
		return false
	}
	manager.background.Add(1)
	go func() {
		defer manager.background.Done()
		fn()
	}()
	return true
}

// voiceCommands need the caller to be in a voice channel. A play from a
// radio card button does not.
var voiceCommands = map[string]bool{
	discord.CommandJoin:      true,
	discord.CommandPlay:      true,
	discord.CommandRadio:     true,
	discord.CommandVaporwave: true,
}

var globalCommands = map[string]bool{
	discord.CommandPing:    true,
	discord.CommandHelp:    true,
	discord.CommandInvite:  true,
	discord.CommandSupport: true,
	discord.CommandStats:   true,
}

// Dispatch runs cmd and returns the reply to show. It never panics.
func (manager *Manager) Dispatch(ctx context.Context, cmd Command) *discord.Reply {
	if reply := manager.Precheck(cmd); reply != nil {
		return reply
	}
	return manager.Execute(ctx, cmd)
}

// Precheck rejects commands that can be refused without touching the gate:
// rate limited users, guild commands outside a server and voice commands
// from callers outside voice. A nil reply means cmd may run; rejections are
// ephemeral.
func (manager *Manager) Precheck(cmd Command) (reply *discord.Reply) {
	logger := manager.logger.WithFields(log.Fields{
		"method":  "Precheck",
		"guildID": cmd.GuildID,
		"command": cmd.Name,
	})
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic checking command %s: %v", cmd.Name, r)
			logger.Error(err)
			sentry.ReportError(err)
			reply = ephemeral("An error occurred while processing your command")
		}
	}()

	if allowed, wait := manager.limiter.Allow(cmd.UserID); !allowed {
		logger.Debugf("rate limited user %s", cmd.UserID)
		return ephemeral(fmt.Sprintf("Slow down! Try again in %s.", roundUp(wait)))
	}
	if globalCommands[cmd.Name] {
		return nil
	}
	if cmd.GuildID == "" {
		return ephemeral("This command only works in a server.")
	}
	if voiceCommands[cmd.Name] && !(cmd.Name == discord.CommandPlay && cmd.FromButton) {
		if _, err := manager.platform.VoiceChannelOf(cmd.GuildID, cmd.UserID); err != nil {
			return ephemeral("Please join a voice channel first.")
		}
	}
	return nil
}

// Execute runs a command that passed Precheck. It never panics.
func (manager *Manager) Execute(ctx context.Context, cmd Command) (reply *discord.Reply) {
	ctx, transaction := sentryhelper.StartCommandTransaction(ctx, cmd.Name, cmd.GuildID, cmd.UserID)
	defer transaction.Finish()

	logger := manager.logger.WithFields(log.Fields{
		"method":  "Execute",
		"guildID": cmd.GuildID,
		"command": cmd.Name,
	})

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic in command %s: %v", cmd.Name, r)
			logger.Error(err)
			sentryhelper.CaptureException(ctx, err)
			reply = ephemeral("An error occurred while processing your command")
		}
	}()

	logger.Debugf("received command from %s", cmd.UserID)
	sentryhelper.AddBreadcrumb(ctx, "command", cmd.Name)

	switch cmd.Name {
	case discord.CommandPing:
		return manager.handlePing()
	case discord.CommandHelp:
		return manager.handleHelp()
	case discord.CommandInvite:
		return manager.handleInvite()
	case discord.CommandSupport:
		return manager.handleSupport()
	case discord.CommandStats:
		return manager.handleStats(ctx)
	case discord.CommandJoin:
		return manager.handleJoin(ctx, cmd)
	case discord.CommandPlay:
		return manager.handlePlay(ctx, cmd)
	case discord.CommandRadio, discord.CommandVaporwave:
		return manager.handleRadio(ctx, cmd)
	case discord.CommandStop:
		return manager.handleStop(ctx, cmd)
	case discord.CommandLeave:
		return manager.handleLeave(ctx, cmd)
	case discord.CommandStatus:
		return manager.handleStatus(ctx, cmd)
	default:
		return ephemeral("Sorry, I don't know how to handle this type of interaction")
	}
}

func (manager *Manager) handlePing() *discord.Reply {
	latency := manager.platform.Latency()
	return &discord.Reply{
		Content: fmt.Sprintf("Pong! Gateway latency: %dms", latency.Milliseconds()),
	}
}

func (manager *Manager) handleHelp() *discord.Reply {
	return &discord.Reply{
		Embeds:    []*discordgo.MessageEmbed{discord.BuildHelpEmbed(discord.Commands())},
		Ephemeral: true,
	}
}

func (manager *Manager) handleInvite() *discord.Reply {
	return &discord.Reply{
		Content: fmt.Sprintf("Thanks for wanting to invite me! Here is my [invite link](<%s>).",
			discord.InviteURL(manager.options.AppID)),
		Ephemeral: true,
	}
}

func (manager *Manager) handleSupport() *discord.Reply {
	return &discord.Reply{
		Content:   "Need more help? Join the support server: " + manager.options.SupportURL,
		Ephemeral: true,
	}
}

func (manager *Manager) handleStats(ctx context.Context) *discord.Reply {
	if manager.stats == nil {
		return ephemeral("Stats are not available right now.")
	}
	snapshot := manager.stats.Snapshot(ctx)
	return &discord.Reply{
		Embeds: []*discordgo.MessageEmbed{discord.BuildStatsEmbed(&snapshot)},
	}
}

// callerChannel resolves the voice channel of the caller and checks that
// the bot may join it. A non-nil reply means the command cannot proceed.
func (manager *Manager) callerChannel(cmd Command) (string, *discord.Reply) {
	channelID, err := manager.platform.VoiceChannelOf(cmd.GuildID, cmd.UserID)
	if err != nil {
		return "", ephemeral("Please join a voice channel first.")
	}

	switch err := manager.platform.CanJoin(channelID); {
	case errors.Is(err, discord.ErrMissingConnect):
		return "", ephemeral(fmt.Sprintf("I don't have permission to connect to **%s**.", manager.platform.ChannelName(channelID)))
	case errors.Is(err, discord.ErrMissingSpeak):
		return "", ephemeral(fmt.Sprintf("I don't have permission to speak in **%s**.", manager.platform.ChannelName(channelID)))
	case err != nil:
		// permissions unknown from cache; let the join itself decide
		manager.logger.WithField("guildID", cmd.GuildID).Debugf("permission check skipped: %v", err)
	}
	return channelID, nil
}

func (manager *Manager) join(ctx context.Context, cmd Command) (controller.Outcome, *discord.Reply) {
	channelID, reply := manager.callerChannel(cmd)
	if reply != nil {
		return controller.Outcome{}, reply
	}

	span := sentryhelper.StartSpan(ctx, "voice.join")
	outcome := manager.gate.HandleJoin(ctx, cmd.GuildID, channelID, cmd.UserID, manager.platform.Opener(cmd.GuildID))
	span.Finish()
	return outcome, nil
}

func (manager *Manager) play(ctx context.Context, cmd Command) controller.Outcome {
	span := sentryhelper.StartSpan(ctx, "radio.attach")
	defer span.Finish()
	return manager.gate.HandlePlay(ctx, cmd.GuildID, manager.options.RadioURL, manager.attacher(cmd.GuildID))
}

func (manager *Manager) handleJoin(ctx context.Context, cmd Command) *discord.Reply {
	outcome, reply := manager.join(ctx, cmd)
	if reply != nil {
		return reply
	}
	return manager.render(ctx, cmd, outcome)
}

func (manager *Manager) handlePlay(ctx context.Context, cmd Command) *discord.Reply {
	return manager.render(ctx, cmd, manager.play(ctx, cmd))
}

// handleRadio joins the caller's channel when needed and starts the radio.
func (manager *Manager) handleRadio(ctx context.Context, cmd Command) *discord.Reply {
	joined, reply := manager.join(ctx, cmd)
	if reply != nil {
		return reply
	}
	switch joined.Result {
	case controller.Joined, controller.AlreadyConnected:
	default:
		return manager.render(ctx, cmd, joined)
	}
	return manager.render(ctx, cmd, manager.play(ctx, cmd))
}

func (manager *Manager) handleStop(ctx context.Context, cmd Command) *discord.Reply {
	return manager.render(ctx, cmd, manager.gate.HandleStop(ctx, cmd.GuildID))
}

func (manager *Manager) handleLeave(ctx context.Context, cmd Command) *discord.Reply {
	return manager.render(ctx, cmd, manager.gate.HandleLeave(ctx, cmd.GuildID))
}

func (manager *Manager) handleStatus(ctx context.Context, cmd Command) *discord.Reply {
	current, ok := manager.gate.Registry().Get(cmd.GuildID)
	if !ok {
		return ephemeral("I'm not in a voice channel in this server. Use /radio to start listening.")
	}

	card := &discord.RadioCard{
		RadioName:    manager.options.RadioName,
		RadioURL:     current.RadioURL,
		ChannelName:  manager.platform.ChannelName(current.ChannelID),
		RequestedBy:  current.RequestedBy,
		PlayingSince: current.PlayingSince,
	}
	switch {
	case current.IsPlaying():
		card.Title = "On air"
	default:
		card.Title = "Connected"
		card.Description = "The radio is stopped. Use /play to start it."
	}

	if manager.history != nil {
		if plays, err := manager.history.GuildPlays(ctx, cmd.GuildID); err == nil && plays > 0 {
			card.Description = strings.TrimSpace(card.Description + fmt.Sprintf("\nStreams started here: %d", plays))
		}
		if events, err := manager.history.RecentEvents(ctx, cmd.GuildID, recentEventLimit); err == nil && len(events) > 0 {
			card.Description = strings.TrimSpace(card.Description + "\n\n**Recent activity**\n" + formatEvents(events))
		} else if err != nil {
			manager.logger.WithField("guildID", cmd.GuildID).Warnf("error loading recent events: %v", err)
		}
	}

	return &discord.Reply{
		Embeds:     []*discordgo.MessageEmbed{discord.BuildRadioEmbed(card)},
		Components: discord.BuildRadioButtons(cmd.GuildID, current.IsPlaying()),
	}
}

const recentEventLimit = 5

// formatEvents renders session events one per line, newest first, with
// Discord relative timestamps.
func formatEvents(events []database.SessionEvent) string {
	lines := make([]string, 0, len(events))
	for _, event := range events {
		line := fmt.Sprintf("`%s` <t:%d:R>", event.Event, event.At.Unix())
		if event.UserID != "" {
			line += fmt.Sprintf(" by <@%s>", event.UserID)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func ephemeral(content string) *discord.Reply {
	return &discord.Reply{Content: content, Ephemeral: true}
}

func roundUp(d time.Duration) time.Duration {
	rounded := d.Round(time.Second)
	if rounded < d {
		rounded += time.Second
	}
	if rounded < time.Second {
		rounded = time.Second
	}
	return rounded
}
