package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wavebot/session"

	log "github.com/sirupsen/logrus"
)

// Opener performs the transport-level voice join for channelID.
type Opener func(ctx context.Context, channelID string) (session.Connection, error)

// Attacher opens radioURL and binds it to conn.
type Attacher func(ctx context.Context, conn session.Connection, radioURL string) (session.Stream, error)

type Options struct {
	ConnectTimeout time.Duration
	StreamTimeout  time.Duration
}

const (
	defaultConnectTimeout = 10 * time.Second
	defaultStreamTimeout  = 15 * time.Second
)

// Gate turns join/play/leave intents into registry transitions. Every
// mutating operation for a guild runs under that guild's lock; handles are
// acquired before the registry changes and released if the registry
// refuses them.
type Gate struct {
	registry       *session.Registry
	locks          *keyedMutex
	connectTimeout time.Duration
	streamTimeout  time.Duration
	logger         *log.Entry
}

func NewGate(registry *session.Registry, options Options) *Gate {
	if options.ConnectTimeout <= 0 {
		options.ConnectTimeout = defaultConnectTimeout
	}
	if options.StreamTimeout <= 0 {
		options.StreamTimeout = defaultStreamTimeout
	}

	return &Gate{
		registry:       registry,
		locks:          newKeyedMutex(),
		connectTimeout: options.ConnectTimeout,
		streamTimeout:  options.StreamTimeout,
		logger: log.WithFields(log.Fields{
			"module": "controller",
		}),
	}
}

func (g *Gate) Registry() *session.Registry {
	return g.registry
}

func (g *Gate) HandleJoin(ctx context.Context, guildID, channelID, userID string, opener Opener) Outcome {
	logger := g.logger.WithFields(log.Fields{
		"method":    "HandleJoin",
		"guildID":   guildID,
		"channelID": channelID,
	})

	unlock, err := g.locks.Lock(ctx, guildID)
	if err != nil {
		return Outcome{Result: ConnectFailed, Err: fmt.Errorf("%w: %w", ErrConnectFailed, err)}
	}
	defer unlock()

	if existing, ok := g.registry.Get(guildID); ok {
		logger.Trace("already connected")
		return Outcome{Result: AlreadyConnected, Session: existing}
	}

	conn, err := acquire(ctx, g.connectTimeout, func(ctx context.Context) (session.Connection, error) {
		return opener(ctx, channelID)
	})
	if err != nil {
		logger.Warnf("error opening voice connection: %v", err)
		return Outcome{Result: ConnectFailed, Err: fmt.Errorf("%w: %w", ErrConnectFailed, err)}
	}

	err = g.registry.Insert(session.VoiceSession{
		GuildID:     guildID,
		ChannelID:   channelID,
		RequestedBy: userID,
		Connection:  conn,
	})
	if err != nil {
		// only reachable if something bypassed the guild lock
		logger.Warnf("registry refused new session: %v", err)
		closeQuietly(logger, conn)
		existing, _ := g.registry.Get(guildID)
		return Outcome{Result: AlreadyConnected, Session: existing}
	}

	if err := g.registry.MarkConnected(guildID); err != nil {
		// the connection dropped between insert and now; Remove already released it
		logger.Warnf("session vanished while connecting: %v", err)
		return Outcome{Result: ConnectFailed, Err: fmt.Errorf("%w: %w", ErrConnectFailed, err)}
	}

	joined, _ := g.registry.Get(guildID)
	logger.Debug("joined voice channel")
	return Outcome{Result: Joined, Session: joined}
}

func (g *Gate) HandlePlay(ctx context.Context, guildID, radioURL string, attacher Attacher) Outcome {
	logger := g.logger.WithFields(log.Fields{
		"method":  "HandlePlay",
		"guildID": guildID,
	})

	unlock, err := g.locks.Lock(ctx, guildID)
	if err != nil {
		return Outcome{Result: StreamUnavailable, Err: fmt.Errorf("%w: %w", ErrStreamUnavailable, err)}
	}
	defer unlock()

	current, ok := g.registry.Get(guildID)
	if !ok {
		return Outcome{Result: NotInChannel}
	}
	switch current.Status {
	case session.Playing:
		return Outcome{Result: AlreadyPlaying, Session: current}
	case session.Connecting:
		return Outcome{Result: NotConnected, Session: current, Err: session.ErrNotConnected}
	}

	stream, err := acquire(ctx, g.streamTimeout, func(ctx context.Context) (session.Stream, error) {
		return attacher(ctx, current.Connection, radioURL)
	})
	if err != nil {
		logger.Warnf("error attaching stream: %v", err)
		return Outcome{Result: StreamUnavailable, Session: current, Err: fmt.Errorf("%w: %w", ErrStreamUnavailable, err)}
	}

	updated, err := g.registry.AttachStream(guildID, stream, radioURL)
	if err != nil {
		closeQuietly(logger, stream)
		switch {
		case errors.Is(err, session.ErrNotFound):
			logger.Debug("session dropped while the stream was opening")
			return Outcome{Result: NotInChannel}
		default:
			return Outcome{Result: NotConnected, Session: current, Err: err}
		}
	}

	logger.Debugf("streaming %s", radioURL)
	return Outcome{Result: Playing, Session: updated}
}

// HandleStop ends the stream but stays in the channel.
func (g *Gate) HandleStop(ctx context.Context, guildID string) Outcome {
	unlock, err := g.locks.Lock(ctx, guildID)
	if err != nil {
		return Outcome{Result: Busy, Err: err}
	}
	defer unlock()

	current, ok := g.registry.Get(guildID)
	if !ok {
		return Outcome{Result: NotInChannel}
	}
	if current.Status != session.Playing {
		return Outcome{Result: NotPlaying, Session: current}
	}

	updated, err := g.registry.DetachStream(guildID, current.Stream)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return Outcome{Result: NotInChannel}
		}
		return Outcome{Result: NotPlaying, Session: current}
	}
	return Outcome{Result: Stopped, Session: updated}
}

func (g *Gate) HandleLeave(ctx context.Context, guildID string) Outcome {
	unlock, err := g.locks.Lock(ctx, guildID)
	if err != nil {
		return Outcome{Result: Busy, Err: err}
	}
	defer unlock()

	if _, ok := g.registry.Get(guildID); !ok {
		return Outcome{Result: NotInChannel}
	}

	removed, ok := g.registry.Remove(guildID)
	if !ok {
		return Outcome{Result: NotInChannel}
	}

	g.logger.WithField("guildID", guildID).Debug("left voice channel")
	return Outcome{Result: Left, Session: removed}
}

// OnConnectionDropped handles a voice connection severed outside of a leave
// command. It deliberately skips the guild lock so it never waits behind a
// slow join or play.
func (g *Gate) OnConnectionDropped(guildID string) (session.VoiceSession, bool) {
	removed, ok := g.registry.Remove(guildID)
	if ok {
		g.logger.WithField("guildID", guildID).Infof("voice connection dropped while %s", removed.Status)
	}
	return removed, ok
}

// OnChannelMoved follows the bot into channelID after it was moved by
// someone else. Like a drop it does not wait for the guild lock.
func (g *Gate) OnChannelMoved(guildID, channelID string) (session.VoiceSession, bool) {
	moved, err := g.registry.MoveChannel(guildID, channelID)
	if err != nil {
		return session.VoiceSession{}, false
	}
	g.logger.WithField("guildID", guildID).Infof("moved to channel %s", channelID)
	return moved, true
}

// OnStreamEnded moves the guild back to Connected when stream stops on its
// own. Notifications for streams that were already replaced are ignored.
// It waits for the guild lock so an end reported while the same stream is
// still being attached is applied after the attach. Callers must not hold
// the guild lock.
func (g *Gate) OnStreamEnded(guildID string, stream session.Stream) (session.VoiceSession, bool) {
	unlock, err := g.locks.Lock(context.Background(), guildID)
	if err != nil {
		return session.VoiceSession{}, false
	}
	defer unlock()

	updated, err := g.registry.DetachStream(guildID, stream)
	if err != nil {
		g.logger.WithField("guildID", guildID).Tracef("ignoring stream end: %v", err)
		return session.VoiceSession{}, false
	}
	g.logger.WithField("guildID", guildID).Debug("stream ended")
	return updated, true
}

// acquire runs fn bounded by timeout. A handle that arrives after the
// deadline is released in the background.
func acquire[H interface{ Close() error }](ctx context.Context, timeout time.Duration, fn func(context.Context) (H, error)) (H, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		handle H
		err    error
	}
	done := make(chan result, 1)
	go func() {
		handle, err := fn(ctx)
		done <- result{handle, err}
	}()

	select {
	case res := <-done:
		return res.handle, res.err
	case <-ctx.Done():
		go func() {
			res := <-done
			if res.err == nil && any(res.handle) != nil {
				res.handle.Close()
			}
		}()
		var zero H
		return zero, ctx.Err()
	}
}

func closeQuietly(logger *log.Entry, closer interface{ Close() error }) {
	if err := closer.Close(); err != nil {
		logger.Warnf("error releasing handle: %v", err)
	}
}
