package handlers

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"wavebot/controller"
	"wavebot/sentry"
	"wavebot/session"
)

// attacher binds radio streams for guildID and routes their end back
// through the gate.
func (manager *Manager) attacher(guildID string) controller.Attacher {
	return func(ctx context.Context, conn session.Connection, radioURL string) (session.Stream, error) {
		return manager.streams.Attach(ctx, conn, radioURL, func(stream session.Stream, err error) {
			manager.goBackground(func() {
				manager.streamEnded(guildID, radioURL, stream, err)
			})
		})
	}
}

// streamEnded returns the guild to Connected and, with auto-replay on,
// restarts the radio with exponential backoff.
func (manager *Manager) streamEnded(guildID, radioURL string, stream session.Stream, streamErr error) {
	logger := manager.logger.WithFields(log.Fields{
		"method":  "streamEnded",
		"guildID": guildID,
	})

	if streamErr != nil {
		logger.Warnf("radio stream failed: %v", streamErr)
	} else {
		logger.Info("radio stream ended")
	}

	if _, ok := manager.gate.OnStreamEnded(guildID, stream); !ok {
		return
	}
	if !manager.options.AutoReplay {
		return
	}

	backoff := manager.options.ReplayBackoff
	for attempt := 1; attempt <= manager.options.ReplayAttempts; attempt++ {
		select {
		case <-manager.ctx.Done():
			return
		case <-time.After(backoff):
		}

		outcome := manager.gate.HandlePlay(manager.ctx, guildID, radioURL, manager.attacher(guildID))
		switch outcome.Result {
		case controller.Playing:
			logger.Infof("radio resumed after %d attempt(s)", attempt)
			return
		case controller.NotInChannel, controller.AlreadyPlaying:
			// someone left or played in the meantime
			return
		}
		logger.Debugf("replay attempt %d: %s", attempt, outcome.Result)
		backoff *= 2
	}

	logger.Warnf("giving up on replay after %d attempts", manager.options.ReplayAttempts)
	sentry.ReportMessage(fmt.Sprintf("radio replay gave up for guild %s", guildID))
}
