package discord

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"

	"wavebot/session"
)

// Connection is the voice handle stored on a session. It satisfies both
// session.Connection and audio.Voice.
type Connection struct {
	vc        *discordgo.VoiceConnection
	closeOnce sync.Once
	closeErr  error
}

func NewConnection(vc *discordgo.VoiceConnection) *Connection {
	return &Connection{vc: vc}
}

func (c *Connection) OpusSend() chan<- []byte {
	return c.vc.OpusSend
}

func (c *Connection) Speaking(speaking bool) error {
	return c.vc.Speaking(speaking)
}

// Ready reports whether the voice websocket and UDP link are still up.
func (c *Connection) Ready() bool {
	c.vc.RLock()
	defer c.vc.RUnlock()
	return c.vc.Ready
}

func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.vc.Disconnect()
	})
	return c.closeErr
}

// Opener returns the transport join used by the gate for guildID. The join
// itself is not cancellable; when ctx ends first the connection is torn
// down as soon as it arrives.
func (c *Client) Opener(guildID string) func(ctx context.Context, channelID string) (session.Connection, error) {
	logger := c.logger.WithFields(log.Fields{
		"method":  "Opener",
		"guildID": guildID,
	})

	return func(ctx context.Context, channelID string) (session.Connection, error) {
		type result struct {
			vc  *discordgo.VoiceConnection
			err error
		}
		done := make(chan result, 1)
		go func() {
			// deafened: the bot never listens
			vc, err := c.Session.ChannelVoiceJoin(guildID, channelID, false, true)
			done <- result{vc, err}
		}()

		select {
		case res := <-done:
			if res.err != nil {
				if res.vc != nil {
					// a half-open connection stays registered on the session otherwise
					if err := res.vc.Disconnect(); err != nil {
						logger.Tracef("error disconnecting partial voice connection: %v", err)
					}
				}
				return nil, fmt.Errorf("error joining voice channel: %w", res.err)
			}
			if res.vc == nil {
				return nil, errors.New("voice join returned no connection")
			}
			return NewConnection(res.vc), nil
		case <-ctx.Done():
			go func() {
				res := <-done
				if res.vc != nil {
					logger.Debug("disconnecting voice connection that arrived after the deadline")
					res.vc.Disconnect()
				}
			}()
			return nil, ctx.Err()
		}
	}
}
