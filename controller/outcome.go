package controller

import (
	"errors"

	"wavebot/session"
)

var (
	ErrConnectFailed     = errors.New("failed to connect to the voice channel")
	ErrStreamUnavailable = errors.New("radio stream is unavailable")
)

// Result tags what a command did to the registry.
type Result string

const (
	Joined            Result = "joined"
	AlreadyConnected  Result = "already_connected"
	ConnectFailed     Result = "connect_failed"
	Playing           Result = "playing"
	AlreadyPlaying    Result = "already_playing"
	NotConnected      Result = "not_connected"
	StreamUnavailable Result = "stream_unavailable"
	Left              Result = "left"
	Stopped           Result = "stopped"
	NotPlaying        Result = "not_playing"
	NotInChannel      Result = "not_in_channel"
	Busy              Result = "busy"
)

// Outcome is returned by every gate operation. Session holds the session
// the result refers to: the new one for Joined/Playing, the existing one
// for rejections, the former one for Left.
type Outcome struct {
	Result  Result
	Session session.VoiceSession
	Err     error
}

// Changed reports whether the operation mutated the registry.
func (o Outcome) Changed() bool {
	switch o.Result {
	case Joined, Playing, Left, Stopped:
		return true
	}
	return false
}

func (o Outcome) Failed() bool {
	return o.Err != nil
}
