package session

import (
	"errors"
	"time"
)

type Status string

const (
	Connecting   Status = "connecting"
	Connected    Status = "connected"
	Playing      Status = "playing"
	Disconnected Status = "disconnected"
)

var (
	ErrAlreadyExists = errors.New("a voice session already exists for this guild")
	ErrNotFound      = errors.New("no voice session for this guild")
	ErrNotConnected  = errors.New("voice session has not finished connecting")
	ErrStaleStream   = errors.New("stream is no longer attached to the session")
)

// Connection is the live voice transport owned by a session.
type Connection interface {
	Close() error
}

// Stream is the audio stream currently bound to a session's connection.
type Stream interface {
	Close() error
}

type VoiceSession struct {
	GuildID      string
	ChannelID    string
	RequestedBy  string
	RadioURL     string
	Status       Status
	Connection   Connection
	Stream       Stream
	JoinedAt     time.Time
	PlayingSince *time.Time
}

func (s VoiceSession) IsPlaying() bool {
	return s.Status == Playing
}

func (s VoiceSession) active() bool {
	return s.Status != Disconnected
}
