package session

import (
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Observer is told about every status change the registry makes, in the
// order the changes were applied. Calls are serialized and must return
// quickly without calling back into the registry.
type Observer interface {
	OnTransition(session VoiceSession, from Status, to Status)
}

type ObserverFunc func(session VoiceSession, from Status, to Status)

func (f ObserverFunc) OnTransition(session VoiceSession, from Status, to Status) {
	f(session, from, to)
}

// Registry is the single source of truth for which guilds have an active
// voice session. Lookups return copies; the stored sessions never leave
// the registry.
type Registry struct {
	mutex     sync.Mutex
	notifyMu  sync.Mutex
	sessions  map[string]*VoiceSession
	observers []Observer
	logger    *log.Entry
	now       func() time.Time
}

func NewRegistry(observers ...Observer) *Registry {
	return &Registry{
		sessions:  make(map[string]*VoiceSession),
		observers: observers,
		logger: log.WithFields(log.Fields{
			"module": "session-registry",
		}),
		now: time.Now,
	}
}

func (r *Registry) Get(guildID string) (VoiceSession, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	s, ok := r.sessions[guildID]
	if !ok || !s.active() {
		return VoiceSession{}, false
	}
	return *s, true
}

// Insert stores a new session in the Connecting state.
func (r *Registry) Insert(s VoiceSession) error {
	r.mutex.Lock()
	if existing, ok := r.sessions[s.GuildID]; ok && existing.active() {
		r.mutex.Unlock()
		return ErrAlreadyExists
	}

	s.Status = Connecting
	s.Stream = nil
	s.PlayingSince = nil
	if s.JoinedAt.IsZero() {
		s.JoinedAt = r.now()
	}
	stored := s
	r.sessions[s.GuildID] = &stored
	r.commit(s, Disconnected, Connecting)

	r.logger.WithField("guildID", s.GuildID).Debugf("session inserted for channel %s", s.ChannelID)
	return nil
}

func (r *Registry) MarkConnected(guildID string) error {
	r.mutex.Lock()
	s, ok := r.sessions[guildID]
	if !ok || !s.active() {
		r.mutex.Unlock()
		return ErrNotFound
	}
	if s.Status != Connecting {
		r.mutex.Unlock()
		return nil
	}
	s.Status = Connected
	r.commit(*s, Connecting, Connected)
	return nil
}

// AttachStream binds stream to the guild's session and marks it Playing.
// A previously attached stream is released before the call returns.
func (r *Registry) AttachStream(guildID string, stream Stream, radioURL string) (VoiceSession, error) {
	r.mutex.Lock()
	s, ok := r.sessions[guildID]
	if !ok || !s.active() {
		r.mutex.Unlock()
		return VoiceSession{}, ErrNotFound
	}
	if s.Status != Connected && s.Status != Playing {
		r.mutex.Unlock()
		return VoiceSession{}, ErrNotConnected
	}

	previous := s.Stream
	from := s.Status
	now := r.now()
	s.Stream = stream
	s.RadioURL = radioURL
	s.Status = Playing
	s.PlayingSince = &now
	snapshot := *s
	r.commit(snapshot, from, Playing)

	if previous != nil {
		r.release(guildID, "stream", previous)
	}
	return snapshot, nil
}

// DetachStream moves a Playing session back to Connected, releasing stream.
// It refuses with ErrStaleStream when stream has already been replaced or
// detached, so a late end notification cannot stop a newer stream.
func (r *Registry) DetachStream(guildID string, stream Stream) (VoiceSession, error) {
	r.mutex.Lock()
	s, ok := r.sessions[guildID]
	if !ok || !s.active() {
		r.mutex.Unlock()
		return VoiceSession{}, ErrNotFound
	}
	if s.Stream == nil || (stream != nil && s.Stream != stream) {
		r.mutex.Unlock()
		return VoiceSession{}, ErrStaleStream
	}

	detached := s.Stream
	s.Stream = nil
	s.Status = Connected
	s.PlayingSince = nil
	snapshot := *s
	r.commit(snapshot, Playing, Connected)

	r.release(guildID, "stream", detached)
	return snapshot, nil
}

// MoveChannel records that the bot was moved to channelID without its
// connection changing.
func (r *Registry) MoveChannel(guildID, channelID string) (VoiceSession, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	s, ok := r.sessions[guildID]
	if !ok || !s.active() {
		return VoiceSession{}, ErrNotFound
	}
	s.ChannelID = channelID
	return *s, nil
}

// Remove deletes the guild's session and releases its handles, stream
// first. Removing an unknown guild is a no-op.
func (r *Registry) Remove(guildID string) (VoiceSession, bool) {
	r.mutex.Lock()
	s, ok := r.sessions[guildID]
	if !ok {
		r.mutex.Unlock()
		return VoiceSession{}, false
	}
	delete(r.sessions, guildID)
	from := s.Status
	s.Status = Disconnected
	removed := *s
	r.commit(removed, from, Disconnected)

	if removed.Stream != nil {
		r.release(guildID, "stream", removed.Stream)
	}
	if removed.Connection != nil {
		r.release(guildID, "connection", removed.Connection)
	}

	r.logger.WithField("guildID", guildID).Debugf("session removed from %s", from)
	return removed, true
}

func (r *Registry) List() []VoiceSession {
	r.mutex.Lock()
	list := make([]VoiceSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.active() {
			list = append(list, *s)
		}
	}
	r.mutex.Unlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].GuildID < list[j].GuildID
	})
	return list
}

func (r *Registry) Count() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.sessions)
}

func (r *Registry) CountPlaying() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	playing := 0
	for _, s := range r.sessions {
		if s.Status == Playing {
			playing++
		}
	}
	return playing
}

// Close removes every session. Called once at shutdown.
func (r *Registry) Close() {
	r.mutex.Lock()
	guildIDs := make([]string, 0, len(r.sessions))
	for guildID := range r.sessions {
		guildIDs = append(guildIDs, guildID)
	}
	r.mutex.Unlock()

	for _, guildID := range guildIDs {
		r.Remove(guildID)
	}
	r.logger.Infof("released %d voice sessions", len(guildIDs))
}

func (r *Registry) release(guildID string, kind string, closer interface{ Close() error }) {
	if err := closer.Close(); err != nil {
		r.logger.WithFields(log.Fields{
			"guildID": guildID,
			"handle":  kind,
		}).Warnf("error releasing handle: %v", err)
	}
}

// commit releases r.mutex, which the caller holds, and tells the observers
// about the transition before any later mutation can be reported.
func (r *Registry) commit(s VoiceSession, from Status, to Status) {
	r.notifyMu.Lock()
	r.mutex.Unlock()
	defer r.notifyMu.Unlock()

	for _, o := range r.observers {
		o.OnTransition(s, from, to)
	}
}
