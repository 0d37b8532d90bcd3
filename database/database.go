package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"wavebot/session"
)

// Event names stored in session_events.
const (
	EventJoin      = "join"
	EventConnected = "connected"
	EventPlay      = "play"
	EventStop      = "stop"
	EventLeave     = "leave"
)

const eventQueueSize = 256

// timestampLayout is fixed width so ORDER BY on the text column is chronological.
const timestampLayout = "2006-01-02 15:04:05.000000000"

type Database struct {
	db     *sql.DB
	events chan SessionEvent
	flush  chan chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	logger *log.Entry
}

type SessionEvent struct {
	ID        int64
	GuildID   string
	ChannelID string
	UserID    string
	Event     string
	RadioURL  string
	At        time.Time
}

type Totals struct {
	Guilds int64 `json:"guilds"`
	Joins  int64 `json:"joins"`
	Plays  int64 `json:"plays"`
}

type GuildActivity struct {
	GuildID    string    `json:"guildId"`
	Plays      int64     `json:"plays"`
	LastPlayed time.Time `json:"lastPlayed"`
}

// New opens the sqlite database at dbPath, creating it and its directory
// when missing.
func New(dbPath string) (*Database, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	d := &Database{
		db:     db,
		events: make(chan SessionEvent, eventQueueSize),
		flush:  make(chan chan struct{}),
		done:   make(chan struct{}),
		logger: log.WithFields(log.Fields{
			"module": "database",
		}),
	}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	d.wg.Add(1)
	go d.writer()

	d.logger.Infof("Database initialized at %s", dbPath)
	return d, nil
}

// Close stops the event writer after draining queued events.
func (d *Database) Close() error {
	d.once.Do(func() {
		close(d.done)
		d.wg.Wait()
	})
	return d.db.Close()
}

func (d *Database) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS session_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id TEXT NOT NULL,
			channel_id TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			event TEXT NOT NULL,
			radio_url TEXT NOT NULL DEFAULT '',
			at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_session_events_guild ON session_events(guild_id, at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_session_events_event ON session_events(event)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}

	return nil
}

// OnTransition queues a row for every registry status change. It never
// blocks the caller; events are dropped when the queue is full.
func (d *Database) OnTransition(s session.VoiceSession, from session.Status, to session.Status) {
	event, ok := eventFor(from, to)
	if !ok {
		return
	}

	select {
	case <-d.done:
		return
	default:
	}

	select {
	case d.events <- SessionEvent{
		GuildID:   s.GuildID,
		ChannelID: s.ChannelID,
		UserID:    s.RequestedBy,
		Event:     event,
		RadioURL:  s.RadioURL,
		At:        time.Now(),
	}:
	default:
		d.logger.WithField("guildID", s.GuildID).Warnf("event queue full, dropping %s event", event)
	}
}

func eventFor(from, to session.Status) (string, bool) {
	switch {
	case to == session.Connecting:
		return EventJoin, true
	case from == session.Connecting && to == session.Connected:
		return EventConnected, true
	case to == session.Playing:
		return EventPlay, true
	case from == session.Playing && to == session.Connected:
		return EventStop, true
	case to == session.Disconnected:
		return EventLeave, true
	}
	return "", false
}

// Flush waits until every queued event has been written.
func (d *Database) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case d.flush <- ack:
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Database) writer() {
	defer d.wg.Done()
	for {
		select {
		case event := <-d.events:
			d.write(event)
		case ack := <-d.flush:
			d.drain()
			close(ack)
		case <-d.done:
			d.drain()
			return
		}
	}
}

func (d *Database) drain() {
	for {
		select {
		case event := <-d.events:
			d.write(event)
		default:
			return
		}
	}
}

func (d *Database) write(event SessionEvent) {
	if err := d.RecordEvent(context.Background(), event); err != nil {
		d.logger.WithField("guildID", event.GuildID).Warnf("Failed to record %s event: %v", event.Event, err)
	}
}

// RecordEvent inserts a session event row.
func (d *Database) RecordEvent(ctx context.Context, event SessionEvent) error {
	at := event.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO session_events (guild_id, channel_id, user_id, event, radio_url, at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.GuildID, event.ChannelID, event.UserID, event.Event, event.RadioURL, at.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// Totals returns lifetime join and play counts across all guilds.
func (d *Database) Totals(ctx context.Context) (Totals, error) {
	var totals Totals
	err := d.db.QueryRowContext(ctx,
		`SELECT
			COUNT(DISTINCT guild_id),
			COALESCE(SUM(CASE WHEN event = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN event = ? THEN 1 ELSE 0 END), 0)
		 FROM session_events`,
		EventJoin, EventPlay,
	).Scan(&totals.Guilds, &totals.Joins, &totals.Plays)
	if err != nil {
		return Totals{}, fmt.Errorf("failed to query totals: %w", err)
	}
	return totals, nil
}

// GuildPlays returns how many streams were started in a guild.
func (d *Database) GuildPlays(ctx context.Context, guildID string) (int64, error) {
	var plays int64
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM session_events WHERE guild_id = ? AND event = ?`,
		guildID, EventPlay,
	).Scan(&plays)
	if err != nil {
		return 0, fmt.Errorf("failed to query guild plays: %w", err)
	}
	return plays, nil
}

// TopGuilds returns the guilds that started the most streams.
func (d *Database) TopGuilds(ctx context.Context, limit int) ([]GuildActivity, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT guild_id, COUNT(*) AS plays, MAX(at) AS last_played
		 FROM session_events
		 WHERE event = ?
		 GROUP BY guild_id
		 ORDER BY plays DESC, last_played DESC
		 LIMIT ?`,
		EventPlay, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query top guilds: %w", err)
	}
	defer rows.Close()

	var records []GuildActivity
	for rows.Next() {
		var r GuildActivity
		var lastPlayed string
		if err := rows.Scan(&r.GuildID, &r.Plays, &lastPlayed); err != nil {
			return nil, fmt.Errorf("failed to scan top guild row: %w", err)
		}
		r.LastPlayed = parseTimestamp(lastPlayed)
		records = append(records, r)
	}
	return records, rows.Err()
}

// RecentEvents returns the latest events of a guild, newest first.
func (d *Database) RecentEvents(ctx context.Context, guildID string, limit int) ([]SessionEvent, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT id, guild_id, channel_id, user_id, event, radio_url, at
		 FROM session_events
		 WHERE guild_id = ?
		 ORDER BY at DESC, id DESC
		 LIMIT ?`,
		guildID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var records []SessionEvent
	for rows.Next() {
		var r SessionEvent
		var at string
		if err := rows.Scan(&r.ID, &r.GuildID, &r.ChannelID, &r.UserID, &r.Event, &r.RadioURL, &at); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		r.At = parseTimestamp(at)
		records = append(records, r)
	}
	return records, rows.Err()
}

func parseTimestamp(value string) time.Time {
	formats := []string{
		timestampLayout,
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
	}
	for _, layout := range formats {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	log.Warnf("failed to parse timestamp '%s' with all known formats", value)
	return time.Time{}
}
