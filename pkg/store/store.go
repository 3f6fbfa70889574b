// Package store persists scribe's user data in SQLite: profiles, notes,
// personal and team tasks, calendar events, the dialog log and a small
// key-value table used by background workers.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a row does not exist or belongs to another user.
var ErrNotFound = errors.New("not found")

// Store provides access to the scribe database.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Stats holds row counts.
type Stats struct {
	Users  int `json:"users"`
	Notes  int `json:"notes"`
	Tasks  int `json:"tasks"`
	Events int `json:"events"`
	Dialog int `json:"dialog"`
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id               TEXT PRIMARY KEY,
	chat_id          TEXT NOT NULL DEFAULT '',
	display_name     TEXT NOT NULL DEFAULT '',
	email            TEXT NOT NULL DEFAULT '',
	calendar_email   TEXT NOT NULL DEFAULT '',
	timezone         TEXT NOT NULL DEFAULT '',
	role             TEXT NOT NULL DEFAULT '',
	notify_calendar  INTEGER NOT NULL DEFAULT 1,
	notify_reminders INTEGER NOT NULL DEFAULT 1,
	active           INTEGER NOT NULL DEFAULT 1,
	created_at       TEXT NOT NULL,
	last_seen_at     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS notes (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	text       TEXT NOT NULL,
	tags       TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notes_user ON notes(user_id, created_at);
CREATE TABLE IF NOT EXISTS tasks (
	id                TEXT PRIMARY KEY,
	scope             TEXT NOT NULL,
	owner_id          TEXT NOT NULL,
	title             TEXT NOT NULL,
	description       TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'todo',
	priority          TEXT NOT NULL DEFAULT 'medium',
	due               TEXT NOT NULL DEFAULT '',
	due_at            TEXT,
	tags              TEXT NOT NULL DEFAULT '',
	assignees         TEXT NOT NULL DEFAULT '',
	calendar_event_id TEXT NOT NULL DEFAULT '',
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_scope ON tasks(scope, owner_id);
CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(due_at);
CREATE TABLE IF NOT EXISTS events (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	title        TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	start_at     TEXT NOT NULL,
	end_at       TEXT NOT NULL,
	attendees    TEXT NOT NULL DEFAULT '',
	link_task_id TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_user ON events(user_id, start_at);
CREATE TABLE IF NOT EXISTS dialog_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    TEXT NOT NULL,
	text       TEXT NOT NULL,
	response   TEXT NOT NULL,
	decision   TEXT NOT NULL DEFAULT '',
	plan       TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// Open opens (creating if needed) the database in directory dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(dir, "scribe.db")

	// WAL for concurrent reads, busy timeout so writers wait instead of failing
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping store db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store db: %w", err)
	}

	s := &Store{db: db, path: dir, now: time.Now}

	stats := s.Stats(context.Background())
	slog.Info("store opened",
		"path", dbPath,
		"users", stats.Users,
		"notes", stats.Notes,
		"tasks", stats.Tasks,
	)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the data directory.
func (s *Store) Path() string {
	return s.path
}

// Stats returns row counts for the main tables.
func (s *Store) Stats(ctx context.Context) Stats {
	var st Stats
	s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&st.Users)
	s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM notes").Scan(&st.Notes)
	s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks").Scan(&st.Tasks)
	s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&st.Events)
	s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM dialog_log").Scan(&st.Dialog)
	return st
}

// KVGet retrieves a value. A missing key yields "".
func (s *Store) KVGet(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// KVSet stores a value.
func (s *Store) KVSet(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.stamp(),
	)
	return err
}

// IsBusy reports whether err is SQLite lock contention that may clear.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

const timeLayout = "2006-01-02T15:04:05Z"

func (s *Store) stamp() string {
	return s.now().UTC().Format(timeLayout)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime parses a stored datetime, handling the formats written over time.
func parseTime(v string) time.Time {
	for _, f := range []string{timeLayout, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(f, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

// joinList encodes a list column as a JSON array. Empty lists are stored
// as "".
func joinList(v []string) string {
	if len(v) == 0 {
		return ""
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// splitList decodes a list column. Rows written before lists were JSON hold
// comma-separated values.
func splitList(v string) []string {
	var raw []string
	if strings.HasPrefix(v, "[") {
		if err := json.Unmarshal([]byte(v), &raw); err != nil {
			return nil
		}
	} else {
		raw = strings.Split(v, ",")
	}
	var out []string
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
