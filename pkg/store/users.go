package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// User is a registered person and their preferences.
type User struct {
	ID              string    `json:"id"`
	ChatID          string    `json:"chat_id"` // where replies and reminders go
	DisplayName     string    `json:"display_name"`
	Email           string    `json:"email"`
	CalendarEmail   string    `json:"calendar_email"`
	Timezone        string    `json:"timezone"`
	Role            string    `json:"role"`
	NotifyCalendar  bool      `json:"notify_calendar"`
	NotifyReminders bool      `json:"notify_reminders"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
	LastSeenAt      time.Time `json:"last_seen_at"`
}

// Location returns the user's timezone.
func (u User) Location() *time.Location {
	return Location(u.Timezone)
}

const userColumns = `id, chat_id, display_name, email, calendar_email, timezone, role,
	notify_calendar, notify_reminders, active, created_at, last_seen_at`

// GetUser loads a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

// EnsureUser returns the user with template.ID, creating it from template
// on first contact. Existing users get last_seen_at refreshed, and the chat
// ID when template carries one.
func (s *Store) EnsureUser(ctx context.Context, template User) (User, error) {
	u, err := s.GetUser(ctx, template.ID)
	switch {
	case err == nil:
		now := s.stamp()
		chatID := u.ChatID
		if template.ChatID != "" {
			chatID = template.ChatID
		}
		if _, err := s.db.ExecContext(ctx,
			"UPDATE users SET last_seen_at = ?, chat_id = ? WHERE id = ?", now, chatID, u.ID); err != nil {
			return User{}, fmt.Errorf("touch user %s: %w", u.ID, err)
		}
		u.ChatID = chatID
		u.LastSeenAt = parseTime(now)
		return u, nil
	case !errors.Is(err, ErrNotFound):
		return User{}, err
	}

	now := s.now().UTC().Truncate(time.Second)
	u = template
	u.Active = true
	u.CreatedAt = now
	u.LastSeenAt = now
	if err := s.SaveUser(ctx, u); err != nil {
		return User{}, err
	}
	return u, nil
}

// SaveUser inserts or replaces a user profile.
func (s *Store) SaveUser(ctx context.Context, u User) error {
	if u.ID == "" {
		return fmt.Errorf("save user: empty id")
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	if u.LastSeenAt.IsZero() {
		u.LastSeenAt = u.CreatedAt
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			chat_id = excluded.chat_id, display_name = excluded.display_name,
			email = excluded.email, calendar_email = excluded.calendar_email,
			timezone = excluded.timezone, role = excluded.role,
			notify_calendar = excluded.notify_calendar, notify_reminders = excluded.notify_reminders,
			active = excluded.active, last_seen_at = excluded.last_seen_at`,
		u.ID, u.ChatID, u.DisplayName, u.Email, u.CalendarEmail, u.Timezone, u.Role,
		u.NotifyCalendar, u.NotifyReminders, u.Active, formatTime(u.CreatedAt), formatTime(u.LastSeenAt),
	)
	if err != nil {
		return fmt.Errorf("save user %s: %w", u.ID, err)
	}
	return nil
}

// ListUsers returns all active users.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users WHERE active = 1 ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(r scanner) (User, error) {
	var (
		u                 User
		created, lastSeen string
	)
	err := r.Scan(&u.ID, &u.ChatID, &u.DisplayName, &u.Email, &u.CalendarEmail, &u.Timezone, &u.Role,
		&u.NotifyCalendar, &u.NotifyReminders, &u.Active, &created, &lastSeen)
	if err != nil {
		return User{}, err
	}
	u.CreatedAt = parseTime(created)
	u.LastSeenAt = parseTime(lastSeen)
	return u, nil
}
