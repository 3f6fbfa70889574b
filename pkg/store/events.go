package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is an entry of the local calendar.
type Event struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Attendees   []string  `json:"attendees,omitempty"`
	LinkTaskID  string    `json:"link_task_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

const eventColumns = "id, user_id, title, description, start_at, end_at, attendees, link_task_id, created_at, updated_at"

// UpsertEvent creates e, or replaces the user's event with e.ID when set.
// created reports which happened.
func (s *Store) UpsertEvent(ctx context.Context, e Event) (out Event, created bool, err error) {
	now := s.now().UTC().Truncate(time.Second)
	if e.End.Before(e.Start) || e.End.IsZero() {
		e.End = e.Start.Add(time.Hour)
	}
	e.UpdatedAt = now

	if e.ID != "" {
		var createdAt string
		err := s.db.QueryRowContext(ctx, "SELECT created_at FROM events WHERE id = ? AND user_id = ?", e.ID, e.UserID).Scan(&createdAt)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return Event{}, false, ErrNotFound
		case err != nil:
			return Event{}, false, fmt.Errorf("get event %s: %w", e.ID, err)
		}
		e.CreatedAt = parseTime(createdAt)
		_, err = s.db.ExecContext(ctx, `UPDATE events SET title = ?, description = ?, start_at = ?, end_at = ?,
			attendees = ?, link_task_id = ?, updated_at = ? WHERE id = ?`,
			e.Title, e.Description, formatTime(e.Start), formatTime(e.End), joinList(e.Attendees), e.LinkTaskID,
			formatTime(now), e.ID)
		if err != nil {
			return Event{}, false, fmt.Errorf("update event %s: %w", e.ID, err)
		}
		return e, false, nil
	}

	e.ID = uuid.NewString()
	e.CreatedAt = now
	_, err = s.db.ExecContext(ctx, "INSERT INTO events ("+eventColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		e.ID, e.UserID, e.Title, e.Description, formatTime(e.Start), formatTime(e.End), joinList(e.Attendees),
		e.LinkTaskID, formatTime(now), formatTime(now))
	if err != nil {
		return Event{}, false, fmt.Errorf("create event: %w", err)
	}
	return e, true, nil
}

// ListEvents returns up to limit events of a user starting in [from, to).
func (s *Store) ListEvents(ctx context.Context, userID string, from, to time.Time, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+eventColumns+" FROM events WHERE user_id = ? AND start_at >= ? AND start_at < ? ORDER BY start_at LIMIT ?",
		userID, formatTime(from), formatTime(to), limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e                     Event
			start, end, attendees string
			created, updated      string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Title, &e.Description, &start, &end, &attendees, &e.LinkTaskID,
			&created, &updated); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Start = parseTime(start)
		e.End = parseTime(end)
		e.Attendees = splitList(attendees)
		e.CreatedAt = parseTime(created)
		e.UpdatedAt = parseTime(updated)
		events = append(events, e)
	}
	return events, rows.Err()
}
