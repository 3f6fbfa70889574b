package store

import (
	"context"
	"fmt"
	"time"
)

// DialogEntry is one processed request with the reply that was sent.
type DialogEntry struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	Response  string    `json:"response"`
	Decision  string    `json:"decision"`
	Plan      string    `json:"plan"`
	CreatedAt time.Time `json:"created_at"`
}

// LogDialog appends an entry to the dialog log.
func (s *Store) LogDialog(ctx context.Context, e DialogEntry) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO dialog_log (user_id, text, response, decision, plan, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		e.UserID, e.Text, e.Response, e.Decision, e.Plan, s.stamp())
	if err != nil {
		return fmt.Errorf("log dialog: %w", err)
	}
	return nil
}

// RecentDialog returns a user's last limit entries, oldest first.
func (s *Store) RecentDialog(ctx context.Context, userID string, limit int) ([]DialogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, text, response, decision, plan, created_at FROM (
			SELECT * FROM dialog_log WHERE user_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent dialog: %w", err)
	}
	defer rows.Close()

	var out []DialogEntry
	for rows.Next() {
		var (
			e       DialogEntry
			created string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Text, &e.Response, &e.Decision, &e.Plan, &created); err != nil {
			return nil, fmt.Errorf("scan dialog: %w", err)
		}
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}
