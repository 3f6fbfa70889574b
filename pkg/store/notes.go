package store

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Note is a personal note.
type Note struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NoteRef is a note as seen by the embedding sync.
type NoteRef struct {
	ID          string
	UserID      string
	Text        string
	ContentHash string
}

const noteColumns = "id, user_id, text, tags, created_at, updated_at"

// CreateNote stores a new note and returns it with its ID.
func (s *Store) CreateNote(ctx context.Context, userID, text string, tags []string) (Note, error) {
	now := s.now().UTC().Truncate(time.Second)
	n := Note{
		ID:        uuid.NewString(),
		UserID:    userID,
		Text:      text,
		Tags:      tags,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, "INSERT INTO notes ("+noteColumns+") VALUES (?, ?, ?, ?, ?, ?)",
		n.ID, n.UserID, n.Text, joinList(n.Tags), formatTime(now), formatTime(now))
	if err != nil {
		return Note{}, fmt.Errorf("create note: %w", err)
	}
	return n, nil
}

// ListNotes returns a user's notes, newest first.
func (s *Store) ListNotes(ctx context.Context, userID string, limit int) ([]Note, error) {
	return s.queryNotes(ctx,
		"SELECT "+noteColumns+" FROM notes WHERE user_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?",
		userID, limit)
}

// SearchNotes returns a user's notes containing query (case-insensitive).
func (s *Store) SearchNotes(ctx context.Context, userID, query string, limit int) ([]Note, error) {
	// SQLite's lower() only folds ASCII, so matching happens here.
	all, err := s.queryNotes(ctx,
		"SELECT "+noteColumns+" FROM notes WHERE user_id = ? ORDER BY created_at DESC, rowid DESC",
		userID)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	var out []Note
	for _, n := range all {
		if strings.Contains(strings.ToLower(n.Text), q) || containsFold(n.Tags, q) {
			out = append(out, n)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// NotesByIDs loads a user's notes in the order of ids, skipping missing ones.
func (s *Store) NotesByIDs(ctx context.Context, userID string, ids []string) ([]Note, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := []any{userID}
	for _, id := range ids {
		args = append(args, id)
	}
	notes, err := s.queryNotes(ctx,
		"SELECT "+noteColumns+" FROM notes WHERE user_id = ? AND id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Note, len(notes))
	for _, n := range notes {
		byID[n.ID] = n
	}
	out := make([]Note, 0, len(notes))
	for _, id := range ids {
		if n, ok := byID[id]; ok {
			out = append(out, n)
		}
	}
	return out, nil
}

// UpdateNote changes a note's text and/or tags. Nil arguments keep the
// current value.
func (s *Store) UpdateNote(ctx context.Context, userID, id string, text *string, tags []string) error {
	var cur Note
	notes, err := s.NotesByIDs(ctx, userID, []string{id})
	if err != nil {
		return err
	}
	if len(notes) == 0 {
		return ErrNotFound
	}
	cur = notes[0]
	if text != nil {
		cur.Text = *text
	}
	if tags != nil {
		cur.Tags = tags
	}
	_, err = s.db.ExecContext(ctx, "UPDATE notes SET text = ?, tags = ?, updated_at = ? WHERE id = ? AND user_id = ?",
		cur.Text, joinList(cur.Tags), s.stamp(), id, userID)
	if err != nil {
		return fmt.Errorf("update note %s: %w", id, err)
	}
	return nil
}

// DeleteNote removes a user's note.
func (s *Store) DeleteNote(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM notes WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("delete note %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// NoteRefs returns every note with a content hash, for detecting notes
// whose embedding is missing or stale.
func (s *Store) NoteRefs(ctx context.Context) ([]NoteRef, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, user_id, text FROM notes")
	if err != nil {
		return nil, fmt.Errorf("note refs: %w", err)
	}
	defer rows.Close()

	var refs []NoteRef
	for rows.Next() {
		var ref NoteRef
		if err := rows.Scan(&ref.ID, &ref.UserID, &ref.Text); err != nil {
			return nil, fmt.Errorf("scan note ref: %w", err)
		}
		ref.ContentHash = ContentHash(ref.Text)
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// ContentHash is the MD5 of text, used for staleness detection.
func ContentHash(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (s *Store) queryNotes(ctx context.Context, query string, args ...any) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		var (
			n                Note
			tags             string
			created, updated string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Text, &tags, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		n.Tags = splitList(tags)
		n.CreatedAt = parseTime(created)
		n.UpdatedAt = parseTime(updated)
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func containsFold(list []string, q string) bool {
	for _, v := range list {
		if strings.Contains(strings.ToLower(v), q) {
			return true
		}
	}
	return false
}
