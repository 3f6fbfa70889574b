package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Scope separates personal tasks from tasks shared by the team.
type Scope string

const (
	ScopePersonal Scope = "personal"
	ScopeTeam     Scope = "team"
)

// StatusDone marks a finished task; finished tasks are never reminded.
const StatusDone = "done"

// Task is a personal or team task. Due keeps the user's wording of the
// deadline; DueAt is set when it could be parsed.
type Task struct {
	ID              string     `json:"id"`
	Scope           Scope      `json:"scope"`
	OwnerID         string     `json:"owner_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	Status          string     `json:"status"`
	Priority        string     `json:"priority"`
	Due             string     `json:"due,omitempty"`
	DueAt           *time.Time `json:"due_at,omitempty"`
	Tags            []string   `json:"tags,omitempty"`
	Assignees       []string   `json:"assignees,omitempty"`
	CalendarEventID string     `json:"calendar_event_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Overdue reports whether the task is past due at now.
func (t Task) Overdue(now time.Time) bool {
	return t.DueAt != nil && t.DueAt.Before(now) && t.Status != StatusDone
}

// TaskPatch lists the changes of an update. Nil fields are left alone.
type TaskPatch struct {
	Title           *string
	Description     *string
	Status          *string
	Priority        *string
	Due             *string
	DueAt           *time.Time
	Tags            []string
	Assignees       []string
	CalendarEventID *string
}

const taskColumns = `id, scope, owner_id, title, description, status, priority, due, due_at,
	tags, assignees, calendar_event_id, created_at, updated_at`

// CreateTask stores t, filling ID, defaults and timestamps.
func (s *Store) CreateTask(ctx context.Context, t Task) (Task, error) {
	now := s.now().UTC().Truncate(time.Second)
	t.ID = uuid.NewString()
	if t.Scope == "" {
		t.Scope = ScopePersonal
	}
	if t.Status == "" {
		t.Status = "todo"
	}
	if t.Priority == "" {
		t.Priority = "medium"
	}
	t.CreatedAt, t.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx, "INSERT INTO tasks ("+taskColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		t.ID, string(t.Scope), t.OwnerID, t.Title, t.Description, t.Status, t.Priority, t.Due, nullTime(t.DueAt),
		joinList(t.Tags), joinList(t.Assignees), t.CalendarEventID, formatTime(now), formatTime(now))
	if err != nil {
		return Task{}, fmt.Errorf("create task: %w", err)
	}
	return t, nil
}

// GetTask loads a task. Personal tasks are visible to their owner only.
func (s *Store) GetTask(ctx context.Context, scope Scope, userID, id string) (Task, error) {
	query := "SELECT " + taskColumns + " FROM tasks WHERE id = ? AND scope = ?"
	args := []any{id, string(scope)}
	if scope == ScopePersonal {
		query += " AND owner_id = ?"
		args = append(args, userID)
	}
	t, err := scanTask(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

// UpdateTask applies p to a task and returns the result.
func (s *Store) UpdateTask(ctx context.Context, scope Scope, userID, id string, p TaskPatch) (Task, error) {
	t, err := s.GetTask(ctx, scope, userID, id)
	if err != nil {
		return Task{}, err
	}
	set(&t.Title, p.Title)
	set(&t.Description, p.Description)
	set(&t.Status, p.Status)
	set(&t.Priority, p.Priority)
	set(&t.CalendarEventID, p.CalendarEventID)
	if p.Due != nil {
		t.Due = *p.Due
		t.DueAt = p.DueAt
	}
	if p.Tags != nil {
		t.Tags = p.Tags
	}
	if p.Assignees != nil {
		t.Assignees = p.Assignees
	}
	t.UpdatedAt = s.now().UTC().Truncate(time.Second)

	_, err = s.db.ExecContext(ctx, `UPDATE tasks SET title = ?, description = ?, status = ?, priority = ?,
		due = ?, due_at = ?, tags = ?, assignees = ?, calendar_event_id = ?, updated_at = ? WHERE id = ?`,
		t.Title, t.Description, t.Status, t.Priority, t.Due, nullTime(t.DueAt),
		joinList(t.Tags), joinList(t.Assignees), t.CalendarEventID, formatTime(t.UpdatedAt), t.ID)
	if err != nil {
		return Task{}, fmt.Errorf("update task %s: %w", id, err)
	}
	return t, nil
}

// ListTasks returns tasks of a scope, soonest due first. Personal tasks are
// limited to userID's; team tasks are shared. An empty status matches all.
func (s *Store) ListTasks(ctx context.Context, scope Scope, userID, status string) ([]Task, error) {
	query := "SELECT " + taskColumns + " FROM tasks WHERE scope = ?"
	args := []any{string(scope)}
	if scope == ScopePersonal {
		query += " AND owner_id = ?"
		args = append(args, userID)
	}
	if status = strings.TrimSpace(status); status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY due_at IS NULL, due_at, created_at"
	return s.queryTasks(ctx, query, args...)
}

// UpcomingTasks returns unfinished tasks of u that are overdue or due
// within the window after now. Team tasks count when u is an assignee,
// by ID or display name.
func (s *Store) UpcomingTasks(ctx context.Context, u User, now time.Time, within time.Duration) ([]Task, error) {
	tasks, err := s.queryTasks(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE due_at IS NOT NULL AND due_at <= ? AND status != ? ORDER BY due_at, rowid",
		formatTime(now.Add(within)), StatusDone)
	if err != nil {
		return nil, err
	}
	var out []Task
	for _, t := range tasks {
		switch t.Scope {
		case ScopePersonal:
			if t.OwnerID == u.ID {
				out = append(out, t)
			}
		case ScopeTeam:
			if assigned(t.Assignees, u) {
				out = append(out, t)
			}
		}
	}
	return out, nil
}

func assigned(assignees []string, u User) bool {
	for _, a := range assignees {
		if a == u.ID || (u.DisplayName != "" && strings.EqualFold(a, u.DisplayName)) {
			return true
		}
	}
	return false
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanTask(r scanner) (Task, error) {
	var (
		t                Task
		scope            string
		dueAt            sql.NullString
		tags, assignees  string
		created, updated string
	)
	err := r.Scan(&t.ID, &scope, &t.OwnerID, &t.Title, &t.Description, &t.Status, &t.Priority, &t.Due, &dueAt,
		&tags, &assignees, &t.CalendarEventID, &created, &updated)
	if err != nil {
		return Task{}, err
	}
	t.Scope = Scope(scope)
	if dueAt.Valid {
		if at := parseTime(dueAt.String); !at.IsZero() {
			t.DueAt = &at
		}
	}
	t.Tags = splitList(tags)
	t.Assignees = splitList(assignees)
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)
	return t, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func set(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
