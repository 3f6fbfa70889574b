package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nous-labs/scribe/pkg/plan"
	"github.com/nous-labs/scribe/pkg/store"
)

func (s *Service) createPersonalTask(ctx context.Context, u store.User, p plan.Params) (string, error) {
	v, err := paramsAs[plan.TaskCreate](p)
	if err != nil {
		return "", err
	}
	t, err := s.createTask(ctx, u, store.ScopePersonal, v, nil)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Личная задача создана (id=%s).", t.ID), nil
}

func (s *Service) createTeamTask(ctx context.Context, u store.User, p plan.Params) (string, error) {
	v, err := paramsAs[plan.TeamTaskCreate](p)
	if err != nil {
		return "", err
	}
	t, err := s.createTask(ctx, u, store.ScopeTeam, v.TaskCreate, v.Assignees)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Командная задача создана (id=%s).", t.ID), nil
}

// createTask stores the task and, when it has a parseable deadline and the
// user wants calendar entries, links a calendar event at the deadline.
func (s *Service) createTask(ctx context.Context, u store.User, scope store.Scope, v plan.TaskCreate, assignees []string) (store.Task, error) {
	t := store.Task{
		Scope:       scope,
		OwnerID:     u.ID,
		Title:       v.Title,
		Description: v.Description,
		Status:      v.Status,
		Priority:    v.Priority,
		Due:         v.DueDatetime,
		DueAt:       s.parseDue(v.DueDatetime, u),
		Tags:        v.Tags,
		Assignees:   assignees,
	}
	t, err := s.data.CreateTask(ctx, t)
	if err != nil {
		return store.Task{}, err
	}

	if t.DueAt != nil && u.NotifyCalendar {
		e, _, err := s.data.UpsertEvent(ctx, store.Event{
			UserID:      u.ID,
			Title:       t.Title,
			Description: t.Description,
			Start:       *t.DueAt,
			End:         *t.DueAt,
			Attendees:   assignees,
			LinkTaskID:  t.ID,
		})
		if err != nil {
			slog.Warn("link task to calendar failed", "user", u.ID, "task", t.ID, "error", err)
			return t, nil
		}
		if _, err := s.data.UpdateTask(ctx, scope, u.ID, t.ID, store.TaskPatch{CalendarEventID: &e.ID}); err != nil {
			slog.Warn("store calendar link failed", "user", u.ID, "task", t.ID, "error", err)
		}
		t.CalendarEventID = e.ID
	}
	return t, nil
}

func (s *Service) updatePersonalTask(ctx context.Context, u store.User, p plan.Params) (string, error) {
	return s.updateTask(ctx, u, store.ScopePersonal, p, "Задача обновлена.", "Задача не найдена.")
}

func (s *Service) updateTeamTask(ctx context.Context, u store.User, p plan.Params) (string, error) {
	return s.updateTask(ctx, u, store.ScopeTeam, p, "Командная задача обновлена.", "Командная задача не найдена.")
}

func (s *Service) updateTask(ctx context.Context, u store.User, scope store.Scope, p plan.Params, done, missing string) (string, error) {
	v, err := paramsAs[plan.TaskUpdate](p)
	if err != nil {
		return "", err
	}
	f := v.Fields
	patch := store.TaskPatch{
		Title:       f.Title,
		Description: f.Description,
		Status:      f.Status,
		Priority:    f.Priority,
		Due:         f.DueDatetime,
		Tags:        f.Tags,
	}
	if f.DueDatetime != nil {
		patch.DueAt = s.parseDue(*f.DueDatetime, u)
	}
	if scope == store.ScopeTeam {
		patch.Assignees = f.Assignees
	}

	_, err = s.data.UpdateTask(ctx, scope, u.ID, v.TaskID, patch)
	if errors.Is(err, store.ErrNotFound) {
		return missing, nil
	}
	if err != nil {
		return "", err
	}
	return done, nil
}

func (s *Service) listPersonalTasks(ctx context.Context, u store.User, p plan.Params) (string, error) {
	return s.listTasks(ctx, u, store.ScopePersonal, p, "Личных задач нет.")
}

func (s *Service) listTeamTasks(ctx context.Context, u store.User, p plan.Params) (string, error) {
	return s.listTasks(ctx, u, store.ScopeTeam, p, "Командных задач нет.")
}

func (s *Service) listTasks(ctx context.Context, u store.User, scope store.Scope, p plan.Params, empty string) (string, error) {
	v, err := paramsAs[plan.TaskList](p)
	if err != nil {
		return "", err
	}
	tasks, err := s.data.ListTasks(ctx, scope, u.ID, v.Status)
	if err != nil {
		return "", err
	}
	if len(tasks) == 0 {
		return empty, nil
	}
	lines := make([]string, len(tasks))
	for i, t := range tasks {
		line := fmt.Sprintf("• %s [%s]", t.Title, t.Status)
		if t.Due != "" {
			line += " до " + t.Due
		}
		if scope == store.ScopeTeam && len(t.Assignees) > 0 {
			line += " (исполнители: " + strings.Join(t.Assignees, ", ") + ")"
		}
		lines[i] = line
	}
	return strings.Join(lines, "\n"), nil
}

// parseDue reads a deadline in the user's timezone. Wording that is not a
// datetime is kept as text only.
func (s *Service) parseDue(value string, u store.User) *time.Time {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	t, err := store.ParseLocal(value, u.Location())
	if err != nil {
		slog.Debug("due is not a datetime", "user", u.ID, "due", value)
		return nil
	}
	return &t
}
