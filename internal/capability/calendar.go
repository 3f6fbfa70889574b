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

const (
	agendaLimit  = 10
	agendaWindow = 7 * 24 * time.Hour
)

func (s *Service) upsertEvent(ctx context.Context, u store.User, p plan.Params) (string, error) {
	v, err := paramsAs[plan.EventUpsert](p)
	if err != nil {
		return "", err
	}
	loc := u.Location()
	start, err := store.ParseLocal(v.StartDatetime, loc)
	if err != nil {
		return "Не удалось разобрать время начала события. Укажите его в формате ГГГГ-ММ-ДД ЧЧ:ММ.", nil
	}
	var end time.Time
	if v.EndDatetime != "" {
		if end, err = store.ParseLocal(v.EndDatetime, loc); err != nil {
			end = time.Time{}
		}
	}

	e, created, err := s.data.UpsertEvent(ctx, store.Event{
		ID:          v.EventID,
		UserID:      u.ID,
		Title:       v.Title,
		Description: v.Description,
		Start:       start,
		End:         end,
		Attendees:   v.Attendees,
		LinkTaskID:  v.LinkTaskID,
	})
	if errors.Is(err, store.ErrNotFound) {
		return "Событие не найдено.", nil
	}
	if err != nil {
		return "", err
	}

	if v.LinkTaskID != "" {
		if _, err := s.data.UpdateTask(ctx, store.ScopePersonal, u.ID, v.LinkTaskID, store.TaskPatch{CalendarEventID: &e.ID}); err != nil {
			slog.Warn("link event to task failed", "user", u.ID, "event", e.ID, "task", v.LinkTaskID, "error", err)
		}
	}

	if created {
		return fmt.Sprintf("Событие создано (%s).", e.ID), nil
	}
	return fmt.Sprintf("Событие обновлено (%s).", e.ID), nil
}

func (s *Service) agenda(ctx context.Context, u store.User, p plan.Params) (string, error) {
	v, err := paramsAs[plan.Agenda](p)
	if err != nil {
		return "", err
	}
	loc := u.Location()
	from := s.now()
	if t, err := store.ParseLocal(v.FromDatetime, loc); err == nil {
		from = t
	}
	to := from.Add(agendaWindow)
	if t, err := store.ParseLocal(v.ToDatetime, loc); err == nil && t.After(from) {
		to = t
	}

	events, err := s.data.ListEvents(ctx, u.ID, from, to, agendaLimit)
	if err != nil {
		return "", err
	}
	if len(events) == 0 {
		return "Ближайших событий нет.", nil
	}
	lines := make([]string, len(events))
	for i, e := range events {
		lines[i] = fmt.Sprintf("• %s — %s", e.Title, store.FormatLocal(e.Start, loc))
	}
	return strings.Join(lines, "\n"), nil
}
