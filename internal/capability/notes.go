package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nous-labs/scribe/pkg/plan"
	"github.com/nous-labs/scribe/pkg/store"
)

func (s *Service) writeNote(ctx context.Context, u store.User, p plan.Params) (string, error) {
	v, err := paramsAs[plan.NoteWrite](p)
	if err != nil {
		return "", err
	}
	n, err := s.data.CreateNote(ctx, u.ID, v.Text, v.Tags)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Заметка сохранена (id=%s).", n.ID), nil
}

func (s *Service) readNotes(ctx context.Context, u store.User, p plan.Params) (string, error) {
	v, err := paramsAs[plan.NoteList](p)
	if err != nil {
		return "", err
	}
	notes, err := s.data.ListNotes(ctx, u.ID, v.Limit)
	if err != nil {
		return "", err
	}
	if len(notes) == 0 {
		return "Заметок пока нет.", nil
	}
	return formatNotes(notes, true), nil
}

func (s *Service) searchNotes(ctx context.Context, u store.User, p plan.Params) (string, error) {
	v, err := paramsAs[plan.NoteSearch](p)
	if err != nil {
		return "", err
	}
	if s.search == nil {
		return "", errors.New("note search is not configured")
	}
	notes, err := s.search.SearchNotes(ctx, u.ID, v.Query, v.Limit)
	if err != nil {
		return "", err
	}
	if len(notes) == 0 {
		return "Ничего не найдено.", nil
	}
	return formatNotes(notes, false), nil
}

func (s *Service) updateNote(ctx context.Context, u store.User, p plan.Params) (string, error) {
	v, err := paramsAs[plan.NoteUpdate](p)
	if err != nil {
		return "", err
	}
	err = s.data.UpdateNote(ctx, u.ID, v.NoteID, v.Text, v.Tags)
	if errors.Is(err, store.ErrNotFound) {
		return "Заметка не найдена.", nil
	}
	if err != nil {
		return "", err
	}
	return "Заметка обновлена.", nil
}

func (s *Service) deleteNote(ctx context.Context, u store.User, p plan.Params) (string, error) {
	v, err := paramsAs[plan.NoteDelete](p)
	if err != nil {
		return "", err
	}
	err = s.data.DeleteNote(ctx, u.ID, v.NoteID)
	if errors.Is(err, store.ErrNotFound) {
		return "Заметка не найдена.", nil
	}
	if err != nil {
		return "", err
	}
	return "Заметка удалена.", nil
}

func formatNotes(notes []store.Note, withTags bool) string {
	lines := make([]string, len(notes))
	for i, n := range notes {
		line := "• " + n.Text
		if withTags && len(n.Tags) > 0 {
			line += " (теги: " + strings.Join(n.Tags, ", ") + ")"
		}
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}
