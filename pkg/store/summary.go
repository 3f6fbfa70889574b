package store

import (
	"context"
	"strings"
)

const summaryPartChars = 200

// Summary describes a user's open personal and team tasks in one line.
func (s *Store) Summary(ctx context.Context, userID string) (string, error) {
	personal, err := s.ListTasks(ctx, ScopePersonal, userID, "")
	if err != nil {
		return "", err
	}
	team, err := s.ListTasks(ctx, ScopeTeam, userID, "")
	if err != nil {
		return "", err
	}
	return "Личные задачи: " + summarizeTasks(personal) + " | Командные задачи: " + summarizeTasks(team), nil
}

func summarizeTasks(tasks []Task) string {
	var parts []string
	for _, t := range tasks {
		if t.Status == StatusDone {
			continue
		}
		item := t.Title
		if t.Due != "" {
			item += " (до " + t.Due + ")"
		}
		parts = append(parts, item)
	}
	if len(parts) == 0 {
		return "нет"
	}
	out := []rune(strings.Join(parts, "; "))
	if len(out) > summaryPartChars {
		out = out[:summaryPartChars]
	}
	return string(out)
}
