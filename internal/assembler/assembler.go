// Package assembler builds the bounded context block that prefixes every
// planning prompt.
package assembler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nous-labs/scribe/internal/userstate"
	"github.com/nous-labs/scribe/pkg/budget"
	"github.com/nous-labs/scribe/pkg/store"
)

const (
	placeholder = "не указано"
	// SummaryUnavailable replaces the task summary when it cannot be built.
	SummaryUnavailable = "Данные о задачах и заметках сейчас недоступны."
)

// Summarizer describes a user's open tasks and notes.
type Summarizer interface {
	Summary(ctx context.Context, userID string) (string, error)
}

// Config bounds the assembled context.
type Config struct {
	HistoryTurns int
	ActionCount  int
	MaxChars     int
}

// DefaultConfig returns the standard bounds.
func DefaultConfig() Config {
	return Config{HistoryTurns: 8, ActionCount: 5, MaxChars: 4000}
}

// Assembler combines the profile, dialog history, action log and summary.
type Assembler struct {
	state   *userstate.Store
	summary Summarizer
	cfg     Config
}

// New creates an Assembler. Zero config fields take their defaults.
func New(state *userstate.Store, summary Summarizer, cfg Config) *Assembler {
	def := DefaultConfig()
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = def.HistoryTurns
	}
	if cfg.ActionCount <= 0 {
		cfg.ActionCount = def.ActionCount
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = def.MaxChars
	}
	return &Assembler{state: state, summary: summary, cfg: cfg}
}

// Build returns the context for profile. It never fails: a summary error
// is logged and replaced by SummaryUnavailable.
func (a *Assembler) Build(ctx context.Context, profile store.User) string {
	loc := profile.Location()
	var b strings.Builder

	b.WriteString("Профиль пользователя:\n")
	fmt.Fprintf(&b, "- Имя: %s\n", orPlaceholder(profile.DisplayName))
	fmt.Fprintf(&b, "- Часовой пояс: %s\n", orPlaceholder(profile.Timezone))
	fmt.Fprintf(&b, "- Email календаря: %s\n", orPlaceholder(profile.CalendarEmail))

	if turns := a.state.RecentTurns(profile.ID, a.cfg.HistoryTurns); len(turns) > 0 {
		b.WriteString("\nПоследние сообщения:\n")
		for _, t := range turns {
			label := "Пользователь"
			if t.Role == userstate.RoleAssistant {
				label = "Ассистент"
			}
			fmt.Fprintf(&b, "%s: %s\n", label, t.Text)
		}
	}

	if actions := a.state.RecentActions(profile.ID, a.cfg.ActionCount); len(actions) > 0 {
		b.WriteString("\nПоследние действия:\n")
		for i, act := range actions {
			fmt.Fprintf(&b, "%d) %s — %s %s", i+1, store.FormatLocal(act.At, loc), act.Type, act.Title)
			if act.Due != "" {
				fmt.Fprintf(&b, " (%s)", act.Due)
			}
			b.WriteByte('\n')
		}
	}

	b.WriteString("\nСводка: ")
	b.WriteString(a.summarize(ctx, profile.ID))

	return budget.Truncate(b.String(), a.cfg.MaxChars)
}

func (a *Assembler) summarize(ctx context.Context, userID string) (out string) {
	if a.summary == nil {
		return SummaryUnavailable
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("summary panicked", "user", userID, "panic", r)
			out = SummaryUnavailable
		}
	}()
	s, err := a.summary.Summary(ctx, userID)
	if err != nil {
		slog.Warn("summary unavailable", "user", userID, "error", err)
		return SummaryUnavailable
	}
	return s
}

func orPlaceholder(v string) string {
	if strings.TrimSpace(v) == "" {
		return placeholder
	}
	return v
}
