// Package reminder implements the background task reminder worker.
//
// On every cycle the worker scans users who opted into reminders, collects
// their unfinished tasks that are overdue or due soon, and sends one
// message per user. Each task is reminded once per deadline: the deadline
// a reminder was sent for is remembered in the store's key-value table.
package reminder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nous-labs/scribe/internal/gateway"
	"github.com/nous-labs/scribe/internal/metrics"
	"github.com/nous-labs/scribe/pkg/channel"
	"github.com/nous-labs/scribe/pkg/store"
)

// EventFunc publishes worker events: event type, message.
type EventFunc func(typ, message string)

// Source is the data the worker reads and the dedupe state it keeps.
type Source interface {
	ListUsers(ctx context.Context) ([]store.User, error)
	UpcomingTasks(ctx context.Context, u store.User, now time.Time, within time.Duration) ([]store.Task, error)
	KVGet(ctx context.Context, key string) (string, error)
	KVSet(ctx context.Context, key, value string) error
}

// Composer phrases the reminder text.
type Composer interface {
	Invoke(ctx context.Context, prompt string, opts gateway.Options) (string, bool)
}

// Sender delivers a reminder to a chat.
type Sender interface {
	Send(ctx context.Context, resp channel.Response) error
}

// Report holds the results of one cycle.
type Report struct {
	CycleNumber int       `json:"cycle_number"`
	StartedAt   time.Time `json:"started_at"`
	Duration    string    `json:"duration"`
	Users       int       `json:"users"`
	Sent        int       `json:"sent"`
	Tasks       int       `json:"tasks"`
	Errors      []string  `json:"errors,omitempty"`
}

// Config holds worker settings.
type Config struct {
	Interval time.Duration // default 5m
	Window   time.Duration // how far ahead to look (default 24h)
	// Deliverable reports whether the sender can reach a chat ID. Nil
	// accepts every chat.
	Deliverable func(chatID string) bool
}

// DefaultConfig returns the standard schedule.
func DefaultConfig() Config {
	return Config{Interval: 5 * time.Minute, Window: 24 * time.Hour}
}

// Worker sends task reminders.
type Worker struct {
	data     Source
	compose  Composer
	send     Sender
	onEvent  EventFunc
	interval time.Duration
	window   time.Duration
	now      func() time.Time

	deliverable func(chatID string) bool

	mu         sync.RWMutex
	lastReport *Report
	cycleCount int
}

// NewWorker creates a reminder worker. compose may be nil, in which case
// the plain-text fallback is always used.
func NewWorker(data Source, compose Composer, send Sender, onEvent EventFunc, cfg Config) *Worker {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	return &Worker{
		data:     data,
		compose:  compose,
		send:     send,
		onEvent:  onEvent,
		interval: cfg.Interval,
		window:   cfg.Window,
		now:      time.Now,

		deliverable: cfg.Deliverable,
	}
}

// Run checks on every tick until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("reminder worker started", "interval", w.interval, "window", w.window)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reminder worker stopping")
			return
		case <-ticker.C:
			w.logReport(w.RunOnce(ctx))
		}
	}
}

// RunOnce runs a single cycle and returns its report.
func (w *Worker) RunOnce(ctx context.Context) *Report {
	w.mu.Lock()
	w.cycleCount++
	cycle := w.cycleCount
	w.mu.Unlock()

	start := w.now()
	report := &Report{CycleNumber: cycle, StartedAt: start}

	users, err := w.data.ListUsers(ctx)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("list users: %v", err))
		slog.Warn("reminder: list users failed", "error", err)
	}
	for _, u := range users {
		if !u.NotifyReminders || u.ChatID == "" {
			continue
		}
		if w.deliverable != nil && !w.deliverable(u.ChatID) {
			slog.Debug("reminder: chat not reachable by sender", "user", u.ID, "chat", u.ChatID)
			continue
		}
		report.Users++
		if err := w.remind(ctx, u, start, report); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("user %s: %v", u.ID, err))
			slog.Warn("reminder: user failed", "user", u.ID, "error", err)
		}
	}

	report.Duration = w.now().Sub(start).Round(time.Millisecond).String()
	w.mu.Lock()
	w.lastReport = report
	w.mu.Unlock()
	return report
}

// LastReport returns the most recent report.
func (w *Worker) LastReport() *Report {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastReport
}

func (w *Worker) remind(ctx context.Context, u store.User, now time.Time, report *Report) error {
	tasks, err := w.data.UpcomingTasks(ctx, u, now, w.window)
	if err != nil {
		return err
	}

	var due []store.Task
	for _, t := range tasks {
		seen, err := w.data.KVGet(ctx, dedupeKey(u, t))
		if err != nil {
			return err
		}
		if seen != dueMark(t) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}

	text := w.text(ctx, u, due, now)
	if err := w.send.Send(ctx, channel.Response{RoomID: u.ChatID, Content: text}); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	metrics.RemindersSent.Inc()
	report.Sent++
	report.Tasks += len(due)
	w.emit("reminder", fmt.Sprintf("Reminded %s about %d task(s)", u.ID, len(due)))

	for _, t := range due {
		if err := w.data.KVSet(ctx, dedupeKey(u, t), dueMark(t)); err != nil {
			slog.Warn("reminder: mark sent failed", "user", u.ID, "task", t.ID, "error", err)
		}
	}
	return nil
}

type promptTask struct {
	Title     string `json:"title"`
	Due       string `json:"due_datetime"`
	IsOverdue bool   `json:"is_overdue"`
}

const reminderPrompt = `Ты — дружелюбный секретарь. Составь короткое напоминание о задачах.
Текущее время: %q.
Список задач в JSON:
%s

Ответь обычным текстом (русский), без JSON и без форматирования Markdown.
Сначала скажи, что это напоминание, затем перечисли просроченные и ближайшие
задачи, максимум по сути. Не выдумывай новых данных.`

// text asks the model for the reminder and falls back to a plain list.
func (w *Worker) text(ctx context.Context, u store.User, tasks []store.Task, now time.Time) string {
	loc := u.Location()
	items := make([]promptTask, len(tasks))
	for i, t := range tasks {
		due := t.Due
		if t.DueAt != nil {
			due = store.FormatLocal(*t.DueAt, loc)
		}
		items[i] = promptTask{Title: t.Title, Due: due, IsOverdue: t.Overdue(now)}
	}
	if w.compose != nil {
		raw, _ := json.MarshalIndent(items, "", "  ")
		prompt := fmt.Sprintf(reminderPrompt, store.FormatLocal(now, loc), raw)
		if text, ok := w.compose.Invoke(ctx, prompt, gateway.Options{MaxOutputTokens: 512}); ok {
			return text
		}
	}
	return fallbackText(items)
}

func fallbackText(items []promptTask) string {
	var overdue, upcoming []string
	for _, t := range items {
		line := fmt.Sprintf("- %s (до %s)", t.Title, t.Due)
		if t.IsOverdue {
			overdue = append(overdue, line)
		} else {
			upcoming = append(upcoming, line)
		}
	}
	if len(overdue)+len(upcoming) == 0 {
		return "На сейчас у вас нет задач, требующих внимания."
	}
	parts := []string{"Напоминание о задачах:"}
	if len(overdue) > 0 {
		parts = append(parts, "Просроченные:")
		parts = append(parts, overdue...)
	}
	if len(upcoming) > 0 {
		parts = append(parts, "Ближайшие:")
		parts = append(parts, upcoming...)
	}
	return strings.Join(parts, "\n")
}

// dedupeKey is per recipient: a team task is reminded to each assignee.
func dedupeKey(u store.User, t store.Task) string { return "reminder:" + u.ID + ":" + t.ID }

func dueMark(t store.Task) string {
	if t.DueAt == nil {
		return t.Due
	}
	return t.DueAt.UTC().Format(time.RFC3339)
}

func (w *Worker) logReport(r *Report) {
	if r.Sent == 0 && len(r.Errors) == 0 {
		slog.Debug("reminder: cycle complete", "cycle", r.CycleNumber, "users", r.Users)
		return
	}
	slog.Info("reminder: cycle complete",
		"cycle", r.CycleNumber,
		"duration", r.Duration,
		"users", r.Users,
		"sent", r.Sent,
		"tasks", r.Tasks,
		"errors", len(r.Errors),
	)
}

func (w *Worker) emit(typ, message string) {
	if w.onEvent != nil {
		w.onEvent(typ, message)
	}
}
