// Package executor runs an approved plan through the capability table.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/nous-labs/scribe/internal/capability"
	"github.com/nous-labs/scribe/internal/metrics"
	"github.com/nous-labs/scribe/internal/userstate"
	"github.com/nous-labs/scribe/pkg/plan"
	"github.com/nous-labs/scribe/pkg/store"
)

// Apology is the reply whenever a capability fails.
const Apology = "Во время обработки запроса произошла ошибка. Я записал её в лог и продолжу работу."

// CapabilityError is a handler failure after retries.
type CapabilityError struct {
	Method plan.Method
	Err    error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("capability %s: %v", e.Method, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// Result is the reply of one execution. Extra carries the plan when the
// execution failed.
type Result struct {
	Answer string         `json:"answer"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// FreeChat answers a question; it never fails.
type FreeChat func(ctx context.Context, profile store.User, question string) string

// Config tunes retries.
type Config struct {
	Attempts int           // default 3
	Backoff  time.Duration // default 1s; the n-th retry waits Backoff*n
}

// Executor dispatches plans to handlers.
type Executor struct {
	handlers map[plan.Method]capability.Handler
	chat     FreeChat
	state    *userstate.Store
	attempts int
	backoff  time.Duration
}

// New creates an Executor over a handler table.
func New(handlers map[plan.Method]capability.Handler, chat FreeChat, state *userstate.Store, cfg Config) *Executor {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	return &Executor{
		handlers: handlers,
		chat:     chat,
		state:    state,
		attempts: cfg.Attempts,
		backoff:  cfg.Backoff,
	}
}

// Execute performs p for profile and returns the reply.
func (x *Executor) Execute(ctx context.Context, profile store.User, p plan.Plan) Result {
	res := x.execute(ctx, profile, p)
	if x.state != nil && x.state.Debug(profile.ID) {
		res.Answer += debugSuffix(p)
	}
	return res
}

func (x *Executor) execute(ctx context.Context, profile store.User, p plan.Plan) Result {
	switch p.Method {
	case plan.MethodChat:
		if p.UserVisibleAnswer != "" {
			return Result{Answer: p.UserVisibleAnswer}
		}
		return Result{Answer: x.freeChat(ctx, profile, p)}
	case plan.MethodClarify:
		return Result{Answer: p.Question()}
	}

	h, ok := x.handlers[p.Method]
	if !ok {
		slog.Warn("no handler for method, answering as chat", "user", profile.ID, "method", p.Method)
		return Result{Answer: x.freeChat(ctx, profile, p)}
	}

	answer, err := x.run(ctx, profile, p, h)
	if err != nil {
		metrics.RecordCapabilityCall(string(p.Method), "failed")
		slog.Error("capability failed",
			"user", profile.ID,
			"method", p.Method,
			"params", plan.ParamKeys(p.Params),
			"error", err,
		)
		return Result{Answer: Apology, Extra: map[string]any{"plan": p}}
	}
	metrics.RecordCapabilityCall(string(p.Method), "ok")
	x.logAction(profile.ID, p)
	return Result{Answer: answer}
}

// run calls h, retrying transient failures with linear backoff.
func (x *Executor) run(ctx context.Context, profile store.User, p plan.Plan, h capability.Handler) (string, error) {
	var last error
	for attempt := 0; attempt < x.attempts; attempt++ {
		answer, err := call(ctx, h, profile, p.Params)
		if err == nil {
			return answer, nil
		}
		last = err
		if !capability.IsTransient(err) || attempt == x.attempts-1 {
			break
		}

		wait := x.backoff * time.Duration(attempt+1)
		metrics.IncrementCapabilityRetry(string(p.Method))
		slog.Warn("transient capability error, retrying",
			"method", p.Method,
			"attempt", attempt+1,
			"wait", wait,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return "", &CapabilityError{Method: p.Method, Err: errors.Join(last, ctx.Err())}
		case <-time.After(wait):
		}
	}
	return "", &CapabilityError{Method: p.Method, Err: last}
}

func call(ctx context.Context, h capability.Handler, profile store.User, params plan.Params) (answer string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v\n%s", r, debug.Stack())
		}
	}()
	return h(ctx, profile, params)
}

func (x *Executor) freeChat(ctx context.Context, profile store.User, p plan.Plan) string {
	question := p.Question()
	if strings.TrimSpace(question) == "" {
		question = p.OriginalQuestion
	}
	if x.chat == nil {
		return capability.ChatUnavailable
	}
	return x.chat(ctx, profile, question)
}

// actionTypes maps mutations to their action log type.
var actionTypes = map[plan.Method]string{
	plan.MethodCreateTask:     "TASK_CREATED",
	plan.MethodCreateTeamTask: "TASK_CREATED",
	plan.MethodUpdateTask:     "TASK_UPDATED",
	plan.MethodUpdateTeamTask: "TASK_UPDATED",
	plan.MethodUpsertEvent:    "CALENDAR_EVENT_CREATED",
	plan.MethodWriteNote:      "NOTE_CREATED",
	plan.MethodUpdateNote:     "NOTE_UPDATED",
	plan.MethodDeleteNote:     "NOTE_DELETED",
}

func (x *Executor) logAction(userID string, p plan.Plan) {
	typ, ok := actionTypes[p.Method]
	if !ok || x.state == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("action log failed", "user", userID, "panic", r)
		}
	}()
	title, due := describe(p.Params)
	x.state.LogAction(userID, userstate.Action{Type: typ, Title: title, Due: due})
}

func describe(p plan.Params) (title, due string) {
	switch v := p.(type) {
	case plan.TaskCreate:
		return v.Title, v.DueDatetime
	case plan.TeamTaskCreate:
		return v.Title, v.DueDatetime
	case plan.TaskUpdate:
		title = v.TaskID
		if v.Fields.Title != nil {
			title = *v.Fields.Title
		}
		if v.Fields.DueDatetime != nil {
			due = *v.Fields.DueDatetime
		}
		return title, due
	case plan.EventUpsert:
		return v.Title, v.StartDatetime
	case plan.NoteWrite:
		return v.Text, ""
	case plan.NoteUpdate:
		return v.NoteID, ""
	case plan.NoteDelete:
		return v.NoteID, ""
	}
	return "", ""
}

func debugSuffix(p plan.Plan) string {
	return fmt.Sprintf("\n\n[debug] method=%s; confidence=%.2f; params_keys=[%s]",
		p.Method, p.Confidence, strings.Join(plan.ParamKeys(p.Params), " "))
}
