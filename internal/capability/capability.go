// Package capability implements the side-effecting operations a plan can
// name. Each operation is a Handler returning the reply text.
package capability

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/nous-labs/scribe/internal/llm"
	"github.com/nous-labs/scribe/internal/userstate"
	"github.com/nous-labs/scribe/pkg/plan"
	"github.com/nous-labs/scribe/pkg/store"
)

// Handler performs one plan method for a user.
type Handler func(ctx context.Context, profile store.User, params plan.Params) (string, error)

// TransientError marks a failure that may clear on retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError. Nil stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether retrying err could succeed: an explicit
// TransientError, a network error, a deadline, SQLite lock contention or a
// rate-limited or failing upstream service.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		return pe.Temporary()
	}
	return store.IsBusy(err)
}

// DataStore is the persistence the handlers need.
type DataStore interface {
	CreateNote(ctx context.Context, userID, text string, tags []string) (store.Note, error)
	ListNotes(ctx context.Context, userID string, limit int) ([]store.Note, error)
	UpdateNote(ctx context.Context, userID, id string, text *string, tags []string) error
	DeleteNote(ctx context.Context, userID, id string) error

	CreateTask(ctx context.Context, t store.Task) (store.Task, error)
	UpdateTask(ctx context.Context, scope store.Scope, userID, id string, p store.TaskPatch) (store.Task, error)
	ListTasks(ctx context.Context, scope store.Scope, userID, status string) ([]store.Task, error)

	UpsertEvent(ctx context.Context, e store.Event) (store.Event, bool, error)
	ListEvents(ctx context.Context, userID string, from, to time.Time, limit int) ([]store.Event, error)
}

// NoteSearcher finds notes; either the store's keyword search or hybrid
// semantic search.
type NoteSearcher interface {
	SearchNotes(ctx context.Context, userID, query string, limit int) ([]store.Note, error)
}

// Chatter answers free-form questions. The bool is false when no answer
// could be produced.
type Chatter interface {
	Chat(ctx context.Context, profile store.User, question string) (string, bool)
}

// Service holds the handler dependencies.
type Service struct {
	data   DataStore
	search NoteSearcher
	state  *userstate.Store
	chat   Chatter
	now    func() time.Time
}

// NewService creates a Service. A nil search falls back to data when it
// implements NoteSearcher.
func NewService(data DataStore, search NoteSearcher, state *userstate.Store, chat Chatter) *Service {
	if search == nil {
		search, _ = data.(NoteSearcher)
	}
	return &Service{data: data, search: search, state: state, chat: chat, now: time.Now}
}

// Handlers returns the method table. chat and clarify are not in it.
func (s *Service) Handlers() map[plan.Method]Handler {
	return map[plan.Method]Handler{
		plan.MethodWriteNote:   s.writeNote,
		plan.MethodReadNotes:   s.readNotes,
		plan.MethodSearchNotes: s.searchNotes,
		plan.MethodUpdateNote:  s.updateNote,
		plan.MethodDeleteNote:  s.deleteNote,

		plan.MethodCreateTask: s.createPersonalTask,
		plan.MethodUpdateTask: s.updatePersonalTask,
		plan.MethodListTasks:  s.listPersonalTasks,

		plan.MethodCreateTeamTask: s.createTeamTask,
		plan.MethodUpdateTeamTask: s.updateTeamTask,
		plan.MethodListTeamTasks:  s.listTeamTasks,

		plan.MethodUpsertEvent: s.upsertEvent,
		plan.MethodAgenda:      s.agenda,

		plan.MethodHelp:        s.help,
		plan.MethodDebugOn:     s.debugOn,
		plan.MethodDebugOff:    s.debugOff,
		plan.MethodDebugStatus: s.debugStatus,
	}
}

// ErrParams is returned when a handler receives the wrong params type.
var ErrParams = errors.New("unexpected params")

func paramsAs[T plan.Params](p plan.Params) (T, error) {
	v, ok := p.(T)
	if !ok {
		var zero T
		return zero, ErrParams
	}
	return v, nil
}
