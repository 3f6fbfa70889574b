// Package userstate keeps per-user conversational state: the debug flag,
// recent dialog turns and a log of recent actions. Every user has an entry
// with its own mutex.
package userstate

import (
	"fmt"
	"sync"
	"time"
)

// Role labels a dialog turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one dialog message.
type Turn struct {
	Role Role
	Text string
	At   time.Time
}

// Action is one logged side effect.
type Action struct {
	At    time.Time
	Type  string // TASK_CREATED, NOTE_UPDATED, ...
	Title string
	Due   string
}

const (
	defaultHistoryCap = 50
	defaultActionCap  = 50
)

// Store is a process-wide map of per-user entries.
type Store struct {
	mu    sync.Mutex
	users map[string]*entry

	historyCap int
	actionCap  int
	now        func() time.Time
}

type entry struct {
	turn sync.Mutex // held for a whole request

	mu      sync.Mutex
	debug   bool
	history []Turn
	actions []Action
}

// New creates an empty store.
func New() *Store {
	return &Store{
		users:      make(map[string]*entry),
		historyCap: defaultHistoryCap,
		actionCap:  defaultActionCap,
		now:        time.Now,
	}
}

func (s *Store) entry(userID string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.users[userID]
	if !ok {
		e = &entry{}
		s.users[userID] = e
	}
	return e
}

// BeginTurn serializes request handling for one user. The returned
// function releases the turn.
func (s *Store) BeginTurn(userID string) (end func()) {
	e := s.entry(userID)
	e.turn.Lock()
	return e.turn.Unlock
}

// SetDebug switches the diagnostic suffix for a user.
func (s *Store) SetDebug(userID string, on bool) {
	e := s.entry(userID)
	e.mu.Lock()
	e.debug = on
	e.mu.Unlock()
}

// Debug reports whether the diagnostic suffix is enabled.
func (s *Store) Debug(userID string) bool {
	e := s.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.debug
}

// AppendTurn records a dialog message, keeping the most recent ones.
func (s *Store) AppendTurn(userID string, role Role, text string) error {
	if role != RoleUser && role != RoleAssistant {
		return fmt.Errorf("unknown dialog role %q", role)
	}
	e := s.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = appendBounded(e.history, Turn{Role: role, Text: text, At: s.now()}, s.historyCap)
	return nil
}

// RecentTurns returns up to limit turns, oldest first. A limit of zero or
// less returns all kept turns.
func (s *Store) RecentTurns(userID string, limit int) []Turn {
	e := s.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return tail(e.history, limit)
}

// LogAction records a side effect. A zero At is stamped with the
// current time.
func (s *Store) LogAction(userID string, a Action) {
	if a.At.IsZero() {
		a.At = s.now()
	}
	e := s.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.actions = appendBounded(e.actions, a, s.actionCap)
}

// RecentActions returns up to limit actions, oldest first.
func (s *Store) RecentActions(userID string, limit int) []Action {
	e := s.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return tail(e.actions, limit)
}

func appendBounded[T any](list []T, v T, capacity int) []T {
	list = append(list, v)
	if over := len(list) - capacity; over > 0 {
		list = append(list[:0:0], list[over:]...)
	}
	return list
}

func tail[T any](list []T, limit int) []T {
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	return append([]T(nil), list...)
}
