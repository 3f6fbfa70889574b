package daemon

import (
	"encoding/json"
	"sync"
	"time"
)

// Event types on the /v1/events stream.
const (
	EventChat     = "chat"     // a user or assistant turn
	EventDecision = "decision" // dispatcher outcome for a turn
	EventReminder = "reminder" // reminder worker activity
	EventStatus   = "status"
	EventError    = "error"
)

// Event is a single event broadcast to stream subscribers.
type Event struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id,omitempty"`
	Role     string `json:"role,omitempty"` // chat: "user" or "assistant"
	Content  string `json:"content,omitempty"`
	Decision string `json:"decision,omitempty"`
	Method   string `json:"method,omitempty"`
	Message  string `json:"message,omitempty"`
	TS       string `json:"ts"`
}

// JSON serializes the event, stamping it if needed.
func (e Event) JSON() []byte {
	if e.TS == "" {
		e.TS = time.Now().Format(time.RFC3339)
	}
	b, _ := json.Marshal(e)
	return b
}

// EventBus fans out events to subscribers and keeps a short history for
// new ones. Subscribers that fall behind miss events rather than block
// publishers.
type EventBus struct {
	mu        sync.RWMutex
	subs      map[chan Event]struct{}
	recent    []Event
	maxRecent int
}

// NewEventBus creates an event bus keeping the last 200 events.
func NewEventBus() *EventBus {
	return &EventBus{
		subs:      make(map[chan Event]struct{}),
		maxRecent: 200,
	}
}

// Publish stamps e and delivers it without blocking.
func (eb *EventBus) Publish(e Event) {
	if e.TS == "" {
		e.TS = time.Now().Format(time.RFC3339)
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.recent = append(eb.recent, e)
	if len(eb.recent) > eb.maxRecent {
		eb.recent = eb.recent[len(eb.recent)-eb.maxRecent:]
	}
	for ch := range eb.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a subscriber. The returned cancel func closes the
// channel and must be called once.
func (eb *EventBus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	eb.mu.Lock()
	eb.subs[ch] = struct{}{}
	eb.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			eb.mu.Lock()
			delete(eb.subs, ch)
			close(ch)
			eb.mu.Unlock()
		})
	}
}

// Recent returns up to n of the latest events, oldest first.
func (eb *EventBus) Recent(n int) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if n <= 0 || n > len(eb.recent) {
		n = len(eb.recent)
	}
	out := make([]Event, n)
	copy(out, eb.recent[len(eb.recent)-n:])
	return out
}

// SubscriberCount returns the number of connected subscribers.
func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subs)
}
