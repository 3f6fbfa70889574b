// Package channel defines how scribe talks to chat transports.
package channel

import (
	"context"
	"strings"
	"unicode/utf8"
)

// MaxMessageRunes is the longest message a transport sends in one piece.
const MaxMessageRunes = 4000

// Message is an incoming message from any transport.
type Message struct {
	Source     string // "matrix", "http"
	SenderID   string
	SenderName string
	RoomID     string
	Content    string
	Timestamp  int64 // milliseconds
}

// Response is an outgoing message.
type Response struct {
	Content string
	RoomID  string
}

// Channel is a chat transport.
type Channel interface {
	Name() string

	// Start listens for messages until ctx is cancelled, passing each to
	// handler.
	Start(ctx context.Context, handler MessageHandler) error

	Send(ctx context.Context, resp Response) error

	Stop() error
}

// MessageHandler processes one incoming message and returns the reply.
// An empty reply sends nothing.
type MessageHandler func(ctx context.Context, msg Message) (string, error)

// Split cuts text into pieces of at most limit runes, preferring to break
// after a newline or a space in the second half of a piece.
func Split(text string, limit int) []string {
	if limit <= 0 || text == "" {
		return nil
	}
	var chunks []string
	for utf8.RuneCountInString(text) > limit {
		cut := byteOffset(text, limit)
		piece := text[:cut]
		if i := strings.LastIndexAny(piece, "\n "); i >= 0 && utf8.RuneCountInString(piece[:i]) >= limit/2 {
			cut = i + 1
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// byteOffset returns the byte index of the n-th rune of s.
func byteOffset(s string, n int) int {
	i := 0
	for pos := range s {
		if i == n {
			return pos
		}
		i++
	}
	return len(s)
}
