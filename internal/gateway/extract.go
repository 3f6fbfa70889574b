package gateway

import (
	"encoding/json"
	"strings"

	"github.com/nous-labs/scribe/pkg/budget"
)

// Request markers recognized by the context-free retry. Prompts place the
// user's text after one of them, last.
const (
	MarkerUserRequest = "Запрос пользователя:"
	markerUserText    = "user_text:"
	markerEnglish     = "User request:"
)

const maxRequestChars = 2000

// UserRequest returns the text after the last request marker in prompt.
func UserRequest(prompt string) (string, bool) {
	at, width := -1, 0
	for _, m := range []string{MarkerUserRequest, markerUserText, markerEnglish} {
		if i := strings.LastIndex(prompt, m); i > at {
			at, width = i, len(m)
		}
	}
	if at < 0 {
		return "", false
	}
	req := strings.TrimSpace(prompt[at+width:])
	req = strings.TrimSpace(strings.Trim(req, `"«»`))
	if req == "" {
		return "", false
	}
	return budget.Truncate(req, maxRequestChars), true
}

// ExtractJSON returns the first JSON object in model text. Fenced blocks
// are preferred; otherwise braces are matched outside string literals.
func ExtractJSON(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}

	if idx := strings.Index(s, "```json"); idx >= 0 {
		start := idx + len("```json")
		if end := strings.Index(s[start:], "```"); end >= 0 {
			if c := strings.TrimSpace(s[start : start+end]); isObject(c) {
				return c, true
			}
		}
	}
	if idx := strings.Index(s, "```"); idx >= 0 {
		start := idx + 3
		if nl := strings.Index(s[start:], "\n"); nl >= 0 {
			start += nl + 1
		}
		if end := strings.Index(s[start:], "```"); end >= 0 {
			if c := strings.TrimSpace(s[start : start+end]); isObject(c) {
				return c, true
			}
		}
	}

	for from := 0; from < len(s); {
		idx := strings.IndexByte(s[from:], '{')
		if idx < 0 {
			break
		}
		idx += from
		if c, ok := balancedObject(s[idx:]); ok && isObject(c) {
			return c, true
		}
		from = idx + 1
	}
	return "", false
}

// balancedObject scans from an opening brace to its matching close.
func balancedObject(s string) (string, bool) {
	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}

func isObject(s string) bool {
	return strings.HasPrefix(s, "{") && json.Valid([]byte(s))
}
