// Package llm adapts generative-text services to the single call shape the
// gateway depends on.
package llm

import (
	"context"
	"strconv"
	"strings"
)

// GenerateRequest holds parameters for one generation call.
type GenerateRequest struct {
	Prompt          string  `json:"prompt"`
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"max_output_tokens"`
}

// Candidate is one generated alternative.
type Candidate struct {
	FinishReason string   `json:"finish_reason"` // vendor name or numeric code
	Parts        []string `json:"parts"`
}

// Usage holds token accounting reported by the service.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Response is the minimal surface of a generation result.
type Response struct {
	// Text is the direct text result, if the service provides one.
	Text        string      `json:"text,omitempty"`
	Candidates  []Candidate `json:"candidates,omitempty"`
	Usage       Usage       `json:"usage"`
	BlockReason string      `json:"block_reason,omitempty"` // prompt-level block
	Model       string      `json:"model,omitempty"`
}

// Generator is the interface for generative-text services.
type Generator interface {
	// Name returns the provider identifier (e.g., "gemini", "anthropic").
	Name() string

	// Generate issues one call. It may fail or panic; callers guard it.
	Generate(ctx context.Context, req GenerateRequest) (*Response, error)
}

// FinishReason is the vendor-neutral reason generation stopped.
type FinishReason string

const (
	FinishStop      FinishReason = "STOP"
	FinishMaxTokens FinishReason = "MAX_TOKENS"
	FinishBlocked   FinishReason = "BLOCKED"
	FinishNone      FinishReason = "NONE" // the call failed outright
)

// NormalizeFinishReason maps vendor names and numeric codes onto the
// closed FinishReason set.
func NormalizeFinishReason(raw string) FinishReason {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if n, err := strconv.Atoi(s); err == nil {
		// Gemini numeric codes
		switch {
		case n == 1:
			return FinishStop
		case n == 2:
			return FinishMaxTokens
		case n >= 3:
			return FinishBlocked
		}
		return FinishStop
	}
	s = strings.TrimPrefix(s, "FINISH_REASON_")
	switch s {
	case "", "STOP", "UNSPECIFIED", "END_TURN", "STOP_SEQUENCE", "TOOL_USE", "PAUSE_TURN", "TOOL_CALLS":
		return FinishStop
	case "MAX_TOKENS", "LENGTH":
		return FinishMaxTokens
	case "NONE":
		return FinishNone
	}
	// SAFETY, RECITATION, BLOCKLIST, PROHIBITED_CONTENT, SPII, IMAGE_SAFETY,
	// LANGUAGE, OTHER, REFUSAL, CONTENT_FILTER and anything unknown.
	return FinishBlocked
}

// ProviderError represents a generation service error.
type ProviderError struct {
	Message    string
	StatusCode int
	Provider   string
}

func (e *ProviderError) Error() string {
	if e.Provider != "" {
		return e.Provider + ": " + e.Message
	}
	return e.Message
}

// Temporary reports whether retrying the call could succeed.
func (e *ProviderError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}
