package llm

import (
	"context"
	"errors"
	"sync"
)

// ErrScriptExhausted is returned by Scripted once every step was used.
var ErrScriptExhausted = errors.New("scripted generator: no more responses")

// Step is one canned outcome of a Scripted generator.
type Step struct {
	Response *Response
	Err      error
	Panic    any
}

// Reply is a Step that finishes normally with text.
func Reply(text string) Step {
	return Step{Response: &Response{Candidates: []Candidate{{FinishReason: "STOP", Parts: []string{text}}}}}
}

// Scripted replays canned steps in order. With no steps it behaves like an
// unreachable service.
type Scripted struct {
	mu    sync.Mutex
	steps []Step
	calls []GenerateRequest
}

// NewScripted creates a generator replaying steps.
func NewScripted(steps ...Step) *Scripted {
	return &Scripted{steps: steps}
}

func (s *Scripted) Name() string { return "scripted" }

func (s *Scripted) Generate(_ context.Context, req GenerateRequest) (*Response, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	if len(s.steps) == 0 {
		s.mu.Unlock()
		return nil, &ProviderError{Message: ErrScriptExhausted.Error(), Provider: "scripted"}
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	s.mu.Unlock()

	if step.Panic != nil {
		panic(step.Panic)
	}
	return step.Response, step.Err
}

// Calls returns the requests seen so far.
func (s *Scripted) Calls() []GenerateRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]GenerateRequest(nil), s.calls...)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req GenerateRequest) (*Response, error)

func (GeneratorFunc) Name() string { return "func" }

func (f GeneratorFunc) Generate(ctx context.Context, req GenerateRequest) (*Response, error) {
	return f(ctx, req)
}
