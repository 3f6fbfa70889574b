// Package gateway is the only path to the generation service. It bounds
// prompts, interprets finish reasons and retries truncated or empty
// answers. It never returns an error.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nous-labs/scribe/internal/llm"
	"github.com/nous-labs/scribe/internal/metrics"
	"github.com/nous-labs/scribe/pkg/budget"
)

// Options control one Invoke.
type Options struct {
	Temperature     float64
	MaxOutputTokens int
	// RetryWithoutContext enables a last-resort retry that sends only the
	// user request found after a request marker.
	RetryWithoutContext bool
}

// Config holds gateway limits.
type Config struct {
	PromptCeiling  int           // characters; default 12000
	MinRetryTokens int           // floor for the MAX_TOKENS retry; default 2048
	DegradedTokens int           // budget of the context-free retry; default 512
	Limiter        *rate.Limiter // optional pacing of calls
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{
		PromptCeiling:  12000,
		MinRetryTokens: 2048,
		DegradedTokens: 512,
	}
}

// Gateway wraps a Generator with the retry ladder.
type Gateway struct {
	gen llm.Generator
	cfg Config
}

// New creates a gateway. Zero config values take defaults.
func New(gen llm.Generator, cfg Config) *Gateway {
	def := DefaultConfig()
	if cfg.PromptCeiling <= 0 {
		cfg.PromptCeiling = def.PromptCeiling
	}
	if cfg.MinRetryTokens <= 0 {
		cfg.MinRetryTokens = def.MinRetryTokens
	}
	if cfg.DegradedTokens <= 0 {
		cfg.DegradedTokens = def.DegradedTokens
	}
	return &Gateway{gen: gen, cfg: cfg}
}

// Provider returns the name of the underlying generator.
func (g *Gateway) Provider() string { return g.gen.Name() }

// Invoke generates text for prompt. The bool is false when no usable text
// could be obtained (unreachable, blocked or truncated service).
func (g *Gateway) Invoke(ctx context.Context, prompt string, opts Options) (string, bool) {
	prompt = budget.Truncate(prompt, g.cfg.PromptCeiling)

	text, finish := g.attempt(ctx, prompt, opts.Temperature, opts.MaxOutputTokens, 1)
	if text != "" {
		return text, true
	}

	if finish == llm.FinishMaxTokens {
		expanded := max(2*opts.MaxOutputTokens, g.cfg.MinRetryTokens)
		slog.Info("model answer truncated, retrying with larger budget",
			"provider", g.gen.Name(), "max_output_tokens", expanded)
		text, finish = g.attempt(ctx, prompt, opts.Temperature, expanded, 2)
		if text != "" {
			return text, true
		}
	}

	if opts.RetryWithoutContext {
		request, ok := UserRequest(prompt)
		if !ok {
			slog.Debug("no user request marker, skipping context-free retry", "provider", g.gen.Name())
			return "", false
		}
		slog.Info("retrying without context", "provider", g.gen.Name(), "last_finish", finish)
		text, _ = g.attempt(ctx, fmt.Sprintf(degradedPrompt, request), opts.Temperature, g.cfg.DegradedTokens, 3)
		if text != "" {
			return text, true
		}
	}

	return "", false
}

const degradedPrompt = "Ответь кратко и по делу на русском языке, без JSON и без Markdown.\n" +
	MarkerUserRequest + " %s"

// attempt issues one guarded call. Errors and panics become FinishNone.
func (g *Gateway) attempt(ctx context.Context, prompt string, temperature float64, maxTokens, n int) (text string, finish llm.FinishReason) {
	provider := g.gen.Name()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("model call panicked", "provider", provider, "attempt", n, "panic", r)
			text, finish = "", llm.FinishNone
		}
		metrics.RecordModelCall(provider, string(finish), time.Since(start))
	}()

	if g.cfg.Limiter != nil {
		if err := g.cfg.Limiter.Wait(ctx); err != nil {
			slog.Warn("model call not paced", "provider", provider, "error", err)
			return "", llm.FinishNone
		}
	}

	resp, err := g.gen.Generate(ctx, llm.GenerateRequest{
		Prompt:          prompt,
		Temperature:     temperature,
		MaxOutputTokens: maxTokens,
	})
	if err != nil {
		slog.Warn("model call failed", "provider", provider, "attempt", n, "error", err)
		return "", llm.FinishNone
	}

	text, finish = interpret(resp)
	slog.Debug("model call finished",
		"provider", provider,
		"attempt", n,
		"finish", finish,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"chars", len(text),
	)
	if finish == llm.FinishBlocked {
		slog.Warn("model answer blocked", "provider", provider, "block_reason", resp.BlockReason)
	}
	return text, finish
}

// interpret extracts usable text from a response. Text of a blocked
// candidate is never returned.
func interpret(resp *llm.Response) (string, llm.FinishReason) {
	if resp == nil {
		return "", llm.FinishNone
	}
	if resp.BlockReason != "" {
		return "", llm.FinishBlocked
	}

	finish := llm.FinishStop
	if len(resp.Candidates) > 0 {
		finish = llm.NormalizeFinishReason(resp.Candidates[0].FinishReason)
	}
	if finish == llm.FinishBlocked {
		return "", finish
	}

	if text := strings.TrimSpace(resp.Text); text != "" {
		return text, finish
	}
	if len(resp.Candidates) == 0 {
		return "", finish
	}

	var parts []string
	for _, p := range resp.Candidates[0].Parts {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, p)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n")), finish
}
