// Package pipeline turns a request into a plan through four model-backed
// stages: intent, structure, plan and review. Every stage has a local
// default, so Run always produces a complete Outcome.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nous-labs/scribe/internal/gateway"
	"github.com/nous-labs/scribe/internal/metrics"
	"github.com/nous-labs/scribe/pkg/plan"
	"github.com/nous-labs/scribe/pkg/store"
)

// Invoker is the gateway call shape.
type Invoker interface {
	Invoke(ctx context.Context, prompt string, opts gateway.Options) (string, bool)
}

// Request is one user message with its assembled context.
type Request struct {
	Profile store.User
	Text    string
	Context string
}

// Outcome is everything the stages produced. Review is nil when the
// request short-circuited to chat.
type Outcome struct {
	Intent       plan.Classification   `json:"intent"`
	Fields       plan.StructuredFields `json:"fields"`
	Plan         plan.Plan             `json:"plan"`
	Review       *plan.Review          `json:"review"`
	ShortCircuit bool                  `json:"short_circuit"`
}

// Config tunes the model calls.
type Config struct {
	Temperature float64
	// Now is the clock used in prompts. Defaults to time.Now.
	Now func() time.Time
}

// Output budgets per stage.
const (
	intentTokens    = 256
	structureTokens = 512
	planTokens      = 1024
	reviewTokens    = 384
	chatTokens      = 1024
)

// Pipeline runs the stages on a gateway.
type Pipeline struct {
	gw          Invoker
	temperature float64
	now         func() time.Time
}

// New creates a Pipeline.
func New(gw Invoker, cfg Config) *Pipeline {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pipeline{gw: gw, temperature: cfg.Temperature, now: cfg.Now}
}

// Run executes the stages in order. A CHAT intent skips the remaining
// stages and answers directly.
func (p *Pipeline) Run(ctx context.Context, req Request) Outcome {
	intent := p.Classify(ctx, req)
	out := Outcome{Intent: intent}

	if intent.Topic == plan.TopicChat {
		out.ShortCircuit = true
		answer, ok := p.Answer(ctx, req, req.Text)
		if !ok {
			fallback("chat", "no answer")
			out.Plan = plan.ChatFallback(req.Text)
			return out
		}
		out.Plan = plan.Plan{
			Method:            plan.MethodChat,
			Params:            plan.Chat{Question: req.Text},
			Confidence:        1,
			UserVisibleAnswer: answer,
			OriginalQuestion:  req.Text,
		}
		return out
	}

	out.Fields = p.Structure(ctx, req, intent)
	out.Plan = p.Plan(ctx, req, intent, out.Fields)
	review := p.Review(ctx, req, out.Plan)
	out.Review = &review
	return out
}

// Classify runs the intent stage.
func (p *Pipeline) Classify(ctx context.Context, req Request) plan.Classification {
	obj, ok := p.ask(ctx, "intent", p.frame(req, intentPrompt, true), intentTokens)
	if !ok {
		return plan.DefaultClassification()
	}
	c, ok := plan.ParseClassification(obj)
	if !ok {
		fallback("intent", "malformed")
	}
	return c
}

// Structure runs the field extraction stage.
func (p *Pipeline) Structure(ctx context.Context, req Request, intent plan.Classification) plan.StructuredFields {
	body := fmt.Sprintf(structurePrompt, intent.Topic, intent.Kind, intent.RoughMethod)
	obj, ok := p.ask(ctx, "structure", p.frame(req, body, false), structureTokens)
	if !ok {
		return plan.StructuredFields{}
	}
	f, ok := plan.ParseFields(obj)
	if !ok {
		fallback("structure", "malformed")
	}
	return f
}

// Plan runs the planning stage. Invalid answers become a chat plan.
func (p *Pipeline) Plan(ctx context.Context, req Request, intent plan.Classification, fields plan.StructuredFields) plan.Plan {
	hints, _ := json.Marshal(struct {
		Intent plan.Classification   `json:"intent"`
		Fields plan.StructuredFields `json:"fields"`
	}{intent, fields})
	body := planPrompt + "Предварительный анализ: " + string(hints) + "\n"

	obj, ok := p.ask(ctx, "plan", p.frame(req, body, true), planTokens)
	if !ok {
		return plan.ChatFallback(req.Text)
	}
	pl, err := plan.Normalize(obj, req.Text, fields)
	if err != nil {
		fallback("plan", err.Error())
	}
	return pl
}

// Review runs the self-review stage on pl.
func (p *Pipeline) Review(ctx context.Context, req Request, pl plan.Plan) plan.Review {
	raw, err := json.Marshal(pl)
	if err != nil {
		fallback("review", err.Error())
		return plan.DefaultReview()
	}
	obj, ok := p.ask(ctx, "review", p.frame(req, fmt.Sprintf(reviewPrompt, raw), false), reviewTokens)
	if !ok {
		return plan.DefaultReview()
	}
	r, ok := plan.ParseReview(obj)
	if !ok {
		fallback("review", "malformed")
	}
	return r
}

// Answer asks for a free-form reply to question. On failure the gateway
// retries once without the context.
func (p *Pipeline) Answer(ctx context.Context, req Request, question string) (string, bool) {
	return p.gw.Invoke(ctx, p.chatFrame(req, question), gateway.Options{
		Temperature:         p.temperature,
		MaxOutputTokens:     chatTokens,
		RetryWithoutContext: true,
	})
}

// ask invokes the gateway and extracts the JSON object of the answer.
func (p *Pipeline) ask(ctx context.Context, stage, prompt string, tokens int) (string, bool) {
	text, ok := p.gw.Invoke(ctx, prompt, gateway.Options{Temperature: p.temperature, MaxOutputTokens: tokens})
	if !ok {
		fallback(stage, "no answer")
		return "", false
	}
	obj, ok := gateway.ExtractJSON(text)
	if !ok {
		fallback(stage, "no JSON object")
		return "", false
	}
	return obj, true
}

func fallback(stage, reason string) {
	slog.Warn("stage fallback", "stage", stage, "reason", reason)
	metrics.IncrementStageFallback(stage)
}
