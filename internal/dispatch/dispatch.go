// Package dispatch gates a pipeline outcome on its confidence scores.
package dispatch

import (
	"log/slog"
	"strings"

	"github.com/nous-labs/scribe/internal/metrics"
	"github.com/nous-labs/scribe/internal/pipeline"
	"github.com/nous-labs/scribe/pkg/plan"
)

// Kind is what happens to a plan.
type Kind string

const (
	Execute  Kind = "execute"
	Clarify  Kind = "clarify"
	Fallback Kind = "fallback"
)

// Decision is the gate's verdict with the plan to act on.
type Decision struct {
	Kind   Kind      `json:"kind"`
	Plan   plan.Plan `json:"plan"`
	Reason string    `json:"reason,omitempty"`
}

// Thresholds are the gate's cut-offs.
type Thresholds struct {
	IntentMin        float64 `json:"intent_min" yaml:"intent_min" split_words:"true"`
	QualityFallback  float64 `json:"quality_fallback" yaml:"quality_fallback" split_words:"true"`
	QualityClarify   float64 `json:"quality_clarify" yaml:"quality_clarify" split_words:"true"`
	QualityConfident float64 `json:"quality_confident" yaml:"quality_confident" split_words:"true"`
}

// DefaultThresholds returns 0.3 / 0.3 / 0.5 / 0.8.
func DefaultThresholds() Thresholds {
	return Thresholds{IntentMin: 0.3, QualityFallback: 0.3, QualityClarify: 0.5, QualityConfident: 0.8}
}

// Dispatcher applies Thresholds.
type Dispatcher struct {
	t Thresholds
}

// New creates a Dispatcher. Zero is a valid threshold that disables its
// gate; negative thresholds take their defaults.
func New(t Thresholds) *Dispatcher {
	def := DefaultThresholds()
	if t.IntentMin < 0 {
		t.IntentMin = def.IntentMin
	}
	if t.QualityFallback < 0 {
		t.QualityFallback = def.QualityFallback
	}
	if t.QualityClarify < 0 {
		t.QualityClarify = def.QualityClarify
	}
	if t.QualityConfident < 0 {
		t.QualityConfident = def.QualityConfident
	}
	return &Dispatcher{t: t}
}

// Decide evaluates the rules in order; the first match wins. Plans are
// only ever downgraded.
func (d *Dispatcher) Decide(out pipeline.Outcome) Decision {
	dec := d.decide(out)
	metrics.IncrementDecision(string(dec.Kind))
	slog.Debug("dispatch decision",
		"decision", dec.Kind,
		"reason", dec.Reason,
		"method", dec.Plan.Method,
		"intent_confidence", out.Intent.Confidence,
	)
	return dec
}

func (d *Dispatcher) decide(out pipeline.Outcome) Decision {
	p := out.Plan
	original := p.OriginalQuestion

	if out.Intent.Confidence < d.t.IntentMin {
		return Decision{Kind: Fallback, Plan: plan.ChatFallback(original), Reason: "low intent confidence"}
	}
	if p.Method == "" {
		return Decision{Kind: Fallback, Plan: plan.ChatFallback(original), Reason: "no method"}
	}

	if r := out.Review; r != nil {
		question := firstNonBlank(r.ClarifyQuestion, p.ClarifyQuestion)
		switch {
		case r.Quality < d.t.QualityFallback:
			return Decision{Kind: Fallback, Plan: plan.ChatFallback(original), Reason: "low review quality"}
		case r.Quality < d.t.QualityClarify:
			return Decision{Kind: Clarify, Plan: plan.Clarify(p, question), Reason: "review below clarify threshold"}
		case r.Quality < d.t.QualityConfident && question != "":
			return Decision{Kind: Clarify, Plan: plan.Clarify(p, question), Reason: "review asks to clarify"}
		}
	}

	if p.Method == plan.MethodClarify {
		return Decision{Kind: Clarify, Plan: plan.Clarify(p, p.Question()), Reason: "planner asked to clarify"}
	}
	return Decision{Kind: Execute, Plan: p}
}

func firstNonBlank(v ...string) string {
	for _, s := range v {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}
