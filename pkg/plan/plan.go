// Package plan defines the request-scoped values that flow through the
// planning pipeline: the intent classification, extracted fields, the
// executable plan and its review.
package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrInvalidPlan reports a method outside the allow-list or params missing
// a required value. Invalid plans are coerced to chat, never executed.
var ErrInvalidPlan = errors.New("invalid plan")

// Kind is the coarse operation a request asks for.
type Kind string

const (
	KindCreate Kind = "CREATE"
	KindRead   Kind = "READ"
	KindUpdate Kind = "UPDATE"
	KindDelete Kind = "DELETE"
	KindOther  Kind = "OTHER"
)

// Topic is the domain a request is about.
type Topic string

const (
	TopicPersonalNote Topic = "PERSONAL_NOTE"
	TopicPersonalTask Topic = "PERSONAL_TASK"
	TopicTeamTask     Topic = "TEAM_TASK"
	TopicCalendar     Topic = "CALENDAR"
	TopicSystem       Topic = "SYSTEM"
	TopicChat         Topic = "CHAT"
	TopicOther        Topic = "OTHER"
)

func parseKind(s string) Kind {
	switch k := Kind(strings.ToUpper(strings.TrimSpace(s))); k {
	case KindCreate, KindRead, KindUpdate, KindDelete:
		return k
	}
	return KindOther
}

func parseTopic(s string) Topic {
	switch t := Topic(strings.ToUpper(strings.TrimSpace(s))); t {
	case TopicPersonalNote, TopicPersonalTask, TopicTeamTask, TopicCalendar, TopicSystem, TopicChat:
		return t
	}
	return TopicOther
}

// Classification is the Intent stage result.
type Classification struct {
	Kind        Kind    `json:"intent"`
	Topic       Topic   `json:"topic"`
	RoughMethod Method  `json:"rough_method"`
	Complexity  string  `json:"complexity,omitempty"`
	Confidence  float64 `json:"confidence"`
}

// DefaultClassification is used when the model gives no usable answer.
func DefaultClassification() Classification {
	return Classification{
		Kind:        KindOther,
		Topic:       TopicChat,
		RoughMethod: MethodChat,
		Confidence:  0.5,
	}
}

// StructuredFields holds values extracted from the request. A nil field
// could not be inferred.
type StructuredFields struct {
	Title         *string  `json:"title"`
	Description   *string  `json:"description"`
	NoteText      *string  `json:"note_text"`
	Query         *string  `json:"query"`
	Status        *string  `json:"status"`
	Priority      *string  `json:"priority"`
	DueDatetime   *string  `json:"due_datetime"`
	StartDatetime *string  `json:"start_datetime"`
	EndDatetime   *string  `json:"end_datetime"`
	Tags          []string `json:"tags"`
	Assignees     []string `json:"assignees"`
	NoteID        *string  `json:"note_id"`
	TaskID        *string  `json:"task_id"`
	EventID       *string  `json:"event_id"`
	Limit         *int     `json:"limit"`
}

// Plan is the single artifact crossing the pipeline/dispatcher boundary.
type Plan struct {
	Method            Method
	Params            Params
	Confidence        float64
	ClarifyQuestion   string
	UserVisibleAnswer string
	OriginalQuestion  string
}

// GenericClarifyQuestion is asked when nothing more specific is known.
const GenericClarifyQuestion = "Я не уверен, что правильно понял запрос. Уточните, пожалуйста."

// FallbackConfidence is the confidence of the guaranteed chat plan.
const FallbackConfidence = 0.3

// ChatFallback is the plan that is always constructible, even when every
// model call failed.
func ChatFallback(original string) Plan {
	return Plan{
		Method:           MethodChat,
		Params:           Chat{Question: original},
		Confidence:       FallbackConfidence,
		OriginalQuestion: original,
	}
}

// Clarify turns p into a clarification request carrying question.
func Clarify(p Plan, question string) Plan {
	if strings.TrimSpace(question) == "" {
		question = GenericClarifyQuestion
	}
	return Plan{
		Method:            MethodClarify,
		Params:            ClarifyParams{Question: question},
		Confidence:        p.Confidence,
		ClarifyQuestion:   question,
		UserVisibleAnswer: question,
		OriginalQuestion:  p.OriginalQuestion,
	}
}

// Question returns the text a chat or clarify plan is about.
func (p Plan) Question() string {
	switch v := p.Params.(type) {
	case Chat:
		if v.Question != "" {
			return v.Question
		}
	case ClarifyParams:
		if v.Question != "" {
			return v.Question
		}
	}
	if p.Method == MethodClarify && p.ClarifyQuestion != "" {
		return p.ClarifyQuestion
	}
	return p.OriginalQuestion
}

type planJSON struct {
	Method            Method          `json:"method"`
	Params            json.RawMessage `json:"params"`
	Confidence        float64         `json:"confidence"`
	ClarifyQuestion   *string         `json:"clarify_question"`
	UserVisibleAnswer *string         `json:"user_visible_answer"`
	OriginalQuestion  string          `json:"original_question"`
}

// MarshalJSON renders the plan in its wire form. Empty optional strings
// are written as null.
func (p Plan) MarshalJSON() ([]byte, error) {
	params := p.Params
	if params == nil {
		params = None{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return json.Marshal(planJSON{
		Method:            p.Method,
		Params:            raw,
		Confidence:        p.Confidence,
		ClarifyQuestion:   nullable(p.ClarifyQuestion),
		UserVisibleAnswer: nullable(p.UserVisibleAnswer),
		OriginalQuestion:  p.OriginalQuestion,
	})
}

// UnmarshalJSON reads a plan in wire form, validating its params.
func (p *Plan) UnmarshalJSON(data []byte) error {
	var w planJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m, ok := ParseMethod(string(w.Method))
	if !ok {
		return fmt.Errorf("%w: unknown method %q", ErrInvalidPlan, w.Method)
	}
	params, err := DecodeParams(m, w.Params)
	if err != nil {
		return err
	}
	*p = Plan{
		Method:           m,
		Params:           params,
		Confidence:       Clamp(w.Confidence),
		OriginalQuestion: w.OriginalQuestion,
	}
	if w.ClarifyQuestion != nil {
		p.ClarifyQuestion = *w.ClarifyQuestion
	}
	if w.UserVisibleAnswer != nil {
		p.UserVisibleAnswer = *w.UserVisibleAnswer
	}
	return nil
}

// Review is the quality gate result for a plan.
type Review struct {
	Quality         float64  `json:"quality"`
	Problems        []string `json:"problems"`
	ClarifyQuestion string   `json:"clarify_question,omitempty"`
}

// DefaultReview is a neutral pass, not a rejection.
func DefaultReview() Review {
	return Review{Quality: 0.5, Problems: []string{}}
}

// Clamp bounds v into [0,1].
func Clamp(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// number reads a JSON number or a numeric string.
func number(r gjson.Result) (float64, bool) {
	switch r.Type {
	case gjson.Number:
		return r.Num, true
	case gjson.String:
		v := gjson.Parse(strings.TrimSpace(r.Str))
		if v.Type == gjson.Number {
			return v.Num, true
		}
	}
	return 0, false
}
