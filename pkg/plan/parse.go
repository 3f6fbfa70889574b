package plan

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ParseClassification reads an Intent stage answer. It reports false when
// obj is not a JSON object; otherwise every field gets a usable value.
func ParseClassification(obj string) (Classification, bool) {
	r, ok := object(obj)
	if !ok {
		return DefaultClassification(), false
	}
	c := DefaultClassification()
	c.Topic = parseTopic(firstString(r, "topic"))
	c.Kind = parseKind(firstString(r, "intent", "kind"))
	if m, ok := ParseMethod(firstString(r, "rough_method", "method")); ok {
		c.RoughMethod = m
	}
	c.Complexity = firstString(r, "complexity")
	if v, ok := number(r.Get("confidence")); ok {
		c.Confidence = Clamp(v)
	}
	return c, true
}

// ParseFields reads a Structure stage answer. Fields that are missing or
// of the wrong shape stay nil.
func ParseFields(obj string) (StructuredFields, bool) {
	r, ok := object(obj)
	if !ok {
		return StructuredFields{}, false
	}
	f := StructuredFields{
		Title:         optString(r, "title"),
		Description:   optString(r, "description"),
		NoteText:      optString(r, "note_text"),
		Query:         optString(r, "query"),
		Status:        optString(r, "status"),
		Priority:      optString(r, "priority"),
		DueDatetime:   optString(r, "due_datetime"),
		StartDatetime: optString(r, "start_datetime"),
		EndDatetime:   optString(r, "end_datetime"),
		Tags:          stringList(r.Get("tags")),
		Assignees:     stringList(r.Get("assignees")),
		NoteID:        optString(r, "note_id"),
		TaskID:        optString(r, "task_id"),
		EventID:       optString(r, "event_id"),
	}
	if v := r.Get("limit"); v.Type == gjson.Number {
		n := int(v.Int())
		f.Limit = &n
	}
	return f, true
}

// ParseReview reads a Review stage answer with quality clamped into [0,1].
func ParseReview(obj string) (Review, bool) {
	r, ok := object(obj)
	if !ok {
		return DefaultReview(), false
	}
	rv := DefaultReview()
	if v, ok := number(r.Get("quality")); ok {
		rv.Quality = Clamp(v)
	}
	if p := r.Get("problems"); p.IsArray() {
		p.ForEach(func(_, v gjson.Result) bool {
			if v.Type == gjson.String && strings.TrimSpace(v.Str) != "" {
				rv.Problems = append(rv.Problems, strings.TrimSpace(v.Str))
			}
			return true
		})
	}
	rv.ClarifyQuestion = firstString(r, "clarify_question")
	return rv, true
}

// Normalize builds a plan from a Plan stage answer. The returned plan is
// always usable. A non-nil error wraps ErrInvalidPlan and describes what
// was coerced to chat.
func Normalize(obj, original string, fields StructuredFields) (Plan, error) {
	r, ok := object(obj)
	if !ok {
		return ChatFallback(original), fmt.Errorf("%w: answer is not a JSON object", ErrInvalidPlan)
	}

	p := Plan{
		OriginalQuestion:  original,
		ClarifyQuestion:   firstString(r, "clarify_question"),
		UserVisibleAnswer: firstString(r, "user_visible_answer"),
	}
	if v, ok := number(r.Get("confidence")); ok {
		p.Confidence = Clamp(v)
	}

	name := firstString(r, "method")
	m, ok := ParseMethod(name)
	if !ok {
		return coerceChat(p), fmt.Errorf("%w: unknown method %q", ErrInvalidPlan, name)
	}
	p.Method = m

	params := fill(decode(m, r.Get("params")), fields)
	if err := validate(m, params); err != nil {
		return coerceChat(p), err
	}
	p.Params = params

	switch m {
	case MethodChat:
		if c := params.(Chat); c.Question == "" {
			p.Params = Chat{Question: original}
		}
	case MethodClarify:
		q := params.(ClarifyParams).Question
		if q == "" {
			q = p.ClarifyQuestion
		}
		if q == "" {
			q = p.UserVisibleAnswer
		}
		if q == "" {
			q = GenericClarifyQuestion
		}
		p.Params = ClarifyParams{Question: q}
		p.ClarifyQuestion = q
		p.UserVisibleAnswer = q
	}
	return p, nil
}

// coerceChat keeps the confidence of an invalid plan but drops any answer
// the model composed for it.
func coerceChat(p Plan) Plan {
	p.Method = MethodChat
	p.Params = Chat{Question: p.OriginalQuestion}
	p.UserVisibleAnswer = ""
	p.ClarifyQuestion = ""
	return p
}

func object(s string) (gjson.Result, bool) {
	s = strings.TrimSpace(s)
	if s == "" || !gjson.Valid(s) {
		return gjson.Result{}, false
	}
	r := gjson.Parse(s)
	return r, r.IsObject()
}
