package plan

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const original = "напомни позвонить Ивану завтра в 18:00"

func TestNormalizeUnknownMethod(t *testing.T) {
	p, err := Normalize(`{"method":"drop_all_tasks","params":{},"confidence":0.95,"user_visible_answer":"Все задачи удалены"}`, original, StructuredFields{})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidPlan))
	assert.Equal(t, MethodChat, p.Method)
	assert.Equal(t, Chat{Question: original}, p.Params)
	assert.Empty(t, p.UserVisibleAnswer)
	assert.Equal(t, original, p.OriginalQuestion)
}

func TestNormalizeNonJSON(t *testing.T) {
	for _, in := range []string{"", "не знаю", "[1,2]", `{"method":`} {
		p, err := Normalize(in, original, StructuredFields{})
		require.Error(t, err, in)
		assert.Equal(t, ChatFallback(original), p, in)
	}
}

func TestNormalizeCreateTask(t *testing.T) {
	p, err := Normalize(`{
		"method": "create_personal_task",
		"params": {"title": "Позвонить Ивану", "due_datetime": "2026-10-20 18:00", "tags": ["звонки"]},
		"confidence": 0.92,
		"clarify_question": null,
		"user_visible_answer": null
	}`, original, StructuredFields{})

	require.NoError(t, err)
	assert.Equal(t, MethodCreateTask, p.Method)
	assert.InDelta(t, 0.92, p.Confidence, 1e-9)
	assert.Equal(t, TaskCreate{Title: "Позвонить Ивану", DueDatetime: "2026-10-20 18:00", Tags: []string{"звонки"}}, p.Params)
}

func TestNormalizeFillsFromFields(t *testing.T) {
	title := "Позвонить Ивану"
	due := "2026-10-20 18:00"
	p, err := Normalize(`{"method":"create_personal_task","params":{},"confidence":0.8}`, original,
		StructuredFields{Title: &title, DueDatetime: &due})

	require.NoError(t, err)
	assert.Equal(t, TaskCreate{Title: title, DueDatetime: due}, p.Params)
}

func TestNormalizeMissingRequired(t *testing.T) {
	p, err := Normalize(`{"method":"delete_personal_note","params":{"note_id":42},"confidence":0.9}`, original, StructuredFields{})

	require.ErrorIs(t, err, ErrInvalidPlan)
	assert.Equal(t, MethodChat, p.Method)
	assert.Equal(t, Chat{Question: original}, p.Params)
}

func TestNormalizeClampsConfidence(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{`{"method":"show_help","confidence":7}`, 1},
		{`{"method":"show_help","confidence":-2}`, 0},
		{`{"method":"show_help","confidence":"0.64"}`, 0.64},
		{`{"method":"show_help","confidence":"high"}`, 0},
		{`{"method":"show_help"}`, 0},
	}
	for _, tt := range tests {
		p, err := Normalize(tt.raw, original, StructuredFields{})
		require.NoError(t, err)
		assert.InDelta(t, tt.want, p.Confidence, 1e-9, tt.raw)
	}
}

func TestNormalizeClarify(t *testing.T) {
	p, err := Normalize(`{"method":"clarify","confidence":0.4}`, original, StructuredFields{})
	require.NoError(t, err)
	assert.Equal(t, GenericClarifyQuestion, p.UserVisibleAnswer)
	assert.Equal(t, GenericClarifyQuestion, p.Question())

	p, err = Normalize(`{"method":"clarify","clarify_question":"Когда дедлайн?"}`, original, StructuredFields{})
	require.NoError(t, err)
	assert.Equal(t, "Когда дедлайн?", p.UserVisibleAnswer)
	assert.Equal(t, ClarifyParams{Question: "Когда дедлайн?"}, p.Params)
}

func TestNormalizeChatQuestionDefault(t *testing.T) {
	p, err := Normalize(`{"method":"chat","params":{"question":""},"confidence":0.7}`, original, StructuredFields{})
	require.NoError(t, err)
	assert.Equal(t, Chat{Question: original}, p.Params)
}

func TestParseClassification(t *testing.T) {
	c, ok := ParseClassification(`{"topic":"personal_task","intent":"CREATE","rough_method":"create_personal_task","complexity":"simple","confidence":1.7}`)
	require.True(t, ok)
	assert.Equal(t, Classification{Kind: KindCreate, Topic: TopicPersonalTask, RoughMethod: MethodCreateTask, Complexity: "simple", Confidence: 1}, c)

	c, ok = ParseClassification(`{"topic":"weather","intent":"guess","rough_method":"forecast"}`)
	require.True(t, ok)
	assert.Equal(t, TopicOther, c.Topic)
	assert.Equal(t, KindOther, c.Kind)
	assert.Equal(t, MethodChat, c.RoughMethod)
	assert.Equal(t, 0.5, c.Confidence)

	c, ok = ParseClassification("not json")
	assert.False(t, ok)
	assert.Equal(t, DefaultClassification(), c)
}

func TestParseFieldsShapes(t *testing.T) {
	f, ok := ParseFields(`{"title":"Отчёт","tags":"работа","assignees":["anna", 3],"due_datetime":null,"limit":3}`)
	require.True(t, ok)
	require.NotNil(t, f.Title)
	assert.Equal(t, "Отчёт", *f.Title)
	assert.Nil(t, f.Tags)
	assert.Nil(t, f.Assignees)
	assert.Nil(t, f.DueDatetime)
	require.NotNil(t, f.Limit)
	assert.Equal(t, 3, *f.Limit)

	f, ok = ParseFields(`{"tags":["a"," b "]}`)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, f.Tags)
}

func TestParseReview(t *testing.T) {
	r, ok := ParseReview(`{"quality":0.45,"problems":["нет времени", 5],"clarify_question":"Когда дедлайн?"}`)
	require.True(t, ok)
	assert.InDelta(t, 0.45, r.Quality, 1e-9)
	assert.Equal(t, []string{"нет времени"}, r.Problems)
	assert.Equal(t, "Когда дедлайн?", r.ClarifyQuestion)

	r, ok = ParseReview("")
	assert.False(t, ok)
	assert.Equal(t, DefaultReview(), r)

	r, _ = ParseReview(`{"quality":3}`)
	assert.Equal(t, 1.0, r.Quality)
	assert.NotNil(t, r.Problems)
}

func TestPlanJSONContract(t *testing.T) {
	p := ChatFallback(original)
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"method": "chat",
		"params": {"question": "`+original+`"},
		"confidence": 0.3,
		"clarify_question": null,
		"user_visible_answer": null,
		"original_question": "`+original+`"
	}`, string(raw))

	var back Plan
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, p, back)
}

func TestPlanUnmarshalRejectsUnknownMethod(t *testing.T) {
	var p Plan
	err := json.Unmarshal([]byte(`{"method":"format_disk","params":{}}`), &p)
	assert.ErrorIs(t, err, ErrInvalidPlan)
}

func TestParamKeys(t *testing.T) {
	assert.Equal(t, []string{"due_datetime", "title"}, ParamKeys(TaskCreate{Title: "x", DueDatetime: "2026-10-20 18:00"}))
	assert.Equal(t, []string{"task_id"}, ParamKeys(TaskUpdate{TaskID: "t1"}))
	assert.Equal(t, []string{}, ParamKeys(None{}))
	assert.Equal(t, []string{}, ParamKeys(nil))
}

func TestDecodeParamsLimits(t *testing.T) {
	p, err := DecodeParams(MethodReadNotes, []byte(`{"limit":500}`))
	require.NoError(t, err)
	assert.Equal(t, NoteList{Limit: 50}, p)

	p, err = DecodeParams(MethodReadNotes, nil)
	require.NoError(t, err)
	assert.Equal(t, NoteList{Limit: 5}, p)

	p, err = DecodeParams(MethodUpdateTeamTask, []byte(`{"task_id":"t9","fields":{"status":"done","assignees":["anna"]}}`))
	require.NoError(t, err)
	upd := p.(TaskUpdate)
	require.NotNil(t, upd.Fields.Status)
	assert.Equal(t, "done", *upd.Fields.Status)
	assert.Equal(t, []string{"anna"}, upd.Fields.Assignees)
}
