package plan

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// Method is an allow-listed plan method.
type Method string

const (
	MethodWriteNote   Method = "write_personal_note"
	MethodReadNotes   Method = "read_personal_notes"
	MethodSearchNotes Method = "search_personal_notes"
	MethodUpdateNote  Method = "update_personal_note"
	MethodDeleteNote  Method = "delete_personal_note"

	MethodCreateTask Method = "create_personal_task"
	MethodUpdateTask Method = "update_personal_task"
	MethodListTasks  Method = "list_personal_tasks"

	MethodCreateTeamTask Method = "create_team_task"
	MethodUpdateTeamTask Method = "update_team_task"
	MethodListTeamTasks  Method = "list_team_tasks"

	MethodUpsertEvent Method = "create_or_update_calendar_event"
	MethodAgenda      Method = "show_calendar_agenda"

	MethodHelp        Method = "show_help"
	MethodDebugOn     Method = "debug_on"
	MethodDebugOff    Method = "debug_off"
	MethodDebugStatus Method = "debug_status"

	MethodChat    Method = "chat"
	MethodClarify Method = "clarify"
)

// Methods is the allow-list in prompt order.
var Methods = []Method{
	MethodWriteNote, MethodReadNotes, MethodSearchNotes, MethodUpdateNote, MethodDeleteNote,
	MethodCreateTask, MethodUpdateTask, MethodListTasks,
	MethodCreateTeamTask, MethodUpdateTeamTask, MethodListTeamTasks,
	MethodUpsertEvent, MethodAgenda,
	MethodHelp, MethodDebugOn, MethodDebugOff, MethodDebugStatus,
	MethodChat, MethodClarify,
}

var allowed = func() map[Method]bool {
	m := make(map[Method]bool, len(Methods))
	for _, v := range Methods {
		m[v] = true
	}
	return m
}()

// ParseMethod reports whether s names an allow-listed method.
func ParseMethod(s string) (Method, bool) {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	return m, allowed[m]
}

// Params is the typed parameter record of a plan. The concrete type is
// determined by the plan's method.
type Params interface {
	params()
}

type NoteWrite struct {
	Text string   `json:"note_text"`
	Tags []string `json:"tags,omitempty"`
}

type NoteList struct {
	Limit int `json:"limit,omitempty"`
}

type NoteSearch struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

type NoteUpdate struct {
	NoteID string   `json:"note_id"`
	Text   *string  `json:"note_text,omitempty"`
	Tags   []string `json:"tags,omitempty"`
}

type NoteDelete struct {
	NoteID string `json:"note_id"`
}

type TaskCreate struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	DueDatetime string   `json:"due_datetime,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

type TeamTaskCreate struct {
	TaskCreate
	Assignees []string `json:"assignees,omitempty"`
}

// TaskFields are the optional changes of a task update. Nil means unchanged.
type TaskFields struct {
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	Status      *string  `json:"status,omitempty"`
	Priority    *string  `json:"priority,omitempty"`
	DueDatetime *string  `json:"due_datetime,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Assignees   []string `json:"assignees,omitempty"`
}

// Empty reports whether no change is requested.
func (f TaskFields) Empty() bool {
	return f.Title == nil && f.Description == nil && f.Status == nil && f.Priority == nil &&
		f.DueDatetime == nil && f.Tags == nil && f.Assignees == nil
}

// TaskUpdate serves both personal and team task updates.
type TaskUpdate struct {
	TaskID string     `json:"task_id"`
	Fields TaskFields `json:"fields"`
}

type TaskList struct {
	Status string `json:"status,omitempty"`
}

type EventUpsert struct {
	EventID       string   `json:"event_id,omitempty"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	StartDatetime string   `json:"start_datetime"`
	EndDatetime   string   `json:"end_datetime,omitempty"`
	Attendees     []string `json:"attendees,omitempty"`
	LinkTaskID    string   `json:"link_task_id,omitempty"`
}

type Agenda struct {
	FromDatetime string `json:"from_datetime,omitempty"`
	ToDatetime   string `json:"to_datetime,omitempty"`
}

// None is the record of methods without parameters.
type None struct{}

type Chat struct {
	Question string `json:"question"`
}

type ClarifyParams struct {
	Question string `json:"question"`
}

func (NoteWrite) params()      {}
func (NoteList) params()       {}
func (NoteSearch) params()     {}
func (NoteUpdate) params()     {}
func (NoteDelete) params()     {}
func (TaskCreate) params()     {}
func (TeamTaskCreate) params() {}
func (TaskUpdate) params()     {}
func (TaskList) params()       {}
func (EventUpsert) params()    {}
func (Agenda) params()         {}
func (None) params()           {}
func (Chat) params()           {}
func (ClarifyParams) params()  {}

const (
	defaultNoteLimit = 5
	maxNoteLimit     = 50
)

// DecodeParams reads the params object of method m and validates it.
// Values of the wrong JSON type are ignored rather than guessed.
func DecodeParams(m Method, raw []byte) (Params, error) {
	p := decode(m, gjson.ParseBytes(raw))
	if err := validate(m, p); err != nil {
		return nil, err
	}
	return p, nil
}

func decode(m Method, r gjson.Result) Params {
	if !r.IsObject() {
		r = gjson.Parse("{}")
	}
	switch m {
	case MethodWriteNote:
		return NoteWrite{Text: firstString(r, "note_text", "text", "body"), Tags: stringList(r.Get("tags"))}
	case MethodReadNotes:
		return NoteList{Limit: noteLimit(r)}
	case MethodSearchNotes:
		return NoteSearch{Query: firstString(r, "query", "search_query"), Limit: noteLimit(r)}
	case MethodUpdateNote:
		f := fieldsOf(r)
		return NoteUpdate{
			NoteID: firstString(r, "note_id", "id"),
			Text:   optString(f, "note_text", "text"),
			Tags:   stringList(f.Get("tags")),
		}
	case MethodDeleteNote:
		return NoteDelete{NoteID: firstString(r, "note_id", "id")}
	case MethodCreateTask:
		return taskCreate(r)
	case MethodCreateTeamTask:
		return TeamTaskCreate{TaskCreate: taskCreate(r), Assignees: stringList(r.Get("assignees"))}
	case MethodUpdateTask, MethodUpdateTeamTask:
		f := fieldsOf(r)
		return TaskUpdate{
			TaskID: firstString(r, "task_id", "id"),
			Fields: TaskFields{
				Title:       optString(f, "title"),
				Description: optString(f, "description"),
				Status:      optString(f, "status"),
				Priority:    optString(f, "priority"),
				DueDatetime: optString(f, "due_datetime", "due_date"),
				Tags:        stringList(f.Get("tags")),
				Assignees:   stringList(f.Get("assignees")),
			},
		}
	case MethodListTasks, MethodListTeamTasks:
		return TaskList{Status: firstString(r, "status")}
	case MethodUpsertEvent:
		return EventUpsert{
			EventID:       firstString(r, "event_id", "calendar_event_id"),
			Title:         firstString(r, "title", "summary"),
			Description:   firstString(r, "description"),
			StartDatetime: firstString(r, "start_datetime", "due_datetime"),
			EndDatetime:   firstString(r, "end_datetime"),
			Attendees:     stringList(r.Get("attendees")),
			LinkTaskID:    firstString(r, "link_task_id"),
		}
	case MethodAgenda:
		return Agenda{FromDatetime: firstString(r, "from_datetime"), ToDatetime: firstString(r, "to_datetime")}
	case MethodChat:
		return Chat{Question: firstString(r, "question")}
	case MethodClarify:
		return ClarifyParams{Question: firstString(r, "question", "clarify_question")}
	}
	return None{}
}

func taskCreate(r gjson.Result) TaskCreate {
	return TaskCreate{
		Title:       firstString(r, "title"),
		Description: firstString(r, "description"),
		Status:      firstString(r, "status"),
		Priority:    firstString(r, "priority"),
		DueDatetime: firstString(r, "due_datetime", "due_date"),
		Tags:        stringList(r.Get("tags")),
	}
}

func validate(m Method, p Params) error {
	missing := func(field string) error {
		return fmt.Errorf("%w: %s requires %s", ErrInvalidPlan, m, field)
	}
	switch v := p.(type) {
	case NoteWrite:
		if v.Text == "" {
			return missing("note_text")
		}
	case NoteSearch:
		if v.Query == "" {
			return missing("query")
		}
	case NoteUpdate:
		if v.NoteID == "" {
			return missing("note_id")
		}
	case NoteDelete:
		if v.NoteID == "" {
			return missing("note_id")
		}
	case TaskCreate:
		if v.Title == "" {
			return missing("title")
		}
	case TeamTaskCreate:
		if v.Title == "" {
			return missing("title")
		}
	case TaskUpdate:
		if v.TaskID == "" {
			return missing("task_id")
		}
	case EventUpsert:
		if v.Title == "" {
			return missing("title")
		}
		if v.StartDatetime == "" {
			return missing("start_datetime")
		}
	}
	return nil
}

// fill copies extracted fields into params the planner left empty.
func fill(p Params, f StructuredFields) Params {
	set := func(dst *string, src *string) {
		if *dst == "" && src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	switch v := p.(type) {
	case NoteWrite:
		set(&v.Text, f.NoteText)
		if v.Tags == nil {
			v.Tags = f.Tags
		}
		return v
	case NoteSearch:
		set(&v.Query, f.Query)
		return v
	case NoteUpdate:
		set(&v.NoteID, f.NoteID)
		if v.Text == nil && f.NoteText != nil {
			v.Text = f.NoteText
		}
		return v
	case NoteDelete:
		set(&v.NoteID, f.NoteID)
		return v
	case TaskCreate:
		return fillTask(v, f)
	case TeamTaskCreate:
		v.TaskCreate = fillTask(v.TaskCreate, f)
		if v.Assignees == nil {
			v.Assignees = f.Assignees
		}
		return v
	case TaskUpdate:
		set(&v.TaskID, f.TaskID)
		return v
	case EventUpsert:
		set(&v.EventID, f.EventID)
		set(&v.Title, f.Title)
		set(&v.Description, f.Description)
		set(&v.StartDatetime, f.StartDatetime)
		set(&v.StartDatetime, f.DueDatetime)
		set(&v.EndDatetime, f.EndDatetime)
		return v
	}
	return p
}

func fillTask(v TaskCreate, f StructuredFields) TaskCreate {
	set := func(dst *string, src *string) {
		if *dst == "" && src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&v.Title, f.Title)
	set(&v.Description, f.Description)
	set(&v.Status, f.Status)
	set(&v.Priority, f.Priority)
	set(&v.DueDatetime, f.DueDatetime)
	if v.Tags == nil {
		v.Tags = f.Tags
	}
	return v
}

// ParamKeys lists the non-empty parameter names of p in sorted order.
func ParamKeys(p Params) []string {
	if p == nil {
		return []string{}
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return []string{}
	}
	keys := []string{}
	gjson.ParseBytes(raw).ForEach(func(k, v gjson.Result) bool {
		if v.IsObject() && len(v.Map()) == 0 {
			return true
		}
		keys = append(keys, k.String())
		return true
	})
	sort.Strings(keys)
	return keys
}

// fieldsOf returns the nested "fields" object of an update, or r itself.
func fieldsOf(r gjson.Result) gjson.Result {
	if f := r.Get("fields"); f.IsObject() {
		return f
	}
	return r
}

func firstString(r gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := r.Get(k); v.Type == gjson.String {
			if s := strings.TrimSpace(v.Str); s != "" {
				return s
			}
		}
	}
	return ""
}

func optString(r gjson.Result, keys ...string) *string {
	for _, k := range keys {
		if v := r.Get(k); v.Type == gjson.String {
			s := strings.TrimSpace(v.Str)
			return &s
		}
	}
	return nil
}

// stringList accepts only a JSON array of strings.
func stringList(r gjson.Result) []string {
	if !r.IsArray() {
		return nil
	}
	out := []string{}
	ok := true
	r.ForEach(func(_, v gjson.Result) bool {
		if v.Type != gjson.String {
			ok = false
			return false
		}
		if s := strings.TrimSpace(v.Str); s != "" {
			out = append(out, s)
		}
		return true
	})
	if !ok {
		return nil
	}
	return out
}

func noteLimit(r gjson.Result) int {
	n, ok := number(r.Get("limit"))
	if !ok {
		return defaultNoteLimit
	}
	return min(max(int(n), 1), maxNoteLimit)
}
