package capability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nous-labs/scribe/internal/llm"
	"github.com/nous-labs/scribe/internal/userstate"
	"github.com/nous-labs/scribe/pkg/plan"
	"github.com/nous-labs/scribe/pkg/store"
)

var now = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

type chatFunc func(question string) (string, bool)

func (f chatFunc) Chat(_ context.Context, _ store.User, q string) (string, bool) { return f(q) }

func setup(t *testing.T) (*Service, *store.Store, store.User) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	svc := NewService(st, nil, userstate.New(), nil)
	svc.now = func() time.Time { return now }
	u := store.User{ID: "u1", DisplayName: "Анна", Timezone: "Europe/Moscow", NotifyCalendar: true}
	return svc, st, u
}

func call(t *testing.T, svc *Service, u store.User, m plan.Method, p plan.Params) string {
	t.Helper()
	h, ok := svc.Handlers()[m]
	require.True(t, ok, m)
	out, err := h(context.Background(), u, p)
	require.NoError(t, err)
	return out
}

func TestHandlersCoverMethods(t *testing.T) {
	svc, _, _ := setup(t)
	table := svc.Handlers()
	for _, m := range plan.Methods {
		_, ok := table[m]
		if m == plan.MethodChat || m == plan.MethodClarify {
			assert.False(t, ok, m)
			continue
		}
		assert.True(t, ok, m)
	}
}

func TestNotes(t *testing.T) {
	svc, st, u := setup(t)

	assert.Equal(t, "Заметок пока нет.", call(t, svc, u, plan.MethodReadNotes, plan.NoteList{Limit: 5}))

	reply := call(t, svc, u, plan.MethodWriteNote, plan.NoteWrite{Text: "Бюджет проекта 100к", Tags: []string{"работа", "деньги"}})
	require.True(t, strings.HasPrefix(reply, "Заметка сохранена (id="))
	notes, err := st.ListNotes(context.Background(), u.ID, 5)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	id := notes[0].ID

	assert.Equal(t, "• Бюджет проекта 100к (теги: работа, деньги)", call(t, svc, u, plan.MethodReadNotes, plan.NoteList{Limit: 5}))
	assert.Equal(t, "• Бюджет проекта 100к", call(t, svc, u, plan.MethodSearchNotes, plan.NoteSearch{Query: "бюджет", Limit: 5}))
	assert.Equal(t, "Ничего не найдено.", call(t, svc, u, plan.MethodSearchNotes, plan.NoteSearch{Query: "отпуск", Limit: 5}))

	text := "Бюджет 120к"
	assert.Equal(t, "Заметка обновлена.", call(t, svc, u, plan.MethodUpdateNote, plan.NoteUpdate{NoteID: id, Text: &text}))
	assert.Equal(t, "Заметка не найдена.", call(t, svc, u, plan.MethodUpdateNote, plan.NoteUpdate{NoteID: "nope", Text: &text}))
	assert.Equal(t, "Заметка удалена.", call(t, svc, u, plan.MethodDeleteNote, plan.NoteDelete{NoteID: id}))
	assert.Equal(t, "Заметка не найдена.", call(t, svc, u, plan.MethodDeleteNote, plan.NoteDelete{NoteID: id}))
}

func TestPersonalTaskLinksCalendar(t *testing.T) {
	svc, st, u := setup(t)
	ctx := context.Background()

	reply := call(t, svc, u, plan.MethodCreateTask, plan.TaskCreate{Title: "Позвонить Ивану", DueDatetime: "2026-10-20 18:00"})
	require.True(t, strings.HasPrefix(reply, "Личная задача создана (id="), reply)

	tasks, err := st.ListTasks(ctx, store.ScopePersonal, u.ID, "")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	task := tasks[0]
	require.NotNil(t, task.DueAt)
	assert.Equal(t, time.Date(2026, 10, 20, 15, 0, 0, 0, time.UTC), task.DueAt.UTC())
	assert.NotEmpty(t, task.CalendarEventID)

	events, err := st.ListEvents(ctx, u.ID, now, now.Add(48*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, task.ID, events[0].LinkTaskID)

	assert.Equal(t, "• Позвонить Ивану [todo] до 2026-10-20 18:00", call(t, svc, u, plan.MethodListTasks, plan.TaskList{}))
	assert.Equal(t, "• Позвонить Ивану — 2026-10-20 18:00", call(t, svc, u, plan.MethodAgenda, plan.Agenda{}))

	done := "done"
	assert.Equal(t, "Задача обновлена.", call(t, svc, u, plan.MethodUpdateTask, plan.TaskUpdate{TaskID: task.ID, Fields: plan.TaskFields{Status: &done}}))
	assert.Equal(t, "Личных задач нет.", call(t, svc, u, plan.MethodListTasks, plan.TaskList{Status: "todo"}))

	other := store.User{ID: "u2"}
	assert.Equal(t, "Задача не найдена.", call(t, svc, other, plan.MethodUpdateTask, plan.TaskUpdate{TaskID: task.ID, Fields: plan.TaskFields{Status: &done}}))
}

func TestTaskWithoutCalendar(t *testing.T) {
	svc, st, u := setup(t)
	u.NotifyCalendar = false

	call(t, svc, u, plan.MethodCreateTask, plan.TaskCreate{Title: "Отчёт", DueDatetime: "к пятнице"})
	tasks, _ := st.ListTasks(context.Background(), store.ScopePersonal, u.ID, "")
	require.Len(t, tasks, 1)
	assert.Nil(t, tasks[0].DueAt)
	assert.Equal(t, "к пятнице", tasks[0].Due)
	assert.Empty(t, tasks[0].CalendarEventID)
}

func TestTeamTasks(t *testing.T) {
	svc, st, u := setup(t)
	u.NotifyCalendar = false

	assert.Equal(t, "Командных задач нет.", call(t, svc, u, plan.MethodListTeamTasks, plan.TaskList{}))
	reply := call(t, svc, u, plan.MethodCreateTeamTask, plan.TeamTaskCreate{
		TaskCreate: plan.TaskCreate{Title: "Дизайн", DueDatetime: "2026-10-23 12:00"},
		Assignees:  []string{"Анна", "Пётр"},
	})
	require.True(t, strings.HasPrefix(reply, "Командная задача создана (id="), reply)

	tasks, _ := st.ListTasks(context.Background(), store.ScopeTeam, "anyone", "")
	require.Len(t, tasks, 1)

	status := "in_progress"
	assert.Equal(t, "Командная задача обновлена.", call(t, svc, store.User{ID: "u9"}, plan.MethodUpdateTeamTask,
		plan.TaskUpdate{TaskID: tasks[0].ID, Fields: plan.TaskFields{Status: &status}}))
	assert.Equal(t, "Командная задача не найдена.", call(t, svc, u, plan.MethodUpdateTeamTask,
		plan.TaskUpdate{TaskID: "missing", Fields: plan.TaskFields{Status: &status}}))
	assert.Equal(t, "• Дизайн [in_progress] до 2026-10-23 12:00 (исполнители: Анна, Пётр)",
		call(t, svc, u, plan.MethodListTeamTasks, plan.TaskList{}))
}

func TestCalendarEvents(t *testing.T) {
	svc, _, u := setup(t)

	assert.Equal(t, "Ближайших событий нет.", call(t, svc, u, plan.MethodAgenda, plan.Agenda{}))

	reply := call(t, svc, u, plan.MethodUpsertEvent, plan.EventUpsert{Title: "Созвон", StartDatetime: "2026-10-21 10:00"})
	require.True(t, strings.HasPrefix(reply, "Событие создано ("), reply)
	id := strings.TrimSuffix(strings.TrimPrefix(reply, "Событие создано ("), ").")

	assert.Equal(t, fmt.Sprintf("Событие обновлено (%s).", id),
		call(t, svc, u, plan.MethodUpsertEvent, plan.EventUpsert{EventID: id, Title: "Созвон с командой", StartDatetime: "2026-10-21 11:00"}))
	assert.Equal(t, "Событие не найдено.",
		call(t, svc, u, plan.MethodUpsertEvent, plan.EventUpsert{EventID: "nope", Title: "x", StartDatetime: "2026-10-21 11:00"}))
	assert.Contains(t, call(t, svc, u, plan.MethodUpsertEvent, plan.EventUpsert{Title: "x", StartDatetime: "когда-нибудь"}), "Не удалось")

	assert.Equal(t, "• Созвон с командой — 2026-10-21 11:00", call(t, svc, u, plan.MethodAgenda, plan.Agenda{}))
	assert.Equal(t, "Ближайших событий нет.", call(t, svc, u, plan.MethodAgenda, plan.Agenda{FromDatetime: "2026-10-22 00:00"}))
}

func TestSystem(t *testing.T) {
	svc, _, u := setup(t)

	assert.Equal(t, HelpText, call(t, svc, u, plan.MethodHelp, plan.None{}))
	assert.Equal(t, "Debug режим выключен.", call(t, svc, u, plan.MethodDebugStatus, plan.None{}))
	assert.Equal(t, "Debug режим включен.", call(t, svc, u, plan.MethodDebugOn, plan.None{}))
	assert.True(t, svc.state.Debug(u.ID))
	assert.Equal(t, "Debug режим включен.", call(t, svc, u, plan.MethodDebugStatus, plan.None{}))
	assert.Equal(t, "Debug режим выключен.", call(t, svc, u, plan.MethodDebugOff, plan.None{}))
}

func TestWrongParams(t *testing.T) {
	svc, _, u := setup(t)
	_, err := svc.Handlers()[plan.MethodWriteNote](context.Background(), u, plan.None{})
	assert.ErrorIs(t, err, ErrParams)
}

func TestFreeChat(t *testing.T) {
	svc, _, u := setup(t)
	assert.Equal(t, ChatUnavailable, svc.FreeChat(context.Background(), u, "как дела?"))

	svc.chat = chatFunc(func(q string) (string, bool) { return "Отлично: " + q, true })
	assert.Equal(t, "Отлично: как дела?", svc.FreeChat(context.Background(), u, "как дела?"))

	svc.chat = chatFunc(func(string) (string, bool) { return "", false })
	assert.Equal(t, ChatUnavailable, svc.FreeChat(context.Background(), u, "как дела?"))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("boom"), false},
		{Transient(errors.New("flaky")), true},
		{fmt.Errorf("wrapped: %w", Transient(errors.New("flaky"))), true},
		{context.DeadlineExceeded, true},
		{context.Canceled, false},
		{&net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{&llm.ProviderError{StatusCode: 429}, true},
		{&llm.ProviderError{StatusCode: 503}, true},
		{&llm.ProviderError{StatusCode: 400}, false},
		{fmt.Errorf("create note: %w", errors.New("database is locked (5) (SQLITE_BUSY)")), true},
		{store.ErrNotFound, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsTransient(tt.err), "%v", tt.err)
	}
	assert.Nil(t, Transient(nil))
}
