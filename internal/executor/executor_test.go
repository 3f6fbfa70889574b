package executor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nous-labs/scribe/internal/capability"
	"github.com/nous-labs/scribe/internal/userstate"
	"github.com/nous-labs/scribe/pkg/plan"
	"github.com/nous-labs/scribe/pkg/store"
)

var user = store.User{ID: "u1", Timezone: "Europe/Moscow"}

func taskPlan() plan.Plan {
	return plan.Plan{
		Method:           plan.MethodCreateTask,
		Params:           plan.TaskCreate{Title: "Позвонить Ивану", DueDatetime: "2026-10-20 18:00"},
		Confidence:       0.92,
		OriginalQuestion: "напомни позвонить Ивану завтра в 18:00",
	}
}

type counter struct {
	calls int
	errs  []error
	panic bool
}

func (c *counter) handle(context.Context, store.User, plan.Params) (string, error) {
	c.calls++
	if c.panic {
		panic("nil map")
	}
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		return "", err
	}
	return "Личная задача создана (id=t1).", nil
}

func newExecutor(c *counter, state *userstate.Store) *Executor {
	return New(
		map[plan.Method]capability.Handler{plan.MethodCreateTask: c.handle},
		func(_ context.Context, _ store.User, q string) string { return "chat: " + q },
		state,
		Config{Backoff: time.Millisecond},
	)
}

func TestExecuteSuccessLogsAction(t *testing.T) {
	c := &counter{}
	state := userstate.New()
	res := newExecutor(c, state).Execute(context.Background(), user, taskPlan())

	assert.Equal(t, "Личная задача создана (id=t1).", res.Answer)
	assert.Nil(t, res.Extra)
	assert.Equal(t, 1, c.calls)

	actions := state.RecentActions(user.ID, 5)
	require.Len(t, actions, 1)
	assert.Equal(t, "TASK_CREATED", actions[0].Type)
	assert.Equal(t, "Позвонить Ивану", actions[0].Title)
	assert.Equal(t, "2026-10-20 18:00", actions[0].Due)
}

func TestExecuteRetriesTransient(t *testing.T) {
	c := &counter{errs: []error{
		capability.Transient(errors.New("flaky")),
		errors.New("database is locked"),
	}}
	res := newExecutor(c, userstate.New()).Execute(context.Background(), user, taskPlan())

	assert.Equal(t, "Личная задача создана (id=t1).", res.Answer)
	assert.Equal(t, 3, c.calls)
}

func TestExecuteExhaustedRetries(t *testing.T) {
	flaky := capability.Transient(errors.New("flaky"))
	c := &counter{errs: []error{flaky, flaky, flaky, flaky}}
	state := userstate.New()
	res := newExecutor(c, state).Execute(context.Background(), user, taskPlan())

	assert.Equal(t, Apology, res.Answer)
	assert.Equal(t, taskPlan(), res.Extra["plan"])
	assert.Equal(t, 3, c.calls)
	assert.Empty(t, state.RecentActions(user.ID, 5))
}

func TestExecutePermanentErrorNotRetried(t *testing.T) {
	c := &counter{errs: []error{errors.New("constraint failed")}}
	res := newExecutor(c, userstate.New()).Execute(context.Background(), user, taskPlan())
	assert.Equal(t, Apology, res.Answer)
	assert.Equal(t, 1, c.calls)
}

func TestExecutePanicBecomesApology(t *testing.T) {
	c := &counter{panic: true}
	var res Result
	require.NotPanics(t, func() {
		res = newExecutor(c, userstate.New()).Execute(context.Background(), user, taskPlan())
	})
	assert.Equal(t, Apology, res.Answer)
}

func TestExecuteCancelledDuringBackoff(t *testing.T) {
	c := &counter{errs: []error{capability.Transient(errors.New("flaky"))}}
	x := newExecutor(c, userstate.New())
	x.backoff = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := x.Execute(ctx, user, taskPlan())
	assert.Equal(t, Apology, res.Answer)
	assert.Equal(t, 1, c.calls)
}

func TestExecuteChatAndClarify(t *testing.T) {
	c := &counter{}
	x := newExecutor(c, userstate.New())
	ctx := context.Background()

	answered := plan.Plan{Method: plan.MethodChat, Params: plan.Chat{Question: "привет"}, Confidence: 1, UserVisibleAnswer: "Здравствуйте!"}
	assert.Equal(t, "Здравствуйте!", x.Execute(ctx, user, answered).Answer)

	fallback := plan.ChatFallback("что ты умеешь?")
	assert.Equal(t, "chat: что ты умеешь?", x.Execute(ctx, user, fallback).Answer)

	clarify := plan.Clarify(taskPlan(), "Когда дедлайн?")
	assert.Equal(t, "Когда дедлайн?", x.Execute(ctx, user, clarify).Answer)

	unknown := plan.Plan{Method: plan.MethodAgenda, Params: plan.Agenda{}, OriginalQuestion: "что у меня завтра?"}
	assert.Equal(t, "chat: что у меня завтра?", x.Execute(ctx, user, unknown).Answer)

	assert.Zero(t, c.calls)
}

func TestExecuteDebugSuffix(t *testing.T) {
	state := userstate.New()
	state.SetDebug(user.ID, true)
	res := newExecutor(&counter{}, state).Execute(context.Background(), user, taskPlan())

	assert.True(t, strings.HasSuffix(res.Answer,
		"\n\n[debug] method=create_personal_task; confidence=0.92; params_keys=[due_datetime title]"), res.Answer)
}
