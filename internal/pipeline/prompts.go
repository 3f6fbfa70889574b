package pipeline

import (
	"fmt"
	"strings"

	"github.com/nous-labs/scribe/internal/gateway"
	"github.com/nous-labs/scribe/pkg/plan"
	"github.com/nous-labs/scribe/pkg/store"
)

const jsonOnly = "Ответь ТОЛЬКО одним JSON-объектом, без Markdown и без комментариев."

const intentPrompt = `Ты — классификатор запросов персонального ассистента (заметки, задачи, календарь).
Определи, о чём запрос пользователя, и верни JSON:
{
  "topic": "PERSONAL_NOTE|PERSONAL_TASK|TEAM_TASK|CALENDAR|SYSTEM|CHAT|OTHER",
  "intent": "CREATE|READ|UPDATE|DELETE|OTHER",
  "rough_method": "один из методов ниже",
  "complexity": "simple|complex",
  "confidence": число от 0 до 1
}
topic CHAT — это разговор или вопрос, не требующий действий с данными.
`

const structurePrompt = `Ты извлекаешь поля из запроса пользователя. Тема: %s, действие: %s, предполагаемый метод: %s.
Верни JSON только с полями, которые явно следуют из запроса; остальные поля — null:
{
  "title": строка, "description": строка, "note_text": строка, "query": строка,
  "status": "todo|in_progress|done", "priority": "low|medium|high",
  "due_datetime": "YYYY-MM-DD HH:MM", "start_datetime": "YYYY-MM-DD HH:MM", "end_datetime": "YYYY-MM-DD HH:MM",
  "tags": [строки], "assignees": [строки],
  "note_id": строка, "task_id": строка, "event_id": строка, "limit": число
}
`

const planPrompt = `Ты — диспетчер задач персонального ассистента. Вся логика принятия решений лежит на тебе.
Составь план выполнения запроса и верни JSON:
{
  "method": "строка из списка методов",
  "params": { ... },
  "confidence": число от 0 до 1,
  "clarify_question": null | "строка",
  "user_visible_answer": null | "строка"
}
Параметры методов:
- write_personal_note: note_text, tags
- read_personal_notes: limit
- search_personal_notes: query, limit
- update_personal_note: note_id, note_text, tags
- delete_personal_note: note_id
- create_personal_task: title, description, status, priority, due_datetime, tags
- update_personal_task: task_id, fields{title, description, status, priority, due_datetime, tags}
- list_personal_tasks: status
- create_team_task: title, description, status, priority, due_datetime, tags, assignees
- update_team_task: task_id, fields{..., assignees}
- list_team_tasks: status
- create_or_update_calendar_event: event_id, title, description, start_datetime, end_datetime, attendees, link_task_id
- show_calendar_agenda: from_datetime, to_datetime
- show_help, debug_on, debug_off, debug_status: без параметров
- chat: question
- clarify: question
Порог уверенности:
- >=0.75: можно выполнять без уточнений;
- 0.40..0.74: дай clarify_question при необходимости;
- <0.40: лучше запросить уточнение.
Никогда не придумывай методы вне списка.
`

const reviewPrompt = `Ты проверяешь план, составленный для запроса пользователя. Оцени, насколько план
соответствует запросу и достаточно ли в нём данных для выполнения. Верни JSON:
{
  "quality": число от 0 до 1,
  "problems": [строки],
  "clarify_question": null | "вопрос пользователю, если данных не хватает"
}
План:
%s
`

const chatPrompt = "Ты — дружелюбный ассистент. Ответь кратко и по делу на русском.\n"

// frame wraps a stage body with the clock, the context and the user's
// request. The request marker always comes last.
func (p *Pipeline) frame(req Request, body string, withMethods bool) string {
	loc := req.Profile.Location()
	var b strings.Builder
	b.WriteString(body)
	if withMethods {
		b.WriteString("Доступные методы: ")
		names := make([]string, len(plan.Methods))
		for i, m := range plan.Methods {
			names[i] = string(m)
		}
		b.WriteString(strings.Join(names, ", "))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Часовой пояс пользователя: %q. Текущее время: %q.\n", loc.String(), store.FormatLocal(p.now(), loc))
	b.WriteString("Даты и время форматируй как \"YYYY-MM-DD HH:MM\"; относительные выражения считай от текущего времени.\n")
	if req.Context != "" {
		b.WriteString("Контекст:\n")
		b.WriteString(req.Context)
		b.WriteString("\n")
	}
	b.WriteString(jsonOnly)
	b.WriteString("\n")
	b.WriteString(gateway.MarkerUserRequest)
	b.WriteString(" ")
	b.WriteString(req.Text)
	return b.String()
}

func (p *Pipeline) chatFrame(req Request, question string) string {
	loc := req.Profile.Location()
	var b strings.Builder
	b.WriteString(chatPrompt)
	fmt.Fprintf(&b, "Текущее время: %s (%s).\n", store.FormatLocal(p.now(), loc), loc)
	if req.Context != "" {
		b.WriteString("Контекст: ")
		b.WriteString(req.Context)
		b.WriteString("\n")
	}
	b.WriteString(gateway.MarkerUserRequest)
	b.WriteString(" ")
	b.WriteString(question)
	return b.String()
}
