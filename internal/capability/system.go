package capability

import (
	"context"

	"github.com/nous-labs/scribe/pkg/plan"
	"github.com/nous-labs/scribe/pkg/store"
)

// HelpText lists example requests.
const HelpText = `Примеры запросов:
- напомни завтра позвонить Ивану в 18:00
- создай заметку про бюджет проекта
- создай задачу для команды по дизайну до пятницы
- покажи мои задачи со статусом todo`

// ChatUnavailable is the reply when no free-form answer could be produced.
const ChatUnavailable = "Сейчас не получается ответить. Попробуйте переформулировать запрос чуть позже."

func (s *Service) help(context.Context, store.User, plan.Params) (string, error) {
	return HelpText, nil
}

func (s *Service) debugOn(_ context.Context, u store.User, _ plan.Params) (string, error) {
	s.state.SetDebug(u.ID, true)
	return "Debug режим включен.", nil
}

func (s *Service) debugOff(_ context.Context, u store.User, _ plan.Params) (string, error) {
	s.state.SetDebug(u.ID, false)
	return "Debug режим выключен.", nil
}

func (s *Service) debugStatus(_ context.Context, u store.User, _ plan.Params) (string, error) {
	state := "выключен"
	if s.state.Debug(u.ID) {
		state = "включен"
	}
	return "Debug режим " + state + ".", nil
}

// FreeChat answers question with the configured Chatter. It never fails.
func (s *Service) FreeChat(ctx context.Context, u store.User, question string) string {
	if s.chat == nil {
		return ChatUnavailable
	}
	answer, ok := s.chat.Chat(ctx, u, question)
	if !ok {
		return ChatUnavailable
	}
	return answer
}
