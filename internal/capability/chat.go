package capability

import (
	"context"

	"github.com/nous-labs/scribe/internal/pipeline"
	"github.com/nous-labs/scribe/pkg/store"
)

// Answerer produces a free-form answer for a request.
type Answerer interface {
	Answer(ctx context.Context, req pipeline.Request, question string) (string, bool)
}

// ContextBuilder assembles the prompt context for a user.
type ContextBuilder interface {
	Build(ctx context.Context, profile store.User) string
}

// PipelineChat answers through the pipeline's chat prompt with the
// assembled context.
type PipelineChat struct {
	Answerer Answerer
	Context  ContextBuilder
}

// Chat implements Chatter.
func (c PipelineChat) Chat(ctx context.Context, profile store.User, question string) (string, bool) {
	req := pipeline.Request{Profile: profile, Text: question}
	if c.Context != nil {
		req.Context = c.Context.Build(ctx, profile)
	}
	return c.Answerer.Answer(ctx, req, question)
}
