package qa

import (
	"context"

	"github.com/consilience-ai/consilience-backend/internal/pkg/pointers"
	"github.com/consilience-ai/consilience-backend/internal/platform/openai"
)

// verifyScore is the raw verifier call shared by the pipeline and the
// standalone endpoint. The parsed score is already clamped to [0, 1].
func (p *pipeline) verifyScore(ctx context.Context, question, answer, contextText string) (float64, error) {
	system, user := promptVerify(question, answer, contextText)
	return p.ai.CompleteScore(ctx, system, user, openai.CompleteOptions{
		MaxTokens:   10,
		Temperature: pointers.Float64(0),
	})
}

// verify is the pipeline-internal advisory wrapper. A nil score means the
// verifier failed; the answer is returned unscored rather than suppressed.
func (p *pipeline) verify(ctx context.Context, question, answer, contextText string) *float64 {
	score, err := p.verifyScore(ctx, question, answer, contextText)
	if err != nil {
		p.log.Warn("Answer verification failed", "error", err.Error())
		return nil
	}
	return &score
}
