package qa

import (
	"context"

	"github.com/consilience-ai/consilience-backend/internal/data/repos/chunks"
	"github.com/consilience-ai/consilience-backend/internal/pkg/pointers"
	"github.com/consilience-ai/consilience-backend/internal/platform/openai"
)

// planFromDigest is the raw planner call shared by the pipeline and the
// standalone endpoint. The result is capped at MaxSubquestions.
func (p *pipeline) planFromDigest(ctx context.Context, question, digest string) ([]string, error) {
	system, user := promptPlanSubquestions(question, digest, p.cfg.MaxSubquestions)
	questions, err := p.ai.CompleteQuestions(ctx, system, user, openai.CompleteOptions{
		MaxTokens:   300,
		Temperature: pointers.Float64(0.7),
	})
	if err != nil {
		return nil, err
	}
	if len(questions) > p.cfg.MaxSubquestions {
		questions = questions[:p.cfg.MaxSubquestions]
	}
	return questions, nil
}

// planSubquestions decomposes the question against a digest of the selected
// chunks. Planning is advisory: failures and underfull plans return nil and
// the pipeline proceeds unamplified.
func (p *pipeline) planSubquestions(ctx context.Context, question string, hits []chunks.Hit) []string {
	questions, err := p.planFromDigest(ctx, question, buildDigest(hits, p.cfg.SubQDigestChars))
	if err != nil {
		p.log.Warn("Subquestion planning failed, skipping amplification", "error", err.Error())
		return nil
	}
	if len(questions) < 2 {
		p.log.Debug("Planner produced too few subquestions, skipping amplification",
			"count", len(questions),
		)
		return nil
	}
	return questions
}
