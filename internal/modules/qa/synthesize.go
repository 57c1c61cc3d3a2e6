package qa

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/consilience-ai/consilience-backend/internal/data/repos/chunks"
	"github.com/consilience-ai/consilience-backend/internal/pkg/pointers"
	"github.com/consilience-ai/consilience-backend/internal/platform/openai"
)

// answerSubquestions produces one short answer per planned subquestion over
// the parent selection's context, fanning out up to SubQConcurrency. Failed
// slots are omitted from the result and never cancel siblings.
func (p *pipeline) answerSubquestions(ctx context.Context, questions []string, contextText string) []SubQA {
	answers := make([]string, len(questions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.SubQConcurrency)
	for i := range questions {
		i := i
		g.Go(func() error {
			system, user := promptSubAnswer(questions[i], contextText)
			text, err := p.ai.Complete(gctx, system, user, openai.CompleteOptions{
				MaxTokens:    200,
				Temperature:  pointers.Float64(0.5),
				DisableRetry: true,
			})
			if err != nil {
				p.log.Warn("Subquestion answer failed, omitting",
					"subquestion", questions[i],
					"error", err.Error(),
				)
				return nil
			}
			answers[i] = strings.TrimSpace(text)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]SubQA, 0, len(questions))
	for i, q := range questions {
		if answers[i] == "" {
			continue
		}
		out = append(out, SubQA{Question: q, Answer: answers[i]})
	}
	return out
}

// amplify plans subquestions and answers each against the already-selected
// chunks. Amplification never re-queries the vector store.
func (p *pipeline) amplify(ctx context.Context, question string, hits []chunks.Hit, contextText string) []SubQA {
	questions := p.planSubquestions(ctx, question, hits)
	if len(questions) == 0 {
		return nil
	}
	return p.answerSubquestions(ctx, questions, contextText)
}

// synthesize produces the final cited answer from the numbered context and
// any amplification trace. Synthesis is never retried.
func (p *pipeline) synthesize(ctx context.Context, question, contextText string, subQAs []SubQA) (string, error) {
	system, user := promptSynthesize(question, contextText, subQAs)
	text, err := p.ai.Complete(ctx, system, user, openai.CompleteOptions{
		MaxTokens:    600,
		Temperature:  pointers.Float64(0.6),
		DisableRetry: true,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
