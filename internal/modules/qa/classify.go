package qa

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/consilience-ai/consilience-backend/internal/data/repos/chunks"
	types "github.com/consilience-ai/consilience-backend/internal/domain"
	"github.com/consilience-ai/consilience-backend/internal/pkg/pointers"
	"github.com/consilience-ai/consilience-backend/internal/platform/openai"
)

// classifyTexts asks the model, one call per chunk, whether the chunk helps
// answer the question. Calls fan out up to ClassifyConcurrency. A failed,
// timed-out, or unparseable call counts as "No" and never cancels siblings.
func (p *pipeline) classifyTexts(ctx context.Context, question string, rows []*types.DocumentChunk) []bool {
	verdicts := make([]bool, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.ClassifyConcurrency)
	for i := range rows {
		i := i
		g.Go(func() error {
			system, user := promptClassifyChunk(question, rows[i].Text)
			relevant, err := p.ai.CompleteYesNo(gctx, system, user, openai.CompleteOptions{
				MaxTokens:   10,
				Temperature: pointers.Float64(0),
			})
			if err != nil {
				p.log.Warn("Chunk classification failed, treating as irrelevant",
					"chunk_id", rows[i].ID,
					"error", err.Error(),
				)
				return nil
			}
			verdicts[i] = relevant
			return nil
		})
	}
	_ = g.Wait()
	return verdicts
}

// selectRelevant keeps the chunks the classifier approved. When fewer than
// MinKeep survive, it falls back to the top MinKeep by similarity regardless
// of the verdicts.
func (p *pipeline) selectRelevant(ctx context.Context, question string, hits []chunks.Hit) []chunks.Hit {
	rows := make([]*types.DocumentChunk, len(hits))
	for i := range hits {
		rows[i] = hits[i].Chunk
	}
	verdicts := p.classifyTexts(ctx, question, rows)

	selected := make([]chunks.Hit, 0, len(hits))
	for i, ok := range verdicts {
		if ok {
			selected = append(selected, hits[i])
		}
	}
	if len(selected) >= p.cfg.MinKeep {
		return selected
	}

	keep := p.cfg.MinKeep
	if keep > len(hits) {
		keep = len(hits)
	}
	p.log.Debug("Classifier kept too few chunks, falling back to top by similarity",
		"kept", len(selected),
		"fallback", keep,
	)
	fallback := make([]chunks.Hit, len(hits))
	copy(fallback, hits)
	orderSelected(fallback)
	return fallback[:keep]
}
