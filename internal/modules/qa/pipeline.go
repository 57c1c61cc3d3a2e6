package qa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/consilience-ai/consilience-backend/internal/data/repos/chunks"
	"github.com/consilience-ai/consilience-backend/internal/data/repos/graphstore"
	memsvc "github.com/consilience-ai/consilience-backend/internal/modules/memory"
	"github.com/consilience-ai/consilience-backend/internal/observability"
	"github.com/consilience-ai/consilience-backend/internal/pkg/dbctx"
	pkgerrors "github.com/consilience-ai/consilience-backend/internal/pkg/errors"
	"github.com/consilience-ai/consilience-backend/internal/platform/apierr"
	"github.com/consilience-ai/consilience-backend/internal/platform/logger"
	"github.com/consilience-ai/consilience-backend/internal/platform/openai"
)

// answerEmptyCorpus is returned without any model call when retrieval finds
// nothing to ground an answer on.
const answerEmptyCorpus = "I could not find any relevant documents to answer this question. The knowledge base appears to be empty."

const (
	planFallbackK   = 3
	verifyFallbackK = 5

	// planContextPreviewChars bounds caller-supplied context on the
	// standalone subquestion endpoint.
	planContextPreviewChars = 500
)

type pipeline struct {
	log      *logger.Logger
	ai       openai.Client
	chunks   chunks.Repo
	memory   Memory
	enricher Enricher
	cfg      Config
}

func NewPipeline(log *logger.Logger, ai openai.Client, chunkRepo chunks.Repo, mem Memory, enricher Enricher, cfg Config) Service {
	return &pipeline{
		log:      log.With("service", "QAPipeline"),
		ai:       ai,
		chunks:   chunkRepo,
		memory:   mem,
		enricher: enricher,
		cfg:      cfg.withDefaults(),
	}
}

// Answer runs the staged pipeline: memory lookup, embed, retrieve, classify,
// amplify, synthesize, verify, enrich, persist. Once synthesis has produced
// an answer the remaining stages only degrade the envelope, never fail it.
func (p *pipeline) Answer(ctx context.Context, in Request) (*Response, error) {
	start := time.Now()

	question := strings.TrimSpace(in.Query)
	if question == "" {
		return nil, apierr.BadInput(fmt.Errorf("%w: empty query", pkgerrors.ErrInvalidArgument))
	}
	k := in.MaxResults
	if k < 0 {
		return nil, apierr.BadInput(fmt.Errorf("%w: max_results must be positive", pkgerrors.ErrInvalidArgument))
	}
	if k == 0 {
		k = p.cfg.MaxResults
	}
	if k > chunks.MaxSearchK {
		k = chunks.MaxSearchK
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.PipelineTimeout)
	defer cancel()

	useMemory := in.UseMemory && p.cfg.EnableMemory

	// Exact memory lookup runs before embedding so repeat questions cost no
	// upstream calls at all.
	if useMemory {
		stageStart := time.Now()
		hit, err := p.memory.LookupExact(ctx, question)
		p.observeStage("memory_exact", stageStart)
		if err != nil {
			p.log.Warn("Exact memory lookup failed", "error", err.Error())
		} else if hit != nil {
			return p.respondFromMemory(question, hit, start), nil
		}
	}

	stageStart := time.Now()
	qvec, err := p.embedQuestion(ctx, question)
	p.observeStage("embed", stageStart)
	if err != nil {
		p.observeRun("error", start)
		return nil, upstreamError(fmt.Errorf("embed query: %w", err))
	}

	if useMemory {
		stageStart = time.Now()
		hit, err := p.memory.LookupSemantic(ctx, qvec)
		p.observeStage("memory_semantic", stageStart)
		if err != nil {
			p.log.Warn("Semantic memory lookup failed", "error", err.Error())
		} else if hit != nil {
			return p.respondFromMemory(question, hit, start), nil
		}
	}

	stageStart = time.Now()
	hits, err := p.chunks.VectorSearch(dbctx.Context{Ctx: ctx}, qvec, k)
	p.observeStage("retrieve", stageStart)
	if err != nil {
		p.observeRun("error", start)
		return nil, storeError(fmt.Errorf("vector search: %w", err))
	}
	if len(hits) == 0 {
		p.log.Info("No chunks retrieved, returning refusal")
		p.observeRun("empty", start)
		return p.emptyResponse(question, start), nil
	}

	if in.UseSmartSelection && p.cfg.EnableClassification {
		stageStart = time.Now()
		hits = p.selectRelevant(ctx, question, hits)
		p.observeStage("classify", stageStart)
	}
	orderSelected(hits)
	contextText := buildContext(hits)

	var subQAs []SubQA
	if in.UseAmplification && p.cfg.EnableAmplification && len(contextText) > p.cfg.AmplificationMinContextLength {
		stageStart = time.Now()
		subQAs = p.amplify(ctx, question, hits, contextText)
		p.observeStage("amplify", stageStart)
	}

	stageStart = time.Now()
	answer, err := p.synthesize(ctx, question, contextText, subQAs)
	p.observeStage("synthesize", stageStart)
	if err != nil {
		p.observeRun("error", start)
		return nil, upstreamError(fmt.Errorf("synthesize answer: %w", err))
	}

	citations := extractCitations(answer, len(hits))
	references := referencesFor(hits, citations)

	var score *float64
	if in.UseVerification && p.cfg.EnableVerification {
		stageStart = time.Now()
		score = p.verify(ctx, question, answer, contextText)
		p.observeStage("verify", stageStart)
	}

	// Enrichment precedes the memory write so replayed answers carry the
	// same graph context as fresh ones.
	stageStart = time.Now()
	entities, communities := p.enricher.Enrich(ctx, chunkIDsOf(hits))
	p.observeStage("enrich", stageStart)

	memoryID := int64(-1)
	if useMemory {
		stageStart = time.Now()
		id, err := p.memory.Save(ctx, memsvc.SaveInput{
			Query:       question,
			Embedding:   qvec,
			Answer:      answer,
			References:  references,
			ChunkIDs:    chunkIDsOf(hits),
			Entities:    entities,
			Communities: communities,
		})
		p.observeStage("persist", stageStart)
		if err != nil {
			p.log.Warn("Memory persist failed", "error", err.Error())
		} else {
			memoryID = id
		}
	}

	lowConfidence := score != nil && *score < p.cfg.VerificationThreshold
	resp := &Response{
		Query:             question,
		Answer:            answer,
		Chunks:            toRetrievedChunks(hits),
		Entities:          entities,
		Communities:       communities,
		References:        references,
		Subquestions:      subQAs,
		VerificationScore: score,
		LowConfidence:     lowConfidence,
		FromMemory:        false,
		MemoryID:          memoryID,
		ProcessingTime:    msSince(start),
	}

	p.observeRun("success", start)
	p.log.Info("Query answered",
		"chunks", len(hits),
		"subquestions", len(subQAs),
		"cited", len(references),
		"low_confidence", lowConfidence,
		"memory_id", memoryID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

func (p *pipeline) ClassifyChunks(ctx context.Context, question string, chunkIDs []int64) ([]Classification, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apierr.BadInput(fmt.Errorf("%w: empty query", pkgerrors.ErrInvalidArgument))
	}
	if len(chunkIDs) == 0 {
		return nil, apierr.BadInput(fmt.Errorf("%w: chunk_ids required", pkgerrors.ErrInvalidArgument))
	}

	rows, err := p.chunks.GetByIDs(dbctx.Context{Ctx: ctx}, chunkIDs)
	if err != nil {
		return nil, storeError(err)
	}
	if len(rows) != len(chunkIDs) {
		found := make(map[int64]bool, len(rows))
		for _, row := range rows {
			found[row.ID] = true
		}
		for _, id := range chunkIDs {
			if !found[id] {
				return nil, apierr.NotFound(fmt.Errorf("%w: chunk %d", pkgerrors.ErrNotFound, id))
			}
		}
	}

	verdicts := p.classifyTexts(ctx, question, rows)
	out := make([]Classification, 0, len(rows))
	for i, row := range rows {
		out = append(out, Classification{ChunkID: row.ID, Relevant: verdicts[i]})
	}
	return out, nil
}

func (p *pipeline) GenerateSubquestions(ctx context.Context, question, contextText string) ([]string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apierr.BadInput(fmt.Errorf("%w: empty query", pkgerrors.ErrInvalidArgument))
	}

	contextText = strings.TrimSpace(contextText)
	if contextText == "" {
		hits, err := p.retrieveForQuestion(ctx, question, planFallbackK)
		if err != nil {
			return nil, err
		}
		contextText = buildContext(hits)
	}
	if len(contextText) > planContextPreviewChars {
		contextText = contextText[:planContextPreviewChars]
	}

	questions, err := p.planFromDigest(ctx, question, contextText)
	if err != nil {
		return nil, upstreamError(err)
	}
	return questions, nil
}

func (p *pipeline) VerifyAnswer(ctx context.Context, question, answer, contextText string) (float64, error) {
	question = strings.TrimSpace(question)
	answer = strings.TrimSpace(answer)
	if question == "" {
		return 0, apierr.BadInput(fmt.Errorf("%w: empty query", pkgerrors.ErrInvalidArgument))
	}
	if answer == "" {
		return 0, apierr.BadInput(fmt.Errorf("%w: empty answer", pkgerrors.ErrInvalidArgument))
	}

	contextText = strings.TrimSpace(contextText)
	if contextText == "" {
		hits, err := p.retrieveForQuestion(ctx, question, verifyFallbackK)
		if err != nil {
			return 0, err
		}
		contextText = buildContext(hits)
	}

	score, err := p.verifyScore(ctx, question, answer, contextText)
	if err != nil {
		return 0, upstreamError(err)
	}
	return score, nil
}

func (p *pipeline) embedQuestion(ctx context.Context, question string) ([]float32, error) {
	vecs, err := p.ai.Embed(ctx, []string{question})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("embedding response was empty")
	}
	return vecs[0], nil
}

// retrieveForQuestion embeds and searches in one step for the standalone
// endpoints that fall back to retrieval when no context is supplied.
func (p *pipeline) retrieveForQuestion(ctx context.Context, question string, k int) ([]chunks.Hit, error) {
	qvec, err := p.embedQuestion(ctx, question)
	if err != nil {
		return nil, upstreamError(fmt.Errorf("embed query: %w", err))
	}
	hits, err := p.chunks.VectorSearch(dbctx.Context{Ctx: ctx}, qvec, k)
	if err != nil {
		return nil, storeError(fmt.Errorf("vector search: %w", err))
	}
	return hits, nil
}

func (p *pipeline) respondFromMemory(question string, hit *memsvc.Hit, start time.Time) *Response {
	out := make([]RetrievedChunk, 0, len(hit.Chunks))
	for _, c := range hit.Chunks {
		out = append(out, RetrievedChunk{
			ID:         c.ID,
			Text:       c.Text,
			Source:     c.Source(),
			Similarity: 1.0,
		})
	}

	p.observeRun("memory_hit", start)
	p.log.Info("Query answered from memory",
		"memory_id", hit.Entry.ID,
		"kind", hit.Kind,
		"similarity", hit.Similarity,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &Response{
		Query:          question,
		Answer:         hit.Entry.Answer,
		Chunks:         out,
		Entities:       hit.Entities,
		Communities:    hit.Communities,
		References:     hit.References,
		FromMemory:     true,
		MemoryID:       hit.Entry.ID,
		ProcessingTime: msSince(start),
	}
}

func (p *pipeline) emptyResponse(question string, start time.Time) *Response {
	return &Response{
		Query:          question,
		Answer:         answerEmptyCorpus,
		Chunks:         []RetrievedChunk{},
		Entities:       []graphstore.EntityHit{},
		Communities:    []graphstore.CommunityHit{},
		References:     []string{},
		FromMemory:     false,
		MemoryID:       -1,
		ProcessingTime: msSince(start),
	}
}

func (p *pipeline) observeStage(stage string, start time.Time) {
	dur := time.Since(start)
	if m := observability.Current(); m != nil {
		m.ObservePipelineStage(stage, dur)
	}
	p.log.Debug("Pipeline stage done", "stage", stage, "duration_ms", dur.Milliseconds())
}

func (p *pipeline) observeRun(outcome string, start time.Time) {
	if m := observability.Current(); m != nil {
		m.ObservePipelineRun(outcome, time.Since(start))
	}
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

// upstreamError maps a failed model call onto the wire taxonomy; deadline
// classification wins over the upstream code.
func upstreamError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apierr.Timeout(err)
	}
	return apierr.Upstream(err)
}

// storeError maps a failed database call onto the wire taxonomy.
func storeError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return apierr.Timeout(err)
	case errors.Is(err, pkgerrors.ErrInvalidArgument):
		return apierr.BadInput(err)
	case errors.Is(err, pkgerrors.ErrNotFound):
		return apierr.NotFound(err)
	default:
		return apierr.Store(err)
	}
}
