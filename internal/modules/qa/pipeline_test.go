package qa

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/consilience-ai/consilience-backend/internal/data/repos/chunks"
	"github.com/consilience-ai/consilience-backend/internal/data/repos/graphstore"
	types "github.com/consilience-ai/consilience-backend/internal/domain"
	memsvc "github.com/consilience-ai/consilience-backend/internal/modules/memory"
	"github.com/consilience-ai/consilience-backend/internal/pkg/dbctx"
	pkgerrors "github.com/consilience-ai/consilience-backend/internal/pkg/errors"
	"github.com/consilience-ai/consilience-backend/internal/platform/apierr"
	"github.com/consilience-ai/consilience-backend/internal/platform/logger"
	"github.com/consilience-ai/consilience-backend/internal/platform/openai"
)

type fakeAI struct {
	mu sync.Mutex

	embedFn  func(ctx context.Context, inputs []string) ([][]float32, error)
	embedVec []float32
	embedErr error
	embeds   int

	completeFn   func(ctx context.Context, system, user string, opts openai.CompleteOptions) (string, error)
	completeText string
	completeErr  error
	completes    int

	yesNoFn  func(user string) (bool, error)
	yesNo    bool
	yesNoErr error
	yesNos   int

	questions     []string
	questionsErr  error
	questionsUser string
	plans         int

	score    float64
	scoreErr error
	scores   int
}

func (f *fakeAI) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	f.mu.Lock()
	f.embeds++
	f.mu.Unlock()
	if f.embedFn != nil {
		return f.embedFn(ctx, inputs)
	}
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	vec := f.embedVec
	if vec == nil {
		vec = []float32{1}
	}
	out := make([][]float32, len(inputs))
	for i := range out {
		out[i] = vec
	}
	return out, nil
}

func (f *fakeAI) Complete(ctx context.Context, system, user string, opts openai.CompleteOptions) (string, error) {
	f.mu.Lock()
	f.completes++
	f.mu.Unlock()
	if f.completeFn != nil {
		return f.completeFn(ctx, system, user, opts)
	}
	if f.completeErr != nil {
		return "", f.completeErr
	}
	return f.completeText, nil
}

func (f *fakeAI) CompleteYesNo(ctx context.Context, system, user string, opts openai.CompleteOptions) (bool, error) {
	f.mu.Lock()
	f.yesNos++
	f.mu.Unlock()
	if f.yesNoFn != nil {
		return f.yesNoFn(user)
	}
	return f.yesNo, f.yesNoErr
}

func (f *fakeAI) CompleteScore(ctx context.Context, system, user string, opts openai.CompleteOptions) (float64, error) {
	f.mu.Lock()
	f.scores++
	f.mu.Unlock()
	return f.score, f.scoreErr
}

func (f *fakeAI) CompleteQuestions(ctx context.Context, system, user string, opts openai.CompleteOptions) ([]string, error) {
	f.mu.Lock()
	f.plans++
	f.questionsUser = user
	f.mu.Unlock()
	return f.questions, f.questionsErr
}

type fakeChunkRepo struct {
	mu        sync.Mutex
	hits      []chunks.Hit
	searchErr error
	searches  int
	lastK     int
	byID      map[int64]*types.DocumentChunk
}

func (f *fakeChunkRepo) GetByID(dbc dbctx.Context, id int64) (*types.DocumentChunk, error) {
	if c, ok := f.byID[id]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: chunk %d", pkgerrors.ErrNotFound, id)
}

func (f *fakeChunkRepo) GetByIDs(dbc dbctx.Context, ids []int64) ([]*types.DocumentChunk, error) {
	out := []*types.DocumentChunk{}
	for _, id := range ids {
		if c, ok := f.byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeChunkRepo) VectorSearch(dbc dbctx.Context, queryVec []float32, k int) ([]chunks.Hit, error) {
	f.mu.Lock()
	f.searches++
	f.lastK = k
	f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	n := k
	if n > len(f.hits) {
		n = len(f.hits)
	}
	out := make([]chunks.Hit, n)
	copy(out, f.hits[:n])
	return out, nil
}

func (f *fakeChunkRepo) Count(dbc dbctx.Context) (int64, error) {
	return int64(len(f.byID)), nil
}

type fakeMemory struct {
	exactHit *memsvc.Hit
	exactErr error
	exacts   int

	semHit *memsvc.Hit
	semErr error
	sems   int

	saveID   int64
	saveErr  error
	saves    int
	lastSave memsvc.SaveInput
}

func (f *fakeMemory) LookupExact(ctx context.Context, query string) (*memsvc.Hit, error) {
	f.exacts++
	return f.exactHit, f.exactErr
}

func (f *fakeMemory) LookupSemantic(ctx context.Context, queryVec []float32) (*memsvc.Hit, error) {
	f.sems++
	return f.semHit, f.semErr
}

func (f *fakeMemory) Save(ctx context.Context, in memsvc.SaveInput) (int64, error) {
	f.saves++
	f.lastSave = in
	return f.saveID, f.saveErr
}

type fakeEnricher struct {
	entities    []graphstore.EntityHit
	communities []graphstore.CommunityHit
	calls       int
	lastIDs     []int64
}

func (f *fakeEnricher) Enrich(ctx context.Context, chunkIDs []int64) ([]graphstore.EntityHit, []graphstore.CommunityHit) {
	f.calls++
	f.lastIDs = chunkIDs
	ents := f.entities
	if ents == nil {
		ents = []graphstore.EntityHit{}
	}
	comms := f.communities
	if comms == nil {
		comms = []graphstore.CommunityHit{}
	}
	return ents, comms
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func newTestService(t *testing.T, ai openai.Client, repo chunks.Repo, mem Memory, enr Enricher, cfg Config) Service {
	t.Helper()
	return NewPipeline(testLogger(t), ai, repo, mem, enr, cfg)
}

func wantCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	if !apierr.IsCode(err, code) {
		t.Fatalf("error = %v, want code %s", err, code)
	}
}

func TestAnswerRejectsEmptyQuery(t *testing.T) {
	svc := newTestService(t, &fakeAI{}, &fakeChunkRepo{}, &fakeMemory{}, &fakeEnricher{}, Config{})

	_, err := svc.Answer(context.Background(), Request{Query: "   "})
	wantCode(t, err, apierr.CodeBadInput)
}

func TestAnswerRejectsNegativeMaxResults(t *testing.T) {
	svc := newTestService(t, &fakeAI{}, &fakeChunkRepo{}, &fakeMemory{}, &fakeEnricher{}, Config{})

	_, err := svc.Answer(context.Background(), Request{Query: "q", MaxResults: -1})
	wantCode(t, err, apierr.CodeBadInput)
}

func TestAnswerDefaultsAndClampsMaxResults(t *testing.T) {
	ai := &fakeAI{completeText: "answer"}
	repo := &fakeChunkRepo{hits: []chunks.Hit{docHit(t, 1, "alpha", "a.pdf", 0.9)}}
	svc := newTestService(t, ai, repo, &fakeMemory{}, &fakeEnricher{}, Config{})

	if _, err := svc.Answer(context.Background(), Request{Query: "q"}); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if repo.lastK != 5 {
		t.Fatalf("default k = %d, want 5", repo.lastK)
	}

	if _, err := svc.Answer(context.Background(), Request{Query: "q", MaxResults: 100}); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if repo.lastK != chunks.MaxSearchK {
		t.Fatalf("clamped k = %d, want %d", repo.lastK, chunks.MaxSearchK)
	}
}

func TestAnswerExactMemoryHitCostsNoUpstreamCalls(t *testing.T) {
	cached := &memsvc.Hit{
		Snapshot: memsvc.Snapshot{
			Entry:       &types.MemoryEntry{ID: 42, Answer: "Cached answer."},
			References:  []string{"a.pdf"},
			ChunkIDs:    []int64{1},
			Entities:    []graphstore.EntityHit{{Entity: "raft", Relevance: 2}},
			Communities: []graphstore.CommunityHit{},
			Chunks:      []*types.DocumentChunk{docHit(t, 1, "alpha", "a.pdf", 0).Chunk},
		},
		Kind:       "exact",
		Similarity: 1.0,
	}
	ai := &fakeAI{}
	repo := &fakeChunkRepo{}
	mem := &fakeMemory{exactHit: cached}
	svc := newTestService(t, ai, repo, mem, &fakeEnricher{}, Config{EnableMemory: true})

	resp, err := svc.Answer(context.Background(), Request{Query: "What is Raft?", UseMemory: true})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !resp.FromMemory || resp.MemoryID != 42 {
		t.Fatalf("from_memory=%v memory_id=%d, want true/42", resp.FromMemory, resp.MemoryID)
	}
	if resp.Answer != "Cached answer." {
		t.Fatalf("answer = %q", resp.Answer)
	}
	if len(resp.Chunks) != 1 || resp.Chunks[0].Similarity != 1.0 || resp.Chunks[0].Source != "a.pdf" {
		t.Fatalf("chunks = %+v", resp.Chunks)
	}
	if len(resp.Entities) != 1 || resp.Entities[0].Entity != "raft" {
		t.Fatalf("entities = %+v", resp.Entities)
	}
	if ai.embeds != 0 || ai.completes != 0 || repo.searches != 0 || mem.saves != 0 {
		t.Fatalf("upstream calls on exact hit: embeds=%d completes=%d searches=%d saves=%d",
			ai.embeds, ai.completes, repo.searches, mem.saves)
	}
}

func TestAnswerSemanticMemoryHitAfterOneEmbed(t *testing.T) {
	cached := &memsvc.Hit{
		Snapshot: memsvc.Snapshot{
			Entry:       &types.MemoryEntry{ID: 7, Answer: "Near-duplicate answer."},
			References:  []string{},
			ChunkIDs:    []int64{},
			Entities:    []graphstore.EntityHit{},
			Communities: []graphstore.CommunityHit{},
			Chunks:      []*types.DocumentChunk{},
		},
		Kind:       "semantic",
		Similarity: 0.97,
	}
	ai := &fakeAI{}
	repo := &fakeChunkRepo{}
	mem := &fakeMemory{semHit: cached}
	svc := newTestService(t, ai, repo, mem, &fakeEnricher{}, Config{EnableMemory: true})

	resp, err := svc.Answer(context.Background(), Request{Query: "what's raft??", UseMemory: true})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !resp.FromMemory || resp.MemoryID != 7 {
		t.Fatalf("from_memory=%v memory_id=%d, want true/7", resp.FromMemory, resp.MemoryID)
	}
	if ai.embeds != 1 {
		t.Fatalf("embeds = %d, want 1", ai.embeds)
	}
	if ai.completes != 0 || repo.searches != 0 {
		t.Fatalf("completes=%d searches=%d, want 0/0", ai.completes, repo.searches)
	}
	if mem.exacts != 1 || mem.sems != 1 {
		t.Fatalf("exact=%d semantic=%d lookups, want 1/1", mem.exacts, mem.sems)
	}
}

func TestAnswerEmptyCorpusReturnsRefusal(t *testing.T) {
	ai := &fakeAI{}
	repo := &fakeChunkRepo{}
	mem := &fakeMemory{}
	svc := newTestService(t, ai, repo, mem, &fakeEnricher{}, Config{
		EnableMemory:       true,
		EnableVerification: true,
	})

	resp, err := svc.Answer(context.Background(), Request{
		Query:           "anything",
		UseMemory:       true,
		UseVerification: true,
	})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	want := "I could not find any relevant documents to answer this question. The knowledge base appears to be empty."
	if resp.Answer != want {
		t.Fatalf("answer = %q, want refusal", resp.Answer)
	}
	if resp.Chunks == nil || resp.References == nil || resp.Entities == nil || resp.Communities == nil {
		t.Fatalf("empty response carries nil lists: %+v", resp)
	}
	if len(resp.Chunks) != 0 || len(resp.References) != 0 {
		t.Fatalf("chunks/references not empty: %+v", resp)
	}
	if resp.VerificationScore != nil {
		t.Fatalf("verification_score = %v, want nil", *resp.VerificationScore)
	}
	if resp.MemoryID != -1 || resp.FromMemory {
		t.Fatalf("memory_id=%d from_memory=%v, want -1/false", resp.MemoryID, resp.FromMemory)
	}
	if ai.completes != 0 || mem.saves != 0 {
		t.Fatalf("completes=%d saves=%d on empty corpus, want 0/0", ai.completes, mem.saves)
	}
}

func TestAnswerFullRunBuildsCitedReferences(t *testing.T) {
	ai := &fakeAI{
		embedVec:     []float32{0.1, 0.2},
		yesNo:        true,
		completeText: "Summary grounded in [2], expanded by [1], repeated [2].",
		score:        0.9,
	}
	repo := &fakeChunkRepo{hits: []chunks.Hit{
		docHit(t, 1, "alpha", "a.pdf", 0.9),
		docHit(t, 2, "beta", "b.pdf", 0.8),
		docHit(t, 3, "gamma", "c.pdf", 0.7),
	}}
	mem := &fakeMemory{saveID: 7}
	enr := &fakeEnricher{
		entities:    []graphstore.EntityHit{{Entity: "raft", Relevance: 3}},
		communities: []graphstore.CommunityHit{{CommunityID: 1, Summary: "consensus", Relevance: 1}},
	}
	svc := newTestService(t, ai, repo, mem, enr, Config{
		EnableMemory:         true,
		EnableClassification: true,
		EnableAmplification:  true,
		EnableVerification:   true,
	})

	resp, err := svc.Answer(context.Background(), Request{
		Query:             "How does consensus work?",
		UseMemory:         true,
		UseSmartSelection: true,
		UseAmplification:  true,
		UseVerification:   true,
	})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}

	// One reference per distinct citation marker, in first-citation order.
	if want := []string{"b.pdf", "a.pdf"}; !reflect.DeepEqual(resp.References, want) {
		t.Fatalf("references = %v, want %v", resp.References, want)
	}
	if len(resp.Chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(resp.Chunks))
	}
	if resp.VerificationScore == nil || *resp.VerificationScore != 0.9 {
		t.Fatalf("verification_score = %v, want 0.9", resp.VerificationScore)
	}
	if resp.LowConfidence {
		t.Fatalf("low_confidence set for score 0.9")
	}
	if resp.FromMemory || resp.MemoryID != 7 {
		t.Fatalf("from_memory=%v memory_id=%d, want false/7", resp.FromMemory, resp.MemoryID)
	}
	if len(resp.Entities) != 1 || len(resp.Communities) != 1 {
		t.Fatalf("graph context = %d entities, %d communities", len(resp.Entities), len(resp.Communities))
	}

	// Short context skips amplification even with the toggle on.
	if len(resp.Subquestions) != 0 || ai.plans != 0 {
		t.Fatalf("amplification ran on short context: %d subQAs, %d plans", len(resp.Subquestions), ai.plans)
	}

	if ai.embeds != 1 {
		t.Fatalf("embeds = %d, want exactly 1", ai.embeds)
	}
	if ai.yesNos != 3 || ai.completes != 1 || ai.scores != 1 {
		t.Fatalf("llm calls: yesno=%d complete=%d score=%d, want 3/1/1", ai.yesNos, ai.completes, ai.scores)
	}

	if mem.saves != 1 {
		t.Fatalf("saves = %d, want 1", mem.saves)
	}
	if !reflect.DeepEqual(mem.lastSave.References, resp.References) {
		t.Fatalf("persisted references = %v, want %v", mem.lastSave.References, resp.References)
	}
	if !reflect.DeepEqual(mem.lastSave.ChunkIDs, []int64{1, 2, 3}) {
		t.Fatalf("persisted chunk ids = %v", mem.lastSave.ChunkIDs)
	}
	if !reflect.DeepEqual(mem.lastSave.Embedding, []float32{0.1, 0.2}) {
		t.Fatalf("persisted embedding = %v", mem.lastSave.Embedding)
	}
	if !reflect.DeepEqual(enr.lastIDs, []int64{1, 2, 3}) {
		t.Fatalf("enriched ids = %v", enr.lastIDs)
	}
}

func TestAnswerClassifierRejectAllFallsBackToTopChunks(t *testing.T) {
	ai := &fakeAI{yesNo: false, completeText: "answer"}
	repo := &fakeChunkRepo{hits: []chunks.Hit{
		docHit(t, 9, "low", "a.pdf", 0.7),
		docHit(t, 3, "high", "b.pdf", 0.9),
		docHit(t, 5, "mid", "c.pdf", 0.8),
	}}
	svc := newTestService(t, ai, repo, &fakeMemory{}, &fakeEnricher{}, Config{EnableClassification: true})

	resp, err := svc.Answer(context.Background(), Request{Query: "q", UseSmartSelection: true})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(resp.Chunks) != 2 {
		t.Fatalf("chunks = %d, want fallback of 2", len(resp.Chunks))
	}
	if resp.Chunks[0].ID != 3 || resp.Chunks[1].ID != 5 {
		t.Fatalf("fallback kept %d,%d, want 3,5 (top by similarity)", resp.Chunks[0].ID, resp.Chunks[1].ID)
	}
}

func TestAnswerAmplifiesLongContext(t *testing.T) {
	text1 := strings.Repeat("a", 240) + "ZZTAIL1"
	text2 := strings.Repeat("b", 240)
	text3 := strings.Repeat("c", 240)
	ai := &fakeAI{
		questions: []string{"First part?", "Second part?", "Third part?"},
		completeFn: func(ctx context.Context, system, user string, opts openai.CompleteOptions) (string, error) {
			if opts.MaxTokens == 200 {
				return "A focused mini answer.", nil
			}
			return "Synthesis [1].", nil
		},
	}
	repo := &fakeChunkRepo{hits: []chunks.Hit{
		docHit(t, 1, text1, "a.pdf", 0.9),
		docHit(t, 2, text2, "b.pdf", 0.8),
		docHit(t, 3, text3, "c.pdf", 0.7),
	}}
	svc := newTestService(t, ai, repo, &fakeMemory{}, &fakeEnricher{}, Config{EnableAmplification: true})

	resp, err := svc.Answer(context.Background(), Request{Query: "q", UseAmplification: true})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if ai.plans != 1 {
		t.Fatalf("plans = %d, want 1", ai.plans)
	}
	if len(resp.Subquestions) != 3 {
		t.Fatalf("subquestions = %d, want 3", len(resp.Subquestions))
	}
	for _, sq := range resp.Subquestions {
		if sq.Question == "" || sq.Answer != "A focused mini answer." {
			t.Fatalf("subQA = %+v", sq)
		}
	}
	// The planner sees a digest of each chunk, not the full text.
	if strings.Contains(ai.questionsUser, "ZZTAIL1") {
		t.Fatalf("planner digest carried full chunk text")
	}
}

func TestAnswerOmitsFailedSubanswers(t *testing.T) {
	long := strings.Repeat("x", 600)
	ai := &fakeAI{
		questions: []string{"First?", "BROKEN?", "Third?"},
		completeFn: func(ctx context.Context, system, user string, opts openai.CompleteOptions) (string, error) {
			if opts.MaxTokens == 200 {
				if strings.Contains(user, "BROKEN?") {
					return "", errors.New("model unavailable")
				}
				return "mini", nil
			}
			return "final [1]", nil
		},
	}
	repo := &fakeChunkRepo{hits: []chunks.Hit{docHit(t, 1, long, "a.pdf", 0.9)}}
	svc := newTestService(t, ai, repo, &fakeMemory{}, &fakeEnricher{}, Config{EnableAmplification: true})

	resp, err := svc.Answer(context.Background(), Request{Query: "q", UseAmplification: true})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(resp.Subquestions) != 2 {
		t.Fatalf("subquestions = %d, want failed slot omitted", len(resp.Subquestions))
	}
	for _, sq := range resp.Subquestions {
		if sq.Question == "BROKEN?" {
			t.Fatalf("failed subquestion kept: %+v", sq)
		}
	}
}

func TestAnswerSinglePlannedSubquestionSkipsAmplification(t *testing.T) {
	long := strings.Repeat("x", 600)
	ai := &fakeAI{questions: []string{"only one?"}, completeText: "final"}
	repo := &fakeChunkRepo{hits: []chunks.Hit{docHit(t, 1, long, "a.pdf", 0.9)}}
	svc := newTestService(t, ai, repo, &fakeMemory{}, &fakeEnricher{}, Config{EnableAmplification: true})

	resp, err := svc.Answer(context.Background(), Request{Query: "q", UseAmplification: true})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(resp.Subquestions) != 0 {
		t.Fatalf("subquestions = %+v, want none below the 2-question floor", resp.Subquestions)
	}
	// Only the synthesis call; no per-subquestion completions.
	if ai.completes != 1 {
		t.Fatalf("completes = %d, want 1", ai.completes)
	}
}

func TestAnswerLowVerificationScoreSetsFlag(t *testing.T) {
	ai := &fakeAI{completeText: "answer [1]", score: 0.5}
	repo := &fakeChunkRepo{hits: []chunks.Hit{docHit(t, 1, "alpha", "a.pdf", 0.9)}}
	svc := newTestService(t, ai, repo, &fakeMemory{}, &fakeEnricher{}, Config{EnableVerification: true})

	resp, err := svc.Answer(context.Background(), Request{Query: "q", UseVerification: true})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if resp.VerificationScore == nil || *resp.VerificationScore != 0.5 {
		t.Fatalf("verification_score = %v, want 0.5", resp.VerificationScore)
	}
	if !resp.LowConfidence {
		t.Fatalf("low_confidence not set for score below threshold")
	}
}

func TestAnswerVerifierFailureLeavesScoreNil(t *testing.T) {
	ai := &fakeAI{completeText: "answer [1]", scoreErr: errors.New("rate limited")}
	repo := &fakeChunkRepo{hits: []chunks.Hit{docHit(t, 1, "alpha", "a.pdf", 0.9)}}
	svc := newTestService(t, ai, repo, &fakeMemory{}, &fakeEnricher{}, Config{EnableVerification: true})

	resp, err := svc.Answer(context.Background(), Request{Query: "q", UseVerification: true})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if resp.VerificationScore != nil {
		t.Fatalf("verification_score = %v, want nil on verifier failure", *resp.VerificationScore)
	}
	if resp.LowConfidence {
		t.Fatalf("low_confidence set without a score")
	}
}

func TestAnswerMemorySaveFailureKeepsAnswer(t *testing.T) {
	ai := &fakeAI{completeText: "answer [1]"}
	repo := &fakeChunkRepo{hits: []chunks.Hit{docHit(t, 1, "alpha", "a.pdf", 0.9)}}
	mem := &fakeMemory{saveErr: errors.New("db down")}
	svc := newTestService(t, ai, repo, mem, &fakeEnricher{}, Config{EnableMemory: true})

	resp, err := svc.Answer(context.Background(), Request{Query: "q", UseMemory: true})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if resp.Answer != "answer [1]" {
		t.Fatalf("answer = %q", resp.Answer)
	}
	if resp.MemoryID != -1 {
		t.Fatalf("memory_id = %d, want -1 when persist fails", resp.MemoryID)
	}
}

func TestAnswerSynthesisFailureIsUpstream(t *testing.T) {
	ai := &fakeAI{completeErr: errors.New("model down")}
	repo := &fakeChunkRepo{hits: []chunks.Hit{docHit(t, 1, "alpha", "a.pdf", 0.9)}}
	svc := newTestService(t, ai, repo, &fakeMemory{}, &fakeEnricher{}, Config{})

	_, err := svc.Answer(context.Background(), Request{Query: "q"})
	wantCode(t, err, apierr.CodeUpstream)
}

func TestAnswerRetrievalFailureIsStore(t *testing.T) {
	repo := &fakeChunkRepo{searchErr: errors.New("connection refused")}
	svc := newTestService(t, &fakeAI{}, repo, &fakeMemory{}, &fakeEnricher{}, Config{})

	_, err := svc.Answer(context.Background(), Request{Query: "q"})
	wantCode(t, err, apierr.CodeStore)
}

func TestAnswerEmbedFailureIsUpstream(t *testing.T) {
	ai := &fakeAI{embedErr: errors.New("401 unauthorized")}
	svc := newTestService(t, ai, &fakeChunkRepo{}, &fakeMemory{}, &fakeEnricher{}, Config{})

	_, err := svc.Answer(context.Background(), Request{Query: "q"})
	wantCode(t, err, apierr.CodeUpstream)
}

func TestAnswerDeadlineIsTimeout(t *testing.T) {
	ai := &fakeAI{
		embedFn: func(ctx context.Context, inputs []string) ([][]float32, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	svc := newTestService(t, ai, &fakeChunkRepo{}, &fakeMemory{}, &fakeEnricher{}, Config{
		PipelineTimeout: 5 * time.Millisecond,
	})

	_, err := svc.Answer(context.Background(), Request{Query: "q"})
	wantCode(t, err, apierr.CodeTimeout)
}

func TestClassifyChunksVerdictsPerChunk(t *testing.T) {
	ai := &fakeAI{
		yesNoFn: func(user string) (bool, error) {
			return strings.Contains(user, "LEADER"), nil
		},
	}
	repo := &fakeChunkRepo{byID: map[int64]*types.DocumentChunk{
		11: {ID: 11, Text: "LEADER election details"},
		12: {ID: 12, Text: "cooking recipes"},
	}}
	svc := newTestService(t, ai, repo, &fakeMemory{}, &fakeEnricher{}, Config{})

	got, err := svc.ClassifyChunks(context.Background(), "How is coordination decided?", []int64{11, 12})
	if err != nil {
		t.Fatalf("ClassifyChunks: %v", err)
	}
	want := []Classification{
		{ChunkID: 11, Relevant: true},
		{ChunkID: 12, Relevant: false},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("verdicts = %+v, want %+v", got, want)
	}
}

func TestClassifyChunksUnknownChunkNotFound(t *testing.T) {
	repo := &fakeChunkRepo{byID: map[int64]*types.DocumentChunk{11: {ID: 11, Text: "x"}}}
	svc := newTestService(t, &fakeAI{}, repo, &fakeMemory{}, &fakeEnricher{}, Config{})

	_, err := svc.ClassifyChunks(context.Background(), "q", []int64{11, 999})
	wantCode(t, err, apierr.CodeNotFound)
}

func TestClassifyChunksRejectsEmptyInput(t *testing.T) {
	svc := newTestService(t, &fakeAI{}, &fakeChunkRepo{}, &fakeMemory{}, &fakeEnricher{}, Config{})

	if _, err := svc.ClassifyChunks(context.Background(), "", []int64{1}); !apierr.IsCode(err, apierr.CodeBadInput) {
		t.Fatalf("empty question error = %v", err)
	}
	if _, err := svc.ClassifyChunks(context.Background(), "q", nil); !apierr.IsCode(err, apierr.CodeBadInput) {
		t.Fatalf("empty ids error = %v", err)
	}
}

func TestGenerateSubquestionsFallsBackToRetrieval(t *testing.T) {
	ai := &fakeAI{questions: []string{"A?", "B?"}}
	repo := &fakeChunkRepo{hits: []chunks.Hit{docHit(t, 1, "alpha", "a.pdf", 0.9)}}
	svc := newTestService(t, ai, repo, &fakeMemory{}, &fakeEnricher{}, Config{})

	got, err := svc.GenerateSubquestions(context.Background(), "q", "")
	if err != nil {
		t.Fatalf("GenerateSubquestions: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"A?", "B?"}) {
		t.Fatalf("questions = %v", got)
	}
	if repo.lastK != 3 {
		t.Fatalf("fallback retrieval k = %d, want 3", repo.lastK)
	}
	if ai.embeds != 1 {
		t.Fatalf("embeds = %d, want 1", ai.embeds)
	}
}

func TestGenerateSubquestionsTruncatesSuppliedContext(t *testing.T) {
	ai := &fakeAI{questions: []string{"A?", "B?"}}
	repo := &fakeChunkRepo{}
	svc := newTestService(t, ai, repo, &fakeMemory{}, &fakeEnricher{}, Config{})

	contextText := strings.Repeat("c", 500) + "OVERFLOW"
	if _, err := svc.GenerateSubquestions(context.Background(), "q", contextText); err != nil {
		t.Fatalf("GenerateSubquestions: %v", err)
	}
	if repo.searches != 0 {
		t.Fatalf("retrieval ran despite supplied context")
	}
	if strings.Contains(ai.questionsUser, "OVERFLOW") {
		t.Fatalf("planner prompt carried context past the preview bound")
	}
}

func TestGenerateSubquestionsCapped(t *testing.T) {
	ai := &fakeAI{questions: []string{"1?", "2?", "3?", "4?", "5?", "6?"}}
	svc := newTestService(t, ai, &fakeChunkRepo{}, &fakeMemory{}, &fakeEnricher{}, Config{})

	got, err := svc.GenerateSubquestions(context.Background(), "q", "some context")
	if err != nil {
		t.Fatalf("GenerateSubquestions: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("questions = %d, want cap of 4", len(got))
	}
}

func TestVerifyAnswerValidatesInputs(t *testing.T) {
	svc := newTestService(t, &fakeAI{}, &fakeChunkRepo{}, &fakeMemory{}, &fakeEnricher{}, Config{})

	if _, err := svc.VerifyAnswer(context.Background(), "", "a", "ctx"); !apierr.IsCode(err, apierr.CodeBadInput) {
		t.Fatalf("empty question error = %v", err)
	}
	if _, err := svc.VerifyAnswer(context.Background(), "q", "", "ctx"); !apierr.IsCode(err, apierr.CodeBadInput) {
		t.Fatalf("empty answer error = %v", err)
	}
}

func TestVerifyAnswerUsesSuppliedContext(t *testing.T) {
	ai := &fakeAI{score: 0.42}
	repo := &fakeChunkRepo{}
	svc := newTestService(t, ai, repo, &fakeMemory{}, &fakeEnricher{}, Config{})

	got, err := svc.VerifyAnswer(context.Background(), "q", "a", "supplied context")
	if err != nil {
		t.Fatalf("VerifyAnswer: %v", err)
	}
	if got != 0.42 {
		t.Fatalf("score = %f, want 0.42", got)
	}
	if repo.searches != 0 {
		t.Fatalf("retrieval ran despite supplied context")
	}
}

func TestVerifyAnswerFallsBackToRetrieval(t *testing.T) {
	ai := &fakeAI{score: 0.8}
	repo := &fakeChunkRepo{hits: []chunks.Hit{docHit(t, 1, "alpha", "a.pdf", 0.9)}}
	svc := newTestService(t, ai, repo, &fakeMemory{}, &fakeEnricher{}, Config{})

	if _, err := svc.VerifyAnswer(context.Background(), "q", "a", ""); err != nil {
		t.Fatalf("VerifyAnswer: %v", err)
	}
	if repo.lastK != 5 {
		t.Fatalf("fallback retrieval k = %d, want 5", repo.lastK)
	}
}
