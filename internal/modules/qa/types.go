package qa

import (
	"context"
	"time"

	"github.com/consilience-ai/consilience-backend/internal/data/repos/graphstore"
	memsvc "github.com/consilience-ai/consilience-backend/internal/modules/memory"
)

// Request is one question plus its per-request stage toggles. The HTTP layer
// applies the documented defaults; each toggle is still gated by the matching
// kill switch in Config.
type Request struct {
	Query             string
	MaxResults        int
	UseMemory         bool
	UseSmartSelection bool
	UseAmplification  bool
	UseVerification   bool
}

// RetrievedChunk is the response projection of one selected chunk.
type RetrievedChunk struct {
	ID         int64   `json:"id"`
	Text       string  `json:"text"`
	Source     string  `json:"source"`
	Similarity float64 `json:"similarity"`
}

// SubQA is one planned subquestion with its mini-answer.
type SubQA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Response is the answer envelope for one question. MemoryID is -1 when the
// run persisted nothing. ProcessingTime is wall time in milliseconds.
type Response struct {
	Query             string                    `json:"query"`
	Answer            string                    `json:"answer"`
	Chunks            []RetrievedChunk          `json:"chunks"`
	Entities          []graphstore.EntityHit    `json:"entities"`
	Communities       []graphstore.CommunityHit `json:"communities"`
	References        []string                  `json:"references"`
	Subquestions      []SubQA                   `json:"subquestions,omitempty"`
	VerificationScore *float64                  `json:"verification_score"`
	LowConfidence     bool                      `json:"low_confidence"`
	FromMemory        bool                      `json:"from_memory"`
	MemoryID          int64                     `json:"memory_id"`
	ProcessingTime    float64                   `json:"processing_time"`
}

// Classification is one chunk verdict from the standalone classify endpoint.
type Classification struct {
	ChunkID  int64 `json:"chunk_id"`
	Relevant bool  `json:"relevant"`
}

// Config carries the pipeline tunables. NewPipeline fills zero numeric
// values with the documented defaults; the stage switches are taken as-is.
type Config struct {
	MaxResults int
	MinKeep    int

	EnableMemory         bool
	EnableClassification bool
	EnableAmplification  bool
	EnableVerification   bool

	VerificationThreshold         float64
	MaxSubquestions               int
	AmplificationMinContextLength int
	SubQDigestChars               int

	ClassifyConcurrency int
	SubQConcurrency     int

	PipelineTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxResults <= 0 {
		c.MaxResults = 5
	}
	if c.MinKeep <= 0 {
		c.MinKeep = 2
	}
	if c.VerificationThreshold <= 0 {
		c.VerificationThreshold = 0.7
	}
	if c.MaxSubquestions <= 0 {
		c.MaxSubquestions = 4
	}
	if c.AmplificationMinContextLength <= 0 {
		c.AmplificationMinContextLength = 500
	}
	if c.SubQDigestChars <= 0 {
		c.SubQDigestChars = 200
	}
	if c.ClassifyConcurrency <= 0 {
		c.ClassifyConcurrency = 8
	}
	if c.SubQConcurrency <= 0 {
		c.SubQConcurrency = 4
	}
	if c.PipelineTimeout <= 0 {
		c.PipelineTimeout = 60 * time.Second
	}
	return c
}

// Memory is the slice of the semantic cache the pipeline drives.
type Memory interface {
	LookupExact(ctx context.Context, query string) (*memsvc.Hit, error)
	LookupSemantic(ctx context.Context, queryVec []float32) (*memsvc.Hit, error)
	Save(ctx context.Context, in memsvc.SaveInput) (int64, error)
}

// Enricher decorates answers with graph context. Implementations never fail;
// degraded lookups come back as empty lists.
type Enricher interface {
	Enrich(ctx context.Context, chunkIDs []int64) ([]graphstore.EntityHit, []graphstore.CommunityHit)
}

// Service is the question-answering surface exposed to the HTTP layer.
type Service interface {
	Answer(ctx context.Context, in Request) (*Response, error)

	// Standalone stage endpoints, used for debugging and evaluation.
	ClassifyChunks(ctx context.Context, question string, chunkIDs []int64) ([]Classification, error)
	GenerateSubquestions(ctx context.Context, question, contextText string) ([]string, error)
	VerifyAnswer(ctx context.Context, question, answer, contextText string) (float64, error)
}
