package app

import (
	"strings"
	"time"

	"github.com/consilience-ai/consilience-backend/internal/platform/logger"
	"github.com/consilience-ai/consilience-backend/internal/utils"
)

// Config is every startup tunable in one place. LoadConfig resolves the
// environment once at boot; nothing below this layer reads os.Getenv.
type Config struct {
	Port    string
	LogMode string

	OpenAIAPIKey    string
	OpenAIBaseURL   string
	EmbeddingModel  string
	GenerationModel string
	// EmbeddingDim is derived from EmbeddingModel unless EMBEDDING_DIM
	// overrides it. The vector columns are created at this width.
	EmbeddingDim   int
	LLMMaxInflight int
	LLMMaxRetries  int

	EnableMemory              bool
	MemorySimilarityThreshold float64

	EnableChunkClassification      bool
	EnableSubquestionAmplification bool
	EnableAnswerVerification       bool
	EnableDialogRetrieval          bool

	// ChunkRelevanceThreshold is recognized but unused by the binary
	// classifier; reserved for a scored classifier variant.
	ChunkRelevanceThreshold float64

	VerificationThreshold         float64
	MaxSubquestions               int
	AmplificationMinContextLength int
	ClassifyConcurrency           int
	SubQConcurrency               int
	PipelineTimeout               time.Duration

	EmbedCacheEnabled bool
	EmbedCacheTTL     time.Duration

	// GraphProvider selects the enrichment reader: "postgres" or "neo4j".
	GraphProvider string

	CORSAllowOrigins    []string
	HTTPShutdownTimeout time.Duration

	Environment string
	Version     string
}

func LoadConfig(log *logger.Logger) (Config, error) {
	embedModel := utils.GetEnv("EMBEDDING_MODEL", "text-embedding-3-small", log)

	cfg := Config{
		Port:    utils.GetEnv("PORT", "8000", log),
		LogMode: utils.GetEnv("LOG_MODE", "development", log),

		OpenAIAPIKey:    utils.GetEnv("OPENAI_API_KEY", "", log),
		OpenAIBaseURL:   utils.GetEnv("OPENAI_BASE_URL", "", log),
		EmbeddingModel:  embedModel,
		GenerationModel: utils.GetEnv("GENERATION_MODEL", "gpt-4o", log),
		EmbeddingDim:    embeddingDim(embedModel, utils.GetEnvAsInt("EMBEDDING_DIM", 0, log)),
		LLMMaxInflight:  utils.GetEnvAsInt("LLM_MAX_INFLIGHT", 16, log),
		LLMMaxRetries:   utils.GetEnvAsInt("LLM_MAX_RETRIES", 1, log),

		EnableMemory:              utils.GetEnvAsBool("ENABLE_MEMORY", true, log),
		MemorySimilarityThreshold: similarityThreshold(log),

		EnableChunkClassification:      utils.GetEnvAsBool("ENABLE_CHUNK_CLASSIFICATION", true, log),
		EnableSubquestionAmplification: utils.GetEnvAsBool("ENABLE_SUBQUESTION_AMPLIFICATION", true, log),
		EnableAnswerVerification:       utils.GetEnvAsBool("ENABLE_ANSWER_VERIFICATION", true, log),
		EnableDialogRetrieval:          utils.GetEnvAsBool("ENABLE_DIALOG_RETRIEVAL", true, log),

		ChunkRelevanceThreshold: utils.GetEnvAsFloat("CHUNK_RELEVANCE_THRESHOLD", 0.5, log),

		VerificationThreshold:         utils.GetEnvAsFloat("VERIFICATION_THRESHOLD", 0.7, log),
		MaxSubquestions:               utils.GetEnvAsInt("MAX_SUBQUESTIONS", 4, log),
		AmplificationMinContextLength: utils.GetEnvAsInt("AMPLIFICATION_MIN_CONTEXT_LENGTH", 500, log),
		ClassifyConcurrency:           utils.GetEnvAsInt("CLASSIFY_CONCURRENCY", 8, log),
		SubQConcurrency:               utils.GetEnvAsInt("SUBQ_CONCURRENCY", 4, log),
		PipelineTimeout:               time.Duration(utils.GetEnvAsInt("PIPELINE_TIMEOUT_SECONDS", 60, log)) * time.Second,

		EmbedCacheEnabled: utils.GetEnvAsBool("EMBED_CACHE_ENABLED", true, log),
		EmbedCacheTTL:     time.Duration(utils.GetEnvAsInt("EMBED_CACHE_TTL_SECONDS", 86400, log)) * time.Second,

		GraphProvider: strings.ToLower(utils.GetEnv("GRAPH_PROVIDER", "postgres", log)),

		CORSAllowOrigins:    splitOrigins(utils.GetEnv("CORS_ALLOW_ORIGINS", "*", log)),
		HTTPShutdownTimeout: time.Duration(utils.GetEnvAsInt("HTTP_SHUTDOWN_TIMEOUT_SECONDS", 10, log)) * time.Second,

		Environment: utils.GetEnv("ENVIRONMENT", "development", log),
		Version:     utils.GetEnv("SERVICE_VERSION", "dev", log),
	}

	if path := utils.GetEnv("PIPELINE_CONFIG_FILE", "", log); path != "" {
		if err := applyPipelineFile(&cfg, path); err != nil {
			return cfg, err
		}
		log.Info("Applied pipeline config file", "path", path)
	}
	return cfg, nil
}

// similarityThreshold honors both spellings of the memory threshold knob;
// the long form wins when both are set.
func similarityThreshold(log *logger.Logger) float64 {
	short := utils.GetEnvAsFloat("SIM_THRESHOLD", 0.95, log)
	return utils.GetEnvAsFloat("MEMORY_SIMILARITY_THRESHOLD", short, log)
}

// embeddingDim maps known OpenAI embedding models to their vector width.
// An explicit override wins; unknown models fall back to 1536.
func embeddingDim(model string, override int) int {
	if override > 0 {
		return override
	}
	if strings.Contains(model, "3-large") {
		return 3072
	}
	return 1536
}

func splitOrigins(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
