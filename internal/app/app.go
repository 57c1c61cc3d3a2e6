package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/consilience-ai/consilience-backend/internal/data/db"
	"github.com/consilience-ai/consilience-backend/internal/data/repos/chunks"
	feedbackrepo "github.com/consilience-ai/consilience-backend/internal/data/repos/feedback"
	memrepo "github.com/consilience-ai/consilience-backend/internal/data/repos/memory"
	threadrepo "github.com/consilience-ai/consilience-backend/internal/data/repos/threads"
	httpapi "github.com/consilience-ai/consilience-backend/internal/http"
	"github.com/consilience-ai/consilience-backend/internal/http/handlers"
	"github.com/consilience-ai/consilience-backend/internal/modules/graphrag"
	memsvc "github.com/consilience-ai/consilience-backend/internal/modules/memory"
	"github.com/consilience-ai/consilience-backend/internal/modules/qa"
	"github.com/consilience-ai/consilience-backend/internal/modules/threads"
	"github.com/consilience-ai/consilience-backend/internal/observability"
	"github.com/consilience-ai/consilience-backend/internal/platform/embedcache"
	"github.com/consilience-ai/consilience-backend/internal/platform/logger"
	"github.com/consilience-ai/consilience-backend/internal/platform/openai"
)

// App owns every long-lived dependency: config, connection pools, the wired
// service graph, and the HTTP server.
type App struct {
	Log    *logger.Logger
	Cfg    Config
	Server *httpapi.Server

	db            *gorm.DB
	redis         *redis.Client
	otelShutdown  func(context.Context) error
	graphShutdown func(context.Context) error
}

// New wires the service graph bottom-up: telemetry, stores, clients, repos,
// services, handlers, router. Required dependencies fail fast; optional ones
// (redis, tracing) degrade with a logged warning.
func New(ctx context.Context, log *logger.Logger) (*App, error) {
	cfg, err := LoadConfig(log)
	if err != nil {
		return nil, err
	}
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	otelStop := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "consilience-backend",
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})
	observability.Init(log)

	pg, err := db.NewPostgresService(log)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	gdb := pg.DB()
	if err := db.AutoMigrateAll(gdb, cfg.EmbeddingDim); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	rdb, err := db.NewRedisClient(log)
	if err != nil {
		log.Warn("Redis unavailable, embedding cache disabled", "error", err)
		rdb = nil
	}

	ai, err := openai.NewClient(log, openai.Config{
		APIKey:      cfg.OpenAIAPIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		Model:       cfg.GenerationModel,
		EmbedModel:  cfg.EmbeddingModel,
		MaxRetries:  cfg.LLMMaxRetries,
		MaxInflight: cfg.LLMMaxInflight,
	})
	if err != nil {
		return nil, fmt.Errorf("openai client: %w", err)
	}
	if cfg.EmbedCacheEnabled && rdb != nil {
		ai = embedcache.Wrap(ai, rdb, log, cfg.EmbeddingModel, cfg.EmbedCacheTTL)
	}

	reader, graphStop, err := wireGraphReader(gdb, log, cfg.GraphProvider)
	if err != nil {
		return nil, err
	}

	chunkRepo := chunks.NewRepo(gdb, log)
	memoryRepo := memrepo.NewRepo(gdb, log)
	feedbackRepo := feedbackrepo.NewRepo(gdb, log)
	messageRepo := threadrepo.NewRepo(gdb, log)

	enricher := graphrag.NewEnricher(reader, log, graphrag.Config{})
	memoryService := memsvc.NewService(gdb, memoryRepo, chunkRepo, log, memsvc.Config{
		SimilarityThreshold: cfg.MemorySimilarityThreshold,
	})
	qaService := qa.NewPipeline(log, ai, chunkRepo, memoryService, enricher, qa.Config{
		EnableMemory:                  cfg.EnableMemory,
		EnableClassification:          cfg.EnableChunkClassification,
		EnableAmplification:           cfg.EnableSubquestionAmplification,
		EnableVerification:            cfg.EnableAnswerVerification,
		VerificationThreshold:         cfg.VerificationThreshold,
		MaxSubquestions:               cfg.MaxSubquestions,
		AmplificationMinContextLength: cfg.AmplificationMinContextLength,
		ClassifyConcurrency:           cfg.ClassifyConcurrency,
		SubQConcurrency:               cfg.SubQConcurrency,
		PipelineTimeout:               cfg.PipelineTimeout,
	})
	threadService := threads.NewService(gdb, log, ai, chunkRepo, memoryRepo, feedbackRepo, messageRepo, threads.Config{
		EnableDialogRetrieval: cfg.EnableDialogRetrieval,
	})

	server := httpapi.NewServer(httpapi.RouterConfig{
		Log:             log,
		CORSOrigins:     cfg.CORSAllowOrigins,
		EnableOtel:      otelStop != nil,
		QueryHandler:    handlers.NewQueryHandler(qaService),
		MemoryHandler:   handlers.NewMemoryHandler(memoryService),
		FeedbackHandler: handlers.NewFeedbackHandler(threadService),
		ThreadHandler:   handlers.NewThreadHandler(threadService),
		HealthHandler:   handlers.NewHealthHandler(gdb),
	}, cfg.HTTPShutdownTimeout)

	return &App{
		Log:           log,
		Cfg:           cfg,
		Server:        server,
		db:            gdb,
		redis:         rdb,
		otelShutdown:  otelStop,
		graphShutdown: graphStop,
	}, nil
}

// Run serves HTTP until ctx is cancelled, then drains in-flight requests.
func (a *App) Run(ctx context.Context) error {
	return a.Server.Run(ctx, ":"+a.Cfg.Port)
}

// Close releases connections in reverse dependency order. Safe to call once
// after Run returns.
func (a *App) Close(ctx context.Context) {
	if a.graphShutdown != nil {
		if err := a.graphShutdown(ctx); err != nil {
			a.Log.Warn("Graph store close failed", "error", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Log.Warn("Redis close failed", "error", err)
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				a.Log.Warn("Postgres close failed", "error", err)
			}
		}
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("Tracer shutdown failed", "error", err)
		}
	}
}
