package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/consilience-ai/consilience-backend/internal/http/handlers"
	httpMW "github.com/consilience-ai/consilience-backend/internal/http/middleware"
	"github.com/consilience-ai/consilience-backend/internal/observability"
	"github.com/consilience-ai/consilience-backend/internal/platform/logger"
)

const serviceName = "consilience-backend"

type RouterConfig struct {
	Log         *logger.Logger
	CORSOrigins []string
	EnableOtel  bool

	QueryHandler    *httpH.QueryHandler
	MemoryHandler   *httpH.MemoryHandler
	FeedbackHandler *httpH.FeedbackHandler
	ThreadHandler   *httpH.ThreadHandler
	HealthHandler   *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.EnableOtel {
		r.Use(otelgin.Middleware(serviceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(observability.Current()))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/health", cfg.HealthHandler.Health)
	}

	// Metrics exposition
	if observability.Enabled() {
		r.GET("/metrics", func(c *gin.Context) {
			c.Header("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
			observability.Current().WritePrometheus(c.Writer)
		})
	}

	// Query pipeline
	if cfg.QueryHandler != nil {
		r.POST("/query", cfg.QueryHandler.Answer)
		r.POST("/query/simple", cfg.QueryHandler.AnswerSimple)
		r.POST("/query/classify-chunks", cfg.QueryHandler.ClassifyChunks)
		r.POST("/query/generate-subquestions", cfg.QueryHandler.GenerateSubquestions)
		r.POST("/query/verify-answer", cfg.QueryHandler.VerifyAnswer)
	}

	// Memory
	if cfg.MemoryHandler != nil {
		r.GET("/memory/stats", cfg.MemoryHandler.Stats)
		r.GET("/memory/entry/:id", cfg.MemoryHandler.GetEntry)
		r.DELETE("/memory/entry/:id", cfg.MemoryHandler.DeleteEntry)
		r.DELETE("/memory/clear", cfg.MemoryHandler.Clear)
	}

	// Feedback
	if cfg.FeedbackHandler != nil {
		r.POST("/feedback", cfg.FeedbackHandler.Save)
		r.GET("/favorites", cfg.FeedbackHandler.Favorites)
	}

	// Threads
	if cfg.ThreadHandler != nil {
		r.POST("/thread/create", cfg.ThreadHandler.Create)
		r.GET("/threads", cfg.ThreadHandler.List)
		r.GET("/thread/:id", cfg.ThreadHandler.Get)
		r.POST("/thread/message", cfg.ThreadHandler.Append)
	}

	return r
}
