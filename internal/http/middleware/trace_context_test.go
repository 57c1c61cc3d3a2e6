package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/consilience-ai/consilience-backend/internal/platform/ctxutil"
)

func TestAttachTraceContextIssuesIDs(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)

	var seen *ctxutil.TraceData
	r := gin.New()
	r.Use(AttachTraceContext())
	r.GET("/query", func(c *gin.Context) {
		seen = ctxutil.GetTraceData(c.Request.Context())
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/query", nil))

	if seen == nil || seen.TraceID == "" || seen.RequestID == "" {
		t.Fatalf("handler did not see trace data: %+v", seen)
	}
	if got := rec.Header().Get("X-Trace-Id"); got != seen.TraceID {
		t.Fatalf("trace header mismatch: got=%q want=%q", got, seen.TraceID)
	}
	if got := rec.Header().Get("X-Request-Id"); got != seen.RequestID {
		t.Fatalf("request header mismatch: got=%q want=%q", got, seen.RequestID)
	}
}

func TestAttachTraceContextPropagatesInboundIDs(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(AttachTraceContext())
	r.GET("/query", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/query", nil)
	req.Header.Set("X-Request-Id", "req-123")
	req.Header.Set("X-Trace-Id", "trace-456")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != "req-123" {
		t.Fatalf("request id not propagated: got=%q", got)
	}
	if got := rec.Header().Get("X-Trace-Id"); got != "trace-456" {
		t.Fatalf("trace id not propagated: got=%q", got)
	}
}
