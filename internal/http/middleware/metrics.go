package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/consilience-ai/consilience-backend/internal/observability"
)

// Metrics instruments request counts, latency, and inflight gauge. A nil
// registry (metrics disabled) degrades to a pass-through.
func Metrics(m *observability.Metrics) gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		m.APIInflightInc()
		defer m.APIInflightDec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		m.ObserveAPI(method, route, status, time.Since(start))
	}
}
