package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type HealthHandler struct {
	db *gorm.DB
}

func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	database := "connected"
	status := "healthy"
	code := http.StatusOK
	if err := h.db.WithContext(c.Request.Context()).Exec("SELECT 1").Error; err != nil {
		database = "disconnected"
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"services": gin.H{
			"database": database,
			"api":      "running",
		},
	})
}
