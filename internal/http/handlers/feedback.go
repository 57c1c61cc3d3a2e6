package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/consilience-ai/consilience-backend/internal/http/response"
	"github.com/consilience-ai/consilience-backend/internal/modules/threads"
	"github.com/consilience-ai/consilience-backend/internal/platform/apierr"
)

type FeedbackHandler struct {
	threads threads.Service
}

func NewFeedbackHandler(svc threads.Service) *FeedbackHandler {
	return &FeedbackHandler{threads: svc}
}

type feedbackReq struct {
	MemoryID     int64   `json:"memory_id"`
	FeedbackText *string `json:"feedback_text"`
	Rating       *int    `json:"rating"`
	IsFavorite   *bool   `json:"is_favorite"`
}

// POST /feedback
func (h *FeedbackHandler) Save(c *gin.Context) {
	var req feedbackReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeBadInput, err)
		return
	}
	fb, err := h.threads.SaveFeedback(c.Request.Context(), threads.FeedbackInput{
		MemoryID:     req.MemoryID,
		FeedbackText: req.FeedbackText,
		Rating:       req.Rating,
		IsFavorite:   req.IsFavorite,
	})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"feedback": fb})
}

// GET /favorites
func (h *FeedbackHandler) Favorites(c *gin.Context) {
	favs, err := h.threads.Favorites(c.Request.Context())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"favorites": favs})
}
