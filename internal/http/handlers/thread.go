package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/consilience-ai/consilience-backend/internal/http/response"
	"github.com/consilience-ai/consilience-backend/internal/modules/threads"
	"github.com/consilience-ai/consilience-backend/internal/platform/apierr"
)

type ThreadHandler struct {
	threads threads.Service
}

func NewThreadHandler(svc threads.Service) *ThreadHandler {
	return &ThreadHandler{threads: svc}
}

type createThreadReq struct {
	MemoryID    int64  `json:"memory_id"`
	ThreadTitle string `json:"thread_title"`
}

// POST /thread/create
func (h *ThreadHandler) Create(c *gin.Context) {
	var req createThreadReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeBadInput, err)
		return
	}
	fb, err := h.threads.Create(c.Request.Context(), req.MemoryID, req.ThreadTitle)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"thread": fb})
}

// GET /threads
func (h *ThreadHandler) List(c *gin.Context) {
	list, err := h.threads.List(c.Request.Context())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"threads": list})
}

// GET /thread/:id
func (h *ThreadHandler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeBadInput, fmt.Errorf("invalid thread id %q", c.Param("id")))
		return
	}
	th, err := h.threads.Get(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"thread": th})
}

type threadMessageReq struct {
	FeedbackID           int64  `json:"feedback_id"`
	Message              string `json:"message"`
	EnhanceWithRetrieval *bool  `json:"enhance_with_retrieval"`
	MaxResults           *int   `json:"max_results"`
}

// POST /thread/message
func (h *ThreadHandler) Append(c *gin.Context) {
	var req threadMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeBadInput, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeBadInput, fmt.Errorf("message must not be empty"))
		return
	}
	k := 0
	if req.MaxResults != nil {
		if *req.MaxResults <= 0 {
			response.RespondError(c, http.StatusBadRequest, apierr.CodeBadInput, fmt.Errorf("max_results must be positive, got %d", *req.MaxResults))
			return
		}
		k = *req.MaxResults
	}
	res, err := h.threads.Append(c.Request.Context(), threads.AppendInput{
		FeedbackID:           req.FeedbackID,
		Message:              req.Message,
		EnhanceWithRetrieval: boolOrDefault(req.EnhanceWithRetrieval, true),
		MaxResults:           k,
	})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, res)
}
