package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/consilience-ai/consilience-backend/internal/http/response"
	"github.com/consilience-ai/consilience-backend/internal/modules/qa"
	"github.com/consilience-ai/consilience-backend/internal/platform/apierr"
)

type QueryHandler struct {
	qa qa.Service
}

func NewQueryHandler(svc qa.Service) *QueryHandler {
	return &QueryHandler{qa: svc}
}

type queryReq struct {
	Query             string `json:"query"`
	MaxResults        *int   `json:"max_results"`
	UseMemory         *bool  `json:"use_memory"`
	UseAmplification  *bool  `json:"use_amplification"`
	UseSmartSelection *bool  `json:"use_smart_selection"`
}

// requestFrom applies the documented defaults and rejects bad input at the
// edge. An absent max_results falls through to the pipeline default; an
// explicit non-positive value is an error.
func (h *QueryHandler) requestFrom(c *gin.Context, req queryReq) (qa.Request, bool) {
	if strings.TrimSpace(req.Query) == "" {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeBadInput, fmt.Errorf("query must not be empty"))
		return qa.Request{}, false
	}
	k := 0
	if req.MaxResults != nil {
		if *req.MaxResults <= 0 {
			response.RespondError(c, http.StatusBadRequest, apierr.CodeBadInput, fmt.Errorf("max_results must be positive, got %d", *req.MaxResults))
			return qa.Request{}, false
		}
		k = *req.MaxResults
	}
	return qa.Request{
		Query:             req.Query,
		MaxResults:        k,
		UseMemory:         boolOrDefault(req.UseMemory, true),
		UseSmartSelection: boolOrDefault(req.UseSmartSelection, true),
		UseAmplification:  boolOrDefault(req.UseAmplification, true),
		UseVerification:   true,
	}, true
}

// POST /query
func (h *QueryHandler) Answer(c *gin.Context) {
	var req queryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeBadInput, err)
		return
	}
	in, ok := h.requestFrom(c, req)
	if !ok {
		return
	}
	res, err := h.qa.Answer(c.Request.Context(), in)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, res)
}

// POST /query/simple
func (h *QueryHandler) AnswerSimple(c *gin.Context) {
	var req queryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeBadInput, err)
		return
	}
	in, ok := h.requestFrom(c, req)
	if !ok {
		return
	}
	in.UseSmartSelection = false
	in.UseAmplification = false
	in.UseVerification = false
	res, err := h.qa.Answer(c.Request.Context(), in)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, res)
}

type classifyChunksReq struct {
	Query    string  `json:"query"`
	ChunkIDs []int64 `json:"chunk_ids"`
}

// POST /query/classify-chunks
func (h *QueryHandler) ClassifyChunks(c *gin.Context) {
	var req classifyChunksReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeBadInput, err)
		return
	}
	verdicts, err := h.qa.ClassifyChunks(c.Request.Context(), req.Query, req.ChunkIDs)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, verdicts)
}

type subquestionsReq struct {
	Query   string `json:"query"`
	Context string `json:"context"`
}

// POST /query/generate-subquestions
func (h *QueryHandler) GenerateSubquestions(c *gin.Context) {
	var req subquestionsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeBadInput, err)
		return
	}
	subs, err := h.qa.GenerateSubquestions(c.Request.Context(), req.Query, req.Context)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, subs)
}

type verifyAnswerReq struct {
	Query   string `json:"query"`
	Answer  string `json:"answer"`
	Context string `json:"context"`
}

// POST /query/verify-answer
func (h *QueryHandler) VerifyAnswer(c *gin.Context) {
	var req verifyAnswerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeBadInput, err)
		return
	}
	score, err := h.qa.VerifyAnswer(c.Request.Context(), req.Query, req.Answer, req.Context)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"score": score})
}

func boolOrDefault(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
