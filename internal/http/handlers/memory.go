package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/consilience-ai/consilience-backend/internal/http/response"
	memsvc "github.com/consilience-ai/consilience-backend/internal/modules/memory"
	"github.com/consilience-ai/consilience-backend/internal/platform/apierr"
)

type MemoryHandler struct {
	memory memsvc.Service
}

func NewMemoryHandler(svc memsvc.Service) *MemoryHandler {
	return &MemoryHandler{memory: svc}
}

// GET /memory/stats
func (h *MemoryHandler) Stats(c *gin.Context) {
	stats, err := h.memory.Stats(c.Request.Context())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, stats)
}

// GET /memory/entry/:id
func (h *MemoryHandler) GetEntry(c *gin.Context) {
	id, ok := entryID(c)
	if !ok {
		return
	}
	snap, err := h.memory.Get(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"entry": gin.H{
		"id":            snap.Entry.ID,
		"query":         snap.Entry.QueryText,
		"answer":        snap.Entry.Answer,
		"references":    snap.References,
		"chunk_ids":     snap.ChunkIDs,
		"entities":      snap.Entities,
		"communities":   snap.Communities,
		"access_count":  snap.Entry.AccessCount,
		"created_at":    snap.Entry.CreatedAt,
		"last_accessed": snap.Entry.LastAccessed,
	}})
}

// DELETE /memory/entry/:id
func (h *MemoryHandler) DeleteEntry(c *gin.Context) {
	id, ok := entryID(c)
	if !ok {
		return
	}
	if err := h.memory.Delete(c.Request.Context(), id); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"id": id, "deleted": true})
}

// DELETE /memory/clear
func (h *MemoryHandler) Clear(c *gin.Context) {
	deleted, err := h.memory.Clear(c.Request.Context())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"deleted_entries": deleted})
}

func entryID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeBadInput, fmt.Errorf("invalid entry id %q", c.Param("id")))
		return 0, false
	}
	return id, true
}
