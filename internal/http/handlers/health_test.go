package handlers

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/consilience-ai/consilience-backend/internal/data/repos/testutil"
)

func TestHealthReportsConnectedDatabase(t *testing.T) {
	gdb := testutil.DB(t)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/health", NewHealthHandler(gdb).Health)

	rec := doJSON(t, r, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got=%d (body=%s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Status   string `json:"status"`
		Services struct {
			Database string `json:"database"`
			API      string `json:"api"`
		} `json:"services"`
	}
	decodeBody(t, rec, &body)
	if body.Status != "healthy" {
		t.Fatalf("unexpected status field: %q", body.Status)
	}
	if body.Services.Database != "connected" || body.Services.API != "running" {
		t.Fatalf("unexpected services: %+v", body.Services)
	}
}
