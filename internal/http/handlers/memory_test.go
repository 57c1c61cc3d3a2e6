package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/consilience-ai/consilience-backend/internal/data/repos/graphstore"
	memrepo "github.com/consilience-ai/consilience-backend/internal/data/repos/memory"
	types "github.com/consilience-ai/consilience-backend/internal/domain"
	memsvc "github.com/consilience-ai/consilience-backend/internal/modules/memory"
	"github.com/consilience-ai/consilience-backend/internal/platform/apierr"
	pkgerrors "github.com/consilience-ai/consilience-backend/internal/pkg/errors"
)

type fakeMemoryService struct {
	getFn    func(ctx context.Context, id int64) (*memsvc.Snapshot, error)
	deleteFn func(ctx context.Context, id int64) error
	clearFn  func(ctx context.Context) (int64, error)
	statsFn  func(ctx context.Context) (*memrepo.Stats, error)
}

func (f *fakeMemoryService) LookupExact(context.Context, string) (*memsvc.Hit, error) {
	return nil, errors.New("not used by handlers")
}

func (f *fakeMemoryService) LookupSemantic(context.Context, []float32) (*memsvc.Hit, error) {
	return nil, errors.New("not used by handlers")
}

func (f *fakeMemoryService) Save(context.Context, memsvc.SaveInput) (int64, error) {
	return 0, errors.New("not used by handlers")
}

func (f *fakeMemoryService) Get(ctx context.Context, id int64) (*memsvc.Snapshot, error) {
	if f.getFn != nil {
		return f.getFn(ctx, id)
	}
	return nil, fmt.Errorf("%w: memory entry %d", pkgerrors.ErrNotFound, id)
}

func (f *fakeMemoryService) Delete(ctx context.Context, id int64) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, id)
	}
	return nil
}

func (f *fakeMemoryService) Clear(ctx context.Context) (int64, error) {
	if f.clearFn != nil {
		return f.clearFn(ctx)
	}
	return 0, nil
}

func (f *fakeMemoryService) Stats(ctx context.Context) (*memrepo.Stats, error) {
	if f.statsFn != nil {
		return f.statsFn(ctx)
	}
	return &memrepo.Stats{MostAccessed: []memrepo.EntrySummary{}, Recent: []memrepo.EntrySummary{}}, nil
}

func newMemoryRouter(fake *fakeMemoryService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewMemoryHandler(fake)
	r.GET("/memory/stats", h.Stats)
	r.GET("/memory/entry/:id", h.GetEntry)
	r.DELETE("/memory/entry/:id", h.DeleteEntry)
	r.DELETE("/memory/clear", h.Clear)
	return r
}

func TestMemoryStats(t *testing.T) {
	t.Parallel()
	fake := &fakeMemoryService{
		statsFn: func(context.Context) (*memrepo.Stats, error) {
			return &memrepo.Stats{
				TotalEntries: 3,
				MostAccessed: []memrepo.EntrySummary{{ID: 1, Query: "q1", AccessCount: 9}},
				Recent:       []memrepo.EntrySummary{{ID: 3, Query: "q3"}},
			}, nil
		},
	}
	r := newMemoryRouter(fake)

	rec := doJSON(t, r, http.MethodGet, "/memory/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got=%d", rec.Code)
	}

	var body struct {
		TotalEntries int64 `json:"total_entries"`
		MostAccessed []struct {
			ID          int64  `json:"id"`
			Query       string `json:"query"`
			AccessCount int    `json:"access_count"`
		} `json:"most_accessed"`
		Recent []struct {
			ID int64 `json:"id"`
		} `json:"recent"`
	}
	decodeBody(t, rec, &body)
	if body.TotalEntries != 3 {
		t.Fatalf("unexpected total_entries: %d", body.TotalEntries)
	}
	if len(body.MostAccessed) != 1 || body.MostAccessed[0].AccessCount != 9 {
		t.Fatalf("unexpected most_accessed: %+v", body.MostAccessed)
	}
	if len(body.Recent) != 1 || body.Recent[0].ID != 3 {
		t.Fatalf("unexpected recent: %+v", body.Recent)
	}
}

func TestGetEntryReturnsDecodedSnapshot(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC().Truncate(time.Second)
	fake := &fakeMemoryService{
		getFn: func(_ context.Context, id int64) (*memsvc.Snapshot, error) {
			if id != 5 {
				return nil, fmt.Errorf("%w: memory entry %d", pkgerrors.ErrNotFound, id)
			}
			return &memsvc.Snapshot{
				Entry: &types.MemoryEntry{
					ID:           5,
					QueryText:    "what is raft?",
					Answer:       "Raft elects a leader [1].",
					AccessCount:  2,
					CreatedAt:    now,
					LastAccessed: now,
				},
				References:  []string{"raft.pdf"},
				ChunkIDs:    []int64{11, 12},
				Entities:    []graphstore.EntityHit{{Entity: "Raft", EntityType: "ALGORITHM", Relevance: 0.9}},
				Communities: []graphstore.CommunityHit{},
			}, nil
		},
	}
	r := newMemoryRouter(fake)

	rec := doJSON(t, r, http.MethodGet, "/memory/entry/5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got=%d (body=%s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Entry struct {
			ID         int64    `json:"id"`
			Query      string   `json:"query"`
			Answer     string   `json:"answer"`
			References []string `json:"references"`
			ChunkIDs   []int64  `json:"chunk_ids"`
			Entities   []struct {
				Entity string `json:"entity"`
			} `json:"entities"`
			Communities []any `json:"communities"`
			AccessCount int   `json:"access_count"`
		} `json:"entry"`
	}
	decodeBody(t, rec, &body)
	if body.Entry.ID != 5 || body.Entry.Query != "what is raft?" {
		t.Fatalf("unexpected entry: %+v", body.Entry)
	}
	if len(body.Entry.References) != 1 || body.Entry.References[0] != "raft.pdf" {
		t.Fatalf("unexpected references: %v", body.Entry.References)
	}
	if len(body.Entry.ChunkIDs) != 2 {
		t.Fatalf("unexpected chunk_ids: %v", body.Entry.ChunkIDs)
	}
	if len(body.Entry.Entities) != 1 || body.Entry.Entities[0].Entity != "Raft" {
		t.Fatalf("unexpected entities: %+v", body.Entry.Entities)
	}
	if body.Entry.Communities == nil {
		t.Fatal("communities should encode as an empty list, not null")
	}
}

func TestGetEntryRejectsBadID(t *testing.T) {
	t.Parallel()
	r := newMemoryRouter(&fakeMemoryService{})

	for _, path := range []string{"/memory/entry/abc", "/memory/entry/0", "/memory/entry/-4"} {
		rec := doJSON(t, r, http.MethodGet, path, "")
		wantErrorCode(t, rec, http.StatusBadRequest, apierr.CodeBadInput)
	}
}

func TestGetEntryNotFound(t *testing.T) {
	t.Parallel()
	r := newMemoryRouter(&fakeMemoryService{})

	rec := doJSON(t, r, http.MethodGet, "/memory/entry/99", "")
	wantErrorCode(t, rec, http.StatusNotFound, apierr.CodeNotFound)
}

func TestDeleteEntry(t *testing.T) {
	t.Parallel()
	var deleted int64
	fake := &fakeMemoryService{
		deleteFn: func(_ context.Context, id int64) error {
			deleted = id
			return nil
		},
	}
	r := newMemoryRouter(fake)

	rec := doJSON(t, r, http.MethodDelete, "/memory/entry/5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got=%d", rec.Code)
	}
	if deleted != 5 {
		t.Fatalf("unexpected deleted id: %d", deleted)
	}

	var body struct {
		ID      int64 `json:"id"`
		Deleted bool  `json:"deleted"`
	}
	decodeBody(t, rec, &body)
	if body.ID != 5 || !body.Deleted {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestClearMemory(t *testing.T) {
	t.Parallel()
	fake := &fakeMemoryService{
		clearFn: func(context.Context) (int64, error) { return 7, nil },
	}
	r := newMemoryRouter(fake)

	rec := doJSON(t, r, http.MethodDelete, "/memory/clear", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got=%d", rec.Code)
	}

	var body struct {
		DeletedEntries int64 `json:"deleted_entries"`
	}
	decodeBody(t, rec, &body)
	if body.DeletedEntries != 7 {
		t.Fatalf("unexpected deleted_entries: %d", body.DeletedEntries)
	}
}
