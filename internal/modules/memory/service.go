package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/consilience-ai/consilience-backend/internal/data/repos/chunks"
	"github.com/consilience-ai/consilience-backend/internal/data/repos/graphstore"
	memrepo "github.com/consilience-ai/consilience-backend/internal/data/repos/memory"
	types "github.com/consilience-ai/consilience-backend/internal/domain"
	"github.com/consilience-ai/consilience-backend/internal/observability"
	"github.com/consilience-ai/consilience-backend/internal/pkg/dbctx"
	pkgerrors "github.com/consilience-ai/consilience-backend/internal/pkg/errors"
	"github.com/consilience-ai/consilience-backend/internal/pkg/textnorm"
	"github.com/consilience-ai/consilience-backend/internal/platform/logger"
)

// Config tunes the semantic cache. Zero values fall back to defaults.
type Config struct {
	// SimilarityThreshold is the minimum cosine similarity for a semantic
	// hit (default 0.95).
	SimilarityThreshold float64

	// StatsTopN bounds the most-accessed and recent lists (default 10).
	StatsTopN int
}

// Snapshot is one entry with its JSON columns decoded and its chunks
// re-fetched, so replayed answers always carry current chunk text.
type Snapshot struct {
	Entry       *types.MemoryEntry
	References  []string
	ChunkIDs    []int64
	Entities    []graphstore.EntityHit
	Communities []graphstore.CommunityHit
	Chunks      []*types.DocumentChunk
}

// Hit is a cache hit. Kind is "exact" or "semantic"; Similarity is 1 for
// exact matches.
type Hit struct {
	Snapshot
	Kind       string
	Similarity float64
}

// SaveInput is everything a finished pipeline run wants remembered.
type SaveInput struct {
	Query       string
	Embedding   []float32
	Answer      string
	References  []string
	ChunkIDs    []int64
	Entities    []graphstore.EntityHit
	Communities []graphstore.CommunityHit
}

type Service interface {
	// LookupExact matches on normalized text; (nil, nil) on miss. A hit is
	// touched before it is returned.
	LookupExact(ctx context.Context, query string) (*Hit, error)
	// LookupSemantic matches on embedding cosine similarity against the
	// configured threshold; (nil, nil) on miss.
	LookupSemantic(ctx context.Context, queryVec []float32) (*Hit, error)
	// Save inserts a new entry, or touches the existing one when the
	// normalized text is already cached. Returns the surviving entry id.
	Save(ctx context.Context, in SaveInput) (int64, error)

	Get(ctx context.Context, id int64) (*Snapshot, error)
	Delete(ctx context.Context, id int64) error
	Clear(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (*memrepo.Stats, error)
}

type service struct {
	db     *gorm.DB
	repo   memrepo.Repo
	chunks chunks.Repo
	log    *logger.Logger
	cfg    Config
}

func NewService(db *gorm.DB, repo memrepo.Repo, chunkRepo chunks.Repo, log *logger.Logger, cfg Config) Service {
	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold > 1 {
		cfg.SimilarityThreshold = 0.95
	}
	if cfg.StatsTopN <= 0 {
		cfg.StatsTopN = 10
	}
	return &service{
		db:     db,
		repo:   repo,
		chunks: chunkRepo,
		log:    log.With("service", "MemoryService"),
		cfg:    cfg,
	}
}

func (s *service) LookupExact(ctx context.Context, query string) (*Hit, error) {
	normalized := textnorm.Normalize(query)
	if normalized == "" {
		return nil, fmt.Errorf("%w: empty query", pkgerrors.ErrInvalidArgument)
	}
	dbc := dbctx.Context{Ctx: ctx}
	entry, err := s.repo.LookupExact(dbc, normalized)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	s.observeLookup("hit_exact")
	return s.hitFromEntry(ctx, entry, "exact", 1.0), nil
}

func (s *service) LookupSemantic(ctx context.Context, queryVec []float32) (*Hit, error) {
	dbc := dbctx.Context{Ctx: ctx}
	hit, err := s.repo.LookupSemantic(dbc, queryVec, s.cfg.SimilarityThreshold)
	if err != nil {
		return nil, err
	}
	if hit == nil {
		s.observeLookup("miss")
		return nil, nil
	}
	s.observeLookup("hit_semantic")
	return s.hitFromEntry(ctx, hit.Entry, "semantic", hit.Similarity), nil
}

// hitFromEntry touches the entry and builds its snapshot. Touch and chunk
// re-fetch failures degrade rather than discard a valid cached answer.
func (s *service) hitFromEntry(ctx context.Context, entry *types.MemoryEntry, kind string, similarity float64) *Hit {
	dbc := dbctx.Context{Ctx: ctx}
	if err := s.repo.Touch(dbc, entry.ID); err != nil {
		s.log.Warn("Memory touch failed", "memory_id", entry.ID, "error", err.Error())
	} else {
		entry.AccessCount++
	}
	s.log.Debug("Memory hit",
		"memory_id", entry.ID,
		"kind", kind,
		"similarity", similarity,
		"access_count", entry.AccessCount,
	)
	return &Hit{
		Snapshot:   s.snapshot(ctx, entry),
		Kind:       kind,
		Similarity: similarity,
	}
}

func (s *service) Save(ctx context.Context, in SaveInput) (int64, error) {
	normalized := textnorm.Normalize(in.Query)
	if normalized == "" {
		return 0, fmt.Errorf("%w: empty query", pkgerrors.ErrInvalidArgument)
	}
	if strings.TrimSpace(in.Answer) == "" {
		return 0, fmt.Errorf("%w: empty answer", pkgerrors.ErrInvalidArgument)
	}

	row := &types.MemoryEntry{
		QueryText:      strings.TrimSpace(in.Query),
		NormalizedText: normalized,
		QueryEmbedding: pgvector.NewVector(in.Embedding),
		Answer:         in.Answer,
		Refs:           mustJSON(in.References),
		ChunkIDs:       mustJSON(in.ChunkIDs),
		Entities:       mustJSON(in.Entities),
		Communities:    mustJSON(in.Communities),
	}

	var id int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		existing, err := s.repo.LookupExact(dbc, normalized)
		if err != nil {
			return err
		}
		if existing != nil {
			id = existing.ID
			return s.repo.Touch(dbc, existing.ID)
		}
		if err := s.repo.Insert(dbc, row); err != nil {
			return err
		}
		id = row.ID
		return nil
	})
	if err == nil {
		return id, nil
	}

	// A concurrent identical miss can commit between our lookup and insert.
	// The unique violation aborts the transaction, so recovery runs outside
	// it: read the winner's row and count this run as an access.
	if errors.Is(err, pkgerrors.ErrConflict) || memrepo.IsUniqueViolation(err) {
		dbc := dbctx.Context{Ctx: ctx}
		winner, rerr := s.repo.LookupExact(dbc, normalized)
		if rerr != nil || winner == nil {
			return 0, err
		}
		if terr := s.repo.Touch(dbc, winner.ID); terr != nil {
			s.log.Warn("Memory touch after insert race failed", "memory_id", winner.ID, "error", terr.Error())
		}
		s.log.Debug("Memory insert lost race, reusing entry", "memory_id", winner.ID)
		return winner.ID, nil
	}
	return 0, err
}

func (s *service) Get(ctx context.Context, id int64) (*Snapshot, error) {
	dbc := dbctx.Context{Ctx: ctx}
	entry, err := s.repo.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	snap := s.snapshot(ctx, entry)
	return &snap, nil
}

func (s *service) Delete(ctx context.Context, id int64) error {
	dbc := dbctx.Context{Ctx: ctx}
	if err := s.repo.Delete(dbc, id); err != nil {
		return err
	}
	s.log.Info("Memory entry deleted", "memory_id", id)
	return nil
}

func (s *service) Clear(ctx context.Context) (int64, error) {
	dbc := dbctx.Context{Ctx: ctx}
	n, err := s.repo.Clear(dbc)
	if err != nil {
		return 0, err
	}
	s.log.Info("Memory cleared", "deleted", n)
	return n, nil
}

func (s *service) Stats(ctx context.Context) (*memrepo.Stats, error) {
	dbc := dbctx.Context{Ctx: ctx}
	return s.repo.Stats(dbc, s.cfg.StatsTopN)
}

func (s *service) snapshot(ctx context.Context, entry *types.MemoryEntry) Snapshot {
	snap := Snapshot{
		Entry:       entry,
		References:  decodeList[string](entry.Refs),
		ChunkIDs:    decodeList[int64](entry.ChunkIDs),
		Entities:    decodeList[graphstore.EntityHit](entry.Entities),
		Communities: decodeList[graphstore.CommunityHit](entry.Communities),
		Chunks:      []*types.DocumentChunk{},
	}
	if len(snap.ChunkIDs) == 0 {
		return snap
	}
	rows, err := s.chunks.GetByIDs(dbctx.Context{Ctx: ctx}, snap.ChunkIDs)
	if err != nil {
		s.log.Warn("Memory chunk re-fetch failed", "memory_id", entry.ID, "error", err.Error())
		return snap
	}
	snap.Chunks = rows
	return snap
}

func (s *service) observeLookup(result string) {
	if m := observability.Current(); m != nil {
		m.ObserveMemoryLookup(result)
	}
}

func mustJSON(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil || len(b) == 0 || string(b) == "null" {
		return datatypes.JSON([]byte(`[]`))
	}
	return datatypes.JSON(b)
}

// decodeList decodes a jsonb array column, degrading bad or null payloads to
// an empty (never nil) slice.
func decodeList[T any](raw datatypes.JSON) []T {
	out := []T{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	if out == nil {
		out = []T{}
	}
	return out
}
