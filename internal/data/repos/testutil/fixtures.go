package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/consilience-ai/consilience-backend/internal/domain"
	"github.com/consilience-ai/consilience-backend/internal/domain/corpus"
)

// Vec builds a full-width embedding whose leading components are the given
// values and the rest zero. Handy for exact cosine expectations.
func Vec(lead ...float32) pgvector.Vector {
	v := make([]float32, corpus.DefaultEmbeddingDim)
	copy(v, lead)
	return pgvector.NewVector(v)
}

func SeedChunk(tb testing.TB, ctx context.Context, tx *gorm.DB, text, source string) *types.DocumentChunk {
	tb.Helper()
	meta, err := json.Marshal(map[string]string{"source": source})
	if err != nil {
		tb.Fatalf("marshal source_meta: %v", err)
	}
	c := &types.DocumentChunk{
		Text:       text,
		SourceMeta: datatypes.JSON(meta),
	}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed chunk: %v", err)
	}
	return c
}

func SeedEmbedding(tb testing.TB, ctx context.Context, tx *gorm.DB, chunkID int64, embedding pgvector.Vector) {
	tb.Helper()
	e := &types.ChunkEmbedding{ChunkID: chunkID, Embedding: embedding}
	if err := tx.WithContext(ctx).Create(e).Error; err != nil {
		tb.Fatalf("seed embedding: %v", err)
	}
}

func SeedEmbeddedChunk(tb testing.TB, ctx context.Context, tx *gorm.DB, text, source string, embedding pgvector.Vector) *types.DocumentChunk {
	tb.Helper()
	c := SeedChunk(tb, ctx, tx, text, source)
	SeedEmbedding(tb, ctx, tx, c.ID, embedding)
	return c
}

func SeedGraphNode(tb testing.TB, ctx context.Context, tx *gorm.DB, nodeID, kind, entityType string, ts time.Time) *types.GraphNode {
	tb.Helper()
	n := &types.GraphNode{
		NodeID:       nodeID,
		Kind:         kind,
		EntityType:   entityType,
		ProcessingTS: ts,
	}
	if err := tx.WithContext(ctx).Create(n).Error; err != nil {
		tb.Fatalf("seed graph node: %v", err)
	}
	return n
}

func SeedGraphEdge(tb testing.TB, ctx context.Context, tx *gorm.DB, sourceID, targetID, relation string, weight float64, ts time.Time) *types.GraphEdge {
	tb.Helper()
	e := &types.GraphEdge{
		SourceID:     sourceID,
		TargetID:     targetID,
		Relation:     relation,
		Weight:       weight,
		ProcessingTS: ts,
	}
	if err := tx.WithContext(ctx).Create(e).Error; err != nil {
		tb.Fatalf("seed graph edge: %v", err)
	}
	return e
}

func SeedCommunity(tb testing.TB, ctx context.Context, tx *gorm.DB, communityID int, summary string, entities []string, ts time.Time) *types.CommunitySummary {
	tb.Helper()
	if entities == nil {
		entities = []string{}
	}
	ents, err := json.Marshal(entities)
	if err != nil {
		tb.Fatalf("marshal entities: %v", err)
	}
	c := &types.CommunitySummary{
		CommunityID:  communityID,
		Summary:      summary,
		Entities:     datatypes.JSON(ents),
		Relations:    datatypes.JSON([]byte(`[]`)),
		EntityCount:  len(entities),
		ProcessingTS: ts,
	}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed community: %v", err)
	}
	return c
}

// SeedMemoryEntryRow builds an unsaved entry for insert-path tests.
func SeedMemoryEntryRow(query, normalized, answer string, embedding pgvector.Vector) *types.MemoryEntry {
	now := time.Now().UTC()
	return &types.MemoryEntry{
		QueryText:      query,
		NormalizedText: normalized,
		QueryEmbedding: embedding,
		Answer:         answer,
		Refs:           datatypes.JSON([]byte(`[]`)),
		ChunkIDs:       datatypes.JSON([]byte(`[]`)),
		Entities:       datatypes.JSON([]byte(`[]`)),
		Communities:    datatypes.JSON([]byte(`[]`)),
		LastAccessed:   now,
	}
}

func SeedMemoryEntry(tb testing.TB, ctx context.Context, tx *gorm.DB, query, normalized, answer string, embedding pgvector.Vector) *types.MemoryEntry {
	tb.Helper()
	m := SeedMemoryEntryRow(query, normalized, answer, embedding)
	if err := tx.WithContext(ctx).Create(m).Error; err != nil {
		tb.Fatalf("seed memory entry: %v", err)
	}
	return m
}

func PtrString(v string) *string { return &v }

func PtrInt(v int) *int { return &v }

func PtrBool(v bool) *bool { return &v }
