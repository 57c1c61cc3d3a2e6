package graphstore

import (
	"github.com/consilience-ai/consilience-backend/internal/pkg/dbctx"
)

// EntityHit is an entity adjacent to the requested chunks, scored by the sum
// of incident edge weights in the latest graph snapshot. The json tags match
// the response envelope; the same shape is persisted in memory_entries.
type EntityHit struct {
	Entity     string  `json:"entity"`
	EntityType string  `json:"entity_type,omitempty"`
	Relevance  float64 `json:"relevance"`
}

// CommunityHit is a community containing at least one requested entity.
// Relevance is the fraction of the requested entities the community covers.
type CommunityHit struct {
	CommunityID int      `json:"community_id"`
	Summary     string   `json:"summary"`
	Entities    []string `json:"entities"`
	Relevance   float64  `json:"relevance"`
	EntityCount int      `json:"entity_count"`
}

// Reader serves graph lookups against the latest processing-timestamp view.
// Implementations exist for Postgres (default) and Neo4j (GRAPH_PROVIDER).
type Reader interface {
	EntitiesForChunks(dbc dbctx.Context, chunkIDs []int64, limit int) ([]EntityHit, error)
	CommunitiesForEntities(dbc dbctx.Context, entities []string, limit int) ([]CommunityHit, error)
}
