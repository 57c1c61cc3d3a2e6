package graphstore

import (
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/consilience-ai/consilience-backend/internal/data/db"
	"github.com/consilience-ai/consilience-backend/internal/domain/graph"
	"github.com/consilience-ai/consilience-backend/internal/pkg/dbctx"
	"github.com/consilience-ai/consilience-backend/internal/platform/logger"
)

// neo4jReader serves the same latest-view contract against the bolt
// projection the graph builder maintains: (:Chunk {node_id}) and
// (:Entity {name, type}) joined by weighted relationships, plus
// (:Community {id, summary, entities}).
type neo4jReader struct {
	client *db.Neo4jClient
	log    *logger.Logger
}

func NewNeo4jReader(client *db.Neo4jClient, log *logger.Logger) (Reader, error) {
	if client == nil || client.Driver == nil {
		return nil, fmt.Errorf("graphstore: neo4j client not configured")
	}
	return &neo4jReader{client: client, log: log.With("repo", "GraphStoreNeo4j")}, nil
}

func (r *neo4jReader) EntitiesForChunks(dbc dbctx.Context, chunkIDs []int64, limit int) ([]EntityHit, error) {
	if len(chunkIDs) == 0 {
		return []EntityHit{}, nil
	}
	if limit <= 0 {
		limit = 10
	}

	nodeIDs := make([]string, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		nodeIDs = append(nodeIDs, graph.ChunkNodeID(id))
	}

	session := r.client.Driver.NewSession(dbc.Ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: r.client.Database,
	})
	defer session.Close(dbc.Ctx)

	out, err := session.ExecuteRead(dbc.Ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(dbc.Ctx, `
MATCH (c:Chunk)-[rel]-(e:Entity)
WHERE c.node_id IN $node_ids
RETURN e.name AS entity,
       coalesce(e.type, '') AS entity_type,
       sum(coalesce(rel.weight, 1.0)) AS relevance
ORDER BY relevance DESC, entity ASC
LIMIT $limit
`, map[string]any{"node_ids": nodeIDs, "limit": limit})
		if err != nil {
			return nil, err
		}
		hits := []EntityHit{}
		for res.Next(dbc.Ctx) {
			rec := res.Record()
			hit := EntityHit{}
			if v, ok := rec.Get("entity"); ok {
				hit.Entity, _ = v.(string)
			}
			if v, ok := rec.Get("entity_type"); ok {
				hit.EntityType, _ = v.(string)
			}
			if v, ok := rec.Get("relevance"); ok {
				hit.Relevance = asFloat(v)
			}
			hits = append(hits, hit)
		}
		return hits, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return out.([]EntityHit), nil
}

func (r *neo4jReader) CommunitiesForEntities(dbc dbctx.Context, entities []string, limit int) ([]CommunityHit, error) {
	if len(entities) == 0 {
		return []CommunityHit{}, nil
	}
	if limit <= 0 {
		limit = 5
	}

	session := r.client.Driver.NewSession(dbc.Ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: r.client.Database,
	})
	defer session.Close(dbc.Ctx)

	out, err := session.ExecuteRead(dbc.Ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(dbc.Ctx, `
MATCH (cm:Community)
WITH cm, size([e IN cm.entities WHERE e IN $entities]) AS matched
WHERE matched > 0
RETURN cm.id AS community_id,
       coalesce(cm.summary, '') AS summary,
       cm.entities AS entities,
       size(cm.entities) AS entity_count,
       toFloat(matched) / $requested AS relevance
ORDER BY relevance DESC, community_id ASC
LIMIT $limit
`, map[string]any{
			"entities":  entities,
			"requested": float64(len(entities)),
			"limit":     limit,
		})
		if err != nil {
			return nil, err
		}
		hits := []CommunityHit{}
		for res.Next(dbc.Ctx) {
			rec := res.Record()
			hit := CommunityHit{Entities: []string{}}
			if v, ok := rec.Get("community_id"); ok {
				hit.CommunityID = int(asInt(v))
			}
			if v, ok := rec.Get("summary"); ok {
				hit.Summary, _ = v.(string)
			}
			if v, ok := rec.Get("entities"); ok {
				hit.Entities = asStrings(v)
			}
			if v, ok := rec.Get("entity_count"); ok {
				hit.EntityCount = int(asInt(v))
			}
			if v, ok := rec.Get("relevance"); ok {
				hit.Relevance = asFloat(v)
			}
			hits = append(hits, hit)
		}
		return hits, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return out.([]CommunityHit), nil
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	default:
		return 0
	}
}

func asInt(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func asStrings(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
