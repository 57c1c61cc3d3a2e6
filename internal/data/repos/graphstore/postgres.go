package graphstore

import (
	"encoding/json"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/consilience-ai/consilience-backend/internal/domain/graph"
	"github.com/consilience-ai/consilience-backend/internal/pkg/dbctx"
	"github.com/consilience-ai/consilience-backend/internal/platform/logger"
)

type postgresReader struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresReader(db *gorm.DB, log *logger.Logger) Reader {
	return &postgresReader{db: db, log: log.With("repo", "GraphStorePostgres")}
}

func (r *postgresReader) EntitiesForChunks(dbc dbctx.Context, chunkIDs []int64, limit int) ([]EntityHit, error) {
	if len(chunkIDs) == 0 {
		return []EntityHit{}, nil
	}
	if limit <= 0 {
		limit = 10
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}

	nodeIDs := make([]string, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		nodeIDs = append(nodeIDs, graph.ChunkNodeID(id))
	}

	var hits []EntityHit
	if err := txx.WithContext(dbc.Ctx).Raw(`
		WITH latest_edges AS (
			SELECT source_id, target_id, weight
			FROM graph_edges
			WHERE processing_ts = (SELECT max(processing_ts) FROM graph_edges)
		),
		latest_nodes AS (
			SELECT node_id, kind, entity_type
			FROM graph_nodes
			WHERE processing_ts = (SELECT max(processing_ts) FROM graph_nodes)
		),
		incident AS (
			SELECT CASE WHEN e.source_id IN ? THEN e.target_id ELSE e.source_id END AS node_id,
			       e.weight
			FROM latest_edges e
			WHERE e.source_id IN ? OR e.target_id IN ?
		)
		SELECT n.node_id AS entity, n.entity_type AS entity_type, SUM(i.weight) AS relevance
		FROM incident i
		JOIN latest_nodes n ON n.node_id = i.node_id AND n.kind = 'entity'
		GROUP BY n.node_id, n.entity_type
		ORDER BY relevance DESC, entity ASC
		LIMIT ?
	`, nodeIDs, nodeIDs, nodeIDs, limit).Scan(&hits).Error; err != nil {
		return nil, err
	}
	if hits == nil {
		hits = []EntityHit{}
	}
	return hits, nil
}

func (r *postgresReader) CommunitiesForEntities(dbc dbctx.Context, entities []string, limit int) ([]CommunityHit, error) {
	if len(entities) == 0 {
		return []CommunityHit{}, nil
	}
	if limit <= 0 {
		limit = 5
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}

	var rows []communityRow
	if err := txx.WithContext(dbc.Ctx).Raw(`
		WITH latest AS (
			SELECT community_id, summary, entities, entity_count
			FROM community_summaries
			WHERE processing_ts = (SELECT max(processing_ts) FROM community_summaries)
		),
		scored AS (
			SELECT community_id, summary, entities, entity_count,
			       (SELECT count(*)
			        FROM jsonb_array_elements_text(entities) AS member(name)
			        WHERE member.name IN ?) AS matched
			FROM latest
		)
		SELECT community_id, summary, entities, entity_count,
		       matched::float8 / ? AS relevance
		FROM scored
		WHERE matched > 0
		ORDER BY relevance DESC, community_id ASC
		LIMIT ?
	`, entities, float64(len(entities)), limit).Scan(&rows).Error; err != nil {
		return nil, err
	}

	hits := make([]CommunityHit, 0, len(rows))
	for _, row := range rows {
		members := []string{}
		if len(row.Entities) > 0 {
			// Malformed member lists degrade to empty, never fail the read.
			_ = json.Unmarshal(row.Entities, &members)
		}
		hits = append(hits, CommunityHit{
			CommunityID: row.CommunityID,
			Summary:     row.Summary,
			Entities:    members,
			Relevance:   row.Relevance,
			EntityCount: row.EntityCount,
		})
	}
	return hits, nil
}

type communityRow struct {
	CommunityID int            `gorm:"column:community_id"`
	Summary     string         `gorm:"column:summary"`
	Entities    datatypes.JSON `gorm:"column:entities"`
	EntityCount int            `gorm:"column:entity_count"`
	Relevance   float64        `gorm:"column:relevance"`
}
