package graph

import (
	"strconv"
	"time"

	"gorm.io/datatypes"
)

// Node kinds written by the graph builder.
const (
	NodeKindEntity = "entity"
	NodeKindChunk  = "chunk"
)

// ChunkNodeID is the node id the graph builder assigns to a document chunk.
// Entity nodes use the entity name itself.
func ChunkNodeID(chunkID int64) string {
	return "chunk_" + strconv.FormatInt(chunkID, 10)
}

// Node is one vertex of a graph build. Builds are immutable snapshots keyed
// by processing_ts; readers always use the latest snapshot.
type Node struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	NodeID       string    `gorm:"column:node_id;type:text;not null;index:idx_graph_nodes_node_ts,unique,priority:1" json:"node_id"`
	Kind         string    `gorm:"column:kind;type:text;not null;index" json:"kind"`
	EntityType   string    `gorm:"column:entity_type;type:text;not null;default:''" json:"entity_type,omitempty"`
	Text         string    `gorm:"column:text;type:text;not null;default:''" json:"text,omitempty"`
	Source       string    `gorm:"column:source;type:text;not null;default:''" json:"source,omitempty"`
	ProcessingTS time.Time `gorm:"column:processing_ts;not null;index;index:idx_graph_nodes_node_ts,unique,priority:2" json:"processing_ts"`
}

func (Node) TableName() string { return "graph_nodes" }

type Edge struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SourceID     string    `gorm:"column:source_id;type:text;not null;index;index:idx_graph_edges_src_dst_rel_ts,unique,priority:1" json:"source_id"`
	TargetID     string    `gorm:"column:target_id;type:text;not null;index;index:idx_graph_edges_src_dst_rel_ts,unique,priority:2" json:"target_id"`
	Relation     string    `gorm:"column:relation;type:text;not null;default:'';index:idx_graph_edges_src_dst_rel_ts,unique,priority:3" json:"relation,omitempty"`
	Weight       float64   `gorm:"column:weight;not null;default:1.0" json:"weight"`
	ProcessingTS time.Time `gorm:"column:processing_ts;not null;index;index:idx_graph_edges_src_dst_rel_ts,unique,priority:4" json:"processing_ts"`
}

func (Edge) TableName() string { return "graph_edges" }

// CommunitySummary is an LLM-written digest of one detected community.
// Entities and Relations are JSON string arrays.
type CommunitySummary struct {
	ID            int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	CommunityID   int            `gorm:"column:community_id;not null;index" json:"community_id"`
	Summary       string         `gorm:"column:summary;type:text;not null" json:"summary"`
	Entities      datatypes.JSON `gorm:"type:jsonb;column:entities;not null;default:'[]'" json:"entities"`
	Relations     datatypes.JSON `gorm:"type:jsonb;column:relations;not null;default:'[]'" json:"relations"`
	EntityCount   int            `gorm:"column:entity_count;not null;default:0" json:"entity_count"`
	RelationCount int            `gorm:"column:relation_count;not null;default:0" json:"relation_count"`
	ProcessingTS  time.Time      `gorm:"column:processing_ts;not null;index" json:"processing_ts"`
}

func (CommunitySummary) TableName() string { return "community_summaries" }
