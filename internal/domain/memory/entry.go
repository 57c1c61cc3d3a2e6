package memory

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// Entry is one remembered query/answer pair. NormalizedText carries a unique
// index so concurrent identical misses converge on a single row. The table is
// owned by raw DDL (vector width is config-dependent), not by AutoMigrate.
type Entry struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	QueryText      string          `gorm:"column:query_text;type:text;not null" json:"query_text"`
	NormalizedText string          `gorm:"column:normalized_text;type:text;not null;uniqueIndex:idx_memory_entries_normalized" json:"normalized_text"`
	QueryEmbedding pgvector.Vector `gorm:"column:query_embedding" json:"-"`
	Answer         string          `gorm:"column:answer;type:text;not null" json:"answer"`

	Refs        datatypes.JSON `gorm:"type:jsonb;column:refs;not null;default:'[]'" json:"refs"`
	ChunkIDs    datatypes.JSON `gorm:"type:jsonb;column:chunk_ids;not null;default:'[]'" json:"chunk_ids"`
	Entities    datatypes.JSON `gorm:"type:jsonb;column:entities;not null;default:'[]'" json:"entities"`
	Communities datatypes.JSON `gorm:"type:jsonb;column:communities;not null;default:'[]'" json:"communities"`

	AccessCount  int       `gorm:"column:access_count;not null;default:0" json:"access_count"`
	CreatedAt    time.Time `gorm:"not null;default:now();index" json:"created_at"`
	LastAccessed time.Time `gorm:"column:last_accessed;not null;default:now();index" json:"last_accessed"`
}

func (Entry) TableName() string { return "memory_entries" }
