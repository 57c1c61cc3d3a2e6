package corpus

import (
	"github.com/pgvector/pgvector-go"
)

// DefaultEmbeddingDim matches text-embedding-3-small. The table is created
// with the dimension derived from EMBEDDING_MODEL at migration time.
const DefaultEmbeddingDim = 1536

// ChunkEmbedding is the 1:1 vector row for a chunk. The table is owned by raw
// DDL (vector width is config-dependent), not by AutoMigrate.
type ChunkEmbedding struct {
	ChunkID   int64           `gorm:"column:chunk_id;primaryKey" json:"chunk_id"`
	Embedding pgvector.Vector `gorm:"column:embedding" json:"-"`
}

func (ChunkEmbedding) TableName() string { return "chunk_embeddings" }
