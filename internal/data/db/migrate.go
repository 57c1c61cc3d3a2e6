package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/consilience-ai/consilience-backend/internal/domain"
	"github.com/consilience-ai/consilience-backend/internal/domain/corpus"
)

// AutoMigrateAll creates the query-core schema. The two tables carrying
// vector columns are owned by raw DDL (their width depends on the embedding
// model); everything else goes through gorm's migrator. Order matters:
// dialog tables reference memory_entries.
func AutoMigrateAll(db *gorm.DB, embedDim int) error {
	if err := db.AutoMigrate(
		&types.DocumentChunk{},
		&types.GraphNode{},
		&types.GraphEdge{},
		&types.CommunitySummary{},
	); err != nil {
		return fmt.Errorf("migrate corpus/graph tables: %w", err)
	}
	if err := EnsureVectorSchema(db, embedDim); err != nil {
		return err
	}
	if err := db.AutoMigrate(
		&types.UserFeedback{},
		&types.ThreadMessage{},
	); err != nil {
		return fmt.Errorf("migrate dialog tables: %w", err)
	}
	return EnsureQueryIndexes(db)
}

// EnsureVectorSchema creates the embedding-bearing tables at the configured
// vector width. Existing tables are left alone, so the width is fixed at
// first migration.
func EnsureVectorSchema(db *gorm.DB, dim int) error {
	if dim <= 0 {
		dim = corpus.DefaultEmbeddingDim
	}
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS vector;`).Error; err != nil {
		return fmt.Errorf("enable pgvector extension: %w", err)
	}
	if err := db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS chunk_embeddings (
			chunk_id  BIGINT PRIMARY KEY REFERENCES document_chunks(id) ON DELETE CASCADE,
			embedding vector(%d) NOT NULL
		);
	`, dim)).Error; err != nil {
		return fmt.Errorf("create chunk_embeddings: %w", err)
	}
	if err := db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS memory_entries (
			id              BIGSERIAL PRIMARY KEY,
			query_text      TEXT NOT NULL,
			normalized_text TEXT NOT NULL,
			query_embedding vector(%d),
			answer          TEXT NOT NULL,
			refs            JSONB NOT NULL DEFAULT '[]',
			chunk_ids       JSONB NOT NULL DEFAULT '[]',
			entities        JSONB NOT NULL DEFAULT '[]',
			communities     JSONB NOT NULL DEFAULT '[]',
			access_count    INTEGER NOT NULL DEFAULT 0,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_accessed   TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`, dim)).Error; err != nil {
		return fmt.Errorf("create memory_entries: %w", err)
	}
	return nil
}

func EnsureQueryIndexes(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_memory_entries_normalized
		ON memory_entries (normalized_text);
	`).Error; err != nil {
		return fmt.Errorf("create idx_memory_entries_normalized: %w", err)
	}

	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_memory_entries_last_accessed
		ON memory_entries (last_accessed DESC);
	`).Error; err != nil {
		return fmt.Errorf("create idx_memory_entries_last_accessed: %w", err)
	}

	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_memory_entries_access_count
		ON memory_entries (access_count DESC);
	`).Error; err != nil {
		return fmt.Errorf("create idx_memory_entries_access_count: %w", err)
	}

	// Approximate-nearest-neighbor indexes for cosine search. ivfflat keeps
	// exact ORDER BY semantics on small corpora while scaling past them.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_chunk_embeddings_embedding
		ON chunk_embeddings USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100);
	`).Error; err != nil {
		return fmt.Errorf("create idx_chunk_embeddings_embedding: %w", err)
	}

	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_memory_entries_query_embedding
		ON memory_entries USING ivfflat (query_embedding vector_cosine_ops)
		WITH (lists = 100);
	`).Error; err != nil {
		return fmt.Errorf("create idx_memory_entries_query_embedding: %w", err)
	}

	// Message pagination per thread.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_thread_messages_feedback_id
		ON thread_messages (feedback_id, id);
	`).Error; err != nil {
		return fmt.Errorf("create idx_thread_messages_feedback_id: %w", err)
	}

	// Latest-snapshot lookups.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_graph_edges_ts_source
		ON graph_edges (processing_ts, source_id);
	`).Error; err != nil {
		return fmt.Errorf("create idx_graph_edges_ts_source: %w", err)
	}

	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_graph_edges_ts_target
		ON graph_edges (processing_ts, target_id);
	`).Error; err != nil {
		return fmt.Errorf("create idx_graph_edges_ts_target: %w", err)
	}

	return nil
}

func (s *PostgresService) AutoMigrateAll(embedDim int) error {
	s.log.Info("Auto migrating postgres tables...", "embed_dim", embedDim)
	if err := AutoMigrateAll(s.db, embedDim); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	return nil
}
