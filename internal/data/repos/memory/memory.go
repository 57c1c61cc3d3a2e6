package memory

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/consilience-ai/consilience-backend/internal/domain"
	"github.com/consilience-ai/consilience-backend/internal/pkg/dbctx"
	pkgerrors "github.com/consilience-ai/consilience-backend/internal/pkg/errors"
	"github.com/consilience-ai/consilience-backend/internal/platform/logger"
)

// SemanticHit is a near-duplicate memory entry with its cosine similarity to
// the probe embedding.
type SemanticHit struct {
	Entry      *types.MemoryEntry
	Similarity float64
}

// EntrySummary is the stats projection of one entry.
type EntrySummary struct {
	ID          int64     `json:"id"`
	Query       string    `json:"query"`
	AccessCount int       `json:"access_count"`
	CreatedAt   time.Time `json:"created_at"`
}

type Stats struct {
	TotalEntries int64          `json:"total_entries"`
	MostAccessed []EntrySummary `json:"most_accessed"`
	Recent       []EntrySummary `json:"recent"`
}

type Repo interface {
	// LookupExact returns (nil, nil) on miss.
	LookupExact(dbc dbctx.Context, normalized string) (*types.MemoryEntry, error)
	// LookupSemantic returns the single most similar entry at or above
	// threshold, ties broken by recency; (nil, nil) on miss.
	LookupSemantic(dbc dbctx.Context, queryVec []float32, threshold float64) (*SemanticHit, error)
	Insert(dbc dbctx.Context, row *types.MemoryEntry) error
	Touch(dbc dbctx.Context, id int64) error
	GetByID(dbc dbctx.Context, id int64) (*types.MemoryEntry, error)
	Delete(dbc dbctx.Context, id int64) error
	Clear(dbc dbctx.Context) (int64, error)
	Stats(dbc dbctx.Context, topN int) (*Stats, error)
}

type memoryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRepo(db *gorm.DB, log *logger.Logger) Repo {
	return &memoryRepo{db: db, log: log.With("repo", "MemoryRepo")}
}

func (r *memoryRepo) LookupExact(dbc dbctx.Context, normalized string) (*types.MemoryEntry, error) {
	if strings.TrimSpace(normalized) == "" {
		return nil, fmt.Errorf("%w: empty normalized text", pkgerrors.ErrInvalidArgument)
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out types.MemoryEntry
	err := txx.WithContext(dbc.Ctx).
		Where("normalized_text = ?", normalized).
		Take(&out).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

type semanticRow struct {
	ID             int64          `gorm:"column:id"`
	QueryText      string         `gorm:"column:query_text"`
	NormalizedText string         `gorm:"column:normalized_text"`
	Answer         string         `gorm:"column:answer"`
	Refs           datatypes.JSON `gorm:"column:refs"`
	ChunkIDs       datatypes.JSON `gorm:"column:chunk_ids"`
	Entities       datatypes.JSON `gorm:"column:entities"`
	Communities    datatypes.JSON `gorm:"column:communities"`
	AccessCount    int            `gorm:"column:access_count"`
	CreatedAt      time.Time      `gorm:"column:created_at"`
	LastAccessed   time.Time      `gorm:"column:last_accessed"`
	Similarity     float64        `gorm:"column:similarity"`
}

func (r *memoryRepo) LookupSemantic(dbc dbctx.Context, queryVec []float32, threshold float64) (*SemanticHit, error) {
	if len(queryVec) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", pkgerrors.ErrInvalidArgument)
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}

	vec := pgvector.NewVector(queryVec)
	var rows []semanticRow
	if err := txx.WithContext(dbc.Ctx).Raw(`
		SELECT id, query_text, normalized_text, answer, refs, chunk_ids,
		       entities, communities, access_count, created_at, last_accessed,
		       1 - (query_embedding <=> ?) AS similarity
		FROM memory_entries
		WHERE query_embedding IS NOT NULL
		  AND 1 - (query_embedding <=> ?) >= ?
		ORDER BY query_embedding <=> ?, last_accessed DESC
		LIMIT 1
	`, vec, vec, threshold, vec).Scan(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	row := rows[0]
	return &SemanticHit{
		Entry: &types.MemoryEntry{
			ID:             row.ID,
			QueryText:      row.QueryText,
			NormalizedText: row.NormalizedText,
			Answer:         row.Answer,
			Refs:           row.Refs,
			ChunkIDs:       row.ChunkIDs,
			Entities:       row.Entities,
			Communities:    row.Communities,
			AccessCount:    row.AccessCount,
			CreatedAt:      row.CreatedAt,
			LastAccessed:   row.LastAccessed,
		},
		Similarity: row.Similarity,
	}, nil
}

func (r *memoryRepo) Insert(dbc dbctx.Context, row *types.MemoryEntry) error {
	if row == nil {
		return fmt.Errorf("%w: nil entry", pkgerrors.ErrInvalidArgument)
	}
	if strings.TrimSpace(row.NormalizedText) == "" {
		return fmt.Errorf("%w: empty normalized text", pkgerrors.ErrInvalidArgument)
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	now := time.Now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	if row.LastAccessed.IsZero() {
		row.LastAccessed = now
	}
	if len(row.Refs) == 0 {
		row.Refs = datatypes.JSON([]byte(`[]`))
	}
	if len(row.ChunkIDs) == 0 {
		row.ChunkIDs = datatypes.JSON([]byte(`[]`))
	}
	if len(row.Entities) == 0 {
		row.Entities = datatypes.JSON([]byte(`[]`))
	}
	if len(row.Communities) == 0 {
		row.Communities = datatypes.JSON([]byte(`[]`))
	}
	if err := txx.WithContext(dbc.Ctx).Create(row).Error; err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: memory entry for %q", pkgerrors.ErrConflict, row.NormalizedText)
		}
		return err
	}
	return nil
}

func (r *memoryRepo) Touch(dbc dbctx.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: missing id", pkgerrors.ErrInvalidArgument)
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).
		Model(&types.MemoryEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"access_count":  gorm.Expr("access_count + 1"),
			"last_accessed": time.Now().UTC(),
		}).Error
}

func (r *memoryRepo) GetByID(dbc dbctx.Context, id int64) (*types.MemoryEntry, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: missing id", pkgerrors.ErrInvalidArgument)
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out types.MemoryEntry
	if err := txx.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Take(&out).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("%w: memory entry %d", pkgerrors.ErrNotFound, id)
		}
		return nil, err
	}
	return &out, nil
}

func (r *memoryRepo) Delete(dbc dbctx.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: missing id", pkgerrors.ErrInvalidArgument)
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	res := txx.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Delete(&types.MemoryEntry{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: memory entry %d", pkgerrors.ErrNotFound, id)
	}
	return nil
}

func (r *memoryRepo) Clear(dbc dbctx.Context) (int64, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	res := txx.WithContext(dbc.Ctx).
		Where("1 = 1").
		Delete(&types.MemoryEntry{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *memoryRepo) Stats(dbc dbctx.Context, topN int) (*Stats, error) {
	if topN <= 0 {
		topN = 5
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}

	out := &Stats{MostAccessed: []EntrySummary{}, Recent: []EntrySummary{}}
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.MemoryEntry{}).
		Count(&out.TotalEntries).Error; err != nil {
		return nil, err
	}

	if err := txx.WithContext(dbc.Ctx).
		Model(&types.MemoryEntry{}).
		Select("id, query_text AS query, access_count, created_at").
		Order("access_count DESC, id ASC").
		Limit(topN).
		Scan(&out.MostAccessed).Error; err != nil {
		return nil, err
	}

	if err := txx.WithContext(dbc.Ctx).
		Model(&types.MemoryEntry{}).
		Select("id, query_text AS query, access_count, created_at").
		Order("created_at DESC, id DESC").
		Limit(topN).
		Scan(&out.Recent).Error; err != nil {
		return nil, err
	}

	return out, nil
}

// IsUniqueViolation reports whether err is a Postgres duplicate-key error,
// including wrapped errors that lost the pgconn type.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(strings.ToLower(err.Error()), "sqlstate 23505")
}
