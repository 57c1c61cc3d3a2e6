package chunks

import (
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/consilience-ai/consilience-backend/internal/domain"
	"github.com/consilience-ai/consilience-backend/internal/pkg/dbctx"
	pkgerrors "github.com/consilience-ai/consilience-backend/internal/pkg/errors"
	"github.com/consilience-ai/consilience-backend/internal/platform/logger"
)

// MaxSearchK caps a single vector search.
const MaxSearchK = 50

// Hit is one vector-search result. Similarity is cosine, in [-1, 1].
type Hit struct {
	Chunk      *types.DocumentChunk
	Similarity float64
}

type Repo interface {
	GetByID(dbc dbctx.Context, id int64) (*types.DocumentChunk, error)
	GetByIDs(dbc dbctx.Context, ids []int64) ([]*types.DocumentChunk, error)
	VectorSearch(dbc dbctx.Context, queryVec []float32, k int) ([]Hit, error)
	Count(dbc dbctx.Context) (int64, error)
}

type chunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRepo(db *gorm.DB, log *logger.Logger) Repo {
	return &chunkRepo{db: db, log: log.With("repo", "ChunkRepo")}
}

func (r *chunkRepo) GetByID(dbc dbctx.Context, id int64) (*types.DocumentChunk, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: missing chunk id", pkgerrors.ErrInvalidArgument)
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out types.DocumentChunk
	if err := txx.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Take(&out).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("%w: chunk %d", pkgerrors.ErrNotFound, id)
		}
		return nil, err
	}
	return &out, nil
}

// GetByIDs returns the found rows in the order of ids; missing ids are
// silently dropped so memory replays survive chunk deletions.
func (r *chunkRepo) GetByIDs(dbc dbctx.Context, ids []int64) ([]*types.DocumentChunk, error) {
	if len(ids) == 0 {
		return []*types.DocumentChunk{}, nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var rows []*types.DocumentChunk
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.DocumentChunk{}).
		Where("id IN ?", ids).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	byID := make(map[int64]*types.DocumentChunk, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}
	out := make([]*types.DocumentChunk, 0, len(ids))
	for _, id := range ids {
		if row, ok := byID[id]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

type hitRow struct {
	ID         int64          `gorm:"column:id"`
	Text       string         `gorm:"column:text"`
	SourceMeta datatypes.JSON `gorm:"column:source_meta"`
	CreatedAt  time.Time      `gorm:"column:created_at"`
	Similarity float64        `gorm:"column:similarity"`
}

// VectorSearch returns the k nearest chunks by cosine distance. Results come
// back ordered by similarity descending; equal distances tie-break by chunk
// id so repeated searches are stable.
func (r *chunkRepo) VectorSearch(dbc dbctx.Context, queryVec []float32, k int) ([]Hit, error) {
	if len(queryVec) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", pkgerrors.ErrInvalidArgument)
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive", pkgerrors.ErrInvalidArgument)
	}
	if k > MaxSearchK {
		k = MaxSearchK
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}

	vec := pgvector.NewVector(queryVec)
	var rows []hitRow
	if err := txx.WithContext(dbc.Ctx).Raw(`
		SELECT c.id, c.text, c.source_meta, c.created_at,
		       1 - (e.embedding <=> ?) AS similarity
		FROM chunk_embeddings e
		JOIN document_chunks c ON c.id = e.chunk_id
		ORDER BY e.embedding <=> ?, c.id ASC
		LIMIT ?
	`, vec, vec, k).Scan(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]Hit, 0, len(rows))
	for _, row := range rows {
		out = append(out, Hit{
			Chunk: &types.DocumentChunk{
				ID:         row.ID,
				Text:       row.Text,
				SourceMeta: row.SourceMeta,
				CreatedAt:  row.CreatedAt,
			},
			Similarity: row.Similarity,
		})
	}
	return out, nil
}

func (r *chunkRepo) Count(dbc dbctx.Context) (int64, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var n int64
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.DocumentChunk{}).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
