package threads

import (
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/consilience-ai/consilience-backend/internal/domain"
	"github.com/consilience-ai/consilience-backend/internal/pkg/dbctx"
	pkgerrors "github.com/consilience-ai/consilience-backend/internal/pkg/errors"
	"github.com/consilience-ai/consilience-backend/internal/platform/logger"
)

type Repo interface {
	// AppendMessages inserts rows in order; assigned ids ascend with slice
	// position, so readers can sort by id.
	AppendMessages(dbc dbctx.Context, rows []*types.ThreadMessage) ([]*types.ThreadMessage, error)
	ListMessages(dbc dbctx.Context, feedbackID int64) ([]*types.ThreadMessage, error)
	CountByFeedbackIDs(dbc dbctx.Context, feedbackIDs []int64) (map[int64]int64, error)
}

type threadMessageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRepo(db *gorm.DB, log *logger.Logger) Repo {
	return &threadMessageRepo{db: db, log: log.With("repo", "ThreadMessageRepo")}
}

func (r *threadMessageRepo) AppendMessages(dbc dbctx.Context, rows []*types.ThreadMessage) ([]*types.ThreadMessage, error) {
	if len(rows) == 0 {
		return []*types.ThreadMessage{}, nil
	}
	for _, row := range rows {
		if row == nil {
			return nil, fmt.Errorf("%w: nil message", pkgerrors.ErrInvalidArgument)
		}
		if row.FeedbackID <= 0 {
			return nil, fmt.Errorf("%w: missing feedback_id", pkgerrors.ErrInvalidArgument)
		}
		if len(row.Refs) == 0 {
			row.Refs = datatypes.JSON([]byte(`[]`))
		}
		if len(row.ChunkIDs) == 0 {
			row.ChunkIDs = datatypes.JSON([]byte(`[]`))
		}
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	if err := txx.WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *threadMessageRepo) ListMessages(dbc dbctx.Context, feedbackID int64) ([]*types.ThreadMessage, error) {
	if feedbackID <= 0 {
		return nil, fmt.Errorf("%w: missing feedback_id", pkgerrors.ErrInvalidArgument)
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	out := []*types.ThreadMessage{}
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.ThreadMessage{}).
		Where("feedback_id = ?", feedbackID).
		Order("id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *threadMessageRepo) CountByFeedbackIDs(dbc dbctx.Context, feedbackIDs []int64) (map[int64]int64, error) {
	out := map[int64]int64{}
	if len(feedbackIDs) == 0 {
		return out, nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var rows []struct {
		FeedbackID int64 `gorm:"column:feedback_id"`
		N          int64 `gorm:"column:n"`
	}
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.ThreadMessage{}).
		Select("feedback_id, COUNT(*) AS n").
		Where("feedback_id IN ?", feedbackIDs).
		Group("feedback_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.FeedbackID] = row.N
	}
	return out, nil
}
