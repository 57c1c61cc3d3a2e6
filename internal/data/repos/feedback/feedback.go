package feedback

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/consilience-ai/consilience-backend/internal/domain"
	"github.com/consilience-ai/consilience-backend/internal/pkg/dbctx"
	pkgerrors "github.com/consilience-ai/consilience-backend/internal/pkg/errors"
	"github.com/consilience-ai/consilience-backend/internal/platform/logger"
)

// UpsertInput carries the fields a caller wants to change. Nil pointers leave
// the stored value untouched, so repeated partial updates compose.
type UpsertInput struct {
	MemoryID     int64
	FeedbackText *string
	Rating       *int
	IsFavorite   *bool
}

type Repo interface {
	// Upsert creates or partially updates the feedback row keyed by memory_id
	// and returns the stored row.
	Upsert(dbc dbctx.Context, in UpsertInput) (*types.UserFeedback, error)
	GetByID(dbc dbctx.Context, id int64) (*types.UserFeedback, error)
	// GetByMemoryID returns (nil, nil) on miss.
	GetByMemoryID(dbc dbctx.Context, memoryID int64) (*types.UserFeedback, error)
	Favorites(dbc dbctx.Context) ([]*types.UserFeedback, error)
	// MarkThread flips the row into a thread anchor and records its title.
	MarkThread(dbc dbctx.Context, id int64, title string) error
	ListThreads(dbc dbctx.Context) ([]*types.UserFeedback, error)
	LockByID(dbc dbctx.Context, id int64) (*types.UserFeedback, error)
}

type feedbackRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRepo(db *gorm.DB, log *logger.Logger) Repo {
	return &feedbackRepo{db: db, log: log.With("repo", "FeedbackRepo")}
}

func (r *feedbackRepo) Upsert(dbc dbctx.Context, in UpsertInput) (*types.UserFeedback, error) {
	if in.MemoryID <= 0 {
		return nil, fmt.Errorf("%w: missing memory_id", pkgerrors.ErrInvalidArgument)
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}

	existing, err := r.GetByMemoryID(dbc, in.MemoryID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return r.applyUpdates(dbc, existing.ID, in)
	}

	now := time.Now().UTC()
	row := &types.UserFeedback{
		MemoryID:     in.MemoryID,
		FeedbackText: in.FeedbackText,
		Rating:       in.Rating,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if in.IsFavorite != nil {
		row.IsFavorite = *in.IsFavorite
	}
	if err := txx.WithContext(dbc.Ctx).Create(row).Error; err != nil {
		// Lost a create race on the memory_id unique index; the row exists
		// now, so fall through to the update path.
		if isUniqueViolation(err) {
			raced, rerr := r.GetByMemoryID(dbc, in.MemoryID)
			if rerr != nil {
				return nil, rerr
			}
			if raced == nil {
				return nil, err
			}
			return r.applyUpdates(dbc, raced.ID, in)
		}
		return nil, err
	}
	return row, nil
}

func (r *feedbackRepo) applyUpdates(dbc dbctx.Context, id int64, in UpsertInput) (*types.UserFeedback, error) {
	updates := map[string]interface{}{
		"updated_at": time.Now().UTC(),
	}
	if in.FeedbackText != nil {
		updates["feedback_text"] = *in.FeedbackText
	}
	if in.Rating != nil {
		updates["rating"] = *in.Rating
	}
	if in.IsFavorite != nil {
		updates["is_favorite"] = *in.IsFavorite
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.UserFeedback{}).
		Where("id = ?", id).
		Updates(updates).Error; err != nil {
		return nil, err
	}
	return r.GetByID(dbc, id)
}

func (r *feedbackRepo) GetByID(dbc dbctx.Context, id int64) (*types.UserFeedback, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: missing id", pkgerrors.ErrInvalidArgument)
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out types.UserFeedback
	if err := txx.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Take(&out).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("%w: feedback %d", pkgerrors.ErrNotFound, id)
		}
		return nil, err
	}
	return &out, nil
}

func (r *feedbackRepo) GetByMemoryID(dbc dbctx.Context, memoryID int64) (*types.UserFeedback, error) {
	if memoryID <= 0 {
		return nil, fmt.Errorf("%w: missing memory_id", pkgerrors.ErrInvalidArgument)
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out types.UserFeedback
	err := txx.WithContext(dbc.Ctx).
		Where("memory_id = ?", memoryID).
		Take(&out).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *feedbackRepo) Favorites(dbc dbctx.Context) ([]*types.UserFeedback, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	out := []*types.UserFeedback{}
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.UserFeedback{}).
		Where("is_favorite = ?", true).
		Preload("Memory").
		Order("updated_at DESC, id DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *feedbackRepo) MarkThread(dbc dbctx.Context, id int64, title string) error {
	if id <= 0 {
		return fmt.Errorf("%w: missing id", pkgerrors.ErrInvalidArgument)
	}
	updates := map[string]interface{}{
		"is_thread":  true,
		"updated_at": time.Now().UTC(),
	}
	if t := strings.TrimSpace(title); t != "" {
		updates["thread_title"] = t
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	res := txx.WithContext(dbc.Ctx).
		Model(&types.UserFeedback{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: feedback %d", pkgerrors.ErrNotFound, id)
	}
	return nil
}

func (r *feedbackRepo) ListThreads(dbc dbctx.Context) ([]*types.UserFeedback, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	out := []*types.UserFeedback{}
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.UserFeedback{}).
		Where("is_thread = ?", true).
		Preload("Memory").
		Order("updated_at DESC, id DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *feedbackRepo) LockByID(dbc dbctx.Context, id int64) (*types.UserFeedback, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: missing id", pkgerrors.ErrInvalidArgument)
	}
	if dbc.Tx == nil {
		return nil, fmt.Errorf("LockByID required dbc.Tx")
	}
	var out types.UserFeedback
	if err := dbc.Tx.WithContext(dbc.Ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Take(&out).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("%w: feedback %d", pkgerrors.ErrNotFound, id)
		}
		return nil, err
	}
	return &out, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(strings.ToLower(err.Error()), "sqlstate 23505")
}
