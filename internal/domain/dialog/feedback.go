package dialog

import (
	"time"

	"github.com/consilience-ai/consilience-backend/internal/domain/memory"
)

// UserFeedback annotates one memory entry (rating, favorite flag) and doubles
// as the thread anchor: a row with IsThread=true owns thread_messages.
type UserFeedback struct {
	ID       int64         `gorm:"primaryKey;autoIncrement" json:"id"`
	MemoryID int64         `gorm:"column:memory_id;not null;uniqueIndex" json:"memory_id"`
	Memory   *memory.Entry `gorm:"constraint:OnDelete:CASCADE;foreignKey:MemoryID;references:ID" json:"-"`

	FeedbackText *string `gorm:"column:feedback_text;type:text" json:"feedback_text,omitempty"`
	Rating       *int    `gorm:"column:rating" json:"rating,omitempty"`
	IsFavorite   bool    `gorm:"column:is_favorite;not null;default:false;index" json:"is_favorite"`

	IsThread    bool    `gorm:"column:is_thread;not null;default:false;index" json:"is_thread"`
	ThreadTitle *string `gorm:"column:thread_title;type:text" json:"thread_title,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (UserFeedback) TableName() string { return "user_feedback" }
