package dialog

import (
	"time"

	"gorm.io/datatypes"
)

// ThreadMessage is one append-only turn in a feedback thread. Refs and
// ChunkIDs carry the retrieval evidence for assistant turns.
type ThreadMessage struct {
	ID         int64         `gorm:"primaryKey;autoIncrement" json:"id"`
	FeedbackID int64         `gorm:"column:feedback_id;not null;index" json:"feedback_id"`
	Feedback   *UserFeedback `gorm:"constraint:OnDelete:CASCADE;foreignKey:FeedbackID;references:ID" json:"-"`

	Message string `gorm:"column:message;type:text;not null" json:"message"`
	IsUser  bool   `gorm:"column:is_user;not null;default:false" json:"is_user"`

	Refs     datatypes.JSON `gorm:"type:jsonb;column:refs;not null;default:'[]'" json:"refs,omitempty"`
	ChunkIDs datatypes.JSON `gorm:"type:jsonb;column:chunk_ids;not null;default:'[]'" json:"chunk_ids,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
}

func (ThreadMessage) TableName() string { return "thread_messages" }
