package corpus

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// UnknownSource is the descriptor for chunks whose metadata names no source.
const UnknownSource = "Unknown source"

// DocumentChunk is an ingested text fragment. The ingestion pipeline owns
// writes; the query core only reads.
type DocumentChunk struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Text       string         `gorm:"column:text;type:text;not null" json:"text"`
	SourceMeta datatypes.JSON `gorm:"type:jsonb;column:source_meta;not null;default:'{}'" json:"source_meta"`
	CreatedAt  time.Time      `gorm:"not null;default:now();index" json:"created_at"`
}

func (DocumentChunk) TableName() string { return "document_chunks" }

// Source reads the human-readable source descriptor out of SourceMeta.
func (c *DocumentChunk) Source() string {
	if c == nil || len(c.SourceMeta) == 0 {
		return UnknownSource
	}
	var meta map[string]any
	if err := json.Unmarshal(c.SourceMeta, &meta); err != nil {
		return UnknownSource
	}
	if s, ok := meta["source"].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	return UnknownSource
}
