package documents

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Chunk is an immutable span of document text with page/section provenance.
// Order is contiguous from 0 within a document.
type Chunk struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"chunk_id"`
	DocumentID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_chunk_doc_order" json:"document_id"`
	Order          int       `gorm:"column:chunk_order;not null;uniqueIndex:idx_chunk_doc_order" json:"order"`
	Text           string    `gorm:"column:text;type:text;not null" json:"text"`
	PageNumber     int       `gorm:"column:page_number;not null" json:"page_number"`
	PageEnd        int       `gorm:"column:page_end;not null" json:"page_end"`
	SectionHeading string    `gorm:"column:section_heading" json:"section_heading,omitempty"`
	WordCount      int       `gorm:"column:word_count;not null;default:0" json:"word_count"`
	TokenEstimate  int       `gorm:"column:token_estimate;not null;default:0" json:"token_estimate"`
	CreatedAt      time.Time `gorm:"not null" json:"created_at"`
}

func (Chunk) TableName() string { return "chunk" }

func (c *Chunk) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// Pages lists every page the chunk touches.
func (c *Chunk) Pages() []int {
	end := c.PageEnd
	if end < c.PageNumber {
		end = c.PageNumber
	}
	out := make([]int, 0, end-c.PageNumber+1)
	for p := c.PageNumber; p <= end; p++ {
		out = append(out, p)
	}
	return out
}

// Embedding is one-to-one with Chunk.
type Embedding struct {
	ChunkID    uuid.UUID      `gorm:"type:uuid;primaryKey" json:"chunk_id"`
	DocumentID uuid.UUID      `gorm:"type:uuid;not null;index" json:"document_id"`
	Vector     datatypes.JSON `gorm:"column:vector;not null" json:"vector"`
	ModelName  string         `gorm:"column:model_name;not null" json:"model_name"`
	Dimensions int            `gorm:"column:dimensions;not null" json:"dimensions"`
	CreatedAt  time.Time      `gorm:"not null" json:"created_at"`
}

func (Embedding) TableName() string { return "chunk_embedding" }
