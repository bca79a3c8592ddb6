package summaries

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Summary statuses.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusPartial    = "partial"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusPartial, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// SummarySection is one generated template section. A failed section keeps
// its slot with ErrorMessage set and empty content.
type SummarySection struct {
	Title           string    `json:"title"`
	Order           int       `json:"order"`
	Required        bool      `json:"required"`
	Content         string    `json:"content"`
	SourceChunks    int       `json:"source_chunks"`
	SourceChunkIDs  []string  `json:"source_chunk_ids,omitempty"`
	PagesReferenced []int     `json:"pages_referenced"`
	WordCount       int       `json:"word_count"`
	GeneratedAt     time.Time `json:"generated_at"`
	ErrorMessage    string    `json:"error_message,omitempty"`
}

func (s SummarySection) Failed() bool { return s.ErrorMessage != "" }

type Metadata struct {
	TotalPages                int      `json:"total_pages"`
	TotalWords                int      `json:"total_words"`
	TotalChunks               int      `json:"total_chunks"`
	EmbeddingCount            int      `json:"embedding_count"`
	ProcessingDurationSeconds float64  `json:"processing_duration_seconds"`
	EstimatedCost             float64  `json:"estimated_cost"`
	TokensIn                  int      `json:"tokens_in"`
	TokensOut                 int      `json:"tokens_out"`
	FailedSections            []string `json:"failed_sections,omitempty"`
	Model                     string   `json:"model,omitempty"`
}

type Summary struct {
	ID           uuid.UUID                           `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID  uuid.UUID                           `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	DocumentID   uuid.UUID                           `gorm:"type:uuid;not null;index" json:"document_id"`
	TemplateID   uuid.UUID                           `gorm:"type:uuid;not null;index" json:"template_id"`
	JobID        *uuid.UUID                          `gorm:"type:uuid;column:job_id" json:"job_id,omitempty"`
	Status       string                              `gorm:"column:status;not null;index" json:"status"`
	Sections     datatypes.JSONSlice[SummarySection] `gorm:"column:sections" json:"sections"`
	Metadata     datatypes.JSONType[Metadata]        `gorm:"column:metadata" json:"metadata"`
	ErrorMessage string                              `gorm:"column:error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time                           `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time                           `gorm:"not null" json:"updated_at"`
}

func (Summary) TableName() string { return "summary" }

func (s *Summary) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
