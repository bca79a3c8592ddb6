package documents

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Document statuses.
const (
	StatusUploaded         = "uploaded"
	StatusExtracting       = "extracting"
	StatusChunked          = "chunked"
	StatusIndexed          = "indexed"
	StatusPartiallyIndexed = "partially_indexed"
	StatusFailed           = "failed"
)

// Document is the raw PDF reference. After chunking only status and the
// indexing counters change.
type Document struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID    uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	Filename       string    `gorm:"column:filename;not null" json:"filename"`
	ObjectKey      string    `gorm:"column:object_key;not null" json:"object_key"`
	ContentType    string    `gorm:"column:content_type" json:"content_type,omitempty"`
	SizeBytes      int64     `gorm:"column:size_bytes;not null;default:0" json:"size_bytes"`
	PageCount      int       `gorm:"column:page_count;not null;default:0" json:"page_count"`
	TotalWords     int       `gorm:"column:total_words;not null;default:0" json:"total_words"`
	ChunkCount     int       `gorm:"column:chunk_count;not null;default:0" json:"chunk_count"`
	EmbeddingCount int       `gorm:"column:embedding_count;not null;default:0" json:"embedding_count"`
	Status         string    `gorm:"column:status;not null;index" json:"status"`
	ErrorMessage   string    `gorm:"column:error_message" json:"error_message,omitempty"`
	CreatedAt      time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time `gorm:"not null" json:"updated_at"`

	// LeaseJobID is the job currently writing chunks or embeddings.
	LeaseJobID *uuid.UUID `gorm:"type:uuid;column:lease_job_id;index" json:"-"`
	LeaseAt    *time.Time `gorm:"column:lease_at" json:"-"`
}

func (Document) TableName() string { return "document" }

func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// ChunkedStatuses are the statuses whose chunk set is written and immutable.
var ChunkedStatuses = []string{StatusChunked, StatusIndexed, StatusPartiallyIndexed}

// Searchable reports whether the document has at least some embeddings.
func (d *Document) Searchable() bool {
	return d != nil && (d.Status == StatusIndexed || d.Status == StatusPartiallyIndexed)
}

// DocumentPage holds the cleaned text extracted for one 1-indexed page.
type DocumentPage struct {
	DocumentID uuid.UUID `gorm:"type:uuid;primaryKey" json:"document_id"`
	PageNumber int       `gorm:"column:page_number;primaryKey" json:"page_number"`
	Text       string    `gorm:"column:text;type:text;not null" json:"text"`
	WordCount  int       `gorm:"column:word_count;not null;default:0" json:"word_count"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
}

func (DocumentPage) TableName() string { return "document_page" }
