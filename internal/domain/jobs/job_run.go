package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Job types.
const (
	TypeExtract           = "extract"
	TypeEmbed             = "embed"
	TypeSummarize         = "summarize"
	TypeSearch            = "search"
	TypeRegenerateSection = "regenerate_section"
)

// Job statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Payload keys.
const (
	PayloadTemplateID    = "template_id"
	PayloadSummaryID     = "summary_id"
	PayloadSection       = "section"
	PayloadQuery         = "query"
	PayloadTopK          = "top_k"
	PayloadMinSimilarity = "min_similarity"
)

// TimeoutMessageFormat is the standard error written when a job is force-failed for
// exceeding the wall-clock ceiling.
const TimeoutMessageFormat = "Job timed out (no progress for >%d minutes). Please try again."

var (
	ActiveStatuses   = []string{StatusPending, StatusRunning}
	TerminalStatuses = []string{StatusCompleted, StatusFailed, StatusCancelled}
)

// LockKey names the lock that keeps one active job per document and type.
func LockKey(documentID uuid.UUID, jobType string) string {
	return "job:" + documentID.String() + ":" + jobType
}

func IsValidType(t string) bool {
	switch t {
	case TypeExtract, TypeEmbed, TypeSummarize, TypeSearch, TypeRegenerateSection:
		return true
	}
	return false
}

func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

type JobRun struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	DocumentID      uuid.UUID      `gorm:"type:uuid;not null;index:idx_job_run_doc_type" json:"document_id"`
	JobType         string         `gorm:"column:job_type;not null;index:idx_job_run_doc_type" json:"job_type"`
	Status          string         `gorm:"column:status;not null;index" json:"status"`
	Stage           string         `gorm:"column:stage;not null" json:"stage"`
	Progress        int            `gorm:"column:progress;not null;default:0" json:"progress"`
	Attempts        int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Message         string         `gorm:"column:message" json:"message,omitempty"`
	ErrorMessage    string         `gorm:"column:error_message" json:"error_message,omitempty"`
	SummaryID       *uuid.UUID     `gorm:"type:uuid;column:summary_id;index" json:"summary_id,omitempty"`
	RetryOf         *uuid.UUID     `gorm:"type:uuid;column:retry_of" json:"retry_of,omitempty"`
	CancelRequested bool           `gorm:"column:cancel_requested;not null;default:false" json:"cancel_requested"`
	LockedAt        *time.Time     `gorm:"column:locked_at" json:"locked_at,omitempty"`
	HeartbeatAt     *time.Time     `gorm:"column:heartbeat_at" json:"heartbeat_at,omitempty"`
	StartedAt       *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	Payload         datatypes.JSON `gorm:"column:payload" json:"payload"`
	Result          datatypes.JSON `gorm:"column:result" json:"result"`
	CreatedAt       time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null" json:"updated_at"`
}

func (JobRun) TableName() string { return "job_run" }

func (j *JobRun) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return nil
}
