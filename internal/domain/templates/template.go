package templates

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Section scopes.
const (
	ScopeDocument = "document"
	ScopeNarrow   = "narrow"
)

// Section is the canonical per-section instruction the summarizer consumes.
type Section struct {
	Title          string `json:"title" yaml:"title"`
	GuidancePrompt string `json:"guidance_prompt" yaml:"guidance_prompt"`
	Order          int    `json:"order" yaml:"order"`
	Required       bool   `json:"required" yaml:"required"`
	Scope          string `json:"scope,omitempty" yaml:"scope,omitempty"`
	TargetWords    int    `json:"target_words,omitempty" yaml:"target_words,omitempty"`
}

// Narrow reports whether the section should only see similarity-selected chunks.
func (s Section) Narrow() bool { return s.Scope == ScopeNarrow }

type Strategy struct {
	ChunkSize           int     `json:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap        int     `json:"chunk_overlap" yaml:"chunk_overlap"`
	MinChunkSize        int     `json:"min_chunk_size" yaml:"min_chunk_size"`
	EmbeddingModel      string  `json:"embedding_model" yaml:"embedding_model"`
	SummarizationModel  string  `json:"summarization_model" yaml:"summarization_model"`
	MaxTokensPerSection int     `json:"max_tokens_per_section" yaml:"max_tokens_per_section"`
	Temperature         float64 `json:"temperature" yaml:"temperature"`
}

func DefaultStrategy() Strategy {
	return Strategy{
		ChunkSize:           500,
		ChunkOverlap:        75,
		MinChunkSize:        100,
		EmbeddingModel:      "text-embedding-3-small",
		SummarizationModel:  "gpt-4o-mini",
		MaxTokensPerSection: 1500,
		Temperature:         0.3,
	}
}

const DefaultSystemPrompt = "You are an expert technical analyst who writes precise, well-sourced summaries of long engineering and business documents."

// Template is read-only input to the pipeline. Sections are stored in
// canonical shape; legacy shapes are converted by Normalize before persisting.
type Template struct {
	ID           uuid.UUID                    `gorm:"type:uuid;primaryKey" json:"id"`
	Name         string                       `gorm:"column:name;not null;uniqueIndex" json:"name"`
	Description  string                       `gorm:"column:description" json:"description,omitempty"`
	SystemPrompt string                       `gorm:"column:system_prompt;type:text" json:"system_prompt"`
	Strategy     datatypes.JSONType[Strategy] `gorm:"column:strategy" json:"strategy"`
	Sections     datatypes.JSONSlice[Section] `gorm:"column:sections" json:"sections"`
	IsDefault    bool                         `gorm:"column:is_default;not null;default:false" json:"is_default"`
	CreatedAt    time.Time                    `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time                    `gorm:"not null" json:"updated_at"`
}

func (Template) TableName() string { return "template" }

func (t *Template) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// SectionByTitle finds a section case-sensitively by title.
func (t *Template) SectionByTitle(title string) (Section, bool) {
	for _, s := range t.Sections {
		if s.Title == title {
			return s, true
		}
	}
	return Section{}, false
}

// RequiredCount counts sections flagged required.
func (t *Template) RequiredCount() int {
	n := 0
	for _, s := range t.Sections {
		if s.Required {
			n++
		}
	}
	return n
}
