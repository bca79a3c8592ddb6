package templates

import (
	"fmt"
	"sort"
	"strings"

	"gorm.io/datatypes"
)

// LegacyField is the older flat template shape ("fields").
type LegacyField struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	Required    bool   `json:"required" yaml:"required"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// RawSection mirrors Section but keeps Required optional so an absent value
// can default to true.
type RawSection struct {
	Title          string `json:"title" yaml:"title"`
	GuidancePrompt string `json:"guidance_prompt" yaml:"guidance_prompt"`
	Order          int    `json:"order" yaml:"order"`
	Required       *bool  `json:"required,omitempty" yaml:"required,omitempty"`
	Scope          string `json:"scope,omitempty" yaml:"scope,omitempty"`
	TargetWords    int    `json:"target_words,omitempty" yaml:"target_words,omitempty"`
}

// Raw is a template as received at the ingestion boundary, in either shape.
type Raw struct {
	Name               string        `json:"name" yaml:"name"`
	Description        string        `json:"description,omitempty" yaml:"description,omitempty"`
	SystemPrompt       string        `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	ProcessingStrategy *Strategy     `json:"processing_strategy,omitempty" yaml:"processing_strategy,omitempty"`
	Sections           []RawSection  `json:"sections,omitempty" yaml:"sections,omitempty"`
	Fields             []LegacyField `json:"fields,omitempty" yaml:"fields,omitempty"`
	IsDefault          bool          `json:"is_default,omitempty" yaml:"is_default,omitempty"`
}

// Normalize converts either template shape into the canonical Template.
// Sections are sorted by order and renumbered from 1; strategy gaps are
// filled from DefaultStrategy.
func Normalize(raw Raw) (*Template, error) {
	name := strings.TrimSpace(raw.Name)
	if name == "" {
		return nil, fmt.Errorf("template name required")
	}

	var sections []Section
	switch {
	case len(raw.Sections) > 0:
		for i, rs := range raw.Sections {
			title := strings.TrimSpace(rs.Title)
			if title == "" {
				return nil, fmt.Errorf("template %q: section %d has no title", name, i)
			}
			required := true
			if rs.Required != nil {
				required = *rs.Required
			}
			guidance := strings.TrimSpace(rs.GuidancePrompt)
			if guidance == "" {
				guidance = "Summarize the content relevant to " + title + "."
			}
			sections = append(sections, Section{
				Title:          title,
				GuidancePrompt: guidance,
				Order:          rs.Order,
				Required:       required,
				Scope:          normalizeScope(rs.Scope),
				TargetWords:    maxInt(rs.TargetWords, 0),
			})
		}
	case len(raw.Fields) > 0:
		for i, f := range raw.Fields {
			title := strings.TrimSpace(f.Name)
			if title == "" {
				return nil, fmt.Errorf("template %q: field %d has no name", name, i)
			}
			guidance := strings.TrimSpace(f.Description)
			if guidance == "" {
				guidance = "Extract and summarize information about " + title + "."
			}
			sections = append(sections, Section{
				Title:          title,
				GuidancePrompt: guidance,
				Order:          i + 1,
				Required:       f.Required,
				Scope:          ScopeDocument,
			})
		}
	}

	sort.SliceStable(sections, func(i, j int) bool { return sections[i].Order < sections[j].Order })
	for i := range sections {
		sections[i].Order = i + 1
	}

	strategy := DefaultStrategy()
	if raw.ProcessingStrategy != nil {
		strategy = mergeStrategy(strategy, *raw.ProcessingStrategy)
	}
	systemPrompt := strings.TrimSpace(raw.SystemPrompt)
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}

	return &Template{
		Name:         name,
		Description:  strings.TrimSpace(raw.Description),
		SystemPrompt: systemPrompt,
		Strategy:     datatypes.NewJSONType(strategy),
		Sections:     sections,
		IsDefault:    raw.IsDefault,
	}, nil
}

func normalizeScope(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case ScopeNarrow, "narrowly_scoped", "targeted":
		return ScopeNarrow
	default:
		return ScopeDocument
	}
}

func mergeStrategy(base, in Strategy) Strategy {
	if in.ChunkSize > 0 {
		base.ChunkSize = in.ChunkSize
	}
	if in.ChunkOverlap > 0 {
		base.ChunkOverlap = in.ChunkOverlap
	}
	if in.MinChunkSize > 0 {
		base.MinChunkSize = in.MinChunkSize
	}
	if s := strings.TrimSpace(in.EmbeddingModel); s != "" {
		base.EmbeddingModel = s
	}
	if s := strings.TrimSpace(in.SummarizationModel); s != "" {
		base.SummarizationModel = s
	}
	if in.MaxTokensPerSection > 0 {
		base.MaxTokensPerSection = in.MaxTokensPerSection
	}
	if in.Temperature > 0 {
		base.Temperature = in.Temperature
	}
	if base.ChunkOverlap >= base.ChunkSize {
		base.ChunkOverlap = base.ChunkSize / 5
	}
	return base
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
