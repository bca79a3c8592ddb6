package domain

import (
	"github.com/yungbote/pdfsum-backend/internal/domain/billing"
	"github.com/yungbote/pdfsum-backend/internal/domain/documents"
	"github.com/yungbote/pdfsum-backend/internal/domain/jobs"
	"github.com/yungbote/pdfsum-backend/internal/domain/summaries"
	"github.com/yungbote/pdfsum-backend/internal/domain/templates"
)

type (
	Document     = documents.Document
	DocumentPage = documents.DocumentPage
	Chunk        = documents.Chunk
	Embedding    = documents.Embedding

	Template = templates.Template
	Section  = templates.Section
	Strategy = templates.Strategy

	JobRun = jobs.JobRun

	Summary         = summaries.Summary
	SummarySection  = summaries.SummarySection
	SummaryMetadata = summaries.Metadata

	CostLedger = billing.CostLedger
)

// Models lists every persisted model in migration order.
func Models() []any {
	return []any{
		&Document{},
		&DocumentPage{},
		&Chunk{},
		&Embedding{},
		&Template{},
		&JobRun{},
		&Summary{},
		&CostLedger{},
	}
}
