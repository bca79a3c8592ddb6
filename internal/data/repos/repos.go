package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/pdfsum-backend/internal/data/repos/billing"
	"github.com/yungbote/pdfsum-backend/internal/data/repos/documents"
	"github.com/yungbote/pdfsum-backend/internal/data/repos/jobs"
	"github.com/yungbote/pdfsum-backend/internal/data/repos/summaries"
	"github.com/yungbote/pdfsum-backend/internal/data/repos/templates"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
)

type DocumentRepo = documents.DocumentRepo
type ChunkRepo = documents.ChunkRepo
type TemplateRepo = templates.TemplateRepo
type JobRunRepo = jobs.JobRunRepo
type SummaryRepo = summaries.SummaryRepo
type CostLedgerRepo = billing.CostLedgerRepo

// Repos bundles every repository over one database handle.
type Repos struct {
	Documents DocumentRepo
	Chunks    ChunkRepo
	Templates TemplateRepo
	Jobs      JobRunRepo
	Summaries SummaryRepo
	Ledger    CostLedgerRepo
}

func New(db *gorm.DB, log *logger.Logger) Repos {
	return Repos{
		Documents: documents.NewDocumentRepo(db, log),
		Chunks:    documents.NewChunkRepo(db, log),
		Templates: templates.NewTemplateRepo(db, log),
		Jobs:      jobs.NewJobRunRepo(db, log),
		Summaries: summaries.NewSummaryRepo(db, log),
		Ledger:    billing.NewCostLedgerRepo(db, log),
	}
}
