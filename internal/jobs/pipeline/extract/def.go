package extract

import (
	"gorm.io/gorm"

	"github.com/yungbote/pdfsum-backend/internal/data/repos"
	jobsdomain "github.com/yungbote/pdfsum-backend/internal/domain/jobs"
	"github.com/yungbote/pdfsum-backend/internal/modules/extraction"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
	"github.com/yungbote/pdfsum-backend/internal/services"
)

type Pipeline struct {
	db        *gorm.DB
	log       *logger.Logger
	documents repos.DocumentRepo
	chunks    repos.ChunkRepo
	extractor *extraction.Extractor
	// jobs enqueues the follow-up embed job; nil disables auto-indexing.
	jobs services.JobService
}

func New(
	db *gorm.DB,
	baseLog *logger.Logger,
	documents repos.DocumentRepo,
	chunks repos.ChunkRepo,
	extractor *extraction.Extractor,
	jobs services.JobService,
) *Pipeline {
	return &Pipeline{
		db:        db,
		log:       baseLog.With("job", jobsdomain.TypeExtract),
		documents: documents,
		chunks:    chunks,
		extractor: extractor,
		jobs:      jobs,
	}
}

func (p *Pipeline) Type() string { return jobsdomain.TypeExtract }
