package embed

import (
	"gorm.io/gorm"

	"github.com/yungbote/pdfsum-backend/internal/data/repos"
	jobsdomain "github.com/yungbote/pdfsum-backend/internal/domain/jobs"
	"github.com/yungbote/pdfsum-backend/internal/modules/extraction"
	"github.com/yungbote/pdfsum-backend/internal/modules/indexer"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
)

type Pipeline struct {
	db        *gorm.DB
	log       *logger.Logger
	documents repos.DocumentRepo
	chunks    repos.ChunkRepo
	extractor *extraction.Extractor
	indexer   *indexer.Indexer
}

func New(
	db *gorm.DB,
	baseLog *logger.Logger,
	documents repos.DocumentRepo,
	chunks repos.ChunkRepo,
	extractor *extraction.Extractor,
	ix *indexer.Indexer,
) *Pipeline {
	return &Pipeline{
		db:        db,
		log:       baseLog.With("job", jobsdomain.TypeEmbed),
		documents: documents,
		chunks:    chunks,
		extractor: extractor,
		indexer:   ix,
	}
}

func (p *Pipeline) Type() string { return jobsdomain.TypeEmbed }
