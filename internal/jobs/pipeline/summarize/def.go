package summarize

import (
	"gorm.io/gorm"

	"github.com/yungbote/pdfsum-backend/internal/data/repos"
	jobsdomain "github.com/yungbote/pdfsum-backend/internal/domain/jobs"
	"github.com/yungbote/pdfsum-backend/internal/modules/extraction"
	"github.com/yungbote/pdfsum-backend/internal/modules/indexer"
	"github.com/yungbote/pdfsum-backend/internal/modules/summarizer"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
)

type Pipeline struct {
	db         *gorm.DB
	log        *logger.Logger
	documents  repos.DocumentRepo
	chunks     repos.ChunkRepo
	templates  repos.TemplateRepo
	summaries  repos.SummaryRepo
	extractor  *extraction.Extractor
	indexer    *indexer.Indexer
	summarizer *summarizer.Summarizer
}

func New(
	db *gorm.DB,
	baseLog *logger.Logger,
	r repos.Repos,
	extractor *extraction.Extractor,
	ix *indexer.Indexer,
	sum *summarizer.Summarizer,
) *Pipeline {
	return &Pipeline{
		db:         db,
		log:        baseLog.With("job", jobsdomain.TypeSummarize),
		documents:  r.Documents,
		chunks:     r.Chunks,
		templates:  r.Templates,
		summaries:  r.Summaries,
		extractor:  extractor,
		indexer:    ix,
		summarizer: sum,
	}
}

func (p *Pipeline) Type() string { return jobsdomain.TypeSummarize }
