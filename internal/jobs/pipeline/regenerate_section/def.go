package regenerate_section

import (
	"github.com/yungbote/pdfsum-backend/internal/data/repos"
	jobsdomain "github.com/yungbote/pdfsum-backend/internal/domain/jobs"
	"github.com/yungbote/pdfsum-backend/internal/modules/summarizer"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
)

type Pipeline struct {
	log        *logger.Logger
	documents  repos.DocumentRepo
	chunks     repos.ChunkRepo
	templates  repos.TemplateRepo
	summaries  repos.SummaryRepo
	summarizer *summarizer.Summarizer
}

func New(baseLog *logger.Logger, r repos.Repos, sum *summarizer.Summarizer) *Pipeline {
	return &Pipeline{
		log:        baseLog.With("job", jobsdomain.TypeRegenerateSection),
		documents:  r.Documents,
		chunks:     r.Chunks,
		templates:  r.Templates,
		summaries:  r.Summaries,
		summarizer: sum,
	}
}

func (p *Pipeline) Type() string { return jobsdomain.TypeRegenerateSection }
