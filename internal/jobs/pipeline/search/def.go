package search

import (
	"github.com/yungbote/pdfsum-backend/internal/data/repos"
	jobsdomain "github.com/yungbote/pdfsum-backend/internal/domain/jobs"
	searchmod "github.com/yungbote/pdfsum-backend/internal/modules/search"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
)

type Pipeline struct {
	log       *logger.Logger
	documents repos.DocumentRepo
	engine    *searchmod.Engine
}

func New(baseLog *logger.Logger, documents repos.DocumentRepo, engine *searchmod.Engine) *Pipeline {
	return &Pipeline{
		log:       baseLog.With("job", jobsdomain.TypeSearch),
		documents: documents,
		engine:    engine,
	}
}

func (p *Pipeline) Type() string { return jobsdomain.TypeSearch }
