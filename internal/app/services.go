package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/pdfsum-backend/internal/data/repos"
	"github.com/yungbote/pdfsum-backend/internal/jobs/pipeline/embed"
	"github.com/yungbote/pdfsum-backend/internal/jobs/pipeline/extract"
	"github.com/yungbote/pdfsum-backend/internal/jobs/pipeline/regenerate_section"
	searchjob "github.com/yungbote/pdfsum-backend/internal/jobs/pipeline/search"
	"github.com/yungbote/pdfsum-backend/internal/jobs/pipeline/summarize"
	jobruntime "github.com/yungbote/pdfsum-backend/internal/jobs/runtime"
	"github.com/yungbote/pdfsum-backend/internal/jobs/sweeper"
	"github.com/yungbote/pdfsum-backend/internal/jobs/worker"
	"github.com/yungbote/pdfsum-backend/internal/modules/costguard"
	"github.com/yungbote/pdfsum-backend/internal/modules/extraction"
	"github.com/yungbote/pdfsum-backend/internal/modules/indexer"
	"github.com/yungbote/pdfsum-backend/internal/modules/search"
	"github.com/yungbote/pdfsum-backend/internal/modules/summarizer"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
	"github.com/yungbote/pdfsum-backend/internal/services"
)

type Services struct {
	Guard      *costguard.Guard
	Extractor  *extraction.Extractor
	Indexer    *indexer.Indexer
	Search     *search.Engine
	Summarizer *summarizer.Summarizer

	JobService      services.JobService
	DocumentService services.DocumentService

	// Job infra
	JobRegistry *jobruntime.Registry
	JobWorker   *worker.Worker
	JobSweeper  *sweeper.Sweeper
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, r repos.Repos, clients Clients) (Services, error) {
	log.Info("Wiring services...")

	guard := costguard.New(r.Ledger, log, costguard.ConfigFromEnv())
	jobService := services.NewJobService(services.JobServiceDeps{
		DB:         db,
		Log:        log,
		Jobs:       r.Jobs,
		Documents:  r.Documents,
		Summaries:  r.Summaries,
		Templates:  r.Templates,
		Locker:     clients.Locker,
		Notify:     clients.Notifier,
		JobTimeout: cfg.StuckJobTimeout,
	})
	documentService := services.NewDocumentService(services.DocumentServiceDeps{
		DB:        db,
		Log:       log,
		Documents: r.Documents,
		JobRuns:   r.Jobs,
		Summaries: r.Summaries,
		Templates: r.Templates,
		Store:     clients.Store,
		Guard:     guard,
		Jobs:      jobService,
	})

	extractor := extraction.New(clients.Store, log)
	ix := indexer.New(indexer.Deps{
		DB:       db,
		Log:      log,
		Chunks:   r.Chunks,
		Guard:    guard,
		Embedder: clients.Embedder,
	}, indexer.ConfigFromEnv())
	engine := search.New(search.Deps{
		Log:       log,
		Documents: r.Documents,
		Chunks:    r.Chunks,
		Guard:     guard,
		Embedder:  clients.Embedder,
	})
	sum := summarizer.New(summarizer.Deps{
		Log:       log,
		Guard:     guard,
		Completer: clients.Completer,
		Search:    engine,
	}, summarizer.ConfigFromEnv())

	// Job registry
	registry := jobruntime.NewRegistry()
	handlers := []jobruntime.Handler{
		extract.New(db, log, r.Documents, r.Chunks, extractor, jobService),
		embed.New(db, log, r.Documents, r.Chunks, extractor, ix),
		summarize.New(db, log, r, extractor, ix, sum),
		searchjob.New(log, r.Documents, engine),
		regenerate_section.New(log, r, sum),
	}
	for _, h := range handlers {
		if err := registry.Register(h); err != nil {
			return Services{}, fmt.Errorf("register %s: %w", h.Type(), err)
		}
	}

	jobWorker := worker.NewWorker(db, log, r.Jobs, registry, clients.Notifier, clients.Locker, worker.ConfigFromEnv())
	sweepCfg := sweeper.ConfigFromEnv()
	sweepCfg.Timeout = cfg.StuckJobTimeout

	return Services{
		Guard:           guard,
		Extractor:       extractor,
		Indexer:         ix,
		Search:          engine,
		Summarizer:      sum,
		JobService:      jobService,
		DocumentService: documentService,
		JobRegistry:     registry,
		JobWorker:       jobWorker,
		JobSweeper:      sweeper.New(jobService, log, sweepCfg),
	}, nil
}
