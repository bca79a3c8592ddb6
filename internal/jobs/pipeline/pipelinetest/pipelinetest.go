// Package pipelinetest wires the job pipelines against sqlite, an in-memory
// object store and deterministic model providers.
package pipelinetest

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/pdfsum-backend/internal/data/repos"
	"github.com/yungbote/pdfsum-backend/internal/data/repos/testutil"
	types "github.com/yungbote/pdfsum-backend/internal/domain"
	jobrt "github.com/yungbote/pdfsum-backend/internal/jobs/runtime"
	"github.com/yungbote/pdfsum-backend/internal/jobs/worker"
	"github.com/yungbote/pdfsum-backend/internal/modules/costguard"
	"github.com/yungbote/pdfsum-backend/internal/modules/extraction"
	"github.com/yungbote/pdfsum-backend/internal/modules/extraction/pdftest"
	"github.com/yungbote/pdfsum-backend/internal/modules/indexer"
	"github.com/yungbote/pdfsum-backend/internal/modules/search"
	"github.com/yungbote/pdfsum-backend/internal/modules/summarizer"
	"github.com/yungbote/pdfsum-backend/internal/pkg/dbctx"
	"github.com/yungbote/pdfsum-backend/internal/platform/llm"
	"github.com/yungbote/pdfsum-backend/internal/platform/llm/llmtest"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
	"github.com/yungbote/pdfsum-backend/internal/platform/objectstore"
	"github.com/yungbote/pdfsum-backend/internal/platform/redislock"
	"github.com/yungbote/pdfsum-backend/internal/services"
)

type Options struct {
	// BudgetUSD defaults to a budget no test run can reach.
	BudgetUSD float64
	// Prices defaults to costguard.DefaultPriceTable.
	Prices  costguard.PriceTable
	Indexer indexer.Config
}

type Env struct {
	DB        *gorm.DB
	Repos     repos.Repos
	Store     *objectstore.Memory
	Guard     *costguard.Guard
	Embedder  *llmtest.Embedder
	Completer *llmtest.Completer
	Locker    *redislock.Local
	Jobs      services.JobService

	Extractor  *extraction.Extractor
	Indexer    *indexer.Indexer
	Search     *search.Engine
	Summarizer *summarizer.Summarizer

	Registry *jobrt.Registry
	Worker   *worker.Worker
	Owner    uuid.UUID
}

func New(tb testing.TB, opts Options) *Env {
	tb.Helper()
	if opts.BudgetUSD == 0 {
		opts.BudgetUSD = 1000
	}
	if opts.Indexer.BatchSize == 0 {
		opts.Indexer = indexer.Config{BatchSize: 8, Concurrency: 1}
	}
	db := testutil.DB(tb)
	log := testutil.Logger(tb)
	r := repos.New(db, log)

	e := &Env{
		DB:        db,
		Repos:     r,
		Store:     objectstore.NewMemory(),
		Embedder:  &llmtest.Embedder{},
		Completer: &llmtest.Completer{},
		Locker:    redislock.NewLocal(),
		Registry:  jobrt.NewRegistry(),
		Owner:     uuid.New(),
	}
	e.Guard = costguard.New(r.Ledger, log, costguard.Config{MonthlyBudgetUSD: opts.BudgetUSD, Prices: opts.Prices})
	e.Jobs = services.NewJobService(services.JobServiceDeps{
		DB:         db,
		Log:        log,
		Jobs:       r.Jobs,
		Documents:  r.Documents,
		Summaries:  r.Summaries,
		Templates:  r.Templates,
		Locker:     e.Locker,
		JobTimeout: time.Hour,
	})
	e.Extractor = extraction.New(e.Store, log)
	e.Indexer = indexer.New(indexer.Deps{
		DB:       db,
		Log:      log,
		Chunks:   r.Chunks,
		Guard:    e.Guard,
		Embedder: e.Embedder,
	}, opts.Indexer)
	e.Search = search.New(search.Deps{
		Log:       log,
		Documents: r.Documents,
		Chunks:    r.Chunks,
		Guard:     e.Guard,
		Embedder:  e.Embedder,
	})
	e.Summarizer = summarizer.New(summarizer.Deps{
		Log:       log,
		Guard:     e.Guard,
		Completer: e.Completer,
		Search:    e.Search,
	}, summarizer.DefaultConfig())
	e.Worker = worker.NewWorker(db, log, r.Jobs, e.Registry, services.NewNopJobNotifier(), e.Locker, worker.Config{Concurrency: 1, PollInterval: 10 * time.Millisecond})
	return e
}

func (e *Env) Register(tb testing.TB, handlers ...jobrt.Handler) {
	tb.Helper()
	for _, h := range handlers {
		if err := e.Registry.Register(h); err != nil {
			tb.Fatalf("register %s: %v", h.Type(), err)
		}
	}
}

func (e *Env) DBC() dbctx.Context { return dbctx.Context{Ctx: context.Background()} }

// Words returns n words of filler prose; seed varies the vocabulary.
func Words(n int, seed string) string {
	vocab := []string{"revenue", "hiring", "margin", "roadmap", "latency", "contract", "forecast", "budget", "incident", "vendor"}
	out := make([]string, n)
	for i := range out {
		out[i] = vocab[(i+len(seed))%len(vocab)]
		if i%9 == 0 {
			out[i] = seed
		}
	}
	return strings.Join(out, " ")
}

// UploadPDF stores a PDF with one page per text and registers an uploaded
// document for it.
func (e *Env) UploadPDF(tb testing.TB, pages ...string) *types.Document {
	tb.Helper()
	doc := testutil.SeedDocument(tb, e.DB, e.Owner, "")
	data := pdftest.Build(pages...)
	if err := e.Store.Put(context.Background(), doc.ObjectKey, bytes.NewReader(data), "application/pdf"); err != nil {
		tb.Fatalf("put pdf: %v", err)
	}
	return doc
}

// UploadPages stores a PDF of n pages with words words each.
func (e *Env) UploadPages(tb testing.TB, n, words int) *types.Document {
	tb.Helper()
	pages := make([]string, n)
	for i := range pages {
		pages[i] = Words(words, fmt.Sprintf("page%d", i+1))
	}
	return e.UploadPDF(tb, pages...)
}

func (e *Env) Enqueue(tb testing.TB, doc *types.Document, jobType string, payload map[string]any) *types.JobRun {
	tb.Helper()
	job, err := e.Jobs.Enqueue(e.DBC(), services.EnqueueInput{
		OwnerUserID: e.Owner,
		DocumentID:  doc.ID,
		JobType:     jobType,
		Payload:     payload,
	})
	if err != nil {
		tb.Fatalf("enqueue %s: %v", jobType, err)
	}
	return job
}

// Drain runs queued jobs until none is pending and returns how many ran.
func (e *Env) Drain(tb testing.TB) int {
	tb.Helper()
	n := 0
	for {
		ran, err := e.Worker.RunOnce(context.Background())
		if err != nil {
			tb.Fatalf("RunOnce: %v", err)
		}
		if !ran {
			return n
		}
		n++
	}
}

func (e *Env) Job(tb testing.TB, id uuid.UUID) *types.JobRun {
	tb.Helper()
	job, err := e.Repos.Jobs.GetByID(e.DBC(), id)
	if err != nil || job == nil {
		tb.Fatalf("load job %s: %v", id, err)
	}
	return job
}

func (e *Env) Document(tb testing.TB, id uuid.UUID) *types.Document {
	tb.Helper()
	doc, err := e.Repos.Documents.GetByID(e.DBC(), id)
	if err != nil || doc == nil {
		tb.Fatalf("load document %s: %v", id, err)
	}
	return doc
}

func (e *Env) Summary(tb testing.TB, id uuid.UUID) *types.Summary {
	tb.Helper()
	sum, err := e.Repos.Summaries.GetByID(e.DBC(), id)
	if err != nil || sum == nil {
		tb.Fatalf("load summary %s: %v", id, err)
	}
	return sum
}

var titleRe = regexp.MustCompile(`\*\*Section Title:\*\* ([^\n]+)`)

// SectionOf returns the section a summarization prompt was built for.
func SectionOf(req llm.CompletionRequest) string {
	m := titleRe.FindStringSubmatch(req.Prompt)
	if m == nil {
		return ""
	}
	return m[1]
}

func Logger(tb testing.TB) *logger.Logger { return testutil.Logger(tb) }

// SummaryTemplate seeds a template whose chunking yields roughly one chunk
// per hundred words. Only the first section is required when onlyFirstRequired
// is set.
func (e *Env) SummaryTemplate(tb testing.TB, onlyFirstRequired bool, titles ...string) *types.Template {
	tb.Helper()
	tpl := testutil.SeedTemplate(tb, e.DB, titles...)
	st := tpl.Strategy.Data()
	st.ChunkSize, st.ChunkOverlap, st.MinChunkSize = 100, 10, 20
	tpl.Strategy = datatypes.NewJSONType(st)
	if onlyFirstRequired {
		for i := range tpl.Sections {
			tpl.Sections[i].Required = i == 0
		}
	}
	if err := e.DB.Model(tpl).Updates(map[string]interface{}{
		"strategy": tpl.Strategy,
		"sections": tpl.Sections,
	}).Error; err != nil {
		tb.Fatalf("update template: %v", err)
	}
	return tpl
}

func (e *Env) Log() *logger.Logger { return logger.Nop() }
