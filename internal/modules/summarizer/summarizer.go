package summarizer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"

	types "github.com/yungbote/pdfsum-backend/internal/domain"
	"github.com/yungbote/pdfsum-backend/internal/domain/summaries"
	"github.com/yungbote/pdfsum-backend/internal/domain/templates"
	"github.com/yungbote/pdfsum-backend/internal/modules/costguard"
	"github.com/yungbote/pdfsum-backend/internal/modules/search"
	"github.com/yungbote/pdfsum-backend/internal/observability"
	"github.com/yungbote/pdfsum-backend/internal/pkg/errors"
	"github.com/yungbote/pdfsum-backend/internal/platform/envutil"
	"github.com/yungbote/pdfsum-backend/internal/platform/llm"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
)

type Config struct {
	// ContextTokens is the largest source set sent to a single model call.
	ContextTokens       int
	MapConcurrency      int
	SectionConcurrency  int
	MaxCollapseRounds   int
	NarrowTopK          int
	NarrowMinSimilarity float64
	NarrowKeep          int
}

func DefaultConfig() Config {
	return Config{
		ContextTokens:       12000,
		MapConcurrency:      3,
		SectionConcurrency:  2,
		MaxCollapseRounds:   3,
		NarrowTopK:          20,
		NarrowMinSimilarity: 0.3,
		NarrowKeep:          15,
	}
}

func ConfigFromEnv() Config {
	c := DefaultConfig()
	c.ContextTokens = envutil.IntClamp("SUMMARIZE_CONTEXT_TOKENS", c.ContextTokens, 1000, 200000)
	c.MapConcurrency = envutil.IntClamp("SUMMARIZE_MAP_CONCURRENCY", c.MapConcurrency, 1, 16)
	c.SectionConcurrency = envutil.IntClamp("SUMMARIZE_SECTION_CONCURRENCY", c.SectionConcurrency, 1, 16)
	return c
}

// Searcher ranks document chunks against free text.
type Searcher interface {
	Search(ctx context.Context, q search.Query) (search.Result, error)
}

type Deps struct {
	Log       *logger.Logger
	Guard     *costguard.Guard
	Completer llm.Completer
	Search    Searcher
}

type Hooks struct {
	// OnSection is called after each section finishes, in completion order.
	OnSection func(done, total int, title string)
	// CheckCancel returns a non-nil error when the run should stop.
	CheckCancel func(ctx context.Context) error
}

type Input struct {
	OwnerUserID uuid.UUID
	Document    *types.Document
	Template    *types.Template
	// Chunks is the full ordered chunk set of the document.
	Chunks []*types.Chunk
	Hooks  Hooks
}

type Result struct {
	Status         string
	Sections       []types.SummarySection
	FailedSections []string
	BudgetExceeded bool
	TokensIn       int
	TokensOut      int
	EstimatedCost  float64
	Model          string
	Duration       time.Duration
	// Err is the error that ended the run early (budget or cancellation).
	Err error
}

// Metadata fills the summary metadata block from the run.
func (r Result) Metadata(doc *types.Document, totalChunks int) types.SummaryMetadata {
	m := types.SummaryMetadata{
		TotalChunks:               totalChunks,
		ProcessingDurationSeconds: r.Duration.Seconds(),
		EstimatedCost:             r.EstimatedCost,
		TokensIn:                  r.TokensIn,
		TokensOut:                 r.TokensOut,
		FailedSections:            r.FailedSections,
		Model:                     r.Model,
	}
	if doc != nil {
		m.TotalPages = doc.PageCount
		m.TotalWords = doc.TotalWords
		m.EmbeddingCount = doc.EmbeddingCount
	}
	return m
}

type Summarizer struct {
	deps Deps
	cfg  Config
	log  *logger.Logger
}

func New(deps Deps, cfg Config) *Summarizer {
	d := DefaultConfig()
	if cfg.ContextTokens <= 0 {
		cfg.ContextTokens = d.ContextTokens
	}
	if cfg.MapConcurrency <= 0 {
		cfg.MapConcurrency = d.MapConcurrency
	}
	if cfg.SectionConcurrency <= 0 {
		cfg.SectionConcurrency = d.SectionConcurrency
	}
	if cfg.MaxCollapseRounds <= 0 {
		cfg.MaxCollapseRounds = d.MaxCollapseRounds
	}
	if cfg.NarrowTopK <= 0 {
		cfg.NarrowTopK = d.NarrowTopK
	}
	if cfg.NarrowKeep <= 0 {
		cfg.NarrowKeep = d.NarrowKeep
	}
	return &Summarizer{deps: deps, cfg: cfg, log: deps.Log.With("component", "Summarizer")}
}

// run carries per-call state shared by every section goroutine.
type run struct {
	in        Input
	strategy  types.Strategy
	system    string
	completer llm.Completer
	byID      map[uuid.UUID]*types.Chunk

	tokensIn  atomic.Int64
	tokensOut atomic.Int64
	mu        sync.Mutex
	costUSD   float64
	model     string
	stopErr   error
	budgetErr error
}

func (r *run) stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.budgetErr != nil {
		return r.budgetErr
	}
	return r.stopErr
}

func (r *run) setStop(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var be *costguard.BudgetExceededError
	if errors.As(err, &be) {
		if r.budgetErr == nil {
			r.budgetErr = err
		}
		return
	}
	if r.stopErr == nil {
		r.stopErr = err
	}
}

func (r *run) checkpoint(ctx context.Context) error {
	if err := r.stop(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		r.setStop(err)
		return err
	}
	if r.in.Hooks.CheckCancel != nil {
		if err := r.in.Hooks.CheckCancel(ctx); err != nil {
			r.setStop(err)
			return err
		}
	}
	return nil
}

// Summarize generates every template section independently and assembles
// them in template order. A failing section keeps its slot with an error
// message; a budget rejection skips the sections that have not started.
func (s *Summarizer) Summarize(ctx context.Context, in Input) (Result, error) {
	started := time.Now()
	if in.Template == nil {
		return Result{}, fmt.Errorf("summarizer: %w: missing template", errors.ErrInvalidArgument)
	}
	if len(in.Template.Sections) == 0 {
		return Result{}, errors.ErrTemplateHasNoSections
	}
	ctx, span := observability.StartSpan(ctx, "summarizer.summarize",
		attribute.String("template", in.Template.Name),
		attribute.Int("sections", len(in.Template.Sections)),
		attribute.Int("chunks", len(in.Chunks)),
	)
	defer span.End()

	r := s.newRun(in)
	sections := append([]types.Section(nil), in.Template.Sections...)
	sort.SliceStable(sections, func(i, j int) bool { return sections[i].Order < sections[j].Order })

	out := make([]types.SummarySection, len(sections))
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)
	pool, err := ants.NewPool(s.cfg.SectionConcurrency, ants.WithPanicHandler(func(p interface{}) {
		s.log.Error("Section worker panic recovered", "panic", p)
	}))
	if err != nil {
		return Result{}, fmt.Errorf("section pool: %w", err)
	}
	defer pool.Release()

	for i, sec := range sections {
		i, sec := i, sec
		out[i] = types.SummarySection{Title: sec.Title, Order: sec.Order, Required: sec.Required, PagesReferenced: []int{}}
		wg.Add(1)
		task := func() {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					out[i].ErrorMessage = fmt.Sprintf("section generation crashed: %v", p)
					s.log.Error("Section panic", "section", sec.Title, "panic", p)
				}
			}()
			out[i] = s.section(ctx, r, sec)
			mu.Lock()
			done++
			d := done
			mu.Unlock()
			if in.Hooks.OnSection != nil {
				in.Hooks.OnSection(d, len(sections), sec.Title)
			}
		}
		if serr := pool.Submit(task); serr != nil {
			wg.Done()
			out[i].ErrorMessage = "could not schedule section: " + serr.Error()
		}
	}
	wg.Wait()

	res := Result{
		Sections:  out,
		TokensIn:  int(r.tokensIn.Load()),
		TokensOut: int(r.tokensOut.Load()),
		Duration:  time.Since(started),
	}
	r.mu.Lock()
	res.EstimatedCost = r.costUSD
	res.Model = r.model
	res.BudgetExceeded = r.budgetErr != nil
	stopErr := r.stopErr
	budgetErr := r.budgetErr
	r.mu.Unlock()

	for _, sec := range out {
		if sec.Failed() {
			res.FailedSections = append(res.FailedSections, sec.Title)
		}
	}
	res.Status = Outcome(out)

	switch {
	case stopErr != nil:
		res.Err = stopErr
		return res, stopErr
	case budgetErr != nil:
		res.Err = budgetErr
		return res, budgetErr
	}
	s.log.Info("Summary generated",
		"document_id", documentID(in.Document),
		"status", res.Status,
		"sections", len(out),
		"failed", len(res.FailedSections),
		"tokens_in", res.TokensIn,
		"tokens_out", res.TokensOut,
	)
	return res, nil
}

// Outcome decides the summary status from its sections: completed when a
// required section succeeded (or, with no required sections, any section
// did); partial otherwise.
func Outcome(sections []types.SummarySection) string {
	required, requiredOK, anyOK := 0, 0, 0
	for _, s := range sections {
		if !s.Failed() {
			anyOK++
		}
		if s.Required {
			required++
			if !s.Failed() {
				requiredOK++
			}
		}
	}
	if required > 0 {
		if requiredOK > 0 {
			return summaries.StatusCompleted
		}
		return summaries.StatusPartial
	}
	if anyOK > 0 {
		return summaries.StatusCompleted
	}
	return summaries.StatusPartial
}

func (s *Summarizer) newRun(in Input) *run {
	r := &run{in: in, byID: make(map[uuid.UUID]*types.Chunk, len(in.Chunks))}
	r.strategy = templates.DefaultStrategy()
	if in.Template != nil {
		st := in.Template.Strategy.Data()
		if st.SummarizationModel != "" {
			r.strategy = st
		}
		r.system = strings.TrimSpace(in.Template.SystemPrompt)
	}
	if r.system == "" {
		r.system = templates.DefaultSystemPrompt
	}
	for _, c := range in.Chunks {
		r.byID[c.ID] = c
	}
	completer := s.deps.Completer
	if s.deps.Guard != nil {
		completer = s.deps.Guard.Completer(completer, in.OwnerUserID)
	}
	r.completer = completer
	return r
}

func (s *Summarizer) complete(ctx context.Context, r *run, prompt string) (string, error) {
	resp, err := r.completer.Complete(ctx, llm.CompletionRequest{
		System:      r.system,
		Prompt:      prompt,
		MaxTokens:   r.strategy.MaxTokensPerSection,
		Temperature: r.strategy.Temperature,
		Model:       r.strategy.SummarizationModel,
	})
	if err != nil {
		return "", err
	}
	r.tokensIn.Add(int64(resp.TokensIn))
	r.tokensOut.Add(int64(resp.TokensOut))
	model := resp.Model
	if model == "" {
		model = r.strategy.SummarizationModel
	}
	var cost float64
	if s.deps.Guard != nil {
		cost = s.deps.Guard.Prices().Cost(costguard.Usage{
			Kind:      costguard.KindCompletion,
			Model:     model,
			TokensIn:  resp.TokensIn,
			TokensOut: resp.TokensOut,
		})
	}
	r.mu.Lock()
	r.costUSD += cost
	if r.model == "" {
		r.model = model
	}
	r.mu.Unlock()

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("model returned empty content")
	}
	return text, nil
}

func documentID(d *types.Document) string {
	if d == nil {
		return ""
	}
	return d.ID.String()
}
