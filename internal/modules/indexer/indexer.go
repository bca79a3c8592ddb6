package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/pdfsum-backend/internal/data/repos"
	types "github.com/yungbote/pdfsum-backend/internal/domain"
	"github.com/yungbote/pdfsum-backend/internal/modules/costguard"
	"github.com/yungbote/pdfsum-backend/internal/observability"
	"github.com/yungbote/pdfsum-backend/internal/pkg/dbctx"
	"github.com/yungbote/pdfsum-backend/internal/pkg/errors"
	"github.com/yungbote/pdfsum-backend/internal/platform/envutil"
	"github.com/yungbote/pdfsum-backend/internal/platform/llm"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
)

type Config struct {
	BatchSize      int
	BatchMaxTokens int
	Concurrency    int
}

func ConfigFromEnv() Config {
	return Config{
		BatchSize:      envutil.IntClamp("EMBED_BATCH_SIZE", 100, 1, 2048),
		BatchMaxTokens: envutil.IntClamp("EMBED_BATCH_MAX_TOKENS", 8000, 0, 300000),
		Concurrency:    envutil.IntClamp("EMBED_CONCURRENCY", 3, 1, 32),
	}
}

type Deps struct {
	DB       *gorm.DB
	Log      *logger.Logger
	Chunks   repos.ChunkRepo
	Guard    *costguard.Guard
	Embedder llm.Embedder
}

// Hooks let the caller observe progress and request cooperative cancellation.
type Hooks struct {
	// OnBatch is called after every finished batch (succeeded or failed).
	OnBatch func(done, total int)
	// CheckCancel returns a non-nil error when the run should stop.
	CheckCancel func(ctx context.Context) error
}

type IndexInput struct {
	OwnerUserID uuid.UUID
	DocumentID  uuid.UUID
	// Chunks defaults to every chunk of the document.
	Chunks []*types.Chunk
	Hooks  Hooks
}

type IndexResult struct {
	TotalChunks    int   `json:"total_chunks"`
	Embedded       int   `json:"embedded"`
	Remaining      int   `json:"remaining"`
	TotalBatches   int   `json:"total_batches"`
	FailedBatches  []int `json:"failed_batches,omitempty"`
	SkippedBatches []int `json:"skipped_batches,omitempty"`
	BudgetExceeded bool  `json:"budget_exceeded"`
	// FirstError is the first batch failure, kept for the job error message.
	FirstError error `json:"-"`
}

// Complete reports whether every chunk of the document has an embedding.
func (r IndexResult) Complete() bool { return r.Remaining == 0 }

type Indexer struct {
	deps Deps
	cfg  Config
	log  *logger.Logger
}

func New(deps Deps, cfg Config) *Indexer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Indexer{deps: deps, cfg: cfg, log: deps.Log.With("component", "EmbeddingIndexer")}
}

type batch struct {
	number int
	chunks []*types.Chunk
}

// Index embeds every chunk that has no embedding yet. Batches run
// concurrently and fail independently; a budget rejection or cancellation
// stops scheduling further batches but keeps what was already persisted.
func (ix *Indexer) Index(ctx context.Context, in IndexInput) (IndexResult, error) {
	out := IndexResult{}
	if ix.deps.Chunks == nil || ix.deps.Embedder == nil || ix.deps.DB == nil {
		return out, fmt.Errorf("indexer: missing deps")
	}
	if in.DocumentID == uuid.Nil {
		return out, fmt.Errorf("indexer: %w: missing document_id", errors.ErrInvalidArgument)
	}
	dbc := dbctx.Context{Ctx: ctx}

	all := in.Chunks
	if all == nil {
		var err error
		all, err = ix.deps.Chunks.ListByDocument(dbc, in.DocumentID)
		if err != nil {
			return out, err
		}
	}
	out.TotalChunks = len(all)

	unembedded, err := ix.deps.Chunks.ListUnembedded(dbc, in.DocumentID)
	if err != nil {
		return out, err
	}
	need := make(map[uuid.UUID]bool, len(unembedded))
	for _, c := range unembedded {
		need[c.ID] = true
	}
	pending := make([]*types.Chunk, 0, len(unembedded))
	for _, c := range all {
		if c != nil && need[c.ID] {
			pending = append(pending, c)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].Order < pending[j].Order })

	batches := ix.pack(pending)
	out.TotalBatches = len(batches)
	if len(batches) == 0 {
		return ix.finish(dbc, in.DocumentID, out)
	}

	embedder := ix.deps.Embedder
	if ix.deps.Guard != nil {
		embedder = ix.deps.Guard.Embedder(embedder, in.OwnerUserID)
	}

	var (
		mu        sync.Mutex
		done      int
		stopErr   error
		budgetErr error
	)
	stopped := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return stopErr != nil || budgetErr != nil
	}
	finishBatch := func(b batch, berr error) {
		mu.Lock()
		done++
		d := done
		if berr != nil {
			out.FailedBatches = append(out.FailedBatches, b.number)
			if out.FirstError == nil {
				out.FirstError = berr
			}
		}
		mu.Unlock()
		if in.Hooks.OnBatch != nil {
			in.Hooks.OnBatch(d, len(batches))
		}
	}

	// Batches fail independently, so the group is not bound to a shared context.
	var g errgroup.Group
	g.SetLimit(ix.cfg.Concurrency)
	for _, b := range batches {
		if in.Hooks.CheckCancel != nil {
			if cerr := in.Hooks.CheckCancel(ctx); cerr != nil {
				mu.Lock()
				if stopErr == nil {
					stopErr = cerr
				}
				mu.Unlock()
			}
		}
		if ctx.Err() != nil {
			mu.Lock()
			if stopErr == nil {
				stopErr = ctx.Err()
			}
			mu.Unlock()
		}
		if stopped() {
			mu.Lock()
			out.SkippedBatches = append(out.SkippedBatches, b.number)
			mu.Unlock()
			continue
		}
		b := b
		g.Go(func() error {
			if stopped() {
				mu.Lock()
				out.SkippedBatches = append(out.SkippedBatches, b.number)
				mu.Unlock()
				return nil
			}
			berr := ix.runBatch(ctx, embedder, in.DocumentID, b)
			var be *costguard.BudgetExceededError
			if errors.As(berr, &be) {
				mu.Lock()
				if budgetErr == nil {
					budgetErr = berr
				}
				mu.Unlock()
			}
			finishBatch(b, berr)
			return nil
		})
	}
	_ = g.Wait()

	sort.Ints(out.FailedBatches)
	sort.Ints(out.SkippedBatches)
	out.BudgetExceeded = budgetErr != nil

	out, ferr := ix.finish(dbc, in.DocumentID, out)
	if ferr != nil {
		return out, ferr
	}
	if stopErr != nil {
		return out, stopErr
	}
	if budgetErr != nil {
		return out, budgetErr
	}
	return out, nil
}

func (ix *Indexer) finish(dbc dbctx.Context, documentID uuid.UUID, out IndexResult) (IndexResult, error) {
	n, err := ix.deps.Chunks.CountEmbeddings(dbc, documentID)
	if err != nil {
		return out, err
	}
	out.Embedded = int(n)
	out.Remaining = out.TotalChunks - out.Embedded
	if out.Remaining < 0 {
		out.Remaining = 0
	}
	return out, nil
}

// pack splits chunks into batches bounded by count and estimated tokens.
// Batch numbers are 1-indexed in chunk order.
func (ix *Indexer) pack(chunks []*types.Chunk) []batch {
	var (
		out       []batch
		cur       []*types.Chunk
		curTokens int
	)
	flush := func() {
		if len(cur) > 0 {
			out = append(out, batch{number: len(out) + 1, chunks: cur})
			cur = nil
			curTokens = 0
		}
	}
	for _, c := range chunks {
		tokens := llm.EstimateTokens(c.Text)
		if len(cur) >= ix.cfg.BatchSize || (ix.cfg.BatchMaxTokens > 0 && len(cur) > 0 && curTokens+tokens > ix.cfg.BatchMaxTokens) {
			flush()
		}
		cur = append(cur, c)
		curTokens += tokens
	}
	flush()
	return out
}

func (ix *Indexer) runBatch(ctx context.Context, embedder llm.Embedder, documentID uuid.UUID, b batch) error {
	started := time.Now()
	texts := make([]string, len(b.chunks))
	for i, c := range b.chunks {
		texts[i] = c.Text
	}

	res, err := embedder.Embed(ctx, texts)
	if err == nil && len(res.Vectors) != len(texts) {
		err = fmt.Errorf("embedding count mismatch: got %d want %d", len(res.Vectors), len(texts))
	}
	if err != nil {
		observability.Current().IncEmbedBatch("failed")
		ix.log.Warn("Embedding batch failed",
			"document_id", documentID,
			"batch", b.number,
			"chunks", len(b.chunks),
			"error", err,
		)
		return err
	}

	model := res.Model
	if model == "" {
		model = embedder.Model()
	}
	rows := make([]*types.Embedding, 0, len(b.chunks))
	for i, c := range b.chunks {
		raw, merr := json.Marshal(res.Vectors[i])
		if merr != nil {
			return merr
		}
		rows = append(rows, &types.Embedding{
			ChunkID:    c.ID,
			DocumentID: documentID,
			Vector:     datatypes.JSON(raw),
			ModelName:  model,
			Dimensions: len(res.Vectors[i]),
		})
	}
	err = ix.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return ix.deps.Chunks.UpsertEmbeddings(dbctx.Context{Ctx: ctx, Tx: tx}, rows)
	})
	if err != nil {
		observability.Current().IncEmbedBatch("failed")
		ix.log.Error("Persisting embedding batch failed", "document_id", documentID, "batch", b.number, "error", err)
		return fmt.Errorf("persist embeddings: %w", err)
	}
	observability.Current().IncEmbedBatch("succeeded")
	ix.log.Debug("Embedding batch stored",
		"document_id", documentID,
		"batch", b.number,
		"chunks", len(rows),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return nil
}
