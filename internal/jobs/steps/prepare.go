package steps

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/pdfsum-backend/internal/data/repos"
	types "github.com/yungbote/pdfsum-backend/internal/domain"
	docdomain "github.com/yungbote/pdfsum-backend/internal/domain/documents"
	"github.com/yungbote/pdfsum-backend/internal/jobs/runtime"
	"github.com/yungbote/pdfsum-backend/internal/modules/chunker"
	"github.com/yungbote/pdfsum-backend/internal/modules/extraction"
	"github.com/yungbote/pdfsum-backend/internal/pkg/dbctx"
	"github.com/yungbote/pdfsum-backend/internal/pkg/errors"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
)

// Progress milestones shared by every pipeline.
const (
	PctExtracted    = 20
	PctChunked      = 30
	PctIndexed      = 50
	PctSectionsDone = 90
)

// ProgressFunc reports a non-terminal milestone.
type ProgressFunc func(stage string, pct int, msg string)

type PrepareDeps struct {
	DB        *gorm.DB
	Log       *logger.Logger
	Documents repos.DocumentRepo
	Chunks    repos.ChunkRepo
	Extractor *extraction.Extractor
	Lease     LeaseConfig
}

type PrepareInput struct {
	Document *types.Document
	// Owner holds the document lease while extracting; usually the job id.
	Owner    uuid.UUID
	Chunking chunker.Config
	// Force re-extracts even when the document already has chunks.
	Force       bool
	Progress    ProgressFunc
	CheckCancel func(ctx context.Context) error
}

type PrepareOutput struct {
	Document   *types.Document
	Chunks     []*types.Chunk
	Extracted  bool
	EmptyPages int
}

// ChunkConfigFor applies a template's chunking strategy over the env defaults.
func ChunkConfigFor(tpl *types.Template) chunker.Config {
	cfg := chunker.ConfigFromEnv()
	if tpl == nil {
		return cfg
	}
	s := tpl.Strategy.Data()
	if s.ChunkSize > 0 {
		cfg.ChunkSize = s.ChunkSize
	}
	if s.ChunkOverlap > 0 {
		cfg.Overlap = s.ChunkOverlap
	}
	if s.MinChunkSize > 0 {
		cfg.MinChunkSize = s.MinChunkSize
	}
	return cfg
}

func hasChunks(doc *types.Document) bool {
	return doc.ChunkCount > 0 && slices.Contains(docdomain.ChunkedStatuses, doc.Status)
}

/*
PrepareDocument makes sure the document has pages and chunks.
  - Chunks are write-once: a document that was already chunked is reused.
  - Otherwise the job claims the document lease (uploaded or failed to
    extracting) and extracts (20%) and chunks (30%); pages, chunks and the
    document counters are written in one transaction under the lease.
  - A job that loses the claim waits for the holder and then reuses its
    chunks, or takes over once the holder gave up.
  - Any extraction or chunking failure marks the document failed with a
    user-facing message. Cancellation puts it back to uploaded.
*/
func PrepareDocument(ctx context.Context, deps PrepareDeps, in PrepareInput) (PrepareOutput, error) {
	doc := in.Document
	out := PrepareOutput{Document: doc}
	if doc == nil {
		return out, fmt.Errorf("prepare: %w: missing document", errors.ErrInvalidArgument)
	}
	progress := in.Progress
	if progress == nil {
		progress = func(string, int, string) {}
	}
	owner := in.Owner
	if owner == uuid.Nil {
		owner = uuid.New()
	}
	lease := deps.Lease.withDefaults()
	log := deps.Log.With("document_id", doc.ID)
	dbc := dbctx.Context{Ctx: ctx}

	force := in.Force
	waiting := false
	for {
		fresh, err := deps.Documents.GetByID(dbc, doc.ID)
		if err != nil {
			return out, err
		}
		if fresh == nil {
			return out, fmt.Errorf("document %s: %w", doc.ID, errors.ErrNotFound)
		}
		*doc = *fresh

		if !force && hasChunks(doc) {
			chunks, err := deps.Chunks.ListByDocument(dbc, doc.ID)
			if err != nil {
				return out, err
			}
			if len(chunks) == doc.ChunkCount {
				out.Chunks = chunks
				progress("chunking", PctChunked, fmt.Sprintf("Using %d existing chunks", len(chunks)))
				return out, nil
			}
			log.Warn("Chunk count mismatch, re-chunking", "expected", doc.ChunkCount, "found", len(chunks))
			force = true
		}

		from := []string{docdomain.StatusUploaded, docdomain.StatusFailed, docdomain.StatusExtracting}
		if force {
			from = append(from, docdomain.ChunkedStatuses...)
		}
		ok, err := deps.Documents.ClaimLease(dbc, doc.ID, owner, from, time.Now().Add(-lease.TTL), map[string]interface{}{
			"status":        docdomain.StatusExtracting,
			"error_message": "",
		})
		if err != nil {
			return out, err
		}
		if ok {
			break
		}
		if !waiting {
			waiting = true
			log.Info("Waiting for another job to finish extracting")
			progress("extraction", 0, "Waiting for another job to finish extracting")
		}
		if err := waitTurn(ctx, lease.PollInterval, in.CheckCancel); err != nil {
			return out, err
		}
	}
	doc.Status = docdomain.StatusExtracting
	doc.LeaseJobID = &owner

	res, err := deps.Extractor.Extract(ctx, doc.ObjectKey)
	if err != nil {
		return out, markUnprepared(ctx, deps, doc, owner, fmt.Errorf("extract: %w", err))
	}
	progress("extraction", PctExtracted, fmt.Sprintf("Extracted text from %d pages", res.PageCount))

	if in.CheckCancel != nil {
		if cerr := in.CheckCancel(ctx); cerr != nil {
			return out, markUnprepared(ctx, deps, doc, owner, cerr)
		}
	}

	chunks, err := chunker.Chunk(res.Pages, in.Chunking)
	if err != nil {
		return out, markUnprepared(ctx, deps, doc, owner, fmt.Errorf("chunk: %w", err))
	}

	pages := make([]*types.DocumentPage, 0, len(res.Pages))
	for _, p := range res.Pages {
		pages = append(pages, &types.DocumentPage{
			DocumentID: doc.ID,
			PageNumber: p.Number,
			Text:       p.Text,
			WordCount:  len(strings.Fields(p.Text)),
		})
	}
	for _, c := range chunks {
		c.DocumentID = doc.ID
	}
	updates := map[string]interface{}{
		"page_count":      res.PageCount,
		"total_words":     res.TotalWords,
		"chunk_count":     len(chunks),
		"embedding_count": 0,
		"status":          docdomain.StatusChunked,
		"error_message":   "",
		"lease_job_id":    nil,
		"lease_at":        nil,
		"updated_at":      time.Now(),
	}
	err = dbc.DB(deps.DB).Transaction(func(txx *gorm.DB) error {
		inner := dbctx.Context{Ctx: ctx, Tx: txx}
		if err := deps.Documents.ReplacePages(inner, doc.ID, pages); err != nil {
			return fmt.Errorf("store pages: %w", err)
		}
		if err := deps.Chunks.ReplaceChunks(inner, doc.ID, chunks); err != nil {
			return fmt.Errorf("store chunks: %w", err)
		}
		ok, err := deps.Documents.UpdateLeased(inner, doc.ID, owner, updates)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("store chunks: %w", errors.ErrLeaseLost)
		}
		return nil
	})
	if err != nil {
		return out, markUnprepared(ctx, deps, doc, owner, err)
	}

	doc.PageCount = res.PageCount
	doc.TotalWords = res.TotalWords
	doc.ChunkCount = len(chunks)
	doc.EmbeddingCount = 0
	doc.Status = docdomain.StatusChunked
	doc.ErrorMessage = ""
	doc.LeaseJobID = nil
	doc.LeaseAt = nil

	out.Chunks = chunks
	out.Extracted = true
	out.EmptyPages = res.EmptyPages
	progress("chunking", PctChunked, fmt.Sprintf("Split %d pages into %d chunks", res.PageCount, len(chunks)))
	log.Info("Document prepared", "pages", res.PageCount, "words", res.TotalWords, "chunks", len(chunks))
	return out, nil
}

// markUnprepared records why preparation stopped, releases the lease and
// returns err unchanged. Nothing is written once the lease was lost.
func markUnprepared(ctx context.Context, deps PrepareDeps, doc *types.Document, owner uuid.UUID, err error) error {
	status := docdomain.StatusFailed
	msg := runtime.UserMessage(err)
	if runtime.Stopped(err) {
		status, msg = docdomain.StatusUploaded, ""
	}
	ok, uerr := deps.Documents.UpdateLeased(dbctx.Context{Ctx: context.WithoutCancel(ctx)}, doc.ID, owner, map[string]interface{}{
		"status":        status,
		"error_message": msg,
		"lease_job_id":  nil,
		"lease_at":      nil,
	})
	switch {
	case uerr != nil:
		deps.Log.Warn("Document status write failed", "document_id", doc.ID, "error", uerr)
	case !ok:
		deps.Log.Warn("Document lease lost before status write", "document_id", doc.ID)
		return err
	}
	doc.Status = status
	doc.ErrorMessage = msg
	doc.LeaseJobID = nil
	return err
}
