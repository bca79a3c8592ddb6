package steps

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/pdfsum-backend/internal/data/repos"
	types "github.com/yungbote/pdfsum-backend/internal/domain"
	docdomain "github.com/yungbote/pdfsum-backend/internal/domain/documents"
	"github.com/yungbote/pdfsum-backend/internal/jobs/runtime"
	"github.com/yungbote/pdfsum-backend/internal/modules/indexer"
	"github.com/yungbote/pdfsum-backend/internal/pkg/dbctx"
	"github.com/yungbote/pdfsum-backend/internal/pkg/errors"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
)

type IndexDeps struct {
	Log       *logger.Logger
	Documents repos.DocumentRepo
	Indexer   *indexer.Indexer
	Lease     LeaseConfig
}

type IndexInput struct {
	Document *types.Document
	// Owner holds the document lease while embedding; usually the job id.
	Owner       uuid.UUID
	Chunks      []*types.Chunk
	Progress    ProgressFunc
	CheckCancel func(ctx context.Context) error
}

// IncompleteIndexError reports batches that failed while the rest of the
// document was indexed. Persisted embeddings are kept; a retry embeds only
// the remaining chunks.
type IncompleteIndexError struct {
	FailedBatches []int
	TotalBatches  int
	Remaining     int
	Err           error
}

func (e *IncompleteIndexError) Error() string {
	msg := fmt.Sprintf("%d of %d embedding batches failed; %d chunks are not indexed yet. Retry the job to embed only the remaining chunks",
		len(e.FailedBatches), e.TotalBatches, e.Remaining)
	if e.Err != nil {
		msg += " (first error: " + e.Err.Error() + ")"
	}
	return msg
}

func (e *IncompleteIndexError) Unwrap() error { return e.Err }

func alreadyIndexed(doc *types.Document) bool {
	return doc.Status == docdomain.StatusIndexed && doc.ChunkCount > 0 && doc.EmbeddingCount >= doc.ChunkCount
}

/*
IndexDocument embeds every chunk that has no embedding yet and moves the
document to indexed or partially_indexed. Embedding maps onto 30..50%.

Indexing runs under the document lease, so an embed job and a summarize job
on the same document never embed (and bill) the same chunk twice: the
second waits, then finds nothing left to embed.

The returned error is the indexer's stop reason (cancellation, budget) or an
*IncompleteIndexError when only some batches failed.
*/
func IndexDocument(ctx context.Context, deps IndexDeps, in IndexInput) (indexer.IndexResult, error) {
	doc := in.Document
	progress := in.Progress
	if progress == nil {
		progress = func(string, int, string) {}
	}
	owner := in.Owner
	if owner == uuid.Nil {
		owner = uuid.New()
	}
	lease := deps.Lease.withDefaults()
	dbc := dbctx.Context{Ctx: ctx}

	waiting := false
	for {
		fresh, err := deps.Documents.GetByID(dbc, doc.ID)
		if err != nil {
			return indexer.IndexResult{}, err
		}
		if fresh == nil {
			return indexer.IndexResult{}, fmt.Errorf("document %s: %w", doc.ID, errors.ErrNotFound)
		}
		*doc = *fresh
		if alreadyIndexed(doc) {
			progress("embedding", PctIndexed, fmt.Sprintf("All %d chunks already indexed", doc.ChunkCount))
			return indexer.IndexResult{TotalChunks: doc.ChunkCount, Embedded: doc.EmbeddingCount}, nil
		}
		if !slices.Contains(docdomain.ChunkedStatuses, doc.Status) {
			return indexer.IndexResult{}, fmt.Errorf("document %s is %s: %w", doc.ID, doc.Status, errors.ErrDocumentNotReady)
		}
		ok, err := deps.Documents.ClaimLease(dbc, doc.ID, owner, docdomain.ChunkedStatuses, time.Now().Add(-lease.TTL), nil)
		if err != nil {
			return indexer.IndexResult{}, err
		}
		if ok {
			break
		}
		if !waiting {
			waiting = true
			deps.Log.Info("Waiting for another job to finish embedding", "document_id", doc.ID)
			progress("embedding", PctChunked, "Waiting for another job to finish embedding")
		}
		if err := waitTurn(ctx, lease.PollInterval, in.CheckCancel); err != nil {
			return indexer.IndexResult{}, err
		}
	}

	span := PctIndexed - PctChunked
	res, err := deps.Indexer.Index(ctx, indexer.IndexInput{
		OwnerUserID: doc.OwnerUserID,
		DocumentID:  doc.ID,
		Chunks:      in.Chunks,
		Hooks: indexer.Hooks{
			OnBatch: func(done, total int) {
				pct := PctChunked + span*done/max(total, 1)
				progress("embedding", pct, fmt.Sprintf("Embedded batch %d of %d", done, total))
			},
			CheckCancel: in.CheckCancel,
		},
	})

	status := doc.Status
	switch {
	case res.TotalChunks > 0 && res.Complete():
		status = docdomain.StatusIndexed
	case res.Embedded > 0:
		status = docdomain.StatusPartiallyIndexed
	}
	msg := ""
	if err == nil && len(res.FailedBatches) > 0 {
		err = &IncompleteIndexError{
			FailedBatches: res.FailedBatches,
			TotalBatches:  res.TotalBatches,
			Remaining:     res.Remaining,
			Err:           res.FirstError,
		}
	}
	if err != nil && !runtime.Stopped(err) {
		msg = runtime.UserMessage(err)
	}
	ok, uerr := deps.Documents.UpdateLeased(dbctx.Context{Ctx: context.WithoutCancel(ctx)}, doc.ID, owner, map[string]interface{}{
		"embedding_count": res.Embedded,
		"status":          status,
		"error_message":   msg,
		"lease_job_id":    nil,
		"lease_at":        nil,
		"updated_at":      time.Now(),
	})
	if uerr != nil {
		releaseLease(ctx, deps.Documents, deps.Log, doc.ID, owner)
		return res, fmt.Errorf("update document counters: %w", uerr)
	}
	if !ok {
		deps.Log.Warn("Document lease lost before counters write", "document_id", doc.ID)
	}
	doc.EmbeddingCount = res.Embedded
	doc.Status = status
	doc.ErrorMessage = msg
	doc.LeaseJobID = nil
	doc.LeaseAt = nil

	if err == nil {
		progress("embedding", PctIndexed, fmt.Sprintf("Indexed %d of %d chunks", res.Embedded, res.TotalChunks))
	}
	deps.Log.Info("Document indexed",
		"document_id", doc.ID,
		"status", status,
		"embedded", res.Embedded,
		"remaining", res.Remaining,
		"failed_batches", res.FailedBatches,
		"budget_exceeded", res.BudgetExceeded,
	)
	return res, err
}
