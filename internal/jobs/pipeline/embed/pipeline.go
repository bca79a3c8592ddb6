package embed

import (
	"fmt"
	"time"

	jobrt "github.com/yungbote/pdfsum-backend/internal/jobs/runtime"
	"github.com/yungbote/pdfsum-backend/internal/jobs/steps"
	"github.com/yungbote/pdfsum-backend/internal/modules/chunker"
	"github.com/yungbote/pdfsum-backend/internal/modules/indexer"
	"github.com/yungbote/pdfsum-backend/internal/pkg/dbctx"
	"github.com/yungbote/pdfsum-backend/internal/pkg/errors"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	doc, err := p.documents.GetByID(dbctx.Context{Ctx: jc.Ctx}, jc.Job.DocumentID)
	if err != nil {
		jc.Fail("validate", err)
		return nil
	}
	if doc == nil {
		jc.Fail("validate", fmt.Errorf("document %s: %w", jc.Job.DocumentID, errors.ErrNotFound))
		return nil
	}

	stopHeartbeat := jc.StartHeartbeat(30 * time.Second)
	defer stopHeartbeat()

	// Chunks are reused when present; a document that never finished
	// extraction is prepared first.
	prep, err := steps.PrepareDocument(jc.Ctx, steps.PrepareDeps{
		DB:        p.db,
		Log:       p.log,
		Documents: p.documents,
		Chunks:    p.chunks,
		Extractor: p.extractor,
	}, steps.PrepareInput{
		Document:    doc,
		Owner:       jc.Job.ID,
		Chunking:    chunker.ConfigFromEnv(),
		Progress:    jc.Progress,
		CheckCancel: jc.CheckCancel,
	})
	if err != nil {
		if jobrt.Stopped(err) {
			jc.Halt("extraction", err, nil)
			return nil
		}
		jc.Fail("extraction", err)
		return nil
	}

	res, err := steps.IndexDocument(jc.Ctx, steps.IndexDeps{
		Log:       p.log,
		Documents: p.documents,
		Indexer:   p.indexer,
	}, steps.IndexInput{
		Document:    doc,
		Owner:       jc.Job.ID,
		Chunks:      prep.Chunks,
		Progress:    jc.Progress,
		CheckCancel: jc.CheckCancel,
	})

	result := Result(doc.ID.String(), doc.Status, res)
	if err != nil {
		if jobrt.Stopped(err) {
			jc.Halt("embedding", err, result)
			return nil
		}
		jc.FailWithResult("embedding", err, result)
		return nil
	}
	jc.Succeed("done", result)
	return nil
}

// Result is the job_run.result payload of an embed run.
func Result(documentID, documentStatus string, res indexer.IndexResult) map[string]any {
	out := map[string]any{
		"document_id":     documentID,
		"document_status": documentStatus,
		"total_chunks":    res.TotalChunks,
		"embedded":        res.Embedded,
		"remaining":       res.Remaining,
		"total_batches":   res.TotalBatches,
		"failed_batches":  len(res.FailedBatches),
		"budget_exceeded": res.BudgetExceeded,
	}
	if len(res.FailedBatches) > 0 {
		out["failed_batch_numbers"] = res.FailedBatches
	}
	if len(res.SkippedBatches) > 0 {
		out["skipped_batch_numbers"] = res.SkippedBatches
	}
	return out
}
