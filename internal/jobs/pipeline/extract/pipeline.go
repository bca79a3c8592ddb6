package extract

import (
	"fmt"
	"time"

	"github.com/yungbote/pdfsum-backend/internal/domain/jobs"
	jobrt "github.com/yungbote/pdfsum-backend/internal/jobs/runtime"
	"github.com/yungbote/pdfsum-backend/internal/jobs/steps"
	"github.com/yungbote/pdfsum-backend/internal/modules/chunker"
	"github.com/yungbote/pdfsum-backend/internal/pkg/dbctx"
	"github.com/yungbote/pdfsum-backend/internal/pkg/errors"
	"github.com/yungbote/pdfsum-backend/internal/services"
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

	jc.Progress("extraction", 5, "Extracting text")
	stopHeartbeat := jc.StartHeartbeat(30 * time.Second)
	defer stopHeartbeat()
	out, err := steps.PrepareDocument(jc.Ctx, steps.PrepareDeps{
		DB:        p.db,
		Log:       p.log,
		Documents: p.documents,
		Chunks:    p.chunks,
		Extractor: p.extractor,
	}, steps.PrepareInput{
		Document:    doc,
		Owner:       jc.Job.ID,
		Chunking:    chunker.ConfigFromEnv(),
		Force:       jc.Payload()["force"] == true,
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

	result := map[string]any{
		"document_id": doc.ID.String(),
		"page_count":  doc.PageCount,
		"total_words": doc.TotalWords,
		"chunk_count": len(out.Chunks),
		"empty_pages": out.EmptyPages,
		"reused":      !out.Extracted,
	}
	if p.jobs != nil {
		next, err := p.jobs.Enqueue(dbctx.Context{Ctx: jc.Ctx}, services.EnqueueInput{
			OwnerUserID: doc.OwnerUserID,
			DocumentID:  doc.ID,
			JobType:     jobs.TypeEmbed,
		})
		switch {
		case err == nil:
			result["embed_job_id"] = next.ID.String()
		case errors.Is(err, errors.ErrJobAlreadyRunning):
			jc.Log.Info("Embed job already active")
		default:
			// The document is chunked either way; indexing can be requested later.
			jc.Log.Warn("Enqueue embed job failed", "error", err)
		}
	}
	jc.Succeed("done", result)
	return nil
}
