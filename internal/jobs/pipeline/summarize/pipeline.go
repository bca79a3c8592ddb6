package summarize

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/yungbote/pdfsum-backend/internal/domain"
	jobsdomain "github.com/yungbote/pdfsum-backend/internal/domain/jobs"
	summarydomain "github.com/yungbote/pdfsum-backend/internal/domain/summaries"
	jobrt "github.com/yungbote/pdfsum-backend/internal/jobs/runtime"
	"github.com/yungbote/pdfsum-backend/internal/jobs/steps"
	"github.com/yungbote/pdfsum-backend/internal/modules/costguard"
	"github.com/yungbote/pdfsum-backend/internal/modules/summarizer"
	"github.com/yungbote/pdfsum-backend/internal/pkg/dbctx"
	"github.com/yungbote/pdfsum-backend/internal/pkg/errors"
)

// PartialError is the job failure for a summary whose required sections all
// failed. The generated content is still stored on the summary.
type PartialError struct {
	Failed []string
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("All required sections failed (%s). Any generated sections were kept; retry the job or regenerate individual sections.",
		strings.Join(e.Failed, ", "))
}

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	dbc := dbctx.Context{Ctx: jc.Ctx}

	summaryID := uuid.Nil
	if jc.Job.SummaryID != nil {
		summaryID = *jc.Job.SummaryID
	}
	sum, err := p.summaries.GetByID(dbc, summaryID)
	if err != nil {
		jc.Fail("validate", err)
		return nil
	}
	if sum == nil {
		jc.Fail("validate", fmt.Errorf("summary %s: %w", summaryID, errors.ErrNotFound))
		return nil
	}
	doc, err := p.documents.GetByID(dbc, jc.Job.DocumentID)
	if err == nil && doc == nil {
		err = fmt.Errorf("document %s: %w", jc.Job.DocumentID, errors.ErrNotFound)
	}
	if err != nil {
		p.failSummary(jc, sum, err)
		jc.Fail("validate", err)
		return nil
	}
	templateID := sum.TemplateID
	if id, ok := jc.PayloadUUID(jobsdomain.PayloadTemplateID); ok {
		templateID = id
	}
	tpl, err := p.templates.GetByID(dbc, templateID)
	if err == nil && tpl == nil {
		err = fmt.Errorf("template %s: %w", templateID, errors.ErrNotFound)
	}
	if err == nil && len(tpl.Sections) == 0 {
		err = errors.ErrTemplateHasNoSections
	}
	if err != nil {
		p.failSummary(jc, sum, err)
		jc.Fail("validate", err)
		return nil
	}

	p.claimSummary(jc, sum)

	// Waiting on another job's document lease reports no progress, so the
	// heartbeat covers preparation too.
	stopHeartbeat := jc.StartHeartbeat(30 * time.Second)
	defer stopHeartbeat()

	// Extraction and chunking (0..30).
	prep, err := steps.PrepareDocument(jc.Ctx, steps.PrepareDeps{
		DB:        p.db,
		Log:       p.log,
		Documents: p.documents,
		Chunks:    p.chunks,
		Extractor: p.extractor,
	}, steps.PrepareInput{
		Document:    doc,
		Owner:       jc.Job.ID,
		Chunking:    steps.ChunkConfigFor(tpl),
		Progress:    jc.Progress,
		CheckCancel: jc.CheckCancel,
	})
	if err != nil {
		p.stopOrFail(jc, sum, "extraction", err, nil)
		return nil
	}

	// Indexing (30..50). Failed batches only narrow what scoped sections can
	// retrieve, so the run continues; budget and cancellation stop it.
	ixRes, err := steps.IndexDocument(jc.Ctx, steps.IndexDeps{
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
	if err != nil {
		var incomplete *steps.IncompleteIndexError
		if !errors.As(err, &incomplete) {
			p.stopOrFail(jc, sum, "embedding", err, nil)
			return nil
		}
		jc.Log.Warn("Continuing with a partial index", "remaining", ixRes.Remaining, "failed_batches", ixRes.FailedBatches)
	}

	// Sections (50..90).
	total := len(tpl.Sections)
	jc.Progress("summarizing", steps.PctIndexed, fmt.Sprintf("Generating %d sections", total))
	res, err := p.summarizer.Summarize(jc.Ctx, summarizer.Input{
		OwnerUserID: doc.OwnerUserID,
		Document:    doc,
		Template:    tpl,
		Chunks:      prep.Chunks,
		Hooks: summarizer.Hooks{
			OnSection: func(done, total int, title string) {
				pct := steps.PctIndexed + (steps.PctSectionsDone-steps.PctIndexed)*done/max(total, 1)
				jc.Progress("summarizing", pct, fmt.Sprintf("Generated section %d of %d: %s", done, total, title))
			},
			CheckCancel: jc.CheckCancel,
		},
	})
	meta := res.Metadata(doc, len(prep.Chunks))
	result := map[string]any{
		"summary_id":      sum.ID.String(),
		"sections":        len(res.Sections),
		"failed_sections": res.FailedSections,
		"tokens_in":       res.TokensIn,
		"tokens_out":      res.TokensOut,
		"estimated_cost":  res.EstimatedCost,
		"embedded":        ixRes.Embedded,
		"total_chunks":    ixRes.TotalChunks,
	}

	if err != nil {
		// Budget rejection or cancellation: keep what was generated.
		status := summarydomain.StatusPartial
		if jobrt.Stopped(err) {
			status = summarydomain.StatusCancelled
		}
		result["summary_status"] = status
		if len(res.Sections) > 0 {
			p.saveSummary(jc, sum, status, res.Sections, meta, jobrt.UserMessage(err))
		}
		p.stopOrFail(jc, sum, "summarizing", err, result)
		return nil
	}

	jc.Progress("finalizing", steps.PctSectionsDone, "Saving summary")
	result["summary_status"] = res.Status
	if res.Status == summarydomain.StatusPartial {
		perr := &PartialError{Failed: res.FailedSections}
		p.saveSummary(jc, sum, res.Status, res.Sections, meta, perr.Error())
		jc.FailWithResult("summarizing", perr, result)
		return nil
	}
	if err := p.saveSummary(jc, sum, res.Status, res.Sections, meta, ""); err != nil {
		jc.FailWithResult("finalizing", err, result)
		return nil
	}
	jc.Succeed("done", result)
	return nil
}

// writable decides whether this run may overwrite the summary. A retry that
// reuses a summary replaces delivered content only with a completed result.
func writable(sum *types.Summary, jobID uuid.UUID, status string) bool {
	if sum.JobID != nil && *sum.JobID == jobID {
		return true
	}
	if status == summarydomain.StatusCompleted {
		return true
	}
	switch sum.Status {
	case summarydomain.StatusCompleted, summarydomain.StatusPartial:
		return false
	}
	return true
}

func (p *Pipeline) saveSummary(jc *jobrt.Context, sum *types.Summary, status string, sections []types.SummarySection, meta types.SummaryMetadata, errMsg string) error {
	if !writable(sum, jc.Job.ID, status) {
		jc.Log.Info("Keeping existing summary content", "summary_id", sum.ID, "existing_status", sum.Status, "new_status", status)
		return nil
	}
	jobID := jc.Job.ID
	err := p.summaries.UpdateFields(dbctx.Context{Ctx: jc.Ctx}, sum.ID, map[string]interface{}{
		"job_id":        &jobID,
		"status":        status,
		"sections":      datatypes.NewJSONSlice(sections),
		"metadata":      datatypes.NewJSONType(meta),
		"error_message": errMsg,
		"updated_at":    time.Now(),
	})
	if err != nil {
		jc.Log.Error("Save summary failed", "summary_id", sum.ID, "error", err)
		return fmt.Errorf("save summary: %w", err)
	}
	sum.Status = status
	sum.JobID = &jobID
	return nil
}

// claimSummary points a retried summary at this job. Delivered content
// (completed or partial) stays visible until it is replaced.
func (p *Pipeline) claimSummary(jc *jobrt.Context, sum *types.Summary) {
	if sum.JobID != nil && *sum.JobID == jc.Job.ID {
		return
	}
	if sum.Status == summarydomain.StatusCompleted || sum.Status == summarydomain.StatusPartial {
		return
	}
	jobID := jc.Job.ID
	err := p.summaries.UpdateFields(dbctx.Context{Ctx: jc.Ctx}, sum.ID, map[string]interface{}{
		"job_id":        &jobID,
		"status":        summarydomain.StatusProcessing,
		"error_message": "",
		"updated_at":    time.Now(),
	})
	if err != nil {
		jc.Log.Warn("Claim summary failed", "summary_id", sum.ID, "error", err)
		return
	}
	sum.JobID = &jobID
	sum.Status = summarydomain.StatusProcessing
}

// failSummary marks a summary this job owns as failed without touching content.
func (p *Pipeline) failSummary(jc *jobrt.Context, sum *types.Summary, err error) {
	if sum.JobID == nil || *sum.JobID != jc.Job.ID || summarydomain.IsTerminal(sum.Status) {
		return
	}
	status := summarydomain.StatusFailed
	msg := jobrt.UserMessage(err)
	if jobrt.Stopped(err) {
		status, msg = summarydomain.StatusCancelled, "Cancelled"
	}
	if _, ferr := p.summaries.FinishProcessingForJob(dbctx.Context{Ctx: jc.Ctx}, jc.Job.ID, status, msg); ferr != nil {
		jc.Log.Warn("Finish summary failed", "summary_id", sum.ID, "error", ferr)
	}
}

func (p *Pipeline) stopOrFail(jc *jobrt.Context, sum *types.Summary, stage string, err error, result any) {
	p.failSummary(jc, sum, err)
	if jobrt.Stopped(err) {
		jc.Halt(stage, err, result)
		return
	}
	var budgetErr *costguard.BudgetExceededError
	if errors.As(err, &budgetErr) {
		jc.Log.Warn("Summarization stopped by budget", "spent", budgetErr.Spent, "budget", budgetErr.Budget)
	}
	jc.FailWithResult(stage, err, result)
}
