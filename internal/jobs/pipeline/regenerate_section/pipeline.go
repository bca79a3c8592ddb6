package regenerate_section

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	jobsdomain "github.com/yungbote/pdfsum-backend/internal/domain/jobs"
	summarydomain "github.com/yungbote/pdfsum-backend/internal/domain/summaries"
	jobrt "github.com/yungbote/pdfsum-backend/internal/jobs/runtime"
	"github.com/yungbote/pdfsum-backend/internal/modules/summarizer"
	"github.com/yungbote/pdfsum-backend/internal/pkg/dbctx"
	"github.com/yungbote/pdfsum-backend/internal/pkg/errors"
)

// replaceable lists the summary statuses a regenerated section may be merged
// into. A summary still being produced by its own job is left alone.
var replaceable = []string{
	summarydomain.StatusCompleted,
	summarydomain.StatusPartial,
	summarydomain.StatusFailed,
	summarydomain.StatusCancelled,
}

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	dbc := dbctx.Context{Ctx: jc.Ctx}

	summaryID := uuid.Nil
	if jc.Job.SummaryID != nil {
		summaryID = *jc.Job.SummaryID
	} else if id, ok := jc.PayloadUUID(jobsdomain.PayloadSummaryID); ok {
		summaryID = id
	}
	title := jc.PayloadString(jobsdomain.PayloadSection)
	if title == "" {
		jc.Fail("validate", fmt.Errorf("%w: section is required", errors.ErrInvalidArgument))
		return nil
	}

	sum, err := p.summaries.GetByID(dbc, summaryID)
	if err == nil && (sum == nil || sum.DocumentID != jc.Job.DocumentID) {
		err = fmt.Errorf("summary %s: %w", summaryID, errors.ErrNotFound)
	}
	if err != nil {
		jc.Fail("validate", err)
		return nil
	}
	if sum.Status == summarydomain.StatusProcessing {
		jc.Fail("validate", fmt.Errorf("summary %s is still being generated: %w", sum.ID, errors.ErrDocumentNotReady))
		return nil
	}
	doc, err := p.documents.GetByID(dbc, sum.DocumentID)
	if err == nil && doc == nil {
		err = fmt.Errorf("document %s: %w", sum.DocumentID, errors.ErrNotFound)
	}
	if err != nil {
		jc.Fail("validate", err)
		return nil
	}
	tpl, err := p.templates.GetByID(dbc, sum.TemplateID)
	if err == nil && tpl == nil {
		err = fmt.Errorf("template %s: %w", sum.TemplateID, errors.ErrNotFound)
	}
	if err != nil {
		jc.Fail("validate", err)
		return nil
	}
	if _, ok := tpl.SectionByTitle(title); !ok {
		jc.Fail("validate", fmt.Errorf("section %q not found in template %q: %w", title, tpl.Name, errors.ErrNotFound))
		return nil
	}
	chunks, err := p.chunks.ListByDocument(dbc, doc.ID)
	if err != nil {
		jc.Fail("load_chunks", err)
		return nil
	}
	if len(chunks) == 0 {
		jc.Fail("load_chunks", fmt.Errorf("document %s has no chunks: %w", doc.ID, errors.ErrDocumentNotReady))
		return nil
	}

	jc.Progress("summarizing", 10, fmt.Sprintf("Regenerating section: %s", title))
	stopHeartbeat := jc.StartHeartbeat(30 * time.Second)
	sec, res, err := p.summarizer.RegenerateSection(jc.Ctx, summarizer.Input{
		OwnerUserID: doc.OwnerUserID,
		Document:    doc,
		Template:    tpl,
		Chunks:      chunks,
		Hooks:       summarizer.Hooks{CheckCancel: jc.CheckCancel},
	}, title)
	stopHeartbeat()

	result := map[string]any{
		"summary_id": sum.ID.String(),
		"section":    title,
		"tokens_in":  res.TokensIn,
		"tokens_out": res.TokensOut,
	}
	if err != nil {
		// The previous version of the section stays in place.
		if jobrt.Stopped(err) {
			jc.Halt("summarizing", err, result)
			return nil
		}
		jc.FailWithResult("summarizing", err, result)
		return nil
	}

	jc.Progress("finalizing", 90, "Saving section")
	sections := summarizer.ReplaceSection(sum.Sections, sec)
	status := summarizer.Outcome(sections)

	meta := sum.Metadata.Data()
	meta.TokensIn += res.TokensIn
	meta.TokensOut += res.TokensOut
	meta.EstimatedCost += res.EstimatedCost
	meta.FailedSections = nil
	for _, s := range sections {
		if s.Failed() {
			meta.FailedSections = append(meta.FailedSections, s.Title)
		}
	}
	if res.Model != "" {
		meta.Model = res.Model
	}
	errMsg := ""
	if status == summarydomain.StatusPartial {
		errMsg = sum.ErrorMessage
	}

	ok, err := p.summaries.UpdateFieldsIfStatus(dbc, sum.ID, replaceable, map[string]interface{}{
		"status":        status,
		"sections":      datatypes.NewJSONSlice(sections),
		"metadata":      datatypes.NewJSONType(meta),
		"error_message": errMsg,
		"updated_at":    time.Now(),
	})
	if err == nil && !ok {
		err = fmt.Errorf("summary %s started regenerating elsewhere: %w", sum.ID, errors.ErrDocumentNotReady)
	}
	if err != nil {
		jc.FailWithResult("finalizing", err, result)
		return nil
	}
	result["summary_status"] = status
	result["word_count"] = sec.WordCount
	jc.Succeed("done", result)
	return nil
}
