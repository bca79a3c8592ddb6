package regenerate_section

import (
	"errors"
	"strings"
	"testing"

	"github.com/yungbote/pdfsum-backend/internal/data/repos/testutil"
	types "github.com/yungbote/pdfsum-backend/internal/domain"
	jobsdomain "github.com/yungbote/pdfsum-backend/internal/domain/jobs"
	"github.com/yungbote/pdfsum-backend/internal/domain/summaries"
	"github.com/yungbote/pdfsum-backend/internal/jobs/pipeline/pipelinetest"
	"github.com/yungbote/pdfsum-backend/internal/jobs/pipeline/summarize"
	"github.com/yungbote/pdfsum-backend/internal/platform/llm"
)

// summarized runs a full summarize job and returns the finished summary.
func summarized(t *testing.T) (*pipelinetest.Env, *types.Document, *types.Summary) {
	t.Helper()
	env := pipelinetest.New(t, pipelinetest.Options{})
	env.Register(t,
		summarize.New(env.DB, pipelinetest.Logger(t), env.Repos, env.Extractor, env.Indexer, env.Summarizer),
		New(pipelinetest.Logger(t), env.Repos, env.Summarizer),
	)
	env.Completer.Reply = func(req llm.CompletionRequest) (string, error) {
		return "First draft of " + pipelinetest.SectionOf(req), nil
	}
	tpl := env.SummaryTemplate(t, false, "Overview", "Financials", "Risks")
	doc := env.UploadPages(t, 4, 200)
	job := env.Enqueue(t, doc, jobsdomain.TypeSummarize, map[string]any{"template_id": tpl.ID.String()})
	env.Drain(t)
	sum := env.Summary(t, *job.SummaryID)
	if sum.Status != summaries.StatusCompleted {
		t.Fatalf("setup summary status=%s err=%q", sum.Status, sum.ErrorMessage)
	}
	return env, doc, sum
}

func sectionContent(sum *types.Summary, title string) string {
	for _, s := range sum.Sections {
		if s.Title == title {
			return s.Content
		}
	}
	return ""
}

func TestRegenerateReplacesOneSection(t *testing.T) {
	env, doc, before := summarized(t)
	env.Completer.Reply = func(req llm.CompletionRequest) (string, error) {
		return "Second draft of " + pipelinetest.SectionOf(req), nil
	}
	job := env.Enqueue(t, doc, jobsdomain.TypeRegenerateSection, map[string]any{
		"summary_id": before.ID.String(),
		"section":    "Risks",
	})
	env.Drain(t)

	got := env.Job(t, job.ID)
	if got.Status != jobsdomain.StatusCompleted {
		t.Fatalf("job: status=%s err=%q", got.Status, got.ErrorMessage)
	}
	after := env.Summary(t, before.ID)
	if after.Status != summaries.StatusCompleted {
		t.Fatalf("summary status: %s", after.Status)
	}
	if !strings.Contains(sectionContent(after, "Risks"), "Second draft of Risks") {
		t.Fatalf("risks not regenerated: %q", sectionContent(after, "Risks"))
	}
	for _, title := range []string{"Overview", "Financials"} {
		if sectionContent(after, title) != sectionContent(before, title) {
			t.Fatalf("section %s changed", title)
		}
	}
	if len(after.Sections) != 3 || after.Sections[2].Title != "Risks" {
		t.Fatalf("section order changed: %+v", after.Sections)
	}
	if after.Metadata.Data().TokensIn <= before.Metadata.Data().TokensIn {
		t.Fatalf("regeneration tokens not added to metadata")
	}
}

func TestRegenerateFailureKeepsPreviousContent(t *testing.T) {
	env, doc, before := summarized(t)
	env.Completer.Reply = func(req llm.CompletionRequest) (string, error) {
		return "", llm.Permanent(errors.New("invalid request"))
	}
	job := env.Enqueue(t, doc, jobsdomain.TypeRegenerateSection, map[string]any{
		"summary_id": before.ID.String(),
		"section":    "Overview",
	})
	env.Drain(t)

	if got := env.Job(t, job.ID); got.Status != jobsdomain.StatusFailed || got.ErrorMessage == "" {
		t.Fatalf("job: status=%s err=%q", got.Status, got.ErrorMessage)
	}
	after := env.Summary(t, before.ID)
	if sectionContent(after, "Overview") != sectionContent(before, "Overview") || after.Status != summaries.StatusCompleted {
		t.Fatalf("failed regeneration must not touch the summary")
	}
}

func TestRegenerateUnknownSection(t *testing.T) {
	env, doc, before := summarized(t)
	calls := env.Completer.Count()
	job := env.Enqueue(t, doc, jobsdomain.TypeRegenerateSection, map[string]any{
		"summary_id": before.ID.String(),
		"section":    "risks",
	})
	env.Drain(t)

	got := env.Job(t, job.ID)
	if got.Status != jobsdomain.StatusFailed || !strings.Contains(got.ErrorMessage, `section "risks" not found`) {
		t.Fatalf("job: status=%s err=%q", got.Status, got.ErrorMessage)
	}
	if env.Completer.Count() != calls {
		t.Fatalf("no model call expected for an unknown section")
	}
}

func TestRegenerateRequiresChunks(t *testing.T) {
	env := pipelinetest.New(t, pipelinetest.Options{})
	env.Register(t, New(pipelinetest.Logger(t), env.Repos, env.Summarizer))
	doc := testutil.SeedDocument(t, env.DB, env.Owner, "")
	tpl := testutil.SeedTemplate(t, env.DB, "Overview")
	sum := &types.Summary{
		OwnerUserID: env.Owner,
		DocumentID:  doc.ID,
		TemplateID:  tpl.ID,
		Status:      summaries.StatusFailed,
	}
	if _, err := env.Repos.Summaries.Create(env.DBC(), sum); err != nil {
		t.Fatalf("create summary: %v", err)
	}
	job := env.Enqueue(t, doc, jobsdomain.TypeRegenerateSection, map[string]any{
		"summary_id": sum.ID.String(),
		"section":    "Overview",
	})
	env.Drain(t)

	if got := env.Job(t, job.ID); got.Status != jobsdomain.StatusFailed {
		t.Fatalf("job: status=%s", got.Status)
	}
}
