package summarizer

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/pdfsum-backend/internal/data/repos"
	"github.com/yungbote/pdfsum-backend/internal/data/repos/testutil"
	types "github.com/yungbote/pdfsum-backend/internal/domain"
	"github.com/yungbote/pdfsum-backend/internal/domain/summaries"
	"github.com/yungbote/pdfsum-backend/internal/domain/templates"
	"github.com/yungbote/pdfsum-backend/internal/modules/costguard"
	"github.com/yungbote/pdfsum-backend/internal/modules/search"
	"github.com/yungbote/pdfsum-backend/internal/platform/llm"
	"github.com/yungbote/pdfsum-backend/internal/platform/llm/llmtest"
)

var titleRe = regexp.MustCompile(`\*\*Section Title:\*\* ([^\n]+)`)

func sectionOf(req llm.CompletionRequest) string {
	m := titleRe.FindStringSubmatch(req.Prompt)
	if m == nil {
		return ""
	}
	return m[1]
}

// tenPageDoc builds 40 chunks over 10 pages, four per page.
func tenPageDoc() (*types.Document, []*types.Chunk) {
	doc := &types.Document{ID: uuid.New(), OwnerUserID: uuid.New(), PageCount: 10, TotalWords: 4000}
	chunks := make([]*types.Chunk, 40)
	for i := range chunks {
		chunks[i] = &types.Chunk{
			ID:            uuid.New(),
			DocumentID:    doc.ID,
			Order:         i,
			Text:          fmt.Sprintf("chunk %d discusses revenue and hiring", i),
			PageNumber:    i/4 + 1,
			PageEnd:       i/4 + 1,
			WordCount:     100,
			TokenEstimate: 100,
		}
	}
	return doc, chunks
}

func template3(sections ...types.Section) *types.Template {
	if len(sections) == 0 {
		sections = []types.Section{
			{Title: "Risks", GuidancePrompt: "List the risks", Order: 3, Required: true},
			{Title: "Overview", GuidancePrompt: "Summarize the document", Order: 1, Required: true},
			{Title: "Financials", GuidancePrompt: "Summarize the numbers", Order: 2, Required: true},
		}
	}
	return &types.Template{
		ID:           uuid.New(),
		Name:         "three",
		SystemPrompt: "You summarize.",
		Strategy:     datatypes.NewJSONType(templates.DefaultStrategy()),
		Sections:     datatypes.JSONSlice[types.Section](sections),
	}
}

func newSummarizer(t *testing.T, c llm.Completer, s Searcher, cfg Config) *Summarizer {
	t.Helper()
	return New(Deps{Log: testutil.Logger(t), Completer: c, Search: s}, cfg)
}

func TestSummarizeAssemblesSectionsInTemplateOrder(t *testing.T) {
	doc, chunks := tenPageDoc()
	fake := &llmtest.Completer{Reply: func(req llm.CompletionRequest) (string, error) {
		return "Content for " + sectionOf(req) + " with details.", nil
	}}
	sum := newSummarizer(t, fake, nil, DefaultConfig())

	var (
		mu       sync.Mutex
		progress []int
	)
	res, err := sum.Summarize(context.Background(), Input{
		OwnerUserID: doc.OwnerUserID,
		Document:    doc,
		Template:    template3(),
		Chunks:      chunks,
		Hooks: Hooks{OnSection: func(done, total int, title string) {
			if total != 3 {
				t.Errorf("expected total 3, got %d", total)
			}
			mu.Lock()
			progress = append(progress, done)
			mu.Unlock()
		}},
	})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if res.Status != summaries.StatusCompleted || len(res.FailedSections) != 0 {
		t.Fatalf("unexpected outcome %s %v", res.Status, res.FailedSections)
	}
	titles := []string{res.Sections[0].Title, res.Sections[1].Title, res.Sections[2].Title}
	if !reflect.DeepEqual(titles, []string{"Overview", "Financials", "Risks"}) {
		t.Fatalf("sections out of template order: %v", titles)
	}
	wantPages := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	for _, s := range res.Sections {
		if s.WordCount != len(strings.Fields(s.Content)) {
			t.Fatalf("%s: word count %d does not match content", s.Title, s.WordCount)
		}
		if !reflect.DeepEqual(s.PagesReferenced, wantPages) {
			t.Fatalf("%s: pages %v", s.Title, s.PagesReferenced)
		}
		if s.SourceChunks != 40 || len(s.SourceChunkIDs) != 40 {
			t.Fatalf("%s: expected 40 source chunks, got %d", s.Title, s.SourceChunks)
		}
		if !strings.Contains(s.Content, s.Title) {
			t.Fatalf("%s: content %q", s.Title, s.Content)
		}
	}
	if len(progress) != 3 {
		t.Fatalf("expected 3 progress callbacks, got %v", progress)
	}
	if res.TokensIn == 0 || res.TokensOut == 0 {
		t.Fatalf("expected token accounting, got %d/%d", res.TokensIn, res.TokensOut)
	}
	meta := res.Metadata(doc, len(chunks))
	if meta.TotalPages != 10 || meta.TotalChunks != 40 {
		t.Fatalf("unexpected metadata %+v", meta)
	}
}

func TestSummarizeMapsThenReducesLargeSections(t *testing.T) {
	doc, chunks := tenPageDoc()
	fake := &llmtest.Completer{Reply: func(req llm.CompletionRequest) (string, error) {
		if strings.HasPrefix(req.Prompt, "Extract") {
			return "notes", nil
		}
		return "Final synthesis.", nil
	}}
	cfg := DefaultConfig()
	cfg.ContextTokens = 200
	sum := newSummarizer(t, fake, nil, cfg)

	tpl := template3(types.Section{Title: "Overview", GuidancePrompt: "Summarize", Order: 1, Required: true})
	res, err := sum.Summarize(context.Background(), Input{Document: doc, Template: tpl, Chunks: chunks})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	// 4000 tokens in groups of 200 is 20 map calls plus one reduce
	if fake.Count() != 21 {
		t.Fatalf("expected 21 model calls, got %d", fake.Count())
	}
	reduce := ""
	for _, req := range fake.Requests {
		if !strings.HasPrefix(req.Prompt, "Extract") {
			reduce = req.Prompt
		}
	}
	if !strings.Contains(reduce, "[Notes 1.1 (Chunk 1 to Chunk 2), page 1]") {
		t.Fatalf("reduce prompt does not carry map provenance:\n%s", reduce)
	}
	if res.Sections[0].Content != "Final synthesis." {
		t.Fatalf("unexpected content %q", res.Sections[0].Content)
	}
}

func TestSummarizeSectionFailureIsFlagged(t *testing.T) {
	doc, chunks := tenPageDoc()
	fake := &llmtest.Completer{Reply: func(req llm.CompletionRequest) (string, error) {
		if sectionOf(req) == "Risks" {
			return "", llm.Permanent(errors.New("content policy violation"))
		}
		return "Fine.", nil
	}}
	sum := newSummarizer(t, fake, nil, DefaultConfig())
	res, err := sum.Summarize(context.Background(), Input{Document: doc, Template: template3(), Chunks: chunks})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if res.Status != summaries.StatusCompleted {
		t.Fatalf("expected completed with flagged section, got %s", res.Status)
	}
	if !reflect.DeepEqual(res.FailedSections, []string{"Risks"}) {
		t.Fatalf("unexpected failed sections %v", res.FailedSections)
	}
	risks := res.Sections[2]
	if risks.ErrorMessage == "" || risks.Content != "" || risks.WordCount != 0 {
		t.Fatalf("failed section not flagged: %+v", risks)
	}
}

func TestSummarizeAllRequiredFailedIsPartial(t *testing.T) {
	doc, chunks := tenPageDoc()
	tpl := template3(
		types.Section{Title: "Overview", Order: 1, Required: true},
		types.Section{Title: "Extras", Order: 2, Required: false},
	)
	fake := &llmtest.Completer{Reply: func(req llm.CompletionRequest) (string, error) {
		if sectionOf(req) == "Overview" {
			return "", errors.New("boom")
		}
		return "Optional content.", nil
	}}
	sum := newSummarizer(t, fake, nil, DefaultConfig())
	res, err := sum.Summarize(context.Background(), Input{Document: doc, Template: tpl, Chunks: chunks})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if res.Status != summaries.StatusPartial {
		t.Fatalf("expected partial, got %s", res.Status)
	}
	if res.Sections[1].Content != "Optional content." {
		t.Fatalf("usable content was not preserved: %+v", res.Sections[1])
	}
}

type fakeSearcher struct {
	hits []search.Hit
	last search.Query
}

func (f *fakeSearcher) Search(ctx context.Context, q search.Query) (search.Result, error) {
	f.last = q
	return search.Result{Hits: f.hits, TotalResults: len(f.hits)}, nil
}

func TestNarrowSectionUsesSimilaritySelection(t *testing.T) {
	doc, chunks := tenPageDoc()
	fs := &fakeSearcher{hits: []search.Hit{
		{ChunkID: chunks[9].ID, Score: 0.9},
		{ChunkID: chunks[2].ID, Score: 0.8},
		{ChunkID: chunks[21].ID, Score: 0.7},
	}}
	fake := &llmtest.Completer{}
	sum := newSummarizer(t, fake, fs, DefaultConfig())
	tpl := template3(
		types.Section{Title: "Risks", GuidancePrompt: "risk factors", Order: 1, Required: true, Scope: templates.ScopeNarrow},
	)
	res, err := sum.Summarize(context.Background(), Input{Document: doc, Template: tpl, Chunks: chunks})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if fs.last.Text != "risk factors" || fs.last.TopK != 20 || *fs.last.MinSimilarity != 0.3 {
		t.Fatalf("unexpected narrow query %+v", fs.last)
	}
	sec := res.Sections[0]
	want := []string{chunks[2].ID.String(), chunks[9].ID.String(), chunks[21].ID.String()}
	if !reflect.DeepEqual(sec.SourceChunkIDs, want) {
		t.Fatalf("expected chunks in document order, got %v", sec.SourceChunkIDs)
	}
	if !reflect.DeepEqual(sec.PagesReferenced, []int{1, 3, 6}) {
		t.Fatalf("unexpected pages %v", sec.PagesReferenced)
	}

	fs.hits = nil
	res, err = sum.Summarize(context.Background(), Input{Document: doc, Template: tpl, Chunks: chunks})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got := res.Sections[0].Content; got != "No relevant content found for section: Risks" {
		t.Fatalf("unexpected empty-section content %q", got)
	}
}

func TestSummarizeBudgetRejectionSkipsRemainingSections(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	guard := costguard.New(repos.New(db, log).Ledger, log, costguard.Config{MonthlyBudgetUSD: 0})
	doc, chunks := tenPageDoc()
	fake := &llmtest.Completer{}
	sum := New(Deps{Log: log, Guard: guard, Completer: fake}, Config{SectionConcurrency: 1})

	res, err := sum.Summarize(context.Background(), Input{OwnerUserID: doc.OwnerUserID, Document: doc, Template: template3(), Chunks: chunks})
	var be *costguard.BudgetExceededError
	if !errors.As(err, &be) {
		t.Fatalf("expected BudgetExceededError, got %v", err)
	}
	if !res.BudgetExceeded || len(res.FailedSections) != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
	if fake.Count() != 0 {
		t.Fatalf("provider called despite budget")
	}
	if res.Sections[1].ErrorMessage != skippedBudgetMessage && res.Sections[2].ErrorMessage != skippedBudgetMessage {
		t.Fatalf("expected later sections to be marked skipped: %+v", res.Sections)
	}
}

func TestSummarizeStopsOnCancel(t *testing.T) {
	doc, chunks := tenPageDoc()
	stop := errors.New("job cancelled")
	sum := newSummarizer(t, &llmtest.Completer{}, nil, DefaultConfig())
	res, err := sum.Summarize(context.Background(), Input{
		Document: doc, Template: template3(), Chunks: chunks,
		Hooks: Hooks{CheckCancel: func(context.Context) error { return stop }},
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected cancel error, got %v", err)
	}
	for _, s := range res.Sections {
		if !s.Failed() {
			t.Fatalf("section %s ran after cancellation", s.Title)
		}
	}
}

func TestRegenerateSectionReplacesInPlace(t *testing.T) {
	doc, chunks := tenPageDoc()
	fake := &llmtest.Completer{Reply: func(req llm.CompletionRequest) (string, error) { return "Regenerated.", nil }}
	sum := newSummarizer(t, fake, nil, DefaultConfig())
	tpl := template3()

	sec, _, err := sum.RegenerateSection(context.Background(), Input{Document: doc, Template: tpl, Chunks: chunks}, "Financials")
	if err != nil {
		t.Fatalf("RegenerateSection: %v", err)
	}
	existing := []types.SummarySection{
		{Title: "Overview", Order: 1, Content: "old overview"},
		{Title: "Financials", Order: 2, Content: "old numbers"},
		{Title: "Risks", Order: 3, Content: "old risks"},
	}
	updated := ReplaceSection(existing, sec)
	if len(updated) != 3 || updated[1].Content != "Regenerated." || updated[0].Content != "old overview" {
		t.Fatalf("unexpected sections after replace: %+v", updated)
	}

	if _, _, err := sum.RegenerateSection(context.Background(), Input{Document: doc, Template: tpl, Chunks: chunks}, "financials"); err == nil {
		t.Fatalf("expected case-sensitive title lookup to fail")
	}
}

func TestOutcome(t *testing.T) {
	ok := types.SummarySection{Content: "x"}
	bad := types.SummarySection{ErrorMessage: "x"}
	req := func(s types.SummarySection) types.SummarySection { s.Required = true; return s }
	cases := []struct {
		name     string
		sections []types.SummarySection
		want     string
	}{
		{"one required ok", []types.SummarySection{req(ok), req(bad)}, summaries.StatusCompleted},
		{"all required failed", []types.SummarySection{req(bad), ok}, summaries.StatusPartial},
		{"no required, one ok", []types.SummarySection{bad, ok}, summaries.StatusCompleted},
		{"nothing ok", []types.SummarySection{bad}, summaries.StatusPartial},
	}
	for _, tc := range cases {
		if got := Outcome(tc.sections); got != tc.want {
			t.Fatalf("%s: got %s want %s", tc.name, got, tc.want)
		}
	}
}
