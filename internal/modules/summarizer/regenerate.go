package summarizer

import (
	"context"
	"fmt"
	"time"

	types "github.com/yungbote/pdfsum-backend/internal/domain"
	"github.com/yungbote/pdfsum-backend/internal/pkg/errors"
)

// RegenerateSection produces a fresh version of one template section.
// Section titles match case-sensitively.
func (s *Summarizer) RegenerateSection(ctx context.Context, in Input, title string) (types.SummarySection, Result, error) {
	started := time.Now()
	if in.Template == nil {
		return types.SummarySection{}, Result{}, fmt.Errorf("summarizer: %w: missing template", errors.ErrInvalidArgument)
	}
	sec, ok := in.Template.SectionByTitle(title)
	if !ok {
		return types.SummarySection{}, Result{}, fmt.Errorf("section %q not found in template %q: %w", title, in.Template.Name, errors.ErrNotFound)
	}
	r := s.newRun(in)
	out := s.section(ctx, r, sec)

	res := Result{
		Sections:  []types.SummarySection{out},
		TokensIn:  int(r.tokensIn.Load()),
		TokensOut: int(r.tokensOut.Load()),
		Duration:  time.Since(started),
	}
	r.mu.Lock()
	res.EstimatedCost = r.costUSD
	res.Model = r.model
	res.BudgetExceeded = r.budgetErr != nil
	stopErr := r.budgetErr
	if stopErr == nil {
		stopErr = r.stopErr
	}
	r.mu.Unlock()
	if out.Failed() {
		res.FailedSections = []string{out.Title}
	}
	res.Status = Outcome(res.Sections)
	if stopErr != nil {
		res.Err = stopErr
		return out, res, stopErr
	}
	if out.Failed() {
		return out, res, fmt.Errorf("regenerate %q: %s", title, out.ErrorMessage)
	}
	return out, res, nil
}

// ReplaceSection returns sections with the entry titled like sec replaced,
// or sec appended in order when missing.
func ReplaceSection(sections []types.SummarySection, sec types.SummarySection) []types.SummarySection {
	out := make([]types.SummarySection, 0, len(sections)+1)
	replaced := false
	for _, s := range sections {
		if s.Title == sec.Title {
			out = append(out, sec)
			replaced = true
			continue
		}
		out = append(out, s)
	}
	if !replaced {
		out = append(out, sec)
	}
	sortSections(out)
	return out
}
