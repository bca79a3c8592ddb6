package runtime

import (
	"context"

	"github.com/yungbote/pdfsum-backend/internal/modules/chunker"
	"github.com/yungbote/pdfsum-backend/internal/modules/costguard"
	"github.com/yungbote/pdfsum-backend/internal/pkg/errors"
	"github.com/yungbote/pdfsum-backend/internal/platform/llm"
)

// UserMessage turns a handler error into the text stored in error_message.
// Known failure classes get actionable wording; anything else keeps its own
// message so nothing is hidden.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var extractErr *chunker.ExtractionError
	if errors.As(err, &extractErr) {
		return extractErr.Error() + ". Upload a PDF with selectable text."
	}
	var budgetErr *costguard.BudgetExceededError
	if errors.As(err, &budgetErr) {
		return budgetErr.Error()
	}
	switch {
	case errors.Is(err, errors.ErrTemplateHasNoSections):
		return "The selected template has no sections. Add at least one section and try again."
	case errors.Is(err, errors.ErrDocumentNotReady):
		return "The document is not ready yet. Wait for extraction and indexing to finish."
	case errors.Is(err, errors.ErrLeaseLost):
		return "Another job took over this document before this one finished. Retry the job."
	case errors.Is(err, context.DeadlineExceeded):
		return "The job ran out of time. Please try again."
	}
	var permErr *llm.PermanentError
	if errors.As(err, &permErr) {
		return "The model provider rejected the request: " + permErr.Error()
	}
	return err.Error()
}

// Stopped reports whether err means the run was told to stop (cancellation,
// external terminal write, shutdown) rather than failing on its own.
func Stopped(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, ErrFinished) || errors.Is(err, context.Canceled)
}
