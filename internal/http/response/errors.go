package response

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/pdfsum-backend/internal/modules/chunker"
	"github.com/yungbote/pdfsum-backend/internal/modules/costguard"
	pkgerrors "github.com/yungbote/pdfsum-backend/internal/pkg/errors"
)

var errInternal = errors.New("internal error")

// HTTPError pins an error to a status and code. Handlers may return one
// directly to bypass classification.
type HTTPError struct {
	Status int
	Code   string
	Err    error
}

func NewHTTPError(status int, code string, err error) *HTTPError {
	return &HTTPError{Status: status, Code: code, Err: err}
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s (%d)", e.Code, e.Status)
}

func (e *HTTPError) Unwrap() error { return e.Err }

// Classify maps a service error onto an HTTP status and error code.
// Unclassified errors become a 500 without leaking their text.
func Classify(err error) *HTTPError {
	var ae *HTTPError
	if errors.As(err, &ae) {
		return ae
	}
	var xerr *chunker.ExtractionError
	if errors.As(err, &xerr) {
		return NewHTTPError(http.StatusConflict, "extraction_failed", err)
	}
	var berr *costguard.BudgetExceededError
	if errors.As(err, &berr) {
		return NewHTTPError(http.StatusConflict, "budget_exceeded", err)
	}
	switch {
	case errors.Is(err, pkgerrors.ErrJobAlreadyRunning):
		return NewHTTPError(http.StatusConflict, "job_already_running", err)
	case errors.Is(err, pkgerrors.ErrJobNotCancellable):
		return NewHTTPError(http.StatusConflict, "job_not_cancellable", err)
	case errors.Is(err, pkgerrors.ErrJobNotRetryable):
		return NewHTTPError(http.StatusConflict, "job_not_retryable", err)
	case errors.Is(err, pkgerrors.ErrDocumentNotReady):
		return NewHTTPError(http.StatusConflict, "document_not_ready", err)
	case errors.Is(err, pkgerrors.ErrDocumentBusy):
		return NewHTTPError(http.StatusConflict, "document_busy", err)
	case errors.Is(err, pkgerrors.ErrTemplateHasNoSections):
		return NewHTTPError(http.StatusUnprocessableEntity, "template_has_no_sections", err)
	case errors.Is(err, pkgerrors.ErrNotFound):
		return NewHTTPError(http.StatusNotFound, "not_found", err)
	case errors.Is(err, pkgerrors.ErrInvalidArgument):
		return NewHTTPError(http.StatusBadRequest, "invalid_argument", err)
	}
	return NewHTTPError(http.StatusInternalServerError, "internal_error", errInternal)
}

// Error writes the classified error envelope.
func Error(c *gin.Context, err error) {
	ae := Classify(err)
	if ae.Status >= 500 {
		_ = c.Error(err)
	}
	RespondError(c, ae.Status, ae.Code, ae.Err)
}
