package errors

import "errors"

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrJobAlreadyRunning is returned at enqueue time when a pending or running
	// job already exists for the same (document_id, job_type).
	ErrJobAlreadyRunning = errors.New("a job of this type is already running for this document")
	// ErrJobNotCancellable is returned when cancelling a job that is already terminal.
	ErrJobNotCancellable = errors.New("job is not cancellable")
	// ErrJobNotRetryable is returned when retrying a job that is not failed or cancelled.
	ErrJobNotRetryable = errors.New("job is not retryable")
	// ErrDocumentNotReady is returned when a document has not finished indexing.
	ErrDocumentNotReady = errors.New("document is not ready")
	// ErrTemplateHasNoSections is a permanent input error for empty templates.
	ErrTemplateHasNoSections = errors.New("template has no sections")
	// ErrDocumentBusy is returned when deleting a document that still has
	// pending or running jobs.
	ErrDocumentBusy = errors.New("document has active jobs")
	// ErrChunksWritten guards the write-once chunk set: chunks can only be
	// replaced while the document is being extracted.
	ErrChunksWritten = errors.New("document chunks are already written")
	// ErrLeaseLost means another job took over a document write.
	ErrLeaseLost = errors.New("another job took over this document")
)

// Is, As and Join re-export the stdlib helpers so callers only need one errors import.
var (
	Is   = errors.Is
	As   = errors.As
	New  = errors.New
	Join = errors.Join
)
