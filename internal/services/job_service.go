package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/pdfsum-backend/internal/data/repos"
	types "github.com/yungbote/pdfsum-backend/internal/domain"
	jobsdomain "github.com/yungbote/pdfsum-backend/internal/domain/jobs"
	summarydomain "github.com/yungbote/pdfsum-backend/internal/domain/summaries"
	"github.com/yungbote/pdfsum-backend/internal/modules/search"
	"github.com/yungbote/pdfsum-backend/internal/pkg/dbctx"
	"github.com/yungbote/pdfsum-backend/internal/pkg/errors"
	"github.com/yungbote/pdfsum-backend/internal/platform/envutil"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
	"github.com/yungbote/pdfsum-backend/internal/platform/redislock"
)

type EnqueueInput struct {
	// OwnerUserID is uuid.Nil for operator tooling, which skips the owner check.
	OwnerUserID uuid.UUID
	DocumentID  uuid.UUID
	JobType     string
	Payload     map[string]any
	// SummaryID reuses an existing summary instead of creating one (retry).
	SummaryID *uuid.UUID
	RetryOf   *uuid.UUID
}

type JobService interface {
	Enqueue(dbc dbctx.Context, in EnqueueInput) (*types.JobRun, error)
	Get(dbc dbctx.Context, ownerUserID, jobID uuid.UUID) (*types.JobRun, error)
	ListByDocument(dbc dbctx.Context, ownerUserID, documentID uuid.UUID) ([]*types.JobRun, error)
	Cancel(dbc dbctx.Context, ownerUserID, jobID uuid.UUID) (*types.JobRun, error)
	Retry(dbc dbctx.Context, ownerUserID, jobID uuid.UUID) (*types.JobRun, error)
	// RecoverStuck force-fails pending jobs and running jobs that are idle or
	// have been running for longer than olderThan.
	RecoverStuck(ctx context.Context, olderThan time.Duration) (int, error)
}

type JobServiceDeps struct {
	DB        *gorm.DB
	Log       *logger.Logger
	Jobs      repos.JobRunRepo
	Documents repos.DocumentRepo
	Summaries repos.SummaryRepo
	Templates repos.TemplateRepo
	Locker    redislock.Locker
	Notify    JobNotifier
	// JobTimeout bounds how long the dedupe lock lives without a release.
	JobTimeout time.Duration
}

type jobService struct {
	db        *gorm.DB
	log       *logger.Logger
	jobs      repos.JobRunRepo
	documents repos.DocumentRepo
	summaries repos.SummaryRepo
	templates repos.TemplateRepo
	locker    redislock.Locker
	notify    JobNotifier
	lockTTL   time.Duration
}

func NewJobService(deps JobServiceDeps) JobService {
	timeout := deps.JobTimeout
	if timeout <= 0 {
		timeout = JobTimeoutFromEnv()
	}
	notify := deps.Notify
	if notify == nil {
		notify = NewNopJobNotifier()
	}
	locker := deps.Locker
	if locker == nil {
		locker = redislock.NewLocal()
	}
	return &jobService{
		db:        deps.DB,
		log:       deps.Log.With("service", "JobService"),
		jobs:      deps.Jobs,
		documents: deps.Documents,
		summaries: deps.Summaries,
		templates: deps.Templates,
		locker:    locker,
		notify:    notify,
		lockTTL:   timeout + 5*time.Minute,
	}
}

// JobTimeoutFromEnv reads JOB_TIMEOUT_MINUTES (default 60).
func JobTimeoutFromEnv() time.Duration {
	return time.Duration(envutil.IntClamp("JOB_TIMEOUT_MINUTES", 60, 1, 24*60)) * time.Minute
}

// TimeoutMessage is the standard error for jobs force-failed after timeout.
func TimeoutMessage(timeout time.Duration) string {
	return fmt.Sprintf(jobsdomain.TimeoutMessageFormat, int(timeout.Minutes()))
}

func (s *jobService) Enqueue(dbc dbctx.Context, in EnqueueInput) (*types.JobRun, error) {
	ctx := dbc.Ctx
	if ctx == nil {
		ctx = context.Background()
		dbc.Ctx = ctx
	}
	if !jobsdomain.IsValidType(in.JobType) {
		return nil, fmt.Errorf("%w: unknown job_type %q", errors.ErrInvalidArgument, in.JobType)
	}
	doc, err := s.documents.GetByID(dbc, in.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc == nil || (in.OwnerUserID != uuid.Nil && doc.OwnerUserID != in.OwnerUserID) {
		return nil, fmt.Errorf("document %s: %w", in.DocumentID, errors.ErrNotFound)
	}
	payload := map[string]any{}
	for k, v := range in.Payload {
		payload[k] = v
	}

	jobID := uuid.New()
	summaryID := in.SummaryID
	var newSummary *types.Summary

	switch in.JobType {
	case jobsdomain.TypeSummarize:
		if summaryID == nil {
			tpl, err := s.resolveTemplate(dbc, payload)
			if err != nil {
				return nil, err
			}
			payload[jobsdomain.PayloadTemplateID] = tpl.ID.String()
			newSummary = &types.Summary{
				ID:          uuid.New(),
				OwnerUserID: doc.OwnerUserID,
				DocumentID:  doc.ID,
				TemplateID:  tpl.ID,
				JobID:       &jobID,
				Status:      summarydomain.StatusProcessing,
			}
			summaryID = &newSummary.ID
		} else if err := s.checkSummary(dbc, doc, *summaryID); err != nil {
			return nil, err
		}
	case jobsdomain.TypeRegenerateSection:
		if summaryID == nil {
			id, err := uuid.Parse(fmt.Sprint(payload[jobsdomain.PayloadSummaryID]))
			if err != nil {
				return nil, fmt.Errorf("%w: summary_id is required", errors.ErrInvalidArgument)
			}
			summaryID = &id
		}
		title := strings.TrimSpace(fmt.Sprint(payload[jobsdomain.PayloadSection]))
		if title == "" || payload[jobsdomain.PayloadSection] == nil {
			return nil, fmt.Errorf("%w: section is required", errors.ErrInvalidArgument)
		}
		if err := s.checkSummary(dbc, doc, *summaryID); err != nil {
			return nil, err
		}
		payload[jobsdomain.PayloadSummaryID] = summaryID.String()
	case jobsdomain.TypeSearch:
		q := SearchQueryFromPayload(doc.OwnerUserID, doc.ID, payload)
		if _, err := q.Normalize(); err != nil {
			return nil, err
		}
		if !doc.Searchable() {
			return nil, fmt.Errorf("document %s is %s: %w", doc.ID, doc.Status, errors.ErrDocumentNotReady)
		}
	}

	key := jobsdomain.LockKey(doc.ID, in.JobType)
	ok, err := s.locker.Acquire(ctx, key, jobID.String(), s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire job lock: %w", err)
	}
	if !ok {
		return nil, errors.ErrJobAlreadyRunning
	}
	created := false
	defer func() {
		if !created {
			if rerr := s.locker.Release(context.Background(), key, jobID.String()); rerr != nil {
				s.log.Warn("Release job lock failed", "key", key, "error", rerr)
			}
		}
	}()

	active, err := s.jobs.HasActiveForDocument(dbc, doc.ID, in.JobType)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, errors.ErrJobAlreadyRunning
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	now := time.Now()
	job := &types.JobRun{
		ID:          jobID,
		OwnerUserID: doc.OwnerUserID,
		DocumentID:  doc.ID,
		JobType:     in.JobType,
		Status:      jobsdomain.StatusPending,
		Stage:       "queued",
		Message:     "Queued",
		SummaryID:   summaryID,
		RetryOf:     in.RetryOf,
		Payload:     datatypes.JSON(raw),
		Result:      datatypes.JSON([]byte(`{}`)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = dbc.DB(s.db).Transaction(func(txx *gorm.DB) error {
		inner := dbctx.Context{Ctx: ctx, Tx: txx}
		if newSummary != nil {
			if _, err := s.summaries.Create(inner, newSummary); err != nil {
				return fmt.Errorf("create summary: %w", err)
			}
		}
		if _, err := s.jobs.Create(inner, []*types.JobRun{job}); err != nil {
			return fmt.Errorf("create job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	created = true

	s.notify.JobCreated(job.OwnerUserID, job)
	s.log.Info("Job enqueued",
		"job_id", job.ID,
		"job_type", job.JobType,
		"document_id", doc.ID,
		"user_id", job.OwnerUserID,
		"retry_of", in.RetryOf,
	)
	return job, nil
}

func (s *jobService) resolveTemplate(dbc dbctx.Context, payload map[string]any) (*types.Template, error) {
	var (
		tpl *types.Template
		err error
	)
	if raw, ok := payload[jobsdomain.PayloadTemplateID]; ok && raw != nil && fmt.Sprint(raw) != "" {
		id, perr := uuid.Parse(fmt.Sprint(raw))
		if perr != nil {
			return nil, fmt.Errorf("%w: invalid template_id", errors.ErrInvalidArgument)
		}
		tpl, err = s.templates.GetByID(dbc, id)
	} else {
		tpl, err = s.templates.GetDefault(dbc)
	}
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, fmt.Errorf("template: %w", errors.ErrNotFound)
	}
	if len(tpl.Sections) == 0 {
		return nil, errors.ErrTemplateHasNoSections
	}
	return tpl, nil
}

func (s *jobService) checkSummary(dbc dbctx.Context, doc *types.Document, summaryID uuid.UUID) error {
	sum, err := s.summaries.GetByID(dbc, summaryID)
	if err != nil {
		return err
	}
	if sum == nil || sum.DocumentID != doc.ID {
		return fmt.Errorf("summary %s: %w", summaryID, errors.ErrNotFound)
	}
	return nil
}

// SearchQueryFromPayload builds a search query from a job payload.
func SearchQueryFromPayload(ownerUserID, documentID uuid.UUID, payload map[string]any) search.Query {
	q := search.Query{OwnerUserID: ownerUserID, DocumentID: documentID}
	if v, ok := payload[jobsdomain.PayloadQuery]; ok && v != nil {
		q.Text = fmt.Sprint(v)
	}
	switch v := payload[jobsdomain.PayloadTopK].(type) {
	case float64:
		q.TopK = int(v)
	case int:
		q.TopK = v
	}
	switch v := payload[jobsdomain.PayloadMinSimilarity].(type) {
	case float64:
		q.MinSimilarity = &v
	}
	return q
}

func (s *jobService) Get(dbc dbctx.Context, ownerUserID, jobID uuid.UUID) (*types.JobRun, error) {
	if jobID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing job id", errors.ErrInvalidArgument)
	}
	job, err := s.jobs.GetByID(dbc, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil || (ownerUserID != uuid.Nil && job.OwnerUserID != ownerUserID) {
		return nil, fmt.Errorf("job %s: %w", jobID, errors.ErrNotFound)
	}
	return job, nil
}

func (s *jobService) ListByDocument(dbc dbctx.Context, ownerUserID, documentID uuid.UUID) ([]*types.JobRun, error) {
	doc, err := s.documents.GetByID(dbc, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil || (ownerUserID != uuid.Nil && doc.OwnerUserID != ownerUserID) {
		return nil, fmt.Errorf("document %s: %w", documentID, errors.ErrNotFound)
	}
	return s.jobs.ListByDocument(dbc, documentID, 50)
}

// Cancel cancels a pending job on the spot. A running job is only flagged;
// the worker observes the flag at its next checkpoint.
func (s *jobService) Cancel(dbc dbctx.Context, ownerUserID, jobID uuid.UUID) (*types.JobRun, error) {
	job, err := s.Get(dbc, ownerUserID, jobID)
	if err != nil {
		return nil, err
	}
	if jobsdomain.IsTerminal(job.Status) {
		return nil, fmt.Errorf("job %s is %s: %w", job.ID, job.Status, errors.ErrJobNotCancellable)
	}

	if job.Status == jobsdomain.StatusPending {
		now := time.Now()
		ok, err := s.jobs.UpdateFieldsUnlessStatus(dbc, job.ID,
			[]string{jobsdomain.StatusRunning, jobsdomain.StatusCompleted, jobsdomain.StatusFailed, jobsdomain.StatusCancelled},
			map[string]interface{}{
				"status":           jobsdomain.StatusCancelled,
				"stage":            "cancelled",
				"message":          "Cancelled",
				"cancel_requested": true,
				"completed_at":     now,
				"locked_at":        nil,
				"updated_at":       now,
			})
		if err != nil {
			return nil, err
		}
		if ok {
			if _, err := s.summaries.FinishProcessingForJob(dbc, job.ID, summarydomain.StatusCancelled, "Cancelled before processing started"); err != nil {
				s.log.Warn("Cancel summary failed", "job_id", job.ID, "error", err)
			}
			s.releaseLock(job)
			job, err = s.Get(dbc, ownerUserID, jobID)
			if err != nil {
				return nil, err
			}
			s.notify.JobCancelled(job.OwnerUserID, job)
			s.log.Info("Pending job cancelled", "job_id", job.ID, "job_type", job.JobType)
			return job, nil
		}
		// Claimed in the meantime: fall through to the running path.
	}

	ok, err := s.jobs.RequestCancel(dbc, job.ID)
	if err != nil {
		return nil, err
	}
	job, err = s.Get(dbc, ownerUserID, jobID)
	if err != nil {
		return nil, err
	}
	if !ok && jobsdomain.IsTerminal(job.Status) {
		return nil, fmt.Errorf("job %s is %s: %w", job.ID, job.Status, errors.ErrJobNotCancellable)
	}
	s.log.Info("Cancellation requested", "job_id", job.ID, "job_type", job.JobType)
	return job, nil
}

// Retry re-runs a failed or cancelled job as a new job with the same payload
// and summary. The old row is kept for history.
func (s *jobService) Retry(dbc dbctx.Context, ownerUserID, jobID uuid.UUID) (*types.JobRun, error) {
	job, err := s.Get(dbc, ownerUserID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != jobsdomain.StatusFailed && job.Status != jobsdomain.StatusCancelled {
		return nil, fmt.Errorf("job %s is %s: %w", job.ID, job.Status, errors.ErrJobNotRetryable)
	}
	payload := map[string]any{}
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return nil, fmt.Errorf("decode payload of job %s: %w", job.ID, err)
		}
	}
	retryOf := job.ID
	return s.Enqueue(dbc, EnqueueInput{
		OwnerUserID: job.OwnerUserID,
		DocumentID:  job.DocumentID,
		JobType:     job.JobType,
		Payload:     payload,
		SummaryID:   job.SummaryID,
		RetryOf:     &retryOf,
	})
}

func (s *jobService) RecoverStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		olderThan = s.lockTTL - 5*time.Minute
	}
	dbc := dbctx.Context{Ctx: ctx}
	cutoff := time.Now().Add(-olderThan)
	stuck, err := s.jobs.ListStuck(dbc, cutoff, cutoff, 0)
	if err != nil {
		return 0, err
	}
	msg := TimeoutMessage(olderThan)
	n := 0
	for _, job := range stuck {
		now := time.Now()
		ok, err := s.jobs.UpdateFieldsUnlessStatus(dbc, job.ID, jobsdomain.TerminalStatuses, map[string]interface{}{
			"status":        jobsdomain.StatusFailed,
			"stage":         "timeout",
			"message":       "",
			"error_message": msg,
			"completed_at":  now,
			"locked_at":     nil,
			"updated_at":    now,
		})
		if err != nil {
			s.log.Warn("Fail stuck job failed", "job_id", job.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		if _, err := s.summaries.FailProcessingForJob(dbc, job.ID, msg); err != nil {
			s.log.Warn("Fail summary of stuck job failed", "job_id", job.ID, "error", err)
		}
		if _, err := s.documents.ReleaseLeasesHeldBy(dbc, job.ID, msg); err != nil {
			s.log.Warn("Release document lease of stuck job failed", "job_id", job.ID, "error", err)
		}
		s.releaseLock(job)
		job.Status = jobsdomain.StatusFailed
		job.ErrorMessage = msg
		s.notify.JobFailed(job.OwnerUserID, job, "timeout", msg)
		n++
	}
	if n > 0 {
		s.log.Warn("Recovered stuck jobs", "count", n, "older_than", olderThan.String())
	}
	return n, nil
}

func (s *jobService) releaseLock(job *types.JobRun) {
	key := jobsdomain.LockKey(job.DocumentID, job.JobType)
	if err := s.locker.Release(context.Background(), key, job.ID.String()); err != nil {
		s.log.Warn("Release job lock failed", "key", key, "error", err)
	}
}
