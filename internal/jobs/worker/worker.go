package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"github.com/yungbote/pdfsum-backend/internal/data/repos"
	types "github.com/yungbote/pdfsum-backend/internal/domain"
	jobsdomain "github.com/yungbote/pdfsum-backend/internal/domain/jobs"
	"github.com/yungbote/pdfsum-backend/internal/jobs/runtime"
	"github.com/yungbote/pdfsum-backend/internal/observability"
	"github.com/yungbote/pdfsum-backend/internal/pkg/dbctx"
	"github.com/yungbote/pdfsum-backend/internal/platform/envutil"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
	"github.com/yungbote/pdfsum-backend/internal/platform/redislock"
	"github.com/yungbote/pdfsum-backend/internal/services"
)

type Config struct {
	Concurrency  int
	PollInterval time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		Concurrency:  envutil.IntClamp("WORKER_CONCURRENCY", 4, 1, 64),
		PollInterval: envutil.Duration("WORKER_POLL_INTERVAL", time.Second),
	}
}

type Worker struct {
	db       *gorm.DB
	log      *logger.Logger
	repo     repos.JobRunRepo
	registry *runtime.Registry
	notify   services.JobNotifier
	locker   redislock.Locker
	cfg      Config
	wg       sync.WaitGroup
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, repo repos.JobRunRepo, registry *runtime.Registry, notify services.JobNotifier, locker redislock.Locker, cfg Config) *Worker {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Worker{
		db:       db,
		log:      baseLog.With("component", "JobWorker"),
		repo:     repo,
		registry: registry,
		notify:   notify,
		locker:   locker,
		cfg:      cfg,
	}
}

// Start launches the polling loops and returns. Wait blocks until they exit
// after ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.log.Info("Starting job worker pool", "concurrency", w.cfg.Concurrency, "job_types", w.registry.Types())
	for i := 0; i < w.cfg.Concurrency; i++ {
		workerID := i + 1
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.runLoop(ctx, workerID)
		}()
	}
}

func (w *Worker) Wait() { w.wg.Wait() }

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			// Drain the queue before waiting for the next tick.
			for ctx.Err() == nil {
				ran, err := w.RunOnce(ctx)
				if err != nil {
					w.log.Warn("Claim failed", "worker_id", workerID, "error", err)
					break
				}
				if !ran {
					break
				}
			}
		}
	}
}

// RunOnce claims and runs at most one pending job. It reports whether a job
// was claimed.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.repo.ClaimNextPending(dbctx.Context{Ctx: ctx})
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	w.run(ctx, job)
	return true, nil
}

func (w *Worker) run(ctx context.Context, job *types.JobRun) {
	started := time.Now()
	ctx, span := observability.StartSpan(ctx, "job.run",
		attribute.String("job.id", job.ID.String()),
		attribute.String("job.type", job.JobType),
		attribute.String("document.id", job.DocumentID.String()),
	)
	defer span.End()

	jc := runtime.NewContext(ctx, w.db, job, w.repo, w.notify, w.locker, w.log)
	jc.Log.Info("Job claimed", "attempt", job.Attempts)

	h, ok := w.registry.Get(job.JobType)
	if !ok {
		jc.Log.Warn("No handler registered for job_type")
		jc.Fail("dispatch", &missingHandlerError{JobType: job.JobType})
		w.observe(jc, started)
		return
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				jc.Log.Error("Job handler panic", "panic", r)
				jc.Fail("panic", errFromRecover(r))
			}
		}()
		if runErr := h.Run(jc); runErr != nil {
			// Most pipelines call jc.Fail themselves; this is a safety net.
			jc.Fail("run", runErr)
			span.RecordError(runErr)
		}
	}()
	if !jc.Finished() {
		jc.Fail("run", fmt.Errorf("handler for %s returned without a terminal status", job.JobType))
	}
	if jc.Job.Status != jobsdomain.StatusCompleted {
		span.SetStatus(codes.Error, jc.Job.Status)
	}
	w.observe(jc, started)
}

func (w *Worker) observe(jc *runtime.Context, started time.Time) {
	dur := time.Since(started)
	observability.Current().ObserveJob(jc.Job.JobType, jc.Job.Status, dur)
	jc.Log.Info("Job finished", "status", jc.Job.Status, "stage", jc.Job.Stage, "duration_ms", dur.Milliseconds())
}

type missingHandlerError struct{ JobType string }

func (e *missingHandlerError) Error() string { return "no handler registered for job_type=" + e.JobType }

func errFromRecover(v any) error { return &panicError{Val: v} }

type panicError struct{ Val any }

func (e *panicError) Error() string { return "internal error while running the job; please retry" }
