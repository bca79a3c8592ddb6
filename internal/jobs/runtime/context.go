package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/pdfsum-backend/internal/data/repos"
	types "github.com/yungbote/pdfsum-backend/internal/domain"
	jobsdomain "github.com/yungbote/pdfsum-backend/internal/domain/jobs"
	"github.com/yungbote/pdfsum-backend/internal/pkg/dbctx"
	"github.com/yungbote/pdfsum-backend/internal/pkg/errors"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
	"github.com/yungbote/pdfsum-backend/internal/platform/redislock"
	"github.com/yungbote/pdfsum-backend/internal/services"
)

// ErrCancelled is returned by CheckCancel once a user asked to stop the job.
var ErrCancelled = errors.New("job cancelled")

// ErrFinished is returned by CheckCancel when the row already reached a
// terminal status behind the handler's back (e.g. the stuck-job sweeper).
var ErrFinished = errors.New("job already finished")

/*
Context is the capability-scoped handle for a single claimed job run.
Handlers never write job_run directly; every lifecycle write goes through
Progress, Fail, Succeed or Cancelled, which are guarded so a terminal row is
never overwritten and which release the per-document lock on exit.
*/
type Context struct {
	Ctx    context.Context
	DB     *gorm.DB
	Job    *types.JobRun
	Repo   repos.JobRunRepo
	Notify services.JobNotifier
	Locker redislock.Locker
	Log    *logger.Logger

	// mu serializes lifecycle writes; hooks may report from several goroutines.
	mu       sync.Mutex
	payload  map[string]any
	finished bool
}

func NewContext(ctx context.Context, db *gorm.DB, job *types.JobRun, repo repos.JobRunRepo, notify services.JobNotifier, locker redislock.Locker, baseLog *logger.Logger) *Context {
	if notify == nil {
		notify = services.NewNopJobNotifier()
	}
	if baseLog == nil {
		baseLog = logger.Nop()
	}
	c := &Context{
		Ctx:    ctx,
		DB:     db,
		Job:    job,
		Repo:   repo,
		Notify: notify,
		Locker: locker,
	}
	if job != nil {
		c.Log = baseLog.With("job_id", job.ID, "job_type", job.JobType, "document_id", job.DocumentID)
	} else {
		c.Log = baseLog
	}
	_ = c.decodePayload()
	return c
}

func (c *Context) decodePayload() error {
	if c.Job == nil || len(c.Job.Payload) == 0 {
		c.payload = map[string]any{}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(c.Job.Payload, &m); err != nil {
		c.payload = map[string]any{}
		return err
	}
	c.payload = m
	return nil
}

// Payload never returns nil.
func (c *Context) Payload() map[string]any {
	if c.payload == nil {
		c.payload = map[string]any{}
	}
	return c.payload
}

func (c *Context) PayloadUUID(key string) (uuid.UUID, bool) {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(fmt.Sprint(v))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func (c *Context) PayloadString(key string) string {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// Finished reports whether this handle already wrote a terminal status.
func (c *Context) Finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}

func (c *Context) ctx() context.Context {
	if c.Ctx == nil {
		return context.Background()
	}
	return c.Ctx
}

/*
Progress records a non-terminal milestone. Progress never decreases: the
repository clamps it, and writes against a row that is no longer running are
dropped. Every accepted write also refreshes the heartbeat the sweeper uses.
*/
func (c *Context) Progress(stage string, pct int, msg string) {
	if c == nil || c.Job == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return
	}
	if c.Repo != nil {
		ok, err := c.Repo.UpdateProgress(dbctx.Context{Ctx: c.ctx()}, c.Job.ID, stage, pct, msg)
		if err != nil {
			c.Log.Warn("Progress write failed", "stage", stage, "error", err)
			return
		}
		if !ok {
			return
		}
	}
	now := time.Now()
	c.Job.Stage = stage
	if pct > c.Job.Progress {
		c.Job.Progress = pct
	}
	c.Job.Message = msg
	c.Job.HeartbeatAt = &now
	c.Notify.JobProgress(c.Job.OwnerUserID, c.Job, stage, c.Job.Progress, msg)
}

/*
CheckCancel is the cooperative cancellation point handlers call between
units of work. It returns ErrCancelled when cancellation was requested,
ErrFinished when the row went terminal elsewhere, and ctx.Err() once the
worker is shutting down.
*/
func (c *Context) CheckCancel(ctx context.Context) error {
	if ctx == nil {
		ctx = c.ctx()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.Repo == nil || c.Job == nil {
		return nil
	}
	row, err := c.Repo.GetByID(dbctx.Context{Ctx: ctx}, c.Job.ID)
	if err != nil {
		return fmt.Errorf("check cancel: %w", err)
	}
	if row == nil {
		return ErrFinished
	}
	if row.CancelRequested || row.Status == jobsdomain.StatusCancelled {
		return ErrCancelled
	}
	if jobsdomain.IsTerminal(row.Status) {
		return ErrFinished
	}
	return nil
}

// Fail marks the run failed with a user-facing message derived from err.
func (c *Context) Fail(stage string, err error) bool {
	return c.FailWithResult(stage, err, nil)
}

// FailWithResult fails the run but keeps the partial result (embedded batch
// counts, generated sections) on the row.
func (c *Context) FailWithResult(stage string, err error, result any) bool {
	msg := UserMessage(err)
	if err != nil {
		c.Log.Warn("Job failed", "stage", stage, "error", err)
	}
	updates := map[string]interface{}{
		"status":        jobsdomain.StatusFailed,
		"stage":         stage,
		"message":       "",
		"error_message": msg,
	}
	if result != nil {
		updates["result"] = encodeResult(result)
	}
	if !c.finish(updates) {
		return false
	}
	c.Job.Status = jobsdomain.StatusFailed
	c.Job.Stage = stage
	c.Job.ErrorMessage = msg
	c.Notify.JobFailed(c.Job.OwnerUserID, c.Job, stage, msg)
	return true
}

func (c *Context) Succeed(finalStage string, result any) bool {
	if !c.finish(map[string]interface{}{
		"status":        jobsdomain.StatusCompleted,
		"stage":         finalStage,
		"progress":      100,
		"message":       "Done",
		"error_message": "",
		"result":        encodeResult(result),
	}) {
		return false
	}
	c.Job.Status = jobsdomain.StatusCompleted
	c.Job.Stage = finalStage
	c.Job.Progress = 100
	c.Notify.JobDone(c.Job.OwnerUserID, c.Job)
	return true
}

// Cancelled acknowledges a cancellation request. Progress is left where the
// handler stopped.
func (c *Context) Cancelled(stage string, result any) bool {
	updates := map[string]interface{}{
		"status":  jobsdomain.StatusCancelled,
		"stage":   stage,
		"message": "Cancelled",
	}
	if result != nil {
		updates["result"] = encodeResult(result)
	}
	if !c.finish(updates) {
		return false
	}
	c.Job.Status = jobsdomain.StatusCancelled
	c.Job.Stage = stage
	c.Notify.JobCancelled(c.Job.OwnerUserID, c.Job)
	return true
}

// finish performs the guarded terminal write. Only the first call wins.
func (c *Context) finish(updates map[string]interface{}) bool {
	if c == nil || c.Job == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return false
	}
	now := time.Now()
	updates["completed_at"] = now
	updates["locked_at"] = nil
	updates["heartbeat_at"] = now
	updates["updated_at"] = now
	if c.Repo != nil {
		ok, err := c.Repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: context.WithoutCancel(c.ctx())}, c.Job.ID, jobsdomain.TerminalStatuses, updates)
		if err != nil {
			c.Log.Error("Terminal job write failed", "status", updates["status"], "error", err)
			return false
		}
		if !ok {
			c.finished = true
			if row, _ := c.Repo.GetByID(dbctx.Context{Ctx: context.WithoutCancel(c.ctx())}, c.Job.ID); row != nil {
				c.Job.Status = row.Status
				c.Job.ErrorMessage = row.ErrorMessage
			}
			c.releaseLock()
			return false
		}
	}
	c.finished = true
	c.Job.CompletedAt = &now
	c.Job.LockedAt = nil
	c.Job.UpdatedAt = now
	c.releaseLock()
	return true
}

func (c *Context) releaseLock() {
	if c.Locker == nil {
		return
	}
	key := jobsdomain.LockKey(c.Job.DocumentID, c.Job.JobType)
	if err := c.Locker.Release(context.WithoutCancel(c.ctx()), key, c.Job.ID.String()); err != nil {
		c.Log.Warn("Release job lock failed", "key", key, "error", err)
	}
}

func encodeResult(result any) datatypes.JSON {
	if result == nil {
		return datatypes.JSON([]byte(`{}`))
	}
	b, err := json.Marshal(result)
	if err != nil {
		return datatypes.JSON([]byte(`{}`))
	}
	return datatypes.JSON(b)
}

var errWorkerStopped = errors.New("The worker stopped before the job finished. Retry the job to resume from where it stopped.")

// Halt ends a run that was told to stop. A user cancellation is acknowledged;
// a worker shutdown fails the job so it can be retried.
func (c *Context) Halt(stage string, err error, result any) {
	if errors.Is(err, ErrCancelled) || errors.Is(err, ErrFinished) {
		c.Cancelled(stage, result)
		return
	}
	c.FailWithResult(stage, errWorkerStopped, result)
}

// StartHeartbeat keeps heartbeat_at fresh while a long model call blocks
// progress reports. The returned func stops the ticker and is idempotent.
func (c *Context) StartHeartbeat(interval time.Duration) func() {
	if c == nil || c.Repo == nil || c.Job == nil {
		return func() {}
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	stop := make(chan struct{})
	var (
		wg   sync.WaitGroup
		once sync.Once
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-c.ctx().Done():
				return
			case <-stop:
				return
			case <-t.C:
				if err := c.Repo.Heartbeat(dbctx.Context{Ctx: c.ctx()}, c.Job.ID); err != nil {
					c.Log.Warn("Heartbeat failed", "error", err)
				}
			}
		}
	}()
	return func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
		})
	}
}
