package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	types "github.com/yungbote/pdfsum-backend/internal/domain"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
)

const (
	EventJobCreated   = "job_created"
	EventJobProgress  = "job_progress"
	EventJobFailed    = "job_failed"
	EventJobDone      = "job_done"
	EventJobCancelled = "job_cancelled"
)

// JobEvent is the push-side mirror of a job_run row change. Clients that
// cannot subscribe poll GET /jobs/:id instead.
type JobEvent struct {
	Event      string    `json:"event"`
	UserID     uuid.UUID `json:"user_id"`
	JobID      uuid.UUID `json:"job_id"`
	DocumentID uuid.UUID `json:"document_id"`
	JobType    string    `json:"job_type"`
	Status     string    `json:"status"`
	Stage      string    `json:"stage,omitempty"`
	Progress   int       `json:"progress"`
	Message    string    `json:"message,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

type JobNotifier interface {
	JobCreated(userID uuid.UUID, job *types.JobRun)
	JobProgress(userID uuid.UUID, job *types.JobRun, stage string, progress int, message string)
	JobFailed(userID uuid.UUID, job *types.JobRun, stage string, errorMessage string)
	JobDone(userID uuid.UUID, job *types.JobRun)
	JobCancelled(userID uuid.UUID, job *types.JobRun)
}

func newJobEvent(event string, userID uuid.UUID, job *types.JobRun) JobEvent {
	ev := JobEvent{Event: event, UserID: userID, At: time.Now().UTC()}
	if job != nil {
		ev.JobID = job.ID
		ev.DocumentID = job.DocumentID
		ev.JobType = job.JobType
		ev.Status = job.Status
		ev.Stage = job.Stage
		ev.Progress = job.Progress
		ev.Message = job.Message
		ev.Error = job.ErrorMessage
	}
	return ev
}

type nopJobNotifier struct{}

func NewNopJobNotifier() JobNotifier { return nopJobNotifier{} }

func (nopJobNotifier) JobCreated(uuid.UUID, *types.JobRun)                     {}
func (nopJobNotifier) JobProgress(uuid.UUID, *types.JobRun, string, int, string) {}
func (nopJobNotifier) JobFailed(uuid.UUID, *types.JobRun, string, string)       {}
func (nopJobNotifier) JobDone(uuid.UUID, *types.JobRun)                        {}
func (nopJobNotifier) JobCancelled(uuid.UUID, *types.JobRun)                   {}

// RedisJobNotifier publishes job events on a Redis pub/sub channel.
// Publishing is best-effort: a failed publish is logged, never surfaced.
type RedisJobNotifier struct {
	log     *logger.Logger
	rdb     goredis.UniversalClient
	channel string
}

func NewRedisJobNotifier(rdb goredis.UniversalClient, channel string, baseLog *logger.Logger) *RedisJobNotifier {
	if channel == "" {
		channel = "pdfsum:jobs"
	}
	return &RedisJobNotifier{log: baseLog.With("service", "RedisJobNotifier"), rdb: rdb, channel: channel}
}

func (n *RedisJobNotifier) publish(ev JobEvent) {
	raw, err := json.Marshal(ev)
	if err != nil {
		n.log.Warn("Encode job event failed", "event", ev.Event, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := n.rdb.Publish(ctx, n.channel, raw).Err(); err != nil {
		n.log.Warn("Publish job event failed", "event", ev.Event, "job_id", ev.JobID, "error", err)
	}
}

func (n *RedisJobNotifier) JobCreated(userID uuid.UUID, job *types.JobRun) {
	n.publish(newJobEvent(EventJobCreated, userID, job))
}

func (n *RedisJobNotifier) JobProgress(userID uuid.UUID, job *types.JobRun, stage string, progress int, message string) {
	ev := newJobEvent(EventJobProgress, userID, job)
	ev.Stage, ev.Progress, ev.Message = stage, progress, message
	n.publish(ev)
}

func (n *RedisJobNotifier) JobFailed(userID uuid.UUID, job *types.JobRun, stage string, errorMessage string) {
	ev := newJobEvent(EventJobFailed, userID, job)
	ev.Stage, ev.Error = stage, errorMessage
	n.publish(ev)
}

func (n *RedisJobNotifier) JobDone(userID uuid.UUID, job *types.JobRun) {
	n.publish(newJobEvent(EventJobDone, userID, job))
}

func (n *RedisJobNotifier) JobCancelled(userID uuid.UUID, job *types.JobRun) {
	n.publish(newJobEvent(EventJobCancelled, userID, job))
}

// Subscribe forwards events to onEvent until ctx is done. It returns once the
// subscription is confirmed.
func (n *RedisJobNotifier) Subscribe(ctx context.Context, onEvent func(JobEvent)) error {
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}
	sub := n.rdb.Subscribe(ctx, n.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}
	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var ev JobEvent
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					n.log.Warn("Bad job event payload", "error", err)
					continue
				}
				onEvent(ev)
			}
		}
	}()
	return nil
}
