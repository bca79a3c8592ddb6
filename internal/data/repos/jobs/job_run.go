package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/pdfsum-backend/internal/domain"
	jobsdomain "github.com/yungbote/pdfsum-backend/internal/domain/jobs"
	"github.com/yungbote/pdfsum-backend/internal/pkg/dbctx"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
)

type JobRunRepo interface {
	Create(dbc dbctx.Context, jobs []*types.JobRun) ([]*types.JobRun, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.JobRun, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.JobRun, error)
	ListByDocument(dbc dbctx.Context, documentID uuid.UUID, limit int) ([]*types.JobRun, error)
	GetLatestByDocument(dbc dbctx.Context, documentID uuid.UUID, jobType string) (*types.JobRun, error)
	ClaimNextPending(dbc dbctx.Context) (*types.JobRun, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error)
	UpdateProgress(dbc dbctx.Context, id uuid.UUID, stage string, progress int, message string) (bool, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error
	RequestCancel(dbc dbctx.Context, id uuid.UUID) (bool, error)
	// HasActiveForDocument checks one job type, or every type when jobType is empty.
	HasActiveForDocument(dbc dbctx.Context, documentID uuid.UUID, jobType string) (bool, error)
	DeleteByDocument(dbc dbctx.Context, documentID uuid.UUID) (int64, error)
	ListStuck(dbc dbctx.Context, idleBefore, startedBefore time.Time, limit int) ([]*types.JobRun, error)
}

type jobRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return &jobRunRepo{
		db:  db,
		log: baseLog.With("repo", "JobRunRepo"),
	}
}

func (r *jobRunRepo) Create(dbc dbctx.Context, jobs []*types.JobRun) ([]*types.JobRun, error) {
	if len(jobs) == 0 {
		return []*types.JobRun{}, nil
	}
	if err := dbc.DB(r.db).Create(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *jobRunRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.JobRun, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var job types.JobRun
	err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *jobRunRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.JobRun, error) {
	var out []*types.JobRun
	if len(ids) == 0 {
		return out, nil
	}
	if err := dbc.DB(r.db).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *jobRunRepo) ListByDocument(dbc dbctx.Context, documentID uuid.UUID, limit int) ([]*types.JobRun, error) {
	var out []*types.JobRun
	if documentID == uuid.Nil {
		return out, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	err := dbc.DB(r.db).
		Where("document_id = ?", documentID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *jobRunRepo) GetLatestByDocument(dbc dbctx.Context, documentID uuid.UUID, jobType string) (*types.JobRun, error) {
	if documentID == uuid.Nil || jobType == "" {
		return nil, nil
	}
	var job types.JobRun
	err := dbc.DB(r.db).
		Where("document_id = ? AND job_type = ?", documentID, jobType).
		Order("created_at DESC").
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

// ClaimNextPending moves the oldest pending job to running and returns it.
// Jobs with a pending cancellation are left for the sweeper. Returns nil when
// nothing is claimable.
func (r *jobRunRepo) ClaimNextPending(dbc dbctx.Context) (*types.JobRun, error) {
	now := time.Now()
	var claimed *types.JobRun
	err := dbc.DB(r.db).Transaction(func(txx *gorm.DB) error {
		var job types.JobRun
		qErr := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND cancel_requested = ?", jobsdomain.StatusPending, false).
			Order("created_at ASC").
			First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		res := txx.Model(&types.JobRun{}).
			Where("id = ? AND status = ?", job.ID, jobsdomain.StatusPending).
			Updates(map[string]interface{}{
				"status":       jobsdomain.StatusRunning,
				"stage":        "starting",
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"started_at":   now,
				"updated_at":   now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		job.Status = jobsdomain.StatusRunning
		job.Stage = "starting"
		job.Attempts++
		job.LockedAt = &now
		job.HeartbeatAt = &now
		job.StartedAt = &now
		job.UpdatedAt = now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *jobRunRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return dbc.DB(r.db).
		Model(&types.JobRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// UpdateFieldsUnlessStatus applies updates only while the row is not in one of
// disallowedStatuses, and reports whether a row changed.
func (r *jobRunRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}

	q := dbc.DB(r.db).
		Model(&types.JobRun{}).
		Where("id = ?", id)
	if len(disallowedStatuses) == 1 {
		q = q.Where("status <> ?", disallowedStatuses[0])
	} else if len(disallowedStatuses) > 1 {
		q = q.Where("status NOT IN ?", disallowedStatuses)
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpdateProgress writes stage/message on a running job and raises progress,
// never lowering it.
func (r *jobRunRepo) UpdateProgress(dbc dbctx.Context, id uuid.UUID, stage string, progress int, message string) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	now := time.Now()
	res := dbc.DB(r.db).
		Model(&types.JobRun{}).
		Where("id = ? AND status = ?", id, jobsdomain.StatusRunning).
		Updates(map[string]interface{}{
			"stage":        stage,
			"message":      message,
			"progress":     gorm.Expr("CASE WHEN progress > ? THEN progress ELSE ? END", progress, progress),
			"heartbeat_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRunRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return dbc.DB(r.db).
		Model(&types.JobRun{}).
		Where("id = ? AND status = ?", id, jobsdomain.StatusRunning).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}

// RequestCancel flags a running job for cooperative cancellation.
func (r *jobRunRepo) RequestCancel(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	res := dbc.DB(r.db).
		Model(&types.JobRun{}).
		Where("id = ? AND status = ?", id, jobsdomain.StatusRunning).
		Updates(map[string]interface{}{
			"cancel_requested": true,
			"message":          "Cancellation requested",
			"updated_at":       time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRunRepo) HasActiveForDocument(dbc dbctx.Context, documentID uuid.UUID, jobType string) (bool, error) {
	if documentID == uuid.Nil {
		return false, nil
	}
	q := dbc.DB(r.db).
		Model(&types.JobRun{}).
		Where("document_id = ? AND status IN ?", documentID, jobsdomain.ActiveStatuses)
	if jobType != "" {
		q = q.Where("job_type = ?", jobType)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *jobRunRepo) DeleteByDocument(dbc dbctx.Context, documentID uuid.UUID) (int64, error) {
	if documentID == uuid.Nil {
		return 0, nil
	}
	res := dbc.DB(r.db).Where("document_id = ?", documentID).Delete(&types.JobRun{})
	return res.RowsAffected, res.Error
}

// ListStuck returns pending jobs created before idleBefore and running jobs
// whose last heartbeat is older than idleBefore or that started before
// startedBefore. A live worker heartbeats a wedged job forever, so the start
// time bounds total run time.
func (r *jobRunRepo) ListStuck(dbc dbctx.Context, idleBefore, startedBefore time.Time, limit int) ([]*types.JobRun, error) {
	if limit <= 0 {
		limit = 500
	}
	var out []*types.JobRun
	err := dbc.DB(r.db).
		Where("(status = ? AND created_at < ?) OR (status = ? AND (COALESCE(heartbeat_at, started_at, created_at) < ? OR started_at < ?))",
			jobsdomain.StatusPending, idleBefore, jobsdomain.StatusRunning, idleBefore, startedBefore,
		).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
