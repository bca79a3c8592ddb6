package summaries

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/pdfsum-backend/internal/domain"
	summarydomain "github.com/yungbote/pdfsum-backend/internal/domain/summaries"
	"github.com/yungbote/pdfsum-backend/internal/pkg/dbctx"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
)

type SummaryRepo interface {
	Create(dbc dbctx.Context, s *types.Summary) (*types.Summary, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Summary, error)
	ListByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]*types.Summary, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsIfStatus(dbc dbctx.Context, id uuid.UUID, allowedStatuses []string, updates map[string]interface{}) (bool, error)
	FailProcessingForJob(dbc dbctx.Context, jobID uuid.UUID, message string) (int64, error)
	FinishProcessingForJob(dbc dbctx.Context, jobID uuid.UUID, status, message string) (int64, error)
	DeleteByDocument(dbc dbctx.Context, documentID uuid.UUID) (int64, error)
}

type summaryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSummaryRepo(db *gorm.DB, baseLog *logger.Logger) SummaryRepo {
	return &summaryRepo{db: db, log: baseLog.With("repo", "SummaryRepo")}
}

func (r *summaryRepo) Create(dbc dbctx.Context, s *types.Summary) (*types.Summary, error) {
	if err := dbc.DB(r.db).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

func (r *summaryRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Summary, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var s types.Summary
	if err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Find(&s).Error; err != nil {
		return nil, err
	}
	if s.ID == uuid.Nil {
		return nil, nil
	}
	return &s, nil
}

func (r *summaryRepo) ListByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]*types.Summary, error) {
	var out []*types.Summary
	if documentID == uuid.Nil {
		return out, nil
	}
	if err := dbc.DB(r.db).Where("document_id = ?", documentID).Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *summaryRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return dbc.DB(r.db).Model(&types.Summary{}).Where("id = ?", id).Updates(updates).Error
}

// UpdateFieldsIfStatus applies updates only while the summary is in one of
// allowedStatuses.
func (r *summaryRepo) UpdateFieldsIfStatus(dbc dbctx.Context, id uuid.UUID, allowedStatuses []string, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	q := dbc.DB(r.db).Model(&types.Summary{}).Where("id = ?", id)
	if len(allowedStatuses) > 0 {
		q = q.Where("status IN ?", allowedStatuses)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// FailProcessingForJob fails summaries still processing under jobID.
func (r *summaryRepo) FailProcessingForJob(dbc dbctx.Context, jobID uuid.UUID, message string) (int64, error) {
	return r.FinishProcessingForJob(dbc, jobID, summarydomain.StatusFailed, message)
}

// FinishProcessingForJob moves summaries still processing under jobID to a
// terminal status. Summaries already finished are left alone.
func (r *summaryRepo) FinishProcessingForJob(dbc dbctx.Context, jobID uuid.UUID, status, message string) (int64, error) {
	if jobID == uuid.Nil {
		return 0, nil
	}
	res := dbc.DB(r.db).
		Model(&types.Summary{}).
		Where("job_id = ? AND status = ?", jobID, summarydomain.StatusProcessing).
		Updates(map[string]interface{}{
			"status":        status,
			"error_message": message,
			"updated_at":    time.Now(),
		})
	return res.RowsAffected, res.Error
}

func (r *summaryRepo) DeleteByDocument(dbc dbctx.Context, documentID uuid.UUID) (int64, error) {
	if documentID == uuid.Nil {
		return 0, nil
	}
	res := dbc.DB(r.db).Where("document_id = ?", documentID).Delete(&types.Summary{})
	return res.RowsAffected, res.Error
}
