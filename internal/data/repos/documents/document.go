package documents

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/pdfsum-backend/internal/domain"
	docdomain "github.com/yungbote/pdfsum-backend/internal/domain/documents"
	"github.com/yungbote/pdfsum-backend/internal/pkg/dbctx"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
)

type DocumentRepo interface {
	Create(dbc dbctx.Context, doc *types.Document) (*types.Document, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Document, error)
	ListByOwner(dbc dbctx.Context, ownerUserID uuid.UUID, limit int) ([]*types.Document, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	ReplacePages(dbc dbctx.Context, documentID uuid.UUID, pages []*types.DocumentPage) error
	ListPages(dbc dbctx.Context, documentID uuid.UUID) ([]*types.DocumentPage, error)
	ClaimLease(dbc dbctx.Context, id, owner uuid.UUID, fromStatuses []string, staleBefore time.Time, updates map[string]interface{}) (bool, error)
	UpdateLeased(dbc dbctx.Context, id, owner uuid.UUID, updates map[string]interface{}) (bool, error)
	ReleaseLeasesHeldBy(dbc dbctx.Context, owner uuid.UUID, message string) (int64, error)
	Delete(dbc dbctx.Context, id uuid.UUID) (bool, error)
}

type documentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDocumentRepo(db *gorm.DB, baseLog *logger.Logger) DocumentRepo {
	return &documentRepo{db: db, log: baseLog.With("repo", "DocumentRepo")}
}

func (r *documentRepo) Create(dbc dbctx.Context, doc *types.Document) (*types.Document, error) {
	if err := dbc.DB(r.db).Create(doc).Error; err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *documentRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Document, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var doc types.Document
	if err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Find(&doc).Error; err != nil {
		return nil, err
	}
	if doc.ID == uuid.Nil {
		return nil, nil
	}
	return &doc, nil
}

func (r *documentRepo) ListByOwner(dbc dbctx.Context, ownerUserID uuid.UUID, limit int) ([]*types.Document, error) {
	var out []*types.Document
	if ownerUserID == uuid.Nil {
		return out, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	err := dbc.DB(r.db).
		Where("owner_user_id = ?", ownerUserID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *documentRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return dbc.DB(r.db).Model(&types.Document{}).Where("id = ?", id).Updates(updates).Error
}

// ReplacePages swaps the stored page text for a document in one transaction.
func (r *documentRepo) ReplacePages(dbc dbctx.Context, documentID uuid.UUID, pages []*types.DocumentPage) error {
	return dbc.DB(r.db).Transaction(func(txx *gorm.DB) error {
		if err := txx.Where("document_id = ?", documentID).Delete(&types.DocumentPage{}).Error; err != nil {
			return err
		}
		if len(pages) == 0 {
			return nil
		}
		for _, p := range pages {
			p.DocumentID = documentID
		}
		return txx.CreateInBatches(pages, 200).Error
	})
}

func (r *documentRepo) ListPages(dbc dbctx.Context, documentID uuid.UUID) ([]*types.DocumentPage, error) {
	var out []*types.DocumentPage
	if documentID == uuid.Nil {
		return out, nil
	}
	if err := dbc.DB(r.db).Where("document_id = ?", documentID).Order("page_number ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

/*
ClaimLease hands the document's write lease to owner. The claim succeeds
only when the document is in one of fromStatuses and the lease is free,
already held by owner, or was taken before staleBefore. updates are applied
in the same statement, so a status move and the claim are atomic.
*/
func (r *documentRepo) ClaimLease(dbc dbctx.Context, id, owner uuid.UUID, fromStatuses []string, staleBefore time.Time, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil || owner == uuid.Nil || len(fromStatuses) == 0 {
		return false, nil
	}
	now := time.Now()
	set := map[string]interface{}{
		"lease_job_id": owner,
		"lease_at":     now,
		"updated_at":   now,
	}
	for k, v := range updates {
		set[k] = v
	}
	res := dbc.DB(r.db).
		Model(&types.Document{}).
		Where("id = ? AND status IN ?", id, fromStatuses).
		Where("(lease_job_id IS NULL OR lease_job_id = ? OR lease_at IS NULL OR lease_at < ?)", owner, staleBefore).
		Updates(set)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpdateLeased applies updates only while owner still holds the lease.
func (r *documentRepo) UpdateLeased(dbc dbctx.Context, id, owner uuid.UUID, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil || owner == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	res := dbc.DB(r.db).
		Model(&types.Document{}).
		Where("id = ? AND lease_job_id = ?", id, owner).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ReleaseLeasesHeldBy clears every lease owner holds. A document the owner
// left mid-extraction is marked failed with message.
func (r *documentRepo) ReleaseLeasesHeldBy(dbc dbctx.Context, owner uuid.UUID, message string) (int64, error) {
	if owner == uuid.Nil {
		return 0, nil
	}
	var n int64
	err := dbc.DB(r.db).Transaction(func(txx *gorm.DB) error {
		now := time.Now()
		if err := txx.Model(&types.Document{}).
			Where("lease_job_id = ? AND status = ?", owner, docdomain.StatusExtracting).
			Updates(map[string]interface{}{
				"status":        docdomain.StatusFailed,
				"error_message": message,
				"updated_at":    now,
			}).Error; err != nil {
			return err
		}
		res := txx.Model(&types.Document{}).
			Where("lease_job_id = ?", owner).
			Updates(map[string]interface{}{
				"lease_job_id": nil,
				"lease_at":     nil,
				"updated_at":   now,
			})
		n = res.RowsAffected
		return res.Error
	})
	return n, err
}

// Delete removes the document with its pages, chunks and embeddings.
func (r *documentRepo) Delete(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	var deleted bool
	err := dbc.DB(r.db).Transaction(func(txx *gorm.DB) error {
		for _, m := range []interface{}{&types.Embedding{}, &types.Chunk{}, &types.DocumentPage{}} {
			if err := txx.Where("document_id = ?", id).Delete(m).Error; err != nil {
				return err
			}
		}
		res := txx.Where("id = ?", id).Delete(&types.Document{})
		deleted = res.RowsAffected > 0
		return res.Error
	})
	return deleted, err
}
