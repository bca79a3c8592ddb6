package templates

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/pdfsum-backend/internal/domain"
	"github.com/yungbote/pdfsum-backend/internal/pkg/dbctx"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
)

type TemplateRepo interface {
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Template, error)
	GetByName(dbc dbctx.Context, name string) (*types.Template, error)
	GetDefault(dbc dbctx.Context) (*types.Template, error)
	List(dbc dbctx.Context) ([]*types.Template, error)
	// UpsertByName inserts the template or replaces the stored definition with the same name.
	UpsertByName(dbc dbctx.Context, tpl *types.Template) (*types.Template, error)
}

type templateRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTemplateRepo(db *gorm.DB, baseLog *logger.Logger) TemplateRepo {
	return &templateRepo{db: db, log: baseLog.With("repo", "TemplateRepo")}
}

func (r *templateRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Template, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	return r.first(dbc.DB(r.db).Where("id = ?", id))
}

func (r *templateRepo) GetByName(dbc dbctx.Context, name string) (*types.Template, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	return r.first(dbc.DB(r.db).Where("name = ?", name))
}

func (r *templateRepo) GetDefault(dbc dbctx.Context) (*types.Template, error) {
	return r.first(dbc.DB(r.db).Where("is_default = ?", true).Order("updated_at DESC"))
}

func (r *templateRepo) List(dbc dbctx.Context) ([]*types.Template, error) {
	var out []*types.Template
	if err := dbc.DB(r.db).Order("name ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *templateRepo) UpsertByName(dbc dbctx.Context, tpl *types.Template) (*types.Template, error) {
	now := time.Now()
	tpl.UpdatedAt = now
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = now
	}
	err := dbc.DB(r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"description", "system_prompt", "strategy", "sections", "is_default", "updated_at"}),
		}).
		Create(tpl).Error
	if err != nil {
		return nil, err
	}
	// On conflict the generated ID is discarded; reload the stored row.
	return r.GetByName(dbc, tpl.Name)
}

func (r *templateRepo) first(q *gorm.DB) (*types.Template, error) {
	var tpl types.Template
	if err := q.Limit(1).Find(&tpl).Error; err != nil {
		return nil, err
	}
	if tpl.ID == uuid.Nil {
		return nil, nil
	}
	return &tpl, nil
}
