package billing

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/pdfsum-backend/internal/domain"
	"github.com/yungbote/pdfsum-backend/internal/pkg/dbctx"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
)

type CostLedgerRepo interface {
	// Add increments the (user, month) counters, creating the row if needed.
	Add(dbc dbctx.Context, userID uuid.UUID, month string, tokensIn, tokensOut int64, cost float64) error
	Get(dbc dbctx.Context, userID uuid.UUID, month string) (*types.CostLedger, error)
}

type costLedgerRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCostLedgerRepo(db *gorm.DB, baseLog *logger.Logger) CostLedgerRepo {
	return &costLedgerRepo{db: db, log: baseLog.With("repo", "CostLedgerRepo")}
}

func (r *costLedgerRepo) Add(dbc dbctx.Context, userID uuid.UUID, month string, tokensIn, tokensOut int64, cost float64) error {
	now := time.Now()
	row := &types.CostLedger{
		UserID:        userID,
		Month:         month,
		TokensIn:      tokensIn,
		TokensOut:     tokensOut,
		EstimatedCost: cost,
		Calls:         1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return dbc.DB(r.db).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "month"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"tokens_in":      gorm.Expr("cost_ledger.tokens_in + ?", tokensIn),
				"tokens_out":     gorm.Expr("cost_ledger.tokens_out + ?", tokensOut),
				"estimated_cost": gorm.Expr("cost_ledger.estimated_cost + ?", cost),
				"calls":          gorm.Expr("cost_ledger.calls + 1"),
				"updated_at":     now,
			}),
		}).
		Create(row).Error
}

// Get returns the ledger row, or a zero row when none exists.
func (r *costLedgerRepo) Get(dbc dbctx.Context, userID uuid.UUID, month string) (*types.CostLedger, error) {
	var row types.CostLedger
	err := dbc.DB(r.db).Where("user_id = ? AND month = ?", userID, month).Limit(1).Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.UserID == uuid.Nil {
		return &types.CostLedger{UserID: userID, Month: month}, nil
	}
	return &row, nil
}
