package billing

import (
	"time"

	"github.com/google/uuid"
)

// MonthKey formats t as the ledger month bucket ("2006-01", UTC).
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// CostLedger is one append-only counter row per (user, month). Rows are only
// ever incremented.
type CostLedger struct {
	UserID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	Month         string    `gorm:"column:month;primaryKey;size:7" json:"month"`
	TokensIn      int64     `gorm:"column:tokens_in;not null;default:0" json:"tokens_in"`
	TokensOut     int64     `gorm:"column:tokens_out;not null;default:0" json:"tokens_out"`
	EstimatedCost float64   `gorm:"column:estimated_cost;not null;default:0" json:"estimated_cost"`
	Calls         int64     `gorm:"column:calls;not null;default:0" json:"calls"`
	CreatedAt     time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time `gorm:"not null" json:"updated_at"`
}

func (CostLedger) TableName() string { return "cost_ledger" }
