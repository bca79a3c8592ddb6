package billing

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/pdfsum-backend/internal/data/repos/testutil"
	"github.com/yungbote/pdfsum-backend/internal/pkg/dbctx"
)

func TestCostLedgerAddAccumulates(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	repo := NewCostLedgerRepo(db, testutil.Logger(t))

	user := uuid.New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := repo.Add(dbc, user, "2026-10", 100, 10, 0.5); err != nil {
				t.Errorf("Add: %v", err)
			}
		}()
	}
	wg.Wait()

	row, err := repo.Get(dbc, user, "2026-10")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if row.TokensIn != 800 || row.TokensOut != 80 || row.Calls != 8 {
		t.Fatalf("unexpected ledger totals: %+v", row)
	}
	if math.Abs(row.EstimatedCost-4.0) > 1e-9 {
		t.Fatalf("expected cost 4.0, got %v", row.EstimatedCost)
	}

	other, err := repo.Get(dbc, user, "2026-11")
	if err != nil {
		t.Fatalf("Get other month: %v", err)
	}
	if other.TokensIn != 0 || other.EstimatedCost != 0 {
		t.Fatalf("expected empty ledger for new month, got %+v", other)
	}
}
