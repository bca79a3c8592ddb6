package indexer

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/pdfsum-backend/internal/data/repos"
	"github.com/yungbote/pdfsum-backend/internal/data/repos/testutil"
	"github.com/yungbote/pdfsum-backend/internal/domain/documents"
	"github.com/yungbote/pdfsum-backend/internal/modules/costguard"
	"github.com/yungbote/pdfsum-backend/internal/platform/llm/llmtest"
)

type fixture struct {
	deps  Deps
	owner uuid.UUID
	docID uuid.UUID
	emb   *llmtest.Embedder
}

func setup(t *testing.T, chunks int, budget float64) *fixture {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	r := repos.New(db, log)
	owner := uuid.New()
	doc := testutil.SeedDocument(t, db, owner, documents.StatusChunked)
	texts := make([]string, chunks)
	for i := range texts {
		texts[i] = fmt.Sprintf("chunk-%d revenue growth forecast", i)
	}
	testutil.SeedChunks(t, db, doc.ID, texts...)
	emb := &llmtest.Embedder{}
	return &fixture{
		deps: Deps{
			DB:       db,
			Log:      log,
			Chunks:   r.Chunks,
			Guard:    costguard.New(r.Ledger, log, costguard.Config{MonthlyBudgetUSD: budget}),
			Embedder: emb,
		},
		owner: owner,
		docID: doc.ID,
		emb:   emb,
	}
}

func TestIndexFailedBatchDoesNotVoidOthers(t *testing.T) {
	f := setup(t, 10, 100)
	f.emb.Fail = func(call int, texts []string) error {
		for _, s := range texts {
			if strings.HasPrefix(s, "chunk-4 ") {
				return errors.New("provider unavailable")
			}
		}
		return nil
	}
	ix := New(f.deps, Config{BatchSize: 2, Concurrency: 3})

	var progressCalls atomic.Int32
	res, err := ix.Index(context.Background(), IndexInput{
		OwnerUserID: f.owner,
		DocumentID:  f.docID,
		Hooks:       Hooks{OnBatch: func(done, total int) { progressCalls.Add(1) }},
	})
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if res.TotalBatches != 5 {
		t.Fatalf("expected 5 batches, got %d", res.TotalBatches)
	}
	if !reflect.DeepEqual(res.FailedBatches, []int{3}) {
		t.Fatalf("expected batch 3 to fail, got %v", res.FailedBatches)
	}
	if res.Embedded != 8 || res.Remaining != 2 || res.Complete() {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.FirstError == nil {
		t.Fatalf("expected first error to be kept")
	}
	if progressCalls.Load() != 5 {
		t.Fatalf("expected 5 progress callbacks, got %d", progressCalls.Load())
	}

	// rerun only embeds what is missing
	f.emb.Fail = nil
	before := f.emb.Calls()
	res, err = ix.Index(context.Background(), IndexInput{OwnerUserID: f.owner, DocumentID: f.docID})
	if err != nil {
		t.Fatalf("Index rerun: %v", err)
	}
	if f.emb.Calls()-before != 1 || res.TotalBatches != 1 {
		t.Fatalf("expected one resumed batch, got %d calls / %d batches", f.emb.Calls()-before, res.TotalBatches)
	}
	if !res.Complete() || res.Embedded != 10 {
		t.Fatalf("expected complete index, got %+v", res)
	}
}

func TestIndexStopsOnBudgetRejection(t *testing.T) {
	f := setup(t, 6, 0)
	ix := New(f.deps, Config{BatchSize: 2, Concurrency: 1})

	res, err := ix.Index(context.Background(), IndexInput{OwnerUserID: f.owner, DocumentID: f.docID})
	var be *costguard.BudgetExceededError
	if !errors.As(err, &be) {
		t.Fatalf("expected BudgetExceededError, got %v", err)
	}
	if !res.BudgetExceeded || res.Embedded != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if f.emb.Calls() != 0 {
		t.Fatalf("provider called %d times despite rejection", f.emb.Calls())
	}
	if !reflect.DeepEqual(res.SkippedBatches, []int{2, 3}) {
		t.Fatalf("expected later batches skipped, got %v", res.SkippedBatches)
	}
}

func TestIndexHonoursCancellation(t *testing.T) {
	f := setup(t, 6, 100)
	ix := New(f.deps, Config{BatchSize: 2, Concurrency: 1})
	errCancelled := errors.New("cancelled")

	var finished atomic.Int32
	res, err := ix.Index(context.Background(), IndexInput{
		OwnerUserID: f.owner,
		DocumentID:  f.docID,
		Hooks: Hooks{
			OnBatch: func(done, total int) { finished.Store(int32(done)) },
			CheckCancel: func(ctx context.Context) error {
				if finished.Load() >= 1 {
					return errCancelled
				}
				return nil
			},
		},
	})
	if !errors.Is(err, errCancelled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	if res.Embedded == 0 || res.Embedded == 6 {
		t.Fatalf("expected partial progress to be kept, got %+v", res)
	}
}

func TestPackRespectsTokenBound(t *testing.T) {
	f := setup(t, 0, 1)
	ix := New(f.deps, Config{BatchSize: 100, BatchMaxTokens: 10, Concurrency: 1})
	chunks := testutil.SeedChunks(t, f.deps.DB, f.docID,
		strings.Repeat("a", 20), strings.Repeat("b", 20), strings.Repeat("c", 20),
	)
	batches := ix.pack(chunks)
	if len(batches) != 2 {
		t.Fatalf("expected 2 token-bounded batches, got %d", len(batches))
	}
	if batches[0].number != 1 || len(batches[0].chunks) != 2 {
		t.Fatalf("unexpected first batch %+v", batches[0])
	}
}
