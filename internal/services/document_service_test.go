package services

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/pdfsum-backend/internal/data/repos/testutil"
	types "github.com/yungbote/pdfsum-backend/internal/domain"
	docdomain "github.com/yungbote/pdfsum-backend/internal/domain/documents"
	jobsdomain "github.com/yungbote/pdfsum-backend/internal/domain/jobs"
	summarydomain "github.com/yungbote/pdfsum-backend/internal/domain/summaries"
	"github.com/yungbote/pdfsum-backend/internal/modules/costguard"
	"github.com/yungbote/pdfsum-backend/internal/pkg/errors"
	"github.com/yungbote/pdfsum-backend/internal/platform/objectstore"
)

func newDocumentServiceFixture(t *testing.T) (*jobServiceFixture, *objectstore.Memory, DocumentService) {
	t.Helper()
	f := newJobServiceFixture(t)
	store := objectstore.NewMemory()
	guard := costguard.New(f.repos.Ledger, testutil.Logger(t), costguard.Config{
		MonthlyBudgetUSD: 10,
		Prices:           costguard.DefaultPriceTable(),
	})
	svc := NewDocumentService(DocumentServiceDeps{
		DB:        f.db,
		Log:       testutil.Logger(t),
		Documents: f.repos.Documents,
		JobRuns:   f.repos.Jobs,
		Summaries: f.repos.Summaries,
		Templates: f.repos.Templates,
		Store:     store,
		Guard:     guard,
		Jobs:      f.svc,
	})
	return f, store, svc
}

func TestRegisterEnqueuesExtract(t *testing.T) {
	f, store, svc := newDocumentServiceFixture(t)
	owner := uuid.New()
	if err := store.Put(context.Background(), "uploads/q3.pdf", bytes.NewReader([]byte("%PDF-1.4 body")), "application/pdf"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	doc, job, err := svc.Register(f.dbc, RegisterInput{OwnerUserID: owner, ObjectKey: "uploads/q3.pdf"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if doc.Status != docdomain.StatusUploaded || doc.Filename != "q3.pdf" || doc.SizeBytes != 13 {
		t.Fatalf("unexpected document: %+v", doc)
	}
	if job.JobType != jobsdomain.TypeExtract || job.DocumentID != doc.ID || job.Status != jobsdomain.StatusPending {
		t.Fatalf("unexpected job: %+v", job)
	}

	list, err := svc.List(f.dbc, owner)
	if err != nil || len(list) != 1 {
		t.Fatalf("List: len=%d err=%v", len(list), err)
	}
	if _, err := svc.Get(f.dbc, uuid.New(), doc.ID); !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("foreign Get err=%v, want ErrNotFound", err)
	}
}

func TestRegisterRejectsMissingObject(t *testing.T) {
	f, _, svc := newDocumentServiceFixture(t)
	cases := []struct {
		name string
		in   RegisterInput
		want error
	}{
		{"missing owner", RegisterInput{ObjectKey: "uploads/a.pdf"}, errors.ErrInvalidArgument},
		{"missing key", RegisterInput{OwnerUserID: uuid.New()}, errors.ErrInvalidArgument},
		{"object not uploaded", RegisterInput{OwnerUserID: uuid.New(), ObjectKey: "uploads/nope.pdf"}, errors.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := svc.Register(f.dbc, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("err=%v, want %v", err, tc.want)
			}
		})
	}
}

func TestEstimateNeedsExtractedDocument(t *testing.T) {
	f, _, svc := newDocumentServiceFixture(t)
	owner := uuid.New()
	f.defaultTemplate(t, "Overview", "Risks")
	doc := testutil.SeedDocument(t, f.db, owner, docdomain.StatusUploaded)

	if _, err := svc.Estimate(f.dbc, owner, doc.ID, uuid.Nil); !errors.Is(err, errors.ErrDocumentNotReady) {
		t.Fatalf("err=%v, want ErrDocumentNotReady", err)
	}

	if err := f.repos.Documents.UpdateFields(f.dbc, doc.ID, map[string]interface{}{"total_words": 40000, "status": docdomain.StatusChunked}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	est, err := svc.Estimate(f.dbc, owner, doc.ID, uuid.Nil)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if est.TotalWords != 40000 || est.EmbeddingTokens == 0 || est.SynthesisTokensIn == 0 {
		t.Fatalf("unexpected estimate: %+v", est)
	}
	if est.TotalCost <= 0 || est.TotalCost != est.EmbeddingCost+est.SynthesisCost {
		t.Fatalf("unexpected cost: %+v", est)
	}

	usage, err := svc.Usage(context.Background(), owner, "")
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if usage.Spent != 0 || usage.Remaining != 10 {
		t.Fatalf("unexpected usage: %+v", usage)
	}
}

func TestDeleteDocumentCascades(t *testing.T) {
	f, store, svc := newDocumentServiceFixture(t)
	owner := uuid.New()
	doc := testutil.SeedDocument(t, f.db, owner, docdomain.StatusIndexed)
	if err := store.Put(context.Background(), doc.ObjectKey, bytes.NewReader([]byte("%PDF-1.4")), "application/pdf"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	chunks := testutil.SeedChunks(t, f.db, doc.ID, "revenue grew", "costs fell")
	for _, c := range chunks {
		testutil.SeedEmbedding(t, f.db, c, []float32{1, 0})
	}
	if err := f.db.Create(&types.DocumentPage{DocumentID: doc.ID, PageNumber: 1, Text: "revenue grew"}).Error; err != nil {
		t.Fatalf("create page: %v", err)
	}
	if _, err := f.repos.Summaries.Create(f.dbc, &types.Summary{OwnerUserID: owner, DocumentID: doc.ID, TemplateID: uuid.New(), Status: summarydomain.StatusCompleted}); err != nil {
		t.Fatalf("create summary: %v", err)
	}
	running := testutil.SeedJob(t, f.db, owner, doc.ID, jobsdomain.TypeSummarize, jobsdomain.StatusRunning)
	other := testutil.SeedDocument(t, f.db, owner, docdomain.StatusIndexed)
	otherChunks := testutil.SeedChunks(t, f.db, other.ID, "kept")

	if err := svc.Delete(f.dbc, uuid.New(), doc.ID); !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("foreign delete err=%v, want ErrNotFound", err)
	}
	if err := svc.Delete(f.dbc, owner, doc.ID); !errors.Is(err, errors.ErrDocumentBusy) {
		t.Fatalf("delete with running job err=%v, want ErrDocumentBusy", err)
	}
	if got, _ := f.repos.Documents.GetByID(f.dbc, doc.ID); got == nil {
		t.Fatalf("busy document was deleted")
	}

	if err := f.repos.Jobs.UpdateFields(f.dbc, running.ID, map[string]interface{}{"status": jobsdomain.StatusCompleted}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	if err := svc.Delete(f.dbc, owner, doc.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	for _, m := range []interface{}{&types.Document{}, &types.DocumentPage{}, &types.Chunk{}, &types.Embedding{}, &types.Summary{}, &types.JobRun{}} {
		var n int64
		col := "document_id"
		if _, ok := m.(*types.Document); ok {
			col = "id"
		}
		f.db.Model(m).Where(col+" = ?", doc.ID).Count(&n)
		if n != 0 {
			t.Fatalf("%T rows left: %d", m, n)
		}
	}
	if _, err := store.Size(context.Background(), doc.ObjectKey); !errors.Is(err, objectstore.ErrNotFound) {
		t.Fatalf("object still stored: err=%v", err)
	}
	if left, _ := f.repos.Chunks.ListByDocument(f.dbc, other.ID); len(left) != len(otherChunks) {
		t.Fatalf("chunks of another document were deleted")
	}
	if err := svc.Delete(f.dbc, owner, doc.ID); !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("second delete err=%v, want ErrNotFound", err)
	}
}
