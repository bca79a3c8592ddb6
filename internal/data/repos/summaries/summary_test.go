package summaries

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/pdfsum-backend/internal/data/repos/testutil"
	types "github.com/yungbote/pdfsum-backend/internal/domain"
	summarydomain "github.com/yungbote/pdfsum-backend/internal/domain/summaries"
	"github.com/yungbote/pdfsum-backend/internal/pkg/dbctx"
)

func TestSummaryRepo(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	repo := NewSummaryRepo(db, testutil.Logger(t))

	jobID := uuid.New()
	s, err := repo.Create(dbc, &types.Summary{
		OwnerUserID: uuid.New(),
		DocumentID:  uuid.New(),
		TemplateID:  uuid.New(),
		JobID:       &jobID,
		Status:      summarydomain.StatusProcessing,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	n, err := repo.FailProcessingForJob(dbc, jobID, "timed out")
	if err != nil || n != 1 {
		t.Fatalf("FailProcessingForJob: n=%d err=%v", n, err)
	}
	got, err := repo.GetByID(dbc, s.ID)
	if err != nil || got == nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != summarydomain.StatusFailed || got.ErrorMessage != "timed out" {
		t.Fatalf("unexpected summary: %+v", got)
	}

	ok, err := repo.UpdateFieldsIfStatus(dbc, s.ID, []string{summarydomain.StatusProcessing}, map[string]interface{}{"status": summarydomain.StatusCompleted})
	if err != nil {
		t.Fatalf("UpdateFieldsIfStatus: %v", err)
	}
	if ok {
		t.Fatalf("expected guarded update to skip failed summary")
	}

	list, err := repo.ListByDocument(dbc, s.DocumentID)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListByDocument: len=%d err=%v", len(list), err)
	}
}

func TestSummaryRepoFinishProcessingForJob(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	repo := NewSummaryRepo(db, testutil.Logger(t))

	jobID := uuid.New()
	otherJob := uuid.New()
	mine, _ := repo.Create(dbc, &types.Summary{OwnerUserID: uuid.New(), DocumentID: uuid.New(), TemplateID: uuid.New(), JobID: &jobID, Status: summarydomain.StatusProcessing})
	done, _ := repo.Create(dbc, &types.Summary{OwnerUserID: uuid.New(), DocumentID: uuid.New(), TemplateID: uuid.New(), JobID: &jobID, Status: summarydomain.StatusCompleted})
	other, _ := repo.Create(dbc, &types.Summary{OwnerUserID: uuid.New(), DocumentID: uuid.New(), TemplateID: uuid.New(), JobID: &otherJob, Status: summarydomain.StatusProcessing})

	n, err := repo.FinishProcessingForJob(dbc, jobID, summarydomain.StatusCancelled, "Cancelled by user")
	if err != nil || n != 1 {
		t.Fatalf("FinishProcessingForJob: n=%d err=%v", n, err)
	}
	want := map[uuid.UUID]string{
		mine.ID:  summarydomain.StatusCancelled,
		done.ID:  summarydomain.StatusCompleted,
		other.ID: summarydomain.StatusProcessing,
	}
	for id, status := range want {
		got, err := repo.GetByID(dbc, id)
		if err != nil || got == nil {
			t.Fatalf("GetByID(%s): %v", id, err)
		}
		if got.Status != status {
			t.Fatalf("summary %s: want=%s got=%s", id, status, got.Status)
		}
	}
}

func TestSummaryRepoDeleteByDocument(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	repo := NewSummaryRepo(db, testutil.Logger(t))

	docID := uuid.New()
	for i := 0; i < 2; i++ {
		if _, err := repo.Create(dbc, &types.Summary{OwnerUserID: uuid.New(), DocumentID: docID, TemplateID: uuid.New(), Status: summarydomain.StatusCompleted}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	keep, _ := repo.Create(dbc, &types.Summary{OwnerUserID: uuid.New(), DocumentID: uuid.New(), TemplateID: uuid.New(), Status: summarydomain.StatusCompleted})

	n, err := repo.DeleteByDocument(dbc, docID)
	if err != nil || n != 2 {
		t.Fatalf("DeleteByDocument: n=%d err=%v", n, err)
	}
	if list, _ := repo.ListByDocument(dbc, docID); len(list) != 0 {
		t.Fatalf("summaries left: %d", len(list))
	}
	if got, _ := repo.GetByID(dbc, keep.ID); got == nil {
		t.Fatalf("summary of another document was deleted")
	}
}
