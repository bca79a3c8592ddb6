package documents

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/pdfsum-backend/internal/data/repos/testutil"
	types "github.com/yungbote/pdfsum-backend/internal/domain"
	docdomain "github.com/yungbote/pdfsum-backend/internal/domain/documents"
	"github.com/yungbote/pdfsum-backend/internal/pkg/dbctx"
	"github.com/yungbote/pdfsum-backend/internal/pkg/errors"
)

func TestDocumentRepoPages(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	repo := NewDocumentRepo(db, testutil.Logger(t))

	doc, err := repo.Create(dbc, &types.Document{OwnerUserID: uuid.New(), Filename: "a.pdf", ObjectKey: "k", Status: docdomain.StatusUploaded})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	pages := []*types.DocumentPage{{PageNumber: 2, Text: "two"}, {PageNumber: 1, Text: "one"}}
	if err := repo.ReplacePages(dbc, doc.ID, pages); err != nil {
		t.Fatalf("ReplacePages: %v", err)
	}
	if err := repo.ReplacePages(dbc, doc.ID, []*types.DocumentPage{{PageNumber: 1, Text: "uno"}}); err != nil {
		t.Fatalf("ReplacePages again: %v", err)
	}
	got, err := repo.ListPages(dbc, doc.ID)
	if err != nil {
		t.Fatalf("ListPages: %v", err)
	}
	if len(got) != 1 || got[0].Text != "uno" {
		t.Fatalf("expected pages to be replaced, got %+v", got)
	}

	if err := repo.UpdateFields(dbc, doc.ID, map[string]interface{}{"status": docdomain.StatusChunked, "page_count": 1}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	reloaded, err := repo.GetByID(dbc, doc.ID)
	if err != nil || reloaded == nil {
		t.Fatalf("GetByID: %v", err)
	}
	if reloaded.Status != docdomain.StatusChunked || reloaded.PageCount != 1 {
		t.Fatalf("unexpected document: %+v", reloaded)
	}
	if missing, err := repo.GetByID(dbc, uuid.New()); err != nil || missing != nil {
		t.Fatalf("expected nil for unknown document, got %+v err=%v", missing, err)
	}
}

func TestChunkRepoEmbeddings(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	repo := NewChunkRepo(db, testutil.Logger(t))

	doc := testutil.SeedDocument(t, db, uuid.New(), docdomain.StatusExtracting)
	chunks := []*types.Chunk{
		{Order: 0, Text: "alpha", PageNumber: 1, PageEnd: 1},
		{Order: 1, Text: "beta", PageNumber: 1, PageEnd: 2},
		{Order: 2, Text: "gamma", PageNumber: 2, PageEnd: 2},
	}
	if err := repo.ReplaceChunks(dbc, doc.ID, chunks); err != nil {
		t.Fatalf("ReplaceChunks: %v", err)
	}
	if n, _ := repo.CountByDocument(dbc, doc.ID); n != 3 {
		t.Fatalf("expected 3 chunks, got %d", n)
	}

	testutil.SeedEmbedding(t, db, chunks[1], []float32{1, 0})
	pending, err := repo.ListUnembedded(dbc, doc.ID)
	if err != nil {
		t.Fatalf("ListUnembedded: %v", err)
	}
	if len(pending) != 2 || pending[0].Order != 0 || pending[1].Order != 2 {
		t.Fatalf("unexpected unembedded set: %+v", pending)
	}

	err = repo.UpsertEmbeddings(dbc, []*types.Embedding{
		{ChunkID: chunks[0].ID, DocumentID: doc.ID, Vector: []byte("[0,1]"), ModelName: "m", Dimensions: 2},
		{ChunkID: chunks[1].ID, DocumentID: doc.ID, Vector: []byte("[0.5,0.5]"), ModelName: "m2", Dimensions: 2},
	})
	if err != nil {
		t.Fatalf("UpsertEmbeddings: %v", err)
	}
	if n, _ := repo.CountEmbeddings(dbc, doc.ID); n != 2 {
		t.Fatalf("expected upsert to keep one row per chunk, got %d", n)
	}
	embs, err := repo.ListEmbeddings(dbc, doc.ID)
	if err != nil {
		t.Fatalf("ListEmbeddings: %v", err)
	}
	for _, e := range embs {
		if e.ChunkID == chunks[1].ID && e.ModelName != "m2" {
			t.Fatalf("expected embedding to be replaced, got %+v", e)
		}
	}

	// Re-chunking drops old embeddings.
	if err := repo.ReplaceChunks(dbc, doc.ID, []*types.Chunk{{Order: 0, Text: "new", PageNumber: 1, PageEnd: 1}}); err != nil {
		t.Fatalf("ReplaceChunks again: %v", err)
	}
	if n, _ := repo.CountEmbeddings(dbc, doc.ID); n != 0 {
		t.Fatalf("expected embeddings cleared, got %d", n)
	}
}

func TestReplaceChunksRefusesWrittenDocument(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	repo := NewChunkRepo(db, testutil.Logger(t))

	for _, status := range docdomain.ChunkedStatuses {
		doc := testutil.SeedDocument(t, db, uuid.New(), status)
		kept := testutil.SeedChunks(t, db, doc.ID, "alpha", "beta")
		testutil.SeedEmbedding(t, db, kept[0], []float32{1, 0})

		err := repo.ReplaceChunks(dbc, doc.ID, []*types.Chunk{{Order: 0, Text: "new", PageNumber: 1, PageEnd: 1}})
		if !errors.Is(err, errors.ErrChunksWritten) {
			t.Fatalf("%s: want ErrChunksWritten, got %v", status, err)
		}
		got, _ := repo.ListByDocument(dbc, doc.ID)
		if len(got) != 2 || got[0].ID != kept[0].ID {
			t.Fatalf("%s: chunks were touched: %+v", status, got)
		}
		if n, _ := repo.CountEmbeddings(dbc, doc.ID); n != 1 {
			t.Fatalf("%s: embeddings were touched: %d", status, n)
		}
	}
	if err := repo.ReplaceChunks(dbc, uuid.New(), nil); !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("unknown document: want ErrNotFound, got %v", err)
	}
}

func TestDocumentRepoLease(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	repo := NewDocumentRepo(db, testutil.Logger(t))
	doc := testutil.SeedDocument(t, db, uuid.New(), docdomain.StatusUploaded)
	jobA, jobB := uuid.New(), uuid.New()
	from := []string{docdomain.StatusUploaded, docdomain.StatusFailed, docdomain.StatusExtracting}
	extracting := map[string]interface{}{"status": docdomain.StatusExtracting}

	ok, err := repo.ClaimLease(dbc, doc.ID, jobA, from, time.Now().Add(-time.Hour), extracting)
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	if ok, _ := repo.ClaimLease(dbc, doc.ID, jobB, from, time.Now().Add(-time.Hour), extracting); ok {
		t.Fatalf("a held lease must not be claimed by another job")
	}
	if ok, _ := repo.ClaimLease(dbc, doc.ID, jobA, from, time.Now().Add(-time.Hour), extracting); !ok {
		t.Fatalf("the holder may re-claim")
	}
	if ok, _ := repo.UpdateLeased(dbc, doc.ID, jobB, map[string]interface{}{"status": docdomain.StatusChunked}); ok {
		t.Fatalf("a non-holder must not write")
	}
	if d, _ := repo.GetByID(dbc, doc.ID); d.Status != docdomain.StatusExtracting || d.LeaseJobID == nil || *d.LeaseJobID != jobA {
		t.Fatalf("unexpected document: %+v", d)
	}

	// A lease older than the cutoff is taken over.
	if ok, _ := repo.ClaimLease(dbc, doc.ID, jobB, from, time.Now().Add(time.Minute), extracting); !ok {
		t.Fatalf("stale lease should be claimable")
	}
	if ok, _ := repo.UpdateLeased(dbc, doc.ID, jobA, map[string]interface{}{"status": docdomain.StatusChunked}); ok {
		t.Fatalf("the previous holder lost the lease")
	}

	n, err := repo.ReleaseLeasesHeldBy(dbc, jobB, "timed out")
	if err != nil || n != 1 {
		t.Fatalf("ReleaseLeasesHeldBy: n=%d err=%v", n, err)
	}
	d, _ := repo.GetByID(dbc, doc.ID)
	if d.LeaseJobID != nil || d.Status != docdomain.StatusFailed || d.ErrorMessage != "timed out" {
		t.Fatalf("abandoned extraction should fail and free the lease: %+v", d)
	}

	// Status gate: a chunked document cannot be claimed for extraction.
	chunked := testutil.SeedDocument(t, db, uuid.New(), docdomain.StatusChunked)
	if ok, _ := repo.ClaimLease(dbc, chunked.ID, jobA, from, time.Now(), extracting); ok {
		t.Fatalf("chunked document must not move back to extracting")
	}
}

func TestDocumentRepoDelete(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	repo := NewDocumentRepo(db, testutil.Logger(t))
	chunkRepo := NewChunkRepo(db, testutil.Logger(t))

	doc := testutil.SeedDocument(t, db, uuid.New(), docdomain.StatusIndexed)
	other := testutil.SeedDocument(t, db, uuid.New(), docdomain.StatusIndexed)
	chunks := testutil.SeedChunks(t, db, doc.ID, "alpha", "beta")
	testutil.SeedEmbedding(t, db, chunks[0], []float32{1, 0})
	otherChunks := testutil.SeedChunks(t, db, other.ID, "gamma")
	testutil.SeedEmbedding(t, db, otherChunks[0], []float32{0, 1})
	if err := repo.ReplacePages(dbc, doc.ID, []*types.DocumentPage{{PageNumber: 1, Text: "one"}}); err != nil {
		t.Fatalf("ReplacePages: %v", err)
	}

	deleted, err := repo.Delete(dbc, doc.ID)
	if err != nil || !deleted {
		t.Fatalf("Delete: deleted=%v err=%v", deleted, err)
	}
	if d, _ := repo.GetByID(dbc, doc.ID); d != nil {
		t.Fatalf("document still present")
	}
	if n, _ := chunkRepo.CountByDocument(dbc, doc.ID); n != 0 {
		t.Fatalf("chunks left: %d", n)
	}
	if n, _ := chunkRepo.CountEmbeddings(dbc, doc.ID); n != 0 {
		t.Fatalf("embeddings left: %d", n)
	}
	if pages, _ := repo.ListPages(dbc, doc.ID); len(pages) != 0 {
		t.Fatalf("pages left: %d", len(pages))
	}
	if n, _ := chunkRepo.CountEmbeddings(dbc, other.ID); n != 1 {
		t.Fatalf("other document's embeddings were deleted")
	}
	if again, err := repo.Delete(dbc, doc.ID); err != nil || again {
		t.Fatalf("second Delete: deleted=%v err=%v", again, err)
	}
}
