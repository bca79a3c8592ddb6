package search

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/pdfsum-backend/internal/data/repos"
	"github.com/yungbote/pdfsum-backend/internal/data/repos/testutil"
	types "github.com/yungbote/pdfsum-backend/internal/domain"
	"github.com/yungbote/pdfsum-backend/internal/domain/documents"
	"github.com/yungbote/pdfsum-backend/internal/modules/costguard"
	pkgerrors "github.com/yungbote/pdfsum-backend/internal/pkg/errors"
	"github.com/yungbote/pdfsum-backend/internal/platform/llm/llmtest"
)

func floatPtr(v float64) *float64 { return &v }

func TestRankOrdersByScoreThenChunkOrder(t *testing.T) {
	mk := func(order int) *types.Chunk { return &types.Chunk{ID: uuid.New(), Order: order} }
	q := []float32{1, 0}
	cands := []Candidate{
		{Chunk: mk(3), Vector: []float32{1, 1}},
		{Chunk: mk(2), Vector: []float32{1, 0}},
		{Chunk: mk(0), Vector: []float32{1, 1}},
		{Chunk: mk(1), Vector: []float32{0, 1}},
		{Chunk: mk(4), Vector: []float32{-1, 0}},
	}
	hits := Rank(q, cands, 0.5, 10)
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits above threshold, got %d", len(hits))
	}
	wantOrder := []int{2, 0, 3}
	for i, h := range hits {
		if h.Order != wantOrder[i] {
			t.Fatalf("hit %d: expected order %d, got %d", i, wantOrder[i], h.Order)
		}
	}
	if hits := Rank(q, cands, 0, 2); len(hits) != 2 {
		t.Fatalf("expected top_k cap of 2, got %d", len(hits))
	}
	if s := Cosine([]float32{1, 0}, []float32{-1, 0}); s != 0 {
		t.Fatalf("expected negative similarity clamped to 0, got %v", s)
	}
}

func TestQueryNormalize(t *testing.T) {
	doc := uuid.New()
	q, err := Query{DocumentID: doc, Text: "  revenue "}.Normalize()
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if q.TopK != DefaultTopK || *q.MinSimilarity != DefaultMinSimilarity || q.Text != "revenue" {
		t.Fatalf("unexpected defaults %+v", q)
	}
	bad := []Query{
		{DocumentID: doc, Text: ""},
		{DocumentID: doc, Text: "x", TopK: 101},
		{DocumentID: doc, Text: "x", TopK: -1},
		{DocumentID: doc, Text: "x", MinSimilarity: floatPtr(1.5)},
		{Text: "x"},
	}
	for i, b := range bad {
		if _, err := b.Normalize(); !errors.Is(err, pkgerrors.ErrInvalidArgument) {
			t.Fatalf("case %d: expected invalid argument, got %v", i, err)
		}
	}
}

func setupEngine(t *testing.T, status string) (*Engine, *types.Document) {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	r := repos.New(db, log)
	doc := testutil.SeedDocument(t, db, uuid.New(), status)
	chunks := testutil.SeedChunks(t, db, doc.ID,
		"quarterly revenue grew strongly in europe",
		"the hiring plan adds twelve engineers",
		"revenue growth in europe",
	)
	for _, c := range chunks {
		testutil.SeedEmbedding(t, db, c, llmtest.Vector(c.Text))
	}
	eng := New(Deps{
		Log:       log,
		Documents: r.Documents,
		Chunks:    r.Chunks,
		Guard:     costguard.New(r.Ledger, log, costguard.Config{MonthlyBudgetUSD: 10}),
		Embedder:  &llmtest.Embedder{},
	})
	return eng, doc
}

func TestSearchFindsRelevantChunks(t *testing.T) {
	eng, doc := setupEngine(t, documents.StatusIndexed)
	res, err := eng.Search(context.Background(), Query{
		OwnerUserID:   doc.OwnerUserID,
		DocumentID:    doc.ID,
		Text:          "revenue growth in europe",
		MinSimilarity: floatPtr(0.3),
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.TotalChunksSearched != 3 {
		t.Fatalf("expected 3 chunks searched, got %d", res.TotalChunksSearched)
	}
	if res.TotalResults == 0 || res.Hits[0].Order != 2 {
		t.Fatalf("expected best hit to be chunk 2, got %+v", res.Hits)
	}
	for i := 1; i < len(res.Hits); i++ {
		if res.Hits[i].Score > res.Hits[i-1].Score {
			t.Fatalf("hits not sorted by score: %+v", res.Hits)
		}
	}
}

func TestSearchNoMatchIsEmptyNotError(t *testing.T) {
	eng, doc := setupEngine(t, documents.StatusIndexed)
	res, err := eng.Search(context.Background(), Query{
		OwnerUserID:   doc.OwnerUserID,
		DocumentID:    doc.ID,
		Text:          "what is the budget",
		MinSimilarity: floatPtr(0.9),
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.TotalResults != 0 || len(res.Hits) != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
}

func TestSearchRequiresIndexedDocument(t *testing.T) {
	eng, doc := setupEngine(t, documents.StatusChunked)
	_, err := eng.Search(context.Background(), Query{OwnerUserID: doc.OwnerUserID, DocumentID: doc.ID, Text: "revenue"})
	if !errors.Is(err, pkgerrors.ErrDocumentNotReady) {
		t.Fatalf("expected ErrDocumentNotReady, got %v", err)
	}
	_, err = eng.Search(context.Background(), Query{OwnerUserID: uuid.New(), DocumentID: doc.ID, Text: "revenue"})
	if !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign owner, got %v", err)
	}
}
