package search

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/pdfsum-backend/internal/data/repos"
	types "github.com/yungbote/pdfsum-backend/internal/domain"
	"github.com/yungbote/pdfsum-backend/internal/modules/costguard"
	"github.com/yungbote/pdfsum-backend/internal/observability"
	"github.com/yungbote/pdfsum-backend/internal/pkg/dbctx"
	"github.com/yungbote/pdfsum-backend/internal/pkg/errors"
	"github.com/yungbote/pdfsum-backend/internal/platform/llm"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
)

const (
	DefaultTopK          = 5
	MaxTopK              = 100
	DefaultMinSimilarity = 0.5
)

type Query struct {
	OwnerUserID uuid.UUID `json:"-"`
	DocumentID  uuid.UUID `json:"document_id"`
	Text        string    `json:"query"`
	// MinSimilarity is nil for the default threshold; 0 is a valid value.
	MinSimilarity *float64 `json:"min_similarity,omitempty"`
	TopK          int      `json:"top_k,omitempty"`
}

type Hit struct {
	ChunkID        uuid.UUID `json:"chunk_id"`
	Text           string    `json:"text"`
	Score          float64   `json:"score"`
	PageNumber     int       `json:"page_number"`
	PageEnd        int       `json:"page_end"`
	SectionHeading string    `json:"section_heading,omitempty"`
	Order          int       `json:"order"`
}

type Result struct {
	Query               string  `json:"query"`
	Hits                []Hit   `json:"results"`
	TotalResults        int     `json:"total_results"`
	TotalChunksSearched int     `json:"total_chunks_searched"`
	MinSimilarity       float64 `json:"min_similarity"`
	TopK                int     `json:"top_k"`
	DurationMS          int64   `json:"duration_ms"`
}

type Deps struct {
	Log       *logger.Logger
	Documents repos.DocumentRepo
	Chunks    repos.ChunkRepo
	Guard     *costguard.Guard
	Embedder  llm.Embedder
}

type Engine struct {
	deps Deps
	log  *logger.Logger
}

func New(deps Deps) *Engine {
	return &Engine{deps: deps, log: deps.Log.With("component", "SearchEngine")}
}

// Normalize applies defaults and validates the query bounds.
func (q Query) Normalize() (Query, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return q, fmt.Errorf("%w: query text is required", errors.ErrInvalidArgument)
	}
	if q.DocumentID == uuid.Nil {
		return q, fmt.Errorf("%w: document_id is required", errors.ErrInvalidArgument)
	}
	if q.TopK == 0 {
		q.TopK = DefaultTopK
	}
	if q.TopK < 1 || q.TopK > MaxTopK {
		return q, fmt.Errorf("%w: top_k must be between 1 and %d", errors.ErrInvalidArgument, MaxTopK)
	}
	if q.MinSimilarity == nil {
		v := DefaultMinSimilarity
		q.MinSimilarity = &v
	}
	if *q.MinSimilarity < 0 || *q.MinSimilarity > 1 {
		return q, fmt.Errorf("%w: min_similarity must be between 0 and 1", errors.ErrInvalidArgument)
	}
	return q, nil
}

// Search embeds the query under the owner's budget and ranks every chunk
// embedding of the document against it. No hits is a valid result.
func (e *Engine) Search(ctx context.Context, q Query) (res Result, err error) {
	started := time.Now()
	q, err = q.Normalize()
	if err != nil {
		return Result{}, err
	}
	ctx, span := observability.StartSpan(ctx, "search.query",
		attribute.String("document_id", q.DocumentID.String()),
		attribute.Int("top_k", q.TopK),
	)
	defer func() { observability.EndSpan(span, err) }()

	dbc := dbctx.Context{Ctx: ctx}
	doc, err := e.deps.Documents.GetByID(dbc, q.DocumentID)
	if err != nil {
		return Result{}, err
	}
	if doc == nil || (q.OwnerUserID != uuid.Nil && doc.OwnerUserID != q.OwnerUserID) {
		return Result{}, fmt.Errorf("document %s: %w", q.DocumentID, errors.ErrNotFound)
	}
	if !doc.Searchable() {
		return Result{}, fmt.Errorf("document %s is %s: %w", doc.ID, doc.Status, errors.ErrDocumentNotReady)
	}

	embedder := e.deps.Embedder
	if e.deps.Guard != nil {
		embedder = e.deps.Guard.Embedder(embedder, doc.OwnerUserID)
	}
	qv, err := embedder.Embed(ctx, []string{q.Text})
	if err != nil {
		return Result{}, err
	}
	if len(qv.Vectors) != 1 {
		return Result{}, fmt.Errorf("query embedding: expected 1 vector, got %d", len(qv.Vectors))
	}

	hits, searched, err := e.rank(dbc, doc.ID, qv.Vectors[0], *q.MinSimilarity, q.TopK)
	if err != nil {
		return Result{}, err
	}
	res = Result{
		Query:               q.Text,
		Hits:                hits,
		TotalResults:        len(hits),
		TotalChunksSearched: searched,
		MinSimilarity:       *q.MinSimilarity,
		TopK:                q.TopK,
		DurationMS:          time.Since(started).Milliseconds(),
	}
	e.log.Debug("Search completed",
		"document_id", doc.ID,
		"hits", res.TotalResults,
		"searched", searched,
		"duration_ms", res.DurationMS,
	)
	return res, nil
}

func (e *Engine) rank(dbc dbctx.Context, documentID uuid.UUID, query []float32, minSim float64, topK int) ([]Hit, int, error) {
	embs, err := e.deps.Chunks.ListEmbeddings(dbc, documentID)
	if err != nil {
		return nil, 0, err
	}
	chunks, err := e.deps.Chunks.ListByDocument(dbc, documentID)
	if err != nil {
		return nil, 0, err
	}
	byID := make(map[uuid.UUID]*types.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	candidates := make([]Candidate, 0, len(embs))
	for _, emb := range embs {
		c := byID[emb.ChunkID]
		if c == nil {
			continue
		}
		var vec []float32
		if err := json.Unmarshal(emb.Vector, &vec); err != nil {
			e.log.Warn("Skipping undecodable embedding", "chunk_id", emb.ChunkID, "error", err)
			continue
		}
		candidates = append(candidates, Candidate{Chunk: c, Vector: vec})
	}
	return Rank(query, candidates, minSim, topK), len(candidates), nil
}

type Candidate struct {
	Chunk  *types.Chunk
	Vector []float32
}

// Rank scores candidates against query, keeps those at or above minSim, and
// orders by score descending with ties broken by ascending chunk order.
func Rank(query []float32, candidates []Candidate, minSim float64, topK int) []Hit {
	hits := make([]Hit, 0, len(candidates))
	for _, cand := range candidates {
		score := Cosine(query, cand.Vector)
		if score < minSim {
			continue
		}
		hits = append(hits, Hit{
			ChunkID:        cand.Chunk.ID,
			Text:           cand.Chunk.Text,
			Score:          score,
			PageNumber:     cand.Chunk.PageNumber,
			PageEnd:        cand.Chunk.PageEnd,
			SectionHeading: cand.Chunk.SectionHeading,
			Order:          cand.Chunk.Order,
		})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Order < hits[j].Order
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// Cosine returns the cosine similarity of a and b clamped to [0,1].
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := 0; i < len(a); i++ {
		x := float64(a[i])
		y := float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	s := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
