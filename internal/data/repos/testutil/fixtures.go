package testutil

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/pdfsum-backend/internal/domain"
	"github.com/yungbote/pdfsum-backend/internal/domain/documents"
	"github.com/yungbote/pdfsum-backend/internal/domain/jobs"
	"github.com/yungbote/pdfsum-backend/internal/domain/templates"
)

func SeedDocument(tb testing.TB, tx *gorm.DB, ownerUserID uuid.UUID, status string) *types.Document {
	tb.Helper()
	if status == "" {
		status = documents.StatusUploaded
	}
	d := &types.Document{
		OwnerUserID: ownerUserID,
		Filename:    "report.pdf",
		ObjectKey:   "uploads/" + uuid.NewString() + ".pdf",
		ContentType: "application/pdf",
		Status:      status,
	}
	if err := tx.Create(d).Error; err != nil {
		tb.Fatalf("seed document: %v", err)
	}
	return d
}

// SeedChunks inserts one chunk per text, on consecutive pages starting at 1.
func SeedChunks(tb testing.TB, tx *gorm.DB, documentID uuid.UUID, texts ...string) []*types.Chunk {
	tb.Helper()
	out := make([]*types.Chunk, 0, len(texts))
	for i, text := range texts {
		out = append(out, &types.Chunk{
			DocumentID:    documentID,
			Order:         i,
			Text:          text,
			PageNumber:    i + 1,
			PageEnd:       i + 1,
			WordCount:     len(text) / 5,
			TokenEstimate: len(text) / 4,
		})
	}
	if len(out) == 0 {
		return out
	}
	if err := tx.Create(&out).Error; err != nil {
		tb.Fatalf("seed chunks: %v", err)
	}
	return out
}

func SeedEmbedding(tb testing.TB, tx *gorm.DB, chunk *types.Chunk, vec []float32) *types.Embedding {
	tb.Helper()
	raw, err := json.Marshal(vec)
	if err != nil {
		tb.Fatalf("marshal vector: %v", err)
	}
	e := &types.Embedding{
		ChunkID:    chunk.ID,
		DocumentID: chunk.DocumentID,
		Vector:     datatypes.JSON(raw),
		ModelName:  "test-embed",
		Dimensions: len(vec),
	}
	if err := tx.Create(e).Error; err != nil {
		tb.Fatalf("seed embedding: %v", err)
	}
	return e
}

// SeedTemplate stores a template with the given section titles; every
// section is required.
func SeedTemplate(tb testing.TB, tx *gorm.DB, titles ...string) *types.Template {
	tb.Helper()
	raw := templates.Raw{Name: fmt.Sprintf("tpl-%s", uuid.NewString()[:8])}
	for i, title := range titles {
		raw.Sections = append(raw.Sections, templates.RawSection{Title: title, Order: i + 1})
	}
	tpl, err := templates.Normalize(raw)
	if err != nil {
		tb.Fatalf("normalize template: %v", err)
	}
	if err := tx.Create(tpl).Error; err != nil {
		tb.Fatalf("seed template: %v", err)
	}
	return tpl
}

func SeedJob(tb testing.TB, tx *gorm.DB, ownerUserID, documentID uuid.UUID, jobType, status string) *types.JobRun {
	tb.Helper()
	if status == "" {
		status = jobs.StatusPending
	}
	j := &types.JobRun{
		OwnerUserID: ownerUserID,
		DocumentID:  documentID,
		JobType:     jobType,
		Status:      status,
		Stage:       status,
		Payload:     datatypes.JSON([]byte("{}")),
		Result:      datatypes.JSON([]byte("{}")),
	}
	if err := tx.Create(j).Error; err != nil {
		tb.Fatalf("seed job: %v", err)
	}
	return j
}
