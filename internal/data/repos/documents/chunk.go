package documents

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/pdfsum-backend/internal/domain"
	docdomain "github.com/yungbote/pdfsum-backend/internal/domain/documents"
	"github.com/yungbote/pdfsum-backend/internal/pkg/dbctx"
	"github.com/yungbote/pdfsum-backend/internal/pkg/errors"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
)

// ChunkRepo owns chunks and their embeddings.
type ChunkRepo interface {
	ReplaceChunks(dbc dbctx.Context, documentID uuid.UUID, chunks []*types.Chunk) error
	ListByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]*types.Chunk, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Chunk, error)
	CountByDocument(dbc dbctx.Context, documentID uuid.UUID) (int64, error)
	ListUnembedded(dbc dbctx.Context, documentID uuid.UUID) ([]*types.Chunk, error)
	UpsertEmbeddings(dbc dbctx.Context, rows []*types.Embedding) error
	ListEmbeddings(dbc dbctx.Context, documentID uuid.UUID) ([]*types.Embedding, error)
	CountEmbeddings(dbc dbctx.Context, documentID uuid.UUID) (int64, error)
}

type chunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChunkRepo(db *gorm.DB, baseLog *logger.Logger) ChunkRepo {
	return &chunkRepo{db: db, log: baseLog.With("repo", "ChunkRepo")}
}

/*
ReplaceChunks drops a document's chunks and embeddings and stores the new
set. Chunks are write-once: the document must be extracting (which only a
lease claim can set), otherwise ErrChunksWritten is returned and nothing is
touched.
*/
func (r *chunkRepo) ReplaceChunks(dbc dbctx.Context, documentID uuid.UUID, chunks []*types.Chunk) error {
	return dbc.DB(r.db).Transaction(func(txx *gorm.DB) error {
		var doc types.Document
		if err := txx.Select("id", "status").Where("id = ?", documentID).Limit(1).Find(&doc).Error; err != nil {
			return err
		}
		if doc.ID == uuid.Nil {
			return fmt.Errorf("document %s: %w", documentID, errors.ErrNotFound)
		}
		if doc.Status != docdomain.StatusExtracting {
			return fmt.Errorf("document %s is %s: %w", documentID, doc.Status, errors.ErrChunksWritten)
		}
		if err := txx.Where("document_id = ?", documentID).Delete(&types.Embedding{}).Error; err != nil {
			return err
		}
		if err := txx.Where("document_id = ?", documentID).Delete(&types.Chunk{}).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		for _, c := range chunks {
			c.DocumentID = documentID
		}
		return txx.CreateInBatches(chunks, 200).Error
	})
}

func (r *chunkRepo) ListByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]*types.Chunk, error) {
	var out []*types.Chunk
	if documentID == uuid.Nil {
		return out, nil
	}
	if err := dbc.DB(r.db).Where("document_id = ?", documentID).Order("chunk_order ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chunkRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Chunk, error) {
	var out []*types.Chunk
	if len(ids) == 0 {
		return out, nil
	}
	if err := dbc.DB(r.db).Where("id IN ?", ids).Order("chunk_order ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chunkRepo) CountByDocument(dbc dbctx.Context, documentID uuid.UUID) (int64, error) {
	var n int64
	err := dbc.DB(r.db).Model(&types.Chunk{}).Where("document_id = ?", documentID).Count(&n).Error
	return n, err
}

// ListUnembedded returns chunks with no embedding row, in order.
func (r *chunkRepo) ListUnembedded(dbc dbctx.Context, documentID uuid.UUID) ([]*types.Chunk, error) {
	var out []*types.Chunk
	if documentID == uuid.Nil {
		return out, nil
	}
	err := dbc.DB(r.db).
		Where("document_id = ?", documentID).
		Where("NOT EXISTS (SELECT 1 FROM chunk_embedding e WHERE e.chunk_id = chunk.id)").
		Order("chunk_order ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertEmbeddings writes embeddings, replacing any existing vector for the chunk.
func (r *chunkRepo) UpsertEmbeddings(dbc dbctx.Context, rows []*types.Embedding) error {
	if len(rows) == 0 {
		return nil
	}
	return dbc.DB(r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chunk_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"vector", "model_name", "dimensions"}),
		}).
		Create(&rows).Error
}

func (r *chunkRepo) ListEmbeddings(dbc dbctx.Context, documentID uuid.UUID) ([]*types.Embedding, error) {
	var out []*types.Embedding
	if documentID == uuid.Nil {
		return out, nil
	}
	if err := dbc.DB(r.db).Where("document_id = ?", documentID).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chunkRepo) CountEmbeddings(dbc dbctx.Context, documentID uuid.UUID) (int64, error) {
	var n int64
	err := dbc.DB(r.db).Model(&types.Embedding{}).Where("document_id = ?", documentID).Count(&n).Error
	return n, err
}
