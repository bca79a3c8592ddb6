package services

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/pdfsum-backend/internal/data/repos"
	types "github.com/yungbote/pdfsum-backend/internal/domain"
	docdomain "github.com/yungbote/pdfsum-backend/internal/domain/documents"
	jobsdomain "github.com/yungbote/pdfsum-backend/internal/domain/jobs"
	"github.com/yungbote/pdfsum-backend/internal/modules/costguard"
	"github.com/yungbote/pdfsum-backend/internal/pkg/dbctx"
	"github.com/yungbote/pdfsum-backend/internal/pkg/errors"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
	"github.com/yungbote/pdfsum-backend/internal/platform/objectstore"
)

// RegisterInput describes a PDF that has finished uploading to the object
// store. Uploading itself happens outside this service.
type RegisterInput struct {
	OwnerUserID uuid.UUID
	Filename    string
	ObjectKey   string
	ContentType string
}

type DocumentService interface {
	// Register records the document and enqueues its extract job.
	Register(dbc dbctx.Context, in RegisterInput) (*types.Document, *types.JobRun, error)
	Get(dbc dbctx.Context, ownerUserID, documentID uuid.UUID) (*types.Document, error)
	List(dbc dbctx.Context, ownerUserID uuid.UUID) ([]*types.Document, error)
	GetSummary(dbc dbctx.Context, ownerUserID, summaryID uuid.UUID) (*types.Summary, error)
	ListSummaries(dbc dbctx.Context, ownerUserID, documentID uuid.UUID) ([]*types.Summary, error)
	// Estimate projects the cost of summarizing the document with a template
	// (uuid.Nil for the default template).
	Estimate(dbc dbctx.Context, ownerUserID, documentID, templateID uuid.UUID) (costguard.Estimate, error)
	Usage(ctx context.Context, ownerUserID uuid.UUID, month string) (costguard.MonthlyUsage, error)
	// Delete removes the document and everything derived from it. It fails
	// with ErrDocumentBusy while a job on the document is pending or running.
	Delete(dbc dbctx.Context, ownerUserID, documentID uuid.UUID) error
}

type DocumentServiceDeps struct {
	DB        *gorm.DB
	Log       *logger.Logger
	Documents repos.DocumentRepo
	JobRuns   repos.JobRunRepo
	Summaries repos.SummaryRepo
	Templates repos.TemplateRepo
	Store     objectstore.Store
	Guard     *costguard.Guard
	Jobs      JobService
}

type documentService struct {
	log  *logger.Logger
	deps DocumentServiceDeps
}

func NewDocumentService(deps DocumentServiceDeps) DocumentService {
	return &documentService{log: deps.Log.With("service", "DocumentService"), deps: deps}
}

func (s *documentService) Register(dbc dbctx.Context, in RegisterInput) (*types.Document, *types.JobRun, error) {
	if in.OwnerUserID == uuid.Nil {
		return nil, nil, fmt.Errorf("%w: missing owner", errors.ErrInvalidArgument)
	}
	key := strings.TrimSpace(in.ObjectKey)
	if key == "" {
		return nil, nil, fmt.Errorf("%w: object_key is required", errors.ErrInvalidArgument)
	}
	filename := strings.TrimSpace(in.Filename)
	if filename == "" {
		filename = path.Base(key)
	}
	var size int64
	if s.deps.Store != nil {
		n, err := s.deps.Store.Size(dbc.Ctx, key)
		if err != nil {
			if errors.Is(err, objectstore.ErrNotFound) {
				return nil, nil, fmt.Errorf("object %q: %w", key, errors.ErrNotFound)
			}
			return nil, nil, fmt.Errorf("stat object %q: %w", key, err)
		}
		size = n
	}
	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/pdf"
	}
	doc, err := s.deps.Documents.Create(dbc, &types.Document{
		OwnerUserID: in.OwnerUserID,
		Filename:    filename,
		ObjectKey:   key,
		ContentType: contentType,
		SizeBytes:   size,
		Status:      docdomain.StatusUploaded,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create document: %w", err)
	}
	job, err := s.deps.Jobs.Enqueue(dbc, EnqueueInput{
		OwnerUserID: in.OwnerUserID,
		DocumentID:  doc.ID,
		JobType:     jobsdomain.TypeExtract,
	})
	if err != nil {
		return doc, nil, fmt.Errorf("enqueue extract: %w", err)
	}
	s.log.Info("Document registered", "document_id", doc.ID, "user_id", in.OwnerUserID, "size_bytes", size, "job_id", job.ID)
	return doc, job, nil
}

func (s *documentService) Get(dbc dbctx.Context, ownerUserID, documentID uuid.UUID) (*types.Document, error) {
	doc, err := s.deps.Documents.GetByID(dbc, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil || (ownerUserID != uuid.Nil && doc.OwnerUserID != ownerUserID) {
		return nil, fmt.Errorf("document %s: %w", documentID, errors.ErrNotFound)
	}
	return doc, nil
}

func (s *documentService) List(dbc dbctx.Context, ownerUserID uuid.UUID) ([]*types.Document, error) {
	return s.deps.Documents.ListByOwner(dbc, ownerUserID, 100)
}

func (s *documentService) GetSummary(dbc dbctx.Context, ownerUserID, summaryID uuid.UUID) (*types.Summary, error) {
	sum, err := s.deps.Summaries.GetByID(dbc, summaryID)
	if err != nil {
		return nil, err
	}
	if sum == nil || (ownerUserID != uuid.Nil && sum.OwnerUserID != ownerUserID) {
		return nil, fmt.Errorf("summary %s: %w", summaryID, errors.ErrNotFound)
	}
	return sum, nil
}

func (s *documentService) ListSummaries(dbc dbctx.Context, ownerUserID, documentID uuid.UUID) ([]*types.Summary, error) {
	if _, err := s.Get(dbc, ownerUserID, documentID); err != nil {
		return nil, err
	}
	return s.deps.Summaries.ListByDocument(dbc, documentID)
}

func (s *documentService) Estimate(dbc dbctx.Context, ownerUserID, documentID, templateID uuid.UUID) (costguard.Estimate, error) {
	doc, err := s.Get(dbc, ownerUserID, documentID)
	if err != nil {
		return costguard.Estimate{}, err
	}
	if doc.TotalWords == 0 {
		return costguard.Estimate{}, fmt.Errorf("document %s is %s: %w", doc.ID, doc.Status, errors.ErrDocumentNotReady)
	}
	var tpl *types.Template
	if templateID == uuid.Nil {
		tpl, err = s.deps.Templates.GetDefault(dbc)
	} else {
		tpl, err = s.deps.Templates.GetByID(dbc, templateID)
	}
	if err != nil {
		return costguard.Estimate{}, err
	}
	if tpl == nil {
		return costguard.Estimate{}, fmt.Errorf("template: %w", errors.ErrNotFound)
	}
	return s.deps.Guard.EstimateDocument(doc.TotalWords, tpl), nil
}

func (s *documentService) Usage(ctx context.Context, ownerUserID uuid.UUID, month string) (costguard.MonthlyUsage, error) {
	return s.deps.Guard.Usage(ctx, ownerUserID, month)
}

func (s *documentService) Delete(dbc dbctx.Context, ownerUserID, documentID uuid.UUID) error {
	doc, err := s.Get(dbc, ownerUserID, documentID)
	if err != nil {
		return err
	}
	err = dbc.DB(s.deps.DB).Transaction(func(txx *gorm.DB) error {
		inner := dbc.WithTx(txx)
		active, err := s.deps.JobRuns.HasActiveForDocument(inner, doc.ID, "")
		if err != nil {
			return err
		}
		if active {
			return fmt.Errorf("document %s: %w", doc.ID, errors.ErrDocumentBusy)
		}
		if _, err := s.deps.Summaries.DeleteByDocument(inner, doc.ID); err != nil {
			return fmt.Errorf("delete summaries: %w", err)
		}
		if _, err := s.deps.JobRuns.DeleteByDocument(inner, doc.ID); err != nil {
			return fmt.Errorf("delete jobs: %w", err)
		}
		deleted, err := s.deps.Documents.Delete(inner, doc.ID)
		if err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
		if !deleted {
			return fmt.Errorf("document %s: %w", doc.ID, errors.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if d, ok := s.deps.Store.(objectstore.Deleter); ok && doc.ObjectKey != "" {
		if err := d.Delete(context.WithoutCancel(dbc.Ctx), doc.ObjectKey); err != nil {
			s.log.Warn("Delete document object failed", "document_id", doc.ID, "object_key", doc.ObjectKey, "error", err)
		}
	}
	s.log.Info("Document deleted", "document_id", doc.ID, "user_id", doc.OwnerUserID)
	return nil
}
