package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/pdfsum-backend/internal/http/response"
	"github.com/yungbote/pdfsum-backend/internal/pkg/errors"
	"github.com/yungbote/pdfsum-backend/internal/services"
)

type DocumentHandler struct {
	docs services.DocumentService
	jobs services.JobService
}

func NewDocumentHandler(docs services.DocumentService, jobs services.JobService) *DocumentHandler {
	return &DocumentHandler{docs: docs, jobs: jobs}
}

type registerDocumentRequest struct {
	Filename    string `json:"filename"`
	ObjectKey   string `json:"object_key"`
	ContentType string `json:"content_type"`
}

// POST /api/documents
func (h *DocumentHandler) Register(c *gin.Context) {
	var req registerDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, fmt.Errorf("%w: %v", errors.ErrInvalidArgument, err))
		return
	}
	doc, job, err := h.docs.Register(requestDBC(c), services.RegisterInput{
		OwnerUserID: userID(c),
		Filename:    req.Filename,
		ObjectKey:   req.ObjectKey,
		ContentType: req.ContentType,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"document": doc, "job": job})
}

// GET /api/documents
func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.docs.List(requestDBC(c), userID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.RespondOK(c, gin.H{"documents": docs})
}

// GET /api/documents/:id
func (h *DocumentHandler) Get(c *gin.Context) {
	id, err := paramUUID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	doc, err := h.docs.Get(requestDBC(c), userID(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.RespondOK(c, gin.H{"document": doc})
}

// DELETE /api/documents/:id
func (h *DocumentHandler) Delete(c *gin.Context) {
	id, err := paramUUID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.docs.Delete(requestDBC(c), userID(c), id); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/documents/:id/estimate?template_id=
func (h *DocumentHandler) Estimate(c *gin.Context) {
	id, err := paramUUID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	templateID := uuid.Nil
	if raw := strings.TrimSpace(c.Query("template_id")); raw != "" {
		if templateID, err = uuid.Parse(raw); err != nil {
			response.Error(c, fmt.Errorf("%w: invalid template_id", errors.ErrInvalidArgument))
			return
		}
	}
	est, err := h.docs.Estimate(requestDBC(c), userID(c), id, templateID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.RespondOK(c, gin.H{"estimate": est})
}

// GET /api/documents/:id/summaries
func (h *DocumentHandler) ListSummaries(c *gin.Context) {
	id, err := paramUUID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	sums, err := h.docs.ListSummaries(requestDBC(c), userID(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.RespondOK(c, gin.H{"summaries": sums})
}

// GET /api/summaries/:id
func (h *DocumentHandler) GetSummary(c *gin.Context) {
	id, err := paramUUID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	sum, err := h.docs.GetSummary(requestDBC(c), userID(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.RespondOK(c, gin.H{"summary": sum})
}

type enqueueJobRequest struct {
	JobType string         `json:"job_type"`
	Payload map[string]any `json:"payload"`
}

// POST /api/documents/:id/jobs
func (h *DocumentHandler) EnqueueJob(c *gin.Context) {
	id, err := paramUUID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req enqueueJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, fmt.Errorf("%w: %v", errors.ErrInvalidArgument, err))
		return
	}
	job, err := h.jobs.Enqueue(requestDBC(c), services.EnqueueInput{
		OwnerUserID: userID(c),
		DocumentID:  id,
		JobType:     strings.TrimSpace(req.JobType),
		Payload:     req.Payload,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.RespondAccepted(c, gin.H{"job": job})
}

// GET /api/documents/:id/jobs
func (h *DocumentHandler) ListJobs(c *gin.Context) {
	id, err := paramUUID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	jobs, err := h.jobs.ListByDocument(requestDBC(c), userID(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.RespondOK(c, gin.H{"jobs": jobs})
}

// GET /api/usage?month=YYYY-MM
func (h *DocumentHandler) Usage(c *gin.Context) {
	usage, err := h.docs.Usage(c.Request.Context(), userID(c), strings.TrimSpace(c.Query("month")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.RespondOK(c, gin.H{"usage": usage})
}
