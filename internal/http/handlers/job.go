package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/pdfsum-backend/internal/http/response"
	"github.com/yungbote/pdfsum-backend/internal/services"
)

type JobHandler struct {
	jobs         services.JobService
	stuckTimeout time.Duration
}

// NewJobHandler takes the idle threshold the recover-stuck endpoint applies.
func NewJobHandler(jobs services.JobService, stuckTimeout time.Duration) *JobHandler {
	if stuckTimeout <= 0 {
		stuckTimeout = 60 * time.Minute
	}
	return &JobHandler{jobs: jobs, stuckTimeout: stuckTimeout}
}

// GET /api/jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, err := paramUUID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	job, err := h.jobs.Get(requestDBC(c), userID(c), jobID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

// POST /api/jobs/:id/cancel
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID, err := paramUUID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	job, err := h.jobs.Cancel(requestDBC(c), userID(c), jobID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

// POST /api/jobs/:id/retry
func (h *JobHandler) RetryJob(c *gin.Context) {
	jobID, err := paramUUID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	job, err := h.jobs.Retry(requestDBC(c), userID(c), jobID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.RespondAccepted(c, gin.H{"job": job})
}

// POST /api/admin/jobs/recover-stuck
func (h *JobHandler) RecoverStuck(c *gin.Context) {
	n, err := h.jobs.RecoverStuck(c.Request.Context(), h.stuckTimeout)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.RespondOK(c, gin.H{"recovered": n})
}
