package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/threadscope/threadscope-backend/internal/logger"
	"github.com/threadscope/threadscope-backend/internal/pkg/dbctx"
	"github.com/threadscope/threadscope-backend/internal/services"
)

type JobsHandler struct {
	log  *logger.Logger
	jobs services.JobService
}

func NewJobsHandler(log *logger.Logger, jobs services.JobService) *JobsHandler {
	return &JobsHandler{
		log:  log.With("handler", "JobsHandler"),
		jobs: jobs,
	}
}

// POST /api/jobs
// Body: {"urls": ["https://www.threads.net/..."]}
func (h *JobsHandler) CreateJob(c *gin.Context) {
	var req struct {
		URLs []string `json:"urls"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if len(req.URLs) == 0 {
		RespondError(c, http.StatusBadRequest, "no_urls", errors.New("urls is required"))
		return
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	batch, items, err := h.jobs.CreateJob(dbc, req.URLs)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "job_create_failed", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"job": batch, "items": items})
}

// GET /api/jobs
func (h *JobsHandler) ListJobs(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	jobs, err := h.jobs.ListJobs(dbc, limit)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "job_list_failed", err)
		return
	}
	RespondOK(c, gin.H{"jobs": jobs})
}

// GET /api/jobs/:id
func (h *JobsHandler) GetJobByID(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	job, err := h.jobs.GetJob(dbc, jobID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "job_lookup_failed", err)
		return
	}
	if job == nil {
		RespondError(c, http.StatusNotFound, "job_not_found", errors.New("job not found"))
		return
	}
	RespondOK(c, job)
}

// GET /api/jobs/:id/items?limit=
func (h *JobsHandler) ListJobItems(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if v, convErr := strconv.Atoi(raw); convErr == nil {
			limit = v
		}
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	items, err := h.jobs.ListItems(dbc, jobID, limit)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "job_items_failed", err)
		return
	}
	RespondOK(c, gin.H{"items": items})
}

// POST /api/jobs/:id/cancel
func (h *JobsHandler) CancelJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	batch, err := h.jobs.Cancel(dbc, jobID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "job_cancel_failed", err)
		return
	}
	if batch == nil {
		RespondError(c, http.StatusNotFound, "job_not_found", errors.New("job not found"))
		return
	}
	RespondOK(c, gin.H{"job": batch})
}
