package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/kitchenprint/internal/core"
	"github.com/orrn/kitchenprint/internal/escpos"
)

// CreateJobRequest carries either raw printer bytes (base64 in JSON) or a structured document.
type CreateJobRequest struct {
	PrinterID string           `json:"printer_id" binding:"required"`
	Type      string           `json:"type" binding:"required"`
	Content   []byte           `json:"content"`
	Document  *escpos.Document `json:"document"`
}

type JobResponse struct {
	ID            string     `json:"id"`
	PrinterID     string     `json:"printer_id"`
	Type          string     `json:"type"`
	Status        string     `json:"status"`
	RetryCount    int        `json:"retry_count"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	Bytes         int        `json:"bytes"`
	CreatedAt     time.Time  `json:"created_at"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Exhausted     bool       `json:"exhausted"`
}

type ListJobsQuery struct {
	PrinterID string `form:"printer_id"`
	Status    string `form:"status"`
	Limit     int    `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset    int    `form:"offset" binding:"omitempty,min=0"`
}

type JobHandler struct {
	queue      *core.Queue
	maxRetries int
}

func NewJobHandler(queue *core.Queue, maxRetries int) *JobHandler {
	return &JobHandler{queue: queue, maxRetries: maxRetries}
}

func (h *JobHandler) CreateJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request", err)
		return
	}

	content := req.Content
	switch {
	case req.Document != nil && len(content) > 0:
		badRequest(c, "provide either content or document, not both", nil)
		return
	case req.Document != nil:
		rendered, err := escpos.Render(req.Document)
		if err != nil {
			respondError(c, err)
			return
		}
		content = rendered
	case len(content) == 0:
		badRequest(c, "content or document is required", nil)
		return
	}

	job, err := h.queue.Enqueue(c.Request.Context(), req.PrinterID, core.JobType(req.Type), content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.jobToResponse(job))
}

func (h *JobHandler) ListJobs(c *gin.Context) {
	var query ListJobsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, "invalid query", err)
		return
	}

	jobs, err := h.queue.List(c.Request.Context(), core.JobFilter{
		PrinterID: query.PrinterID,
		Status:    core.JobStatus(query.Status),
		Limit:     query.Limit,
		Offset:    query.Offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		resp = append(resp, h.jobToResponse(job))
	}
	c.JSON(http.StatusOK, gin.H{"jobs": resp, "count": len(resp)})
}

func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.queue.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.jobToResponse(job))
}

func (h *JobHandler) RetryJob(c *gin.Context) {
	job, err := h.queue.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.jobToResponse(job))
}

func (h *JobHandler) ReprintJob(c *gin.Context) {
	job, err := h.queue.Reprint(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.jobToResponse(job))
}

func (h *JobHandler) GetQueue(c *gin.Context) {
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *JobHandler) jobToResponse(job *core.Job) JobResponse {
	return JobResponse{
		ID:            job.ID,
		PrinterID:     job.PrinterID,
		Type:          string(job.Type),
		Status:        string(job.Status),
		RetryCount:    job.RetryCount,
		ErrorMessage:  job.ErrorMessage,
		Bytes:         len(job.Content),
		CreatedAt:     job.CreatedAt,
		LastAttemptAt: job.LastAttemptAt,
		CompletedAt:   job.CompletedAt,
		Exhausted:     job.Exhausted(h.maxRetries),
	}
}

func (h *JobHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/jobs", h.ListJobs)
	r.POST("/jobs", h.CreateJob)
	r.GET("/jobs/:id", h.GetJob)
	r.POST("/jobs/:id/retry", h.RetryJob)
	r.POST("/jobs/:id/reprint", h.ReprintJob)
	r.GET("/queue", h.GetQueue)
}
