package apihandlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"net/http"

	"conductor/internal/app"
	"conductor/internal/executor"
	"conductor/internal/jobs"
	"conductor/internal/models"
	"conductor/internal/store"
)

type APIHandler struct {
	App *app.App

	// ExecutorFactory overrides the app's provider construction when set;
	// tests inject fakes through it.
	ExecutorFactory func(ctx context.Context) (executor.TaskExecutor, error)
}

// NewRouter builds the gin engine with the job control surface mounted under
// /api/v1.
func NewRouter(h *APIHandler) *gin.Engine {
	r := gin.Default()
	v1 := r.Group("/api/v1")
	v1.POST("/jobs", h.SubmitJobHandler)
	v1.GET("/jobs/:id", h.JobStatusHandler)
	v1.POST("/jobs/:id/retry", h.RetryJobHandler)
	v1.GET("/batches/latest", h.LatestBatchHandler)
	return r
}

func (h *APIHandler) executor(ctx context.Context) (executor.TaskExecutor, error) {
	if h.ExecutorFactory != nil {
		return h.ExecutorFactory(ctx)
	}
	return h.App.NewExecutor(ctx)
}

// SubmitJobRequest is the POST /jobs body.
type SubmitJobRequest struct {
	Tasks         []models.TaskInput `json:"tasks"`
	Concurrency   int                `json:"concurrency,omitempty"`
	PriorityOrder []string           `json:"priority_order,omitempty"`
}

func (h *APIHandler) SubmitJobHandler(c *gin.Context) {
	var req SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if len(req.Tasks) == 0 {
		BadRequest(c, "missing required field: tasks")
		return
	}

	opts := h.jobOptions(req.Concurrency, req.PriorityOrder)

	// The run must outlive this request, so it gets a background context.
	exec, execErr := h.executor(context.Background())
	id, err := h.App.Manager.Submit(context.Background(), req.Tasks, exec, opts)
	if execErr != nil {
		// Job-fatal init failure: the job record exists with status failed.
		c.JSON(http.StatusInternalServerError, gin.H{
			"job_id": id,
			"error":  APIError{Code: "init_failed", Message: execErr.Error()},
		})
		return
	}
	if err != nil {
		Internal(c, fmt.Sprintf("SubmitJobHandler: failed to submit job: %v", err))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": id})
}

func (h *APIHandler) JobStatusHandler(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		BadRequest(c, "Invalid job ID: "+c.Param("id"))
		return
	}

	job, err := h.App.Manager.Status(id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			NotFound(c, fmt.Sprintf("job %s not found", id))
			return
		}
		Internal(c, fmt.Sprintf("JobStatusHandler: %v", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": job})
}

// RetryJobHandler resubmits the failed tasks of a previous run as a new job.
// The path ID is either a job UUID (retry an in-memory job) or the literal
// "latest" (retry the failed subset of the latest persisted batch).
func (h *APIHandler) RetryJobHandler(c *gin.Context) {
	opts := h.jobOptions(0, nil)
	exec, execErr := h.executor(context.Background())
	if execErr != nil {
		Internal(c, "failed to initialize provider: "+execErr.Error())
		return
	}

	param := c.Param("id")
	var (
		newID    uuid.UUID
		recordID string
		err      error
	)
	if param == "latest" {
		newID, recordID, err = h.App.Manager.RetryFailed(context.Background(), exec, opts)
	} else {
		var jobID uuid.UUID
		jobID, err = uuid.Parse(param)
		if err != nil {
			BadRequest(c, "Invalid job ID: "+param)
			return
		}
		newID, err = h.App.Manager.RetryJob(context.Background(), jobID, exec, opts)
	}
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound), errors.Is(err, store.ErrNotFound):
			NotFound(c, err.Error())
		case errors.Is(err, models.ErrNoTasks):
			Conflict(c, "nothing to retry: "+err.Error())
		case errors.Is(err, models.ErrJobNotTerminal):
			Conflict(c, err.Error())
		default:
			Internal(c, fmt.Sprintf("RetryJobHandler: %v", err))
		}
		return
	}

	resp := gin.H{"job_id": newID}
	if recordID != "" {
		resp["record_id"] = recordID
	}
	c.JSON(http.StatusAccepted, resp)
}

func (h *APIHandler) LatestBatchHandler(c *gin.Context) {
	rec, recordID, err := h.App.BatchStore.LoadLatest(c.Request.Context())
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			NotFound(c, "no batch records saved yet")
		case errors.Is(err, store.ErrCorrupt):
			Internal(c, "latest batch record is corrupt: "+err.Error())
		default:
			Internal(c, fmt.Sprintf("LatestBatchHandler: %v", err))
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"record_id": recordID, "data": rec})
}

func (h *APIHandler) jobOptions(concurrency int, priorityOrder []string) jobs.Options {
	opts := h.App.JobOptions()
	if concurrency > 0 {
		opts.Concurrency = concurrency
	}
	if len(priorityOrder) > 0 {
		opts.PriorityOrder = priorityOrder
	}
	return opts
}
