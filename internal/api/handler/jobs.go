package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	mw "github.com/entityops/matchd/internal/api/middleware"
	"github.com/entityops/matchd/internal/api/response"
	"github.com/entityops/matchd/internal/export"
	"github.com/entityops/matchd/internal/jobs"
	"github.com/entityops/matchd/internal/store"
	"github.com/entityops/matchd/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// JobService defines the job lifecycle operations the handlers depend on.
type JobService interface {
	Submit(ctx context.Context, req jobs.SubmitRequest) (*models.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
	List(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error)
	Pause(ctx context.Context, id uuid.UUID) (*models.Job, error)
	Resume(ctx context.Context, id uuid.UUID) (*models.Job, error)
	Cancel(ctx context.Context, id uuid.UUID) (*models.Job, error)
	QueueStatistics(ctx context.Context) (*models.QueueStats, error)
}

// createJobRequest is the POST /api/v1/jobs body.
type createJobRequest struct {
	Name         string              `json:"name"`
	JobType      string              `json:"job_type"`
	Priority     string              `json:"priority"`
	Config       models.JobConfig    `json:"config"`
	InputData    models.InputData    `json:"input_data"`
	OutputConfig models.OutputConfig `json:"output_config"`
	CreatedBy    string              `json:"created_by"`
}

// NewCreateJobHandler returns an http.HandlerFunc for POST /api/v1/jobs.
func NewCreateJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid JSON body", nil)
			return
		}

		createdBy := req.CreatedBy
		if createdBy == "" {
			if caller, ok := mw.GetCaller(r); ok {
				createdBy = caller
			}
		}

		job, err := svc.Submit(r.Context(), jobs.SubmitRequest{
			Name:         req.Name,
			JobType:      req.JobType,
			Priority:     req.Priority,
			Config:       req.Config,
			InputData:    req.InputData,
			OutputConfig: req.OutputConfig,
			CreatedBy:    createdBy,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}

		response.Created(w, job)
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
func NewListJobsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := store.JobFilter{
			Status:    q.Get("status"),
			JobType:   q.Get("job_type"),
			CreatedBy: q.Get("created_by"),
			Limit:     intQuery(q.Get("limit"), 20),
			Offset:    intQuery(q.Get("offset"), 0),
		}

		list, total, err := svc.List(r.Context(), filter)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		filter = filter.Normalize()
		response.Collection(w, list, response.PaginationMeta{
			Page:    filter.Offset/filter.Limit + 1,
			Limit:   filter.Limit,
			Total:   total,
			HasNext: filter.Offset+len(list) < total,
		})
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobIDParam(w, r)
		if !ok {
			return
		}

		job, err := svc.Get(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		response.JSON(w, job)
	}
}

// NewCancelJobHandler returns an http.HandlerFunc for DELETE /api/v1/jobs/{jobID}.
func NewCancelJobHandler(svc JobService) http.HandlerFunc {
	return controlHandler(svc.Cancel)
}

// NewPauseJobHandler returns an http.HandlerFunc for POST /api/v1/jobs/{jobID}/pause.
func NewPauseJobHandler(svc JobService) http.HandlerFunc {
	return controlHandler(svc.Pause)
}

// NewResumeJobHandler returns an http.HandlerFunc for POST /api/v1/jobs/{jobID}/resume.
func NewResumeJobHandler(svc JobService) http.HandlerFunc {
	return controlHandler(svc.Resume)
}

func controlHandler(op func(context.Context, uuid.UUID) (*models.Job, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobIDParam(w, r)
		if !ok {
			return
		}

		job, err := op(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		response.JSON(w, job)
	}
}

// NewQueueStatsHandler returns an http.HandlerFunc for GET /api/v1/queue/statistics.
func NewQueueStatsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.QueueStatistics(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		response.JSON(w, stats)
	}
}

func jobIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "job_id must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

func intQuery(raw string, defaultVal int) int {
	if raw == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return defaultVal
	}
	return n
}

// writeDomainError maps domain errors onto the HTTP error taxonomy.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrValidation):
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "No such job", nil)
	case errors.Is(err, store.ErrInvalidTransition):
		response.Error(w, http.StatusConflict, "INVALID_STATE",
			"The job's current status does not permit this operation", nil)
	case errors.Is(err, export.ErrNotReady):
		response.Error(w, http.StatusConflict, "NOT_READY",
			"Results are not available until the job completes", nil)
	case errors.Is(err, export.ErrUnsupportedFormat):
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
