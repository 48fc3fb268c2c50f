package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/entityops/matchd/internal/api/response"
	"github.com/entityops/matchd/internal/store"
	"github.com/entityops/matchd/pkg/models"
	"github.com/google/uuid"
)

// ResultService exposes completed-job result access for the handlers.
type ResultService interface {
	Page(ctx context.Context, jobID uuid.UUID, filter store.ResultFilter) ([]*models.ResultRow, int, error)
	Export(ctx context.Context, jobID uuid.UUID, format string) ([]byte, string, error)
}

// NewResultsHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}/results.
func NewResultsHandler(svc ResultService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobIDParam(w, r)
		if !ok {
			return
		}

		q := r.URL.Query()
		filter := store.ResultFilter{
			Page:    intQuery(q.Get("page"), 1),
			Limit:   intQuery(q.Get("limit"), 50),
			Outcome: q.Get("outcome"),
		}

		rows, total, err := svc.Page(r.Context(), id, filter)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		filter = filter.Normalize()
		response.Collection(w, rows, response.PaginationMeta{
			Page:    filter.Page,
			Limit:   filter.Limit,
			Total:   total,
			HasNext: (filter.Page-1)*filter.Limit+len(rows) < total,
		})
	}
}

// NewExportHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}/export.
func NewExportHandler(svc ResultService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobIDParam(w, r)
		if !ok {
			return
		}

		format := r.URL.Query().Get("format")
		if format == "" {
			format = "json"
		}

		data, contentType, err := svc.Export(r.Context(), id, format)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("job-%s-results.%s", id, format)))
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}
