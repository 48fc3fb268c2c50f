package api

import (
	"net/http"

	mw "github.com/entityops/matchd/internal/api/middleware"
	"github.com/entityops/matchd/internal/api/response"
	"github.com/go-chi/chi/v5"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	CreateJobHandler http.HandlerFunc
	ListJobsHandler  http.HandlerFunc
	GetJobHandler    http.HandlerFunc
	CancelJobHandler http.HandlerFunc
	PauseJobHandler  http.HandlerFunc
	ResumeJobHandler http.HandlerFunc

	ResultsHandler http.HandlerFunc
	ExportHandler  http.HandlerFunc
	EventsHandler  http.HandlerFunc

	QueueStatsHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/jobs", orNotImplemented(deps.CreateJobHandler))
		r.Get("/api/v1/jobs", orNotImplemented(deps.ListJobsHandler))

		// Registered before /{jobID} so chi matches the literal path first.
		r.Get("/api/v1/jobs/events", orNotImplemented(deps.EventsHandler))

		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))
		r.Delete("/api/v1/jobs/{jobID}", orNotImplemented(deps.CancelJobHandler))
		r.Post("/api/v1/jobs/{jobID}/pause", orNotImplemented(deps.PauseJobHandler))
		r.Post("/api/v1/jobs/{jobID}/resume", orNotImplemented(deps.ResumeJobHandler))

		r.Get("/api/v1/jobs/{jobID}/results", orNotImplemented(deps.ResultsHandler))
		r.Get("/api/v1/jobs/{jobID}/export", orNotImplemented(deps.ExportHandler))

		r.Get("/api/v1/queue/statistics", orNotImplemented(deps.QueueStatsHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
