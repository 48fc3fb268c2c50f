package store

import (
	"context"
	"errors"

	"github.com/entityops/matchd/pkg/models"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("resource not found")
var ErrInvalidTransition = errors.New("invalid job status transition")

// Store is the data access interface. All persistence operations go through
// here. Updates to a single job are serialized by the implementation so that
// concurrent progress updates and control requests never interleave partially.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)
	// UpdateJob applies a whitelisted partial mutation atomically and returns
	// the updated record. Status changes are validated against the job state
	// machine; an illegal transition returns ErrInvalidTransition and leaves
	// the record untouched.
	UpdateJob(ctx context.Context, id uuid.UUID, opts ...UpdateOption) (*models.Job, error)

	AppendResults(ctx context.Context, jobID uuid.UUID, rows []*models.ResultRow) error
	ListResults(ctx context.Context, jobID uuid.UUID, filter ResultFilter) ([]*models.ResultRow, int, error)

	QueueCounts(ctx context.Context) (QueueCounts, error)
}

// JobFilter narrows ListJobs. Zero values mean "no filter".
type JobFilter struct {
	Status    string
	JobType   string
	CreatedBy string
	Limit     int
	Offset    int
}

// Normalize clamps pagination to sane bounds.
func (f JobFilter) Normalize() JobFilter {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// ResultFilter narrows ListResults. Page is 1-based.
type ResultFilter struct {
	Page    int
	Limit   int
	Outcome string
}

// Normalize clamps pagination to sane bounds.
func (f ResultFilter) Normalize() ResultFilter {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 1000 {
		f.Limit = 1000
	}
	return f
}

// QueueCounts holds store-derived queue statistics.
type QueueCounts struct {
	Active         int
	Queued         int
	CompletedToday int
}

type jobUpdateParams struct {
	Status            *string
	StatusFrom        *string
	ErrorMessage      *string
	EngineMode        *string
	TotalRecords      *int
	Progress          *float64
	RecomputeProgress bool
	IncProcessed      int
	IncSuccessful     int
	IncFailed         int
}

// UpdateOption mutates one whitelisted field of a job record.
type UpdateOption func(*jobUpdateParams)

// WithStatus requests a status transition. Timestamp side effects
// (started_at on first entry to running, completed_at on terminal entry)
// are applied by the store.
func WithStatus(status string) UpdateOption {
	return func(p *jobUpdateParams) { p.Status = &status }
}

// WithStatusFrom requests a status transition conditioned on the job
// currently being in from. Control operations that share a target state
// with another transition use this so the right edge of the state machine
// is taken: resume is paused->running only, even though queued->running is
// also legal for admission.
func WithStatusFrom(from, to string) UpdateOption {
	return func(p *jobUpdateParams) {
		p.Status = &to
		p.StatusFrom = &from
	}
}

func WithErrorMessage(msg string) UpdateOption {
	return func(p *jobUpdateParams) { p.ErrorMessage = &msg }
}

func WithEngineMode(mode string) UpdateOption {
	return func(p *jobUpdateParams) { p.EngineMode = &mode }
}

func WithTotalRecords(n int) UpdateOption {
	return func(p *jobUpdateParams) { p.TotalRecords = &n }
}

func WithProgress(pct float64) UpdateOption {
	return func(p *jobUpdateParams) { p.Progress = &pct }
}

// WithRecomputedProgress derives progress from the post-update counters
// (processed/total*100, capped at 100) inside the same atomic update, so a
// concurrent read never sees new counters with stale progress.
func WithRecomputedProgress() UpdateOption {
	return func(p *jobUpdateParams) { p.RecomputeProgress = true }
}

// WithCounterDelta increments the processed/successful/failed counters.
func WithCounterDelta(processed, successful, failed int) UpdateOption {
	return func(p *jobUpdateParams) {
		p.IncProcessed += processed
		p.IncSuccessful += successful
		p.IncFailed += failed
	}
}
