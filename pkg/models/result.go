package models

import (
	"time"

	"github.com/google/uuid"
)

// Per-record outcomes reported by the engine.
const (
	OutcomeMatched   = "matched"
	OutcomeUnmatched = "unmatched"
	OutcomeReview    = "review"
	OutcomeError     = "error"
)

// ResultRow is one per-record outcome produced while processing a job.
// Rows are appended batch by batch and read back through the exporter
// once the job completes.
type ResultRow struct {
	ID              uuid.UUID `json:"id"`
	JobID           uuid.UUID `json:"job_id"`
	RecordIndex     int       `json:"record_index"`
	Outcome         string    `json:"outcome"`
	Score           float64   `json:"score"`
	MatchedEntityID string    `json:"matched_entity_id,omitempty"`
	Fields          Record    `json:"fields,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// QueueStats is the snapshot served by GET /api/v1/queue/statistics.
type QueueStats struct {
	ActiveJobs            int     `json:"active_jobs"`
	QueuedJobs            int     `json:"queued_jobs"`
	CompletedToday        int     `json:"completed_today"`
	ProcessingRatePerHour float64 `json:"processing_rate_per_hour"`
}
