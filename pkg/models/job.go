package models

import (
	"time"

	"github.com/google/uuid"
)

// Job statuses. Completed, failed and cancelled are terminal.
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusPaused    = "paused"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// Job types understood by the matching engine.
const (
	JobTypeIdentityMatching   = "identity_matching"
	JobTypeDataValidation     = "data_validation"
	JobTypeHouseholdDetection = "household_detection"
	JobTypeDataQuality        = "data_quality"
	JobTypeDeduplication      = "deduplication"
	JobTypeBulkExport         = "bulk_export"
)

// Job priorities. Priority affects queue ordering only; a running job is
// never preempted.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Engine modes. A job processed by the local simulator is tagged
// "simulated" so its results are never mistaken for real engine output.
const (
	EngineModeLive      = "live"
	EngineModeSimulated = "simulated"
)

var validJobTypes = map[string]bool{
	JobTypeIdentityMatching:   true,
	JobTypeDataValidation:     true,
	JobTypeHouseholdDetection: true,
	JobTypeDataQuality:        true,
	JobTypeDeduplication:      true,
	JobTypeBulkExport:         true,
}

// ValidJobType reports whether t is a known job type.
func ValidJobType(t string) bool { return validJobTypes[t] }

// priorityRank orders priorities for admission. Higher runs first.
var priorityRank = map[string]int{
	PriorityLow:    0,
	PriorityNormal: 1,
	PriorityHigh:   2,
	PriorityUrgent: 3,
}

// PriorityRank returns the admission rank of p, defaulting to normal for
// unknown values.
func PriorityRank(p string) int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return priorityRank[PriorityNormal]
}

// ValidPriority reports whether p is a known priority.
func ValidPriority(p string) bool {
	_, ok := priorityRank[p]
	return ok
}

// validTransitions is the job state machine. Any transition not listed
// here is rejected by the store.
var validTransitions = map[string][]string{
	JobStatusQueued:  {JobStatusRunning, JobStatusCancelled},
	JobStatusRunning: {JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusPaused},
	JobStatusPaused:  {JobStatusRunning, JobStatusCancelled},
}

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to string) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether status permits no further transitions.
func IsTerminal(status string) bool {
	return status == JobStatusCompleted || status == JobStatusFailed || status == JobStatusCancelled
}

// Record is one input row handed to the engine. The field set varies per
// source system, so it stays schemaless here.
type Record map[string]any

// InputData references a job's input payload. Inline records are carried
// directly; other sources are descriptors resolved by the engine.
type InputData struct {
	Source      string   `json:"source"` // inline, file, database, api, cloud_storage
	Records     []Record `json:"records,omitempty"`
	Location    string   `json:"location,omitempty"`
	RecordCount int      `json:"record_count,omitempty"`
}

// TotalRecords returns the number of input records, when known.
func (in InputData) TotalRecords() int {
	if in.Source == "inline" || in.Source == "" {
		return len(in.Records)
	}
	return in.RecordCount
}

// OutputConfig controls how a job's results are serialized on export.
type OutputConfig struct {
	Format          string   `json:"format,omitempty"` // csv, json, xlsx
	AnonymizeFields []string `json:"anonymize_fields,omitempty"`
	IncludeMetadata bool     `json:"include_metadata,omitempty"`
}

// Job tracks one batch processing request through its lifecycle. The API
// returns a job_id on POST /api/v1/jobs; clients poll GET /api/v1/jobs/{job_id}
// or subscribe to the SSE stream until the job reaches a terminal status.
type Job struct {
	ID                uuid.UUID    `json:"job_id"`
	Name              string       `json:"name"`
	Type              string       `json:"job_type"`
	Status            string       `json:"status"`
	Priority          string       `json:"priority"`
	Config            JobConfig    `json:"config"`
	InputData         InputData    `json:"input_data"`
	OutputConfig      OutputConfig `json:"output_config"`
	EngineMode        string       `json:"engine_mode,omitempty"`
	TotalRecords      int          `json:"total_records"`
	ProcessedRecords  int          `json:"processed_records"`
	SuccessfulRecords int          `json:"successful_records"`
	FailedRecords     int          `json:"failed_records"`
	Progress          float64      `json:"progress"`
	ErrorMessage      *string      `json:"error_message,omitempty"`
	CreatedBy         string       `json:"created_by"`
	StartedAt         *time.Time   `json:"started_at,omitempty"`
	CompletedAt       *time.Time   `json:"completed_at,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}
