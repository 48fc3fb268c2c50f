// Package engine talks to the external identity-matching engine. The
// scheduler hands it one batch of records at a time; the actual matching
// algorithms live on the other side of the wire.
package engine

import (
	"context"
	"errors"

	"github.com/entityops/matchd/pkg/models"
	"github.com/google/uuid"
)

// Sentinel errors for engine client failures.
var (
	ErrEngineUnreachable = errors.New("engine unreachable")
	ErrEngineTimeout     = errors.New("engine request timeout")
	ErrEngineRejected    = errors.New("engine rejected batch")
)

// Client is the capability interface consumed by the job scheduler.
type Client interface {
	// Name identifies the implementation ("http", "simulator").
	Name() string
	// Mode reports how results produced by this client must be tagged on
	// the job record.
	Mode() string
	// ProcessBatch runs one batch of records through the engine. The
	// returned counters always satisfy Successes + Failures == len(records).
	ProcessBatch(ctx context.Context, req BatchRequest) (*BatchResult, error)
	// Ready reports whether the engine can accept work right now.
	Ready(ctx context.Context) error
}

// BatchRequest is one batch of a job's input handed to the engine. For
// inline input Records carries the rows; for descriptor sources (file,
// database, api, cloud_storage) Records is empty and the engine resolves
// the slice [StartIndex, StartIndex+Count) from the job's registered input.
type BatchRequest struct {
	JobID      uuid.UUID
	JobType    string
	Config     models.JobConfig
	StartIndex int
	Count      int
	Records    []models.Record
}

// Size returns the number of records covered by the batch.
func (r BatchRequest) Size() int {
	if len(r.Records) > 0 {
		return len(r.Records)
	}
	return r.Count
}

// BatchResult reports the per-batch outcome.
type BatchResult struct {
	Successes int
	Failures  int
	Rows      []*models.ResultRow
	Errors    []string
}

// IsTransient reports whether err is worth retrying before failing the job.
func IsTransient(err error) bool {
	return errors.Is(err, ErrEngineUnreachable) || errors.Is(err, ErrEngineTimeout)
}
