package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/entityops/matchd/pkg/models"
	"github.com/google/uuid"
)

// Simulator is the local fallback when the real engine is unreachable.
// Results are deterministic for a given job and record index, and the
// counters are always internally consistent, so every downstream invariant
// holds in fallback mode exactly as it does against the real engine.
// Jobs processed this way carry engine_mode "simulated".
type Simulator struct{}

// NewSimulator creates a Simulator.
func NewSimulator() *Simulator {
	return &Simulator{}
}

func (s *Simulator) Name() string { return "simulator" }

func (s *Simulator) Mode() string { return models.EngineModeSimulated }

func (s *Simulator) Ready(_ context.Context) error { return nil }

func (s *Simulator) ProcessBatch(_ context.Context, req BatchRequest) (*BatchResult, error) {
	result := &BatchResult{}

	for i := 0; i < req.Size(); i++ {
		idx := req.StartIndex + i
		h := recordHash(req.JobID, idx)

		var fields models.Record
		if i < len(req.Records) {
			fields = req.Records[i]
		}

		outcome, score := simulateOutcome(req.JobType, h)
		row := &models.ResultRow{
			ID:          uuid.New(),
			JobID:       req.JobID,
			RecordIndex: idx,
			Outcome:     outcome,
			Score:       score,
			Fields:      fields,
			CreatedAt:   time.Now().UTC(),
		}
		if outcome == models.OutcomeMatched {
			row.MatchedEntityID = fmt.Sprintf("sim-%08x", h)
		}

		if outcome == models.OutcomeError {
			result.Failures++
			result.Errors = append(result.Errors, fmt.Sprintf("record %d: simulated processing error", idx))
		} else {
			result.Successes++
		}
		result.Rows = append(result.Rows, row)
	}

	return result, nil
}

// simulateOutcome derives a per-record outcome from the hash. Roughly 70%
// of matching records match, a few land in review, and one in twenty fails,
// which keeps demo dashboards honest about failure handling.
func simulateOutcome(jobType string, h uint32) (string, float64) {
	bucket := h % 100
	score := 0.5 + float64(h%500)/1000.0 // [0.5, 1.0)

	if bucket < 5 {
		return models.OutcomeError, 0
	}

	switch jobType {
	case models.JobTypeIdentityMatching, models.JobTypeDeduplication, models.JobTypeHouseholdDetection:
		switch {
		case bucket < 70:
			return models.OutcomeMatched, score
		case bucket < 80:
			return models.OutcomeReview, score * 0.8
		default:
			return models.OutcomeUnmatched, score * 0.5
		}
	default:
		// Validation-style jobs either pass or get flagged for review.
		if bucket < 85 {
			return models.OutcomeMatched, score
		}
		return models.OutcomeReview, score * 0.8
	}
}

func recordHash(jobID uuid.UUID, index int) uint32 {
	h := fnv.New32a()
	h.Write(jobID[:])
	fmt.Fprintf(h, ":%d", index)
	return h.Sum32()
}

// Compile-time check that Simulator implements Client.
var _ Client = (*Simulator)(nil)
