package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/entityops/matchd/internal/cache"
	"github.com/entityops/matchd/internal/store"
	"github.com/entityops/matchd/pkg/models"
	"github.com/google/uuid"
)

// Reporter applies per-batch counter updates to a job record and publishes
// progress events. All counter math goes through the store's atomic update
// so concurrent control requests never observe a half-applied batch.
type Reporter struct {
	store store.Store
	bus   *Bus
	cache cache.Cache // optional; nil skips rate accounting
}

// NewReporter creates a Reporter. The cache may be nil.
func NewReporter(s store.Store, bus *Bus, c cache.Cache) *Reporter {
	return &Reporter{store: s, bus: bus, cache: c}
}

// ApplyBatch increments the job's counters by one batch's outcome,
// recomputing progress in the same atomic store update, and emits a
// progress event. Returns the updated record.
func (r *Reporter) ApplyBatch(ctx context.Context, jobID uuid.UUID, successes, failures int) (*models.Job, error) {
	processed := successes + failures

	job, err := r.store.UpdateJob(ctx, jobID,
		store.WithCounterDelta(processed, successes, failures),
		store.WithRecomputedProgress())
	if err != nil {
		return nil, fmt.Errorf("apply batch: %w", err)
	}

	if r.cache != nil {
		key := cache.ProcessedRateKey(time.Now())
		if _, err := r.cache.IncrByWithExpiry(ctx, key, int64(processed), 2*time.Hour); err != nil {
			slog.Warn("processing rate counter update failed", "error", err)
		}
	}

	// A cancel that landed while the batch was in flight still gets the
	// batch's counters, but a terminal job emits no further events.
	if !models.IsTerminal(job.Status) {
		r.bus.Publish(Event{
			JobID:            job.ID,
			Progress:         job.Progress,
			ProcessedRecords: job.ProcessedRecords,
			TotalRecords:     job.TotalRecords,
			ETASeconds:       etaSeconds(job),
			Timestamp:        time.Now().UTC(),
		})
	}

	return job, nil
}

// etaSeconds estimates remaining time as elapsed/processed * remaining.
// Zero until the first record lands.
func etaSeconds(job *models.Job) float64 {
	if job.ProcessedRecords <= 0 || job.StartedAt == nil {
		return 0
	}
	remaining := job.TotalRecords - job.ProcessedRecords
	if remaining <= 0 {
		return 0
	}
	elapsed := time.Since(*job.StartedAt).Seconds()
	return elapsed / float64(job.ProcessedRecords) * float64(remaining)
}
