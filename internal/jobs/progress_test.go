package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/entityops/matchd/internal/jobs"
	"github.com/entityops/matchd/internal/store"
	"github.com/entityops/matchd/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunningJob(t *testing.T, s store.Store, total int) *models.Job {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	job := &models.Job{
		ID:           uuid.New(),
		Name:         "progress test",
		Type:         models.JobTypeIdentityMatching,
		Status:       models.JobStatusQueued,
		Priority:     models.PriorityNormal,
		Config:       models.JobConfig{Matching: &models.MatchingConfig{Threshold: 0.8}},
		TotalRecords: total,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, s.CreateJob(ctx, job))

	job, err := s.UpdateJob(ctx, job.ID, store.WithStatus(models.JobStatusRunning))
	require.NoError(t, err)
	return job
}

func TestReporter_ApplyBatchUpdatesCountersAndProgress(t *testing.T) {
	s := store.NewMemoryStore()
	bus := jobs.NewBus()
	reporter := jobs.NewReporter(s, bus, nil)

	job := newRunningJob(t, s, 100)

	got, err := reporter.ApplyBatch(context.Background(), job.ID, 8, 2)
	require.NoError(t, err)

	// Counters and derived progress land in one atomic update, so the
	// returned snapshot already carries both.
	assert.Equal(t, 10, got.ProcessedRecords)
	assert.Equal(t, 8, got.SuccessfulRecords)
	assert.Equal(t, 2, got.FailedRecords)
	assert.InDelta(t, 10.0, got.Progress, 0.001)

	fresh, err := s.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, fresh.Progress, 0.001)
}

func TestReporter_ApplyBatchPublishesEvent(t *testing.T) {
	s := store.NewMemoryStore()
	bus := jobs.NewBus()
	reporter := jobs.NewReporter(s, bus, nil)

	job := newRunningJob(t, s, 50)

	events, cancel := bus.Subscribe()
	defer cancel()

	_, err := reporter.ApplyBatch(context.Background(), job.ID, 25, 0)
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, job.ID, ev.JobID)
		assert.Equal(t, 25, ev.ProcessedRecords)
		assert.Equal(t, 50, ev.TotalRecords)
		assert.InDelta(t, 50.0, ev.Progress, 0.001)
		assert.GreaterOrEqual(t, ev.ETASeconds, 0.0)
	case <-time.After(time.Second):
		t.Fatal("expected a progress event")
	}
}

func TestReporter_ApplyBatchUnknownJob(t *testing.T) {
	s := store.NewMemoryStore()
	reporter := jobs.NewReporter(s, jobs.NewBus(), nil)

	_, err := reporter.ApplyBatch(context.Background(), uuid.New(), 1, 0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReporter_ProgressClampedAtHundred(t *testing.T) {
	s := store.NewMemoryStore()
	bus := jobs.NewBus()
	reporter := jobs.NewReporter(s, bus, nil)

	job := newRunningJob(t, s, 10)

	// Counters can legitimately exceed total on descriptor inputs whose
	// record_count was an estimate; progress still caps at 100.
	got, err := reporter.ApplyBatch(context.Background(), job.ID, 15, 0)
	require.NoError(t, err)
	assert.Equal(t, 15, got.ProcessedRecords)
	assert.Equal(t, 100.0, got.Progress)
}

func TestReporter_NoEventAfterTerminalTransition(t *testing.T) {
	s := store.NewMemoryStore()
	bus := jobs.NewBus()
	reporter := jobs.NewReporter(s, bus, nil)

	job := newRunningJob(t, s, 2)

	// Cancel lands while a batch is in flight.
	_, err := s.UpdateJob(context.Background(), job.ID, store.WithStatus(models.JobStatusCancelled))
	require.NoError(t, err)

	events, cancel := bus.Subscribe()
	defer cancel()

	// The in-flight batch's counters still count, but no event follows
	// the terminal transition.
	got, err := reporter.ApplyBatch(context.Background(), job.ID, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, got.Status)
	assert.Equal(t, 1, got.ProcessedRecords)

	select {
	case ev := <-events:
		t.Fatalf("unexpected event for terminal job: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}
