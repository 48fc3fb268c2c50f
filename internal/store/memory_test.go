package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/entityops/matchd/internal/store"
	"github.com/entityops/matchd/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJob(status string) *models.Job {
	now := time.Now().UTC()
	return &models.Job{
		ID:        uuid.New(),
		Name:      "test job",
		Type:      models.JobTypeIdentityMatching,
		Status:    status,
		Priority:  models.PriorityNormal,
		Config:    models.JobConfig{Matching: &models.MatchingConfig{Threshold: 0.8}},
		CreatedBy: "tester",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	s := store.NewMemoryStore()
	job := newTestJob(models.JobStatusQueued)

	require.NoError(t, s.CreateJob(context.Background(), job))

	got, err := s.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, models.JobStatusQueued, got.Status)
}

func TestMemoryStore_GetUnknownJob(t *testing.T) {
	s := store.NewMemoryStore()

	_, err := s.GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	s := store.NewMemoryStore()
	job := newTestJob(models.JobStatusQueued)
	require.NoError(t, s.CreateJob(context.Background(), job))

	got, err := s.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	got.Status = models.JobStatusFailed

	again, err := s.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, again.Status)
}

func TestMemoryStore_UpdateStatusTransition(t *testing.T) {
	s := store.NewMemoryStore()
	job := newTestJob(models.JobStatusQueued)
	require.NoError(t, s.CreateJob(context.Background(), job))

	got, err := s.UpdateJob(context.Background(), job.ID, store.WithStatus(models.JobStatusRunning))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)
}

func TestMemoryStore_UpdateRejectsInvalidTransition(t *testing.T) {
	s := store.NewMemoryStore()
	job := newTestJob(models.JobStatusQueued)
	require.NoError(t, s.CreateJob(context.Background(), job))

	_, err := s.UpdateJob(context.Background(), job.ID, store.WithStatus(models.JobStatusCompleted))
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	// Record untouched.
	got, err := s.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, got.Status)
}

func TestMemoryStore_StatusFromGuardsSharedTarget(t *testing.T) {
	s := store.NewMemoryStore()
	job := newTestJob(models.JobStatusQueued)
	require.NoError(t, s.CreateJob(context.Background(), job))

	// queued->running is legal, but not via the paused->running edge.
	_, err := s.UpdateJob(context.Background(), job.ID,
		store.WithStatusFrom(models.JobStatusPaused, models.JobStatusRunning))
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	got, err := s.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, got.Status)
	assert.Nil(t, got.StartedAt)
}

func TestMemoryStore_StatusFromMatchingSucceeds(t *testing.T) {
	s := store.NewMemoryStore()
	job := newTestJob(models.JobStatusQueued)
	require.NoError(t, s.CreateJob(context.Background(), job))

	_, err := s.UpdateJob(context.Background(), job.ID,
		store.WithStatusFrom(models.JobStatusQueued, models.JobStatusRunning))
	require.NoError(t, err)
	_, err = s.UpdateJob(context.Background(), job.ID, store.WithStatus(models.JobStatusPaused))
	require.NoError(t, err)

	got, err := s.UpdateJob(context.Background(), job.ID,
		store.WithStatusFrom(models.JobStatusPaused, models.JobStatusRunning))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, got.Status)
}

func TestMemoryStore_RecomputedProgressAtomic(t *testing.T) {
	s := store.NewMemoryStore()
	job := newTestJob(models.JobStatusQueued)
	job.TotalRecords = 40
	require.NoError(t, s.CreateJob(context.Background(), job))

	got, err := s.UpdateJob(context.Background(), job.ID,
		store.WithCounterDelta(10, 9, 1), store.WithRecomputedProgress())
	require.NoError(t, err)
	assert.Equal(t, 10, got.ProcessedRecords)
	assert.InDelta(t, 25.0, got.Progress, 0.001)

	// Overshoot past total caps at 100.
	got, err = s.UpdateJob(context.Background(), job.ID,
		store.WithCounterDelta(50, 50, 0), store.WithRecomputedProgress())
	require.NoError(t, err)
	assert.Equal(t, 60, got.ProcessedRecords)
	assert.Equal(t, 100.0, got.Progress)
}

func TestMemoryStore_TerminalSetsCompletedAt(t *testing.T) {
	s := store.NewMemoryStore()
	job := newTestJob(models.JobStatusQueued)
	require.NoError(t, s.CreateJob(context.Background(), job))

	got, err := s.UpdateJob(context.Background(), job.ID, store.WithStatus(models.JobStatusCancelled))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, got.Status)
	require.NotNil(t, got.CompletedAt)
	// Cancelled straight from queued: never started.
	assert.Nil(t, got.StartedAt)
}

func TestMemoryStore_StartedAtSetOnce(t *testing.T) {
	s := store.NewMemoryStore()
	job := newTestJob(models.JobStatusQueued)
	require.NoError(t, s.CreateJob(context.Background(), job))

	first, err := s.UpdateJob(context.Background(), job.ID, store.WithStatus(models.JobStatusRunning))
	require.NoError(t, err)

	_, err = s.UpdateJob(context.Background(), job.ID, store.WithStatus(models.JobStatusPaused))
	require.NoError(t, err)
	resumed, err := s.UpdateJob(context.Background(), job.ID, store.WithStatus(models.JobStatusRunning))
	require.NoError(t, err)

	assert.Equal(t, first.StartedAt, resumed.StartedAt)
}

func TestMemoryStore_CounterDeltas(t *testing.T) {
	s := store.NewMemoryStore()
	job := newTestJob(models.JobStatusQueued)
	require.NoError(t, s.CreateJob(context.Background(), job))

	_, err := s.UpdateJob(context.Background(), job.ID, store.WithCounterDelta(10, 8, 2))
	require.NoError(t, err)
	got, err := s.UpdateJob(context.Background(), job.ID, store.WithCounterDelta(10, 10, 0))
	require.NoError(t, err)

	assert.Equal(t, 20, got.ProcessedRecords)
	assert.Equal(t, 18, got.SuccessfulRecords)
	assert.Equal(t, 2, got.FailedRecords)
	assert.Equal(t, got.ProcessedRecords, got.SuccessfulRecords+got.FailedRecords)
}

func TestMemoryStore_UpdateFields(t *testing.T) {
	s := store.NewMemoryStore()
	job := newTestJob(models.JobStatusQueued)
	require.NoError(t, s.CreateJob(context.Background(), job))

	got, err := s.UpdateJob(context.Background(), job.ID,
		store.WithEngineMode(models.EngineModeSimulated),
		store.WithTotalRecords(500),
		store.WithProgress(42.5))
	require.NoError(t, err)

	assert.Equal(t, models.EngineModeSimulated, got.EngineMode)
	assert.Equal(t, 500, got.TotalRecords)
	assert.Equal(t, 42.5, got.Progress)
}

func TestMemoryStore_ListJobsFiltersAndPaginates(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		job := newTestJob(models.JobStatusQueued)
		job.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if i%2 == 0 {
			job.Type = models.JobTypeDataValidation
			job.Config = models.JobConfig{Validation: &models.ValidationConfig{Rules: []string{"email_format"}}}
		}
		require.NoError(t, s.CreateJob(ctx, job))
	}

	all, total, err := s.ListJobs(ctx, store.JobFilter{})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, all, 5)
	// Most recent first.
	assert.True(t, all[0].CreatedAt.After(all[4].CreatedAt))

	validation, total, err := s.ListJobs(ctx, store.JobFilter{JobType: models.JobTypeDataValidation})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, validation, 3)

	page, total, err := s.ListJobs(ctx, store.JobFilter{Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, page, 1)

	empty, total, err := s.ListJobs(ctx, store.JobFilter{Offset: 50})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Empty(t, empty)
}

func TestMemoryStore_AppendAndListResults(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	job := newTestJob(models.JobStatusQueued)
	require.NoError(t, s.CreateJob(ctx, job))

	rows := make([]*models.ResultRow, 0, 10)
	for i := 0; i < 10; i++ {
		outcome := models.OutcomeMatched
		if i%3 == 0 {
			outcome = models.OutcomeUnmatched
		}
		rows = append(rows, &models.ResultRow{
			ID:          uuid.New(),
			JobID:       job.ID,
			RecordIndex: i,
			Outcome:     outcome,
			Score:       0.9,
			CreatedAt:   time.Now().UTC(),
		})
	}
	require.NoError(t, s.AppendResults(ctx, job.ID, rows))

	got, total, err := s.ListResults(ctx, job.ID, store.ResultFilter{Page: 1, Limit: 4})
	require.NoError(t, err)
	assert.Equal(t, 10, total)
	assert.Len(t, got, 4)
	assert.Equal(t, 0, got[0].RecordIndex)

	last, total, err := s.ListResults(ctx, job.ID, store.ResultFilter{Page: 3, Limit: 4})
	require.NoError(t, err)
	assert.Equal(t, 10, total)
	assert.Len(t, last, 2)

	unmatched, total, err := s.ListResults(ctx, job.ID, store.ResultFilter{Outcome: models.OutcomeUnmatched})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, unmatched, 4)
}

func TestMemoryStore_ListResultsUnknownJob(t *testing.T) {
	s := store.NewMemoryStore()

	_, _, err := s.ListResults(context.Background(), uuid.New(), store.ResultFilter{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryStore_AppendResultsUnknownJob(t *testing.T) {
	s := store.NewMemoryStore()

	err := s.AppendResults(context.Background(), uuid.New(), []*models.ResultRow{{ID: uuid.New()}})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryStore_QueueCounts(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	mk := func(status string) *models.Job {
		job := newTestJob(models.JobStatusQueued)
		require.NoError(t, s.CreateJob(ctx, job))
		if status == models.JobStatusQueued {
			return job
		}
		_, err := s.UpdateJob(ctx, job.ID, store.WithStatus(models.JobStatusRunning))
		require.NoError(t, err)
		if status == models.JobStatusRunning {
			return job
		}
		_, err = s.UpdateJob(ctx, job.ID, store.WithStatus(status))
		require.NoError(t, err)
		return job
	}

	mk(models.JobStatusQueued)
	mk(models.JobStatusQueued)
	mk(models.JobStatusRunning)
	mk(models.JobStatusPaused)
	mk(models.JobStatusCompleted)
	mk(models.JobStatusFailed)

	counts, err := s.QueueCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Queued)
	assert.Equal(t, 2, counts.Active) // running + paused
	assert.Equal(t, 1, counts.CompletedToday)
}
