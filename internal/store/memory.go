package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/entityops/matchd/pkg/models"
	"github.com/google/uuid"
)

// MemoryStore implements Store with in-process maps. It backs demo
// deployments that run without Postgres and the unit tests. Safe for
// concurrent use; every job mutation happens under a single lock so readers
// always observe a consistent snapshot.
type MemoryStore struct {
	mu      sync.RWMutex
	jobs    map[uuid.UUID]*models.Job
	results map[uuid.UUID][]*models.ResultRow
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[uuid.UUID]*models.Job),
		results: make(map[uuid.UUID][]*models.ResultRow),
	}
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) ListJobs(_ context.Context, filter JobFilter) ([]*models.Job, int, error) {
	filter = filter.Normalize()

	s.mu.RLock()
	var matched []*models.Job
	for _, job := range s.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.JobType != "" && job.Type != filter.JobType {
			continue
		}
		if filter.CreatedBy != "" && job.CreatedBy != filter.CreatedBy {
			continue
		}
		cp := *job
		matched = append(matched, &cp)
	}
	s.mu.RUnlock()

	// Most recently created first, id as a stable tiebreak.
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID.String() > matched[j].ID.String()
	})

	total := len(matched)
	if filter.Offset >= total {
		return []*models.Job{}, total, nil
	}
	end := filter.Offset + filter.Limit
	if end > total {
		end = total
	}
	return matched[filter.Offset:end], total, nil
}

func (s *MemoryStore) UpdateJob(_ context.Context, id uuid.UUID, opts ...UpdateOption) (*models.Job, error) {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}

	if params.Status != nil {
		if params.StatusFrom != nil && job.Status != *params.StatusFrom {
			return nil, ErrInvalidTransition
		}
		if !models.CanTransition(job.Status, *params.Status) {
			return nil, ErrInvalidTransition
		}
	}

	now := time.Now().UTC()
	if params.Status != nil {
		job.Status = *params.Status
		if *params.Status == models.JobStatusRunning && job.StartedAt == nil {
			t := now
			job.StartedAt = &t
		}
		if models.IsTerminal(*params.Status) && job.CompletedAt == nil {
			t := now
			job.CompletedAt = &t
		}
	}
	if params.ErrorMessage != nil {
		job.ErrorMessage = params.ErrorMessage
	}
	if params.EngineMode != nil {
		job.EngineMode = *params.EngineMode
	}
	if params.TotalRecords != nil {
		job.TotalRecords = *params.TotalRecords
	}
	if params.Progress != nil {
		job.Progress = *params.Progress
	}
	job.ProcessedRecords += params.IncProcessed
	job.SuccessfulRecords += params.IncSuccessful
	job.FailedRecords += params.IncFailed
	if params.RecomputeProgress && job.TotalRecords > 0 {
		pct := float64(job.ProcessedRecords) / float64(job.TotalRecords) * 100
		if pct > 100 {
			pct = 100
		}
		job.Progress = pct
	}
	job.UpdatedAt = now

	cp := *job
	return &cp, nil
}

func (s *MemoryStore) AppendResults(_ context.Context, jobID uuid.UUID, rows []*models.ResultRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[jobID]; !ok {
		return ErrNotFound
	}
	s.results[jobID] = append(s.results[jobID], rows...)
	return nil
}

func (s *MemoryStore) ListResults(_ context.Context, jobID uuid.UUID, filter ResultFilter) ([]*models.ResultRow, int, error) {
	filter = filter.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.jobs[jobID]; !ok {
		return nil, 0, ErrNotFound
	}

	var matched []*models.ResultRow
	for _, row := range s.results[jobID] {
		if filter.Outcome != "" && row.Outcome != filter.Outcome {
			continue
		}
		matched = append(matched, row)
	}

	total := len(matched)
	offset := (filter.Page - 1) * filter.Limit
	if offset >= total {
		return []*models.ResultRow{}, total, nil
	}
	end := offset + filter.Limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (s *MemoryStore) QueueCounts(_ context.Context) (QueueCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	var counts QueueCounts
	for _, job := range s.jobs {
		switch job.Status {
		case models.JobStatusRunning, models.JobStatusPaused:
			counts.Active++
		case models.JobStatusQueued:
			counts.Queued++
		case models.JobStatusCompleted:
			if job.CompletedAt != nil && !job.CompletedAt.Before(midnight) {
				counts.CompletedToday++
			}
		}
	}
	return counts, nil
}

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
