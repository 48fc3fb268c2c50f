package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/entityops/matchd/internal/cache"
	"github.com/entityops/matchd/internal/engine"
	"github.com/entityops/matchd/internal/store"
	"github.com/entityops/matchd/pkg/models"
	"github.com/google/uuid"
)

// ErrValidation marks submission errors the caller can fix.
var ErrValidation = errors.New("validation error")

// Options tunes the Manager. Zero values fall back to defaults.
type Options struct {
	MaxConcurrent  int
	RetryMax       int           // attempts per batch before the job fails
	RetryBaseDelay time.Duration // initial backoff interval
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 5
	}
	if o.RetryMax <= 0 {
		o.RetryMax = 3
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = 500 * time.Millisecond
	}
	return o
}

// SubmitRequest carries a new job submission.
type SubmitRequest struct {
	Name         string
	JobType      string
	Priority     string
	Config       models.JobConfig
	InputData    models.InputData
	OutputConfig models.OutputConfig
	CreatedBy    string
}

// jobControl carries the cooperative pause/cancel flags for one running
// job. Workers consult it at batch boundaries only; an in-flight engine
// call is never interrupted.
type jobControl struct {
	mu        sync.Mutex
	cond      *sync.Cond
	paused    bool
	cancelled bool
}

func newJobControl() *jobControl {
	c := &jobControl{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// checkpoint blocks while the job is paused and reports whether the worker
// should keep going. False means the job was cancelled.
func (c *jobControl) checkpoint() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.paused && !c.cancelled {
		c.cond.Wait()
	}
	return !c.cancelled
}

func (c *jobControl) setPaused(paused bool) {
	c.mu.Lock()
	c.paused = paused
	c.mu.Unlock()
	c.cond.Broadcast()
}

func (c *jobControl) cancel() {
	c.mu.Lock()
	c.cancelled = true
	c.mu.Unlock()
	c.cond.Broadcast()
}

// Manager is the job lifecycle orchestrator: it accepts submissions,
// admits queued jobs up to a concurrency limit in priority order, drives
// each admitted job's batches through the engine client, and exposes the
// pause/resume/cancel control operations.
type Manager struct {
	store    store.Store
	live     engine.Client // nil when no engine is configured
	fallback engine.Client // nil when fallback simulation is disabled
	reporter *Reporter
	bus      *Bus
	cache    cache.Cache // optional
	opts     Options

	mu      sync.Mutex
	queue   *admissionQueue
	running map[uuid.UUID]*jobControl

	wake   chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager wires a Manager. live may be nil (simulation-only deployments);
// fallback may be nil (explicit failures when the engine is down); c may be
// nil (no status caching or rate accounting).
func NewManager(s store.Store, live engine.Client, fallback engine.Client, bus *Bus, c cache.Cache, opts Options) *Manager {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:    s,
		live:     live,
		fallback: fallback,
		reporter: NewReporter(s, bus, c),
		bus:      bus,
		cache:    c,
		opts:     opts,
		queue:    newAdmissionQueue(),
		running:  make(map[uuid.UUID]*jobControl),
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the admission loop.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.loop()
}

// Stop signals the admission loop and all workers to wind down and waits
// for them. Running jobs stop at their next batch boundary and stay in
// whatever status the store holds; they are not cancelled.
func (m *Manager) Stop() {
	m.cancel()
	m.mu.Lock()
	for _, ctrl := range m.running {
		ctrl.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// Submit validates the request, persists the job in queued state, and
// enqueues it for admission.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*models.Job, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if !models.ValidJobType(req.JobType) {
		return nil, fmt.Errorf("%w: unknown job_type %q", ErrValidation, req.JobType)
	}
	if req.InputData.TotalRecords() == 0 {
		return nil, fmt.Errorf("%w: input_data with at least one record is required", ErrValidation)
	}
	if req.Priority == "" {
		req.Priority = models.PriorityNormal
	}
	if !models.ValidPriority(req.Priority) {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrValidation, req.Priority)
	}
	if err := req.Config.Validate(req.JobType); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:           uuid.New(),
		Name:         req.Name,
		Type:         req.JobType,
		Status:       models.JobStatusQueued,
		Priority:     req.Priority,
		Config:       req.Config,
		InputData:    req.InputData,
		OutputConfig: req.OutputConfig,
		TotalRecords: req.InputData.TotalRecords(),
		CreatedBy:    req.CreatedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := m.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	m.cacheStatus(ctx, job.ID, job.Status)

	m.mu.Lock()
	m.queue.push(queueItem{id: job.ID, rank: models.PriorityRank(job.Priority), createdAt: job.CreatedAt})
	m.mu.Unlock()
	m.signal()

	slog.Info("job submitted", "job_id", job.ID, "type", job.Type, "priority", job.Priority,
		"total_records", job.TotalRecords)
	return job, nil
}

// Pause requests a cooperative pause. Only a running job can be paused;
// the worker honors it at the next batch boundary.
func (m *Manager) Pause(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := m.store.UpdateJob(ctx, id, store.WithStatus(models.JobStatusPaused))
	if err != nil {
		return nil, err
	}
	m.cacheStatus(ctx, id, job.Status)

	m.mu.Lock()
	if ctrl, ok := m.running[id]; ok {
		ctrl.setPaused(true)
	}
	m.mu.Unlock()

	slog.Info("job paused", "job_id", id)
	return job, nil
}

// Resume moves a paused job back to running. Only the paused->running edge
// is taken; resuming a queued job is rejected even though queued->running
// is a legal transition for admission.
func (m *Manager) Resume(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := m.store.UpdateJob(ctx, id,
		store.WithStatusFrom(models.JobStatusPaused, models.JobStatusRunning))
	if err != nil {
		return nil, err
	}
	m.cacheStatus(ctx, id, job.Status)

	m.mu.Lock()
	ctrl, ok := m.running[id]
	m.mu.Unlock()
	if ok {
		ctrl.setPaused(false)
	} else {
		// The pause predates this process, so no worker holds the job.
		// Continue it from its durable checkpoint.
		m.startWorker(job, m.selectEngine(ctx))
	}

	slog.Info("job resumed", "job_id", id)
	return job, nil
}

// Cancel transitions a queued, running, or paused job to cancelled. A
// running worker stops at its next batch boundary; the batch in flight is
// still applied so no progress is dropped.
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := m.store.UpdateJob(ctx, id, store.WithStatus(models.JobStatusCancelled))
	if err != nil {
		return nil, err
	}
	m.cacheStatus(ctx, id, job.Status)

	m.mu.Lock()
	if ctrl, ok := m.running[id]; ok {
		ctrl.cancel()
	}
	m.mu.Unlock()

	slog.Info("job cancelled", "job_id", id)
	return job, nil
}

// Get returns one job record.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return m.store.GetJob(ctx, id)
}

// List returns jobs matching the filter plus the unpaginated total.
func (m *Manager) List(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error) {
	return m.store.ListJobs(ctx, filter)
}

// QueueStatistics assembles the queue statistics snapshot.
func (m *Manager) QueueStatistics(ctx context.Context) (*models.QueueStats, error) {
	counts, err := m.store.QueueCounts(ctx)
	if err != nil {
		return nil, err
	}

	stats := &models.QueueStats{
		ActiveJobs:     counts.Active,
		QueuedJobs:     counts.Queued,
		CompletedToday: counts.CompletedToday,
	}
	stats.ProcessingRatePerHour = m.processingRate(ctx)
	return stats, nil
}

// processingRate estimates records/hour from the Redis hourly buckets.
// Early in an hour the previous bucket is more representative than a
// scaled-up sliver of the current one.
func (m *Manager) processingRate(ctx context.Context) float64 {
	if m.cache == nil {
		return 0
	}

	now := time.Now().UTC()
	current, err := m.cache.GetCounter(ctx, cache.ProcessedRateKey(now))
	if err != nil {
		slog.Warn("processing rate read failed", "error", err)
		return 0
	}

	elapsed := now.Sub(now.Truncate(time.Hour))
	if elapsed < 5*time.Minute {
		prev, err := m.cache.GetCounter(ctx, cache.ProcessedRateKey(now.Add(-time.Hour)))
		if err == nil && prev > 0 {
			return float64(prev)
		}
	}
	if elapsed <= 0 {
		return float64(current)
	}
	return float64(current) / elapsed.Hours()
}

// Events exposes the progress event bus.
func (m *Manager) Events() *Bus { return m.bus }

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) loop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.wake:
			m.admit()
		}
	}
}

// admit fills free concurrency slots with the highest-priority queued jobs.
func (m *Manager) admit() {
	for {
		m.mu.Lock()
		if len(m.running) >= m.opts.MaxConcurrent {
			m.mu.Unlock()
			return
		}
		item, ok := m.queue.pop()
		if !ok {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		job, err := m.store.GetJob(m.ctx, item.id)
		if err != nil {
			slog.Error("admission lookup failed", "job_id", item.id, "error", err)
			continue
		}
		// Cancelled while queued; nothing to run.
		if job.Status != models.JobStatusQueued {
			continue
		}

		client := m.selectEngine(m.ctx)
		job, err = m.store.UpdateJob(m.ctx, job.ID,
			store.WithStatusFrom(models.JobStatusQueued, models.JobStatusRunning),
			store.WithEngineMode(client.Mode()))
		if errors.Is(err, store.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			slog.Error("admission transition failed", "job_id", item.id, "error", err)
			continue
		}
		m.cacheStatus(m.ctx, job.ID, job.Status)

		slog.Info("job admitted", "job_id", job.ID, "engine", client.Name(), "mode", client.Mode())
		m.startWorker(job, client)
	}
}

// startWorker registers a control handle for the job and launches its
// batch worker. The job must already be in running state.
func (m *Manager) startWorker(job *models.Job, client engine.Client) {
	ctrl := newJobControl()
	m.mu.Lock()
	m.running[job.ID] = ctrl
	m.mu.Unlock()

	m.wg.Add(1)
	go m.runJob(job, client, ctrl)
}

// Recover reconciles durable job state with a fresh process: queued jobs
// re-enter the admission queue, and jobs a previous process left running
// are picked up again from their last applied batch. Paused jobs stay
// paused until resumed.
func (m *Manager) Recover(ctx context.Context) error {
	queued, err := m.listByStatus(ctx, models.JobStatusQueued)
	if err != nil {
		return fmt.Errorf("recovering queued jobs: %w", err)
	}
	m.mu.Lock()
	for _, job := range queued {
		m.queue.push(queueItem{id: job.ID, rank: models.PriorityRank(job.Priority), createdAt: job.CreatedAt})
	}
	m.mu.Unlock()

	orphaned, err := m.listByStatus(ctx, models.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("recovering running jobs: %w", err)
	}
	for _, job := range orphaned {
		slog.Info("resuming interrupted job", "job_id", job.ID,
			"processed", job.ProcessedRecords, "total", job.TotalRecords)
		m.startWorker(job, m.selectEngine(ctx))
	}

	if len(queued) > 0 {
		m.signal()
	}
	return nil
}

func (m *Manager) listByStatus(ctx context.Context, status string) ([]*models.Job, error) {
	const pageSize = 100
	var all []*models.Job
	for offset := 0; ; offset += pageSize {
		page, _, err := m.store.ListJobs(ctx, store.JobFilter{Status: status, Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}

// selectEngine picks the live client when it is ready, falling back to the
// simulator when allowed. Jobs run through the fallback are tagged
// simulated; with no fallback configured, an unreachable engine fails the
// job through the normal retry path instead of fabricating results.
func (m *Manager) selectEngine(ctx context.Context) engine.Client {
	if m.live == nil {
		return m.fallback
	}
	if m.fallback == nil {
		return m.live
	}

	readyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.live.Ready(readyCtx); err != nil {
		slog.Warn("engine not ready, using simulator", "error", err)
		return m.fallback
	}
	return m.live
}

func (m *Manager) runJob(job *models.Job, client engine.Client, ctrl *jobControl) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		delete(m.running, job.ID)
		m.mu.Unlock()
		m.signal()
	}()

	records := job.InputData.Records
	batchSize := job.Config.EffectiveBatchSize()
	total := job.TotalRecords

	// Recovered jobs continue from their durable checkpoint; fresh jobs
	// start at zero.
	for start := job.ProcessedRecords; start < total; start += batchSize {
		if !ctrl.checkpoint() {
			return
		}
		if m.ctx.Err() != nil {
			return
		}

		end := start + batchSize
		if end > total {
			end = total
		}
		var batch []models.Record
		if start < len(records) {
			batch = records[start:min(end, len(records))]
		}

		result, err := m.processWithRetry(client, engine.BatchRequest{
			JobID:      job.ID,
			JobType:    job.Type,
			Config:     job.Config,
			StartIndex: start,
			Count:      end - start,
			Records:    batch,
		})
		if err != nil {
			m.failJob(job.ID, err)
			return
		}

		if err := m.store.AppendResults(m.ctx, job.ID, result.Rows); err != nil {
			m.failJob(job.ID, fmt.Errorf("storing batch results: %w", err))
			return
		}
		if _, err := m.reporter.ApplyBatch(m.ctx, job.ID, result.Successes, result.Failures); err != nil {
			slog.Error("progress update failed", "job_id", job.ID, "error", err)
		}
	}

	m.finishJob(job.ID, ctrl)
}

// finishJob performs the terminal completed transition, respecting a pause
// or cancel that raced in after the last batch.
func (m *Manager) finishJob(id uuid.UUID, ctrl *jobControl) {
	for {
		if !ctrl.checkpoint() {
			return
		}

		job, err := m.store.UpdateJob(m.ctx, id,
			store.WithStatus(models.JobStatusCompleted),
			store.WithProgress(100))
		if errors.Is(err, store.ErrInvalidTransition) {
			current, getErr := m.store.GetJob(m.ctx, id)
			if getErr != nil || models.IsTerminal(current.Status) {
				return
			}
			continue
		}
		if err != nil {
			slog.Error("completion transition failed", "job_id", id, "error", err)
			return
		}

		m.cacheStatus(m.ctx, id, job.Status)
		slog.Info("job completed", "job_id", id,
			"processed", job.ProcessedRecords, "successful", job.SuccessfulRecords,
			"failed", job.FailedRecords)
		return
	}
}

func (m *Manager) failJob(id uuid.UUID, cause error) {
	job, err := m.store.UpdateJob(m.ctx, id,
		store.WithStatus(models.JobStatusFailed),
		store.WithErrorMessage(cause.Error()))
	if err != nil {
		slog.Error("failure transition failed", "job_id", id, "error", err)
		return
	}
	m.cacheStatus(m.ctx, id, job.Status)
	slog.Error("job failed", "job_id", id, "error", cause)
}

// processWithRetry runs one batch, retrying transient engine errors with
// exponential backoff up to the configured attempt budget. Permanent
// errors fail immediately.
func (m *Manager) processWithRetry(client engine.Client, req engine.BatchRequest) (*engine.BatchResult, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.opts.RetryBaseDelay

	attempts := uint64(m.opts.RetryMax)
	if attempts > 0 {
		attempts--
	}

	result, err := backoff.RetryWithData(func() (*engine.BatchResult, error) {
		res, err := client.ProcessBatch(m.ctx, req)
		if err != nil && !engine.IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return res, err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, attempts), m.ctx))
	if err != nil {
		return nil, fmt.Errorf("batch at record %d: %w", req.StartIndex, err)
	}
	return result, nil
}

func (m *Manager) cacheStatus(ctx context.Context, id uuid.UUID, status string) {
	if m.cache == nil {
		return
	}
	if err := m.cache.SetJobStatus(ctx, id, status, 30*time.Minute); err != nil {
		slog.Warn("job status cache update failed", "job_id", id, "error", err)
	}
}
