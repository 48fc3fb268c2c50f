package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/entityops/matchd/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const jobColumns = `id, name, type, status, priority, config, input_data, output_config,
	engine_mode, total_records, processed_records, successful_records, failed_records,
	progress, error_message, created_by, started_at, completed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var j models.Job
	var config, input, output []byte
	err := row.Scan(&j.ID, &j.Name, &j.Type, &j.Status, &j.Priority, &config, &input, &output,
		&j.EngineMode, &j.TotalRecords, &j.ProcessedRecords, &j.SuccessfulRecords, &j.FailedRecords,
		&j.Progress, &j.ErrorMessage, &j.CreatedBy, &j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(config, &j.Config); err != nil {
		return nil, fmt.Errorf("decode job config: %w", err)
	}
	if err := json.Unmarshal(input, &j.InputData); err != nil {
		return nil, fmt.Errorf("decode job input_data: %w", err)
	}
	if err := json.Unmarshal(output, &j.OutputConfig); err != nil {
		return nil, fmt.Errorf("decode job output_config: %w", err)
	}
	return &j, nil
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	config, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("encode job config: %w", err)
	}
	input, err := json.Marshal(job.InputData)
	if err != nil {
		return fmt.Errorf("encode job input_data: %w", err)
	}
	output, err := json.Marshal(job.OutputConfig)
	if err != nil {
		return fmt.Errorf("encode job output_config: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, name, type, status, priority, config, input_data, output_config,
		   engine_mode, total_records, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		job.ID, job.Name, job.Type, job.Status, job.Priority, config, input, output,
		job.EngineMode, job.TotalRecords, job.CreatedBy, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error) {
	filter = filter.Normalize()

	// Build WHERE clause dynamically
	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}
	if filter.JobType != "" {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIdx))
		args = append(args, filter.JobType)
		argIdx++
	}
	if filter.CreatedBy != "" {
		conditions = append(conditions, fmt.Sprintf("created_by = $%d", argIdx))
		args = append(args, filter.CreatedBy)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM jobs WHERE " + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	dataQuery := fmt.Sprintf(
		`SELECT `+jobColumns+` FROM jobs WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		where, argIdx, argIdx+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, total, rows.Err()
}

func (s *PostgresStore) UpdateJob(ctx context.Context, id uuid.UUID, opts ...UpdateOption) (*models.Job, error) {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin update job: %w", err)
	}
	defer tx.Rollback(ctx)

	// Row lock serializes concurrent updates to the same job.
	var currentStatus string
	err = tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock job: %w", err)
	}

	if params.Status != nil {
		if params.StatusFrom != nil && currentStatus != *params.StatusFrom {
			return nil, ErrInvalidTransition
		}
		if !models.CanTransition(currentStatus, *params.Status) {
			return nil, ErrInvalidTransition
		}
	}

	now := time.Now().UTC()
	sets := []string{"updated_at = $2"}
	args := []any{id, now}
	argIdx := 3

	if params.Status != nil {
		sets = append(sets, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
		if *params.Status == models.JobStatusRunning {
			sets = append(sets, fmt.Sprintf("started_at = COALESCE(started_at, $%d)", argIdx))
			args = append(args, now)
			argIdx++
		}
		if models.IsTerminal(*params.Status) {
			sets = append(sets, fmt.Sprintf("completed_at = COALESCE(completed_at, $%d)", argIdx))
			args = append(args, now)
			argIdx++
		}
	}
	if params.ErrorMessage != nil {
		sets = append(sets, fmt.Sprintf("error_message = $%d", argIdx))
		args = append(args, *params.ErrorMessage)
		argIdx++
	}
	if params.EngineMode != nil {
		sets = append(sets, fmt.Sprintf("engine_mode = $%d", argIdx))
		args = append(args, *params.EngineMode)
		argIdx++
	}
	if params.TotalRecords != nil {
		sets = append(sets, fmt.Sprintf("total_records = $%d", argIdx))
		args = append(args, *params.TotalRecords)
		argIdx++
	}
	if params.Progress != nil {
		sets = append(sets, fmt.Sprintf("progress = $%d", argIdx))
		args = append(args, *params.Progress)
		argIdx++
	}
	if params.IncProcessed != 0 || params.IncSuccessful != 0 || params.IncFailed != 0 {
		sets = append(sets,
			fmt.Sprintf("processed_records = processed_records + $%d", argIdx),
			fmt.Sprintf("successful_records = successful_records + $%d", argIdx+1),
			fmt.Sprintf("failed_records = failed_records + $%d", argIdx+2))
		args = append(args, params.IncProcessed, params.IncSuccessful, params.IncFailed)
		argIdx += 3
	}
	if params.RecomputeProgress {
		// SET expressions read the pre-update row, so the processed delta
		// is added here explicitly.
		sets = append(sets, fmt.Sprintf(
			`progress = CASE WHEN total_records > 0
			 THEN LEAST(100, (processed_records + $%d)::double precision * 100 / total_records)
			 ELSE progress END`, argIdx))
		args = append(args, params.IncProcessed)
		argIdx++
	}

	query := fmt.Sprintf(`UPDATE jobs SET %s WHERE id = $1 RETURNING %s`,
		strings.Join(sets, ", "), jobColumns)
	job, err := scanJob(tx.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit update job: %w", err)
	}
	return job, nil
}

// --- Results ---

func (s *PostgresStore) AppendResults(ctx context.Context, jobID uuid.UUID, rows []*models.ResultRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		fields, err := json.Marshal(row.Fields)
		if err != nil {
			return fmt.Errorf("encode result fields: %w", err)
		}
		batch.Queue(
			`INSERT INTO job_results (id, job_id, record_index, outcome, score, matched_entity_id, fields, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			row.ID, jobID, row.RecordIndex, row.Outcome, row.Score, row.MatchedEntityID, fields, row.CreatedAt)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range rows {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("append results: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) ListResults(ctx context.Context, jobID uuid.UUID, filter ResultFilter) ([]*models.ResultRow, int, error) {
	filter = filter.Normalize()

	// A job with no results yet still needs NotFound vs empty distinguished.
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM jobs WHERE id = $1)`, jobID).Scan(&exists); err != nil {
		return nil, 0, fmt.Errorf("check job exists: %w", err)
	}
	if !exists {
		return nil, 0, ErrNotFound
	}

	conditions := []string{"job_id = $1"}
	args := []any{jobID}
	argIdx := 2

	if filter.Outcome != "" {
		conditions = append(conditions, fmt.Sprintf("outcome = $%d", argIdx))
		args = append(args, filter.Outcome)
		argIdx++
	}
	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM job_results WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count results: %w", err)
	}

	offset := (filter.Page - 1) * filter.Limit
	dataQuery := fmt.Sprintf(
		`SELECT id, job_id, record_index, outcome, score, matched_entity_id, fields, created_at
		 FROM job_results WHERE %s ORDER BY record_index ASC LIMIT $%d OFFSET $%d`,
		where, argIdx, argIdx+1)
	args = append(args, filter.Limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	results := []*models.ResultRow{}
	for rows.Next() {
		var r models.ResultRow
		var fields []byte
		if err := rows.Scan(&r.ID, &r.JobID, &r.RecordIndex, &r.Outcome, &r.Score,
			&r.MatchedEntityID, &fields, &r.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan result: %w", err)
		}
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &r.Fields); err != nil {
				return nil, 0, fmt.Errorf("decode result fields: %w", err)
			}
		}
		results = append(results, &r)
	}
	return results, total, rows.Err()
}

// --- Queue statistics ---

func (s *PostgresStore) QueueCounts(ctx context.Context) (QueueCounts, error) {
	var counts QueueCounts
	err := s.pool.QueryRow(ctx,
		`SELECT
		   COUNT(*) FILTER (WHERE status IN ('running', 'paused')),
		   COUNT(*) FILTER (WHERE status = 'queued'),
		   COUNT(*) FILTER (WHERE status = 'completed' AND completed_at >= date_trunc('day', NOW() AT TIME ZONE 'utc'))
		 FROM jobs`,
	).Scan(&counts.Active, &counts.Queued, &counts.CompletedToday)
	if err != nil {
		return QueueCounts{}, fmt.Errorf("queue counts: %w", err)
	}
	return counts, nil
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
