package export_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/entityops/matchd/internal/export"
	"github.com/entityops/matchd/internal/store"
	"github.com/entityops/matchd/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// seedCompletedJob creates a completed job with n result rows.
func seedCompletedJob(t *testing.T, s store.Store, n int, output models.OutputConfig) *models.Job {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	job := &models.Job{
		ID:           uuid.New(),
		Name:         "export test",
		Type:         models.JobTypeIdentityMatching,
		Status:       models.JobStatusQueued,
		Priority:     models.PriorityNormal,
		Config:       models.JobConfig{Matching: &models.MatchingConfig{Threshold: 0.8}},
		OutputConfig: output,
		TotalRecords: n,
		EngineMode:   models.EngineModeLive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, s.CreateJob(ctx, job))

	rows := make([]*models.ResultRow, 0, n)
	for i := 0; i < n; i++ {
		outcome := models.OutcomeMatched
		if i%5 == 4 {
			outcome = models.OutcomeUnmatched
		}
		rows = append(rows, &models.ResultRow{
			ID:              uuid.New(),
			JobID:           job.ID,
			RecordIndex:     i,
			Outcome:         outcome,
			Score:           0.9,
			MatchedEntityID: "ent-1",
			Fields:          models.Record{"email": "person@example.com", "city": "Oslo"},
			CreatedAt:       now,
		})
	}
	require.NoError(t, s.AppendResults(ctx, job.ID, rows))

	_, err := s.UpdateJob(ctx, job.ID, store.WithStatus(models.JobStatusRunning))
	require.NoError(t, err)
	job, err = s.UpdateJob(ctx, job.ID,
		store.WithStatus(models.JobStatusCompleted),
		store.WithCounterDelta(n, n, 0),
		store.WithProgress(100))
	require.NoError(t, err)
	return job
}

func TestExporter_Page(t *testing.T) {
	s := store.NewMemoryStore()
	e := export.NewExporter(s)
	job := seedCompletedJob(t, s, 12, models.OutputConfig{})

	rows, total, err := e.Page(context.Background(), job.ID, store.ResultFilter{Page: 2, Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 12, total)
	require.Len(t, rows, 5)
	assert.Equal(t, 5, rows[0].RecordIndex)
}

func TestExporter_PageNotReady(t *testing.T) {
	s := store.NewMemoryStore()
	e := export.NewExporter(s)
	ctx := context.Background()

	now := time.Now().UTC()
	job := &models.Job{
		ID:        uuid.New(),
		Name:      "still running",
		Type:      models.JobTypeIdentityMatching,
		Status:    models.JobStatusQueued,
		Priority:  models.PriorityNormal,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateJob(ctx, job))
	_, err := s.UpdateJob(ctx, job.ID, store.WithStatus(models.JobStatusRunning))
	require.NoError(t, err)

	_, _, err = e.Page(ctx, job.ID, store.ResultFilter{})
	assert.ErrorIs(t, err, export.ErrNotReady)
}

func TestExporter_PageUnknownJob(t *testing.T) {
	s := store.NewMemoryStore()
	e := export.NewExporter(s)

	_, _, err := e.Page(context.Background(), uuid.New(), store.ResultFilter{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestExporter_PageAnonymizesFields(t *testing.T) {
	s := store.NewMemoryStore()
	e := export.NewExporter(s)
	job := seedCompletedJob(t, s, 3, models.OutputConfig{AnonymizeFields: []string{"email"}})

	rows, _, err := e.Page(context.Background(), job.ID, store.ResultFilter{})
	require.NoError(t, err)
	for _, row := range rows {
		assert.Equal(t, "[redacted]", row.Fields["email"])
		assert.Equal(t, "Oslo", row.Fields["city"])
	}

	// Stored rows stay intact.
	stored, _, err := s.ListResults(context.Background(), job.ID, store.ResultFilter{})
	require.NoError(t, err)
	assert.Equal(t, "person@example.com", stored[0].Fields["email"])
}

func TestExporter_ExportJSON(t *testing.T) {
	s := store.NewMemoryStore()
	e := export.NewExporter(s)
	job := seedCompletedJob(t, s, 10, models.OutputConfig{})

	payload, contentType, err := e.Export(context.Background(), job.ID, export.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)

	var out struct {
		JobID        uuid.UUID           `json:"job_id"`
		JobName      string              `json:"job_name"`
		TotalRecords int                 `json:"total_records"`
		Results      []*models.ResultRow `json:"results"`
	}
	require.NoError(t, json.Unmarshal(payload, &out))
	assert.Equal(t, job.ID, out.JobID)
	assert.Equal(t, 10, out.TotalRecords)
	assert.Len(t, out.Results, out.TotalRecords)
	// Metadata only appears when requested.
	assert.Empty(t, out.JobName)
}

func TestExporter_ExportJSONWithMetadata(t *testing.T) {
	s := store.NewMemoryStore()
	e := export.NewExporter(s)
	job := seedCompletedJob(t, s, 2, models.OutputConfig{IncludeMetadata: true})

	payload, _, err := e.Export(context.Background(), job.ID, export.FormatJSON)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(payload, &out))
	assert.Equal(t, "export test", out["job_name"])
	assert.Equal(t, models.JobTypeIdentityMatching, out["job_type"])
	assert.Equal(t, models.EngineModeLive, out["engine_mode"])
	assert.NotEmpty(t, out["exported_at"])
}

func TestExporter_ExportCSV(t *testing.T) {
	s := store.NewMemoryStore()
	e := export.NewExporter(s)
	job := seedCompletedJob(t, s, 4, models.OutputConfig{})

	payload, contentType, err := e.Export(context.Background(), job.ID, export.FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", contentType)

	records, err := csv.NewReader(bytes.NewReader(payload)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 5) // header + 4 rows

	// Field columns are sorted and appended after the fixed columns.
	assert.Equal(t, []string{"record_index", "outcome", "score", "matched_entity_id", "city", "email"}, records[0])
	assert.Equal(t, "0", records[1][0])
	assert.Equal(t, models.OutcomeMatched, records[1][1])
	assert.Equal(t, "Oslo", records[1][4])
}

func TestExporter_ExportXLSX(t *testing.T) {
	s := store.NewMemoryStore()
	e := export.NewExporter(s)
	job := seedCompletedJob(t, s, 3, models.OutputConfig{IncludeMetadata: true})

	payload, contentType, err := e.Export(context.Background(), job.ID, export.FormatXLSX)
	require.NoError(t, err)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", contentType)

	f, err := excelize.OpenReader(bytes.NewReader(payload))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Results")
	require.NoError(t, err)
	require.Len(t, rows, 4) // header + 3 rows
	assert.Equal(t, "record_index", rows[0][0])

	props, err := f.GetDocProps()
	require.NoError(t, err)
	assert.Equal(t, "export test", props.Title)
}

func TestExporter_ExportUnsupportedFormat(t *testing.T) {
	s := store.NewMemoryStore()
	e := export.NewExporter(s)
	job := seedCompletedJob(t, s, 1, models.OutputConfig{})

	_, _, err := e.Export(context.Background(), job.ID, "parquet")
	assert.ErrorIs(t, err, export.ErrUnsupportedFormat)
}

func TestExporter_ExportNotReady(t *testing.T) {
	s := store.NewMemoryStore()
	e := export.NewExporter(s)
	ctx := context.Background()

	now := time.Now().UTC()
	job := &models.Job{
		ID:        uuid.New(),
		Name:      "queued",
		Type:      models.JobTypeBulkExport,
		Status:    models.JobStatusQueued,
		Priority:  models.PriorityNormal,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateJob(ctx, job))

	_, _, err := e.Export(ctx, job.ID, export.FormatJSON)
	assert.ErrorIs(t, err, export.ErrNotReady)
}

func TestExporter_ExportDrainsAllPages(t *testing.T) {
	s := store.NewMemoryStore()
	e := export.NewExporter(s)
	// More rows than one internal page.
	job := seedCompletedJob(t, s, 2500, models.OutputConfig{})

	payload, _, err := e.Export(context.Background(), job.ID, export.FormatJSON)
	require.NoError(t, err)

	var out struct {
		Results []json.RawMessage `json:"results"`
	}
	require.NoError(t, json.Unmarshal(payload, &out))
	assert.Len(t, out.Results, 2500)
}
