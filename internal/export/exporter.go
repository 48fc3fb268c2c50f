// Package export paginates and serializes a completed job's results.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/entityops/matchd/internal/store"
	"github.com/entityops/matchd/pkg/models"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

// ErrNotReady is returned when results are requested for a job that has
// not completed yet.
var ErrNotReady = errors.New("job results not ready")

// ErrUnsupportedFormat is returned for export formats outside csv/json/xlsx.
var ErrUnsupportedFormat = errors.New("unsupported export format")

const redactedValue = "[redacted]"

// Export formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatXLSX = "xlsx"
)

// Exporter reads a completed job's result rows back out of the store.
type Exporter struct {
	store store.Store
}

// NewExporter creates an Exporter.
func NewExporter(s store.Store) *Exporter {
	return &Exporter{store: s}
}

// Page returns one page of result rows for a completed job along with the
// unpaginated total.
func (e *Exporter) Page(ctx context.Context, jobID uuid.UUID, filter store.ResultFilter) ([]*models.ResultRow, int, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, 0, err
	}
	if job.Status != models.JobStatusCompleted {
		return nil, 0, fmt.Errorf("%w: job is %s", ErrNotReady, job.Status)
	}

	rows, total, err := e.store.ListResults(ctx, jobID, filter)
	if err != nil {
		return nil, 0, err
	}
	return e.anonymize(job, rows), total, nil
}

// Export serializes the full result set of a completed job. Returns the
// payload and its media type.
func (e *Exporter) Export(ctx context.Context, jobID uuid.UUID, format string) ([]byte, string, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, "", err
	}
	if job.Status != models.JobStatusCompleted {
		return nil, "", fmt.Errorf("%w: job is %s", ErrNotReady, job.Status)
	}

	rows, err := e.allRows(ctx, jobID)
	if err != nil {
		return nil, "", err
	}
	rows = e.anonymize(job, rows)

	switch format {
	case FormatJSON:
		payload, err := marshalJSON(job, rows)
		return payload, "application/json", err
	case FormatCSV:
		payload, err := marshalCSV(rows)
		return payload, "text/csv", err
	case FormatXLSX:
		payload, err := marshalXLSX(job, rows)
		return payload, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", err
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// allRows drains every result page for the job.
func (e *Exporter) allRows(ctx context.Context, jobID uuid.UUID) ([]*models.ResultRow, error) {
	var all []*models.ResultRow
	for page := 1; ; page++ {
		rows, total, err := e.store.ListResults(ctx, jobID, store.ResultFilter{Page: page, Limit: 1000})
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
		if len(all) >= total || len(rows) == 0 {
			return all, nil
		}
	}
}

// anonymize blanks configured fields on row copies, leaving stored rows
// untouched.
func (e *Exporter) anonymize(job *models.Job, rows []*models.ResultRow) []*models.ResultRow {
	if len(job.OutputConfig.AnonymizeFields) == 0 {
		return rows
	}

	masked := make(map[string]bool, len(job.OutputConfig.AnonymizeFields))
	for _, f := range job.OutputConfig.AnonymizeFields {
		masked[f] = true
	}

	out := make([]*models.ResultRow, len(rows))
	for i, row := range rows {
		cp := *row
		if len(cp.Fields) > 0 {
			fields := make(models.Record, len(cp.Fields))
			for k, v := range cp.Fields {
				if masked[k] {
					fields[k] = redactedValue
				} else {
					fields[k] = v
				}
			}
			cp.Fields = fields
		}
		out[i] = &cp
	}
	return out
}

// jsonExport is the JSON export envelope.
type jsonExport struct {
	JobID        uuid.UUID           `json:"job_id"`
	JobName      string              `json:"job_name,omitempty"`
	JobType      string              `json:"job_type,omitempty"`
	EngineMode   string              `json:"engine_mode,omitempty"`
	ExportedAt   *time.Time          `json:"exported_at,omitempty"`
	TotalRecords int                 `json:"total_records"`
	Results      []*models.ResultRow `json:"results"`
}

func marshalJSON(job *models.Job, rows []*models.ResultRow) ([]byte, error) {
	out := jsonExport{
		JobID:        job.ID,
		TotalRecords: job.TotalRecords,
		Results:      rows,
	}
	if job.OutputConfig.IncludeMetadata {
		now := time.Now().UTC()
		out.JobName = job.Name
		out.JobType = job.Type
		out.EngineMode = job.EngineMode
		out.ExportedAt = &now
	}
	return json.MarshalIndent(out, "", "  ")
}

var csvHeader = []string{"record_index", "outcome", "score", "matched_entity_id"}

// fieldColumns returns the sorted union of field keys across rows, so the
// CSV has a stable, complete column set.
func fieldColumns(rows []*models.ResultRow) []string {
	seen := map[string]bool{}
	for _, row := range rows {
		for k := range row.Fields {
			seen[k] = true
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

func rowCells(row *models.ResultRow, fieldCols []string) []string {
	cells := []string{
		strconv.Itoa(row.RecordIndex),
		row.Outcome,
		strconv.FormatFloat(row.Score, 'f', 4, 64),
		row.MatchedEntityID,
	}
	for _, col := range fieldCols {
		cells = append(cells, fmt.Sprint(valueOrEmpty(row.Fields[col])))
	}
	return cells
}

func valueOrEmpty(v any) any {
	if v == nil {
		return ""
	}
	return v
}

func marshalCSV(rows []*models.ResultRow) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	fieldCols := fieldColumns(rows)
	if err := w.Write(append(append([]string{}, csvHeader...), fieldCols...)); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(rowCells(row, fieldCols)); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func marshalXLSX(job *models.Job, rows []*models.ResultRow) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Results"
	f.SetSheetName("Sheet1", sheet)

	fieldCols := fieldColumns(rows)
	header := make([]any, 0, len(csvHeader)+len(fieldCols))
	for _, h := range csvHeader {
		header = append(header, h)
	}
	for _, h := range fieldCols {
		header = append(header, h)
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("write xlsx header: %w", err)
	}

	for i, row := range rows {
		cells := make([]any, 0, len(header))
		cells = append(cells, row.RecordIndex, row.Outcome, row.Score, row.MatchedEntityID)
		for _, col := range fieldCols {
			cells = append(cells, valueOrEmpty(row.Fields[col]))
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("xlsx cell for row %d: %w", i, err)
		}
		if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
			return nil, fmt.Errorf("write xlsx row %d: %w", i, err)
		}
	}

	if job.OutputConfig.IncludeMetadata {
		f.SetDocProps(&excelize.DocProperties{
			Title:       job.Name,
			Subject:     job.Type,
			Description: fmt.Sprintf("engine_mode=%s total_records=%d", job.EngineMode, job.TotalRecords),
		})
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write xlsx: %w", err)
	}
	return buf.Bytes(), nil
}
