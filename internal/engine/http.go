package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/entityops/matchd/pkg/models"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
)

// HTTPClient implements Client against the matching engine's HTTP API.
// A circuit breaker sits in front of every call: once the engine has been
// failing, further batches short-circuit to ErrEngineUnreachable without a
// network round trip until the breaker half-opens.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPClient creates a new engine HTTP client.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "matching-engine",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
	})

	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		breaker: cb,
	}
}

func (c *HTTPClient) Name() string { return "http" }

func (c *HTTPClient) Mode() string { return models.EngineModeLive }

func (c *HTTPClient) ProcessBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	out, err := c.breaker.Execute(func() (any, error) {
		return c.processBatch(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: circuit breaker open", ErrEngineUnreachable)
	}
	if err != nil {
		return nil, err
	}
	return out.(*BatchResult), nil
}

func (c *HTTPClient) processBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	body, err := json.Marshal(processRequest{
		JobID:      req.JobID,
		JobType:    req.JobType,
		Config:     req.Config,
		StartIndex: req.StartIndex,
		Count:      req.Size(),
		Records:    req.Records,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding engine request: %w", err)
	}

	u := fmt.Sprintf("%s/api/v1/process", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", ErrEngineUnreachable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrEngineRejected, resp.StatusCode)
	}

	var engineResp processResponse
	if err := json.NewDecoder(resp.Body).Decode(&engineResp); err != nil {
		return nil, fmt.Errorf("decoding engine response: %w", err)
	}

	return parseResponse(req, engineResp), nil
}

func (c *HTTPClient) Ready(ctx context.Context) error {
	u := fmt.Sprintf("%s/api/v1/health", c.baseURL)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEngineUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: engine not ready (status %d)", ErrEngineUnreachable, resp.StatusCode)
	}

	return nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrEngineTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrEngineTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrEngineUnreachable, err)
	}

	return fmt.Errorf("%w: %v", ErrEngineUnreachable, err)
}

// parseResponse converts the wire payload into a BatchResult, reconciling
// counters so downstream invariants hold even against a sloppy engine.
func parseResponse(req BatchRequest, resp processResponse) *BatchResult {
	result := &BatchResult{
		Successes: resp.Successes,
		Failures:  resp.Failures,
		Errors:    resp.Errors,
	}

	// The engine is supposed to account for every record in the batch. If
	// it does not, count the unaccounted remainder as failures.
	if n := req.Size(); result.Successes+result.Failures != n {
		result.Failures = n - result.Successes
		if result.Failures < 0 {
			result.Successes = n
			result.Failures = 0
		}
	}

	for _, row := range resp.Results {
		result.Rows = append(result.Rows, &models.ResultRow{
			ID:              uuid.New(),
			JobID:           req.JobID,
			RecordIndex:     row.RecordIndex,
			Outcome:         row.Outcome,
			Score:           row.Score,
			MatchedEntityID: row.MatchedEntityID,
			Fields:          row.Fields,
			CreatedAt:       time.Now().UTC(),
		})
	}
	return result
}

// --- engine wire types ---

type processRequest struct {
	JobID      uuid.UUID        `json:"job_id"`
	JobType    string           `json:"job_type"`
	Config     models.JobConfig `json:"config"`
	StartIndex int              `json:"start_index"`
	Count      int              `json:"count"`
	Records    []models.Record  `json:"records,omitempty"`
}

type processResponse struct {
	Successes int               `json:"successes"`
	Failures  int               `json:"failures"`
	Errors    []string          `json:"errors,omitempty"`
	Results   []processedRecord `json:"results,omitempty"`
}

type processedRecord struct {
	RecordIndex     int           `json:"record_index"`
	Outcome         string        `json:"outcome"`
	Score           float64       `json:"score"`
	MatchedEntityID string        `json:"matched_entity_id,omitempty"`
	Fields          models.Record `json:"fields,omitempty"`
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
