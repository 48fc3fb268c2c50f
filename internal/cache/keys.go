package cache

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

func RateLimitKey(client string) string {
	return fmt.Sprintf("ratelimit:%s", client)
}

// ProcessedRateKey buckets processed-record counts by hour for the
// queue statistics endpoint.
func ProcessedRateKey(t time.Time) string {
	return fmt.Sprintf("rate:processed:%s", t.UTC().Format("2006010215"))
}
