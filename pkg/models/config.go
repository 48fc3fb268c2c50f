package models

import "fmt"

const (
	DefaultBatchSize = 100
	maxBatchSize     = 10000
)

// JobConfig is the per-type parameter bag for a job. Exactly one of the
// type-specific sections must be populated, matching the job's type;
// bulk_export jobs are driven entirely by OutputConfig and need none.
type JobConfig struct {
	BatchSize int `json:"batch_size,omitempty"`

	Matching   *MatchingConfig   `json:"matching,omitempty"`
	Validation *ValidationConfig `json:"validation,omitempty"`
	Household  *HouseholdConfig  `json:"household,omitempty"`
	Quality    *QualityConfig    `json:"quality,omitempty"`
	Dedup      *DedupConfig      `json:"deduplication,omitempty"`
}

// MatchingConfig parameterizes identity_matching jobs.
type MatchingConfig struct {
	Threshold  float64  `json:"match_threshold"`
	Algorithms []string `json:"algorithms,omitempty"` // deterministic, probabilistic, fuzzy, ai_hybrid
}

// ValidationConfig parameterizes data_validation jobs.
type ValidationConfig struct {
	Rules []string `json:"rules"`
}

// HouseholdConfig parameterizes household_detection jobs.
type HouseholdConfig struct {
	AddressFields []string `json:"address_fields"`
}

// QualityConfig parameterizes data_quality jobs.
type QualityConfig struct {
	Dimensions []string `json:"dimensions"` // completeness, accuracy, consistency, ...
}

// DedupConfig parameterizes deduplication jobs.
type DedupConfig struct {
	MatchFields []string `json:"match_fields"`
	Keep        string   `json:"keep,omitempty"` // first, last, most_complete
}

// EffectiveBatchSize returns the configured batch size clamped to sane bounds.
func (c JobConfig) EffectiveBatchSize() int {
	if c.BatchSize <= 0 {
		return DefaultBatchSize
	}
	if c.BatchSize > maxBatchSize {
		return maxBatchSize
	}
	return c.BatchSize
}

// Validate checks that the config carries the section required by jobType
// and that section-level values are coherent.
func (c JobConfig) Validate(jobType string) error {
	if c.BatchSize < 0 {
		return fmt.Errorf("batch_size must not be negative")
	}

	switch jobType {
	case JobTypeIdentityMatching:
		if c.Matching == nil {
			return fmt.Errorf("matching config is required for %s jobs", jobType)
		}
		if c.Matching.Threshold < 0 || c.Matching.Threshold > 1 {
			return fmt.Errorf("match_threshold must be in [0,1], got %v", c.Matching.Threshold)
		}
	case JobTypeDataValidation:
		if c.Validation == nil || len(c.Validation.Rules) == 0 {
			return fmt.Errorf("validation config with at least one rule is required for %s jobs", jobType)
		}
	case JobTypeHouseholdDetection:
		if c.Household == nil || len(c.Household.AddressFields) == 0 {
			return fmt.Errorf("household config with address_fields is required for %s jobs", jobType)
		}
	case JobTypeDataQuality:
		if c.Quality == nil || len(c.Quality.Dimensions) == 0 {
			return fmt.Errorf("quality config with dimensions is required for %s jobs", jobType)
		}
	case JobTypeDeduplication:
		if c.Dedup == nil || len(c.Dedup.MatchFields) == 0 {
			return fmt.Errorf("deduplication config with match_fields is required for %s jobs", jobType)
		}
	case JobTypeBulkExport:
		// Driven by output_config alone.
	default:
		return fmt.Errorf("unknown job type %q", jobType)
	}
	return nil
}
