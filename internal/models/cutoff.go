package models

import (
	"fmt"
	"time"
)

// CutoffRecord is the durable fact discovered once per market: the earliest
// timestamp for which historical data exists. Records are immutable after
// their first successful persistence; the store enforces first-write-wins.
type CutoffRecord struct {
	// MarketTag is the canonical market identifier and record key
	MarketTag string `json:"market_tag"`

	// CutoffDate is the earliest timestamp with usable historical data
	CutoffDate time.Time `json:"cutoff_date"`

	// DiscoveryDate is when the cutoff was discovered; never before CutoffDate
	DiscoveryDate time.Time `json:"discovery_date"`

	// PrecisionHours is the width of the uncertainty interval at discovery time
	PrecisionHours int `json:"precision_hours"`

	// Exchange, PrimaryAsset and SecondaryAsset are derived from MarketTag
	Exchange       string `json:"exchange"`
	PrimaryAsset   string `json:"primary_asset"`
	SecondaryAsset string `json:"secondary_asset"`

	// DiscoveryMetadata carries open discovery context: probe counts,
	// elapsed time, initial range width, final precision, job IDs.
	DiscoveryMetadata map[string]interface{} `json:"discovery_metadata,omitempty"`
}

// RecordError represents a cutoff record validation failure.
type RecordError struct {
	Field   string // Field is the name of the field that failed validation
	Message string // Message describes the failure
}

// Error implements the error interface for RecordError.
func (e *RecordError) Error() string {
	return fmt.Sprintf("invalid cutoff record field %s: %s", e.Field, e.Message)
}

// Validate checks the record-level invariants: a parseable market tag,
// non-zero dates, discovery date at or after the cutoff date, and positive
// precision. Returns a RecordError describing the first violation.
func (r *CutoffRecord) Validate() error {
	if _, err := ParseMarketTag(r.MarketTag); err != nil {
		return &RecordError{Field: "market_tag", Message: err.Error()}
	}
	if r.CutoffDate.IsZero() {
		return &RecordError{Field: "cutoff_date", Message: "cutoff date cannot be zero"}
	}
	if r.DiscoveryDate.IsZero() {
		return &RecordError{Field: "discovery_date", Message: "discovery date cannot be zero"}
	}
	if r.CutoffDate.After(r.DiscoveryDate) {
		return &RecordError{
			Field: "cutoff_date",
			Message: fmt.Sprintf("cutoff date %s is after discovery date %s",
				r.CutoffDate.Format(time.RFC3339), r.DiscoveryDate.Format(time.RFC3339)),
		}
	}
	if r.PrecisionHours <= 0 {
		return &RecordError{Field: "precision_hours", Message: "precision must be a positive number of hours"}
	}
	return nil
}

// Clone returns a deep copy of the record. Stores hand out clones so that
// callers can never mutate persisted state through a returned pointer.
func (r *CutoffRecord) Clone() *CutoffRecord {
	out := *r
	if r.DiscoveryMetadata != nil {
		out.DiscoveryMetadata = make(map[string]interface{}, len(r.DiscoveryMetadata))
		for k, v := range r.DiscoveryMetadata {
			out.DiscoveryMetadata[k] = v
		}
	}
	return &out
}

// NewCutoffRecord builds a validated record for a freshly discovered cutoff,
// stamping the discovery date and deriving the exchange and asset fields
// from the tag.
func NewCutoffRecord(tag string, cutoffDate, discoveryDate time.Time, precisionHours int, metadata map[string]interface{}) (*CutoffRecord, error) {
	parsed, err := ParseMarketTag(tag)
	if err != nil {
		return nil, err
	}

	record := &CutoffRecord{
		MarketTag:         parsed.Raw,
		CutoffDate:        cutoffDate.UTC(),
		DiscoveryDate:     discoveryDate.UTC(),
		PrecisionHours:    precisionHours,
		Exchange:          parsed.Exchange,
		PrimaryAsset:      parsed.PrimaryAsset,
		SecondaryAsset:    parsed.SecondaryAsset,
		DiscoveryMetadata: metadata,
	}

	if err := record.Validate(); err != nil {
		return nil, fmt.Errorf("failed to create cutoff record: %w", err)
	}
	return record, nil
}

// CutoffResult is the ephemeral outcome of a single discovery run. It is
// never persisted; callers decide whether to store a successful result.
type CutoffResult struct {
	// MarketTag is the market the run targeted
	MarketTag string `json:"market_tag"`

	// Success indicates the search converged within its budgets
	Success bool `json:"success"`

	// CutoffDate is the discovered cutoff (upper bound of the final interval).
	// Only meaningful when Success is true.
	CutoffDate time.Time `json:"cutoff_date,omitempty"`

	// PrecisionAchieved is the final interval width
	PrecisionAchieved time.Duration `json:"precision_achieved"`

	// DiscoveryTime is the wall-clock duration of the run
	DiscoveryTime time.Duration `json:"discovery_time"`

	// TestsPerformed counts every probe call, including retried and
	// inconclusive ones
	TestsPerformed int `json:"tests_performed"`

	// LowerBound and UpperBound report the best-known interval. On a
	// non-success result they describe how far the search got.
	LowerBound time.Time `json:"lower_bound"`
	UpperBound time.Time `json:"upper_bound"`

	// Message explains a non-success outcome
	Message string `json:"message,omitempty"`

	// Metadata carries run context (job ID, initial range, budgets)
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// PrecisionHours returns the achieved precision rounded up to whole hours,
// with a minimum of one hour so derived records always validate.
func (r *CutoffResult) PrecisionHours() int {
	hours := int(r.PrecisionAchieved.Hours())
	if r.PrecisionAchieved > time.Duration(hours)*time.Hour {
		hours++
	}
	if hours < 1 {
		hours = 1
	}
	return hours
}
