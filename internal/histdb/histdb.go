// Package histdb provides the durable, concurrency-safe store of
// discovered cutoff records. Records are immutable per market tag: the
// first successful persistence wins and later writes for the same tag are
// rejected without touching the stored value.
//
// Two implementations ship here: FileDatabase, a single-JSON-document
// store with atomic replacement, timestamped backup rotation and
// corruption fallback, and MemoryDatabase, a volatile store with the same
// contract for tests and embedders that manage their own durability.
package histdb

import (
	"context"
	"fmt"
	"time"

	"github.com/johnayoung/go-history-intelligence/internal/models"
)

// StoreOutcome reports what a StoreCutoff call did. It distinguishes a
// fresh persist from the expected, non-error rejection of a write against
// an already-known market.
type StoreOutcome int

const (
	// StoreFailed means the write could not be persisted; in-memory and
	// on-disk state are unchanged and the call may be retried
	StoreFailed StoreOutcome = iota

	// StoreCreated means the record was persisted for the first time
	StoreCreated

	// StoreAlreadyExists means the market already had a record; the
	// existing record is untouched
	StoreAlreadyExists
)

// String returns the string representation of the outcome.
func (o StoreOutcome) String() string {
	switch o {
	case StoreCreated:
		return "created"
	case StoreAlreadyExists:
		return "already_exists"
	default:
		return "failed"
	}
}

// Created reports whether this call was the winning first write,
// preserving the boolean first-write-wins contract.
func (o StoreOutcome) Created() bool {
	return o == StoreCreated
}

// CutoffStorer persists discovered cutoffs under first-write-wins.
type CutoffStorer interface {
	// StoreCutoff durably persists a cutoff record for the market if none
	// exists, stamping the discovery date and deriving the exchange and
	// asset fields from the tag. Returns StoreCreated on the winning
	// write, StoreAlreadyExists (with a nil error) when the market is
	// already known, and StoreFailed with an error when persistence fails.
	StoreCutoff(ctx context.Context, marketTag string, cutoffDate time.Time, precisionHours int, metadata map[string]interface{}) (StoreOutcome, error)

	// PurgeCutoff removes a record. This is an explicit administrative
	// operation, never part of normal discovery or validation flow.
	PurgeCutoff(ctx context.Context, marketTag string) error
}

// CutoffReader retrieves stored cutoff records. Reads operate against a
// point-in-time snapshot and never block behind a writer's persist step.
type CutoffReader interface {
	// GetCutoff returns the record for a market, or nil when the market
	// has no stored cutoff. The returned record is a copy.
	GetCutoff(ctx context.Context, marketTag string) (*models.CutoffRecord, error)

	// GetAllCutoffs returns a consistent snapshot of every stored record,
	// keyed by market tag.
	GetAllCutoffs(ctx context.Context) (map[string]*models.CutoffRecord, error)
}

// CutoffExporter serializes the store's contents.
type CutoffExporter interface {
	// ExportCutoffs renders every stored record in the given format,
	// "json" or "csv". The JSON form round-trips to GetAllCutoffs.
	ExportCutoffs(ctx context.Context, format string) (string, error)
}

// IntegrityChecker scans stored records for invariant violations.
type IntegrityChecker interface {
	// ValidateIntegrity flags records whose cutoff date is after their
	// discovery date, whose precision is not positive, or whose market
	// tag is malformed.
	ValidateIntegrity(ctx context.Context) (*IntegrityReport, error)
}

// Manager handles store lifecycle and operational statistics.
type Manager interface {
	// Initialize loads or creates the store. Safe to call once per
	// instance before any other operation. A corrupt durable document is
	// not an error: the store falls back to the newest valid backup, or
	// an empty store, and logs what happened.
	Initialize(ctx context.Context) error

	// Close flushes and releases the store. The instance must not be used
	// afterward.
	Close() error

	// GetStats returns record counts, file size, per-exchange counts and
	// the current backup count.
	GetStats(ctx context.Context) (*DatabaseStats, error)
}

// HistoryStore combines every capability of a cutoff database. This is
// the interface collaborators depend on.
type HistoryStore interface {
	CutoffStorer
	CutoffReader
	CutoffExporter
	IntegrityChecker
	Manager
}

// DatabaseStats describes the operational state of a store.
type DatabaseStats struct {
	// TotalCutoffs is the number of stored records
	TotalCutoffs int `json:"total_cutoffs"`

	// FileSizeBytes is the size of the live document (0 for memory stores)
	FileSizeBytes int64 `json:"file_size_bytes"`

	// Exchanges counts records per exchange
	Exchanges map[string]int `json:"exchanges"`

	// BackupCount is the number of retained backups
	BackupCount int `json:"backup_count"`
}

// IntegrityIssue describes one invariant violation in a stored record.
type IntegrityIssue struct {
	MarketTag string `json:"market_tag"`
	Field     string `json:"field"`
	Message   string `json:"message"`
}

// IntegrityReport is the result of an integrity scan.
type IntegrityReport struct {
	IsValid bool             `json:"is_valid"`
	Issues  []IntegrityIssue `json:"issues"`
}

// StorageError represents a failed store operation with its context.
type StorageError struct {
	// Operation is the store operation that failed (e.g. "persist", "load")
	Operation string

	// Path is the file involved, when applicable
	Path string

	// Err is the underlying cause
	Err error
}

// Error implements the error interface for StorageError.
func (e *StorageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("history store %s failed for %s: %v", e.Operation, e.Path, e.Err)
	}
	return fmt.Sprintf("history store %s failed: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for error chain support.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a StorageError with the provided details.
func NewStorageError(operation, path string, err error) *StorageError {
	return &StorageError{Operation: operation, Path: path, Err: err}
}

// StoreDiscoveryResult persists the outcome of a successful discovery
// run, carrying the run's precision and metadata onto the record. A
// non-success result is a programmer error.
func StoreDiscoveryResult(ctx context.Context, store CutoffStorer, result models.CutoffResult) (StoreOutcome, error) {
	if !result.Success {
		return StoreFailed, fmt.Errorf("cannot store non-converged discovery result for %s", result.MarketTag)
	}
	return store.StoreCutoff(ctx, result.MarketTag, result.CutoffDate, result.PrecisionHours(), result.Metadata)
}
