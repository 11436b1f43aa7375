package models

import "time"

// ValidationResult is the ephemeral outcome of validating a requested
// backtest date range against a market's cutoff. Computed per call.
type ValidationResult struct {
	// MarketTag is the market the request targeted
	MarketTag string `json:"market_tag"`

	// IsValid reports whether the requested range can run unmodified
	IsValid bool `json:"is_valid"`

	// AdjustedStartDate is the start the caller should use: the requested
	// start when valid, the cutoff date when clamped
	AdjustedStartDate time.Time `json:"adjusted_start_date"`

	// CutoffDate is the market's cutoff, when known
	CutoffDate time.Time `json:"cutoff_date,omitempty"`

	// Message explains a clamp or a pending discovery
	Message string `json:"message,omitempty"`

	// RequiresSync indicates the external platform still has history
	// loading to finish before the validated range is executable
	RequiresSync bool `json:"requires_sync"`
}

// SyncStatus is the volatile per-market view of the external platform's
// two-phase history loading. Never persisted; recomputable at any time
// from the platform's own signals.
type SyncStatus struct {
	// MarketTag is the market being tracked
	MarketTag string `json:"market_tag"`

	// BasicSynced reports completion of the short recent-window load
	BasicSynced bool `json:"basic_synced"`

	// ExtendedSynced reports completion of the long historical backfill
	ExtendedSynced bool `json:"extended_synced"`

	// BasicSyncedAt and ExtendedSyncedAt record when each phase completed
	BasicSyncedAt    time.Time `json:"basic_synced_at,omitempty"`
	ExtendedSyncedAt time.Time `json:"extended_synced_at,omitempty"`

	// UpdatedAt is the last transition of either flag
	UpdatedAt time.Time `json:"updated_at"`
}

// ReadyForExecution reports whether both sync phases have completed.
func (s *SyncStatus) ReadyForExecution() bool {
	return s.BasicSynced && s.ExtendedSynced
}
