// Package syncstatus tracks whether the external trading platform has
// finished loading the history a validated backtest range requires.
//
// The tracker is a volatile, process-lifetime cache over the platform's
// own polling/callback signals. It is never persisted and carries no
// durability invariant: its contents can be recomputed at any time from
// the platform's status.
package syncstatus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/johnayoung/go-history-intelligence/internal/models"
)

// Tracker caches per-market sync completion flags. The zero value is not
// usable; construct with NewTracker.
type Tracker struct {
	mu       sync.RWMutex
	statuses map[string]*models.SyncStatus
	logger   *slog.Logger
	now      func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		statuses: make(map[string]*models.SyncStatus),
		logger:   logger.With(slog.String("component", "syncstatus")),
		now:      time.Now,
	}
}

// MarkBasicSynced records completion of the short recent-window load.
func (t *Tracker) MarkBasicSynced(marketTag string) {
	t.transition(marketTag, func(s *models.SyncStatus, now time.Time) {
		if !s.BasicSynced {
			s.BasicSynced = true
			s.BasicSyncedAt = now
		}
	})
}

// MarkExtendedSynced records completion of the long historical backfill.
func (t *Tracker) MarkExtendedSynced(marketTag string) {
	t.transition(marketTag, func(s *models.SyncStatus, now time.Time) {
		if !s.ExtendedSynced {
			s.ExtendedSynced = true
			s.ExtendedSyncedAt = now
		}
	})
}

// Reset clears a market's flags, e.g. after the platform reports a reload.
func (t *Tracker) Reset(marketTag string) {
	canonical := canonicalize(marketTag)

	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.statuses, canonical)
}

// Status returns a copy of the market's sync state. Unknown markets
// report both phases incomplete.
func (t *Tracker) Status(marketTag string) models.SyncStatus {
	canonical := canonicalize(marketTag)

	t.mu.RLock()
	defer t.mu.RUnlock()

	if s, exists := t.statuses[canonical]; exists {
		return *s
	}
	return models.SyncStatus{MarketTag: canonical}
}

// IsReadyForExecution reports whether both sync phases have completed for
// the market.
func (t *Tracker) IsReadyForExecution(marketTag string) bool {
	status := t.Status(marketTag)
	return status.ReadyForExecution()
}

// transition applies a mutation under the lock, stamping UpdatedAt.
func (t *Tracker) transition(marketTag string, apply func(*models.SyncStatus, time.Time)) {
	canonical := canonicalize(marketTag)
	now := t.now().UTC()

	t.mu.Lock()
	defer t.mu.Unlock()

	s, exists := t.statuses[canonical]
	if !exists {
		s = &models.SyncStatus{MarketTag: canonical}
		t.statuses[canonical] = s
	}
	apply(s, now)
	s.UpdatedAt = now

	t.logger.Debug("sync status updated",
		slog.String("market_tag", canonical),
		slog.Bool("basic", s.BasicSynced),
		slog.Bool("extended", s.ExtendedSynced))
}

// canonicalize uppercases the tag the same way the rest of the system
// does, falling back to the raw input for unparseable tags so the tracker
// stays usable for markets the parser rejects.
func canonicalize(marketTag string) string {
	if parsed, err := models.ParseMarketTag(marketTag); err == nil {
		return parsed.Raw
	}
	return marketTag
}
