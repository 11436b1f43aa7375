// Package validation implements the pre-flight correctness gate for
// backtest date ranges: requested ranges are checked against a market's
// discovered cutoff and clamped forward when they reach into dates with
// no historical data.
//
// The service never initiates or inspects backtest execution; it only
// answers whether a range is runnable and what start date to use.
package validation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/johnayoung/go-history-intelligence/internal/discovery"
	"github.com/johnayoung/go-history-intelligence/internal/histdb"
	"github.com/johnayoung/go-history-intelligence/internal/models"
	"github.com/johnayoung/go-history-intelligence/internal/probe"
	"github.com/johnayoung/go-history-intelligence/internal/syncstatus"
)

// Options configures a validation Service.
type Options struct {
	// DiscoverOnMiss makes ValidateBacktestRange run discovery
	// synchronously when a market has no stored cutoff. When false (the
	// default) a miss reports requires_sync and the caller triggers
	// discovery explicitly.
	DiscoverOnMiss bool

	// Logger defaults to slog.Default()
	Logger *slog.Logger
}

// Service validates backtest date ranges against the history database,
// discovering cutoffs on demand according to its miss policy.
type Service struct {
	store          histdb.HistoryStore
	engine         *discovery.Engine
	probe          probe.MarketDataProbe
	tracker        *syncstatus.Tracker
	discoverOnMiss bool
	logger         *slog.Logger
}

// NewService wires a validation service. The probe is only used when
// discovery is triggered (on miss, or explicitly); the tracker informs
// the requires_sync flag and may not be nil.
func NewService(store histdb.HistoryStore, engine *discovery.Engine, p probe.MarketDataProbe, tracker *syncstatus.Tracker, opts Options) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("validation: history store is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("validation: discovery engine is required")
	}
	if tracker == nil {
		return nil, fmt.Errorf("validation: sync status tracker is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		store:          store,
		engine:         engine,
		probe:          p,
		tracker:        tracker,
		discoverOnMiss: opts.DiscoverOnMiss,
		logger:         logger.With(slog.String("component", "validation")),
	}, nil
}

// ValidateBacktestRange checks a requested range against the market's
// cutoff and returns the structured verdict. Outcomes:
//
//   - cutoff known, start at/after it: valid, start unchanged, no sync.
//   - cutoff known, start before it: invalid, adjusted start = cutoff,
//     requires_sync reflects whether the platform still has history to
//     backfill for that market.
//   - cutoff unknown: discovery runs synchronously when DiscoverOnMiss is
//     set, otherwise the result reports requires_sync with a
//     discovery-pending message.
//
// Only programmer errors (bad tag, empty range) and store failures
// surface as errors; every data-availability outcome is expressed in the
// result.
func (s *Service) ValidateBacktestRange(ctx context.Context, marketTag string, requestedStart, requestedEnd time.Time) (*models.ValidationResult, error) {
	parsed, err := models.ParseMarketTag(marketTag)
	if err != nil {
		return nil, err
	}
	if requestedStart.IsZero() || requestedEnd.IsZero() {
		return nil, fmt.Errorf("validation: start and end dates are required")
	}
	if !requestedEnd.After(requestedStart) {
		return nil, fmt.Errorf("validation: end date %s is not after start date %s",
			requestedEnd.Format(time.RFC3339), requestedStart.Format(time.RFC3339))
	}

	tag := parsed.Raw
	record, err := s.store.GetCutoff(ctx, tag)
	if err != nil {
		return nil, err
	}

	if record == nil {
		if !s.discoverOnMiss {
			s.logger.Info("no cutoff recorded, discovery pending",
				slog.String("market_tag", tag))
			return &models.ValidationResult{
				MarketTag:         tag,
				IsValid:           false,
				AdjustedStartDate: requestedStart,
				RequiresSync:      true,
				Message:           fmt.Sprintf("no cutoff recorded for %s; discovery is pending", tag),
			}, nil
		}

		result, err := s.TriggerDiscovery(ctx, tag)
		if err != nil {
			return nil, err
		}
		if !result.Success {
			return &models.ValidationResult{
				MarketTag:         tag,
				IsValid:           false,
				AdjustedStartDate: requestedStart,
				RequiresSync:      true,
				Message:           fmt.Sprintf("cutoff discovery for %s did not converge: %s", tag, result.Message),
			}, nil
		}

		record, err = s.store.GetCutoff(ctx, tag)
		if err != nil {
			return nil, err
		}
		if record == nil {
			return nil, fmt.Errorf("validation: cutoff for %s missing after discovery", tag)
		}
	}

	return s.verdict(tag, record, requestedStart), nil
}

// verdict applies the clamp rule to a known cutoff.
func (s *Service) verdict(tag string, record *models.CutoffRecord, requestedStart time.Time) *models.ValidationResult {
	if requestedStart.Before(record.CutoffDate) {
		requiresSync := !s.tracker.IsReadyForExecution(tag)
		s.logger.Info("backtest range clamped to cutoff",
			slog.String("market_tag", tag),
			slog.Time("requested_start", requestedStart),
			slog.Time("cutoff_date", record.CutoffDate),
			slog.Bool("requires_sync", requiresSync))

		return &models.ValidationResult{
			MarketTag:         tag,
			IsValid:           false,
			AdjustedStartDate: record.CutoffDate,
			CutoffDate:        record.CutoffDate,
			RequiresSync:      requiresSync,
			Message: fmt.Sprintf("requested start %s predates earliest available data %s; start clamped forward",
				requestedStart.UTC().Format(time.RFC3339), record.CutoffDate.UTC().Format(time.RFC3339)),
		}
	}

	return &models.ValidationResult{
		MarketTag:         tag,
		IsValid:           true,
		AdjustedStartDate: requestedStart,
		CutoffDate:        record.CutoffDate,
		RequiresSync:      false,
	}
}

// GetCutoff exposes the stored cutoff record for collaborators. Returns
// nil when the market has no stored cutoff.
func (s *Service) GetCutoff(ctx context.Context, marketTag string) (*models.CutoffRecord, error) {
	return s.store.GetCutoff(ctx, marketTag)
}

// TriggerDiscovery explicitly runs cutoff discovery for a market and
// persists a converged result. Losing a first-write race is fine: the
// winner's record is authoritative and the run's result is still
// returned for inspection.
func (s *Service) TriggerDiscovery(ctx context.Context, marketTag string) (models.CutoffResult, error) {
	parsed, err := models.ParseMarketTag(marketTag)
	if err != nil {
		return models.CutoffResult{}, err
	}
	if s.probe == nil {
		return models.CutoffResult{}, fmt.Errorf("validation: no probe configured for discovery")
	}

	result := s.engine.DiscoverCutoff(ctx, parsed.Raw, s.probe)
	if !result.Success {
		return result, nil
	}

	outcome, err := histdb.StoreDiscoveryResult(ctx, s.store, result)
	if err != nil {
		return result, err
	}
	if outcome == histdb.StoreAlreadyExists {
		s.logger.Debug("discovery lost first-write race",
			slog.String("market_tag", parsed.Raw))
	}
	return result, nil
}
