package discovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/johnayoung/go-history-intelligence/internal/config"
	"github.com/johnayoung/go-history-intelligence/internal/errors"
	"github.com/johnayoung/go-history-intelligence/internal/probe"
)

// GuardedProbe wraps a MarketDataProbe with a circuit breaker and error
// classification. Repeated probe failures open the breaker; while it is
// open, calls fail immediately without reaching the underlying platform,
// so a dying data source cannot absorb an entire discovery budget in
// slow timeouts. Short-circuited calls surface as transient probe errors
// and the engine treats the candidate as inconclusive.
type GuardedProbe struct {
	inner      probe.MarketDataProbe
	breaker    *errors.CircuitBreaker
	classifier *errors.ErrorClassifier
	logger     *slog.Logger
}

// NewGuardedProbe wraps a probe in a circuit breaker configured from the
// application's error handling settings.
func NewGuardedProbe(inner probe.MarketDataProbe, cfg config.ErrorHandlingConfig, logger *slog.Logger) *GuardedProbe {
	if logger == nil {
		logger = slog.Default()
	}

	return &GuardedProbe{
		inner:      inner,
		breaker:    errors.NewCircuitBreaker("probe", cfg.CircuitBreakerConfig),
		classifier: errors.NewErrorClassifier(cfg, logger),
		logger:     logger.With(slog.String("component", "probe_guard")),
	}
}

// State returns the breaker's current state.
func (g *GuardedProbe) State() errors.CircuitState {
	return g.breaker.GetState()
}

// ErrorStats returns the classifier's per-type error counts.
func (g *GuardedProbe) ErrorStats() map[errors.ErrorType]errors.ErrorStats {
	return g.classifier.GetStats()
}

// Probe implements MarketDataProbe.
func (g *GuardedProbe) Probe(ctx context.Context, marketTag string, candidate time.Time) (bool, error) {
	var hasData bool
	err := g.breaker.Call(func() error {
		var probeErr error
		hasData, probeErr = g.inner.Probe(ctx, marketTag, candidate)
		return probeErr
	})
	if err == nil {
		return hasData, nil
	}

	classified := g.classifier.Classify(err, "probe", "has_data")
	if classified.Type == errors.ErrorTypeCircuitOpen {
		g.logger.Warn("probe call short-circuited",
			slog.String("market_tag", marketTag),
			slog.Time("candidate", candidate),
			slog.String("breaker_state", g.breaker.GetState().String()))

		return false, &probe.ProbeError{
			MarketTag: marketTag,
			Candidate: candidate,
			Transient: true,
			Err:       classified,
		}
	}

	g.logger.Debug("probe call failed",
		slog.String("market_tag", marketTag),
		slog.String("error_type", string(classified.Type)),
		slog.String("severity", classified.Severity.String()),
		slog.Bool("retryable", classified.Retryable))

	// The original error keeps its type so the engine's retry decision
	// still sees ProbeError.Transient/Timeout.
	return false, err
}
