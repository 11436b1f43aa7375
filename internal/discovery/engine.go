// Package discovery implements bounded-precision cutoff discovery: a
// bisection search over candidate dates against an unreliable external
// data-existence oracle. The engine is pure with respect to persistence;
// callers decide whether to store a successful result.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/johnayoung/go-history-intelligence/internal/models"
	"github.com/johnayoung/go-history-intelligence/internal/probe"
)

// Config holds the tunable parameters of a discovery run. The numeric
// defaults mirror observed production behavior but every value is
// overridable; see DefaultConfig.
type Config struct {
	// InitialRange is the width of the starting search interval, ending at
	// the current time
	InitialRange time.Duration

	// TargetPrecision is the interval width at which the search converges
	TargetPrecision time.Duration

	// MaxTests bounds the total number of probe calls, retries included
	MaxTests int

	// WallClockBudget bounds the total run duration (0 = unbounded).
	// Exceeding it terminates the run with a non-success result; there is
	// no separate cancellation token.
	WallClockBudget time.Duration

	// ProbeTimeout is the per-call deadline applied to each probe attempt
	ProbeTimeout time.Duration

	// ProbeAttempts is how many times a single candidate is tried before
	// it is declared inconclusive
	ProbeAttempts int

	// RetryInitialDelay and RetryMaxDelay shape the exponential backoff
	// between attempts on the same candidate
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
}

// DefaultConfig returns the discovery defaults: a 1000-day initial range,
// 24 hour target precision, 15 probe budget, and 3 attempts per candidate.
func DefaultConfig() Config {
	return Config{
		InitialRange:      1000 * 24 * time.Hour,
		TargetPrecision:   24 * time.Hour,
		MaxTests:          15,
		WallClockBudget:   0,
		ProbeTimeout:      30 * time.Second,
		ProbeAttempts:     3,
		RetryInitialDelay: 500 * time.Millisecond,
		RetryMaxDelay:     10 * time.Second,
	}
}

// normalize fills zero-valued fields with defaults so a partially
// populated Config behaves sensibly.
func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.InitialRange <= 0 {
		c.InitialRange = def.InitialRange
	}
	if c.TargetPrecision <= 0 {
		c.TargetPrecision = def.TargetPrecision
	}
	if c.MaxTests <= 0 {
		c.MaxTests = def.MaxTests
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = def.ProbeTimeout
	}
	if c.ProbeAttempts <= 0 {
		c.ProbeAttempts = def.ProbeAttempts
	}
	if c.RetryInitialDelay <= 0 {
		c.RetryInitialDelay = def.RetryInitialDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = def.RetryMaxDelay
	}
	return c
}

// Engine runs cutoff discovery searches. It is safe for concurrent use;
// independent markets may be discovered in parallel. An optional shared
// rate limiter throttles probe calls across all runs.
type Engine struct {
	config  Config
	limiter *rate.Limiter
	logger  *slog.Logger
	// now is swappable for tests
	now func() time.Time
}

// NewEngine creates a discovery engine. The limiter may be nil for
// unthrottled probing; the logger defaults to slog.Default().
func NewEngine(cfg Config, limiter *rate.Limiter, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		config:  cfg.normalize(),
		limiter: limiter,
		logger:  logger,
		now:     time.Now,
	}
}

// DiscoverCutoff searches for the earliest date with available data for
// the market, to within the configured precision.
//
// The search keeps an interval [lower, upper] that brackets the cutoff,
// probes the midpoint, and narrows toward the boundary: data at the
// midpoint pulls upper down, no data pushes lower up. The run ends when
// the interval is narrower than the target precision, the probe budget is
// spent, or the wall-clock budget expires. Budget exhaustion is a normal
// non-success outcome, never an error; the best-known bounds are reported
// on the result either way.
//
// A candidate whose probe keeps failing after the configured attempts is
// inconclusive: the interval is not narrowed and the spent attempts still
// count against MaxTests, so persistent oracle faults cannot loop forever.
func (e *Engine) DiscoverCutoff(ctx context.Context, marketTag string, p probe.MarketDataProbe) models.CutoffResult {
	started := e.now().UTC()
	jobID := uuid.NewString()

	log := e.logger.With(
		slog.String("market_tag", marketTag),
		slog.String("job_id", jobID),
	)

	upper := started
	lower := started.Add(-e.config.InitialRange)
	tests := 0

	result := models.CutoffResult{
		MarketTag:  marketTag,
		LowerBound: lower,
		UpperBound: upper,
		Metadata: map[string]interface{}{
			"job_id":                 jobID,
			"initial_range_hours":    int(e.config.InitialRange.Hours()),
			"target_precision_hours": int(e.config.TargetPrecision.Hours()),
			"max_tests":              e.config.MaxTests,
		},
	}

	log.Info("cutoff discovery started",
		slog.Time("lower", lower),
		slog.Time("upper", upper),
		slog.Duration("target_precision", e.config.TargetPrecision))

	finish := func(success bool, message string) models.CutoffResult {
		result.Success = success
		result.LowerBound = lower
		result.UpperBound = upper
		result.PrecisionAchieved = upper.Sub(lower)
		result.DiscoveryTime = e.now().UTC().Sub(started)
		result.TestsPerformed = tests
		result.Message = message
		result.Metadata["tests_performed"] = tests
		result.Metadata["final_precision_hours"] = int(result.PrecisionAchieved.Hours())
		if success {
			result.CutoffDate = upper
			log.Info("cutoff discovery converged",
				slog.Time("cutoff_date", upper),
				slog.Int("tests", tests),
				slog.Duration("precision", result.PrecisionAchieved))
		} else {
			log.Warn("cutoff discovery did not converge",
				slog.Int("tests", tests),
				slog.Duration("precision", result.PrecisionAchieved),
				slog.String("reason", message))
		}
		return result
	}

	for upper.Sub(lower) > e.config.TargetPrecision {
		if tests >= e.config.MaxTests {
			return finish(false, fmt.Sprintf("probe budget exhausted after %d tests", tests))
		}
		if e.config.WallClockBudget > 0 && e.now().UTC().Sub(started) > e.config.WallClockBudget {
			return finish(false, fmt.Sprintf("wall-clock budget of %s exceeded", e.config.WallClockBudget))
		}
		if ctx.Err() != nil {
			return finish(false, fmt.Sprintf("context ended: %v", ctx.Err()))
		}

		mid := lower.Add(upper.Sub(lower) / 2)

		// Retries on this candidate may not overrun the total probe budget.
		budget := e.config.ProbeAttempts
		if remaining := e.config.MaxTests - tests; remaining < budget {
			budget = remaining
		}

		hasData, attempts, err := e.probeCandidate(ctx, p, marketTag, mid, budget)
		tests += attempts

		if err != nil {
			// Inconclusive: narrow nothing, keep going until a budget runs out.
			log.Warn("probe inconclusive",
				slog.Time("candidate", mid),
				slog.Int("attempts", attempts),
				slog.Any("error", err))
			continue
		}

		if hasData {
			upper = mid
		} else {
			lower = mid
		}

		log.Debug("interval narrowed",
			slog.Time("candidate", mid),
			slog.Bool("has_data", hasData),
			slog.Time("lower", lower),
			slog.Time("upper", upper),
			slog.Int("tests", tests))
	}

	return finish(true, "")
}

// probeCandidate asks the oracle about one candidate date, retrying
// transient failures with exponential backoff up to the configured attempt
// count. Returns the answer, the number of probe calls consumed, and a
// non-nil error when every attempt failed.
func (e *Engine) probeCandidate(ctx context.Context, p probe.MarketDataProbe, marketTag string, candidate time.Time, maxAttempts int) (bool, int, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.config.RetryInitialDelay
	policy.MaxInterval = e.config.RetryMaxDelay
	policy.MaxElapsedTime = 0

	attempts := 0
	var lastErr error

	for attempts < maxAttempts {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return false, attempts, fmt.Errorf("rate limiter: %w", err)
			}
		}

		attempts++

		probeCtx, cancel := context.WithTimeout(ctx, e.config.ProbeTimeout)
		hasData, err := p.Probe(probeCtx, marketTag, candidate)
		cancel()

		if err == nil {
			return hasData, attempts, nil
		}
		lastErr = err

		if !probe.IsTransient(err) {
			break
		}
		if attempts >= maxAttempts {
			break
		}

		select {
		case <-time.After(policy.NextBackOff()):
		case <-ctx.Done():
			return false, attempts, fmt.Errorf("context ended during probe backoff: %w", ctx.Err())
		}
	}

	return false, attempts, fmt.Errorf("candidate inconclusive after %d attempts: %w", attempts, lastErr)
}
