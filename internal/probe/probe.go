// Package probe defines the interface to the external market data oracle.
//
// A probe answers one question: does historical data exist for a market at
// or after a candidate date? The production implementation is supplied by
// the trading-platform client and is out of scope here; this package also
// ships a synthetic probe used by tests and the CLI's dry-run mode.
package probe

import (
	"context"
	"fmt"
	"time"
)

// MarketDataProbe checks for the existence of historical data at a
// candidate date.
//
// Implementations may hit slow, unreliable remote endpoints. They should
// honor context cancellation and deadlines; transient failures should be
// reported as *ProbeError with Transient set so callers can retry.
type MarketDataProbe interface {
	// Probe reports whether any historical data exists for the market at
	// or after the candidate date.
	//
	// A false result with a nil error is a conclusive "no data" answer.
	// Errors indicate the question could not be answered, not that data
	// is absent.
	Probe(ctx context.Context, marketTag string, candidate time.Time) (bool, error)
}

// The ProbeFunc type is an adapter to allow the use of ordinary functions
// as probes.
type ProbeFunc func(ctx context.Context, marketTag string, candidate time.Time) (bool, error)

// Probe calls f(ctx, marketTag, candidate).
func (f ProbeFunc) Probe(ctx context.Context, marketTag string, candidate time.Time) (bool, error) {
	return f(ctx, marketTag, candidate)
}

// ProbeError represents a failed probe call with retry metadata.
type ProbeError struct {
	// MarketTag is the market the probe targeted
	MarketTag string

	// Candidate is the date that was being tested
	Candidate time.Time

	// Transient indicates the failure is worth retrying
	Transient bool

	// Timeout indicates the call exceeded its deadline
	Timeout bool

	// Err is the underlying cause
	Err error
}

// Error implements the error interface for ProbeError.
func (e *ProbeError) Error() string {
	kind := "probe failure"
	if e.Timeout {
		kind = "probe timeout"
	}
	return fmt.Sprintf("%s for %s at %s: %v", kind, e.MarketTag, e.Candidate.Format(time.RFC3339), e.Err)
}

// Unwrap returns the underlying error for error chain support.
func (e *ProbeError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a probe error worth retrying.
// Unwrapped errors are treated as transient so unknown upstream failures
// get the configured retry budget rather than aborting a discovery run.
func IsTransient(err error) bool {
	if pe, ok := err.(*ProbeError); ok {
		return pe.Transient
	}
	return true
}
