package probe

import (
	"context"
	"errors"
	"sync"
	"time"
)

// SyntheticProbe is a deterministic in-memory probe with a configurable
// true cutoff per market. It backs the engine's convergence tests and the
// CLI dry-run mode, and can inject latency, timeouts, and transient
// failures to exercise retry paths.
type SyntheticProbe struct {
	mu sync.Mutex

	// cutoffs maps market tag -> true cutoff date. Probes for unknown
	// markets answer using defaultCutoff when set, else "no data".
	cutoffs       map[string]time.Time
	defaultCutoff time.Time
	hasDefault    bool

	// latency is added to every call before answering
	latency time.Duration

	// failEvery injects a transient failure on every Nth call (0 = never)
	failEvery int

	// failuresAt marks candidate-hour buckets that always fail, for
	// simulating a persistently unreachable date
	failuresAt map[int64]bool

	calls    int
	failures int
}

// NewSyntheticProbe creates a synthetic probe with no markets configured.
func NewSyntheticProbe() *SyntheticProbe {
	return &SyntheticProbe{
		cutoffs:    make(map[string]time.Time),
		failuresAt: make(map[int64]bool),
	}
}

// SetCutoff configures the true cutoff for a market.
func (p *SyntheticProbe) SetCutoff(marketTag string, cutoff time.Time) *SyntheticProbe {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cutoffs[marketTag] = cutoff
	return p
}

// SetDefaultCutoff configures a cutoff used for any market without an
// explicit entry.
func (p *SyntheticProbe) SetDefaultCutoff(cutoff time.Time) *SyntheticProbe {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaultCutoff = cutoff
	p.hasDefault = true
	return p
}

// WithLatency adds a fixed delay to every probe call.
func (p *SyntheticProbe) WithLatency(d time.Duration) *SyntheticProbe {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latency = d
	return p
}

// FailEvery injects a transient failure on every nth call. Zero disables
// injection.
func (p *SyntheticProbe) FailEvery(n int) *SyntheticProbe {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failEvery = n
	return p
}

// AlwaysFailAt marks a candidate date as persistently failing. Any probe
// whose candidate falls in the same hour bucket fails with a transient
// error, simulating an oracle that can never answer for that date.
func (p *SyntheticProbe) AlwaysFailAt(candidate time.Time) *SyntheticProbe {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failuresAt[candidate.UTC().Unix()/3600] = true
	return p
}

// Calls returns the total number of probe invocations.
func (p *SyntheticProbe) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Probe implements MarketDataProbe.
func (p *SyntheticProbe) Probe(ctx context.Context, marketTag string, candidate time.Time) (bool, error) {
	p.mu.Lock()
	p.calls++
	call := p.calls
	latency := p.latency
	failEvery := p.failEvery
	persistentFail := p.failuresAt[candidate.UTC().Unix()/3600]
	cutoff, known := p.cutoffs[marketTag]
	if !known && p.hasDefault {
		cutoff, known = p.defaultCutoff, true
	}
	p.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return false, &ProbeError{
				MarketTag: marketTag,
				Candidate: candidate,
				Transient: true,
				Timeout:   true,
				Err:       ctx.Err(),
			}
		}
	}

	if persistentFail || (failEvery > 0 && call%failEvery == 0) {
		p.mu.Lock()
		p.failures++
		p.mu.Unlock()
		return false, &ProbeError{
			MarketTag: marketTag,
			Candidate: candidate,
			Transient: true,
			Err:       errors.New("injected transient failure"),
		}
	}

	if !known {
		return false, nil
	}

	// has_data iff the candidate is at or after the true cutoff
	return !candidate.Before(cutoff), nil
}
