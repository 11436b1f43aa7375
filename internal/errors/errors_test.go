package errors

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/johnayoung/go-history-intelligence/internal/config"
	"github.com/johnayoung/go-history-intelligence/internal/histdb"
	"github.com/johnayoung/go-history-intelligence/internal/probe"
)

func TestErrorClassification(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	classifier := NewErrorClassifier(config.DefaultConfig().ErrorHandling, logger)

	probeTimeout := &probe.ProbeError{
		MarketTag: "BINANCE_BTC_USDT",
		Candidate: time.Now(),
		Transient: true,
		Timeout:   true,
		Err:       fmt.Errorf("deadline exceeded"),
	}
	probeTransient := &probe.ProbeError{
		MarketTag: "BINANCE_BTC_USDT",
		Candidate: time.Now(),
		Transient: true,
		Err:       fmt.Errorf("upstream hiccup"),
	}

	tests := []struct {
		name              string
		error             error
		expectedType      ErrorType
		expectedRetryable bool
		expectedSeverity  Severity
	}{
		{
			name:              "network connection refused",
			error:             fmt.Errorf("connection refused"),
			expectedType:      ErrorTypeNetwork,
			expectedRetryable: true,
			expectedSeverity:  SeverityLow,
		},
		{
			name:              "probe timeout",
			error:             probeTimeout,
			expectedType:      ErrorTypeProbeTimeout,
			expectedRetryable: true,
			expectedSeverity:  SeverityLow,
		},
		{
			name:              "transient probe failure",
			error:             probeTransient,
			expectedType:      ErrorTypeProbeFailure,
			expectedRetryable: true,
			expectedSeverity:  SeverityLow,
		},
		{
			name:              "rate limit error",
			error:             fmt.Errorf("rate limit exceeded"),
			expectedType:      ErrorTypeRateLimit,
			expectedRetryable: true,
			expectedSeverity:  SeverityLow,
		},
		{
			name:              "storage error",
			error:             histdb.NewStorageError("store_cutoff", "/tmp/db.json", fmt.Errorf("disk full")),
			expectedType:      ErrorTypeStorage,
			expectedRetryable: false,
			expectedSeverity:  SeverityHigh,
		},
		{
			name:              "corrupt database",
			error:             histdb.NewStorageError("initialize", "/tmp/db.json", fmt.Errorf("parse database file: unexpected end of JSON input")),
			expectedType:      ErrorTypeCorruptDatabase,
			expectedRetryable: false,
			expectedSeverity:  SeverityCritical,
		},
		{
			name:              "validation error",
			error:             fmt.Errorf("validation failed: invalid input"),
			expectedType:      ErrorTypeValidation,
			expectedRetryable: false,
			expectedSeverity:  SeverityMedium,
		},
		{
			name:              "budget exhausted",
			error:             fmt.Errorf("probe budget exhausted"),
			expectedType:      ErrorTypeBudgetExhausted,
			expectedRetryable: false,
			expectedSeverity:  SeverityMedium,
		},
		{
			name:              "unknown error",
			error:             fmt.Errorf("something went wrong"),
			expectedType:      ErrorTypeUnknown,
			expectedRetryable: true,
			expectedSeverity:  SeverityMedium,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := classifier.Classify(tt.error, "test_component", "test_operation")

			assert.Equal(t, tt.expectedType, classified.Type, "Error type mismatch")
			assert.Equal(t, tt.expectedRetryable, classified.Retryable, "Retryable mismatch")
			assert.Equal(t, tt.expectedSeverity, classified.Severity, "Severity mismatch")
			assert.Equal(t, "test_component", classified.Component)
			assert.Equal(t, "test_operation", classified.Operation)
			assert.NotZero(t, classified.Timestamp)
		})
	}
}

func TestNetworkErrorDetection(t *testing.T) {
	tests := []struct {
		name     string
		error    error
		expected bool
	}{
		{
			name:     "connection refused",
			error:    fmt.Errorf("connection refused"),
			expected: true,
		},
		{
			name:     "dns resolution failed",
			error:    fmt.Errorf("cannot resolve host: example.com"),
			expected: true,
		},
		{
			name:     "network unreachable",
			error:    fmt.Errorf("network unreachable"),
			expected: true,
		},
		{
			name:     "not a network error",
			error:    fmt.Errorf("validation failed"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := isNetworkError(tt.error)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestTimeoutErrorDetection(t *testing.T) {
	tests := []struct {
		name     string
		error    error
		expected bool
	}{
		{
			name:     "context deadline exceeded",
			error:    fmt.Errorf("context deadline exceeded"),
			expected: true,
		},
		{
			name:     "timeout",
			error:    fmt.Errorf("request timeout"),
			expected: true,
		},
		{
			name:     "not a timeout error",
			error:    fmt.Errorf("validation failed"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := isTimeoutError(tt.error)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestRetryMechanism(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// Short delays for testing
	cfg := config.DefaultConfig().ErrorHandling
	cfg.GlobalRetryPolicy.MaxAttempts = 3
	cfg.GlobalRetryPolicy.InitialDelay = "10ms"
	cfg.GlobalRetryPolicy.MaxDelay = "50ms"
	cfg.GlobalRetryPolicy.BackoffStrategy = "fixed"

	classifier := NewErrorClassifier(cfg, logger)

	t.Run("successful retry after failures", func(t *testing.T) {
		attempts := 0
		fn := func() error {
			attempts++
			if attempts < 3 {
				return fmt.Errorf("temporary failure")
			}
			return nil
		}

		ctx := context.Background()
		err := classifier.Retry(ctx, "test", "operation", fn)

		assert.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("non-retryable error fails immediately", func(t *testing.T) {
		attempts := 0
		fn := func() error {
			attempts++
			return fmt.Errorf("validation failed: malformed market tag")
		}

		ctx := context.Background()
		err := classifier.Retry(ctx, "test", "operation", fn)

		assert.Error(t, err)
		assert.Equal(t, 1, attempts)

		classified := classifier.Classify(fmt.Errorf("validation failed: malformed market tag"), "test", "operation")
		assert.False(t, classified.Retryable)
	})

	t.Run("max attempts exceeded", func(t *testing.T) {
		attempts := 0
		fn := func() error {
			attempts++
			return fmt.Errorf("temporary failure")
		}

		ctx := context.Background()
		err := classifier.Retry(ctx, "test", "operation", fn)

		assert.Error(t, err)
		assert.Equal(t, 3, attempts) // max attempts from config
		assert.Contains(t, err.Error(), "operation failed after 3 attempts")
	})

	t.Run("context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel() // Cancel immediately

		fn := func() error {
			return fmt.Errorf("temporary failure")
		}

		err := classifier.Retry(ctx, "test", "operation", fn)

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "context canceled")
	})
}

func TestBackoffStrategies(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	t.Run("exponential backoff", func(t *testing.T) {
		cfg := config.DefaultConfig().ErrorHandling
		cfg.GlobalRetryPolicy.BackoffStrategy = "exponential"
		cfg.GlobalRetryPolicy.InitialDelay = "100ms"
		cfg.GlobalRetryPolicy.MaxDelay = "1s"
		cfg.GlobalRetryPolicy.Jitter = false

		classifier := NewErrorClassifier(cfg, logger)
		backoffStrategy := classifier.createBackoffStrategy(cfg.GlobalRetryPolicy)

		first := backoffStrategy.NextBackOff()
		second := backoffStrategy.NextBackOff()

		assert.True(t, second >= first, "Exponential backoff should increase")
		assert.True(t, first >= 100*time.Millisecond, "First delay should be at least initial delay")
	})

	t.Run("linear backoff", func(t *testing.T) {
		cfg := config.DefaultConfig().ErrorHandling
		cfg.GlobalRetryPolicy.BackoffStrategy = "linear"
		cfg.GlobalRetryPolicy.InitialDelay = "100ms"
		cfg.GlobalRetryPolicy.MaxDelay = "1s"
		cfg.GlobalRetryPolicy.MaxAttempts = 5
		cfg.GlobalRetryPolicy.Jitter = false

		classifier := NewErrorClassifier(cfg, logger)
		backoffStrategy := classifier.createBackoffStrategy(cfg.GlobalRetryPolicy)

		first := backoffStrategy.NextBackOff()
		second := backoffStrategy.NextBackOff()
		third := backoffStrategy.NextBackOff()

		assert.Equal(t, 100*time.Millisecond, first)
		assert.Equal(t, 200*time.Millisecond, second)
		assert.Equal(t, 300*time.Millisecond, third)
	})

	t.Run("fixed backoff", func(t *testing.T) {
		cfg := config.DefaultConfig().ErrorHandling
		cfg.GlobalRetryPolicy.BackoffStrategy = "fixed"
		cfg.GlobalRetryPolicy.InitialDelay = "200ms"
		cfg.GlobalRetryPolicy.Jitter = false

		classifier := NewErrorClassifier(cfg, logger)
		backoffStrategy := classifier.createBackoffStrategy(cfg.GlobalRetryPolicy)

		first := backoffStrategy.NextBackOff()
		second := backoffStrategy.NextBackOff()

		assert.Equal(t, first, second, "Fixed backoff should remain constant")
		assert.Equal(t, 200*time.Millisecond, first)
	})
}

func TestLinearBackoff(t *testing.T) {
	lb := &LinearBackoff{
		interval: 100 * time.Millisecond,
		max:      500 * time.Millisecond,
	}

	first := lb.NextBackOff()
	second := lb.NextBackOff()
	third := lb.NextBackOff()

	assert.Equal(t, 100*time.Millisecond, first)
	assert.Equal(t, 200*time.Millisecond, second)
	assert.Equal(t, 300*time.Millisecond, third)

	for i := 0; i < 10; i++ {
		delay := lb.NextBackOff()
		assert.True(t, delay <= 500*time.Millisecond, "Should not exceed max delay")
	}

	lb.Reset()
	resetFirst := lb.NextBackOff()
	assert.Equal(t, 100*time.Millisecond, resetFirst)
}

func TestJitteredBackoff(t *testing.T) {
	fixed := &LinearBackoff{
		interval: 100 * time.Millisecond,
		max:      100 * time.Millisecond,
	}

	jb := &JitteredBackoff{BackOff: fixed}

	delays := make([]time.Duration, 10)
	for i := range delays {
		jb.Reset()
		fixed.Reset()
		delays[i] = jb.NextBackOff()
	}

	// All delays stay within 10% of the base delay.
	for _, delay := range delays {
		assert.True(t, delay >= 90*time.Millisecond && delay <= 110*time.Millisecond,
			"Jittered delay should be within 10%% of base delay, got %v", delay)
	}
}

func TestCircuitBreaker(t *testing.T) {
	config := config.CircuitBreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  "100ms",
		HalfOpenRequests: 2,
	}

	cb := NewCircuitBreaker("test_circuit", config)

	t.Run("closed state allows requests", func(t *testing.T) {
		assert.Equal(t, CircuitClosed, cb.GetState())

		err := cb.Call(func() error {
			return nil
		})
		assert.NoError(t, err)
	})

	t.Run("opens after failure threshold", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			cb.Call(func() error {
				return fmt.Errorf("failure %d", i)
			})
		}

		assert.Equal(t, CircuitOpen, cb.GetState())

		err := cb.Call(func() error {
			return nil
		})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "circuit breaker is open")
	})

	t.Run("transitions to half-open after timeout", func(t *testing.T) {
		time.Sleep(150 * time.Millisecond)

		err := cb.Call(func() error {
			return nil
		})
		assert.NoError(t, err)
	})

	t.Run("closes after successful half-open requests", func(t *testing.T) {
		cb = NewCircuitBreaker("test_circuit_2", config)

		for i := 0; i < 3; i++ {
			cb.Call(func() error {
				return fmt.Errorf("failure")
			})
		}
		assert.Equal(t, CircuitOpen, cb.GetState())

		time.Sleep(150 * time.Millisecond)

		for i := 0; i < 2; i++ {
			err := cb.Call(func() error {
				return nil
			})
			assert.NoError(t, err)
		}

		assert.Equal(t, CircuitClosed, cb.GetState())
	})
}

func TestClassifiedErrorInterface(t *testing.T) {
	originalErr := fmt.Errorf("original error")
	classified := &ClassifiedError{
		Err:       originalErr,
		Type:      ErrorTypeNetwork,
		Severity:  SeverityLow,
		Component: "test",
		Operation: "test_op",
		Timestamp: time.Now(),
	}

	t.Run("error interface", func(t *testing.T) {
		errStr := classified.Error()
		assert.Contains(t, errStr, "test/network")
		assert.Contains(t, errStr, "test_op")
		assert.Contains(t, errStr, "original error")
	})

	t.Run("unwrap interface", func(t *testing.T) {
		unwrapped := classified.Unwrap()
		assert.Equal(t, originalErr, unwrapped)
	})

	t.Run("is interface", func(t *testing.T) {
		other := &ClassifiedError{Type: ErrorTypeNetwork}
		assert.True(t, classified.Is(other))

		different := &ClassifiedError{Type: ErrorTypeProbeTimeout}
		assert.False(t, classified.Is(different))
	})
}

func TestUtilityFunctions(t *testing.T) {
	t.Run("WrapError", func(t *testing.T) {
		original := fmt.Errorf("original error")
		wrapped := WrapError(original, "component", "operation", "something failed")

		assert.Contains(t, wrapped.Error(), "something failed")
		assert.Contains(t, wrapped.Error(), "component.operation")
		assert.Contains(t, wrapped.Error(), "original error")
	})

	t.Run("IsRetryable", func(t *testing.T) {
		retryable := &ClassifiedError{Retryable: true}
		notRetryable := &ClassifiedError{Retryable: false}
		regular := fmt.Errorf("regular error")

		assert.True(t, IsRetryable(retryable))
		assert.False(t, IsRetryable(notRetryable))
		assert.False(t, IsRetryable(regular))
	})

	t.Run("GetErrorType", func(t *testing.T) {
		classified := &ClassifiedError{Type: ErrorTypeNetwork}
		regular := fmt.Errorf("regular error")

		assert.Equal(t, ErrorTypeNetwork, GetErrorType(classified))
		assert.Equal(t, ErrorTypeUnknown, GetErrorType(regular))
	})

	t.Run("GetSeverity", func(t *testing.T) {
		classified := &ClassifiedError{Severity: SeverityCritical}
		regular := fmt.Errorf("regular error")

		assert.Equal(t, SeverityCritical, GetSeverity(classified))
		assert.Equal(t, SeverityMedium, GetSeverity(regular))
	})
}

func TestErrorStats(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	classifier := NewErrorClassifier(config.DefaultConfig().ErrorHandling, logger)

	errors := []error{
		fmt.Errorf("connection refused"),
		fmt.Errorf("timeout"),
		fmt.Errorf("connection refused"),
		fmt.Errorf("rate limit exceeded"),
	}

	for _, err := range errors {
		classifier.Classify(err, "test", "op")
	}

	stats := classifier.GetStats()

	assert.Contains(t, stats, ErrorTypeNetwork)
	assert.Contains(t, stats, ErrorTypeProbeTimeout)
	assert.Contains(t, stats, ErrorTypeRateLimit)

	// Network errors should have count of 2
	networkStats := stats[ErrorTypeNetwork]
	assert.Equal(t, int64(2), networkStats.Count)
	assert.False(t, networkStats.FirstSeen.IsZero())
	assert.False(t, networkStats.LastSeen.IsZero())
}

// Mock net.Error for testing
type mockNetError struct {
	msg       string
	timeout   bool
	temporary bool
}

func (e mockNetError) Error() string   { return e.msg }
func (e mockNetError) Timeout() bool   { return e.timeout }
func (e mockNetError) Temporary() bool { return e.temporary }

func TestNetErrorInterface(t *testing.T) {
	timeoutErr := mockNetError{msg: "timeout", timeout: true}
	tempErr := mockNetError{msg: "temporary", temporary: true}
	netErr := mockNetError{msg: "network error"}

	assert.True(t, isNetworkError(timeoutErr))
	assert.True(t, isNetworkError(tempErr))
	assert.True(t, isNetworkError(netErr))

	assert.True(t, isTimeoutError(timeoutErr))
	assert.False(t, isTimeoutError(tempErr))
	assert.False(t, isTimeoutError(netErr))
}
