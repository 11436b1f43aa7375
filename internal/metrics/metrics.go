// Package metrics provides in-process metrics collection and health monitoring
// for the history intelligence components. Counters, gauges, and durations are
// kept in memory with bounded history and surfaced through snapshots and
// periodic log lines rather than a scrape endpoint.
package metrics

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/johnayoung/go-history-intelligence/internal/config"
	"github.com/johnayoung/go-history-intelligence/internal/logger"
)

// MetricsCollector manages application metrics and health monitoring
type MetricsCollector struct {
	config      config.MetricsConfig
	logger      *logger.ComponentLogger
	mu          sync.RWMutex
	metrics     map[string]Metric
	healthCheck HealthChecker
	startTime   time.Time
	collectors  []MetricCollector

	// Performance counters
	requestCount   int64
	errorCount     int64
	lastUpdateTime time.Time
	updateTicker   *time.Ticker
	stopChan       chan struct{}
}

// Metric represents a single metric with metadata
type Metric struct {
	Name        string            `json:"name"`
	Type        MetricType        `json:"type"`
	Value       float64           `json:"value"`
	Labels      map[string]string `json:"labels,omitempty"`
	Description string            `json:"description"`
	UpdatedAt   time.Time         `json:"updated_at"`
	History     []MetricDataPoint `json:"history,omitempty"`
}

// MetricType represents different types of metrics
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
	MetricTypeSummary   MetricType = "summary"
)

// MetricDataPoint represents a time-series data point
type MetricDataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// MetricCollector interface for components that provide metrics
type MetricCollector interface {
	CollectMetrics(ctx context.Context) ([]Metric, error)
	GetMetricNames() []string
}

// HealthChecker interface for components that provide health status
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
	GetHealthStatus() HealthStatus
}

// HealthStatus represents the health status of a component
type HealthStatus struct {
	Status       string            `json:"status"`
	Timestamp    time.Time         `json:"timestamp"`
	Duration     time.Duration     `json:"duration"`
	Details      map[string]string `json:"details,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty"`
}

// MetricsSnapshot represents a snapshot of all metrics at a point in time
type MetricsSnapshot struct {
	Timestamp     time.Time               `json:"timestamp"`
	Uptime        time.Duration           `json:"uptime"`
	Metrics       map[string]Metric       `json:"metrics"`
	SystemMetrics SystemMetrics           `json:"system_metrics"`
	HealthStatus  map[string]HealthStatus `json:"health_status"`
	RequestCount  int64                   `json:"request_count"`
	ErrorCount    int64                   `json:"error_count"`
	ErrorRate     float64                 `json:"error_rate"`
}

// SystemMetrics represents system-level metrics
type SystemMetrics struct {
	GoroutineCount int    `json:"goroutine_count"`
	GCPauseNs      uint64 `json:"gc_pause_ns"`
	NumGC          uint32 `json:"num_gc"`
	HeapAlloc      uint64 `json:"heap_alloc"`
	HeapSys        uint64 `json:"heap_sys"`
	HeapIdle       uint64 `json:"heap_idle"`
	HeapInuse      uint64 `json:"heap_inuse"`
	StackInuse     uint64 `json:"stack_inuse"`
	StackSys       uint64 `json:"stack_sys"`
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(cfg config.MetricsConfig, loggerMgr *logger.LoggerManager) *MetricsCollector {
	componentLogger := loggerMgr.GetComponentLogger("metrics")

	return &MetricsCollector{
		config:     cfg,
		logger:     componentLogger,
		metrics:    make(map[string]Metric),
		startTime:  time.Now(),
		collectors: make([]MetricCollector, 0),
		stopChan:   make(chan struct{}),
	}
}

// Start initializes and starts the metrics collection system
func (mc *MetricsCollector) Start(ctx context.Context) error {
	if !mc.config.Enabled {
		mc.logger.Info("metrics collection disabled")
		return nil
	}

	mc.logger.Info("starting metrics collector",
		"update_interval", mc.config.UpdateInterval)

	updateInterval, err := time.ParseDuration(mc.config.UpdateInterval)
	if err != nil {
		return fmt.Errorf("invalid update interval: %w", err)
	}

	mc.updateTicker = time.NewTicker(updateInterval)
	go mc.collectMetricsLoop(ctx)

	return nil
}

// Stop gracefully stops the metrics collection system
func (mc *MetricsCollector) Stop(ctx context.Context) error {
	mc.logger.Info("stopping metrics collector")

	close(mc.stopChan)

	if mc.updateTicker != nil {
		mc.updateTicker.Stop()
	}

	mc.logger.Info("metrics collector stopped")
	return nil
}

// RegisterCollector registers a metric collector component
func (mc *MetricsCollector) RegisterCollector(collector MetricCollector) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.collectors = append(mc.collectors, collector)
	mc.logger.Debug("registered metric collector",
		"metric_names", collector.GetMetricNames())
}

// RegisterHealthChecker registers a health checker component
func (mc *MetricsCollector) RegisterHealthChecker(checker HealthChecker) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.healthCheck = checker
	mc.logger.Debug("registered health checker")
}

// RecordCounter increments a counter metric
func (mc *MetricsCollector) RecordCounter(name, description string, labels map[string]string) {
	mc.recordMetric(name, MetricTypeCounter, 1, description, labels)
	atomic.AddInt64(&mc.requestCount, 1)
}

// RecordGauge sets a gauge metric value
func (mc *MetricsCollector) RecordGauge(name string, value float64, description string, labels map[string]string) {
	mc.recordMetric(name, MetricTypeGauge, value, description, labels)
}

// RecordError records an error metric
func (mc *MetricsCollector) RecordError(name, description string, labels map[string]string) {
	mc.recordMetric(name, MetricTypeCounter, 1, description, labels)
	atomic.AddInt64(&mc.errorCount, 1)
}

// RecordDuration records a duration metric in milliseconds
func (mc *MetricsCollector) RecordDuration(name string, duration time.Duration, description string, labels map[string]string) {
	ms := float64(duration.Nanoseconds()) / float64(time.Millisecond)
	mc.recordMetric(name, MetricTypeHistogram, ms, description, labels)
}

// recordMetric is the internal method for recording metrics
func (mc *MetricsCollector) recordMetric(name string, metricType MetricType, value float64, description string, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := time.Now()

	existing, exists := mc.metrics[name]
	if exists {
		if metricType == MetricTypeCounter {
			existing.Value += value
		} else {
			existing.Value = value
		}
		existing.UpdatedAt = now

		// Keep last 100 points
		existing.History = append(existing.History, MetricDataPoint{
			Timestamp: now,
			Value:     existing.Value,
		})
		if len(existing.History) > 100 {
			existing.History = existing.History[1:]
		}

		mc.metrics[name] = existing
	} else {
		metric := Metric{
			Name:        name,
			Type:        metricType,
			Value:       value,
			Labels:      labels,
			Description: description,
			UpdatedAt:   now,
			History: []MetricDataPoint{
				{Timestamp: now, Value: value},
			},
		}
		mc.metrics[name] = metric
	}
}

// collectMetricsLoop runs the periodic metrics collection
func (mc *MetricsCollector) collectMetricsLoop(ctx context.Context) {
	for {
		select {
		case <-mc.updateTicker.C:
			if err := mc.collectAllMetrics(ctx); err != nil {
				mc.logger.ErrorWithContext(ctx, "failed to collect metrics", err)
			}
		case <-mc.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// collectAllMetrics collects metrics from all registered collectors
func (mc *MetricsCollector) collectAllMetrics(ctx context.Context) error {
	mc.mu.RLock()
	collectors := make([]MetricCollector, len(mc.collectors))
	copy(collectors, mc.collectors)
	mc.mu.RUnlock()

	mc.collectSystemMetrics()

	for _, collector := range collectors {
		metrics, err := collector.CollectMetrics(ctx)
		if err != nil {
			mc.logger.ErrorWithContext(ctx, "collector failed to provide metrics", err)
			continue
		}

		mc.mu.Lock()
		for _, metric := range metrics {
			mc.metrics[metric.Name] = metric
		}
		mc.mu.Unlock()
	}

	mc.mu.Lock()
	mc.lastUpdateTime = time.Now()
	mc.mu.Unlock()

	snapshot := mc.GetSnapshot()
	mc.logger.Debug("metrics snapshot",
		"uptime", snapshot.Uptime,
		"tracked_metrics", len(snapshot.Metrics),
		"request_count", snapshot.RequestCount,
		"error_count", snapshot.ErrorCount)

	return nil
}

// collectSystemMetrics collects system-level metrics
func (mc *MetricsCollector) collectSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	mc.RecordGauge("system_goroutines", float64(runtime.NumGoroutine()), "Number of goroutines", nil)
	mc.RecordGauge("system_memory_heap_alloc", float64(m.HeapAlloc), "Heap allocation in bytes", nil)
	mc.RecordGauge("system_memory_heap_sys", float64(m.HeapSys), "Heap system memory in bytes", nil)
	mc.RecordGauge("system_memory_heap_inuse", float64(m.HeapInuse), "Heap in-use memory in bytes", nil)
	mc.RecordGauge("system_gc_pause_ns", float64(m.PauseTotalNs), "Total GC pause time in nanoseconds", nil)
}

// GetSnapshot returns a snapshot of all current metrics
func (mc *MetricsCollector) GetSnapshot() MetricsSnapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	metricsCopy := make(map[string]Metric)
	for k, v := range mc.metrics {
		metricsCopy[k] = v
	}

	requestCount := atomic.LoadInt64(&mc.requestCount)
	errorCount := atomic.LoadInt64(&mc.errorCount)
	var errorRate float64
	if requestCount > 0 {
		errorRate = float64(errorCount) / float64(requestCount) * 100
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	systemMetrics := SystemMetrics{
		GoroutineCount: runtime.NumGoroutine(),
		NumGC:          m.NumGC,
		GCPauseNs:      m.PauseTotalNs,
		HeapAlloc:      m.HeapAlloc,
		HeapSys:        m.HeapSys,
		HeapIdle:       m.HeapIdle,
		HeapInuse:      m.HeapInuse,
		StackInuse:     m.StackInuse,
		StackSys:       m.StackSys,
	}

	healthStatus := make(map[string]HealthStatus)
	if mc.healthCheck != nil {
		healthStatus["application"] = mc.healthCheck.GetHealthStatus()
	}

	return MetricsSnapshot{
		Timestamp:     time.Now(),
		Uptime:        time.Since(mc.startTime),
		Metrics:       metricsCopy,
		SystemMetrics: systemMetrics,
		HealthStatus:  healthStatus,
		RequestCount:  requestCount,
		ErrorCount:    errorCount,
		ErrorRate:     errorRate,
	}
}

// Discovery and database convenience recorders. Keeping the metric names in
// one place keeps dashboards stable across call sites.

// RecordDiscoveryRun records one completed discovery run.
func (mc *MetricsCollector) RecordDiscoveryRun(marketTag string, success bool, tests int, duration time.Duration) {
	labels := map[string]string{"market_tag": marketTag}
	if success {
		mc.RecordCounter("discovery_runs_converged", "Discovery runs that converged", labels)
	} else {
		mc.RecordError("discovery_runs_failed", "Discovery runs that did not converge", labels)
	}
	mc.RecordGauge("discovery_tests_performed", float64(tests), "Probe tests spent by the last discovery run", labels)
	mc.RecordDuration("discovery_run_duration_ms", duration, "Discovery run duration", labels)
}

// RecordStoreOutcome records a cutoff store attempt.
func (mc *MetricsCollector) RecordStoreOutcome(created bool) {
	if created {
		mc.RecordCounter("histdb_records_created", "Cutoff records created", nil)
	} else {
		mc.RecordCounter("histdb_store_rejected", "Cutoff stores rejected by first-write-wins", nil)
	}
}

// RecordValidation records a backtest range validation verdict.
func (mc *MetricsCollector) RecordValidation(valid bool) {
	if valid {
		mc.RecordCounter("validation_ranges_accepted", "Backtest ranges accepted unmodified", nil)
	} else {
		mc.RecordCounter("validation_ranges_clamped", "Backtest ranges clamped or deferred", nil)
	}
}

// SimpleHealthChecker is a basic health checker implementation
type SimpleHealthChecker struct {
	name         string
	logger       *logger.ComponentLogger
	dependencies []string
	lastCheck    time.Time
	lastResult   error
	mu           sync.RWMutex
}

// NewSimpleHealthChecker creates a basic health checker
func NewSimpleHealthChecker(name string, logger *logger.ComponentLogger) *SimpleHealthChecker {
	return &SimpleHealthChecker{
		name:         name,
		logger:       logger,
		dependencies: make([]string, 0),
	}
}

// AddDependency adds a dependency to check
func (shc *SimpleHealthChecker) AddDependency(name string) {
	shc.mu.Lock()
	defer shc.mu.Unlock()
	shc.dependencies = append(shc.dependencies, name)
}

// HealthCheck performs a health check
func (shc *SimpleHealthChecker) HealthCheck(ctx context.Context) error {
	shc.mu.Lock()
	defer shc.mu.Unlock()

	defer func() {
		shc.lastCheck = time.Now()
	}()

	for _, dep := range shc.dependencies {
		shc.logger.DebugWithContext(ctx, "checking dependency", "dependency", dep)
	}

	if ctx.Err() != nil {
		shc.lastResult = ctx.Err()
		return ctx.Err()
	}

	shc.lastResult = nil
	return nil
}

// GetHealthStatus returns the current health status
func (shc *SimpleHealthChecker) GetHealthStatus() HealthStatus {
	shc.mu.RLock()
	defer shc.mu.RUnlock()

	status := "healthy"
	if shc.lastResult != nil {
		status = "unhealthy"
	}

	details := make(map[string]string)
	if shc.lastResult != nil {
		details["error"] = shc.lastResult.Error()
	}
	details["last_check"] = shc.lastCheck.Format(time.RFC3339)

	return HealthStatus{
		Status:       status,
		Timestamp:    time.Now(),
		Duration:     time.Since(shc.lastCheck),
		Details:      details,
		Dependencies: shc.dependencies,
	}
}
