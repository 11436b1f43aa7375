// Package config provides centralized configuration management for the
// history intelligence components. Configuration is loaded from multiple
// sources (defaults, JSON file, environment variables), validated, and
// exposed as typed structures per subsystem.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"log/slog"
)

// AppConfig represents the complete application configuration
type AppConfig struct {
	// Application metadata
	AppName    string `json:"app_name" env:"APP_NAME"`
	Version    string `json:"version" env:"VERSION"`
	ConfigPath string `json:"-" env:"CONFIG_PATH"`

	// History database configuration
	Database DatabaseConfig `json:"database"`

	// Cutoff discovery configuration
	Discovery DiscoveryConfig `json:"discovery"`

	// Range validation configuration
	Validation ValidationConfig `json:"validation"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// Metrics configuration
	Metrics MetricsConfig `json:"metrics"`

	// Error handling configuration
	ErrorHandling ErrorHandlingConfig `json:"error_handling"`
}

// DatabaseConfig configures the history database backend
type DatabaseConfig struct {
	Type            string `json:"type" env:"DATABASE_TYPE"`                         // "file", "memory"
	Path            string `json:"path" env:"DATABASE_PATH"`                         // JSON database file path
	BackupRetention int    `json:"backup_retention" env:"DATABASE_BACKUP_RETENTION"` // Timestamped backups to keep
}

// DiscoveryConfig configures the cutoff discovery engine and pool
type DiscoveryConfig struct {
	InitialRangeDays     int               `json:"initial_range_days" env:"DISCOVERY_INITIAL_RANGE_DAYS"`         // Width of the starting search interval
	TargetPrecisionHours int               `json:"target_precision_hours" env:"DISCOVERY_TARGET_PRECISION_HOURS"` // Convergence threshold
	MaxTests             int               `json:"max_tests" env:"DISCOVERY_MAX_TESTS"`                           // Probe budget per run, retries included
	WallClockBudget      string            `json:"wall_clock_budget" env:"DISCOVERY_WALL_CLOCK_BUDGET"`           // Per-run time budget
	ProbeTimeout         string            `json:"probe_timeout" env:"DISCOVERY_PROBE_TIMEOUT"`                   // Per-attempt probe deadline
	ProbeAttempts        int               `json:"probe_attempts" env:"DISCOVERY_PROBE_ATTEMPTS"`                 // Attempts per candidate date
	RetryPolicy          RetryPolicyConfig `json:"retry_policy"`                                                  // Backoff between probe attempts
	WorkerCount          int               `json:"worker_count" env:"DISCOVERY_WORKER_COUNT"`                     // Concurrent discovery runs
	RateLimit            int               `json:"rate_limit" env:"DISCOVERY_RATE_LIMIT"`                         // Probe calls per minute, 0 for unthrottled
}

// ValidationConfig configures backtest range validation
type ValidationConfig struct {
	DiscoverOnMiss bool `json:"discover_on_miss" env:"VALIDATION_DISCOVER_ON_MISS"` // Run discovery synchronously when a market has no cutoff
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level         string            `json:"level" env:"LOG_LEVEL"`             // Log level: debug, info, warn, error
	Format        string            `json:"format" env:"LOG_FORMAT"`           // Log format: json, text
	Output        string            `json:"output" env:"LOG_OUTPUT"`           // Output: stdout, stderr, file
	FilePath      string            `json:"file_path" env:"LOG_FILE_PATH"`     // Log file path
	MaxSize       int               `json:"max_size" env:"LOG_MAX_SIZE"`       // Maximum log file size in MB
	MaxBackups    int               `json:"max_backups" env:"LOG_MAX_BACKUPS"` // Maximum log file backups
	MaxAge        int               `json:"max_age" env:"LOG_MAX_AGE"`         // Maximum log file age in days
	Compress      bool              `json:"compress" env:"LOG_COMPRESS"`       // Compress old log files
	ContextFields map[string]string `json:"context_fields"`                    // Additional context fields
}

// MetricsConfig configures in-process metrics collection
type MetricsConfig struct {
	Enabled        bool   `json:"enabled" env:"METRICS_ENABLED"`                 // Enable metrics collection
	UpdateInterval string `json:"update_interval" env:"METRICS_UPDATE_INTERVAL"` // Snapshot logging interval
}

// ErrorHandlingConfig configures error handling and retry policies
type ErrorHandlingConfig struct {
	GlobalRetryPolicy    RetryPolicyConfig    `json:"global_retry_policy"`                                 // Global retry policy
	FallbackBehavior     string               `json:"fallback_behavior" env:"FALLBACK_BEHAVIOR"`           // Behavior when all retries fail
	EnableCircuitBreaker bool                 `json:"enable_circuit_breaker" env:"ENABLE_CIRCUIT_BREAKER"` // Enable circuit breaker pattern
	CircuitBreakerConfig CircuitBreakerConfig `json:"circuit_breaker_config"`                              // Circuit breaker configuration
}

// RetryPolicyConfig configures retry behavior
type RetryPolicyConfig struct {
	MaxAttempts     int      `json:"max_attempts"`     // Maximum retry attempts
	InitialDelay    string   `json:"initial_delay"`    // Initial delay between retries
	MaxDelay        string   `json:"max_delay"`        // Maximum delay between retries
	BackoffStrategy string   `json:"backoff_strategy"` // Backoff strategy: fixed, exponential, linear
	RetryableErrors []string `json:"retryable_errors"` // List of retryable error types
	Jitter          bool     `json:"jitter"`           // Add randomness to delays
}

// CircuitBreakerConfig configures circuit breaker behavior
type CircuitBreakerConfig struct {
	FailureThreshold int    `json:"failure_threshold"`  // Number of failures to open circuit
	RecoveryTimeout  string `json:"recovery_timeout"`   // Time before attempting recovery
	HalfOpenRequests int    `json:"half_open_requests"` // Number of test requests in half-open state
}

// ConfigManager handles configuration loading, validation, and reloading
type ConfigManager struct {
	config     *AppConfig
	configPath string
	logger     *slog.Logger
	watchers   []ConfigWatcher
}

// ConfigWatcher defines an interface for components that need to be notified of config changes
type ConfigWatcher interface {
	OnConfigUpdate(ctx context.Context, config *AppConfig) error
}

// NewConfigManager creates a new configuration manager
func NewConfigManager(configPath string, logger *slog.Logger) *ConfigManager {
	if logger == nil {
		logger = slog.Default()
	}

	return &ConfigManager{
		configPath: configPath,
		logger:     logger,
	}
}

// LoadConfig loads configuration from multiple sources with priority order:
// 1. Environment variables (highest priority)
// 2. Configuration file
// 3. Default values (lowest priority)
func (cm *ConfigManager) LoadConfig(ctx context.Context) (*AppConfig, error) {
	config := DefaultConfig()

	// Load from configuration file if it exists
	if cm.configPath != "" {
		if err := cm.loadFromFile(config); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	if err := cm.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	// Validate the final configuration
	if err := cm.validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cm.config = config
	cm.logger.Info("configuration loaded successfully",
		"config_path", cm.configPath,
		"database_type", config.Database.Type,
		"database_path", config.Database.Path,
		"log_level", config.Logging.Level)

	return config, nil
}

// loadFromFile loads configuration from a JSON file
func (cm *ConfigManager) loadFromFile(config *AppConfig) error {
	if _, err := os.Stat(cm.configPath); os.IsNotExist(err) {
		cm.logger.Debug("config file does not exist, using defaults", "path", cm.configPath)
		return nil
	}

	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cm.configPath, err)
	}

	if err := json.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", cm.configPath, err)
	}

	cm.logger.Debug("loaded configuration from file", "path", cm.configPath)
	return nil
}

// loadFromEnv loads configuration from environment variables
func (cm *ConfigManager) loadFromEnv(config *AppConfig) error {
	// Load main application config
	if val := os.Getenv("APP_NAME"); val != "" {
		config.AppName = val
	}
	if val := os.Getenv("VERSION"); val != "" {
		config.Version = val
	}

	// Load database config
	if val := os.Getenv("DATABASE_TYPE"); val != "" {
		config.Database.Type = val
	}
	if val := os.Getenv("DATABASE_PATH"); val != "" {
		config.Database.Path = val
	}
	if val := os.Getenv("DATABASE_BACKUP_RETENTION"); val != "" {
		if retention, err := strconv.Atoi(val); err == nil {
			config.Database.BackupRetention = retention
		}
	}

	// Load discovery config
	if val := os.Getenv("DISCOVERY_INITIAL_RANGE_DAYS"); val != "" {
		if days, err := strconv.Atoi(val); err == nil {
			config.Discovery.InitialRangeDays = days
		}
	}
	if val := os.Getenv("DISCOVERY_TARGET_PRECISION_HOURS"); val != "" {
		if hours, err := strconv.Atoi(val); err == nil {
			config.Discovery.TargetPrecisionHours = hours
		}
	}
	if val := os.Getenv("DISCOVERY_MAX_TESTS"); val != "" {
		if tests, err := strconv.Atoi(val); err == nil {
			config.Discovery.MaxTests = tests
		}
	}
	if val := os.Getenv("DISCOVERY_WALL_CLOCK_BUDGET"); val != "" {
		config.Discovery.WallClockBudget = val
	}
	if val := os.Getenv("DISCOVERY_PROBE_TIMEOUT"); val != "" {
		config.Discovery.ProbeTimeout = val
	}
	if val := os.Getenv("DISCOVERY_PROBE_ATTEMPTS"); val != "" {
		if attempts, err := strconv.Atoi(val); err == nil {
			config.Discovery.ProbeAttempts = attempts
		}
	}
	if val := os.Getenv("DISCOVERY_WORKER_COUNT"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil {
			config.Discovery.WorkerCount = workers
		}
	}
	if val := os.Getenv("DISCOVERY_RATE_LIMIT"); val != "" {
		if limit, err := strconv.Atoi(val); err == nil {
			config.Discovery.RateLimit = limit
		}
	}

	// Load validation config
	if val := os.Getenv("VALIDATION_DISCOVER_ON_MISS"); val != "" {
		config.Validation.DiscoverOnMiss = val == "true"
	}

	// Load logging config
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		config.Logging.Format = val
	}
	if val := os.Getenv("LOG_OUTPUT"); val != "" {
		config.Logging.Output = val
	}
	if val := os.Getenv("LOG_FILE_PATH"); val != "" {
		config.Logging.FilePath = val
	}

	// Load metrics config
	if val := os.Getenv("METRICS_ENABLED"); val != "" {
		config.Metrics.Enabled = val == "true"
	}
	if val := os.Getenv("METRICS_UPDATE_INTERVAL"); val != "" {
		config.Metrics.UpdateInterval = val
	}

	cm.logger.Debug("loaded configuration from environment variables")
	return nil
}

// validateConfig validates the configuration for consistency and required fields
func (cm *ConfigManager) validateConfig(config *AppConfig) error {
	var errors []string

	// Validate database configuration
	validDatabaseTypes := map[string]bool{"file": true, "memory": true}
	if !validDatabaseTypes[config.Database.Type] {
		errors = append(errors, "database.type must be one of: file, memory")
	}
	if config.Database.Type == "file" && config.Database.Path == "" {
		errors = append(errors, "database.path is required for file storage")
	}
	if config.Database.BackupRetention < 0 {
		errors = append(errors, "database.backup_retention must not be negative")
	}

	// Validate discovery configuration
	if config.Discovery.InitialRangeDays <= 0 {
		errors = append(errors, "discovery.initial_range_days must be greater than 0")
	}
	if config.Discovery.TargetPrecisionHours <= 0 {
		errors = append(errors, "discovery.target_precision_hours must be greater than 0")
	}
	if config.Discovery.MaxTests <= 0 {
		errors = append(errors, "discovery.max_tests must be greater than 0")
	}
	if config.Discovery.ProbeAttempts <= 0 {
		errors = append(errors, "discovery.probe_attempts must be greater than 0")
	}
	if config.Discovery.WorkerCount <= 0 {
		errors = append(errors, "discovery.worker_count must be greater than 0")
	}
	if config.Discovery.RateLimit < 0 {
		errors = append(errors, "discovery.rate_limit must not be negative")
	}
	if config.Discovery.WallClockBudget != "" {
		if _, err := time.ParseDuration(config.Discovery.WallClockBudget); err != nil {
			errors = append(errors, fmt.Sprintf("discovery.wall_clock_budget is not a valid duration: %v", err))
		}
	}
	if config.Discovery.ProbeTimeout != "" {
		if _, err := time.ParseDuration(config.Discovery.ProbeTimeout); err != nil {
			errors = append(errors, fmt.Sprintf("discovery.probe_timeout is not a valid duration: %v", err))
		}
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[config.Logging.Level] {
		errors = append(errors, "logging.level must be one of: debug, info, warn, error")
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[config.Logging.Format] {
		errors = append(errors, "logging.format must be one of: json, text")
	}

	// Validate metrics configuration
	if config.Metrics.Enabled && config.Metrics.UpdateInterval != "" {
		if _, err := time.ParseDuration(config.Metrics.UpdateInterval); err != nil {
			errors = append(errors, fmt.Sprintf("metrics.update_interval is not a valid duration: %v", err))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// GetConfig returns the current configuration
func (cm *ConfigManager) GetConfig() *AppConfig {
	return cm.config
}

// SaveConfig saves the current configuration to the config file
func (cm *ConfigManager) SaveConfig(ctx context.Context) error {
	if cm.configPath == "" {
		return fmt.Errorf("no config path specified")
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(cm.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Marshal configuration to JSON
	data, err := json.MarshalIndent(cm.config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	// Write to file
	if err := os.WriteFile(cm.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	cm.logger.Info("configuration saved", "path", cm.configPath)
	return nil
}

// RegisterWatcher registers a component to be notified of configuration changes
func (cm *ConfigManager) RegisterWatcher(watcher ConfigWatcher) {
	cm.watchers = append(cm.watchers, watcher)
}

// NotifyWatchers notifies all registered watchers of configuration changes
func (cm *ConfigManager) NotifyWatchers(ctx context.Context) error {
	for _, watcher := range cm.watchers {
		if err := watcher.OnConfigUpdate(ctx, cm.config); err != nil {
			cm.logger.Error("watcher failed to handle config update", "error", err)
			return fmt.Errorf("config update notification failed: %w", err)
		}
	}
	return nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		AppName: "history-intelligence",
		Version: "1.0.0",
		Database: DatabaseConfig{
			Type:            "file",
			Path:            "./data/history_cutoffs.json",
			BackupRetention: 5,
		},
		Discovery: DiscoveryConfig{
			InitialRangeDays:     1000,
			TargetPrecisionHours: 24,
			MaxTests:             15,
			WallClockBudget:      "10m",
			ProbeTimeout:         "30s",
			ProbeAttempts:        3,
			RetryPolicy: RetryPolicyConfig{
				MaxAttempts:     3,
				InitialDelay:    "500ms",
				MaxDelay:        "10s",
				BackoffStrategy: "exponential",
				RetryableErrors: []string{"probe_timeout", "probe_failure", "rate_limit"},
				Jitter:          true,
			},
			WorkerCount: 4,
			RateLimit:   60,
		},
		Validation: ValidationConfig{
			DiscoverOnMiss: false,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			FilePath:   "",
			MaxSize:    100, // 100MB
			MaxBackups: 5,
			MaxAge:     30, // 30 days
			Compress:   true,
			ContextFields: map[string]string{
				"service": "history-intelligence",
				"version": "1.0.0",
			},
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			UpdateInterval: "30s",
		},
		ErrorHandling: ErrorHandlingConfig{
			GlobalRetryPolicy: RetryPolicyConfig{
				MaxAttempts:     3,
				InitialDelay:    "1s",
				MaxDelay:        "60s",
				BackoffStrategy: "exponential",
				RetryableErrors: []string{"probe_timeout", "probe_failure", "rate_limit"},
				Jitter:          true,
			},
			FallbackBehavior:     "log_and_continue",
			EnableCircuitBreaker: true,
			CircuitBreakerConfig: CircuitBreakerConfig{
				FailureThreshold: 5,
				RecoveryTimeout:  "30s",
				HalfOpenRequests: 3,
			},
		},
	}
}

// GetDatabaseConfig returns database-specific configuration
func (c *AppConfig) GetDatabaseConfig() DatabaseConfig {
	return c.Database
}

// GetDiscoveryConfig returns discovery-specific configuration
func (c *AppConfig) GetDiscoveryConfig() DiscoveryConfig {
	return c.Discovery
}

// GetValidationConfig returns validation-specific configuration
func (c *AppConfig) GetValidationConfig() ValidationConfig {
	return c.Validation
}

// GetLoggingConfig returns logging-specific configuration
func (c *AppConfig) GetLoggingConfig() LoggingConfig {
	return c.Logging
}

// GetMetricsConfig returns metrics-specific configuration
func (c *AppConfig) GetMetricsConfig() MetricsConfig {
	return c.Metrics
}

// GetErrorHandlingConfig returns error handling configuration
func (c *AppConfig) GetErrorHandlingConfig() ErrorHandlingConfig {
	return c.ErrorHandling
}

// WallClockBudgetDuration parses the configured wall-clock budget,
// falling back to the default on a missing value.
func (c DiscoveryConfig) WallClockBudgetDuration() time.Duration {
	if d, err := time.ParseDuration(c.WallClockBudget); err == nil {
		return d
	}
	return 10 * time.Minute
}

// ProbeTimeoutDuration parses the configured probe timeout, falling
// back to the default on a missing value.
func (c DiscoveryConfig) ProbeTimeoutDuration() time.Duration {
	if d, err := time.ParseDuration(c.ProbeTimeout); err == nil {
		return d
	}
	return 30 * time.Second
}

// String returns a string representation of the configuration
func (c *AppConfig) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
