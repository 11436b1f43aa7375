// History Intelligence CLI
// This application provides a command-line interface for discovering
// historical data cutoffs, validating backtest date ranges against them,
// and managing the cutoff database.
//
// Usage:
//
//	histint discover --tags BINANCE_BTC_USDT,BINANCE_ETH_USDT
//	histint validate --tag BINANCE_BTC_USDT --start 2019-01-01 --end 2024-01-01
//	histint export --format csv --output cutoffs.csv
//	histint stats
//	histint integrity
//
// For detailed help on any command, use: histint <command> --help
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"github.com/johnayoung/go-history-intelligence/internal/config"
	"github.com/johnayoung/go-history-intelligence/internal/discovery"
	"github.com/johnayoung/go-history-intelligence/internal/histdb"
	"github.com/johnayoung/go-history-intelligence/internal/logger"
	"github.com/johnayoung/go-history-intelligence/internal/metrics"
	"github.com/johnayoung/go-history-intelligence/internal/probe"
	"github.com/johnayoung/go-history-intelligence/internal/syncstatus"
	"github.com/johnayoung/go-history-intelligence/internal/validation"
)

// CLI version information
const (
	Version    = "1.0.0"
	AppName    = "histint"
	ConfigFile = "histint.json"
)

// Exit codes following standard conventions
const (
	ExitSuccess     = 0
	ExitUsageError  = 1
	ExitConfigError = 2
	ExitDataError   = 4
	ExitInterrupt   = 130
)

// CLI represents the main CLI application
type CLI struct {
	config    *config.AppConfig
	loggerMgr *logger.LoggerManager
	logger    *slog.Logger
	metrics   *metrics.MetricsCollector
	store     histdb.HistoryStore
	tracker   *syncstatus.Tracker
	engine    *discovery.Engine
}

// main is the entry point for the CLI application
func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(ExitUsageError)
	}

	// .env values feed the config env overrides; a missing file is fine
	_ = godotenv.Load()

	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cli := &CLI{}

	if err := cli.initialize(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to initialize CLI: %v\n", err)
		os.Exit(ExitConfigError)
	}
	defer cli.shutdown(ctx)

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "discover":
		if err := cli.handleDiscover(ctx, args); err != nil {
			cli.logger.Error("Discovery failed", "error", err)
			cli.shutdown(ctx)
			os.Exit(ExitDataError)
		}
	case "validate":
		if err := cli.handleValidate(ctx, args); err != nil {
			cli.logger.Error("Validation failed", "error", err)
			cli.shutdown(ctx)
			os.Exit(ExitDataError)
		}
	case "export":
		if err := cli.handleExport(ctx, args); err != nil {
			cli.logger.Error("Export failed", "error", err)
			cli.shutdown(ctx)
			os.Exit(ExitDataError)
		}
	case "stats":
		if err := cli.handleStats(ctx, args); err != nil {
			cli.logger.Error("Stats failed", "error", err)
			cli.shutdown(ctx)
			os.Exit(ExitDataError)
		}
	case "integrity":
		if err := cli.handleIntegrity(ctx, args); err != nil {
			cli.logger.Error("Integrity check failed", "error", err)
			cli.shutdown(ctx)
			os.Exit(ExitDataError)
		}
	case "--version", "-v":
		fmt.Printf("%s version %s\n", AppName, Version)
	case "--help", "-h", "help":
		if len(args) > 0 {
			printCommandHelp(args[0])
		} else {
			printUsage()
		}
	default:
		fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", command)
		printUsage()
		cli.shutdown(ctx)
		os.Exit(ExitUsageError)
	}
}

// initialize sets up the CLI application components
func (cli *CLI) initialize(ctx context.Context) error {
	configPath := ConfigFile
	if val := os.Getenv("HISTINT_CONFIG"); val != "" {
		configPath = val
	}

	manager := config.NewConfigManager(configPath, slog.Default())
	cfg, err := manager.LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cli.config = cfg

	loggerMgr, err := logger.NewLoggerManager(cfg.GetLoggingConfig())
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	cli.loggerMgr = loggerMgr
	cli.logger = loggerMgr.GetLogger()

	cli.metrics = metrics.NewMetricsCollector(cfg.GetMetricsConfig(), loggerMgr)
	if err := cli.metrics.Start(ctx); err != nil {
		return fmt.Errorf("failed to start metrics: %w", err)
	}

	store, err := createStore(cfg.GetDatabaseConfig(), cli.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize history database: %w", err)
	}
	if err := store.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to load history database: %w", err)
	}
	cli.store = store

	cli.tracker = syncstatus.NewTracker(cli.logger)
	cli.engine = discovery.NewEngine(
		engineConfig(cfg.GetDiscoveryConfig()),
		probeLimiter(cfg.GetDiscoveryConfig()),
		cli.logger,
	)

	return nil
}

// shutdown releases CLI resources. Safe to call more than once.
func (cli *CLI) shutdown(ctx context.Context) {
	if cli.store != nil {
		if err := cli.store.Close(); err != nil {
			cli.logger.Warn("Failed to close history database", "error", err)
		}
		cli.store = nil
	}
	if cli.metrics != nil {
		_ = cli.metrics.Stop(ctx)
		cli.metrics = nil
	}
	if cli.loggerMgr != nil {
		_ = cli.loggerMgr.Close()
		cli.loggerMgr = nil
	}
}

// handleDiscover handles the 'discover' command for cutoff discovery
func (cli *CLI) handleDiscover(ctx context.Context, args []string) error {
	flags, err := parseDiscoverFlags(args)
	if err != nil {
		return err
	}

	if flags.Help {
		printCommandHelp("discover")
		return nil
	}

	if len(flags.Tags) == 0 {
		return fmt.Errorf("--tags is required")
	}

	workers := cli.config.Discovery.WorkerCount
	if flags.Workers > 0 {
		workers = flags.Workers
	}

	dataProbe, err := cli.createProbe(flags.Cutoff)
	if err != nil {
		return err
	}

	cli.logger.Info("Starting cutoff discovery",
		"tags", flags.Tags,
		"workers", workers)

	pool := discovery.NewWorkerPool(cli.engine, dataProbe, cli.store, workers, cli.logger)
	if err := pool.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = pool.Stop(stopCtx)
	}()

	results, err := pool.DiscoverAll(ctx, flags.Tags)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	converged := 0
	for _, res := range results {
		cli.metrics.RecordDiscoveryRun(res.Job.MarketTag, res.Result.Success,
			res.Result.TestsPerformed, res.Result.DiscoveryTime)

		if res.Err != nil {
			fmt.Printf("✗ %s: %v\n", res.Job.MarketTag, res.Err)
			continue
		}
		if !res.Result.Success {
			fmt.Printf("✗ %s: %s (tests=%d, narrowed to %s .. %s)\n",
				res.Job.MarketTag,
				res.Result.Message,
				res.Result.TestsPerformed,
				res.Result.LowerBound.Format("2006-01-02"),
				res.Result.UpperBound.Format("2006-01-02"))
			continue
		}

		converged++
		cli.metrics.RecordStoreOutcome(res.Outcome.Created())

		disposition := "stored"
		if res.Outcome == histdb.StoreAlreadyExists {
			disposition = "already recorded"
		}
		fmt.Printf("✓ %s: cutoff %s (±%v, %d tests in %v, %s)\n",
			res.Job.MarketTag,
			res.Result.CutoffDate.Format("2006-01-02"),
			res.Result.PrecisionAchieved,
			res.Result.TestsPerformed,
			res.Result.DiscoveryTime.Round(time.Millisecond),
			disposition)
	}

	fmt.Printf("\nDiscovery complete: %d/%d markets converged\n", converged, len(results))
	return nil
}

// handleValidate handles the 'validate' command for backtest range validation
func (cli *CLI) handleValidate(ctx context.Context, args []string) error {
	flags, err := parseValidateFlags(args)
	if err != nil {
		return err
	}

	if flags.Help {
		printCommandHelp("validate")
		return nil
	}

	if flags.Tag == "" {
		return fmt.Errorf("--tag is required")
	}
	if flags.Start == "" || flags.End == "" {
		return fmt.Errorf("both --start and --end are required")
	}

	startTime, err := time.Parse("2006-01-02", flags.Start)
	if err != nil {
		return fmt.Errorf("invalid start date format, use YYYY-MM-DD: %w", err)
	}
	endTime, err := time.Parse("2006-01-02", flags.End)
	if err != nil {
		return fmt.Errorf("invalid end date format, use YYYY-MM-DD: %w", err)
	}

	if flags.BasicSynced {
		cli.tracker.MarkBasicSynced(flags.Tag)
	}
	if flags.ExtendedSynced {
		cli.tracker.MarkExtendedSynced(flags.Tag)
	}

	var dataProbe probe.MarketDataProbe
	discoverOnMiss := cli.config.Validation.DiscoverOnMiss || flags.Discover
	if discoverOnMiss {
		dataProbe, err = cli.createProbe(flags.Cutoff)
		if err != nil {
			return err
		}
	}

	service, err := validation.NewService(cli.store, cli.engine, dataProbe, cli.tracker, validation.Options{
		DiscoverOnMiss: discoverOnMiss,
		Logger:         cli.logger,
	})
	if err != nil {
		return err
	}

	result, err := service.ValidateBacktestRange(ctx, flags.Tag, startTime, endTime)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	cli.metrics.RecordValidation(result.IsValid)

	if result.IsValid {
		fmt.Printf("✓ %s: range %s to %s is fully covered\n",
			result.MarketTag, flags.Start, flags.End)
	} else {
		fmt.Printf("✗ %s: %s\n", result.MarketTag, result.Message)
		if !result.AdjustedStartDate.IsZero() {
			fmt.Printf("  Adjusted start: %s\n", result.AdjustedStartDate.Format("2006-01-02"))
		}
		if !result.CutoffDate.IsZero() {
			fmt.Printf("  Earliest data:  %s\n", result.CutoffDate.Format("2006-01-02"))
		}
		if result.RequiresSync {
			fmt.Println("  Historical sync has not completed for this market")
		}
	}

	return nil
}

// handleExport handles the 'export' command for database export
func (cli *CLI) handleExport(ctx context.Context, args []string) error {
	flags, err := parseExportFlags(args)
	if err != nil {
		return err
	}

	if flags.Help {
		printCommandHelp("export")
		return nil
	}

	cli.logger.Info("Exporting cutoff database",
		"format", flags.Format,
		"output", flags.Output)

	data, err := cli.store.ExportCutoffs(ctx, flags.Format)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	if flags.Output == "" {
		fmt.Print(data)
		if !strings.HasSuffix(data, "\n") {
			fmt.Println()
		}
		return nil
	}

	if err := os.WriteFile(flags.Output, []byte(data), 0o644); err != nil {
		return fmt.Errorf("failed to write export file: %w", err)
	}
	fmt.Printf("✓ Exported cutoff database to %s (%s)\n", flags.Output, flags.Format)
	return nil
}

// handleStats handles the 'stats' command for database statistics
func (cli *CLI) handleStats(ctx context.Context, args []string) error {
	if hasHelpFlag(args) {
		printCommandHelp("stats")
		return nil
	}

	stats, err := cli.store.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read database stats: %w", err)
	}

	fmt.Printf("📊 Cutoff Database Statistics\n\n")
	fmt.Printf("Total cutoffs:  %d\n", stats.TotalCutoffs)
	fmt.Printf("File size:      %d bytes\n", stats.FileSizeBytes)
	fmt.Printf("Backups:        %d\n", stats.BackupCount)

	if len(stats.Exchanges) > 0 {
		fmt.Println("\nPer exchange:")
		for exchange, count := range stats.Exchanges {
			fmt.Printf("  %-20s %d\n", exchange, count)
		}
	}

	return nil
}

// handleIntegrity handles the 'integrity' command for invariant scanning
func (cli *CLI) handleIntegrity(ctx context.Context, args []string) error {
	if hasHelpFlag(args) {
		printCommandHelp("integrity")
		return nil
	}

	report, err := cli.store.ValidateIntegrity(ctx)
	if err != nil {
		return fmt.Errorf("integrity scan failed: %w", err)
	}

	if report.IsValid {
		fmt.Println("✓ All stored cutoff records satisfy their invariants")
		return nil
	}

	fmt.Printf("✗ Found %d integrity issues:\n\n", len(report.Issues))
	for i, issue := range report.Issues {
		fmt.Printf("%d. %s [%s]: %s\n", i+1, issue.MarketTag, issue.Field, issue.Message)
	}

	return fmt.Errorf("%d records violate invariants", len(report.Issues))
}

// Flag structures for parsing command line arguments

// DiscoverFlags represents flags for the discover command
type DiscoverFlags struct {
	Tags    []string
	Workers int
	Cutoff  string
	Help    bool
}

// ValidateFlags represents flags for the validate command
type ValidateFlags struct {
	Tag            string
	Start          string
	End            string
	Discover       bool
	BasicSynced    bool
	ExtendedSynced bool
	Cutoff         string
	Help           bool
}

// ExportFlags represents flags for the export command
type ExportFlags struct {
	Format string
	Output string
	Help   bool
}

// Flag parsing functions

// parseDiscoverFlags parses command line arguments for the discover command
func parseDiscoverFlags(args []string) (*DiscoverFlags, error) {
	flags := &DiscoverFlags{}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--tags", "-t":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--tags requires a value")
			}
			flags.Tags = strings.Split(args[i+1], ",")
			i++
		case "--workers", "-w":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--workers requires a value")
			}
			workers, err := strconv.Atoi(args[i+1])
			if err != nil {
				return nil, fmt.Errorf("invalid workers value: %w", err)
			}
			flags.Workers = workers
			i++
		case "--cutoff", "-c":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--cutoff requires a value")
			}
			flags.Cutoff = args[i+1]
			i++
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

// parseValidateFlags parses command line arguments for the validate command
func parseValidateFlags(args []string) (*ValidateFlags, error) {
	flags := &ValidateFlags{}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--tag", "-t":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--tag requires a value")
			}
			flags.Tag = args[i+1]
			i++
		case "--start", "-s":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--start requires a value")
			}
			flags.Start = args[i+1]
			i++
		case "--end", "-e":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--end requires a value")
			}
			flags.End = args[i+1]
			i++
		case "--discover", "-d":
			flags.Discover = true
		case "--basic-synced":
			flags.BasicSynced = true
		case "--extended-synced":
			flags.ExtendedSynced = true
		case "--cutoff", "-c":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--cutoff requires a value")
			}
			flags.Cutoff = args[i+1]
			i++
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

// parseExportFlags parses command line arguments for the export command
func parseExportFlags(args []string) (*ExportFlags, error) {
	flags := &ExportFlags{
		Format: "json", // Default format
	}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--format", "-f":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--format requires a value")
			}
			format := args[i+1]
			if format != "json" && format != "csv" {
				return nil, fmt.Errorf("invalid format, must be: json or csv")
			}
			flags.Format = format
			i++
		case "--output", "-o":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--output requires a value")
			}
			flags.Output = args[i+1]
			i++
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

// hasHelpFlag reports whether args request help for a flagless command
func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

// Configuration and initialization functions

// createStore creates the configured history database
func createStore(cfg config.DatabaseConfig, log *slog.Logger) (histdb.HistoryStore, error) {
	switch cfg.Type {
	case "file":
		return histdb.NewFileDatabase(histdb.FileOptions{
			Path:            cfg.Path,
			BackupRetention: cfg.BackupRetention,
			Logger:          log,
		})
	case "memory":
		return histdb.NewMemoryDatabase(), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}

// createProbe creates the market data probe used by discovery. The
// synthetic probe stands in for a live platform adapter; its true cutoff
// is configurable so runs against known fixtures are reproducible. When
// the circuit breaker is enabled, probe traffic routes through it.
func (cli *CLI) createProbe(cutoff string) (probe.MarketDataProbe, error) {
	p := probe.NewSyntheticProbe()

	trueCutoff := time.Now().UTC().AddDate(-3, 0, 0)
	if cutoff != "" {
		parsed, err := time.Parse("2006-01-02", cutoff)
		if err != nil {
			return nil, fmt.Errorf("invalid cutoff date format, use YYYY-MM-DD: %w", err)
		}
		trueCutoff = parsed
	}
	p.SetDefaultCutoff(trueCutoff)

	if cli.config.ErrorHandling.EnableCircuitBreaker {
		return discovery.NewGuardedProbe(p, cli.config.GetErrorHandlingConfig(), cli.logger), nil
	}
	return p, nil
}

// engineConfig converts the application discovery configuration into the
// engine's native form
func engineConfig(cfg config.DiscoveryConfig) discovery.Config {
	engineCfg := discovery.Config{
		InitialRange:    time.Duration(cfg.InitialRangeDays) * 24 * time.Hour,
		TargetPrecision: time.Duration(cfg.TargetPrecisionHours) * time.Hour,
		MaxTests:        cfg.MaxTests,
		WallClockBudget: cfg.WallClockBudgetDuration(),
		ProbeTimeout:    cfg.ProbeTimeoutDuration(),
		ProbeAttempts:   cfg.ProbeAttempts,
	}

	if d, err := time.ParseDuration(cfg.RetryPolicy.InitialDelay); err == nil {
		engineCfg.RetryInitialDelay = d
	}
	if d, err := time.ParseDuration(cfg.RetryPolicy.MaxDelay); err == nil {
		engineCfg.RetryMaxDelay = d
	}

	return engineCfg
}

// probeLimiter builds the shared probe rate limiter from the configured
// calls-per-minute budget. A zero budget disables throttling.
func probeLimiter(cfg config.DiscoveryConfig) *rate.Limiter {
	if cfg.RateLimit <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(float64(cfg.RateLimit)/60.0), cfg.RateLimit)
}

// Help and usage functions

// printUsage prints the main usage information
func printUsage() {
	fmt.Printf(`%s - History Intelligence CLI v%s

USAGE:
    %s <command> [options]

COMMANDS:
    discover    Discover historical data cutoffs for one or more markets
    validate    Validate a backtest date range against known cutoffs
    export      Export the cutoff database as JSON or CSV
    stats       Show cutoff database statistics
    integrity   Scan stored records for invariant violations

GLOBAL OPTIONS:
    --help, -h     Show help information
    --version, -v  Show version information

EXAMPLES:
    # Discover cutoffs for two markets
    %s discover --tags BINANCE_BTC_USDT,BINANCE_ETH_USDT

    # Validate a backtest range, discovering the cutoff if unknown
    %s validate --tag BINANCE_BTC_USDT --start 2019-01-01 --end 2024-01-01 --discover

    # Export all cutoffs as CSV
    %s export --format csv --output cutoffs.csv

CONFIGURATION:
    Configuration can be provided via:
    - Config file: %s (JSON format), or HISTINT_CONFIG to override the path
    - Environment variables (e.g., DATABASE_PATH, DISCOVERY_MAX_TESTS)
    - A .env file in the working directory

    Example config file:
    {
        "database": {"type": "file", "path": "./data/history_cutoffs.json"},
        "discovery": {"max_tests": 15, "target_precision_hours": 24},
        "logging": {"level": "info", "format": "text"}
    }

For detailed help on any command, use: %s <command> --help
`, AppName, Version, AppName, AppName, AppName, AppName, ConfigFile, AppName)
}

// printCommandHelp prints detailed help for a specific command
func printCommandHelp(command string) {
	switch command {
	case "discover":
		fmt.Printf(`%s discover - Discover historical data cutoffs

USAGE:
    %s discover [options]

OPTIONS:
    --tags, -t <tags>      Comma-separated market tags to discover (required)
                           Examples: BINANCE_BTC_USDT,COINBASE_ETH_USD

    --workers, -w <n>      Concurrent discovery workers (default: from config)
    --cutoff, -c <date>    True cutoff for the synthetic probe (YYYY-MM-DD,
                           default: 3 years ago)
    --help, -h             Show this help message

EXAMPLES:
    # Discover cutoffs for two markets with 2 workers
    %s discover --tags BINANCE_BTC_USDT,BINANCE_ETH_USDT --workers 2

    # Discover against a synthetic probe with a known cutoff
    %s discover --tags BINANCE_BTC_USDT --cutoff 2020-06-15

NOTES:
    - Converged cutoffs are persisted under first-write-wins: a market
      that already has a stored cutoff is never overwritten
    - Non-converged runs report how far the search narrowed the interval
    - Probe traffic is rate limited per the discovery.rate_limit setting
`, AppName, AppName, AppName, AppName)

	case "validate":
		fmt.Printf(`%s validate - Validate a backtest date range

USAGE:
    %s validate [options]

OPTIONS:
    --tag, -t <tag>        Market tag to validate against (required)
    --start, -s <date>     Requested backtest start (YYYY-MM-DD, required)
    --end, -e <date>       Requested backtest end (YYYY-MM-DD, required)
    --discover, -d         Run discovery when the market has no stored cutoff
    --basic-synced         Mark the market's recent sync as complete
    --extended-synced      Mark the market's historical backfill as complete
    --cutoff, -c <date>    True cutoff for the synthetic probe (with --discover)
    --help, -h             Show this help message

EXAMPLES:
    # Validate against a stored cutoff
    %s validate --tag BINANCE_BTC_USDT --start 2019-01-01 --end 2024-01-01

    # Validate and discover the cutoff on a miss
    %s validate --tag BINANCE_BTC_USDT --start 2019-01-01 --end 2024-01-01 --discover

NOTES:
    - A start before the cutoff is clamped forward to the cutoff date
    - requires_sync reports whether the market's historical data sync
      has completed for the adjusted range
`, AppName, AppName, AppName, AppName)

	case "export":
		fmt.Printf(`%s export - Export the cutoff database

USAGE:
    %s export [options]

OPTIONS:
    --format, -f <format>  Output format: json, csv (default: json)
    --output, -o <file>    Write to a file instead of stdout
    --help, -h             Show this help message

EXAMPLES:
    # Print all cutoffs as JSON
    %s export

    # Write all cutoffs to a CSV file
    %s export --format csv --output cutoffs.csv
`, AppName, AppName, AppName, AppName)

	case "stats":
		fmt.Printf(`%s stats - Show cutoff database statistics

USAGE:
    %s stats

Shows record counts, live file size, backup count and per-exchange
record counts.
`, AppName, AppName)

	case "integrity":
		fmt.Printf(`%s integrity - Scan stored records for invariant violations

USAGE:
    %s integrity

Flags records whose cutoff date is after their discovery date, whose
precision is not positive, or whose market tag is malformed. Exits
non-zero when any record violates an invariant.
`, AppName, AppName)

	default:
		fmt.Fprintf(os.Stderr, "No help available for command: %s\n", command)
		printUsage()
	}
}
