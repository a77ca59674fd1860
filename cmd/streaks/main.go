// Streak Analyzer CLI
// This application downloads daily cryptocurrency candles into snapshot
// files, scans them for runs of consecutive favorable days, simulates the
// compounded return of trading those runs, and plots normalised prices of
// many pairs on one chart.
//
// Usage:
//
//	streaks fetch
//	streaks analyze -c BTC-USD ETH-USD -p 0.01 -v 0.05 -n 3
//	streaks plot -c BTC-USD ETH-USD SOL-USD -s 2024-01-01-00-00
//	streaks schedule --run-now
//
// For detailed help on any command, use: streaks <command> --help
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/johnayoung/go-streak-analyzer/internal/config"
	apperrors "github.com/johnayoung/go-streak-analyzer/internal/errors"
	"github.com/johnayoung/go-streak-analyzer/internal/exchange"
	"github.com/johnayoung/go-streak-analyzer/internal/logger"
	"github.com/johnayoung/go-streak-analyzer/internal/recorder"
	"github.com/johnayoung/go-streak-analyzer/internal/snapshot"
	"github.com/johnayoung/go-streak-analyzer/internal/storage"
)

// CLI version information
const (
	Version = "1.0.0"
	AppName = "streaks"

	// ConfigEnv names a config file outside the working directory.
	ConfigEnv = config.EnvPrefix + "CONFIG"
)

// configFiles are looked up in the working directory, first match wins.
var configFiles = []string{"streaks.yaml", "streaks.yml", "streaks.json"}

// Exit codes following standard conventions
const (
	ExitSuccess       = 0
	ExitUsageError    = 1
	ExitConfigError   = 2
	ExitConnectionErr = 3
	ExitDataError     = 4
	ExitInterrupt     = 130
)

// CLI represents the main CLI application
type CLI struct {
	config     *config.AppConfig
	logs       *logger.LoggerManager
	logger     *slog.Logger
	snapshots  *snapshot.Store
	classifier *apperrors.ErrorClassifier
}

// main is the entry point for the CLI application
func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(ExitUsageError)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "--version", "-V", "version":
		fmt.Printf("%s version %s\n", AppName, Version)
		return
	case "--help", "-h", "help":
		if len(args) > 0 {
			printCommandHelp(args[0])
		} else {
			printUsage()
		}
		return
	case "fetch", "analyze", "plot", "schedule":
	default:
		fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", command)
		printUsage()
		os.Exit(ExitUsageError)
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cli := &CLI{}
	if err := cli.initialize(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to initialize CLI: %v\n", err)
		os.Exit(ExitConfigError)
	}
	defer cli.logs.Close()

	var err error
	switch command {
	case "fetch":
		err = cli.handleFetch(ctx, args)
	case "analyze":
		err = cli.handleAnalyze(ctx, args)
	case "plot":
		err = cli.handlePlot(ctx, args)
	case "schedule":
		err = cli.handleSchedule(ctx, args)
	}

	if code := exitCode(ctx, err); code != ExitSuccess {
		var usage *usageError
		if errors.As(err, &usage) {
			fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
			printCommandHelp(command)
		} else {
			cli.logger.Error("command failed", "command", command, "error", err)
		}
		cli.logs.Close()
		os.Exit(code)
	}
}

// exitCode maps a command error onto the process exit status.
func exitCode(ctx context.Context, err error) int {
	var usage *usageError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &usage):
		return ExitUsageError
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		return ExitInterrupt
	case apperrors.IsRetryable(err),
		apperrors.GetErrorType(err) == apperrors.ErrorTypeNetwork,
		apperrors.GetErrorType(err) == apperrors.ErrorTypeTimeout:
		return ExitConnectionErr
	default:
		return ExitDataError
	}
}

// initialize loads configuration and sets up the shared components.
func (cli *CLI) initialize(ctx context.Context) error {
	cfg, err := config.NewConfigManager(configPath(), nil).LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cli.config = cfg

	logs, err := logger.NewLoggerManager(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	cli.logs = logs
	cli.logger = logs.GetLogger()

	cli.snapshots = snapshot.NewStore(cfg.Data.Dir, logs.GetComponentLogger("snapshot").Logger)
	cli.classifier = apperrors.NewErrorClassifier(cfg.ErrorHandling, logs.GetComponentLogger("errors").Logger)
	return nil
}

func configPath() string {
	if p := os.Getenv(ConfigEnv); p != "" {
		return p
	}
	for _, name := range configFiles {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// createExchange builds the market data adapter from configuration.
func (cli *CLI) createExchange() (*exchange.CoinbaseAdapter, error) {
	cfg := cli.config.Exchange
	if cfg.Type != "coinbase" {
		return nil, fmt.Errorf("unsupported exchange type: %s", cfg.Type)
	}
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid exchange timeout: %w", err)
	}
	return exchange.NewCoinbaseAdapter(exchange.CoinbaseConfig{
		BaseURL:           cfg.BaseURL,
		RequestsPerSecond: cfg.RateLimit,
		Timeout:           timeout,
	}, cli.logs.GetComponentLogger("exchange").Logger), nil
}

// createStorage opens the configured candle store. It returns nil when the
// store is disabled.
func (cli *CLI) createStorage(ctx context.Context) (storage.CandleStore, error) {
	l := cli.logs.GetComponentLogger("storage").Logger

	var store storage.CandleStore
	switch cli.config.Storage.Type {
	case "", "none":
		return nil, nil
	case "memory":
		store = storage.NewMemoryStorage()
	case "duckdb":
		db, err := storage.NewDuckDBStorage(cli.config.Storage.DatabaseURL, l)
		if err != nil {
			return nil, err
		}
		store = db
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cli.config.Storage.Type)
	}

	if err := store.Initialize(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize storage schema: %w", err)
	}
	return store, nil
}

// createRecorder opens the configured analysis recorder.
func (cli *CLI) createRecorder() (recorder.Recorder, error) {
	switch cli.config.Recorder.Type {
	case "", "none":
		return recorder.NewNoopRecorder(), nil
	case "sqlite":
		return recorder.NewSQLiteRecorder(cli.config.Recorder.Path, cli.logs.GetComponentLogger("recorder").Logger)
	default:
		return nil, fmt.Errorf("unsupported recorder type: %s", cli.config.Recorder.Type)
	}
}
