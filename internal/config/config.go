// Package config provides centralized configuration for the streak analyzer.
// Configuration is layered: built-in defaults, then a JSON or YAML file, then
// a .env file, then STREAKS_* environment variables. Command line flags are
// applied on top by the CLI.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable the loader reads.
const EnvPrefix = "STREAKS_"

// DateLayout is the minute-resolution layout used for plot date bounds and
// snapshot file names.
const DateLayout = "2006-01-02-15-04"

// AppConfig represents the complete application configuration
type AppConfig struct {
	AppName    string `json:"app_name" yaml:"app_name"`
	Version    string `json:"version" yaml:"version"`
	ConfigPath string `json:"-" yaml:"-"`

	Data          DataConfig          `json:"data" yaml:"data"`
	Exchange      ExchangeConfig      `json:"exchange" yaml:"exchange"`
	Fetch         FetchConfig         `json:"fetch" yaml:"fetch"`
	Analysis      AnalysisConfig      `json:"analysis" yaml:"analysis"`
	Plot          PlotConfig          `json:"plot" yaml:"plot"`
	Storage       StorageConfig       `json:"storage" yaml:"storage"`
	Recorder      RecorderConfig      `json:"recorder" yaml:"recorder"`
	Scheduler     SchedulerConfig     `json:"scheduler" yaml:"scheduler"`
	Logging       LoggingConfig       `json:"logging" yaml:"logging"`
	ErrorHandling ErrorHandlingConfig `json:"error_handling" yaml:"error_handling"`
}

// DataConfig locates the snapshot files.
type DataConfig struct {
	Dir string `json:"dir" yaml:"dir"` // snapshots live in <dir>/<interval>/
}

// ExchangeConfig configures the market data provider.
type ExchangeConfig struct {
	Type       string `json:"type" yaml:"type"`               // "coinbase"
	BaseURL    string `json:"base_url" yaml:"base_url"`       // REST endpoint root
	RateLimit  int    `json:"rate_limit" yaml:"rate_limit"`   // requests per second
	Timeout    string `json:"timeout" yaml:"timeout"`         // HTTP request timeout
	QuoteAsset string `json:"quote_asset" yaml:"quote_asset"` // optional quote filter, e.g. "USD"
}

// FetchConfig configures the snapshot refresh routine.
type FetchConfig struct {
	Interval      int    `json:"interval" yaml:"interval"`             // candle granularity in seconds
	EarliestStart string `json:"earliest_start" yaml:"earliest_start"` // first date requested for new pairs
	Workers       int    `json:"workers" yaml:"workers"`               // pairs fetched concurrently
}

// AnalysisConfig holds the default detector and simulator parameters.
type AnalysisConfig struct {
	PriceTolerance  float64 `json:"price_tolerance" yaml:"price_tolerance"`
	VolumeTolerance float64 `json:"volume_tolerance" yaml:"volume_tolerance"`
	Threshold       int     `json:"threshold" yaml:"threshold"`
	Investment      float64 `json:"investment" yaml:"investment"`
	Workers         int     `json:"workers" yaml:"workers"`
	Chart           bool    `json:"chart" yaml:"chart"`
}

// PlotConfig holds the overlay chart defaults.
type PlotConfig struct {
	StartDate                   string `json:"start_date" yaml:"start_date"` // DateLayout
	OutputDir                   string `json:"output_dir" yaml:"output_dir"`
	HighlightPair               string `json:"highlight_pair" yaml:"highlight_pair"`
	StartFromZero               bool   `json:"start_from_zero" yaml:"start_from_zero"`
	NormalizeByPercentageGrowth bool   `json:"normalize_by_percentage_growth" yaml:"normalize_by_percentage_growth"`
}

// StorageConfig configures the optional candle mirror.
type StorageConfig struct {
	Type        string `json:"type" yaml:"type"`                 // "none", "memory", "duckdb"
	DatabaseURL string `json:"database_url" yaml:"database_url"` // DuckDB file path
}

// RecorderConfig configures persistence of analysis results.
type RecorderConfig struct {
	Type string `json:"type" yaml:"type"` // "none", "sqlite"
	Path string `json:"path" yaml:"path"`
}

// SchedulerConfig configures periodic snapshot refresh.
type SchedulerConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Spec       string `json:"spec" yaml:"spec"` // cron spec with seconds field
	RunOnStart bool   `json:"run_on_start" yaml:"run_on_start"`
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level         string            `json:"level" yaml:"level"`             // debug, info, warn, error
	Format        string            `json:"format" yaml:"format"`           // json, text
	Output        string            `json:"output" yaml:"output"`           // stdout, stderr, file
	FilePath      string            `json:"file_path" yaml:"file_path"`     // log file path
	MaxSize       int               `json:"max_size" yaml:"max_size"`       // MB
	MaxBackups    int               `json:"max_backups" yaml:"max_backups"` // rotated files kept
	MaxAge        int               `json:"max_age" yaml:"max_age"`         // days
	Compress      bool              `json:"compress" yaml:"compress"`
	ContextFields map[string]string `json:"context_fields" yaml:"context_fields"`
}

// ErrorHandlingConfig configures retry policies
type ErrorHandlingConfig struct {
	GlobalRetryPolicy RetryPolicyConfig            `json:"global_retry_policy" yaml:"global_retry_policy"`
	ComponentPolicies map[string]RetryPolicyConfig `json:"component_policies" yaml:"component_policies"`
}

// RetryPolicyConfig configures retry behavior
type RetryPolicyConfig struct {
	MaxAttempts     int      `json:"max_attempts" yaml:"max_attempts"`
	InitialDelay    string   `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay        string   `json:"max_delay" yaml:"max_delay"`
	BackoffStrategy string   `json:"backoff_strategy" yaml:"backoff_strategy"` // fixed, exponential, linear
	RetryableErrors []string `json:"retryable_errors" yaml:"retryable_errors"`
	Jitter          bool     `json:"jitter" yaml:"jitter"`
}

// ConfigManager handles configuration loading and validation
type ConfigManager struct {
	config     *AppConfig
	configPath string
	envFile    string
	logger     *slog.Logger
}

// NewConfigManager creates a new configuration manager. An empty configPath
// means defaults plus environment only.
func NewConfigManager(configPath string, logger *slog.Logger) *ConfigManager {
	if logger == nil {
		logger = slog.Default()
	}

	return &ConfigManager{
		configPath: configPath,
		envFile:    ".env",
		logger:     logger,
	}
}

// WithEnvFile overrides the dotenv file consulted by LoadConfig.
func (cm *ConfigManager) WithEnvFile(path string) *ConfigManager {
	cm.envFile = path
	return cm
}

// LoadConfig loads configuration with priority order:
// 1. Environment variables (highest priority, .env included)
// 2. Configuration file
// 3. Default values (lowest priority)
func (cm *ConfigManager) LoadConfig(ctx context.Context) (*AppConfig, error) {
	config := DefaultConfig()
	config.ConfigPath = cm.configPath

	if cm.configPath != "" {
		if err := cm.loadFromFile(config); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := cm.loadEnvFile(); err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	if err := cm.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cm.config = config
	cm.logger.Debug("configuration loaded",
		"config_path", cm.configPath,
		"data_dir", config.Data.Dir,
		"storage_type", config.Storage.Type,
		"log_level", config.Logging.Level)

	return config, nil
}

// loadFromFile loads configuration from a JSON or YAML file
func (cm *ConfigManager) loadFromFile(config *AppConfig) error {
	if _, err := os.Stat(cm.configPath); os.IsNotExist(err) {
		cm.logger.Debug("config file does not exist, using defaults", "path", cm.configPath)
		return nil
	}

	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cm.configPath, err)
	}

	switch strings.ToLower(filepath.Ext(cm.configPath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	default:
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", cm.configPath, err)
	}

	cm.logger.Debug("loaded configuration from file", "path", cm.configPath)
	return nil
}

// loadEnvFile populates the process environment from a dotenv file without
// overriding variables that are already set.
func (cm *ConfigManager) loadEnvFile() error {
	if cm.envFile == "" {
		return nil
	}
	if _, err := os.Stat(cm.envFile); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(cm.envFile)
}

func env(name string) string {
	return os.Getenv(EnvPrefix + name)
}

// loadFromEnv loads configuration from STREAKS_* environment variables
func (cm *ConfigManager) loadFromEnv(config *AppConfig) error {
	var errs []string

	setInt := func(name string, dst *int) {
		if val := env(name); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	setFloat := func(name string, dst *float64) {
		if val := env(name); val != "" {
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
				return
			}
			*dst = f
		}
	}
	setString := func(name string, dst *string) {
		if val := env(name); val != "" {
			*dst = val
		}
	}
	setBool := func(name string, dst *bool) {
		if val := env(name); val != "" {
			*dst = val == "true" || val == "1"
		}
	}

	setString("DATA_DIR", &config.Data.Dir)

	setString("EXCHANGE_BASE_URL", &config.Exchange.BaseURL)
	setInt("RATE_LIMIT", &config.Exchange.RateLimit)
	setString("HTTP_TIMEOUT", &config.Exchange.Timeout)
	setString("QUOTE_ASSET", &config.Exchange.QuoteAsset)

	setInt("INTERVAL", &config.Fetch.Interval)
	setString("EARLIEST_START", &config.Fetch.EarliestStart)
	setInt("FETCH_WORKERS", &config.Fetch.Workers)

	setFloat("PRICE_TOLERANCE", &config.Analysis.PriceTolerance)
	setFloat("VOLUME_TOLERANCE", &config.Analysis.VolumeTolerance)
	setInt("THRESHOLD", &config.Analysis.Threshold)
	setFloat("INVESTMENT", &config.Analysis.Investment)

	setString("PLOT_START_DATE", &config.Plot.StartDate)
	setString("OUTPUT_DIR", &config.Plot.OutputDir)

	setString("STORAGE_TYPE", &config.Storage.Type)
	setString("DATABASE_URL", &config.Storage.DatabaseURL)
	setString("RECORDER_TYPE", &config.Recorder.Type)
	setString("RECORDER_PATH", &config.Recorder.Path)

	setBool("SCHEDULER_ENABLED", &config.Scheduler.Enabled)
	setString("SCHEDULE", &config.Scheduler.Spec)

	setString("LOG_LEVEL", &config.Logging.Level)
	setString("LOG_FORMAT", &config.Logging.Format)
	setString("LOG_OUTPUT", &config.Logging.Output)
	setString("LOG_FILE_PATH", &config.Logging.FilePath)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment values: %s", strings.Join(errs, "; "))
	}

	cm.logger.Debug("loaded configuration from environment variables")
	return nil
}

// Validate checks the configuration for consistency and reports every
// problem found.
func (c *AppConfig) Validate() error {
	var errors []string

	if c.Data.Dir == "" {
		errors = append(errors, "data.dir is required")
	}

	if c.Exchange.Type != "coinbase" {
		errors = append(errors, "exchange.type must be: coinbase")
	}
	if c.Exchange.RateLimit <= 0 {
		errors = append(errors, "exchange.rate_limit must be greater than 0")
	}
	if _, err := time.ParseDuration(c.Exchange.Timeout); err != nil {
		errors = append(errors, fmt.Sprintf("exchange.timeout is not a valid duration: %v", err))
	}

	if c.Fetch.Interval <= 0 {
		errors = append(errors, "fetch.interval must be greater than 0")
	}
	if _, err := time.Parse("2006-01-02", c.Fetch.EarliestStart); err != nil {
		errors = append(errors, "fetch.earliest_start must be a YYYY-MM-DD date")
	}
	if c.Fetch.Workers <= 0 {
		errors = append(errors, "fetch.workers must be greater than 0")
	}

	if c.Analysis.Threshold < 1 {
		errors = append(errors, "analysis.threshold must be at least 1")
	}
	if c.Analysis.PriceTolerance < 0 || c.Analysis.VolumeTolerance < 0 {
		errors = append(errors, "analysis tolerances must not be negative")
	}
	if c.Analysis.Investment <= 0 {
		errors = append(errors, "analysis.investment must be greater than 0")
	}
	if c.Analysis.Workers <= 0 {
		errors = append(errors, "analysis.workers must be greater than 0")
	}

	if _, err := time.Parse(DateLayout, c.Plot.StartDate); err != nil {
		errors = append(errors, "plot.start_date must use the YYYY-MM-DD-HH-MM layout")
	}

	validStorage := map[string]bool{"none": true, "memory": true, "duckdb": true}
	if !validStorage[c.Storage.Type] {
		errors = append(errors, "storage.type must be one of: none, memory, duckdb")
	}
	if c.Storage.Type == "duckdb" && c.Storage.DatabaseURL == "" {
		errors = append(errors, "storage.database_url is required for DuckDB storage")
	}

	validRecorder := map[string]bool{"none": true, "sqlite": true}
	if !validRecorder[c.Recorder.Type] {
		errors = append(errors, "recorder.type must be one of: none, sqlite")
	}
	if c.Recorder.Type == "sqlite" && c.Recorder.Path == "" {
		errors = append(errors, "recorder.path is required for the sqlite recorder")
	}

	if c.Scheduler.Enabled || c.Scheduler.Spec != "" {
		parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := parser.Parse(c.Scheduler.Spec); err != nil {
			errors = append(errors, fmt.Sprintf("scheduler.spec is not a valid cron expression: %v", err))
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		errors = append(errors, "logging.level must be one of: debug, info, warn, error")
	}
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		errors = append(errors, "logging.format must be one of: json, text")
	}
	if c.Logging.Output == "file" && c.Logging.FilePath == "" {
		errors = append(errors, "logging.file_path is required when output is file")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// GetConfig returns the most recently loaded configuration
func (cm *ConfigManager) GetConfig() *AppConfig {
	return cm.config
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		AppName: "streaks",
		Version: "1.0.0",
		Data: DataConfig{
			Dir: "./data",
		},
		Exchange: ExchangeConfig{
			Type:      "coinbase",
			BaseURL:   "https://api.exchange.coinbase.com",
			RateLimit: 10,
			Timeout:   "30s",
		},
		Fetch: FetchConfig{
			Interval:      86400,
			EarliestStart: "2008-11-16",
			Workers:       4,
		},
		Analysis: AnalysisConfig{
			PriceTolerance:  0.01,
			VolumeTolerance: 0.01,
			Threshold:       3,
			Investment:      100,
			Workers:         4,
			Chart:           true,
		},
		Plot: PlotConfig{
			StartDate:                   "2024-01-01-00-00",
			OutputDir:                   "./charts",
			HighlightPair:               "BTC-USD",
			StartFromZero:               true,
			NormalizeByPercentageGrowth: true,
		},
		Storage: StorageConfig{
			Type:        "none",
			DatabaseURL: "./data/candles.duckdb",
		},
		Recorder: RecorderConfig{
			Type: "none",
			Path: "./data/analysis.sqlite",
		},
		Scheduler: SchedulerConfig{
			Enabled: false,
			Spec:    "0 30 0 * * *",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
			ContextFields: map[string]string{
				"service": "streaks",
			},
		},
		ErrorHandling: ErrorHandlingConfig{
			GlobalRetryPolicy: RetryPolicyConfig{
				MaxAttempts:     3,
				InitialDelay:    "1s",
				MaxDelay:        "30s",
				BackoffStrategy: "exponential",
				RetryableErrors: []string{"timeout", "rate_limit", "server_error"},
				Jitter:          true,
			},
			ComponentPolicies: make(map[string]RetryPolicyConfig),
		},
	}
}

// DefaultEndDate returns midnight UTC of the day before now. It is computed
// per call so long-running processes never use a stale day.
func DefaultEndDate(now time.Time) time.Time {
	y, m, d := now.UTC().AddDate(0, 0, -1).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a plot bound in DateLayout, also accepting a bare date.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range []string{DateLayout, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q, use YYYY-MM-DD-HH-MM", s)
}

// String returns a JSON representation of the configuration
func (c *AppConfig) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
