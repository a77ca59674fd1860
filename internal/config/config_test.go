package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"log/slog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "streaks", config.AppName)
	assert.Equal(t, "./data", config.Data.Dir)
	assert.Equal(t, "coinbase", config.Exchange.Type)
	assert.Equal(t, 10, config.Exchange.RateLimit)
	assert.Equal(t, 86400, config.Fetch.Interval)
	assert.Equal(t, "2008-11-16", config.Fetch.EarliestStart)
	assert.Equal(t, 0.01, config.Analysis.PriceTolerance)
	assert.Equal(t, 0.01, config.Analysis.VolumeTolerance)
	assert.Equal(t, 3, config.Analysis.Threshold)
	assert.Equal(t, 100.0, config.Analysis.Investment)
	assert.Equal(t, "2024-01-01-00-00", config.Plot.StartDate)
	assert.True(t, config.Plot.StartFromZero)
	assert.True(t, config.Plot.NormalizeByPercentageGrowth)
	assert.Equal(t, "none", config.Storage.Type)
	assert.Equal(t, "0 30 0 * * *", config.Scheduler.Spec)
	assert.Equal(t, "info", config.Logging.Level)

	assert.NoError(t, config.Validate())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *AppConfig)
		message string
	}{
		{"missing data dir", func(c *AppConfig) { c.Data.Dir = "" }, "data.dir is required"},
		{"unknown exchange", func(c *AppConfig) { c.Exchange.Type = "binance" }, "exchange.type must be"},
		{"zero rate limit", func(c *AppConfig) { c.Exchange.RateLimit = 0 }, "exchange.rate_limit must be greater than 0"},
		{"bad timeout", func(c *AppConfig) { c.Exchange.Timeout = "soon" }, "exchange.timeout is not a valid duration"},
		{"zero interval", func(c *AppConfig) { c.Fetch.Interval = 0 }, "fetch.interval must be greater than 0"},
		{"bad earliest start", func(c *AppConfig) { c.Fetch.EarliestStart = "2008/11/16" }, "fetch.earliest_start"},
		{"zero threshold", func(c *AppConfig) { c.Analysis.Threshold = 0 }, "analysis.threshold must be at least 1"},
		{"negative tolerance", func(c *AppConfig) { c.Analysis.PriceTolerance = -0.1 }, "tolerances must not be negative"},
		{"zero investment", func(c *AppConfig) { c.Analysis.Investment = 0 }, "analysis.investment must be greater than 0"},
		{"bad plot start", func(c *AppConfig) { c.Plot.StartDate = "2024-01-01" }, "plot.start_date"},
		{"unknown storage", func(c *AppConfig) { c.Storage.Type = "postgres" }, "storage.type must be one of"},
		{"duckdb without path", func(c *AppConfig) {
			c.Storage.Type = "duckdb"
			c.Storage.DatabaseURL = ""
		}, "storage.database_url is required"},
		{"unknown recorder", func(c *AppConfig) { c.Recorder.Type = "redis" }, "recorder.type must be one of"},
		{"bad schedule", func(c *AppConfig) {
			c.Scheduler.Enabled = true
			c.Scheduler.Spec = "every day"
		}, "scheduler.spec is not a valid cron expression"},
		{"bad log level", func(c *AppConfig) { c.Logging.Level = "trace" }, "logging.level must be one of"},
		{"bad log format", func(c *AppConfig) { c.Logging.Format = "xml" }, "logging.format must be one of"},
		{"file output without path", func(c *AppConfig) { c.Logging.Output = "file" }, "logging.file_path is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "configuration validation errors")
			assert.Contains(t, err.Error(), tt.message)
		})
	}

	t.Run("collects every problem", func(t *testing.T) {
		config := DefaultConfig()
		config.Analysis.Threshold = 0
		config.Logging.Level = "loud"
		err := config.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "analysis.threshold")
		assert.Contains(t, err.Error(), "logging.level")
	})
}

func TestLoadConfigFromFile(t *testing.T) {
	tempDir := t.TempDir()
	logger := slog.Default()

	t.Run("loads json", func(t *testing.T) {
		configPath := filepath.Join(tempDir, "config.json")
		testConfig := DefaultConfig()
		testConfig.Data.Dir = "/srv/streaks"
		testConfig.Analysis.Threshold = 5
		testConfig.Logging.Level = "debug"

		data, err := json.MarshalIndent(testConfig, "", "  ")
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(configPath, data, 0644))

		cm := NewConfigManager(configPath, logger).WithEnvFile("")
		loaded, err := cm.LoadConfig(context.Background())
		require.NoError(t, err)

		assert.Equal(t, "/srv/streaks", loaded.Data.Dir)
		assert.Equal(t, 5, loaded.Analysis.Threshold)
		assert.Equal(t, "debug", loaded.Logging.Level)
		assert.Same(t, loaded, cm.GetConfig())
	})

	t.Run("loads yaml over defaults", func(t *testing.T) {
		configPath := filepath.Join(tempDir, "config.yaml")
		yamlDoc := "data:\n  dir: /var/lib/streaks\nanalysis:\n  price_tolerance: 0.02\n  threshold: 4\n"
		require.NoError(t, os.WriteFile(configPath, []byte(yamlDoc), 0644))

		loaded, err := NewConfigManager(configPath, logger).WithEnvFile("").LoadConfig(context.Background())
		require.NoError(t, err)

		assert.Equal(t, "/var/lib/streaks", loaded.Data.Dir)
		assert.Equal(t, 0.02, loaded.Analysis.PriceTolerance)
		assert.Equal(t, 4, loaded.Analysis.Threshold)
		// untouched keys keep their defaults
		assert.Equal(t, 0.01, loaded.Analysis.VolumeTolerance)
		assert.Equal(t, "coinbase", loaded.Exchange.Type)
	})

	t.Run("handles invalid json file", func(t *testing.T) {
		invalidPath := filepath.Join(tempDir, "invalid.json")
		require.NoError(t, os.WriteFile(invalidPath, []byte("invalid json"), 0644))

		_, err := NewConfigManager(invalidPath, logger).WithEnvFile("").LoadConfig(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config file")
	})

	t.Run("handles non-existent file gracefully", func(t *testing.T) {
		missing := filepath.Join(tempDir, "does_not_exist.json")
		config, err := NewConfigManager(missing, logger).WithEnvFile("").LoadConfig(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "streaks", config.AppName)
	})

	t.Run("rejects invalid file contents", func(t *testing.T) {
		configPath := filepath.Join(tempDir, "bad.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("analysis:\n  threshold: 0\n"), 0644))

		_, err := NewConfigManager(configPath, logger).WithEnvFile("").LoadConfig(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "configuration validation failed")
	})
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	logger := slog.Default()

	t.Run("overrides file and defaults", func(t *testing.T) {
		t.Setenv("STREAKS_DATA_DIR", "/tmp/streaks")
		t.Setenv("STREAKS_THRESHOLD", "6")
		t.Setenv("STREAKS_PRICE_TOLERANCE", "0.05")
		t.Setenv("STREAKS_STORAGE_TYPE", "memory")
		t.Setenv("STREAKS_SCHEDULER_ENABLED", "true")
		t.Setenv("STREAKS_LOG_LEVEL", "warn")

		config, err := NewConfigManager("", logger).WithEnvFile("").LoadConfig(context.Background())
		require.NoError(t, err)

		assert.Equal(t, "/tmp/streaks", config.Data.Dir)
		assert.Equal(t, 6, config.Analysis.Threshold)
		assert.Equal(t, 0.05, config.Analysis.PriceTolerance)
		assert.Equal(t, "memory", config.Storage.Type)
		assert.True(t, config.Scheduler.Enabled)
		assert.Equal(t, "warn", config.Logging.Level)
	})

	t.Run("reports invalid numeric values", func(t *testing.T) {
		t.Setenv("STREAKS_THRESHOLD", "three")

		_, err := NewConfigManager("", logger).WithEnvFile("").LoadConfig(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "STREAKS_THRESHOLD")
	})

	t.Run("reads dotenv file", func(t *testing.T) {
		envPath := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(envPath, []byte("STREAKS_INVESTMENT=250\n"), 0644))
		t.Cleanup(func() { os.Unsetenv("STREAKS_INVESTMENT") })

		config, err := NewConfigManager("", logger).WithEnvFile(envPath).LoadConfig(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 250.0, config.Analysis.Investment)
	})
}

func TestDefaultEndDate(t *testing.T) {
	now := time.Date(2024, 3, 1, 15, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), DefaultEndDate(now))

	// the calendar day is taken in UTC
	est := time.FixedZone("EST", -5*3600)
	late := time.Date(2024, 3, 1, 22, 0, 0, 0, est)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), DefaultEndDate(late))
}

func TestParseDate(t *testing.T) {
	got, err := ParseDate("2024-01-01-12-30")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC), got)

	got, err = ParseDate("2024-01-02")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), got)

	_, err = ParseDate("01/02/2024")
	assert.Error(t, err)
}
