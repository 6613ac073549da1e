package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/playerpulse/pkg/observability"
	"github.com/platinummonkey/playerpulse/pkg/storage"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "playerpulse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, storage.BackendMemory, cfg.Storage.Type)
	assert.Equal(t, 90, cfg.Analytics.RollupWindowDays)
	assert.Equal(t, 300*time.Second, cfg.Analytics.RollupInterval)
	assert.Equal(t, 5, cfg.Analytics.CohortMinSize)
	assert.Equal(t, 300*time.Second, cfg.Analytics.HighEngagementThreshold)
	assert.Equal(t, 90, cfg.Analytics.RetentionHorizonDays)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("PLAYERPULSE_ROLLUP_WINDOW_DAYS", "30")
	t.Setenv("PLAYERPULSE_ROLLUP_INTERVAL_SECONDS", "60")
	t.Setenv("PLAYERPULSE_COHORT_MIN_SIZE", "10")
	t.Setenv("PLAYERPULSE_HIGH_ENGAGEMENT_SECONDS", "120")
	t.Setenv("PLAYERPULSE_STORAGE_TYPE", "sqlite")
	t.Setenv("PLAYERPULSE_SQLITE_PATH", "/tmp/pp.db")
	t.Setenv("PLAYERPULSE_REDIS_URL", "redis://cache:6379/1")
	t.Setenv("PLAYERPULSE_LOG_LEVEL", "debug")
	t.Setenv("PLAYERPULSE_CONSUMER_POLL_INTERVAL", "250ms")
	t.Setenv("PLAYERPULSE_CONSUMER_GAP_TIMEOUT", "45s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Analytics.RollupWindowDays)
	assert.Equal(t, time.Minute, cfg.Analytics.RollupInterval)
	assert.Equal(t, 10, cfg.Analytics.CohortMinSize)
	assert.Equal(t, 2*time.Minute, cfg.Analytics.HighEngagementThreshold)
	assert.Equal(t, 250*time.Millisecond, cfg.Analytics.ConsumerPollInterval)
	assert.Equal(t, 45*time.Second, cfg.Analytics.ConsumerGapTimeout)
	assert.Equal(t, storage.BackendSQLite, cfg.Storage.Type)
	assert.Equal(t, "/tmp/pp.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "redis://cache:6379/1", cfg.Storage.RedisURL)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	path := writeFile(t, `
storageType: postgres
postgresURL: postgres://db/playerpulse
rollupWindowDays: 45
rollupIntervalSeconds: 120
retentionHorizonDays: 60
consumerPollInterval: 2s
logLevel: warn
`)
	t.Setenv(EnvConfigFile, path)
	t.Setenv("PLAYERPULSE_ROLLUP_WINDOW_DAYS", "50")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, storage.BackendPostgres, cfg.Storage.Type)
	assert.Equal(t, "postgres://db/playerpulse", cfg.Storage.PostgresURL)
	assert.Equal(t, 50, cfg.Analytics.RollupWindowDays, "environment overrides the file")
	assert.Equal(t, 2*time.Minute, cfg.Analytics.RollupInterval)
	assert.Equal(t, 60, cfg.Analytics.RetentionHorizonDays)
	assert.Equal(t, 2*time.Second, cfg.Analytics.ConsumerPollInterval)
	assert.Equal(t, observability.WarnLevel, cfg.Observability.LogLevel)
	assert.Equal(t, 5, cfg.Analytics.CohortMinSize, "absent keys keep their defaults")
}

func TestLoad_FileErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown key", "rollupWindowDayz: 3\n"},
		{"wrong type", "rollupWindowDays: many\n"},
		{"bad duration", "consumerPollInterval: soon\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvConfigFile, writeFile(t, tt.content))
			_, err := Load()
			assert.Error(t, err)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		t.Setenv(EnvConfigFile, filepath.Join(t.TempDir(), "nope.yaml"))
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("empty file", func(t *testing.T) {
		t.Setenv(EnvConfigFile, writeFile(t, ""))
		_, err := Load()
		assert.NoError(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"missing port", func(c *Config) { c.Server.Port = "" }, "server port is required"},
		{"same ports", func(c *Config) { c.Server.HealthPort = c.Server.Port }, "must be different"},
		{"unknown storage", func(c *Config) { c.Storage.Type = "cassandra" }, "invalid storage type"},
		{"postgres without url", func(c *Config) { c.Storage.Type = storage.BackendPostgres }, "postgres URL is required"},
		{"sqlite without path", func(c *Config) {
			c.Storage.Type = storage.BackendSQLite
			c.Storage.SQLitePath = ""
		}, "sqlite path is required"},
		{"bucket without region", func(c *Config) {
			c.Storage.S3Bucket = "archive"
			c.Storage.S3Region = ""
		}, "S3 region is required"},
		{"zero window", func(c *Config) { c.Analytics.RollupWindowDays = 0 }, "rollup window"},
		{"fast interval", func(c *Config) { c.Analytics.RollupInterval = time.Millisecond }, "rollup interval"},
		{"zero cohort size", func(c *Config) { c.Analytics.CohortMinSize = 0 }, "cohort minimum size"},
		{"negative threshold", func(c *Config) { c.Analytics.HighEngagementThreshold = -time.Second }, "high engagement"},
		{"no workers", func(c *Config) { c.Analytics.ConsumerWorkers = 0 }, "consumer workers"},
		{"no batch", func(c *Config) { c.Analytics.ConsumerBatchSize = 0 }, "batch size"},
		{"no gap timeout", func(c *Config) { c.Analytics.ConsumerGapTimeout = 0 }, "gap timeout"},
		{"horizon shorter than window", func(c *Config) { c.Analytics.RetentionHorizonDays = 30 }, "retention horizon"},
		{"otel without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelEndpoint = ""
		}, "OpenTelemetry endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("PP_TEST_STRING", "custom")
	t.Setenv("PP_TEST_BOOL", "1")
	t.Setenv("PP_TEST_INT", "42")
	t.Setenv("PP_TEST_BAD_INT", "forty-two")
	t.Setenv("PP_TEST_DURATION", "90s")
	t.Setenv("PP_TEST_SECONDS", "15")

	assert.Equal(t, "custom", getEnv("PP_TEST_STRING", "default"))
	assert.Equal(t, "default", getEnv("PP_TEST_UNSET", "default"))
	assert.True(t, getEnvBool("PP_TEST_BOOL", false))
	assert.False(t, getEnvBool("PP_TEST_UNSET", false))
	assert.Equal(t, 42, getEnvInt("PP_TEST_INT", 0))
	assert.Equal(t, 7, getEnvInt("PP_TEST_BAD_INT", 7))
	assert.Equal(t, 90*time.Second, getEnvDuration("PP_TEST_DURATION", 0))
	assert.Equal(t, 15*time.Second, getEnvSeconds("PP_TEST_SECONDS", 0))
	assert.Equal(t, time.Minute, getEnvSeconds("PP_TEST_UNSET", time.Minute))
}
