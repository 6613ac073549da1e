package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/playerpulse/pkg/observability"
	"github.com/platinummonkey/playerpulse/pkg/storage"
)

// EnvConfigFile names an optional YAML file applied before the environment
const EnvConfigFile = "PLAYERPULSE_CONFIG_FILE"

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Analytics pipeline configuration
	Analytics AnalyticsConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// AnalyticsConfig holds the consumer, rollup and retention settings
type AnalyticsConfig struct {
	RollupWindowDays        int
	RollupInterval          time.Duration
	CohortMinSize           int
	HighEngagementThreshold time.Duration

	ConsumerWorkers      int
	ConsumerBatchSize    int
	ConsumerPollInterval time.Duration
	ConsumerGapTimeout   time.Duration

	RetentionHorizonDays int
	RetentionSchedule    string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Storage: storage.DefaultConfig(),
		Analytics: AnalyticsConfig{
			RollupWindowDays:        90,
			RollupInterval:          300 * time.Second,
			CohortMinSize:           5,
			HighEngagementThreshold: 300 * time.Second,
			ConsumerWorkers:         8,
			ConsumerBatchSize:       500,
			ConsumerPollInterval:    time.Second,
			ConsumerGapTimeout:      10 * time.Second,
			RetentionHorizonDays:    90,
			RetentionSchedule:       "30 3 * * *",
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.InfoLevel,
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "playerpulse",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// PLAYERPULSE_CONFIG_FILE if set, then environment variables, and validates it.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(EnvConfigFile); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := cfg.applyYAML(data); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides settings with any environment variables that are set
func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("PLAYERPULSE_HOST", s.Host)
	s.Port = getEnv("PLAYERPULSE_PORT", s.Port)
	s.HealthPort = getEnv("PLAYERPULSE_HEALTH_PORT", s.HealthPort)
	s.ReadTimeout = getEnvDuration("PLAYERPULSE_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("PLAYERPULSE_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("PLAYERPULSE_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("PLAYERPULSE_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)

	st := &c.Storage
	st.Type = getEnv("PLAYERPULSE_STORAGE_TYPE", st.Type)
	st.SQLitePath = getEnv("PLAYERPULSE_SQLITE_PATH", st.SQLitePath)
	st.PostgresURL = getEnv("PLAYERPULSE_POSTGRES_URL", st.PostgresURL)
	st.PostgresMaxConns = getEnvInt("PLAYERPULSE_POSTGRES_MAX_CONNS", st.PostgresMaxConns)
	st.PostgresMinConns = getEnvInt("PLAYERPULSE_POSTGRES_MIN_CONNS", st.PostgresMinConns)
	st.PostgresTimeout = getEnvDuration("PLAYERPULSE_POSTGRES_TIMEOUT", st.PostgresTimeout)
	st.RedisURL = getEnv("PLAYERPULSE_REDIS_URL", st.RedisURL)
	st.RedisPassword = getEnv("PLAYERPULSE_REDIS_PASSWORD", st.RedisPassword)
	st.RedisDB = getEnvInt("PLAYERPULSE_REDIS_DB", st.RedisDB)
	st.RedisMaxRetries = getEnvInt("PLAYERPULSE_REDIS_MAX_RETRIES", st.RedisMaxRetries)
	st.RedisPoolSize = getEnvInt("PLAYERPULSE_REDIS_POOL_SIZE", st.RedisPoolSize)
	st.S3Endpoint = getEnv("PLAYERPULSE_S3_ENDPOINT", st.S3Endpoint)
	st.S3Region = getEnv("PLAYERPULSE_S3_REGION", st.S3Region)
	st.S3Bucket = getEnv("PLAYERPULSE_S3_BUCKET", st.S3Bucket)
	st.S3AccessKey = getEnv("PLAYERPULSE_S3_ACCESS_KEY", st.S3AccessKey)
	st.S3SecretKey = getEnv("PLAYERPULSE_S3_SECRET_KEY", st.S3SecretKey)
	st.S3UsePathStyle = getEnvBool("PLAYERPULSE_S3_USE_PATH_STYLE", st.S3UsePathStyle)
	st.BreakerFailureThreshold = uint32(getEnvInt("PLAYERPULSE_BREAKER_THRESHOLD", int(st.BreakerFailureThreshold)))
	st.BreakerOpenTimeout = getEnvDuration("PLAYERPULSE_BREAKER_OPEN_TIMEOUT", st.BreakerOpenTimeout)

	a := &c.Analytics
	a.RollupWindowDays = getEnvInt("PLAYERPULSE_ROLLUP_WINDOW_DAYS", a.RollupWindowDays)
	a.RollupInterval = getEnvSeconds("PLAYERPULSE_ROLLUP_INTERVAL_SECONDS", a.RollupInterval)
	a.CohortMinSize = getEnvInt("PLAYERPULSE_COHORT_MIN_SIZE", a.CohortMinSize)
	a.HighEngagementThreshold = getEnvSeconds("PLAYERPULSE_HIGH_ENGAGEMENT_SECONDS", a.HighEngagementThreshold)
	a.ConsumerWorkers = getEnvInt("PLAYERPULSE_CONSUMER_WORKERS", a.ConsumerWorkers)
	a.ConsumerBatchSize = getEnvInt("PLAYERPULSE_CONSUMER_BATCH_SIZE", a.ConsumerBatchSize)
	a.ConsumerPollInterval = getEnvDuration("PLAYERPULSE_CONSUMER_POLL_INTERVAL", a.ConsumerPollInterval)
	a.ConsumerGapTimeout = getEnvDuration("PLAYERPULSE_CONSUMER_GAP_TIMEOUT", a.ConsumerGapTimeout)
	a.RetentionHorizonDays = getEnvInt("PLAYERPULSE_RETENTION_HORIZON_DAYS", a.RetentionHorizonDays)
	a.RetentionSchedule = getEnv("PLAYERPULSE_RETENTION_SCHEDULE", a.RetentionSchedule)

	o := &c.Observability
	if level := getEnv("PLAYERPULSE_LOG_LEVEL", ""); level != "" {
		o.LogLevel = observability.ParseLogLevel(level)
	}
	o.MetricsEnabled = getEnvBool("PLAYERPULSE_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("PLAYERPULSE_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("PLAYERPULSE_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("PLAYERPULSE_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("PLAYERPULSE_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("PLAYERPULSE_OTEL_INSECURE", o.OTelInsecure)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}
	if c.Server.HealthPort == "" {
		return errors.New("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return errors.New("server port and health port must be different")
	}

	// Validate storage config based on type
	switch c.Storage.Type {
	case storage.BackendMemory:
	case storage.BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("sqlite path is required for sqlite storage")
		}
	case storage.BackendPostgres:
		if c.Storage.PostgresURL == "" {
			return errors.New("postgres URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory, sqlite, or postgres)", c.Storage.Type)
	}
	if c.Storage.S3Bucket != "" && c.Storage.S3Region == "" {
		return errors.New("S3 region is required when an archive bucket is set")
	}

	// Validate analytics config
	a := c.Analytics
	switch {
	case a.RollupWindowDays <= 0:
		return fmt.Errorf("rollup window must be positive, got %d days", a.RollupWindowDays)
	case a.RollupInterval < time.Second:
		return fmt.Errorf("rollup interval must be at least 1s, got %s", a.RollupInterval)
	case a.CohortMinSize <= 0:
		return fmt.Errorf("cohort minimum size must be positive, got %d", a.CohortMinSize)
	case a.HighEngagementThreshold < 0:
		return errors.New("high engagement threshold cannot be negative")
	case a.ConsumerWorkers <= 0:
		return fmt.Errorf("consumer workers must be positive, got %d", a.ConsumerWorkers)
	case a.ConsumerBatchSize <= 0:
		return fmt.Errorf("consumer batch size must be positive, got %d", a.ConsumerBatchSize)
	case a.ConsumerPollInterval <= 0:
		return errors.New("consumer poll interval must be positive")
	case a.ConsumerGapTimeout <= 0:
		return errors.New("consumer gap timeout must be positive")
	case a.RetentionHorizonDays < a.RollupWindowDays:
		return fmt.Errorf("retention horizon (%d days) must be at least the rollup window (%d days)",
			a.RetentionHorizonDays, a.RollupWindowDays)
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return errors.New("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return errors.New("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// fileConfig mirrors the settings accepted in the YAML file. Absent keys keep their
// current value.
type fileConfig struct {
	Host       *string `yaml:"host"`
	Port       *string `yaml:"port"`
	HealthPort *string `yaml:"healthPort"`

	StorageType *string `yaml:"storageType"`
	SQLitePath  *string `yaml:"sqlitePath"`
	PostgresURL *string `yaml:"postgresURL"`
	RedisURL    *string `yaml:"redisURL"`
	S3Endpoint  *string `yaml:"s3Endpoint"`
	S3Region    *string `yaml:"s3Region"`
	S3Bucket    *string `yaml:"s3Bucket"`
	S3PathStyle *bool   `yaml:"s3UsePathStyle"`

	RollupWindowDays               *int `yaml:"rollupWindowDays"`
	RollupIntervalSeconds          *int `yaml:"rollupIntervalSeconds"`
	CohortMinSize                  *int `yaml:"cohortMinSize"`
	HighEngagementThresholdSeconds *int `yaml:"highEngagementThresholdSeconds"`
	ConsumerWorkers                *int `yaml:"consumerWorkers"`
	ConsumerBatchSize              *int `yaml:"consumerBatchSize"`
	RetentionHorizonDays           *int `yaml:"retentionHorizonDays"`

	RetentionSchedule    *string `yaml:"retentionSchedule"`
	ConsumerPollInterval *string `yaml:"consumerPollInterval"`
	ConsumerGapTimeout   *string `yaml:"consumerGapTimeout"`

	LogLevel     *string `yaml:"logLevel"`
	OTelEnabled  *bool   `yaml:"otelEnabled"`
	OTelEndpoint *string `yaml:"otelEndpoint"`
}

func (c *Config) applyYAML(data []byte) error {
	var f fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	set(&c.Server.Host, f.Host)
	set(&c.Server.Port, f.Port)
	set(&c.Server.HealthPort, f.HealthPort)

	set(&c.Storage.Type, f.StorageType)
	set(&c.Storage.SQLitePath, f.SQLitePath)
	set(&c.Storage.PostgresURL, f.PostgresURL)
	set(&c.Storage.RedisURL, f.RedisURL)
	set(&c.Storage.S3Endpoint, f.S3Endpoint)
	set(&c.Storage.S3Region, f.S3Region)
	set(&c.Storage.S3Bucket, f.S3Bucket)
	set(&c.Storage.S3UsePathStyle, f.S3PathStyle)

	a := &c.Analytics
	set(&a.RollupWindowDays, f.RollupWindowDays)
	setSeconds(&a.RollupInterval, f.RollupIntervalSeconds)
	set(&a.CohortMinSize, f.CohortMinSize)
	setSeconds(&a.HighEngagementThreshold, f.HighEngagementThresholdSeconds)
	set(&a.ConsumerWorkers, f.ConsumerWorkers)
	set(&a.ConsumerBatchSize, f.ConsumerBatchSize)
	set(&a.RetentionHorizonDays, f.RetentionHorizonDays)
	set(&a.RetentionSchedule, f.RetentionSchedule)
	if f.ConsumerPollInterval != nil {
		d, err := time.ParseDuration(*f.ConsumerPollInterval)
		if err != nil {
			return fmt.Errorf("consumerPollInterval: %w", err)
		}
		a.ConsumerPollInterval = d
	}
	if f.ConsumerGapTimeout != nil {
		d, err := time.ParseDuration(*f.ConsumerGapTimeout)
		if err != nil {
			return fmt.Errorf("consumerGapTimeout: %w", err)
		}
		a.ConsumerGapTimeout = d
	}

	if f.LogLevel != nil {
		c.Observability.LogLevel = observability.ParseLogLevel(*f.LogLevel)
	}
	set(&c.Observability.OTelEnabled, f.OTelEnabled)
	set(&c.Observability.OTelEndpoint, f.OTelEndpoint)
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setSeconds(dst *time.Duration, secs *int) {
	if secs != nil {
		*dst = time.Duration(*secs) * time.Second
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvSeconds reads a whole number of seconds
func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
