// Package config loads playerpulse configuration.
//
// # Sources
//
// Settings start from Default, are overlaid by the YAML file named in
// PLAYERPULSE_CONFIG_FILE (if set), and finally by environment variables:
//
//	PLAYERPULSE_PORT="8080"
//	PLAYERPULSE_HEALTH_PORT="9090"
//
//	PLAYERPULSE_STORAGE_TYPE="postgres"  # memory, sqlite, postgres
//	PLAYERPULSE_POSTGRES_URL="postgres://localhost/playerpulse?sslmode=disable"
//	PLAYERPULSE_REDIS_URL="redis://localhost:6379/0"
//	PLAYERPULSE_S3_BUCKET="playerpulse-archive"
//
//	PLAYERPULSE_ROLLUP_WINDOW_DAYS="90"
//	PLAYERPULSE_ROLLUP_INTERVAL_SECONDS="300"
//	PLAYERPULSE_COHORT_MIN_SIZE="5"
//	PLAYERPULSE_HIGH_ENGAGEMENT_SECONDS="300"
//	PLAYERPULSE_RETENTION_HORIZON_DAYS="90"
//
//	PLAYERPULSE_LOG_LEVEL="info"  # debug, info, warn, error
//	PLAYERPULSE_OTEL_ENABLED="true"
//
// The YAML file uses the camelCase setting names:
//
//	storageType: sqlite
//	sqlitePath: /var/lib/playerpulse/events.db
//	rollupWindowDays: 30
//	retentionHorizonDays: 60
//
// Unknown keys in the file are rejected.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
