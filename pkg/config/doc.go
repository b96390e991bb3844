// Package config loads application configuration from an optional YAML file
// and COURSEHUB_* environment variables.
//
// Values are layered: built-in defaults, then the file named by
// COURSEHUB_CONFIG_FILE, then environment overrides. The result is validated
// before it is returned.
//
// # Environment
//
// Server:
//
//	COURSEHUB_HOST="0.0.0.0"
//	COURSEHUB_PORT="8080"
//	COURSEHUB_HEALTH_PORT="9090"
//	COURSEHUB_MAX_UPLOAD_BYTES="52428800"
//
// Storage:
//
//	COURSEHUB_DATABASE_MODE="postgres"  # memory, postgres
//	COURSEHUB_POSTGRES_URL="postgres://localhost/coursehub"
//	COURSEHUB_POSTGRES_REPLICA_URLS="postgres://replica1/coursehub,postgres://replica2/coursehub"
//	COURSEHUB_BLOB_BACKEND="s3"  # filesystem, s3
//	COURSEHUB_S3_BUCKET="coursehub-attachments"
//	COURSEHUB_REDIS_URL="redis://localhost:6379"
//
// Auth and access:
//
//	COURSEHUB_JWT_SECRET="..."  # required
//	COURSEHUB_TOKEN_TTL="24h"
//	COURSEHUB_ACCESS_LOCK_TIMEOUT="5s"
//	COURSEHUB_RECONCILE_SCHEDULE="@every 15m"
//
// Observability:
//
//	COURSEHUB_LOG_LEVEL="info"  # debug, info, warn, error
//	COURSEHUB_OTEL_ENABLED="true"
//	COURSEHUB_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	go config.Watch(ctx, os.Getenv(config.ConfigFileEnv), logger, func(c *config.Config) {
//		logger.SetLevel(c.Observability.LogLevel)
//	})
package config
