package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/coursehub/pkg/observability"
	"github.com/platinummonkey/coursehub/pkg/storage"
)

// ConfigFileEnv names the optional YAML file that supplies base values
const ConfigFileEnv = "COURSEHUB_CONFIG_FILE"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       storage.Config      `yaml:"storage"`
	Auth          AuthConfig          `yaml:"auth"`
	Access        AccessConfig        `yaml:"access"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Jobs          JobsConfig          `yaml:"jobs"`
	Audit         AuditConfig         `yaml:"audit"`
	Webhooks      WebhooksConfig      `yaml:"webhooks"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	CORSOrigins     []string      `yaml:"cors_origins"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// AuthConfig controls token issuance
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	Issuer    string        `yaml:"issuer"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// AccessConfig tunes the access engine
type AccessConfig struct {
	// LockTimeout bounds how long a mutation waits for its per-user, per-course lock
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

// CatalogConfig tunes the catalog assembler
type CatalogConfig struct {
	SellerCacheSize int           `yaml:"seller_cache_size"`
	SellerCacheTTL  time.Duration `yaml:"seller_cache_ttl"`
}

// RateLimitConfig guards the credential endpoints
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// JobsConfig holds scheduled job settings
type JobsConfig struct {
	ReconcileEnabled  bool   `yaml:"reconcile_enabled"`
	ReconcileSchedule string `yaml:"reconcile_schedule"`
}

// AuditConfig holds audit trail settings. An empty FileDir keeps the
// trail in the service log only.
type AuditConfig struct {
	FileDir      string `yaml:"file_dir"`
	FileMaxBytes int64  `yaml:"file_max_bytes"`
	FileMaxFiles int    `yaml:"file_max_files"`
}

// WebhooksConfig lists receivers for access and course events. No URLs
// disables outbound webhooks.
type WebhooksConfig struct {
	URLs        []string      `yaml:"urls"`
	Secret      string        `yaml:"secret"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
	QueueSize   int           `yaml:"queue_size"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevelName string                 `yaml:"log_level"`
	LogLevel     observability.LogLevel `yaml:"-"`

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// OTel converts the settings into the observability package's form
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
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
			MaxUploadBytes:  50 << 20,
			CORSOrigins:     []string{"*"},
			HealthPort:      "9090",
		},
		Storage: storage.DefaultConfig(),
		Auth: AuthConfig{
			Issuer:   "coursehub",
			TokenTTL: 24 * time.Hour,
		},
		Access: AccessConfig{
			LockTimeout: 5 * time.Second,
		},
		Catalog: CatalogConfig{
			SellerCacheSize: 1024,
			SellerCacheTTL:  5 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 30,
			Burst:             10,
		},
		Jobs: JobsConfig{
			ReconcileEnabled:  true,
			ReconcileSchedule: "@every 15m",
		},
		Audit: AuditConfig{
			FileMaxBytes: 50 * 1024 * 1024,
			FileMaxFiles: 5,
		},
		Webhooks: WebhooksConfig{
			Timeout:     10 * time.Second,
			MaxAttempts: 5,
			QueueSize:   256,
		},
		Observability: ObservabilityConfig{
			LogLevelName:       "info",
			LogLevel:           observability.InfoLevel,
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "coursehub",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1.0,
		},
	}
}

// LoadConfig loads defaults, then the file named by COURSEHUB_CONFIG_FILE if
// set, then COURSEHUB_* environment overrides.
func LoadConfig() (*Config, error) {
	return Load(os.Getenv(ConfigFileEnv))
}

// Load is LoadConfig with an explicit file path. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.Observability.LogLevel = observability.ParseLogLevel(cfg.Observability.LogLevelName)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("COURSEHUB_HOST", s.Host)
	s.Port = getEnv("COURSEHUB_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("COURSEHUB_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("COURSEHUB_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("COURSEHUB_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("COURSEHUB_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.MaxUploadBytes = getEnvInt64("COURSEHUB_MAX_UPLOAD_BYTES", s.MaxUploadBytes)
	s.HealthPort = getEnv("COURSEHUB_HEALTH_PORT", s.HealthPort)
	if origins := getEnv("COURSEHUB_CORS_ORIGINS", ""); origins != "" {
		s.CORSOrigins = splitList(origins)
	}

	st := &c.Storage
	st.DatabaseMode = getEnv("COURSEHUB_DATABASE_MODE", st.DatabaseMode)
	st.PostgresURL = getEnv("COURSEHUB_POSTGRES_URL", st.PostgresURL)
	st.PostgresReplicaURLs = getEnv("COURSEHUB_POSTGRES_REPLICA_URLS", st.PostgresReplicaURLs)
	st.PostgresMaxConns = getEnvInt("COURSEHUB_POSTGRES_MAX_CONNS", st.PostgresMaxConns)
	st.PostgresMinConns = getEnvInt("COURSEHUB_POSTGRES_MIN_CONNS", st.PostgresMinConns)
	st.PostgresTimeout = getEnvDuration("COURSEHUB_POSTGRES_TIMEOUT", st.PostgresTimeout)
	st.BlobBackend = getEnv("COURSEHUB_BLOB_BACKEND", st.BlobBackend)
	st.FilesystemRoot = getEnv("COURSEHUB_FILESYSTEM_ROOT", st.FilesystemRoot)
	st.S3Endpoint = getEnv("COURSEHUB_S3_ENDPOINT", st.S3Endpoint)
	st.S3Region = getEnv("COURSEHUB_S3_REGION", st.S3Region)
	st.S3Bucket = getEnv("COURSEHUB_S3_BUCKET", st.S3Bucket)
	st.S3AccessKey = getEnv("COURSEHUB_S3_ACCESS_KEY", st.S3AccessKey)
	st.S3SecretKey = getEnv("COURSEHUB_S3_SECRET_KEY", st.S3SecretKey)
	st.S3ForcePathStyle = getEnvBool("COURSEHUB_S3_FORCE_PATH_STYLE", st.S3ForcePathStyle)
	st.RedisURL = getEnv("COURSEHUB_REDIS_URL", st.RedisURL)
	st.RedisPassword = getEnv("COURSEHUB_REDIS_PASSWORD", st.RedisPassword)
	st.RedisDB = getEnvInt("COURSEHUB_REDIS_DB", st.RedisDB)
	st.RedisMaxRetries = getEnvInt("COURSEHUB_REDIS_MAX_RETRIES", st.RedisMaxRetries)
	st.RedisPoolSize = getEnvInt("COURSEHUB_REDIS_POOL_SIZE", st.RedisPoolSize)

	c.Auth.JWTSecret = getEnv("COURSEHUB_JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.Issuer = getEnv("COURSEHUB_JWT_ISSUER", c.Auth.Issuer)
	c.Auth.TokenTTL = getEnvDuration("COURSEHUB_TOKEN_TTL", c.Auth.TokenTTL)

	c.Access.LockTimeout = getEnvDuration("COURSEHUB_ACCESS_LOCK_TIMEOUT", c.Access.LockTimeout)

	c.Catalog.SellerCacheSize = getEnvInt("COURSEHUB_SELLER_CACHE_SIZE", c.Catalog.SellerCacheSize)
	c.Catalog.SellerCacheTTL = getEnvDuration("COURSEHUB_SELLER_CACHE_TTL", c.Catalog.SellerCacheTTL)

	c.RateLimit.Enabled = getEnvBool("COURSEHUB_RATE_LIMIT_ENABLED", c.RateLimit.Enabled)
	c.RateLimit.RequestsPerMinute = getEnvInt("COURSEHUB_RATE_LIMIT_RPM", c.RateLimit.RequestsPerMinute)
	c.RateLimit.Burst = getEnvInt("COURSEHUB_RATE_LIMIT_BURST", c.RateLimit.Burst)

	c.Jobs.ReconcileEnabled = getEnvBool("COURSEHUB_RECONCILE_ENABLED", c.Jobs.ReconcileEnabled)
	c.Jobs.ReconcileSchedule = getEnv("COURSEHUB_RECONCILE_SCHEDULE", c.Jobs.ReconcileSchedule)

	c.Audit.FileDir = getEnv("COURSEHUB_AUDIT_FILE_DIR", c.Audit.FileDir)
	c.Audit.FileMaxBytes = getEnvInt64("COURSEHUB_AUDIT_FILE_MAX_BYTES", c.Audit.FileMaxBytes)
	c.Audit.FileMaxFiles = getEnvInt("COURSEHUB_AUDIT_FILE_MAX_FILES", c.Audit.FileMaxFiles)

	if urls := getEnv("COURSEHUB_WEBHOOK_URLS", ""); urls != "" {
		c.Webhooks.URLs = splitList(urls)
	}
	c.Webhooks.Secret = getEnv("COURSEHUB_WEBHOOK_SECRET", c.Webhooks.Secret)
	c.Webhooks.Timeout = getEnvDuration("COURSEHUB_WEBHOOK_TIMEOUT", c.Webhooks.Timeout)
	c.Webhooks.MaxAttempts = getEnvInt("COURSEHUB_WEBHOOK_MAX_ATTEMPTS", c.Webhooks.MaxAttempts)
	c.Webhooks.QueueSize = getEnvInt("COURSEHUB_WEBHOOK_QUEUE_SIZE", c.Webhooks.QueueSize)

	o := &c.Observability
	o.LogLevelName = getEnv("COURSEHUB_LOG_LEVEL", o.LogLevelName)
	o.MetricsEnabled = getEnvBool("COURSEHUB_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("COURSEHUB_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("COURSEHUB_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("COURSEHUB_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("COURSEHUB_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("COURSEHUB_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("COURSEHUB_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Storage.DatabaseMode {
	case storage.DatabaseMemory:
	case storage.DatabasePostgres:
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres database mode")
		}
	default:
		return fmt.Errorf("invalid database mode: %s (must be memory or postgres)", c.Storage.DatabaseMode)
	}

	switch c.Storage.BlobBackend {
	case storage.BlobFilesystem:
		if c.Storage.FilesystemRoot == "" {
			return fmt.Errorf("filesystem root is required for filesystem blob storage")
		}
	case storage.BlobS3:
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 blob storage")
		}
	default:
		return fmt.Errorf("invalid blob backend: %s (must be filesystem or s3)", c.Storage.BlobBackend)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive")
	}

	if c.Access.LockTimeout <= 0 {
		return fmt.Errorf("access lock timeout must be positive")
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate limit requests per minute must be positive when rate limiting is enabled")
	}

	if len(c.Webhooks.URLs) > 0 && c.Webhooks.Timeout <= 0 {
		return fmt.Errorf("webhook timeout must be positive")
	}

	if c.Jobs.ReconcileEnabled {
		if _, err := cron.ParseStandard(c.Jobs.ReconcileSchedule); err != nil {
			return fmt.Errorf("invalid reconcile schedule %q: %w", c.Jobs.ReconcileSchedule, err)
		}
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// Watch reloads path whenever it changes and hands the new configuration to
// onChange. Invalid files are logged and ignored. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, logger *observability.Logger, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// watch the directory: editors replace files by rename
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				logger.WithError(err).Warn("ignoring invalid config reload")
				continue
			}
			logger.WithField("path", path).Info("configuration reloaded")
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("config watcher error")
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
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

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
