package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/coursehub/pkg/access"
	"github.com/platinummonkey/coursehub/pkg/api"
	"github.com/platinummonkey/coursehub/pkg/audit"
	"github.com/platinummonkey/coursehub/pkg/auth"
	"github.com/platinummonkey/coursehub/pkg/catalog"
	"github.com/platinummonkey/coursehub/pkg/config"
	"github.com/platinummonkey/coursehub/pkg/courses"
	"github.com/platinummonkey/coursehub/pkg/jobs"
	"github.com/platinummonkey/coursehub/pkg/middleware"
	"github.com/platinummonkey/coursehub/pkg/observability"
	"github.com/platinummonkey/coursehub/pkg/storage"
	"github.com/platinummonkey/coursehub/pkg/storage/postgres"
	"github.com/platinummonkey/coursehub/pkg/users"
	"github.com/platinummonkey/coursehub/pkg/webhooks"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// lockLease bounds how long a crashed process can hold a distributed access lock
const lockLease = 30 * time.Second

var (
	reconcileOnce = flag.Bool("reconcile-once", false, "Rebuild the derived access caches once and exit")
	printVersion  = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	flag.Parse()

	if *printVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", "coursehub").
		WithField("version", version)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("coursehub exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelProviders, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewNopMetrics()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	records, err := postgres.OpenRecordStore(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	defer records.Close()

	rawBlobs, err := postgres.OpenBlobStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open blob store: %w", err)
	}
	backend := cfg.Storage.BlobBackend
	if backend == "" {
		backend = storage.BlobFilesystem
	}
	blobs := storage.NewInstrumentedBlobStore(rawBlobs, backend, metrics)

	auditLogger, closeAudit, err := openAudit(cfg, metrics, logger)
	if err != nil {
		return err
	}
	defer closeAudit()

	engineOpts := []access.Option{
		access.WithLockTimeout(cfg.Access.LockTimeout),
		access.WithMetrics(metrics),
		access.WithAudit(auditLogger),
	}

	var redisClient *postgres.RedisClient
	if cfg.Storage.RedisURL != "" {
		redisClient, err = postgres.NewRedisClient(cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()
		engineOpts = append(engineOpts, access.WithLocker(access.NewRedisLocker(redisClient.GetClient(), lockLease, logger)))
		logger.Info("Using Redis for access locks")
	}

	engine := access.NewEngine(records, logger, engineOpts...)
	reconciler := jobs.NewReconciler(engine, cfg.Jobs.ReconcileSchedule, metrics, logger)

	if *reconcileOnce {
		corrected, err := reconciler.RunOnce(ctx)
		if err != nil {
			return fmt.Errorf("cache reconciliation failed: %w", err)
		}
		logger.WithField("corrected", corrected).Info("Cache reconciliation completed")
		return nil
	}

	tokens := auth.NewTokenManager(auth.TokenConfig{
		Secret: []byte(cfg.Auth.JWTSecret),
		Issuer: cfg.Auth.Issuer,
		TTL:    cfg.Auth.TokenTTL,
	})

	var limiter middleware.Limiter
	if cfg.RateLimit.Enabled {
		limiter = newLimiter(ctx, cfg.RateLimit, redisClient)
	}

	server := api.NewServer(api.Dependencies{
		Users:   users.NewService(records, tokens, auditLogger, metrics, logger),
		Courses: courses.NewService(records, blobs, auditLogger, logger),
		Access:  engine,
		Catalog: catalog.NewAssembler(records, engine, catalog.Config{
			SellerCacheSize: cfg.Catalog.SellerCacheSize,
			SellerCacheTTL:  cfg.Catalog.SellerCacheTTL,
		}, metrics, logger),
		Blobs:          blobs,
		Tokens:         tokens,
		Audit:          auditLogger,
		Limiter:        limiter,
		Metrics:        metrics,
		Logger:         logger,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		CORSOrigins:    cfg.Server.CORSOrigins,
	})

	health := observability.NewHealthChecker(nil, nil)
	health.SetVersion(version)
	health.AddCheck("records", records.HealthCheck, true)
	health.AddCheck("blobs", blobs.HealthCheck, true)
	if redisClient != nil {
		health.AddCheck("redis", redisClient.Ping, false)
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, health)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}

	mainServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      observability.InstrumentHandler(server, "coursehub"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:      healthMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	if cfg.Jobs.ReconcileEnabled {
		if err := reconciler.Start(); err != nil {
			return err
		}
	}

	if path := os.Getenv(config.ConfigFileEnv); path != "" {
		go func() {
			err := config.Watch(ctx, path, logger, func(next *config.Config) {
				logger.SetLevel(next.Observability.LogLevel)
			})
			if err != nil {
				logger.WithError(err).Warn("Config watcher stopped")
			}
		}()
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, mainServer, healthServer)
	shutdown.RegisterShutdownFunc("reconciler", reconciler.Stop)
	shutdown.RegisterShutdownFunc("otel", otelProviders.Shutdown)

	serverErrors := make(chan error, 2)
	go func() {
		logger.Infof("Starting coursehub API on %s", mainServer.Addr)
		if err := mainServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("api server: %w", err)
		}
	}()
	go func() {
		logger.Infof("Starting health server on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("health server: %w", err)
		}
	}()

	shutdownDone := make(chan error, 1)
	go func() { shutdownDone <- shutdown.WaitForShutdown() }()

	select {
	case err := <-serverErrors:
		return err
	case err := <-shutdownDone:
		if err != nil {
			return err
		}
	}

	logger.Info("coursehub stopped")
	return nil
}

// openAudit fans audit events out to the service log, the optional on-disk
// trail and the optional webhook receivers.
func openAudit(cfg *config.Config, metrics *observability.Metrics, logger *observability.Logger) (audit.Logger, func(), error) {
	sinks := []audit.Logger{audit.NewLogrusLogger(logger)}

	if dir := cfg.Audit.FileDir; dir != "" {
		fileCfg := audit.DefaultFileLoggerConfig(dir)
		if cfg.Audit.FileMaxBytes > 0 {
			fileCfg.MaxSize = cfg.Audit.FileMaxBytes
		}
		if cfg.Audit.FileMaxFiles > 0 {
			fileCfg.MaxFiles = cfg.Audit.FileMaxFiles
		}
		fileLogger, err := audit.NewFileLogger(fileCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		logger.WithField("dir", dir).Info("Writing audit trail to disk")
		sinks = append(sinks, fileLogger)
	}

	if len(cfg.Webhooks.URLs) > 0 {
		dispatcher, err := webhooks.NewDispatcher(webhooks.Config{
			URLs:      cfg.Webhooks.URLs,
			Secret:    cfg.Webhooks.Secret,
			Timeout:   cfg.Webhooks.Timeout,
			QueueSize: cfg.Webhooks.QueueSize,
			Retry:     webhooks.RetryConfig{MaxAttempts: cfg.Webhooks.MaxAttempts},
		}, metrics, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to configure webhooks: %w", err)
		}
		logger.WithField("receivers", len(cfg.Webhooks.URLs)).Info("Forwarding access events to webhooks")
		sinks = append(sinks, audit.NewSinkLogger(dispatcher))
	}

	multi := audit.NewMultiLogger(sinks...)
	closeFn := func() {
		if err := multi.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close audit sinks")
		}
	}
	return multi, closeFn, nil
}

func newLimiter(ctx context.Context, cfg config.RateLimitConfig, redisClient *postgres.RedisClient) middleware.Limiter {
	limits := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RequestsPerMinute,
		WindowDuration:    time.Minute,
		BurstSize:         cfg.Burst,
	}
	if redisClient != nil {
		return middleware.NewDistributedRateLimiter(redisClient.GetClient(), limits, "coursehub:ratelimit:")
	}

	local := middleware.NewRateLimiter(limits)
	local.StartCleanup(ctx)
	return local
}
