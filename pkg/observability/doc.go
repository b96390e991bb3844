// Package observability provides structured logging, Prometheus metrics, health
// probes, OpenTelemetry tracing and graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("course_id", id).Info("course created")
//
// Handlers obtain the request-scoped logger (carrying request_id and user_id)
// through observability.FromContext(r.Context()).
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.AccessMutationsTotal.WithLabelValues("grant", "created").Inc()
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	checker.AddCheck("blob", blobStore.HealthCheck, false)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer providers.Shutdown(ctx)
//	ctx, span := observability.Tracer("access").Start(ctx, "Engine.Grant")
package observability
