package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Access control metrics
	AccessMutationsTotal *prometheus.CounterVec
	AccessChecksTotal    *prometheus.CounterVec
	LockWaitDuration     prometheus.Histogram

	// Catalog metrics
	CatalogBuildDuration *prometheus.HistogramVec
	SellerCacheHits      prometheus.Counter
	SellerCacheMisses    prometheus.Counter

	// Reconciler metrics
	ReconcileRunsTotal        *prometheus.CounterVec
	ReconcileCorrectionsTotal prometheus.Counter

	// Blob storage metrics
	BlobOperationsTotal *prometheus.CounterVec
	BlobBytesTotal      *prometheus.CounterVec

	// Auth metrics
	LoginAttemptsTotal *prometheus.CounterVec

	// Webhook metrics
	WebhookDeliveriesTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coursehub_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coursehub_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coursehub_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "route"},
		),

		AccessMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coursehub_access_mutations_total",
				Help: "Access grant mutations by operation and result",
			},
			[]string{"operation", "result"},
		),
		AccessChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coursehub_access_checks_total",
				Help: "Access checks by scope and outcome",
			},
			[]string{"scope", "outcome"},
		),
		LockWaitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "coursehub_access_lock_wait_seconds",
				Help:    "Time spent waiting for a per-user, per-course lock",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),

		CatalogBuildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coursehub_catalog_build_duration_seconds",
				Help:    "Time to assemble a catalog view",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"view"},
		),
		SellerCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coursehub_seller_cache_hits_total",
				Help: "Seller name cache hits",
			},
		),
		SellerCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coursehub_seller_cache_misses_total",
				Help: "Seller name cache misses",
			},
		),

		ReconcileRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coursehub_reconcile_runs_total",
				Help: "Access cache reconciliation runs by result",
			},
			[]string{"result"},
		),
		ReconcileCorrectionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coursehub_reconcile_corrections_total",
				Help: "Derived access cache rows rewritten by the reconciler",
			},
		),

		BlobOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coursehub_blob_operations_total",
				Help: "Blob store operations by backend, operation and status",
			},
			[]string{"backend", "operation", "status"},
		),
		BlobBytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coursehub_blob_bytes_total",
				Help: "Bytes moved through the blob store",
			},
			[]string{"backend", "operation"},
		),

		LoginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coursehub_login_attempts_total",
				Help: "Login attempts by result",
			},
			[]string{"result"},
		),

		WebhookDeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coursehub_webhook_deliveries_total",
				Help: "Outbound webhook deliveries by result",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.AccessMutationsTotal,
		m.AccessChecksTotal,
		m.LockWaitDuration,
		m.CatalogBuildDuration,
		m.SellerCacheHits,
		m.SellerCacheMisses,
		m.ReconcileRunsTotal,
		m.ReconcileCorrectionsTotal,
		m.BlobOperationsTotal,
		m.BlobBytesTotal,
		m.LoginAttemptsTotal,
		m.WebhookDeliveriesTotal,
	)

	return m
}

// NewNopMetrics returns metrics registered on a throwaway registry, for tests
// and for components constructed without a metrics sink.
func NewNopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel uses the mux route template so that ids do not explode label cardinality
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
