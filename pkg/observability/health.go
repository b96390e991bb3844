package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// CheckFunc probes one dependency
type CheckFunc func(ctx context.Context) error

type namedCheck struct {
	name     string
	fn       CheckFunc
	critical bool
}

// HealthChecker provides health check functionality
type HealthChecker struct {
	db      *sql.DB
	redis   *redis.Client
	version string

	mu     sync.RWMutex
	checks []namedCheck
}

// NewHealthChecker creates a new health checker. Either dependency may be nil.
func NewHealthChecker(db *sql.DB, redis *redis.Client) *HealthChecker {
	return &HealthChecker{
		db:      db,
		redis:   redis,
		version: "dev",
	}
}

// SetVersion sets the version reported by the readiness probe
func (h *HealthChecker) SetVersion(version string) {
	h.version = version
}

// AddCheck registers an extra dependency probe. A failing critical check makes
// the service unhealthy; a failing non-critical check only degrades it.
func (h *HealthChecker) AddCheck(name string, fn CheckFunc, critical bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, namedCheck{name: name, fn: fn, critical: critical})
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Liveness returns a simple liveness probe (always returns 200 if server is running)
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness returns a readiness probe (checks all dependencies)
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(status)
}

// Check performs a comprehensive health check
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus),
	}

	if h.db != nil {
		dbStatus := h.checkDatabase(ctx)
		status.Dependencies["database"] = dbStatus
		status.Status = worst(status.Status, dbStatus.Status)
	}

	// Redis only backs locks and rate limits; losing it degrades the service
	if h.redis != nil {
		redisStatus := h.runCheck(ctx, func(ctx context.Context) error {
			return h.redis.Ping(ctx).Err()
		})
		status.Dependencies["redis"] = redisStatus
		if redisStatus.Status == StatusUnhealthy {
			status.Status = worst(status.Status, StatusDegraded)
		}
	}

	h.mu.RLock()
	checks := make([]namedCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	sort.Slice(checks, func(i, j int) bool { return checks[i].name < checks[j].name })
	for _, c := range checks {
		depStatus := h.runCheck(ctx, c.fn)
		status.Dependencies[c.name] = depStatus
		if depStatus.Status == StatusUnhealthy && !c.critical {
			status.Status = worst(status.Status, StatusDegraded)
			continue
		}
		status.Status = worst(status.Status, depStatus.Status)
	}

	return status
}

func (h *HealthChecker) runCheck(ctx context.Context, fn CheckFunc) DependencyStatus {
	start := time.Now()
	err := fn(ctx)
	status := DependencyStatus{
		Status:    StatusHealthy,
		Latency:   time.Since(start),
		Timestamp: time.Now(),
	}
	if err != nil {
		status.Status = StatusUnhealthy
		status.Message = err.Error()
	}
	return status
}

// checkDatabase checks PostgreSQL health
func (h *HealthChecker) checkDatabase(ctx context.Context) DependencyStatus {
	start := time.Now()
	status := DependencyStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	}

	err := h.db.PingContext(ctx)
	status.Latency = time.Since(start)
	if err != nil {
		status.Status = StatusUnhealthy
		status.Message = err.Error()
		return status
	}

	var one int
	if err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		status.Status = StatusUnhealthy
		status.Message = "query failed: " + err.Error()
		return status
	}

	stats := h.db.Stats()
	if stats.MaxOpenConnections > 0 && stats.OpenConnections >= stats.MaxOpenConnections {
		status.Status = StatusDegraded
		status.Message = "connection pool exhausted"
	}

	return status
}

func worst(a, b string) string {
	rank := map[string]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// RegisterHealthRoutes registers health check endpoints
func RegisterHealthRoutes(mux *http.ServeMux, checker *HealthChecker) {
	mux.HandleFunc("/health", checker.Readiness)
	mux.HandleFunc("/health/live", checker.Liveness)
	mux.HandleFunc("/health/ready", checker.Readiness)
}
