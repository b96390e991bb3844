// Package jobs runs background maintenance on a cron schedule.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/coursehub/pkg/observability"
)

// DefaultReconcileSchedule repairs cache drift every quarter hour
const DefaultReconcileSchedule = "@every 15m"

// CacheReconciler recomputes the derived access caches and reports how many
// rows it corrected
type CacheReconciler interface {
	ReconcileCaches(ctx context.Context) (int, error)
}

// Reconciler periodically rebuilds the accessible-course and user-access
// caches from the grant relation
type Reconciler struct {
	target   CacheReconciler
	schedule string
	timeout  time.Duration
	metrics  *observability.Metrics
	logger   *observability.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewReconciler creates a reconciler. An empty schedule uses DefaultReconcileSchedule.
func NewReconciler(target CacheReconciler, schedule string, metrics *observability.Metrics, logger *observability.Logger) *Reconciler {
	if schedule == "" {
		schedule = DefaultReconcileSchedule
	}
	return &Reconciler{
		target:   target,
		schedule: schedule,
		timeout:  5 * time.Minute,
		metrics:  metrics,
		logger:   logger,
	}
}

// RunOnce performs a single reconciliation
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		r.logger.Warn("Cache reconciliation still running, skipping")
		r.record("skipped", 0)
		return 0, nil
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	start := time.Now()
	corrected, err := r.target.ReconcileCaches(ctx)
	if err != nil {
		r.record("error", 0)
		r.logger.WithError(err).Warn("Cache reconciliation failed")
		return 0, err
	}

	r.record("success", corrected)
	entry := r.logger.WithFields(map[string]interface{}{
		"corrected":   corrected,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if corrected > 0 {
		entry.Warn("Cache reconciliation corrected drifted rows")
	} else {
		entry.Info("Cache reconciliation completed")
	}
	return corrected, nil
}

func (r *Reconciler) record(result string, corrected int) {
	if r.metrics == nil {
		return
	}
	r.metrics.ReconcileRunsTotal.WithLabelValues(result).Inc()
	if corrected > 0 {
		r.metrics.ReconcileCorrectionsTotal.Add(float64(corrected))
	}
}

// Start schedules the job. It returns an error for an invalid schedule.
func (r *Reconciler) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return fmt.Errorf("reconciler already started")
	}

	c := cron.New()
	if _, err := c.AddFunc(r.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		r.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule cache reconciliation: %w", err)
	}

	c.Start()
	r.cron = c
	r.logger.WithField("schedule", r.schedule).Info("Cache reconciliation scheduled")
	return nil
}

// Stop halts the scheduler and waits for a running job or ctx
func (r *Reconciler) Stop(ctx context.Context) error {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
