package jobs

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/coursehub/pkg/access"
	"github.com/platinummonkey/coursehub/pkg/domain"
	"github.com/platinummonkey/coursehub/pkg/observability"
	"github.com/platinummonkey/coursehub/pkg/storage"
)

type fakeTarget struct {
	calls     atomic.Int32
	corrected int
	err       error
	block     chan struct{}
}

func (f *fakeTarget) ReconcileCaches(ctx context.Context) (int, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	return f.corrected, f.err
}

func newTestReconciler(target CacheReconciler, schedule string) (*Reconciler, *observability.Metrics, *bytes.Buffer) {
	var buf bytes.Buffer
	metrics := observability.NewNopMetrics()
	logger := observability.NewLogger(observability.InfoLevel, &buf)
	return NewReconciler(target, schedule, metrics, logger), metrics, &buf
}

func TestReconciler_RunOnce(t *testing.T) {
	target := &fakeTarget{corrected: 3}
	r, metrics, logs := newTestReconciler(target, "")

	corrected, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, corrected)
	assert.Equal(t, DefaultReconcileSchedule, r.schedule)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ReconcileRunsTotal.WithLabelValues("success")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.ReconcileCorrectionsTotal))
	assert.Contains(t, logs.String(), `"corrected":3`)
}

func TestReconciler_RunOnceError(t *testing.T) {
	target := &fakeTarget{err: domain.StorageFailure("RebuildCaches", errors.New("connection refused"))}
	r, metrics, _ := newTestReconciler(target, "")

	_, err := r.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ReconcileRunsTotal.WithLabelValues("error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.ReconcileCorrectionsTotal))
}

func TestReconciler_SkipsOverlappingRuns(t *testing.T) {
	target := &fakeTarget{block: make(chan struct{})}
	r, metrics, _ := newTestReconciler(target, "")

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.RunOnce(context.Background())
	}()

	require.Eventually(t, func() bool { return target.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	corrected, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, corrected)

	close(target.block)
	<-done
	assert.Equal(t, int32(1), target.calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ReconcileRunsTotal.WithLabelValues("skipped")))
}

func TestReconciler_Schedule(t *testing.T) {
	target := &fakeTarget{}
	r, _, _ := newTestReconciler(target, "@every 1s")

	require.NoError(t, r.Start())
	assert.Error(t, r.Start(), "second start is rejected")

	assert.Eventually(t, func() bool { return target.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Stop(ctx))
	require.NoError(t, r.Stop(ctx), "stop is idempotent")
}

func TestReconciler_InvalidSchedule(t *testing.T) {
	r, _, _ := newTestReconciler(&fakeTarget{}, "whenever")
	err := r.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to schedule")
}

func TestReconciler_RepairsMemoryStoreDrift(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	seller := &domain.User{Name: "S", Email: "s@example.com", Role: domain.RoleSeller}
	require.NoError(t, store.CreateUser(ctx, seller))
	buyer := &domain.User{Name: "B", Email: "b@example.com", Role: domain.RoleUser}
	require.NoError(t, store.CreateUser(ctx, buyer))
	course := &domain.Course{SellerID: seller.ID, Name: "Go"}
	require.NoError(t, store.CreateCourse(ctx, course))
	module := &domain.Module{CourseID: course.ID, Title: "Intro"}
	require.NoError(t, store.CreateModule(ctx, module))
	_, err := store.InsertGrant(ctx, buyer.ID, module.ID)
	require.NoError(t, err)

	engine := access.NewEngine(store, observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{}))
	r, _, _ := newTestReconciler(engine, "")
	corrected, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, corrected, "caches maintained on every mutation have nothing to repair")
}
