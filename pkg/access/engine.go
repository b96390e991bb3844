package access

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/coursehub/pkg/audit"
	"github.com/platinummonkey/coursehub/pkg/domain"
	"github.com/platinummonkey/coursehub/pkg/observability"
	"github.com/platinummonkey/coursehub/pkg/storage"
)

var tracer = observability.Tracer("access")

// Store is the persistence surface the engine needs
type Store interface {
	storage.AccessStore
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetUsersByIDs(ctx context.Context, ids []int64) ([]*domain.User, error)
	GetCourse(ctx context.Context, id int64) (*domain.Course, error)
	GetModule(ctx context.Context, id int64) (*domain.Module, error)
}

// Engine owns every change to module grants. Mutations on the same
// (user, course) pair are serialized through the Locker; reads go straight
// to committed data.
type Engine struct {
	store       Store
	locker      Locker
	lockTimeout time.Duration
	metrics     *observability.Metrics
	audit       audit.Logger
	logger      *observability.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithLocker replaces the default in-process locker
func WithLocker(locker Locker) Option {
	return func(e *Engine) { e.locker = locker }
}

// WithLockTimeout bounds how long a mutation waits for its lock
func WithLockTimeout(d time.Duration) Option {
	return func(e *Engine) { e.lockTimeout = d }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithAudit sets the audit logger
func WithAudit(l audit.Logger) Option {
	return func(e *Engine) { e.audit = l }
}

// NewEngine creates an access engine
func NewEngine(store Store, logger *observability.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		locker:      NewLocalLocker(),
		lockTimeout: 5 * time.Second,
		audit:       audit.NewNoopLogger(),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = observability.NewNopMetrics()
	}
	return e
}

func (e *Engine) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "access."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// lock acquires the (user, course) key within the configured timeout
func (e *Engine) lock(ctx context.Context, op string, userID, courseID int64) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, e.lockTimeout)
	defer cancel()

	start := time.Now()
	release, err := e.locker.Lock(lockCtx, LockKey(userID, courseID))
	e.metrics.LockWaitDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &domain.Error{Kind: domain.KindStorageFailure, Op: op, Message: "timed out waiting for access lock", Err: err}
		}
		return nil, domain.StorageFailure(op, err)
	}
	return release, nil
}

// record updates metrics and writes the audit trail for a mutation
func (e *Engine) record(ctx context.Context, change audit.AccessChange) {
	result := "noop"
	switch {
	case change.Err != nil:
		result = "error"
	case change.Changed:
		result = "changed"
	}
	e.metrics.AccessMutationsTotal.WithLabelValues(string(change.Action), result).Inc()

	if err := e.audit.LogAccessChange(ctx, change); err != nil {
		e.logger.WithError(err).Warn("Failed to write access audit event")
	}
}

// GrantModuleAccess gives the user access to one module. It is idempotent and
// reports whether a new grant was created.
func (e *Engine) GrantModuleAccess(ctx context.Context, userID, moduleID int64) (created bool, err error) {
	const op = "GrantModuleAccess"
	ctx, span := e.startSpan(ctx, op, attribute.Int64("user.id", userID), attribute.Int64("module.id", moduleID))
	defer func() { endSpan(span, err) }()

	module, err := e.store.GetModule(ctx, moduleID)
	if err != nil {
		return false, err
	}
	change := audit.AccessChange{Action: audit.EventTypeAccessGrant, UserID: userID, CourseID: module.CourseID, ModuleIDs: []int64{moduleID}}
	defer func() {
		change.Changed, change.Err = created, err
		e.record(ctx, change)
	}()

	release, err := e.lock(ctx, op, userID, module.CourseID)
	if err != nil {
		return false, err
	}
	defer release()

	return e.store.InsertGrant(ctx, userID, moduleID)
}

// RevokeModuleAccess removes one module grant. Revoking an absent grant is a
// no-op. The course stays in the user's accessible set while any sibling
// module grant remains.
func (e *Engine) RevokeModuleAccess(ctx context.Context, userID, moduleID int64) (removed bool, err error) {
	const op = "RevokeModuleAccess"
	ctx, span := e.startSpan(ctx, op, attribute.Int64("user.id", userID), attribute.Int64("module.id", moduleID))
	defer func() { endSpan(span, err) }()

	module, err := e.store.GetModule(ctx, moduleID)
	if err != nil {
		return false, err
	}
	change := audit.AccessChange{Action: audit.EventTypeAccessRevoke, UserID: userID, CourseID: module.CourseID, ModuleIDs: []int64{moduleID}}
	defer func() {
		change.Changed, change.Err = removed, err
		e.record(ctx, change)
	}()

	release, err := e.lock(ctx, op, userID, module.CourseID)
	if err != nil {
		return false, err
	}
	defer release()

	return e.store.DeleteGrant(ctx, userID, moduleID)
}

// SetModuleAccessForCourse makes the user's grants on the course exactly
// moduleIDs. Duplicates are ignored. Nothing changes if any id is unknown or
// belongs to another course.
func (e *Engine) SetModuleAccessForCourse(ctx context.Context, userID, courseID int64, moduleIDs []int64) (err error) {
	const op = "SetModuleAccessForCourse"
	desired := dedupe(moduleIDs)
	ctx, span := e.startSpan(ctx, op,
		attribute.Int64("user.id", userID),
		attribute.Int64("course.id", courseID),
		attribute.Int("modules.count", len(desired)),
	)
	defer func() { endSpan(span, err) }()

	change := audit.AccessChange{Action: audit.EventTypeAccessSet, UserID: userID, CourseID: courseID, ModuleIDs: desired}
	defer func() {
		change.Changed, change.Err = err == nil, err
		e.record(ctx, change)
	}()

	release, err := e.lock(ctx, op, userID, courseID)
	if err != nil {
		return err
	}
	defer release()

	return e.store.ReplaceCourseGrants(ctx, userID, courseID, desired)
}

// GrantCourseAccess grants every module the course has once the (user,
// course) lock is held. A course without modules is left without grants.
func (e *Engine) GrantCourseAccess(ctx context.Context, userID, courseID int64) (err error) {
	const op = "GrantCourseAccess"
	ctx, span := e.startSpan(ctx, op, attribute.Int64("user.id", userID), attribute.Int64("course.id", courseID))
	defer func() { endSpan(span, err) }()

	change := audit.AccessChange{Action: audit.EventTypeAccessGrant, UserID: userID, CourseID: courseID}
	defer func() {
		change.Changed, change.Err = err == nil && len(change.ModuleIDs) > 0, err
		e.record(ctx, change)
	}()

	release, err := e.lock(ctx, op, userID, courseID)
	if err != nil {
		return err
	}
	defer release()

	change.ModuleIDs, err = e.store.GrantAllCourseModules(ctx, userID, courseID)
	return err
}

// RevokeCourseAccess removes every grant the user holds on the course
func (e *Engine) RevokeCourseAccess(ctx context.Context, userID, courseID int64) error {
	return e.SetModuleAccessForCourse(ctx, userID, courseID, nil)
}

// HasAccessToModule reports whether the user holds a grant on the module
func (e *Engine) HasAccessToModule(ctx context.Context, userID, moduleID int64) (bool, error) {
	ok, err := e.store.HasGrant(ctx, userID, moduleID)
	e.countCheck("module", ok, err)
	return ok, err
}

// HasAccessToCourse reports whether the user holds a grant on any module of
// the course. It reads grants, never the cached id lists.
func (e *Engine) HasAccessToCourse(ctx context.Context, userID, courseID int64) (bool, error) {
	ok, err := e.store.HasCourseGrant(ctx, userID, courseID)
	e.countCheck("course", ok, err)
	return ok, err
}

func (e *Engine) countCheck(scope string, granted bool, err error) {
	outcome := "denied"
	switch {
	case err != nil:
		outcome = "error"
	case granted:
		outcome = "granted"
	}
	e.metrics.AccessChecksTotal.WithLabelValues(scope, outcome).Inc()
}

// ListModuleAccess returns the user's granted module ids on the course, ascending
func (e *Engine) ListModuleAccess(ctx context.Context, userID, courseID int64) ([]int64, error) {
	ids, err := e.store.ListGrantedModules(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}
	return nonNil(ids), nil
}

// ListUsersWithCourseAccess returns ids of users holding any grant on the course, ascending
func (e *Engine) ListUsersWithCourseAccess(ctx context.Context, courseID int64) ([]int64, error) {
	ids, err := e.store.ListCourseUsers(ctx, courseID)
	if err != nil {
		return nil, err
	}
	return nonNil(ids), nil
}

// ListUserGrantedModules returns every module the user may open as a set
func (e *Engine) ListUserGrantedModules(ctx context.Context, userID int64) (map[int64]bool, error) {
	ids, err := e.store.ListAllGrantedModules(ctx, userID)
	if err != nil {
		return nil, err
	}
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// ReconcileCaches rewrites every derived access cache from the grant relation
// and returns the number of rows it had to correct
func (e *Engine) ReconcileCaches(ctx context.Context) (corrected int, err error) {
	ctx, span := e.startSpan(ctx, "ReconcileCaches")
	defer func() {
		span.SetAttributes(attribute.Int("rows.corrected", corrected))
		endSpan(span, err)
	}()

	return e.store.RebuildCaches(ctx)
}

func dedupe(ids []int64) []int64 {
	if len(ids) == 0 {
		return []int64{}
	}
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
