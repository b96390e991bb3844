package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/coursehub/pkg/domain"
	"github.com/platinummonkey/coursehub/pkg/observability"
	"github.com/platinummonkey/coursehub/pkg/storage"
)

var tracer = otel.Tracer("github.com/platinummonkey/coursehub/pkg/storage/postgres")

// PostgreSQL error codes
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// Store implements storage.RecordStore on PostgreSQL. Writes go to the
// primary; catalog listings read from replicas.
type Store struct {
	conns  *ConnectionManager
	logger *observability.Logger
}

// NewStore creates a store over an open connection manager
func NewStore(conns *ConnectionManager, logger *observability.Logger) *Store {
	return &Store{conns: conns, logger: logger.WithField("component", "record-store")}
}

func (s *Store) primary() *sql.DB {
	return s.conns.Primary()
}

func (s *Store) replica() *sql.DB {
	return s.conns.Replica()
}

// HealthCheck implements storage.RecordStore.HealthCheck
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.conns.HealthCheck(ctx)
}

// Close implements storage.RecordStore.Close
func (s *Store) Close() error {
	return s.conns.Close()
}

// wrapErr classifies a driver error. Already-classified errors pass through.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.StorageFailure(op, err)
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// withTx runs fn in a transaction traced as op. Any error rolls back.
func (s *Store) withTx(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(tx *sql.Tx) error) error {
	ctx, span := tracer.Start(ctx, "postgres."+op, trace.WithAttributes(attrs...))
	defer span.End()

	tx, err := s.primary().BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "begin failed")
		return wrapErr(op, fmt.Errorf("begin: %w", err))
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.WithError(rbErr).Warnf("%s: rollback failed", op)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, string(domain.KindOf(err)))
		return wrapErr(op, err)
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		return wrapErr(op, fmt.Errorf("commit: %w", err))
	}
	return nil
}

var _ storage.RecordStore = (*Store)(nil)
