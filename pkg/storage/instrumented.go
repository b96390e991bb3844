package storage

import (
	"context"

	"github.com/platinummonkey/coursehub/pkg/observability"
)

// InstrumentedBlobStore counts operations and bytes for the wrapped store
type InstrumentedBlobStore struct {
	inner   BlobStore
	backend string
	metrics *observability.Metrics
}

// NewInstrumentedBlobStore wraps inner, labelling metrics with backend
func NewInstrumentedBlobStore(inner BlobStore, backend string, metrics *observability.Metrics) *InstrumentedBlobStore {
	return &InstrumentedBlobStore{inner: inner, backend: backend, metrics: metrics}
}

func (s *InstrumentedBlobStore) record(op string, err error, size int) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.BlobOperationsTotal.WithLabelValues(s.backend, op, status).Inc()
	if err == nil && size > 0 {
		s.metrics.BlobBytesTotal.WithLabelValues(s.backend, op).Add(float64(size))
	}
}

func (s *InstrumentedBlobStore) Put(ctx context.Context, data []byte, contentType, name string) (Handle, error) {
	handle, err := s.inner.Put(ctx, data, contentType, name)
	s.record("put", err, len(data))
	return handle, err
}

func (s *InstrumentedBlobStore) Get(ctx context.Context, handle Handle) ([]byte, string, error) {
	data, contentType, err := s.inner.Get(ctx, handle)
	s.record("get", err, len(data))
	return data, contentType, err
}

func (s *InstrumentedBlobStore) Delete(ctx context.Context, handle Handle) error {
	err := s.inner.Delete(ctx, handle)
	s.record("delete", err, 0)
	return err
}

func (s *InstrumentedBlobStore) HealthCheck(ctx context.Context) error {
	return s.inner.HealthCheck(ctx)
}

var _ BlobStore = (*InstrumentedBlobStore)(nil)
