package audit

import (
	"context"
	"fmt"
	"sync"
)

// MultiLogger fans each event out to several loggers
type MultiLogger struct {
	recorder

	loggers []Logger
	async   bool
	wg      sync.WaitGroup
	errChan chan error
}

// NewMultiLogger creates a synchronous multi-logger
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	m := &MultiLogger{
		loggers: loggers,
		errChan: make(chan error, len(loggers)*8+1),
	}
	m.recorder = recorder{log: m.Log}
	return m
}

// SetAsync switches between synchronous and fire-and-forget delivery
func (m *MultiLogger) SetAsync(async bool) {
	m.async = async
}

// Log delivers the event to every logger. In sync mode the first error is returned
// after all loggers have been tried.
func (m *MultiLogger) Log(ctx context.Context, event *AuditEvent) error {
	if len(m.loggers) == 0 {
		return nil
	}
	if m.async {
		m.logAsync(ctx, event)
		return nil
	}

	var firstErr error
	for _, logger := range m.loggers {
		if err := logger.Log(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *MultiLogger) logAsync(ctx context.Context, event *AuditEvent) {
	ctx = context.WithoutCancel(ctx)
	for _, logger := range m.loggers {
		m.wg.Add(1)
		go func(l Logger) {
			defer m.wg.Done()
			if err := l.Log(ctx, event); err != nil {
				select {
				case m.errChan <- err:
				default:
				}
			}
		}(logger)
	}
}

// Wait blocks until pending async deliveries finish
func (m *MultiLogger) Wait() {
	m.wg.Wait()
}

// Errors drains errors collected during async delivery
func (m *MultiLogger) Errors() []error {
	var errs []error
	for {
		select {
		case err := <-m.errChan:
			errs = append(errs, err)
		default:
			return errs
		}
	}
}

// Close waits for pending deliveries and closes every logger
func (m *MultiLogger) Close() error {
	m.wg.Wait()

	var firstErr error
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close audit logger: %w", err)
		}
	}
	return firstErr
}
