package observability

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// ShutdownManager handles graceful shutdown of services
type ShutdownManager struct {
	logger          *Logger
	servers         []*http.Server
	shutdownFuncs   []namedShutdown
	shutdownTimeout time.Duration
	mu              sync.Mutex
}

// ShutdownFunc is a function to call during shutdown
type ShutdownFunc func(context.Context) error

type namedShutdown struct {
	name string
	fn   ShutdownFunc
}

// NewShutdownManager creates a new shutdown manager
func NewShutdownManager(logger *Logger, timeout time.Duration, servers ...*http.Server) *ShutdownManager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		logger:          logger,
		servers:         servers,
		shutdownTimeout: timeout,
	}
}

// RegisterShutdownFunc registers a function to call after the HTTP servers stop
func (sm *ShutdownManager) RegisterShutdownFunc(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.shutdownFuncs = append(sm.shutdownFuncs, namedShutdown{name: name, fn: fn})
}

// WaitForShutdown blocks until SIGINT/SIGTERM and then shuts everything down
func (sm *ShutdownManager) WaitForShutdown() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	sm.logger.Infof("Received signal %s, starting graceful shutdown", sig)

	ctx, cancel := context.WithTimeout(context.Background(), sm.shutdownTimeout)
	defer cancel()
	return sm.Shutdown(ctx)
}

// Shutdown stops the HTTP servers first so no new requests arrive, then runs
// the registered functions concurrently.
func (sm *ShutdownManager) Shutdown(ctx context.Context) error {
	for _, server := range sm.servers {
		if server == nil {
			continue
		}
		sm.logger.Infof("Shutting down HTTP server on %s", server.Addr)
		if err := server.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).Error("HTTP server shutdown error")
			return fmt.Errorf("HTTP server shutdown failed: %w", err)
		}
	}

	sm.mu.Lock()
	funcs := make([]namedShutdown, len(sm.shutdownFuncs))
	copy(funcs, sm.shutdownFuncs)
	sm.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, f := range funcs {
		f := f
		g.Go(func() error {
			if err := f.fn(gctx); err != nil {
				sm.logger.WithError(err).Errorf("Shutdown of %s failed", f.name)
				return fmt.Errorf("%s: %w", f.name, err)
			}
			sm.logger.Infof("Shutdown of %s complete", f.name)
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("shutdown completed with errors: %w", err)
		}
	case <-ctx.Done():
		sm.logger.Warn("Shutdown timeout reached, forcing shutdown")
		return fmt.Errorf("shutdown timeout reached")
	}

	sm.logger.Info("Graceful shutdown complete")
	return nil
}
