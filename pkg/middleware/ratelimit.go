package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/coursehub/pkg/observability"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate
	BurstSize int
}

// DefaultRateLimitConfig returns the limits applied to the credential routes
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 20,
		WindowDuration:    time.Minute,
		BurstSize:         5,
	}
}

// Limiter decides whether a request identified by key may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Config() *RateLimitConfig
}

// RateLimiter implements rate limiting using token bucket algorithm
type RateLimiter struct {
	config  *RateLimitConfig
	buckets map[string]*bucket
	mu      sync.RWMutex
	now     func() time.Time
}

type bucket struct {
	tokens     float64
	lastUpdate time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}

	return &RateLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (rl *RateLimiter) capacity() float64 {
	return float64(rl.config.RequestsPerWindow + rl.config.BurstSize)
}

// Config returns the limiter settings
func (rl *RateLimiter) Config() *RateLimitConfig {
	return rl.config
}

// Allow checks if a request is allowed for the given key
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	rl.mu.Lock()
	b, exists := rl.buckets[key]
	if !exists {
		b = &bucket{tokens: rl.capacity(), lastUpdate: rl.now()}
		rl.buckets[key] = b
	}
	rl.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	// Refill tokens based on elapsed time
	now := rl.now()
	elapsed := now.Sub(b.lastUpdate)
	b.tokens += elapsed.Seconds() * float64(rl.config.RequestsPerWindow) / rl.config.WindowDuration.Seconds()
	if b.tokens > rl.capacity() {
		b.tokens = rl.capacity()
	}
	b.lastUpdate = now

	if b.tokens >= 1 {
		b.tokens--
		return true, nil
	}
	return false, nil
}

// Remaining returns the number of whole tokens left for a key
func (rl *RateLimiter) Remaining(key string) int {
	rl.mu.RLock()
	b, exists := rl.buckets[key]
	rl.mu.RUnlock()

	if !exists {
		return int(rl.capacity())
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return int(b.tokens)
}

// Cleanup removes buckets idle for two windows
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		b.mu.Lock()
		if now.Sub(b.lastUpdate) > rl.config.WindowDuration*2 {
			delete(rl.buckets, key)
		}
		b.mu.Unlock()
	}
}

// StartCleanup starts a background goroutine to cleanup old buckets
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.config.WindowDuration)
	go func() {
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()
}

// RateLimitMiddleware limits requests per client IP
type RateLimitMiddleware struct {
	limiter Limiter
	logger  *observability.Logger
	// failOpen lets requests through when the limiter itself errors
	failOpen bool
}

// NewRateLimitMiddleware creates a new rate limit middleware
func NewRateLimitMiddleware(limiter Limiter, logger *observability.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: limiter, logger: logger, failOpen: true}
}

// SetFailOpen controls whether limiter errors allow (true) or reject (false) the request
func (m *RateLimitMiddleware) SetFailOpen(enabled bool) {
	m.failOpen = enabled
}

// Handler wraps an HTTP handler with rate limiting
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "ip:" + getClientIP(r)
		cfg := m.limiter.Config()

		allowed, err := m.limiter.Allow(r.Context(), key)
		if err != nil {
			m.logger.WithError(err).WithField("key", key).Warn("Rate limiter unavailable")
			if !m.failOpen {
				http.Error(w, "Service temporarily unavailable", http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.RequestsPerWindow))
		if !allowed {
			rateLimitExceeded(w, cfg)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func rateLimitExceeded(w http.ResponseWriter, cfg *RateLimitConfig) {
	retryAfter := cfg.WindowDuration.Seconds()
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter))
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"error":"rate limit exceeded","kind":"rate_limited","retry_after":` + fmt.Sprintf("%.0f", retryAfter) + `}`))
}

// getClientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then
// the connection address without its port
func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if first != "" {
			return first
		}
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
