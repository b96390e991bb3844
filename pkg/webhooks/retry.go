package webhooks

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	InitialDelay      time.Duration `yaml:"initial_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialDelay:      1 * time.Second,
		MaxDelay:          1 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// StatusError is returned when a receiver answers with a non-2xx status
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned non-2xx status: %d", e.Code)
}

// RetryPolicy implements exponential backoff retry logic
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy creates a new retry policy, filling zero fields from the defaults
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	defaults := DefaultRetryConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = defaults.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = defaults.MaxDelay
	}
	if config.BackoffMultiplier <= 1.0 {
		config.BackoffMultiplier = defaults.BackoffMultiplier
	}

	return &RetryPolicy{config: config}
}

// ShouldRetry reports whether a delivery that failed on attempt number
// attempts deserves another try. Client errors other than 408 and 429 are final.
func (p *RetryPolicy) ShouldRetry(attempts int, err error) bool {
	if err == nil || attempts >= p.config.MaxAttempts {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		code := statusErr.Code
		if code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests {
			return false
		}
	}
	return true
}

// NextRetryDelay calculates the delay before the next retry
func (p *RetryPolicy) NextRetryDelay(attempts int) time.Duration {
	if attempts <= 0 {
		return p.config.InitialDelay
	}

	// delay = initialDelay * multiplier^(attempts-1)
	delay := float64(p.config.InitialDelay) * math.Pow(p.config.BackoffMultiplier, float64(attempts-1))
	if delay > float64(p.config.MaxDelay) {
		return p.config.MaxDelay
	}
	return time.Duration(delay)
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
