package middleware

import (
	"fmt"
	"time"

	"github.com/samber/lo"
)

// BackoffStrategy names how the delay between retries grows.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffExponential BackoffStrategy = "exponential"
)

// Defaults applied by DefaultRetryPolicy and the session factory.
const (
	DefaultMaxAttempts  = 3
	DefaultBaseDelay    = 500 * time.Millisecond
	DefaultMaxDelay     = 30 * time.Second
	DefaultMaxRedirects = 10
)

// RetryPolicy configures the pipeline's retry and redirect behavior.
type RetryPolicy struct {
	// MaxAttempts is the total transport invocation budget per redirect hop.
	// Must be at least 1.
	MaxAttempts int

	// Strategy and BaseDelay shape the sleep before each retry. Exponential
	// doubles the delay per retry, capped at MaxDelay.
	Strategy  BackoffStrategy
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// RetryableStatuses lists response codes that trigger a retry instead of
	// being returned as data (e.g. 429, 503).
	RetryableStatuses []int

	// FollowRedirects enables 3xx following, bounded by MaxRedirects hops.
	FollowRedirects bool
	MaxRedirects    int
}

// DefaultRetryPolicy returns the policy used when the config leaves retry
// unset: 3 attempts, exponential backoff from 500ms, redirects followed up to
// 10 hops, no retryable statuses.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     DefaultMaxAttempts,
		Strategy:        BackoffExponential,
		BaseDelay:       DefaultBaseDelay,
		MaxDelay:        DefaultMaxDelay,
		FollowRedirects: true,
		MaxRedirects:    DefaultMaxRedirects,
	}
}

// Validate checks the policy invariants.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("backoff base_delay must be >= 0, got %s", p.BaseDelay)
	}
	if p.Strategy != "" && p.Strategy != BackoffFixed && p.Strategy != BackoffExponential {
		return fmt.Errorf("unknown backoff strategy %q", p.Strategy)
	}
	if p.MaxRedirects < 0 {
		return fmt.Errorf("max_redirects must be >= 0, got %d", p.MaxRedirects)
	}
	return nil
}

// StatusRetryable reports whether the status code is configured as retryable.
func (p RetryPolicy) StatusRetryable(code int) bool {
	return lo.Contains(p.RetryableStatuses, code)
}

// Delay returns the backoff before retry number n (1-based: n=1 precedes the
// second attempt). Backoff never runs before the first attempt.
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 1 || p.BaseDelay == 0 {
		return 0
	}
	switch p.Strategy {
	case BackoffExponential:
		d := p.BaseDelay
		for i := 1; i < n; i++ {
			d *= 2
			if p.MaxDelay > 0 && d >= p.MaxDelay {
				return p.MaxDelay
			}
		}
		if p.MaxDelay > 0 && d > p.MaxDelay {
			return p.MaxDelay
		}
		return d
	default: // fixed
		return p.BaseDelay
	}
}
