package worker

import (
	"math"
	"math/rand/v2"
	"time"

	"mindsync/internal/config"
	"mindsync/internal/models"
)

// RetryPolicy defines exponential backoff parameters.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// Jitter is the upper bound of the random fraction added to each delay, clamped to [0, 1].
	Jitter float64
}

// DefaultRetryPolicy is 5 attempts, 1s base doubling up to 5m, 20% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   models.DefaultMaxAttempts,
		BaseDelay:     time.Second,
		MaxDelay:      5 * time.Minute,
		BackoffFactor: 2,
		Jitter:        0.2,
	}
}

// PolicyFromConfig builds a policy from the sync section.
func PolicyFromConfig(cfg config.SyncConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   cfg.MaxAttempts,
		BaseDelay:     cfg.BaseDelay,
		MaxDelay:      cfg.MaxDelay,
		BackoffFactor: cfg.BackoffFactor,
		Jitter:        cfg.Jitter,
	}.normalized()
}

func (r RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = def.MaxAttempts
	}
	if r.BaseDelay <= 0 {
		r.BaseDelay = def.BaseDelay
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = def.MaxDelay
	}
	if r.MaxDelay < r.BaseDelay {
		r.MaxDelay = r.BaseDelay
	}
	if r.BackoffFactor < 1 {
		r.BackoffFactor = def.BackoffFactor
	}
	if r.Jitter < 0 {
		r.Jitter = 0
	}
	if r.Jitter > 1 {
		r.Jitter = 1
	}
	// keeps base*f^n*(1+jitter) <= base*f^(n+1)
	if r.Jitter > r.BackoffFactor-1 {
		r.Jitter = r.BackoffFactor - 1
	}
	return r
}

// Delay returns the wait before the next attempt, where attempt is 0-based.
// The result is positive, never exceeds MaxDelay, and does not decrease as attempt grows.
func (r RetryPolicy) Delay(attempt int) time.Duration {
	r = r.normalized()
	if attempt < 0 {
		attempt = 0
	}

	d := r.MaxDelay
	if exp := float64(r.BaseDelay) * math.Pow(r.BackoffFactor, float64(attempt)); exp < float64(r.MaxDelay) {
		d = time.Duration(exp)
	}

	if r.Jitter > 0 {
		d += time.Duration(rand.Float64() * r.Jitter * float64(d))
	}
	if d > r.MaxDelay {
		d = r.MaxDelay
	}
	if d <= 0 {
		d = r.BaseDelay
	}
	return d
}
