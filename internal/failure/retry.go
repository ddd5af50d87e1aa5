package failure

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy controls the RETRY strategy's backoff schedule.
type RetryPolicy struct {
	MaxRetries         int
	BaseDelay          time.Duration
	MaxDelay           time.Duration
	Factor             float64
	Jitter             time.Duration
	ExponentialBackoff bool
}

// DefaultRetryPolicy returns the standard fixed defaults: 3 retries, 1s
// base delay, 60s cap, factor 2.0.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:         3,
		BaseDelay:          time.Second,
		MaxDelay:           60 * time.Second,
		Factor:             2.0,
		Jitter:             0,
		ExponentialBackoff: true,
	}
}

// GetDelay computes min(base_delay * factor^attempt, max_delay) plus a
// uniform offset in [-Jitter, +Jitter], clipped at zero. Jitter is an
// absolute duration; the offset is not scaled by BaseDelay.
func (p RetryPolicy) GetDelay(attempt int) time.Duration {
	base := float64(p.BaseDelay)
	var delay float64
	if p.ExponentialBackoff {
		delay = base * math.Pow(p.Factor, float64(attempt))
	} else {
		delay = base
	}
	if max := float64(p.MaxDelay); max > 0 && delay > max {
		delay = max
	}

	if p.Jitter > 0 {
		jitterRange := float64(p.Jitter)
		delay += (rand.Float64()*2 - 1) * jitterRange
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// ShouldRetry reports whether attempt is still within budget and the error
// code is retryable.
func (p RetryPolicy) ShouldRetry(code ErrorCode, attempt int) bool {
	return code.IsRetryable() && attempt < p.MaxRetries
}
