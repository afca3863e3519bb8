package worker

import (
	"math"
	"math/rand"
	"time"

	"github.com/courier-one/notification-dispatch/internal/config"
)

// RetryPolicy computes exponential backoff with jitter for failed
// delivery attempts.
type RetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	jitterRatio float64
}

// NewRetryPolicy creates a RetryPolicy from config.
func NewRetryPolicy(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		jitterRatio: cfg.JitterRatio,
	}
}

// MaxAttempts returns the total attempt budget per channel.
func (p RetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// Delay returns the backoff before attempt attemptNo+1, given that
// attemptNo attempts have failed: baseDelay * 2^(attemptNo-1), capped at
// maxDelay, with +/- jitterRatio applied after the cap. Jitter keeps
// concurrently failed channels from becoming due in lockstep.
func (p RetryPolicy) Delay(attemptNo int) time.Duration {
	if attemptNo < 1 {
		attemptNo = 1
	}

	delay := float64(p.baseDelay) * math.Pow(2, float64(attemptNo-1))
	if capped := float64(p.maxDelay); delay > capped {
		delay = capped
	}

	jitter := 1 + p.jitterRatio*(rand.Float64()*2-1)
	delay *= jitter

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// NextAttemptAt returns the due time for the retry following a failure
// at now, truncated to the store's millisecond precision.
func (p RetryPolicy) NextAttemptAt(now time.Time, attemptNo int) time.Time {
	return now.Add(p.Delay(attemptNo)).Truncate(time.Millisecond)
}
