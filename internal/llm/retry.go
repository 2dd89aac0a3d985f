package llm

import (
	"math/rand/v2"
	"time"
)

// RetryConfig holds retry behavior for provider requests.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BackoffBase is the wait before the first retry.
	BackoffBase time.Duration

	// BackoffMultiplier is applied to the wait on each further retry.
	BackoffMultiplier float64

	// MaxBackoff caps the wait between attempts.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns the retry defaults for provider requests.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}

// backoff computes the wait before retrying after the given attempt, with
// +/- 25% jitter so concurrent clients do not retry in lockstep.
func (rc RetryConfig) backoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= rc.BackoffMultiplier
	}

	wait := time.Duration(float64(rc.BackoffBase) * multiplier)
	if wait > rc.MaxBackoff {
		wait = rc.MaxBackoff
	}

	jitter := float64(wait) * 0.25 * (rand.Float64()*2 - 1)
	return wait + time.Duration(jitter)
}
