package queuex

import (
	"math/rand"
	"time"
)

// RetryPolicy decides whether and when a failed job should run again.
// MaxAttempts bounds the total number of executions; Backoff shapes the
// delay between them.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     Backoff

	// JitterFraction spreads the delay by up to this fraction to avoid
	// synchronized retry storms. Zero disables jitter.
	JitterFraction float64
}

// PolicyFor builds the retry policy recorded on a job.
func PolicyFor(job *Job) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    job.MaxAttempts,
		Backoff:        job.Backoff,
		JitterFraction: defaultJitterFraction,
	}
}

const defaultJitterFraction = 0.1

// NextDelay returns the delay before the next attempt, given how many
// attempts have already been made. The second return is false when retries
// are exhausted.
func (p RetryPolicy) NextDelay(attemptsMade int) (time.Duration, bool) {
	if attemptsMade >= p.MaxAttempts {
		return 0, false
	}
	if attemptsMade < 1 {
		attemptsMade = 1
	}

	base := p.Backoff.Base
	if base <= 0 {
		base = DefaultBackoff().Base
	}

	var delay time.Duration
	switch p.Backoff.Type {
	case BackoffFixed:
		delay = base
	default:
		// Exponential: base * 2^(attemptsMade-1), capped. The shift is
		// bounded to keep the multiplication from overflowing.
		shift := attemptsMade - 1
		if shift > 32 {
			shift = 32
		}
		delay = base << shift
		if p.Backoff.Cap > 0 && delay > p.Backoff.Cap {
			delay = p.Backoff.Cap
		}
	}

	if p.JitterFraction > 0 {
		span := float64(delay) * p.JitterFraction
		delay += time.Duration(rand.Float64() * span)
	}

	return delay, true
}
