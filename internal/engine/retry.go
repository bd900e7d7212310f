package engine

import (
	"context"
	"errors"
	"math"
	"time"
)

// RetryDecision is the outcome of consulting the retry policy after a
// failed attempt.
type RetryDecision struct {
	// Retry indicates the task should be re-admitted.
	Retry bool

	// Delay is how long to wait before re-admission. Zero when Retry is false.
	Delay time.Duration
}

// RetryPolicy decides whether a failed execution attempt is retried and
// with what backoff. It carries no hidden state: identical inputs always
// produce identical decisions.
type RetryPolicy struct {
	// MaxAttempts is the total attempt ceiling, first attempt included.
	MaxAttempts int

	// BaseDelay is the backoff base. Attempt n is retried after
	// BaseDelay * 2^(n-1).
	BaseDelay time.Duration

	// MaxDelay caps the computed delay.
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns a RetryPolicy with reasonable defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    time.Minute,
	}
}

// Decide returns the decision for a failed attempt. attemptNumber is
// 1-indexed: the first execution of a task is attempt 1.
//
// Cancellation is never retried; a task interrupted by shutdown stays
// failed. Everything else retries while attemptNumber < MaxAttempts.
func (p RetryPolicy) Decide(attemptNumber int, cause error) RetryDecision {
	if errors.Is(cause, context.Canceled) || errors.Is(cause, ErrInterrupted) {
		return RetryDecision{}
	}

	if attemptNumber >= p.MaxAttempts {
		return RetryDecision{}
	}

	delay := time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attemptNumber-1)))
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	return RetryDecision{Retry: true, Delay: delay}
}
