// Package resilience implements the retry-with-backoff and circuit-breaker
// decorators that wrap every external call the agent makes (spec §4.1).
package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/kafkaops/agent/internal/errs"
)

// GrowthStrategy selects how the delay between attempts grows.
type GrowthStrategy string

const (
	GrowthExponential GrowthStrategy = "exponential"
	GrowthLinear      GrowthStrategy = "linear"
	GrowthFixed       GrowthStrategy = "fixed"
)

// RetryPolicy configures the retry decorator.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Growth      GrowthStrategy
	Factor      float64 // exponential growth factor; defaults to 2 if unset
	Jitter      bool
}

// DefaultRetryPolicy returns a conservative default: 3 attempts, exponential
// backoff starting at 200ms capped at 10s, with jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Growth:      GrowthExponential,
		Factor:      2,
		Jitter:      true,
	}
}

// delayFor computes the un-jittered delay before attempt n (1-indexed).
func (p RetryPolicy) delayFor(n int) time.Duration {
	factor := p.Factor
	if factor <= 0 {
		factor = 2
	}

	var d time.Duration
	switch p.Growth {
	case GrowthLinear:
		d = p.BaseDelay * time.Duration(n)
	case GrowthFixed:
		d = p.BaseDelay
	default: // exponential
		d = time.Duration(float64(p.BaseDelay) * math.Pow(factor, float64(n-1)))
	}

	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// jittered applies ±10% uniform jitter to d.
func jittered(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	delta := float64(d) * 0.10
	offset := (rand.Float64()*2 - 1) * delta // in [-delta, +delta]
	jittered := time.Duration(float64(d) + offset)
	if jittered < 0 {
		return 0
	}
	return jittered
}

// policyBackOff adapts a RetryPolicy to backoff.BackOff so the retry loop can
// be driven by backoff.Retry while honoring the policy's exact math.
type policyBackOff struct {
	policy  RetryPolicy
	attempt int
}

func (b *policyBackOff) NextBackOff() time.Duration {
	b.attempt++
	d := b.policy.delayFor(b.attempt)
	if b.policy.Jitter {
		d = jittered(d)
	}
	return d
}

// Do runs op under the retry policy. A non-retryable *errs.Error (per
// errs.Retryable) short-circuits immediately without consuming further
// attempts. With MaxAttempts=1, op is invoked exactly once.
func Do[T any](ctx context.Context, policy RetryPolicy, op func(context.Context) (T, error)) (T, error) {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	wrapped := func() (T, error) {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if !errs.Retryable(errs.KindOf(err)) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	return backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(&policyBackOff{policy: policy}),
		backoff.WithMaxTries(uint(maxAttempts)),
	)
}
