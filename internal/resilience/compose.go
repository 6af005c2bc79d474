package resilience

import "context"

// Call wraps fn with the circuit breaker inside the retry loop: each retry
// attempt is itself one breaker call, so a single non-retryable failure
// still only counts once against the breaker, and a breaker trip short
// circuits the remaining retry budget immediately (design note in spec §9:
// "Apply breaker inside retry: each retry attempt is one breaker call.").
func Call(ctx context.Context, policy RetryPolicy, breaker *Breaker, fn func(context.Context) error) error {
	_, err := Do(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, breaker.Do(ctx, fn)
	})
	return err
}
