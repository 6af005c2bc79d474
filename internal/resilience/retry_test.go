package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kafkaops/agent/internal/errs"
)

func TestDoMaxAttemptsOne(t *testing.T) {
	calls := 0
	policy := RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, Growth: GrowthFixed}

	_, err := Do(context.Background(), policy, func(ctx context.Context) (struct{}, error) {
		calls++
		return struct{}{}, errors.New("boom")
	})

	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 call, got %d", calls)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, Growth: GrowthFixed}

	_, err := Do(context.Background(), policy, func(ctx context.Context) (struct{}, error) {
		calls++
		return struct{}{}, errs.New(errs.KindValidation, "bad input")
	})

	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Errorf("non-retryable error should stop after 1 call, got %d", calls)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, Growth: GrowthFixed}

	v, err := Do(context.Background(), policy, func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errs.New(errs.KindKafkaConnectionError, "unreachable")
		}
		return 42, nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Errorf("expected value 42, got %d", v)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDelayForGrowthStrategies(t *testing.T) {
	exp := RetryPolicy{BaseDelay: 100 * time.Millisecond, Factor: 2, Growth: GrowthExponential, MaxDelay: time.Second}
	if d := exp.delayFor(1); d != 100*time.Millisecond {
		t.Errorf("exponential attempt 1 = %v, want 100ms", d)
	}
	if d := exp.delayFor(3); d != 400*time.Millisecond {
		t.Errorf("exponential attempt 3 = %v, want 400ms", d)
	}
	if d := exp.delayFor(10); d != time.Second {
		t.Errorf("exponential should cap at MaxDelay, got %v", d)
	}

	lin := RetryPolicy{BaseDelay: 100 * time.Millisecond, Growth: GrowthLinear}
	if d := lin.delayFor(3); d != 300*time.Millisecond {
		t.Errorf("linear attempt 3 = %v, want 300ms", d)
	}

	fixed := RetryPolicy{BaseDelay: 50 * time.Millisecond, Growth: GrowthFixed}
	if d := fixed.delayFor(5); d != 50*time.Millisecond {
		t.Errorf("fixed should never grow, got %v", d)
	}
}
