package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/kafkaops/agent/internal/errs"
)

// State is one of the three circuit breaker states from spec §4.1.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// BreakerConfig configures a single named circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures to trip CLOSED -> OPEN
	RecoveryTimeout  time.Duration // OPEN -> HALF_OPEN after this elapses
	SuccessThreshold int           // consecutive successes to close HALF_OPEN -> CLOSED
	CallTimeout      time.Duration // per-call timeout; 0 disables
}

// Breaker is a named, concurrency-safe circuit breaker.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu              sync.Mutex
	state           State
	consecFailures  int
	consecSuccesses int
	openedAt        time.Time

	onStateChange func(name string, state State)
}

// NewBreaker creates a breaker in the CLOSED state.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	return &Breaker{name: name, cfg: cfg, state: StateClosed}
}

// OnStateChange registers a callback invoked whenever the breaker transitions.
// Used to drive the CircuitBreakerState metric; must not block.
func (b *Breaker) OnStateChange(fn func(name string, state State)) {
	b.mu.Lock()
	b.onStateChange = fn
	b.mu.Unlock()
}

func (b *Breaker) Name() string { return b.name }

// State returns the current state, first applying the OPEN->HALF_OPEN
// transition if the recovery timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeRecoverLocked()
	return b.state
}

func (b *Breaker) maybeRecoverLocked() {
	if b.state == StateOpen && time.Since(b.openedAt) >= b.cfg.RecoveryTimeout {
		b.setStateLocked(StateHalfOpen)
		b.consecSuccesses = 0
	}
}

func (b *Breaker) setStateLocked(s State) {
	if b.state == s {
		return
	}
	b.state = s
	if b.onStateChange != nil {
		cb, name := b.onStateChange, b.name
		go cb(name, s)
	}
}

// Reset forces the breaker back to CLOSED, clearing all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecFailures = 0
	b.consecSuccesses = 0
	b.setStateLocked(StateClosed)
}

// recordSuccess and recordFailure implement the state diagram in spec §4.1:
//
//	CLOSED    --N consecutive failures-->  OPEN
//	OPEN      --recovery_timeout elapsed--> HALF_OPEN
//	HALF_OPEN --K consecutive successes-->  CLOSED
//	HALF_OPEN --any failure-->              OPEN
func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecFailures = 0
	switch b.state {
	case StateClosed:
		// success in CLOSED just resets the failure counter (already done).
	case StateHalfOpen:
		b.consecSuccesses++
		if b.consecSuccesses >= b.cfg.SuccessThreshold {
			b.setStateLocked(StateClosed)
			b.consecSuccesses = 0
		}
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecSuccesses = 0
	switch b.state {
	case StateClosed:
		b.consecFailures++
		if b.consecFailures >= b.cfg.FailureThreshold {
			b.setStateLocked(StateOpen)
			b.openedAt = time.Now()
			b.consecFailures = 0
		}
	case StateHalfOpen:
		b.setStateLocked(StateOpen)
		b.openedAt = time.Now()
		b.consecFailures = 0
	}
}

// Allow reports whether a call may proceed right now, applying the
// OPEN->HALF_OPEN recovery transition as a side effect.
func (b *Breaker) Allow() bool {
	return b.State() != StateOpen
}

// Do executes fn if the breaker allows it. When OPEN, fn is never called and
// Do fails fast with an INTERNAL_ERROR carrying {circuit_state: open}.
// Non-retryable errors per errs.Retryable are still recorded as failures —
// the retry decorator, not the breaker, is responsible for not retrying them.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if !b.Allow() {
		return errs.New(errs.KindInternal, "circuit breaker open for "+b.name).
			WithDetails(map[string]any{"circuit_state": "open", "breaker": b.name})
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if b.cfg.CallTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, b.cfg.CallTimeout)
		defer cancel()
	}

	err := fn(callCtx)
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}
