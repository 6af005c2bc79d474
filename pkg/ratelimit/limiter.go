// Package ratelimit implements the flow-control layer of spec §4.1/§7: a
// Redis-backed fixed-window counter per caller that turns sustained
// over-quota traffic into RATE_LIMIT_EXCEEDED and a single momentary burst
// into REQUEST_THROTTLED, both carrying a retry-after duration for the
// caller and the corresponding HTTP header.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kafkaops/agent/internal/errs"
)

// Limiter enforces a per-key request quota using Redis INCR + EXPIRE.
type Limiter struct {
	redis  *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// Config tunes the limiter's quota and window.
type Config struct {
	Limit  int
	Window time.Duration
	Prefix string
}

// DefaultConfig allows 100 requests per minute per key.
func DefaultConfig() Config {
	return Config{Limit: 100, Window: time.Minute, Prefix: "ratelimit"}
}

// New builds a Limiter backed by rdb.
func New(rdb *redis.Client, cfg Config) *Limiter {
	if cfg.Limit <= 0 {
		cfg.Limit = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "ratelimit"
	}
	return &Limiter{redis: rdb, limit: cfg.Limit, window: cfg.Window, prefix: cfg.Prefix}
}

// Result reports the outcome of a quota check.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Allow increments key's counter in the current window and reports whether
// the caller is still within quota. The first increment in a window sets
// its expiry; a key with no expiry (clock skew / prior failed EXPIRE) gets
// one assigned defensively so a counter never lives forever.
func (l *Limiter) Allow(ctx context.Context, key string) (*Result, error) {
	fullKey := fmt.Sprintf("%s:%s", l.prefix, key)

	pipe := l.redis.TxPipeline()
	incr := pipe.Incr(ctx, fullKey)
	ttl := pipe.TTL(ctx, fullKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errs.Wrap(errs.KindInternal, "checking rate limit", err)
	}

	count := incr.Val()
	remain := ttl.Val()
	if remain < 0 {
		l.redis.Expire(ctx, fullKey, l.window)
		remain = l.window
	}

	if count > int64(l.limit) {
		return &Result{Allowed: false, Remaining: 0, RetryAfter: remain}, nil
	}
	return &Result{Allowed: true, Remaining: l.limit - int(count), RetryAfter: 0}, nil
}

// Reset clears key's counter, e.g. after a successful privileged operation
// that should not count against a caller's quota.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	fullKey := fmt.Sprintf("%s:%s", l.prefix, key)
	if err := l.redis.Del(ctx, fullKey).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return errs.Wrap(errs.KindInternal, "resetting rate limit", err)
	}
	return nil
}

// CheckSustained enforces the long-window quota and returns a taxonomy
// error carrying retry-after details on rejection (spec §7: rate-limit
// errors carry retry_after_seconds).
func (l *Limiter) CheckSustained(ctx context.Context, key string) error {
	res, err := l.Allow(ctx, key)
	if err != nil {
		return err
	}
	if !res.Allowed {
		return errs.New(errs.KindRateLimitExceeded, "request quota exceeded").
			WithDetails(map[string]any{"retry_after_seconds": int(res.RetryAfter.Seconds())})
	}
	return nil
}

// Throttle enforces a short-window burst limiter distinct from the
// sustained quota above (e.g. a tighter per-second cap guarding a single
// expensive admin operation) and returns REQUEST_THROTTLED on rejection.
func (l *Limiter) Throttle(ctx context.Context, burstLimiter *Limiter, key string) error {
	res, err := burstLimiter.Allow(ctx, key)
	if err != nil {
		return err
	}
	if !res.Allowed {
		return errs.New(errs.KindRequestThrottled, "request rate exceeded, slow down").
			WithDetails(map[string]any{"retry_after_seconds": int(res.RetryAfter.Seconds())})
	}
	return nil
}
