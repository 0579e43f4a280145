package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Scope names one of the three windows. Values are stable: they surface in
// refusal errors and audit metadata.
type Scope string

const (
	ScopeIdentityRequest Scope = "identity_request"
	ScopeOriginRequest   Scope = "origin_request"
	ScopeIdentityFailure Scope = "identity_failure"
)

var (
	// ErrUnavailable indicates the counter backend is unreachable.
	ErrUnavailable = errors.New("rate limiter backend unavailable")
)

// Config holds the window tuning for all three scopes.
type Config struct {
	IdentityRequestLimit  int
	IdentityRequestWindow time.Duration

	EnableOriginThrottle bool
	OriginRequestLimit   int
	OriginRequestWindow  time.Duration

	FailureLimit  int
	FailureWindow time.Duration
}

// Refusal describes a refused window check.
type Refusal struct {
	Scope      Scope
	RetryAfter time.Duration
}

// Limiter evaluates and advances the fixed windows against Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
	config Config
}

// New creates a [Limiter] backed by the given Redis client. All keys are
// namespaced under prefix.
func New(redisClient redis.UniversalClient, prefix string, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		prefix: prefix,
		config: cfg,
	}
}

// CheckRequest advances the request windows for an OTP request: the
// per-identity window first, then the per-origin window. The first refused
// window short-circuits the rest. A nil Refusal means the request is
// allowed by every window it touched.
func (l *Limiter) CheckRequest(ctx context.Context, identity, origin string) (*Refusal, error) {
	refusal, err := l.consume(ctx, l.requestKey(identity), ScopeIdentityRequest,
		l.config.IdentityRequestLimit, l.config.IdentityRequestWindow)
	if err != nil || refusal != nil {
		return refusal, err
	}

	if l.config.EnableOriginThrottle && origin != "" {
		refusal, err = l.consume(ctx, l.originKey(origin), ScopeOriginRequest,
			l.config.OriginRequestLimit, l.config.OriginRequestWindow)
		if err != nil || refusal != nil {
			return refusal, err
		}
	}

	return nil, nil
}

// RecordFailure advances the failure window for an identity and returns the
// new count. The caller compares the count against the threshold; this
// method never refuses.
func (l *Limiter) RecordFailure(ctx context.Context, identity string) (int64, error) {
	return l.incrementWithTTL(ctx, l.failureKey(identity), l.config.FailureWindow)
}

// LockoutStatus reports whether the identity's failure window has reached
// its threshold, and for how much longer. Pure read: a locked identity
// probing its own status cannot extend the lock.
func (l *Limiter) LockoutStatus(ctx context.Context, identity string) (bool, time.Duration, error) {
	key := l.failureKey(identity)

	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if count < int64(l.config.FailureLimit) {
		return false, 0, nil
	}

	retryAfter, err := l.remaining(ctx, key, l.config.FailureWindow)
	if err != nil {
		return false, 0, err
	}
	return true, retryAfter, nil
}

// FailureCount returns the current failed-verification count for an
// identity. Missing keys return zero and do not reveal identity existence.
func (l *Limiter) FailureCount(ctx context.Context, identity string) (int, error) {
	count, err := l.redis.Get(ctx, l.failureKey(identity)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) consume(ctx context.Context, key string, scope Scope, limit int, window time.Duration) (*Refusal, error) {
	count, err := l.incrementWithTTL(ctx, key, window)
	if err != nil {
		return nil, err
	}
	if count <= int64(limit) {
		return nil, nil
	}

	retryAfter, err := l.remaining(ctx, key, window)
	if err != nil {
		return nil, err
	}
	return &Refusal{Scope: scope, RetryAfter: retryAfter}, nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Fixed-window semantics: the first hit in the window owns the expiry.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	return count, nil
}

// remaining reads the key TTL, clamping the no-expiry and missing-key
// answers to sane bounds so callers always get a usable retry hint.
func (l *Limiter) remaining(ctx context.Context, key string, window time.Duration) (time.Duration, error) {
	ttl, err := l.redis.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ttl < 0 {
		// -2: key expired between calls; -1: no expiry was set (lost
		// EXPIRE after a crash). Report the full window rather than zero.
		return window, nil
	}
	return ttl, nil
}

func (l *Limiter) requestKey(identity string) string {
	return l.prefix + ":req:" + identity
}

func (l *Limiter) originKey(origin string) string {
	return l.prefix + ":ip:" + origin
}

func (l *Limiter) failureKey(identity string) string {
	return l.prefix + ":fail:" + identity
}
