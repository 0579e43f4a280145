package mailotp

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidIdentity is returned when the supplied identity is empty or
	// not a syntactically valid email address.
	ErrInvalidIdentity = errors.New("invalid identity")
	// ErrInvalidOTP is returned when verification fails. The same error is
	// reported for a wrong code, an expired code, and a code that was never
	// requested; callers cannot distinguish the three.
	ErrInvalidOTP = errors.New("invalid otp")
	// ErrRateLimited is returned when a request window is exhausted.
	// The concrete error is a [*RateLimitError] carrying scope and retry hint.
	ErrRateLimited = errors.New("rate limited")
	// ErrAccountLocked is returned when the failure window for an identity
	// has reached its threshold. The concrete error is a [*LockoutError].
	ErrAccountLocked = errors.New("account locked")
	// ErrStoreUnavailable is returned when Redis cannot be reached or a
	// store call times out. The operation fails closed: no limit is ever
	// bypassed because its counter could not be read.
	ErrStoreUnavailable = errors.New("otp store unavailable")
	// ErrEngineNotReady is returned when an Engine method is called before
	// the engine was assembled through [Builder.Build].
	ErrEngineNotReady = errors.New("engine not initialized")
)

// LimitScope names the rate window that refused a request.
type LimitScope string

const (
	// ScopeIdentityRequest is the per-identity OTP request window.
	ScopeIdentityRequest LimitScope = "identity_request"
	// ScopeOriginRequest is the per-origin-address OTP request window.
	ScopeOriginRequest LimitScope = "origin_request"
	// ScopeIdentityFailure is the per-identity failed-verification window.
	ScopeIdentityFailure LimitScope = "identity_failure"
)

// RateLimitError reports a refused RequestOTP call. It unwraps to
// [ErrRateLimited] so errors.Is works across the taxonomy.
type RateLimitError struct {
	Scope      LimitScope
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (%s), retry after %s", e.Scope, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// LockoutError reports a verification refused because the identity's
// failure window reached its threshold. It unwraps to [ErrAccountLocked].
type LockoutError struct {
	RetryAfter time.Duration
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("account locked, retry after %s", e.RetryAfter)
}

func (e *LockoutError) Unwrap() error { return ErrAccountLocked }
