package mailotp

import (
	"context"
	"strconv"
)

// VerifyOTP checks a supplied passcode and, on success, resolves the user
// record and issues session tokens.
//
// The lockout window is consulted first, without incrementing: attempts
// against a locked identity are refused with [*LockoutError] before the
// passcode record is touched, and cannot extend the lock. On a mismatch
// the failure window advances and [ErrInvalidOTP] comes back; the response
// is identical whether the code was wrong, expired, or never requested.
// The attempt that raises the failure count to the threshold still reports
// ErrInvalidOTP; the lock takes effect from the following attempt.
//
// A consumed code is deleted atomically with the comparison: of any number
// of concurrent verifications carrying the correct code, at most one
// succeeds.
func (e *Engine) VerifyOTP(ctx context.Context, identity, code string) (*VerifyResult, error) {
	if e == nil || e.limiter == nil || e.otpStore == nil || e.users == nil || e.issuer == nil {
		return nil, ErrEngineNotReady
	}

	identity, err := NormalizeIdentity(identity)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, ErrInvalidOTP
	}

	lockCtx, cancel := e.storeContext(ctx)
	locked, retryAfter, err := e.limiter.LockoutStatus(lockCtx, identity)
	cancel()
	if err != nil {
		e.metricInc(MetricStoreError)
		return nil, wrapStoreErr(err)
	}
	if locked {
		e.metricInc(MetricLockoutHit)
		lockErr := &LockoutError{RetryAfter: retryAfter}
		e.emitAudit(ctx, auditEventOTPLocked, false, identity, lockErr, func() map[string]string {
			return map[string]string{
				"unlock_eta_seconds": strconv.Itoa(int(retryAfter.Seconds())),
			}
		})
		return nil, lockErr
	}

	consumeCtx, cancel := e.storeContext(ctx)
	matched, err := e.otpStore.Consume(consumeCtx, identity, code)
	cancel()
	if err != nil {
		e.metricInc(MetricStoreError)
		return nil, wrapStoreErr(err)
	}

	if !matched {
		failCtx, cancel := e.storeContext(ctx)
		failures, err := e.limiter.RecordFailure(failCtx, identity)
		cancel()
		if err != nil {
			e.metricInc(MetricStoreError)
			return nil, wrapStoreErr(err)
		}

		e.metricInc(MetricVerifyFailed)
		e.emitAudit(ctx, auditEventVerifyFailed, false, identity, ErrInvalidOTP, func() map[string]string {
			return map[string]string{
				"failed_attempts": strconv.FormatInt(failures, 10),
			}
		})

		// The attempt that reaches the threshold is still an invalid-code
		// answer; the lock only refuses attempts after it.
		if failures == int64(e.config.Limits.FailureLimit) {
			e.metricInc(MetricLockoutHit)
			e.emitAudit(ctx, auditEventOTPLocked, false, identity, ErrAccountLocked, func() map[string]string {
				return map[string]string{
					"reason": "max_failed_attempts",
				}
			})
		}

		return nil, ErrInvalidOTP
	}

	// The failure window is left alone on success: it resets only by
	// natural expiry.
	user, err := e.users.GetOrCreate(ctx, identity)
	if err != nil {
		return nil, err
	}

	tokens, err := e.issuer.Issue(ctx, user)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricTokensIssued)

	e.emitAudit(ctx, auditEventOTPVerified, true, identity, nil, func() map[string]string {
		return map[string]string{
			"user_id":      user.ID,
			"user_created": strconv.FormatBool(user.Created),
		}
	})
	e.metricInc(MetricOTPVerified)

	return &VerifyResult{
		User:         user,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	}, nil
}
