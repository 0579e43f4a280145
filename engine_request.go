package mailotp

import (
	"context"
	"strconv"
)

// RequestOTP issues a fresh passcode for the identity and queues its
// delivery. The origin address, when attached via [WithClientIP], is
// throttled alongside the identity.
//
// Window order is fixed: per-identity first, per-origin second, first
// refusal short-circuits. A refused call returns a [*RateLimitError],
// mutates no OTP state, and emits no lifecycle event. The refused window's
// own counter has already advanced; refusals never roll a counter back.
//
// Success means "code issued and queued", not "mail delivered": the
// Notifier and the audit sink run behind their dispatchers and cannot fail
// this call.
func (e *Engine) RequestOTP(ctx context.Context, identity string) (*RequestResult, error) {
	if e == nil || e.limiter == nil || e.otpStore == nil {
		return nil, ErrEngineNotReady
	}

	identity, err := NormalizeIdentity(identity)
	if err != nil {
		return nil, err
	}

	origin := clientIPFromContext(ctx)

	limitCtx, cancel := e.storeContext(ctx)
	refusal, err := e.limiter.CheckRequest(limitCtx, identity, origin)
	cancel()
	if err != nil {
		e.metricInc(MetricStoreError)
		return nil, wrapStoreErr(err)
	}
	if refusal != nil {
		e.metricInc(MetricRequestRateLimited)
		return nil, &RateLimitError{
			Scope:      LimitScope(refusal.Scope),
			RetryAfter: refusal.RetryAfter,
		}
	}

	issueCtx, cancel := e.storeContext(ctx)
	code, err := e.otpStore.Issue(issueCtx, identity)
	cancel()
	if err != nil {
		e.metricInc(MetricStoreError)
		return nil, wrapStoreErr(err)
	}

	if e.notify != nil {
		e.notify.Dispatch(ctx, notifyMessage{Identity: identity, Code: code})
	}
	e.emitAudit(ctx, auditEventOTPRequested, true, identity, nil, func() map[string]string {
		return map[string]string{
			"expiry_seconds": strconv.Itoa(int(e.config.OTP.TTL.Seconds())),
		}
	})
	e.metricInc(MetricOTPRequested)

	return &RequestResult{
		Identity:  identity,
		ExpiresIn: e.otpTTL(),
	}, nil
}
