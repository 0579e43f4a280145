package mailotp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mailotp/mailotp/internal/rate"
)

// Engine orchestrates the OTP lifecycle: issuance behind the request
// windows, at-most-once verification behind the lockout window, token
// issuance, and fire-and-forget audit/delivery dispatch.
//
// An Engine is assembled once through [Builder.Build] and is then safe for
// arbitrary concurrent use. It holds no per-identity state of its own;
// Redis is the single shared mutable resource, and the store's atomic
// primitives carry every cross-request guarantee.
type Engine struct {
	config   Config
	limiter  *rate.Limiter
	otpStore *otpStore
	users    UserStore
	issuer   TokenIssuer
	audit    *auditDispatcher
	notify   *notifyDispatcher
	metrics  *Metrics
}

// Close shuts down the background dispatchers, draining buffered audit
// events and pending deliveries first. Engine methods called after Close
// still verify and issue; only the asynchronous side effects stop.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.notify != nil {
		e.notify.Close()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports audit events discarded because the dispatch buffer
// was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// NotifyFailed reports passcode deliveries that exhausted every retry.
func (e *Engine) NotifyFailed() uint64 {
	if e == nil || e.notify == nil {
		return 0
	}
	return e.notify.Failed()
}

// MetricsSnapshot copies the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// FailedAttempts reports the identity's current failed-verification count.
// Missing identities read as zero; the call does not reveal whether an OTP
// was ever requested.
func (e *Engine) FailedAttempts(ctx context.Context, identity string) (int, error) {
	if e == nil || e.limiter == nil {
		return 0, ErrEngineNotReady
	}

	identity, err := NormalizeIdentity(identity)
	if err != nil {
		return 0, err
	}

	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	count, err := e.limiter.FailureCount(ctx, identity)
	if err != nil {
		return 0, wrapStoreErr(err)
	}
	return count, nil
}

// storeContext bounds a store round trip with the configured timeout.
func (e *Engine) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if e.config.StoreTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.config.StoreTimeout)
}

// wrapStoreErr folds backend unavailability into the public taxonomy.
// Context expiry is a store failure too: fail closed either way.
func wrapStoreErr(err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// otpTTL is the configured passcode lifetime, exposed for result payloads.
func (e *Engine) otpTTL() time.Duration {
	return e.config.OTP.TTL
}
