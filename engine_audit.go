package mailotp

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Audit event types. Names are wire-stable: downstream log consumers key
// on them.
const (
	auditEventOTPRequested = "OTP_REQUESTED"
	auditEventVerifyFailed = "OTP_VERIFY_FAILED"
	auditEventOTPVerified  = "OTP_VERIFIED"
	auditEventOTPLocked    = "OTP_LOCKED"
)

// AuditErrorCode is the stable error label recorded on failed events.
type AuditErrorCode string

const (
	auditErrInvalidOTP       AuditErrorCode = "invalid_otp"
	auditErrAccountLocked    AuditErrorCode = "account_locked"
	auditErrRateLimited      AuditErrorCode = "rate_limited"
	auditErrStoreUnavailable AuditErrorCode = "store_unavailable"
	auditErrInvalidIdentity  AuditErrorCode = "invalid_identity"
	auditErrInternal         AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	identity string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Identity:  identity,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidOTP):
		return auditErrInvalidOTP
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrStoreUnavailable
	case errors.Is(err, ErrInvalidIdentity):
		return auditErrInvalidIdentity
	default:
		return auditErrInternal
	}
}
