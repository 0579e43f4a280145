package mailotp

import (
	"errors"
	"time"
)

// Config carries every tunable of the engine. Zero values are filled from
// [DefaultConfig] by the builder; explicit values are validated at Build
// time so a misconfigured engine never serves a request.
type Config struct {
	OTP     OTPConfig
	Limits  LimitsConfig
	Audit   AuditConfig
	Notify  NotifyConfig
	JWT     JWTConfig
	Metrics MetricsConfig

	// RedisPrefix namespaces every key the engine writes. Multiple engines
	// may share one Redis as long as their prefixes differ.
	RedisPrefix string

	// StoreTimeout bounds each individual Redis round trip. A timeout is a
	// store failure: the request fails closed with ErrStoreUnavailable.
	StoreTimeout time.Duration
}

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig controls passcode shape and lifetime.
type OTPConfig struct {
	// Digits is the passcode length. Codes are uniformly random decimal
	// strings; leading zeros are legal.
	Digits int
	// TTL is the passcode lifetime. Issuing a new code restarts it.
	TTL time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// LimitsConfig holds the three independent fixed windows. A window resets
// only by natural expiry, never on success and never on refusal.
type LimitsConfig struct {
	IdentityRequestLimit  int
	IdentityRequestWindow time.Duration

	// EnableOriginThrottle gates the per-origin window. When disabled, or
	// when no origin address is attached to the context, only the
	// per-identity window guards RequestOTP.
	EnableOriginThrottle bool
	OriginRequestLimit   int
	OriginRequestWindow  time.Duration

	// FailureLimit failed verifications inside FailureWindow lock the
	// identity for the remainder of the window.
	FailureLimit  int
	FailureWindow time.Duration
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull makes Emit non-blocking: when the buffer is full the
	// event is counted as dropped instead of stalling the request path.
	DropIfFull bool
}

/*
====================================
NOTIFY CONFIG
====================================
*/

// NotifyConfig controls the asynchronous delivery dispatcher. Retries with
// backoff happen entirely inside the dispatcher; the RequestOTP caller
// never observes a delivery failure.
type NotifyConfig struct {
	BufferSize int
	DropIfFull bool

	// MaxAttempts caps delivery tries per passcode, including the first.
	MaxAttempts int
	// InitialBackoff seeds the Fibonacci backoff between attempts;
	// MaxBackoff caps a single wait.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// SendTimeout bounds one Notifier.Send call.
	SendTimeout time.Duration
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures the built-in token issuer. Ignored when the host
// injects its own [TokenIssuer].
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns the stock policy: 6-digit codes valid 5 minutes,
// 3 requests per identity per 10 minutes, 10 requests per origin per hour,
// lockout after 5 failed verifications in 15 minutes.
func DefaultConfig() Config {
	return Config{
		OTP: OTPConfig{
			Digits: 6,
			TTL:    5 * time.Minute,
		},
		Limits: LimitsConfig{
			IdentityRequestLimit:  3,
			IdentityRequestWindow: 10 * time.Minute,
			EnableOriginThrottle:  true,
			OriginRequestLimit:    10,
			OriginRequestWindow:   time.Hour,
			FailureLimit:          5,
			FailureWindow:         15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Notify: NotifyConfig{
			BufferSize:     256,
			DropIfFull:     false,
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
			SendTimeout:    15 * time.Second,
		},
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "hs256",
			Issuer:        "mailotp",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		RedisPrefix:  "mo",
		StoreTimeout: 3 * time.Second,
	}
}

func validateConfig(cfg Config) error {
	if cfg.OTP.Digits < 6 || cfg.OTP.Digits > 10 {
		return errors.New("otp digits must be between 6 and 10")
	}
	if cfg.OTP.TTL <= 0 {
		return errors.New("otp ttl must be positive")
	}
	if cfg.Limits.IdentityRequestLimit <= 0 || cfg.Limits.IdentityRequestWindow <= 0 {
		return errors.New("identity request window misconfigured")
	}
	if cfg.Limits.EnableOriginThrottle &&
		(cfg.Limits.OriginRequestLimit <= 0 || cfg.Limits.OriginRequestWindow <= 0) {
		return errors.New("origin request window misconfigured")
	}
	if cfg.Limits.FailureLimit <= 0 || cfg.Limits.FailureWindow <= 0 {
		return errors.New("failure window misconfigured")
	}
	// A lockout window shorter than the code lifetime would let a locked
	// identity outlive its own penalty while a live code still exists.
	if cfg.Limits.FailureWindow < cfg.OTP.TTL {
		return errors.New("failure window must not be shorter than otp ttl")
	}
	if cfg.RedisPrefix == "" {
		return errors.New("redis prefix must not be empty")
	}
	if cfg.StoreTimeout <= 0 {
		return errors.New("store timeout must be positive")
	}
	if cfg.Audit.Enabled && cfg.Audit.BufferSize <= 0 {
		return errors.New("audit buffer size must be positive")
	}
	if cfg.Notify.BufferSize <= 0 || cfg.Notify.MaxAttempts <= 0 {
		return errors.New("notify dispatcher misconfigured")
	}
	if cfg.Notify.InitialBackoff <= 0 || cfg.Notify.MaxBackoff < cfg.Notify.InitialBackoff {
		return errors.New("notify backoff misconfigured")
	}
	if cfg.Notify.SendTimeout <= 0 {
		return errors.New("notify send timeout must be positive")
	}
	return nil
}
