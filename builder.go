package mailotp

import (
	"context"
	"errors"

	"github.com/mailotp/mailotp/internal/rate"
	jwtpkg "github.com/mailotp/mailotp/jwt"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. Construction is allocation-only: no I/O
// happens until the first Engine call.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users     UserStore
	issuer    TokenIssuer
	notifier  Notifier
	auditSink AuditSink

	built bool
}

// New starts a builder with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the entire configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the Redis client backing every counter, window, and
// passcode record. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserStore sets the user-record collaborator. Required.
func (b *Builder) WithUserStore(us UserStore) *Builder {
	b.users = us
	return b
}

// WithTokenIssuer overrides the built-in JWT issuer.
func (b *Builder) WithTokenIssuer(ti TokenIssuer) *Builder {
	b.issuer = ti
	return b
}

// WithNotifier sets the passcode delivery collaborator. Without one,
// issued codes are observable only through a host-side TokenIssuer or
// test store.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithAuditSink sets the lifecycle event sink. Without one (and with audit
// enabled) events are dropped by a [NoOpSink].
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// Build validates the configuration and wires the engine. A Builder is
// single-use.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client is required")
	}
	if b.users == nil {
		return nil, errors.New("user store is required")
	}
	if err := validateConfig(b.config); err != nil {
		return nil, err
	}

	issuer := b.issuer
	if issuer == nil {
		manager, err := jwtpkg.NewManager(jwtpkg.Config{
			AccessTTL:     b.config.JWT.AccessTTL,
			RefreshTTL:    b.config.JWT.RefreshTTL,
			SigningMethod: jwtpkg.SigningMethod(b.config.JWT.SigningMethod),
			PrivateKey:    b.config.JWT.PrivateKey,
			PublicKey:     b.config.JWT.PublicKey,
			Issuer:        b.config.JWT.Issuer,
		})
		if err != nil {
			return nil, err
		}
		issuer = &jwtIssuer{manager: manager}
	}

	e := &Engine{
		config: b.config,
		limiter: rate.New(b.redis, b.config.RedisPrefix, rate.Config{
			IdentityRequestLimit:  b.config.Limits.IdentityRequestLimit,
			IdentityRequestWindow: b.config.Limits.IdentityRequestWindow,
			EnableOriginThrottle:  b.config.Limits.EnableOriginThrottle,
			OriginRequestLimit:    b.config.Limits.OriginRequestLimit,
			OriginRequestWindow:   b.config.Limits.OriginRequestWindow,
			FailureLimit:          b.config.Limits.FailureLimit,
			FailureWindow:         b.config.Limits.FailureWindow,
		}),
		otpStore: newOTPStore(b.redis, b.config.RedisPrefix, b.config.OTP.Digits, b.config.OTP.TTL),
		users:    b.users,
		issuer:   issuer,
		audit:    newAuditDispatcher(b.config.Audit, b.auditSink),
		notify:   newNotifyDispatcher(b.config.Notify, b.notifier),
		metrics:  NewMetrics(b.config.Metrics),
	}

	b.built = true
	return e, nil
}

// jwtIssuer adapts [jwtpkg.Manager] to the [TokenIssuer] interface.
type jwtIssuer struct {
	manager *jwtpkg.Manager
}

func (i *jwtIssuer) Issue(ctx context.Context, user User) (TokenPair, error) {
	access, refresh, err := i.manager.IssuePair(user.ID, user.Email)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
