package mailotp

import (
	"context"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// User is the account record resolved by [UserStore.GetOrCreate] after a
// successful verification.
type User struct {
	ID       string
	Email    string
	Created  bool
	JoinedAt time.Time
}

// UserStore is the user-record collaborator. The Engine calls it exactly
// once per successful verification; implementations own persistence,
// uniqueness, and any profile fields beyond the email identity.
type UserStore interface {
	GetOrCreate(ctx context.Context, identity string) (User, error)
}

// TokenPair carries the session tokens issued after verification.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// TokenIssuer mints session tokens for a resolved user. The default
// implementation is [jwt.Manager]; hosts may substitute their own.
type TokenIssuer interface {
	Issue(ctx context.Context, user User) (TokenPair, error)
}

// Notifier delivers a freshly issued passcode to the identity's mailbox.
// Send is invoked from the notify dispatcher, never from the request path;
// a returned error triggers the dispatcher's backoff retries and is never
// visible to the RequestOTP caller.
type Notifier interface {
	Send(ctx context.Context, identity, code string) error
}

// RequestResult is returned by [Engine.RequestOTP] on acceptance. It
// confirms issuance, not delivery.
type RequestResult struct {
	Identity  string
	ExpiresIn time.Duration
}

// VerifyResult is returned by [Engine.VerifyOTP] on success.
type VerifyResult struct {
	User         User
	AccessToken  string
	RefreshToken string
}

// NormalizeIdentity canonicalizes an email identity: surrounding whitespace
// stripped, lower-cased, then checked for address syntax. Every Engine
// entry point normalizes before touching any keyed state, so "A@x.com" and
// "a@x.com " share one OTP record and one set of windows.
func NormalizeIdentity(identity string) (string, error) {
	identity = strings.ToLower(strings.TrimSpace(identity))
	if identity == "" {
		return "", ErrInvalidIdentity
	}

	addr, err := mail.ParseAddress(identity)
	if err != nil || addr.Address != identity {
		return "", ErrInvalidIdentity
	}

	return identity, nil
}

// MemoryUserStore is an in-process [UserStore] for tests, demos, and
// single-node deployments. Records do not survive a restart.
type MemoryUserStore struct {
	mu    sync.Mutex
	users map[string]User
}

// NewMemoryUserStore returns an empty in-memory user store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]User)}
}

// GetOrCreate returns the existing record for identity or creates one with
// a fresh UUID. The Created flag reports which case occurred on this call.
func (s *MemoryUserStore) GetOrCreate(_ context.Context, identity string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[identity]; ok {
		u.Created = false
		return u, nil
	}

	u := User{
		ID:       uuid.NewString(),
		Email:    identity,
		Created:  true,
		JoinedAt: time.Now().UTC(),
	}
	s.users[identity] = u
	return u, nil
}

// Len reports the number of stored users.
func (s *MemoryUserStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}
