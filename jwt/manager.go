package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	// MethodHS256 signs with a shared secret.
	MethodHS256 SigningMethod = "hs256"
	// MethodEd25519 signs with an Ed25519 key pair.
	MethodEd25519 SigningMethod = "ed25519"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// Config holds the issuer tuning. An empty SigningMethod defaults to
// HS256; an HS256 config without a PrivateKey gets an ephemeral random
// secret, so tokens do not survive a process restart; supply a key for
// anything beyond a single node.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

// Manager mints and parses token pairs. Immutable after NewManager.
type Manager struct {
	config Config
}

// Claims is the claim set carried by both tokens of a pair. TokenType
// distinguishes access from refresh so one can never stand in for the
// other.
type Claims struct {
	Email     string `json:"email,omitempty"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// NewManager validates the configuration and returns a ready Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.RefreshTTL < cfg.AccessTTL {
		return nil, errors.New("refresh TTL shorter than access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.SigningMethod == "" {
		cfg.SigningMethod = MethodHS256
	}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			secret := make([]byte, 32)
			if _, err := rand.Read(secret); err != nil {
				return nil, err
			}
			cfg.PrivateKey = secret
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("ed25519 requires private key")
		}
		if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
			return nil, err
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	return &Manager{config: cfg}, nil
}

// IssuePair mints an access token and a refresh token for the user. Each
// token carries a fresh jti; the pair shares nothing but subject and
// email, so revocation layers can treat them independently.
func (j *Manager) IssuePair(userID, email string) (access string, refresh string, err error) {
	now := time.Now()

	access, err = j.sign(Claims{
		Email:     email,
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.config.AccessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    j.config.Issuer,
		},
	})
	if err != nil {
		return "", "", err
	}

	refresh, err = j.sign(Claims{
		Email:     email,
		TokenType: tokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.config.RefreshTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    j.config.Issuer,
		},
	})
	if err != nil {
		return "", "", err
	}

	return access, refresh, nil
}

// ParseAccess verifies an access token and returns its claims. Refresh
// tokens are rejected.
func (j *Manager) ParseAccess(tokenStr string) (*Claims, error) {
	return j.parse(tokenStr, tokenTypeAccess)
}

// ParseRefresh verifies a refresh token and returns its claims. Access
// tokens are rejected.
func (j *Manager) ParseRefresh(tokenStr string) (*Claims, error) {
	return j.parse(tokenStr, tokenTypeRefresh)
}

func (j *Manager) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(j.getMethod(), claims)

	signKey, err := j.getSignKey()
	if err != nil {
		return "", err
	}

	return token.SignedString(signKey)
}

func (j *Manager) parse(tokenStr, wantType string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.getMethod().Alg()}),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != j.getMethod().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return j.getVerifyKey()
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.TokenType != wantType {
		return nil, fmt.Errorf("unexpected token type %q", claims.TokenType)
	}

	return claims, nil
}

func (j *Manager) getMethod() jwt.SigningMethod {
	switch j.config.SigningMethod {
	case MethodEd25519:
		return jwt.SigningMethodEdDSA
	default:
		return jwt.SigningMethodHS256
	}
}

func (j *Manager) getSignKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodEd25519:
		return parseEdPrivateKey(j.config.PrivateKey)
	default:
		return j.config.PrivateKey, nil
	}
}

func (j *Manager) getVerifyKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodEd25519:
		if len(j.config.PublicKey) > 0 {
			return parseEdPublicKey(j.config.PublicKey)
		}
		priv, err := parseEdPrivateKey(j.config.PrivateKey)
		if err != nil {
			return nil, err
		}
		return priv.Public(), nil
	default:
		return j.config.PrivateKey, nil
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
