package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the token algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

// Scope says what a token may be used for.
type Scope string

const (
	// ScopeAccess is a full session token.
	ScopeAccess Scope = "access"
	// ScopeMFA is the temporary credential issued between primary
	// authentication and the second factor.
	ScopeMFA Scope = "mfa_pending"
	// ScopeReset authorizes one password reset.
	ScopeReset Scope = "password_reset"
	// ScopeIdentity is a re-verification credential bound to a purpose.
	ScopeIdentity Scope = "identity_verified"
)

// Config controls token issuance and verification.
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
	// Now overrides the clock used for iat and exp.
	Now func() time.Time
}

// Manager signs and verifies tokens for the local authority.
type Manager struct {
	config Config
}

// AccessClaims are carried by every token the Manager signs.
type AccessClaims struct {
	UID      int64  `json:"uid"`
	Username string `json:"username,omitempty"`
	Scope    Scope  `json:"scope"`
	// Purpose binds a ScopeIdentity token to one operation.
	Purpose string `json:"purpose,omitempty"`
	jwt.RegisteredClaims
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key")
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	return &Manager{config: cfg}, nil
}

// CreateAccess signs a token for uid. A ttl of zero uses AccessTTL.
func (j *Manager) CreateAccess(uid int64, username string, scope Scope, purpose string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = j.config.AccessTTL
	}
	now := j.config.Now()
	claims := AccessClaims{
		UID:      uid,
		Username: username,
		Scope:    scope,
		Purpose:  purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(uid, 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    j.config.Issuer,
		},
	}

	signKey, err := j.getSignKey()
	if err != nil {
		return "", err
	}
	return jwt.NewWithClaims(j.getMethod(), claims).SignedString(signKey)
}

// ParseAccess verifies a token and requires the given scope.
func (j *Manager) ParseAccess(tokenStr string, scope Scope) (*AccessClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.getMethod().Alg()}),
		jwt.WithTimeFunc(j.config.Now),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &AccessClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != j.getMethod().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return j.getVerifyKey()
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Scope != scope {
		return nil, fmt.Errorf("%w: scope %q", jwt.ErrTokenInvalidClaims, claims.Scope)
	}
	return claims, nil
}

func (j *Manager) getMethod() jwt.SigningMethod {
	if j.config.SigningMethod == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func (j *Manager) getSignKey() (interface{}, error) {
	if j.config.SigningMethod == MethodHS256 {
		return j.config.PrivateKey, nil
	}
	if len(j.config.PrivateKey) == 0 {
		return nil, errors.New("manager has no private key")
	}
	return parseEdPrivateKey(j.config.PrivateKey)
}

func (j *Manager) getVerifyKey() (interface{}, error) {
	if j.config.SigningMethod == MethodHS256 {
		return j.config.PrivateKey, nil
	}
	return parseEdPublicKey(j.config.PublicKey)
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

// ErrMalformed is returned by Inspect for anything that is not a JWT.
var ErrMalformed = errors.New("token is not a jwt")

// Expiry is what a client may read from a token it cannot verify.
type Expiry struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Inspect decodes a token without verifying its signature. The result only
// schedules refreshes; it never authorizes anything.
func Inspect(tokenStr string) (Expiry, error) {
	if strings.Count(tokenStr, ".") != 2 {
		return Expiry{}, ErrMalformed
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, &claims); err != nil {
		return Expiry{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var out Expiry
	out.Subject = claims.Subject
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}
