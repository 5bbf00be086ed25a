package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Alirezaa02/webvis-oakd-dashboard/errors"
)

const defaultTokenTTL = 12 * time.Hour

// JWTConfig configures the HS256 authorizer and issuer.
type JWTConfig struct {
	// Secret signs and verifies tokens. Required.
	Secret string `yaml:"secret"`

	// Issuer is stamped into and demanded of every token.
	Issuer string `yaml:"issuer"`

	// TokenTTL bounds issued token lifetime, default 12h.
	TokenTTL time.Duration `yaml:"token_ttl"`

	// Credentials maps username to password for Login. Static by design;
	// anything richer belongs in front of this service.
	Credentials map[string]string `yaml:"credentials"`
}

// JWTAuthorizer verifies HS256 bearer tokens and issues them for the static
// credential table.
type JWTAuthorizer struct {
	cfg JWTConfig
}

// NewJWTAuthorizer validates the configuration and builds the authorizer.
func NewJWTAuthorizer(cfg JWTConfig) (*JWTAuthorizer, error) {
	if cfg.Secret == "" {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "auth", "NewJWTAuthorizer", "read secret")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "webvisd"
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	return &JWTAuthorizer{cfg: cfg}, nil
}

type claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Authorize verifies the token signature, algorithm, expiry, and issuer.
// Every failure maps to ErrUnauthorized so callers cannot distinguish why a
// token was rejected.
func (a *JWTAuthorizer) Authorize(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, errors.WrapInvalid(errors.ErrUnauthorized, "auth", "Authorize", "read token")
	}

	parsed, err := jwt.ParseWithClaims(token, &claims{},
		func(*jwt.Token) (any, error) { return []byte(a.cfg.Secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.cfg.Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return Identity{}, errors.WrapInvalid(errors.ErrUnauthorized, "auth", "Authorize", "verify token")
	}

	c, ok := parsed.Claims.(*claims)
	if !ok {
		return Identity{}, errors.WrapInvalid(errors.ErrUnauthorized, "auth", "Authorize", "read claims")
	}
	return Identity{Subject: c.Subject, Role: c.Role}, nil
}

// Login checks the credential table and issues a signed token. The password
// comparison is constant-time.
func (a *JWTAuthorizer) Login(_ context.Context, username, password string) (string, error) {
	expected, ok := a.cfg.Credentials[username]
	if !ok || subtle.ConstantTimeCompare([]byte(expected), []byte(password)) != 1 {
		return "", errors.WrapInvalid(errors.ErrUnauthorized, "auth", "Login", "check credentials")
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: "producer",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			Issuer:    a.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.cfg.TokenTTL)),
		},
	})

	signed, err := token.SignedString([]byte(a.cfg.Secret))
	if err != nil {
		return "", errors.WrapFatal(fmt.Errorf("sign token: %w", err), "auth", "Login", "issue token")
	}
	return signed, nil
}
