// Package auth gates the admin API behind a single configured credential and
// a signed, time-limited session token.
//
// Verification is stateless: a token is valid while its signature checks out
// and its embedded expiry has not passed. There is no server-side revocation,
// so logging out only clears the client's cookie and a leaked token stays
// usable until it expires.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMissingToken       = errors.New("missing session token")
	ErrExpiredToken       = errors.New("session token expired")
	ErrMalformedToken     = errors.New("malformed session token")
	ErrTooManyAttempts    = errors.New("too many login attempts")
)

// DefaultTTL is the lifetime of a session token and its cookie.
const DefaultTTL = 24 * time.Hour

// Config holds the admin identity and token settings. Either AdminPassword or
// AdminPasswordHash (bcrypt) must be set; the hash wins when both are.
type Config struct {
	AdminUsername     string
	AdminPassword     string
	AdminPasswordHash string
	SigningKey        string
	TTL               time.Duration
	CookieSecure      bool
}

type Authenticator struct {
	cfg Config
	now func() time.Time
}

// New validates cfg and returns an Authenticator.
func New(cfg Config) (*Authenticator, error) {
	if cfg.AdminUsername == "" {
		return nil, errors.New("admin username is required")
	}
	if cfg.AdminPassword == "" && cfg.AdminPasswordHash == "" {
		return nil, errors.New("admin password or password hash is required")
	}
	if cfg.SigningKey == "" {
		return nil, errors.New("signing key is required")
	}
	if cfg.AdminPasswordHash != "" {
		if _, err := bcrypt.Cost([]byte(cfg.AdminPasswordHash)); err != nil {
			return nil, fmt.Errorf("admin password hash: %w", err)
		}
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}

	return &Authenticator{
		cfg: cfg,
		now: time.Now,
	}, nil
}

// TTL is the session lifetime.
func (a *Authenticator) TTL() time.Duration {
	return a.cfg.TTL
}

// Login checks the credential pair and issues a session token. Wrong username
// and wrong password are indistinguishable to the caller.
func (a *Authenticator) Login(username, password string) (string, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.cfg.AdminUsername)) == 1

	var passOK bool
	if a.cfg.AdminPasswordHash != "" {
		passOK = bcrypt.CompareHashAndPassword([]byte(a.cfg.AdminPasswordHash), []byte(password)) == nil
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(password), []byte(a.cfg.AdminPassword)) == 1
	}

	if !userOK || !passOK {
		return "", ErrInvalidCredentials
	}
	return a.Issue(username)
}

// Issue signs a token for username valid for the configured TTL.
func (a *Authenticator) Issue(username string) (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.cfg.TTL)),
		ID:        uuid.NewString(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.cfg.SigningKey))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return token, nil
}

// Verify checks the token signature and expiry and returns its subject.
func (a *Authenticator) Verify(token string) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (interface{}, error) {
			return []byte(a.cfg.SigningKey), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("%w: empty subject", ErrMalformedToken)
	}
	return claims.Subject, nil
}
