// Package auth issues and verifies the HS256 bearer tokens that identify the
// principal of an API call.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/securepath/internal/config"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for tokens that are malformed, expired, signed
// with another key or missing a subject.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the registered claims plus nothing else; the subject is the
// principal id.
type Claims struct {
	jwt.RegisteredClaims
}

// Tokens signs and verifies access tokens.
type Tokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens creates Tokens from the auth config section.
func NewTokens(cfg config.AuthConfig) (*Tokens, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("auth.NewTokens: auth.secret is required")
	}
	ttl := cfg.AccessTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Tokens{secret: []byte(cfg.Secret), issuer: cfg.Issuer, ttl: ttl, now: time.Now}, nil
}

// Issue returns a signed token for principal.
func (t *Tokens) Issue(principal string) (string, time.Time, error) {
	if principal == "" {
		return "", time.Time{}, fmt.Errorf("auth.Issue: empty principal")
	}
	now := t.now()
	exp := now.Add(t.ttl)
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   principal,
		Issuer:    t.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth.Issue: %w", err)
	}
	return signed, exp, nil
}

// Verify parses raw and returns the principal it was issued for.
func (t *Tokens) Verify(raw string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}
