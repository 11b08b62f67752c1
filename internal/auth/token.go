// ABOUTME: Bearer-token auth for the operator API
// ABOUTME: HS256 JWTs whose subject claim names the acting operator

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrBadToken covers malformed tokens, bad signatures, rejected algorithms
// and missing claims. ErrExpired is split out so callers can hint that a
// fresh token would help.
var (
	ErrBadToken = errors.New("bad token")
	ErrExpired  = errors.New("token expired")
)

// Verifier checks an operator bearer token and reports who presented it.
type Verifier interface {
	Verify(raw string) (operator string, err error)
}

// HS256Verifier verifies tokens minted by Mint against a shared secret.
type HS256Verifier struct {
	secret []byte
}

var _ Verifier = (*HS256Verifier)(nil)

func NewVerifier(secret []byte) *HS256Verifier {
	return &HS256Verifier{secret: secret}
}

// Verify validates raw and returns its subject. Only HS256 is accepted, so
// alg=none and asymmetric-algorithm tokens fail before signature checking.
func (v *HS256Verifier) Verify(raw string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", ErrExpired
	case err != nil:
		return "", fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: no subject", ErrBadToken)
	}
	return claims.Subject, nil
}

// Mint signs a token naming operator, valid for ttl from now.
func Mint(secret []byte, operator string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   operator,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
