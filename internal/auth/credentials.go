// Package auth issues and verifies seller credentials and owns the seller
// accounts behind them.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/joao-fontenele/salesflow/internal/access"
	"github.com/joao-fontenele/salesflow/internal/domain"
)

const issuer = "salesflow"

// MinKeyLength is the shortest accepted HMAC signing key.
const MinKeyLength = 32

// Credentials signs and verifies bearer tokens carrying a seller id.
type Credentials struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewCredentials(key []byte, ttl time.Duration) (*Credentials, error) {
	if len(key) < MinKeyLength {
		return nil, fmt.Errorf("signing key must be at least %d bytes", MinKeyLength)
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	return &Credentials{key: key, ttl: ttl, now: time.Now}, nil
}

func (c *Credentials) Issue(sellerID string) (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   sellerID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Verify returns the seller id embedded in token. Any signature, format or
// expiry problem is reported as domain.ErrInvalidToken.
func (c *Credentials) Verify(token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return c.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", domain.ErrInvalidToken)
	}
	return claims.Subject, nil
}

// Identify turns an optional bearer token into a caller. No token is the
// anonymous caller, not an error.
func (c *Credentials) Identify(token string) (access.Caller, error) {
	if token == "" {
		return access.Anonymous, nil
	}
	sellerID, err := c.Verify(token)
	if err != nil {
		return access.Anonymous, err
	}
	return access.AsSeller(sellerID), nil
}
