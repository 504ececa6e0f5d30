// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session token configuration.
const (
	SessionTokenTTL     = time.Hour // fixed expiry for issued bearer tokens
	minSigningKeyLength = 32
)

// Session is the result of a successful authentication: a signed bearer
// token bound to an account, and when it stops being honored.
type Session struct {
	AccountID ulid.ULID
	Token     string
	ExpiresAt time.Time
}

// TokenIssuer issues and verifies signed, time-limited session tokens.
// The signing key is fixed at construction; there is deliberately no way
// to rotate it at runtime.
type TokenIssuer struct {
	key []byte
	now func() time.Time
}

// NewTokenIssuer creates a TokenIssuer with the given HMAC signing key.
func NewTokenIssuer(key string) (*TokenIssuer, error) {
	if key == "" {
		return nil, oops.Code(CodeInternal).Errorf("session signing key is required")
	}
	if len(key) < minSigningKeyLength {
		return nil, oops.Code(CodeInternal).
			With("min", minSigningKeyLength).
			Errorf("session signing key must be at least %d bytes", minSigningKeyLength)
	}
	return &TokenIssuer{
		key: []byte(key),
		now: time.Now,
	}, nil
}

// Issue creates a signed token carrying the account ID, expiring after
// SessionTokenTTL.
func (i *TokenIssuer) Issue(accountID ulid.ULID) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(SessionTokenTTL)

	claims := jwt.RegisteredClaims{
		Subject:   accountID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", time.Time{}, oops.Code(CodeInternal).
			With("operation", "sign session token").
			Wrap(err)
	}

	return signed, expiresAt, nil
}

// Verify parses and validates a token, returning the bound account ID.
// Malformed tokens, bad signatures, wrong algorithms, and expired claims
// all fail with the same code; callers get no hint which check tripped.
func (i *TokenIssuer) Verify(token string) (ulid.ULID, error) {
	if token == "" {
		return ulid.ULID{}, oops.Code(CodeSessionInvalid).Errorf("session token is invalid")
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return ulid.ULID{}, oops.Code(CodeSessionInvalid).Errorf("session token is invalid")
	}

	accountID, err := ulid.Parse(claims.Subject)
	if err != nil {
		return ulid.ULID{}, oops.Code(CodeSessionInvalid).Errorf("session token is invalid")
	}

	return accountID, nil
}
