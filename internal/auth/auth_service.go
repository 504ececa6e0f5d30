// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package auth

import (
	"context"
	"errors"

	"github.com/samber/oops"
)

// Service provides registration and login.
type Service struct {
	accounts AccountRepository
	hasher   PasswordHasher
	issuer   *TokenIssuer
}

// NewService creates a new Service.
func NewService(accounts AccountRepository, hasher PasswordHasher, issuer *TokenIssuer) (*Service, error) {
	if accounts == nil {
		return nil, oops.Code(CodeInternal).Errorf("account repository is required")
	}
	if hasher == nil {
		return nil, oops.Code(CodeInternal).Errorf("password hasher is required")
	}
	if issuer == nil {
		return nil, oops.Code(CodeInternal).Errorf("token issuer is required")
	}
	return &Service{
		accounts: accounts,
		hasher:   hasher,
		issuer:   issuer,
	}, nil
}

// dummyPasswordHash is verified when a login targets an unknown email so
// response time stays consistent with the known-email path. It is a
// well-formed bcrypt hash that matches no password.
//
//nolint:gosec // G101: intentionally fake hash for timing-attack prevention, not a credential.
const dummyPasswordHash = "$2a$12$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// invalidCredentials builds the single generic login failure. Unknown
// email, password-less account, and wrong password must be byte-identical
// so the response reveals nothing about which factor was wrong.
func invalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Errorf("invalid email or password")
}

// Register creates a password-based account.
func (s *Service) Register(ctx context.Context, email, password, displayName string) (*Account, error) {
	norm := NormalizeEmail(email)
	if err := ValidateEmail(norm); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.Code(CodeInternal).
			With("operation", "hash password").
			Wrap(err)
	}

	account, err := NewPasswordAccount(norm, hash, displayName)
	if err != nil {
		return nil, err
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, oops.Code(CodeConflict).Errorf("email is already registered")
		}
		return nil, oops.Code(CodeDependencyFailed).
			With("operation", "create account").
			Wrap(err)
	}

	return account, nil
}

// Authenticate verifies email/password credentials and issues a session
// token bound to the account. Password verification runs even when the
// email is unknown so timing stays flat across failure modes.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Session, error) {
	account, lookupErr := s.accounts.GetByEmail(ctx, NormalizeEmail(email))

	targetHash := dummyPasswordHash
	accountUsable := false

	switch {
	case lookupErr == nil:
		// External-identity-only accounts fail with the same generic error
		// as a wrong password; verify against the dummy hash instead.
		if account.HasPassword() {
			targetHash = *account.PasswordHash
			accountUsable = true
		}
	case errors.Is(lookupErr, ErrNotFound):
		// Fall through to dummy verification.
	default:
		return nil, oops.Code(CodeDependencyFailed).
			With("operation", "get account by email").
			Wrap(lookupErr)
	}

	valid := s.hasher.Verify(password, targetHash)
	if !accountUsable || !valid {
		return nil, invalidCredentials()
	}

	token, expiresAt, err := s.issuer.Issue(account.ID)
	if err != nil {
		return nil, oops.Code(CodeInternal).
			With("operation", "issue session token").
			Wrap(err)
	}

	return &Session{
		AccountID: account.ID,
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}
