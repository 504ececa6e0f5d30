// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/samber/oops"
)

// notifyTimeout bounds a single reset-link delivery. A slow mailer must
// surface as a dependency failure, not a hung request.
const notifyTimeout = 5 * time.Second

// ResetService handles the password reset flow: issue a single-use
// time-boxed token, deliver the link, and rotate the password on
// presentation of the raw token.
type ResetService struct {
	accounts AccountRepository
	hasher   PasswordHasher
	notifier Notifier
	baseURL  string
	logger   *slog.Logger
	now      func() time.Time
}

// NewResetService creates a new ResetService. baseURL is the public origin
// the reset link points at, e.g. "https://app.example.com".
func NewResetService(accounts AccountRepository, hasher PasswordHasher, notifier Notifier, baseURL string, logger *slog.Logger) (*ResetService, error) {
	if accounts == nil {
		return nil, oops.Code(CodeInternal).Errorf("account repository is required")
	}
	if hasher == nil {
		return nil, oops.Code(CodeInternal).Errorf("password hasher is required")
	}
	if notifier == nil {
		return nil, oops.Code(CodeInternal).Errorf("notifier is required")
	}
	if baseURL == "" {
		return nil, oops.Code(CodeInternal).Errorf("reset link base URL is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResetService{
		accounts: accounts,
		hasher:   hasher,
		notifier: notifier,
		baseURL:  baseURL,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// InitiateReset issues a reset token for the account registered under
// email and dispatches the reset link. When no such account exists it
// returns nil without side effects; callers answer with the same generic
// acknowledgment either way so the endpoint cannot be used to enumerate
// registered addresses.
//
// A delivery failure is reported as a dependency error but does not roll
// back token issuance - the token stays valid for its window and a repeat
// request simply overwrites it.
func (s *ResetService) InitiateReset(ctx context.Context, email string) error {
	account, err := s.accounts.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return oops.Code(CodeDependencyFailed).
			With("operation", "get account by email").
			Wrap(err)
	}

	token, hash, err := GenerateResetToken()
	if err != nil {
		return oops.Code(CodeInternal).
			With("operation", "generate reset token").
			Wrap(err)
	}

	expiresAt := s.now().Add(ResetTokenTTL)
	if err := s.accounts.SetResetToken(ctx, account.ID, hash, expiresAt); err != nil {
		return oops.Code(CodeDependencyFailed).
			With("operation", "set reset token").
			With("account_id", account.ID.String()).
			Wrap(err)
	}

	if account.Email == nil {
		// Reachable only if a password account lost its email, which the
		// data model forbids; treat as undeliverable.
		return oops.Code(CodeDependencyFailed).Errorf("account has no email address")
	}

	notifyCtx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	link := s.resetLink(token)
	if err := s.notifier.SendPasswordReset(notifyCtx, *account.Email, link); err != nil {
		s.logger.Error("reset link delivery failed",
			"account_id", account.ID.String(),
			"error", err)
		return oops.Code(CodeDependencyFailed).
			With("operation", "send password reset").
			With("account_id", account.ID.String()).
			Wrap(err)
	}

	return nil
}

// CompleteReset consumes a raw reset token and rotates the password.
// Consumption is a single atomic check-and-clear in the repository, so a
// token presented twice concurrently succeeds at most once. Unknown and
// expired tokens fail identically.
func (s *ResetService) CompleteReset(ctx context.Context, rawToken, newPassword string) error {
	if rawToken == "" {
		return oops.Code(CodeResetTokenInvalid).Errorf("reset token is invalid or has expired")
	}

	hash := HashResetToken(rawToken)

	account, err := s.accounts.ConsumeResetToken(ctx, hash, s.now())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code(CodeResetTokenInvalid).Errorf("reset token is invalid or has expired")
		}
		return oops.Code(CodeDependencyFailed).
			With("operation", "consume reset token").
			Wrap(err)
	}

	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code(CodeInternal).
			With("operation", "hash password").
			Wrap(err)
	}

	// UpdatePassword clears any reset token again; already true after the
	// consume above, and idempotent if this call is retried.
	if err := s.accounts.UpdatePassword(ctx, account.ID, newHash); err != nil {
		return oops.Code(CodeDependencyFailed).
			With("operation", "update password").
			With("account_id", account.ID.String()).
			Wrap(err)
	}

	return nil
}

func (s *ResetService) resetLink(token string) string {
	return fmt.Sprintf("%s/reset-password?token=%s", s.baseURL, url.QueryEscape(token))
}
