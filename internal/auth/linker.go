// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package auth

import (
	"context"
	"errors"

	"github.com/samber/oops"
)

// LinkerConfig controls how external identities relate to existing
// password accounts.
type LinkerConfig struct {
	// AutoLinkByEmail attaches a first-seen identity to an existing
	// account sharing the same email instead of creating a fresh account.
	// Off by default: the two paths stay separate, and one person may end
	// up with two accounts. Operators opt in explicitly.
	AutoLinkByEmail bool
}

// IdentityLinker resolves or creates an account from an external-identity
// assertion.
type IdentityLinker struct {
	accounts AccountRepository
	cfg      LinkerConfig
}

// NewIdentityLinker creates a new IdentityLinker.
func NewIdentityLinker(accounts AccountRepository, cfg LinkerConfig) (*IdentityLinker, error) {
	if accounts == nil {
		return nil, oops.Code(CodeInternal).Errorf("account repository is required")
	}
	return &IdentityLinker{accounts: accounts, cfg: cfg}, nil
}

// ResolveOrCreate looks up the provider/subject pair and returns the linked
// account. A repeat sighting returns the account unchanged - profile fields
// are never overwritten on re-login, so user edits survive. A first
// sighting creates a new account from the asserted profile (or, with
// AutoLinkByEmail, attaches the identity to an email-matching account).
// This path never requires a password.
func (l *IdentityLinker) ResolveOrCreate(ctx context.Context, provider, subjectID string, profile Profile) (*Account, error) {
	account, err := l.accounts.GetByExternalIdentity(ctx, provider, subjectID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, oops.Code(CodeDependencyFailed).
			With("operation", "get account by external identity").
			With("provider", provider).
			Wrap(err)
	}

	identity := ExternalIdentity{Provider: provider, SubjectID: subjectID}

	if l.cfg.AutoLinkByEmail && profile.Email != "" {
		linked, linkErr := l.linkByEmail(ctx, identity, profile)
		if linkErr != nil {
			return nil, linkErr
		}
		if linked != nil {
			return linked, nil
		}
	}

	account, err = NewExternalAccount(identity, profile)
	if err != nil {
		return nil, err
	}
	if err := l.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, ErrConflict) {
			return l.resolveCreateConflict(ctx, identity, profile)
		}
		return nil, oops.Code(CodeDependencyFailed).
			With("operation", "create external account").
			With("provider", provider).
			Wrap(err)
	}
	return account, nil
}

// resolveCreateConflict disambiguates a conflict on first-sighting Create.
// Either a concurrent login for the same pair won the race, in which case
// the winner's account is the right answer, or the asserted email already
// belongs to a password account. Without AutoLinkByEmail the paths stay
// separate, so the new account is created without the informational email.
func (l *IdentityLinker) resolveCreateConflict(ctx context.Context, identity ExternalIdentity, profile Profile) (*Account, error) {
	winner, err := l.accounts.GetByExternalIdentity(ctx, identity.Provider, identity.SubjectID)
	if err == nil {
		return winner, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, oops.Code(CodeDependencyFailed).
			With("operation", "get account by external identity").
			With("provider", identity.Provider).
			Wrap(err)
	}

	profile.Email = ""
	account, err := NewExternalAccount(identity, profile)
	if err != nil {
		return nil, err
	}
	if err := l.accounts.Create(ctx, account); err != nil {
		return nil, oops.Code(CodeDependencyFailed).
			With("operation", "create external account without email").
			With("provider", identity.Provider).
			Wrap(err)
	}
	return account, nil
}

// linkByEmail attaches the identity to an account already registered with
// the asserted email. Returns (nil, nil) when no such account exists.
func (l *IdentityLinker) linkByEmail(ctx context.Context, identity ExternalIdentity, profile Profile) (*Account, error) {
	existing, err := l.accounts.GetByEmail(ctx, NormalizeEmail(profile.Email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, oops.Code(CodeDependencyFailed).
			With("operation", "get account by email").
			Wrap(err)
	}

	if err := l.accounts.LinkIdentity(ctx, existing.ID, identity); err != nil {
		return nil, oops.Code(CodeDependencyFailed).
			With("operation", "link identity").
			With("provider", identity.Provider).
			Wrap(err)
	}

	return l.accounts.GetByID(ctx, existing.ID)
}
