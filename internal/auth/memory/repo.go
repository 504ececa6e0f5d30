// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

// Package memory provides an in-memory AccountRepository for tests and
// single-process development mode.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/keyfold/keyfold/internal/auth"
)

// AccountRepository implements auth.AccountRepository with a mutex-guarded
// map. All returned accounts are deep copies; callers never share memory
// with the store.
type AccountRepository struct {
	mu       sync.Mutex
	accounts map[ulid.ULID]*auth.Account
}

// NewAccountRepository creates an empty in-memory repository.
func NewAccountRepository() *AccountRepository {
	return &AccountRepository{
		accounts: make(map[ulid.ULID]*auth.Account),
	}
}

// Create stores a new account after checking uniqueness of the email and
// every external identity.
func (r *AccountRepository) Create(_ context.Context, account *auth.Account) error {
	if err := account.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.accounts {
		if account.Email != nil && existing.Email != nil && *existing.Email == *account.Email {
			return oops.Code(auth.CodeConflict).With("field", "email").Wrap(auth.ErrConflict)
		}
		for _, id := range account.Identities {
			if existing.HasIdentity(id.Provider, id.SubjectID) {
				return oops.Code(auth.CodeConflict).With("field", "identity").Wrap(auth.ErrConflict)
			}
		}
	}

	stored := clone(account)
	now := time.Now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.accounts[stored.ID] = stored
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(_ context.Context, id ulid.ULID) (*auth.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[id]
	if !ok {
		return nil, oops.With("account_id", id.String()).Wrap(auth.ErrNotFound)
	}
	return redacted(account), nil
}

// GetByEmail retrieves an account by normalized email.
func (r *AccountRepository) GetByEmail(_ context.Context, email string) (*auth.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, account := range r.accounts {
		if account.Email != nil && *account.Email == email {
			return redacted(account), nil
		}
	}
	return nil, oops.Wrap(auth.ErrNotFound)
}

// GetByExternalIdentity retrieves the account linked to the pair.
func (r *AccountRepository) GetByExternalIdentity(_ context.Context, provider, subjectID string) (*auth.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, account := range r.accounts {
		if account.HasIdentity(provider, subjectID) {
			return redacted(account), nil
		}
	}
	return nil, oops.With("provider", provider).Wrap(auth.ErrNotFound)
}

// LinkIdentity attaches an external identity to an existing account.
func (r *AccountRepository) LinkIdentity(_ context.Context, id ulid.ULID, identity auth.ExternalIdentity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.accounts {
		if existing.HasIdentity(identity.Provider, identity.SubjectID) {
			return oops.Code(auth.CodeConflict).With("field", "identity").Wrap(auth.ErrConflict)
		}
	}

	account, ok := r.accounts[id]
	if !ok {
		return oops.With("account_id", id.String()).Wrap(auth.ErrNotFound)
	}
	account.Identities = append(account.Identities, identity)
	account.UpdatedAt = time.Now()
	return nil
}

// UpdatePassword replaces the password hash and clears any reset token.
func (r *AccountRepository) UpdatePassword(_ context.Context, id ulid.ULID, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[id]
	if !ok {
		return oops.With("account_id", id.String()).Wrap(auth.ErrNotFound)
	}
	account.PasswordHash = &passwordHash
	account.Reset = nil
	account.UpdatedAt = time.Now()
	return nil
}

// SetResetToken stores a reset token, overwriting any prior one.
func (r *AccountRepository) SetResetToken(_ context.Context, id ulid.ULID, tokenHash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[id]
	if !ok {
		return oops.With("account_id", id.String()).Wrap(auth.ErrNotFound)
	}
	account.Reset = &auth.ResetToken{Hash: tokenHash, ExpiresAt: expiresAt}
	account.UpdatedAt = time.Now()
	return nil
}

// ConsumeResetToken performs the atomic check-and-clear under the
// repository lock: match the hash, require an unexpired window, clear the
// token, and return the account in one critical section.
func (r *AccountRepository) ConsumeResetToken(_ context.Context, tokenHash string, now time.Time) (*auth.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, account := range r.accounts {
		if account.Reset == nil || account.Reset.Hash != tokenHash {
			continue
		}
		if !account.Reset.ExpiresAt.After(now) {
			// Expired tokens are indistinguishable from unknown ones.
			return nil, oops.Wrap(auth.ErrNotFound)
		}
		account.Reset = nil
		account.UpdatedAt = time.Now()
		return redacted(account), nil
	}
	return nil, oops.Wrap(auth.ErrNotFound)
}

// clone deep-copies an account including reset state.
func clone(a *auth.Account) *auth.Account {
	c := *a
	if a.Email != nil {
		email := *a.Email
		c.Email = &email
	}
	if a.PasswordHash != nil {
		hash := *a.PasswordHash
		c.PasswordHash = &hash
	}
	c.Identities = append([]auth.ExternalIdentity(nil), a.Identities...)
	if a.Reset != nil {
		reset := *a.Reset
		c.Reset = &reset
	}
	return &c
}

// redacted returns a copy with reset-token state stripped, matching the
// default read projection: token hashes never ride along on plain reads.
func redacted(a *auth.Account) *auth.Account {
	c := clone(a)
	c.Reset = nil
	return c
}

// Compile-time interface check.
var _ auth.AccountRepository = (*AccountRepository)(nil)
