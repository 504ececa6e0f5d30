// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package auth

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Password policy constraints. The upper bound exists to cap bcrypt cost;
// accepting unbounded input would let a client burn CPU per request.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 20
)

// emailRegex is a deliberately loose syntactic check: one @, no spaces,
// a dot somewhere in the domain. Deliverability is the mailer's problem.
var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ExternalIdentity is a (provider, subjectID) pair proving the account was
// authenticated by a third-party identity provider.
type ExternalIdentity struct {
	Provider  string
	SubjectID string
}

// ResetToken is the stored half of an outstanding password reset: the
// SHA-256 digest of the raw token and its expiry. At most one per account.
type ResetToken struct {
	Hash      string
	ExpiresAt time.Time
}

// Profile carries the descriptive fields an identity provider asserts about
// a subject. None of it is security-relevant.
type Profile struct {
	Email       string
	DisplayName string
	AvatarURL   string
}

// Account is the persisted identity record.
type Account struct {
	ID           ulid.ULID
	Email        *string
	PasswordHash *string
	Identities   []ExternalIdentity
	DisplayName  string
	AvatarURL    string
	Reset        *ResetToken
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewPasswordAccount creates an account for the password registration path.
// Email and password hash are required; the caller validates the plaintext
// password before hashing.
func NewPasswordAccount(email, passwordHash, displayName string) (*Account, error) {
	norm := NormalizeEmail(email)
	if err := ValidateEmail(norm); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code(CodeInternal).Errorf("password hash cannot be empty")
	}

	now := time.Now()
	return &Account{
		ID:           ulid.Make(),
		Email:        &norm,
		PasswordHash: &passwordHash,
		DisplayName:  displayName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// NewExternalAccount creates an account from the first sighting of a
// provider/subject pair. The profile email is informational only and may be
// empty; external accounts never require a password.
func NewExternalAccount(identity ExternalIdentity, profile Profile) (*Account, error) {
	if identity.Provider == "" || identity.SubjectID == "" {
		return nil, oops.Code(CodeInternal).Errorf("external identity requires provider and subject")
	}

	acct := &Account{
		ID:          ulid.Make(),
		Identities:  []ExternalIdentity{identity},
		DisplayName: profile.DisplayName,
		AvatarURL:   profile.AvatarURL,
	}
	if profile.Email != "" {
		norm := NormalizeEmail(profile.Email)
		acct.Email = &norm
	}
	now := time.Now()
	acct.CreatedAt = now
	acct.UpdatedAt = now
	return acct, nil
}

// HasPassword reports whether the account carries a password credential.
func (a *Account) HasPassword() bool {
	return a.PasswordHash != nil && *a.PasswordHash != ""
}

// HasIdentity reports whether the account is linked to the given pair.
func (a *Account) HasIdentity(provider, subjectID string) bool {
	for _, id := range a.Identities {
		if id.Provider == provider && id.SubjectID == subjectID {
			return true
		}
	}
	return false
}

// Validate checks the account-level invariant: a credential must exist.
func (a *Account) Validate() error {
	if !a.HasPassword() && len(a.Identities) == 0 {
		return oops.Code(CodeInternal).Errorf("account must have a password or an external identity")
	}
	return nil
}

// NormalizeEmail lowercases and trims an email address. All lookups and
// uniqueness checks operate on the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail applies the canonical syntactic rule.
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code(CodeValidation).Errorf("email is required")
	}
	if !emailRegex.MatchString(email) {
		return oops.Code(CodeValidation).Errorf("email address is not valid")
	}
	return nil
}

// ValidatePassword applies the canonical strength rule: length within
// [MinPasswordLength, MaxPasswordLength], at least one uppercase letter,
// one lowercase letter, one digit, one symbol, and no whitespace.
func ValidatePassword(password string) error {
	if password == "" {
		return oops.Code(CodeValidation).Errorf("password is required")
	}
	if len(password) < MinPasswordLength {
		return oops.Code(CodeValidation).
			With("min", MinPasswordLength).
			Errorf("password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return oops.Code(CodeValidation).
			With("max", MaxPasswordLength).
			Errorf("password must be at most %d characters", MaxPasswordLength)
	}

	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsSpace(r):
			return oops.Code(CodeValidation).Errorf("password must not contain whitespace")
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}
	if !upper || !lower || !digit || !symbol {
		return oops.Code(CodeValidation).
			Errorf("password must contain an uppercase letter, a lowercase letter, a digit, and a symbol")
	}
	return nil
}

// AccountRepository manages account persistence.
//
// Get* methods return ErrNotFound (wrapped) when no account matches.
// Create and LinkIdentity return ErrConflict (wrapped) on uniqueness
// violations. Reset-token state is only ever readable through
// ConsumeResetToken; plain reads never project it.
type AccountRepository interface {
	// Create stores a new account.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByEmail retrieves an account by normalized email.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// GetByExternalIdentity retrieves the account linked to the pair.
	GetByExternalIdentity(ctx context.Context, provider, subjectID string) (*Account, error)

	// LinkIdentity attaches an external identity to an existing account.
	LinkIdentity(ctx context.Context, id ulid.ULID, identity ExternalIdentity) error

	// UpdatePassword replaces the password hash and clears any outstanding
	// reset token in the same write.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error

	// SetResetToken stores a reset token hash and expiry, overwriting any
	// prior token so only the latest is consumable.
	SetResetToken(ctx context.Context, id ulid.ULID, tokenHash string, expiresAt time.Time) error

	// ConsumeResetToken atomically locates the account whose stored reset
	// token hash matches and whose expiry is after now, clears the token,
	// and returns the account. A read followed by a separate clear would
	// let two concurrent resets both succeed; implementations must perform
	// the check-and-clear as one indivisible operation. Returns ErrNotFound
	// (wrapped) for unknown and expired tokens alike.
	ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time) (*Account, error)
}
