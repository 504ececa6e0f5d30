// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

// Package postgres provides the PostgreSQL implementation of the account
// repository.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/keyfold/keyfold/internal/auth"
)

// dbPool is the subset of pgxpool.Pool the repository uses. Declared as an
// interface so tests can substitute pgxmock.
type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// accountColumns is the default read projection. Reset-token columns are
// deliberately absent: they are only touched by SetResetToken and the
// atomic ConsumeResetToken, never returned from plain reads.
const accountColumns = "id, email, password_hash, display_name, avatar_url, created_at, updated_at"

// opTimeout bounds every repository operation so a stalled connection
// surfaces as a dependency failure instead of a hung request.
const opTimeout = 5 * time.Second

func opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, opTimeout)
}

// storeErr wraps a driver error with the given code. An expired operation
// deadline maps to the dependency-failure code instead.
func storeErr(err error, code, operation string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return oops.Code(auth.CodeDependencyFailed).
			With("operation", operation).
			Wrap(err)
	}
	return oops.Code(code).
		With("operation", operation).
		Wrap(err)
}

// AccountRepository implements auth.AccountRepository using PostgreSQL.
type AccountRepository struct {
	pool dbPool
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool dbPool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// Create stores a new account and its external identities in one
// transaction. Unique violations on email or provider/subject map to
// auth.ErrConflict.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	if err := account.Validate(); err != nil {
		return err
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return storeErr(err, "ACCOUNT_CREATE_FAILED", "begin transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	_, err = tx.Exec(ctx, `
		INSERT INTO accounts (id, email, password_hash, display_name, avatar_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, account.ID.String(), account.Email, account.PasswordHash,
		account.DisplayName, account.AvatarURL, account.CreatedAt, account.UpdatedAt)
	if err != nil {
		return wrapConflict(err, "ACCOUNT_CREATE_FAILED", "insert account")
	}

	for _, identity := range account.Identities {
		_, err = tx.Exec(ctx, `
			INSERT INTO external_identities (provider, subject_id, account_id, created_at)
			VALUES ($1, $2, $3, $4)
		`, identity.Provider, identity.SubjectID, account.ID.String(), account.CreatedAt)
		if err != nil {
			return wrapConflict(err, "ACCOUNT_CREATE_FAILED", "insert external identity")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return storeErr(err, "ACCOUNT_CREATE_FAILED", "commit transaction")
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	row := r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id.String())

	account, err := r.scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("account_id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return r.attachIdentities(ctx, account)
}

// GetByEmail retrieves an account by normalized email.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	row := r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)

	account, err := r.scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return r.attachIdentities(ctx, account)
}

// GetByExternalIdentity retrieves the account linked to the pair.
func (r *AccountRepository) GetByExternalIdentity(ctx context.Context, provider, subjectID string) (*auth.Account, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	row := r.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		JOIN external_identities ON external_identities.account_id = accounts.id
		WHERE external_identities.provider = $1 AND external_identities.subject_id = $2
	`, provider, subjectID)

	account, err := r.scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("provider", provider).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return r.attachIdentities(ctx, account)
}

// LinkIdentity attaches an external identity to an existing account.
func (r *AccountRepository) LinkIdentity(ctx context.Context, id ulid.ULID, identity auth.ExternalIdentity) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	_, err := r.pool.Exec(ctx, `
		INSERT INTO external_identities (provider, subject_id, account_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, identity.Provider, identity.SubjectID, id.String(), time.Now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return oops.Code("ACCOUNT_NOT_FOUND").
				With("account_id", id.String()).
				Wrap(auth.ErrNotFound)
		}
		return wrapConflict(err, "IDENTITY_LINK_FAILED", "insert external identity")
	}
	return nil
}

// UpdatePassword replaces the password hash and clears any outstanding
// reset token in the same statement.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	result, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET password_hash = $2, reset_token_hash = NULL, reset_expires_at = NULL, updated_at = $3
		WHERE id = $1
	`, id.String(), passwordHash, time.Now())
	if err != nil {
		return storeErr(err, "ACCOUNT_UPDATE_PASSWORD_FAILED", "update password")
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("account_id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// SetResetToken stores a reset token hash and expiry, overwriting any
// prior token.
func (r *AccountRepository) SetResetToken(ctx context.Context, id ulid.ULID, tokenHash string, expiresAt time.Time) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	result, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET reset_token_hash = $2, reset_expires_at = $3, updated_at = $4
		WHERE id = $1
	`, id.String(), tokenHash, expiresAt, time.Now())
	if err != nil {
		return storeErr(err, "RESET_SET_FAILED", "set reset token")
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("account_id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// ConsumeResetToken is a single conditional UPDATE ... RETURNING: the row
// must still hold the matching unexpired hash for the clear to win, so two
// concurrent presentations of the same token cannot both succeed.
func (r *AccountRepository) ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time) (*auth.Account, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	row := r.pool.QueryRow(ctx, `
		UPDATE accounts
		SET reset_token_hash = NULL, reset_expires_at = NULL, updated_at = $3
		WHERE reset_token_hash = $1 AND reset_expires_at > $2
		RETURNING `+accountColumns+`
	`, tokenHash, now, time.Now())

	account, err := r.scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Unknown and expired tokens are indistinguishable here.
		return nil, oops.Code("RESET_TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return r.attachIdentities(ctx, account)
}

// scanAccount scans a single row from the default projection.
// Callers are responsible for handling pgx.ErrNoRows.
func (r *AccountRepository) scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		idStr        string
		email        *string
		passwordHash *string
		displayName  string
		avatarURL    string
		createdAt    time.Time
		updatedAt    time.Time
	)

	err := row.Scan(&idStr, &email, &passwordHash, &displayName, &avatarURL, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers wrap with context-specific info
		}
		return nil, storeErr(err, "ACCOUNT_SCAN_FAILED", "scan account")
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").
			With("id", idStr).
			Wrap(err)
	}

	return &auth.Account{
		ID:           id,
		Email:        email,
		PasswordHash: passwordHash,
		DisplayName:  displayName,
		AvatarURL:    avatarURL,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}, nil
}

// attachIdentities loads the external identities for an account.
func (r *AccountRepository) attachIdentities(ctx context.Context, account *auth.Account) (*auth.Account, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT provider, subject_id FROM external_identities WHERE account_id = $1
	`, account.ID.String())
	if err != nil {
		return nil, storeErr(err, "IDENTITY_QUERY_FAILED", "query identities")
	}
	defer rows.Close()

	for rows.Next() {
		var identity auth.ExternalIdentity
		if err := rows.Scan(&identity.Provider, &identity.SubjectID); err != nil {
			return nil, oops.Code("IDENTITY_SCAN_FAILED").Wrap(err)
		}
		account.Identities = append(account.Identities, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("IDENTITY_QUERY_FAILED").Wrap(err)
	}

	return account, nil
}

// wrapConflict maps unique-constraint violations to auth.ErrConflict and
// everything else to a coded dependency error.
func wrapConflict(err error, code, operation string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return oops.Code(auth.CodeConflict).
			With("constraint", pgErr.ConstraintName).
			Wrap(auth.ErrConflict)
	}
	return storeErr(err, code, operation)
}

// Compile-time interface check.
var _ auth.AccountRepository = (*AccountRepository)(nil)
