package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/natours/apiserver/types"
)

const uniqueViolation = "23505"

const accountColumns = `id, name, email, photo, role, password_hash, password_changed_at,
	password_reset_token, password_reset_expires, active, created_at, updated_at`

// AccountRepository handles persistence for accounts in PostgreSQL.
type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanAccount reads accountColumns followed by any extra columns.
func scanAccount(row rowScanner, extra ...any) (types.Account, error) {
	var (
		account      types.Account
		changedAt    sql.NullTime
		resetToken   sql.NullString
		resetExpires sql.NullTime
	)
	dest := []any{
		&account.ID,
		&account.Name,
		&account.Email,
		&account.Photo,
		&account.Role,
		&account.PasswordHash,
		&changedAt,
		&resetToken,
		&resetExpires,
		&account.Active,
		&account.CreatedAt,
		&account.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, err
	}
	account.PasswordChangedAt = timePtr(changedAt)
	account.PasswordResetToken = resetToken.String
	account.PasswordResetExpires = timePtr(resetExpires)
	return account, nil
}

func (r *AccountRepository) FindByID(ctx context.Context, id string) (types.Account, error) {
	if !validID(id) {
		return types.Account{}, ErrNotFound
	}
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 AND active`
	return scanAccount(r.db.QueryRowContext(ctx, query, id))
}

// FindByEmail looks an account up by normalized email. Inactive accounts are
// only returned when includeInactive is set.
func (r *AccountRepository) FindByEmail(ctx context.Context, email string, includeInactive bool) (types.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1 AND (active OR $2)`
	return scanAccount(r.db.QueryRowContext(ctx, query, NormalizeEmail(email), includeInactive))
}

func (r *AccountRepository) FindByResetHash(ctx context.Context, hash string) (types.Account, error) {
	if hash == "" {
		return types.Account{}, ErrNotFound
	}
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE password_reset_token = $1 AND active`
	return scanAccount(r.db.QueryRowContext(ctx, query, hash))
}

func (r *AccountRepository) List(ctx context.Context, offset, limit int) ([]types.Account, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	const countQuery = `SELECT COUNT(1) FROM accounts WHERE active`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery := `SELECT ` + accountColumns + ` FROM accounts WHERE active
		ORDER BY created_at, id
		OFFSET $1 LIMIT $2`
	rows, err := r.db.QueryContext(ctx, listQuery, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	accounts := make([]types.Account, 0, limit)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, 0, err
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return accounts, total, nil
}

// Create validates and inserts a new active account. The password must
// already be hashed.
func (r *AccountRepository) Create(ctx context.Context, account types.Account) (types.Account, error) {
	normalizeAccount(&account)
	account.ID = uuid.NewString()
	account.Active = true
	if err := ValidateAccount(account); err != nil {
		return types.Account{}, err
	}
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	query := `INSERT INTO accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.db.ExecContext(
		ctx,
		query,
		account.ID,
		account.Name,
		account.Email,
		account.Photo,
		account.Role,
		account.PasswordHash,
		nullTime(account.PasswordChangedAt),
		nullString(account.PasswordResetToken),
		nullTime(account.PasswordResetExpires),
		account.Active,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		return types.Account{}, mapWriteError(err)
	}
	return account, nil
}

// SetPasswordReset stores a reset token hash and its expiry on an active
// account, replacing any earlier token.
func (r *AccountRepository) SetPasswordReset(ctx context.Context, id, hash string, expires time.Time) (types.Account, error) {
	if hash == "" {
		return types.Account{}, fmt.Errorf("%w: reset token and expiry must be set together", ErrInvalidRecord)
	}
	if !validID(id) {
		return types.Account{}, ErrNotFound
	}
	query := `UPDATE accounts
		SET password_reset_token = $2,
			password_reset_expires = $3,
			updated_at = $4
		WHERE id = $1 AND active
		RETURNING ` + accountColumns
	account, err := scanAccount(r.db.QueryRowContext(ctx, query, id, hash, expires.UTC(), time.Now().UTC()))
	if err != nil {
		return types.Account{}, mapWriteError(err)
	}
	return account, nil
}

// ClearPasswordReset drops the reset token of an account, but only while the
// stored token is still hash. A token that was replaced or consumed in the
// meantime is left alone.
func (r *AccountRepository) ClearPasswordReset(ctx context.Context, id, hash string) error {
	if hash == "" || !validID(id) {
		return nil
	}
	const query = `
		UPDATE accounts
		SET password_reset_token = NULL,
			password_reset_expires = NULL,
			updated_at = $3
		WHERE id = $1 AND password_reset_token = $2`
	_, err := r.db.ExecContext(ctx, query, id, hash, time.Now().UTC())
	return err
}

// SetPassword replaces the password hash if it still equals currentHash and
// clears any outstanding reset token. ErrConflict means the password changed
// since the caller read it.
func (r *AccountRepository) SetPassword(ctx context.Context, id, currentHash, newHash string, changedAt time.Time) (types.Account, error) {
	if newHash == "" {
		return types.Account{}, fmt.Errorf("%w: passwordhash is required", ErrInvalidRecord)
	}
	if !validID(id) {
		return types.Account{}, ErrNotFound
	}
	query := `UPDATE accounts
		SET password_hash = $3,
			password_changed_at = $4,
			password_reset_token = NULL,
			password_reset_expires = NULL,
			updated_at = $5
		WHERE id = $1 AND active AND password_hash = $2
		RETURNING ` + accountColumns
	account, err := scanAccount(r.db.QueryRowContext(ctx, query, id, currentHash, newHash, changedAt.UTC(), time.Now().UTC()))
	if !errors.Is(err, ErrNotFound) {
		return account, err
	}

	var exists bool
	const existsQuery = `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1 AND active)`
	if err := r.db.QueryRowContext(ctx, existsQuery, id).Scan(&exists); err != nil {
		return types.Account{}, err
	}
	if exists {
		return types.Account{}, ErrConflict
	}
	return types.Account{}, ErrNotFound
}

// ConsumePasswordReset sets a new password on the active account holding the
// reset token hash, provided the token has not expired at now. The token is
// cleared in the same statement, so it can succeed only once.
func (r *AccountRepository) ConsumePasswordReset(ctx context.Context, resetHash, newHash string, changedAt, now time.Time) (types.Account, error) {
	if resetHash == "" {
		return types.Account{}, ErrNotFound
	}
	if newHash == "" {
		return types.Account{}, fmt.Errorf("%w: passwordhash is required", ErrInvalidRecord)
	}
	query := `UPDATE accounts
		SET password_hash = $2,
			password_changed_at = $3,
			password_reset_token = NULL,
			password_reset_expires = NULL,
			updated_at = $5
		WHERE password_reset_token = $1 AND password_reset_expires > $4 AND active
		RETURNING ` + accountColumns
	return scanAccount(r.db.QueryRowContext(ctx, query, resetHash, newHash, changedAt.UTC(), now.UTC(), time.Now().UTC()))
}

// UpdateProfile overwrites the profile fields set in changes and returns the
// updated account together with the photo it referenced before.
func (r *AccountRepository) UpdateProfile(ctx context.Context, id string, changes ProfileChanges) (types.Account, string, error) {
	if err := prepareProfile(&changes); err != nil {
		return types.Account{}, "", err
	}
	if !validID(id) {
		return types.Account{}, "", ErrNotFound
	}

	query := `UPDATE accounts
		SET name = COALESCE($2::text, accounts.name),
			email = COALESCE($3::text, accounts.email),
			photo = COALESCE($4::text, accounts.photo),
			updated_at = $5
		FROM (SELECT id, photo FROM accounts WHERE id = $1 FOR UPDATE) AS prev (prev_id, prev_photo)
		WHERE accounts.id = prev.prev_id AND accounts.active
		RETURNING ` + accountColumns + `, prev.prev_photo`

	var previousPhoto string
	account, err := scanAccount(
		r.db.QueryRowContext(
			ctx,
			query,
			id,
			nullableString(changes.Name),
			nullableString(changes.Email),
			nullableString(changes.Photo),
			time.Now().UTC(),
		),
		&previousPhoto,
	)
	if err != nil {
		return types.Account{}, "", mapWriteError(err)
	}
	return account, previousPhoto, nil
}

// Deactivate soft-deletes an active account.
func (r *AccountRepository) Deactivate(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	const query = `UPDATE accounts SET active = FALSE, updated_at = $2 WHERE id = $1 AND active`
	result, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func mapWriteError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicateKey
	}
	return err
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	value := t.Time
	return &value
}
