package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// RepoPG persists identities in PostgreSQL through database/sql (pgx stdlib
// driver). Counter mutations are single UPDATE ... RETURNING statements so
// the row lock taken by Postgres serialises concurrent writers.
type RepoPG struct {
	db *sql.DB
}

func NewRepoPG(db *sql.DB) *RepoPG {
	return &RepoPG{db: db}
}

const identityCols = `id, email, password_hash, role, active, email_verified,
	email_verification_token, email_verification_expires_at,
	password_reset_token, password_reset_expires_at,
	token_version, failed_login_attempts, locked_until, last_login_at,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*Identity, error) {
	var i Identity
	var role string
	err := row.Scan(
		&i.ID, &i.Email, &i.PasswordHash, &role, &i.Active, &i.EmailVerified,
		&i.EmailVerificationToken, &i.EmailVerificationExpiresAt,
		&i.PasswordResetToken, &i.PasswordResetExpiresAt,
		&i.TokenVersion, &i.FailedLoginAttempts, &i.LockedUntil, &i.LastLoginAt,
		&i.CreatedAt, &i.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	i.Role = Role(role)
	return &i, nil
}

func (r *RepoPG) Create(ctx context.Context, i *Identity) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	i.Email = NormalizeEmail(i.Email)

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO identities (id, email, password_hash, role, active, email_verified, token_version, failed_login_attempts)
		VALUES ($1, $2, $3, $4, $5, $6, 0, 0)
		RETURNING created_at, updated_at`,
		i.ID, i.Email, i.PasswordHash, string(i.Role), i.Active, i.EmailVerified,
	).Scan(&i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

func (r *RepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Identity, error) {
	q := fmt.Sprintf("SELECT %s FROM identities WHERE id = $1", identityCols)
	return scanIdentity(r.db.QueryRowContext(ctx, q, id))
}

func (r *RepoPG) GetByEmail(ctx context.Context, email string) (*Identity, error) {
	q := fmt.Sprintf("SELECT %s FROM identities WHERE email = $1", identityCols)
	return scanIdentity(r.db.QueryRowContext(ctx, q, NormalizeEmail(email)))
}

func (r *RepoPG) Update(ctx context.Context, id uuid.UUID, patch Patch) (*Identity, error) {
	if patch.Empty() {
		return r.GetByID(ctx, id)
	}

	set := []string{}
	args := []any{}
	idx := 1
	add := func(col string, v any) {
		set = append(set, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, v)
		idx++
	}

	if patch.Email != nil {
		add("email", NormalizeEmail(*patch.Email))
	}
	if patch.PasswordHash != nil {
		add("password_hash", *patch.PasswordHash)
	}
	if patch.Role != nil {
		add("role", string(*patch.Role))
	}
	if patch.Active != nil {
		add("active", *patch.Active)
	}
	if patch.EmailVerified != nil {
		add("email_verified", *patch.EmailVerified)
	}
	if patch.EmailVerificationToken != nil {
		add("email_verification_token", *patch.EmailVerificationToken)
	}
	if patch.EmailVerificationExpiresAt != nil {
		add("email_verification_expires_at", *patch.EmailVerificationExpiresAt)
	}
	if patch.PasswordResetToken != nil {
		add("password_reset_token", *patch.PasswordResetToken)
	}
	if patch.PasswordResetExpiresAt != nil {
		add("password_reset_expires_at", *patch.PasswordResetExpiresAt)
	}

	q := fmt.Sprintf("UPDATE identities SET %s, updated_at = now() WHERE id = $%d RETURNING %s",
		strings.Join(set, ", "), idx, identityCols)
	args = append(args, id)

	i, err := scanIdentity(r.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return i, nil
}

func (r *RepoPG) IncrementTokenVersion(ctx context.Context, id uuid.UUID) (int, error) {
	var version int
	err := r.db.QueryRowContext(ctx, `
		UPDATE identities
		SET token_version = token_version + 1, updated_at = now()
		WHERE id = $1
		RETURNING token_version`, id).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment token version: %w", err)
	}
	return version, nil
}

// RecordFailedLogin relies on Postgres evaluating every SET expression
// against the pre-update row, so both CASE branches see the same count.
func (r *RepoPG) RecordFailedLogin(ctx context.Context, id uuid.UUID, threshold int, lockUntil time.Time) (LockState, error) {
	var state LockState
	err := r.db.QueryRowContext(ctx, `
		UPDATE identities
		SET failed_login_attempts = CASE WHEN failed_login_attempts + 1 >= $2 THEN 0 ELSE failed_login_attempts + 1 END,
		    locked_until = CASE WHEN failed_login_attempts + 1 >= $2 THEN $3 ELSE locked_until END,
		    updated_at = now()
		WHERE id = $1
		RETURNING failed_login_attempts, locked_until`, id, threshold, lockUntil,
	).Scan(&state.FailedAttempts, &state.LockedUntil)
	if errors.Is(err, sql.ErrNoRows) {
		return LockState{}, ErrNotFound
	}
	if err != nil {
		return LockState{}, fmt.Errorf("record failed login: %w", err)
	}
	return state, nil
}

func (r *RepoPG) RecordSuccessfulLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE identities
		SET failed_login_attempts = 0, locked_until = NULL, last_login_at = $2, updated_at = now()
		WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("record successful login: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record successful login: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
