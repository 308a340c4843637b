package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

func newMockRepo(t *testing.T) (*RepoPG, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewRepoPG(db), mock
}

var identityColumns = []string{
	"id", "email", "password_hash", "role", "active", "email_verified",
	"email_verification_token", "email_verification_expires_at",
	"password_reset_token", "password_reset_expires_at",
	"token_version", "failed_login_attempts", "locked_until", "last_login_at",
	"created_at", "updated_at",
}

func TestRepoPG_GetByEmail(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT .* FROM identities WHERE email = \\$1").
		WithArgs("doc@example.com").
		WillReturnRows(sqlmock.NewRows(identityColumns).AddRow(
			id.String(), "doc@example.com", "hash", "Doctor", true, true,
			nil, nil, nil, nil,
			3, 1, nil, nil,
			now, now,
		))

	got, err := repo.GetByEmail(context.Background(), " Doc@Example.com")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if got.ID != id || got.Role != RoleDoctor || got.TokenVersion != 3 || got.FailedLoginAttempts != 1 {
		t.Errorf("unexpected identity: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRepoPG_GetByIDNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT .* FROM identities WHERE id = \\$1").
		WillReturnRows(sqlmock.NewRows(identityColumns))

	if _, err := repo.GetByID(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRepoPG_CreateDuplicateEmail(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("INSERT INTO identities").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.Create(context.Background(), &Identity{Email: "dup@example.com", Role: RolePatient})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestRepoPG_IncrementTokenVersionIsSingleStatement(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery("UPDATE identities\\s+SET token_version = token_version \\+ 1").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"token_version"}).AddRow(8))

	v, err := repo.IncrementTokenVersion(context.Background(), id)
	if err != nil {
		t.Fatalf("IncrementTokenVersion: %v", err)
	}
	if v != 8 {
		t.Errorf("expected version 8, got %d", v)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRepoPG_IncrementTokenVersionUnknownIdentity(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("UPDATE identities").
		WillReturnRows(sqlmock.NewRows([]string{"token_version"}))

	if _, err := repo.IncrementTokenVersion(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRepoPG_RecordFailedLogin(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()
	lockUntil := time.Now().Add(15 * time.Minute).UTC()

	mock.ExpectQuery("UPDATE identities\\s+SET failed_login_attempts = CASE").
		WithArgs(id, 5, lockUntil).
		WillReturnRows(sqlmock.NewRows([]string{"failed_login_attempts", "locked_until"}).AddRow(0, lockUntil))

	state, err := repo.RecordFailedLogin(context.Background(), id, 5, lockUntil)
	if err != nil {
		t.Fatalf("RecordFailedLogin: %v", err)
	}
	if state.FailedAttempts != 0 {
		t.Errorf("expected counter reset, got %d", state.FailedAttempts)
	}
	if state.LockedUntil == nil || !state.LockedUntil.Equal(lockUntil) {
		t.Errorf("expected lock until %v, got %v", lockUntil, state.LockedUntil)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRepoPG_RecordSuccessfulLoginUnknownIdentity(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("UPDATE identities\\s+SET failed_login_attempts = 0").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.RecordSuccessfulLogin(context.Background(), uuid.New(), time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRepoPG_UpdateBuildsSetClause(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()
	now := time.Now().UTC()
	hash := "rehashed"

	mock.ExpectQuery("UPDATE identities SET password_hash = \\$1, updated_at = now\\(\\) WHERE id = \\$2").
		WithArgs("rehashed", id).
		WillReturnRows(sqlmock.NewRows(identityColumns).AddRow(
			id.String(), "p@example.com", "rehashed", "Patient", true, false,
			nil, nil, nil, nil,
			0, 0, nil, nil,
			now, now,
		))

	got, err := repo.Update(context.Background(), id, Patch{PasswordHash: &hash})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.PasswordHash != "rehashed" {
		t.Errorf("expected rehashed, got %s", got.PasswordHash)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
