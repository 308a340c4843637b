package consent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
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

var grantColumns = []string{"id", "patient_id", "grantee_id", "scope", "status", "expires_at", "created_at", "revoked_at"}

func TestRepoPG_FindActive(t *testing.T) {
	repo, mock := newMockRepo(t)
	patientID, doctorID, grantID := uuid.New(), uuid.New(), uuid.New()
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT .* FROM consent_grants\\s+WHERE patient_id = \\$1 AND grantee_id = \\$2 AND status = 'Active' AND expires_at > \\$3").
		WithArgs(patientID, doctorID, at).
		WillReturnRows(sqlmock.NewRows(grantColumns).AddRow(
			grantID.String(), patientID.String(), doctorID.String(),
			[]byte(`["encounters","documents"]`), "Active", at.Add(time.Hour), at.Add(-time.Hour), nil,
		))

	grants, err := repo.FindActive(context.Background(), patientID, doctorID, at)
	if err != nil {
		t.Fatalf("FindActive: %v", err)
	}
	if len(grants) != 1 {
		t.Fatalf("expected 1 grant, got %d", len(grants))
	}
	g := grants[0]
	if g.ID != grantID || g.Status != StatusActive || len(g.Scope) != 2 || g.Scope[1] != "documents" {
		t.Errorf("unexpected grant %+v", g)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRepoPG_Create(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Now().UTC()
	g := &Grant{PatientID: uuid.New(), GranteeID: uuid.New(), Scope: []Category{"prescriptions"}, Status: StatusActive, ExpiresAt: created.Add(time.Hour)}

	mock.ExpectQuery("INSERT INTO consent_grants").
		WithArgs(sqlmock.AnyArg(), g.PatientID, g.GranteeID, []byte(`["prescriptions"]`), "Active", g.ExpiresAt).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))

	if err := repo.Create(context.Background(), g); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if g.ID == uuid.Nil || !g.CreatedAt.Equal(created) {
		t.Errorf("expected id and created_at populated, got %+v", g)
	}
}

func TestRepoPG_RevokeNotActive(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery("UPDATE consent_grants\\s+SET status = 'Revoked'").
		WithArgs(id, now).
		WillReturnRows(sqlmock.NewRows(grantColumns))
	mock.ExpectQuery("SELECT .* FROM consent_grants WHERE id = \\$1").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(grantColumns).AddRow(
			id.String(), uuid.NewString(), uuid.NewString(), []byte(`["documents"]`), "Expired", now, now, nil,
		))

	if _, err := repo.Revoke(context.Background(), id, now); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
}

func TestRepoPG_RevokeUnknown(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery("UPDATE consent_grants").WillReturnRows(sqlmock.NewRows(grantColumns))
	mock.ExpectQuery("SELECT .* FROM consent_grants WHERE id = \\$1").WillReturnRows(sqlmock.NewRows(grantColumns))

	if _, err := repo.Revoke(context.Background(), id, now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRepoPG_ExpireStale(t *testing.T) {
	repo, mock := newMockRepo(t)
	at := time.Now().UTC()

	mock.ExpectExec("UPDATE consent_grants SET status = 'Expired'\\s+WHERE status = 'Active' AND expires_at <= \\$1").
		WithArgs(at).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.ExpireStale(context.Background(), at)
	if err != nil {
		t.Fatalf("ExpireStale: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3, got %d", n)
	}
}

func TestRepoPG_ListByPatient(t *testing.T) {
	repo, mock := newMockRepo(t)
	patientID := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM consent_grants WHERE patient_id = \\$1").
		WithArgs(patientID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectQuery("SELECT .* FROM consent_grants\\s+WHERE patient_id = \\$1\\s+ORDER BY created_at DESC\\s+LIMIT \\$2 OFFSET \\$3").
		WithArgs(patientID, 2, 0).
		WillReturnRows(sqlmock.NewRows(grantColumns).
			AddRow(uuid.NewString(), patientID.String(), uuid.NewString(), []byte(`["documents"]`), "Active", now, now, nil).
			AddRow(uuid.NewString(), patientID.String(), uuid.NewString(), []byte(`["encounters"]`), "Revoked", now, now, now))

	items, total, err := repo.ListByPatient(context.Background(), patientID, 2, 0)
	if err != nil {
		t.Fatalf("ListByPatient: %v", err)
	}
	if total != 5 || len(items) != 2 {
		t.Errorf("expected 2 of 5, got %d of %d", len(items), total)
	}
	if items[1].RevokedAt == nil {
		t.Errorf("expected revoked_at on second row")
	}
}
