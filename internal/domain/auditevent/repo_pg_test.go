package auditevent

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/ehr/recordguard/pkg/ids"
)

var entryColumns = []string{
	"id", "seq", "actor_id", "actor_role", "action", "resource_type", "resource_id", "patient_id",
	"outcome", "reason", "tags", "metadata", "recorded_at", "prev_digest", "digest",
}

func newMockRepo(t *testing.T) (*RepoPG, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewRepoPG(db, testSealer(t)), mock
}

func entryRow(e *Entry) []driver.Value {
	return []driver.Value{
		e.ID, e.Seq, e.ActorID.String(), e.ActorRole, e.Action, e.ResourceType, "", e.PatientID.String(),
		e.Outcome, e.Reason, []byte(`[]`),
		[]byte(`{"method":"GET","path":"/api/v1/patients/x/encounters"}`),
		e.Timestamp, e.PrevDigest, e.Digest,
	}
}

func TestRepoPG_AppendAdvancesChainHead(t *testing.T) {
	repo, mock := newMockRepo(t)
	e := sampleEntry()
	prev := strings.Repeat("c", 64)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT seq, digest FROM audit_chain_head WHERE id = 1 FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"seq", "digest"}).AddRow(41, prev))
	mock.ExpectExec("INSERT INTO audit_entries").
		WithArgs(e.ID, int64(42), sqlmock.AnyArg(), "Doctor", "read", "Encounter", "", sqlmock.AnyArg(),
			"Denied", "consent_required", []byte(`[]`), sqlmock.AnyArg(), e.Timestamp, prev, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE audit_chain_head SET seq = \\$1, digest = \\$2 WHERE id = 1").
		WithArgs(int64(42), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.Append(context.Background(), e); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if e.Seq != 42 || e.PrevDigest != prev || !repo.sealer.Verify(e) {
		t.Errorf("entry not sealed onto the chain: %+v", e)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRepoPG_AppendRollsBackOnInsertFailure(t *testing.T) {
	repo, mock := newMockRepo(t)
	e := sampleEntry()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT seq, digest FROM audit_chain_head").
		WillReturnRows(sqlmock.NewRows([]string{"seq", "digest"}).AddRow(0, ""))
	mock.ExpectExec("INSERT INTO audit_entries").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	if err := repo.Append(context.Background(), e); err == nil {
		t.Fatal("expected insert failure")
	}
	if e.Seq != 0 || e.Digest != "" {
		t.Errorf("failed append must not assign a chain position: %+v", e)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRepoPG_GetByIDRoundTripVerifies(t *testing.T) {
	repo, mock := newMockRepo(t)
	e := sampleEntry()
	e.Timestamp = e.Timestamp.Truncate(time.Microsecond)
	repo.sealer.Seal(e, ChainHead{Seq: 6, Digest: strings.Repeat("d", 64)})

	mock.ExpectQuery("SELECT .* FROM audit_entries WHERE id = \\$1").
		WithArgs(e.ID).
		WillReturnRows(sqlmock.NewRows(entryColumns).AddRow(entryRow(e)...))

	got, err := repo.GetByID(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Seq != 7 || !repo.sealer.Verify(got) {
		t.Errorf("stored entry should verify: %+v", got)
	}
}

func TestRepoPG_RangeAndHead(t *testing.T) {
	repo, mock := newMockRepo(t)
	e := sampleEntry()
	repo.sealer.Seal(e, ChainHead{Seq: 10, Digest: strings.Repeat("e", 64)})

	mock.ExpectQuery("SELECT .* FROM audit_entries WHERE seq > \\$1 ORDER BY seq LIMIT \\$2").
		WithArgs(int64(10), 500).
		WillReturnRows(sqlmock.NewRows(entryColumns).AddRow(entryRow(e)...))
	mock.ExpectQuery("SELECT seq, digest FROM audit_chain_head WHERE id = 1").
		WillReturnRows(sqlmock.NewRows([]string{"seq", "digest"}).AddRow(11, e.Digest))

	items, err := repo.Range(context.Background(), 10, 500)
	if err != nil || len(items) != 1 || items[0].Seq != 11 {
		t.Fatalf("Range = %v, %v", items, err)
	}
	head, err := repo.Head(context.Background())
	if err != nil || head.Seq != 11 || head.Digest != e.Digest {
		t.Fatalf("Head = %+v, %v", head, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRepoPG_GetByIDNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT .* FROM audit_entries").WillReturnRows(sqlmock.NewRows(entryColumns))

	if _, err := repo.GetByID(context.Background(), ids.New(time.Now())); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRepoPG_SearchBuildsWhereClause(t *testing.T) {
	repo, mock := newMockRepo(t)
	patient := uuid.New()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM audit_entries WHERE patient_id = \\$1 AND outcome = \\$2").
		WithArgs(patient, "Denied").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT .* FROM audit_entries WHERE patient_id = \\$1 AND outcome = \\$2 ORDER BY id DESC LIMIT \\$3 OFFSET \\$4").
		WithArgs(patient, "Denied", 20, 40).
		WillReturnRows(sqlmock.NewRows(entryColumns))

	items, total, err := repo.Search(context.Background(), Filter{PatientID: &patient, Outcome: "Denied"}, 20, 40)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if total != 0 || len(items) != 0 {
		t.Errorf("expected empty result, got %d/%d", len(items), total)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
