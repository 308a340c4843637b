package consent

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RepoPG stores grants in consent_grants. Scope is a JSONB array of
// category names.
type RepoPG struct {
	db *sql.DB
}

func NewRepoPG(db *sql.DB) *RepoPG {
	return &RepoPG{db: db}
}

const grantCols = `id, patient_id, grantee_id, scope, status, expires_at, created_at, revoked_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGrant(row rowScanner) (*Grant, error) {
	var g Grant
	var scope []byte
	var status string
	err := row.Scan(&g.ID, &g.PatientID, &g.GranteeID, &scope, &status, &g.ExpiresAt, &g.CreatedAt, &g.RevokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(scope, &g.Scope); err != nil {
		return nil, fmt.Errorf("decode scope of grant %s: %w", g.ID, err)
	}
	g.Status = Status(status)
	return &g, nil
}

func (r *RepoPG) Create(ctx context.Context, g *Grant) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	scope, err := json.Marshal(g.Scope)
	if err != nil {
		return fmt.Errorf("encode scope: %w", err)
	}
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO consent_grants (id, patient_id, grantee_id, scope, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		g.ID, g.PatientID, g.GranteeID, scope, string(g.Status), g.ExpiresAt,
	).Scan(&g.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert consent grant: %w", err)
	}
	return nil
}

func (r *RepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Grant, error) {
	return scanGrant(r.db.QueryRowContext(ctx, `SELECT `+grantCols+` FROM consent_grants WHERE id = $1`, id))
}

func (r *RepoPG) FindActive(ctx context.Context, patientID, granteeID uuid.UUID, at time.Time) ([]*Grant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+grantCols+` FROM consent_grants
		WHERE patient_id = $1 AND grantee_id = $2 AND status = 'Active' AND expires_at > $3
		ORDER BY expires_at DESC`,
		patientID, granteeID, at)
	if err != nil {
		return nil, fmt.Errorf("find active consent: %w", err)
	}
	defer rows.Close()
	return collectGrants(rows)
}

func (r *RepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Grant, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM consent_grants WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count consent grants: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+grantCols+` FROM consent_grants
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list consent grants: %w", err)
	}
	defer rows.Close()
	items, err := collectGrants(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *RepoPG) Revoke(ctx context.Context, id uuid.UUID, at time.Time) (*Grant, error) {
	g, err := scanGrant(r.db.QueryRowContext(ctx, `
		UPDATE consent_grants
		SET status = 'Revoked', revoked_at = $2
		WHERE id = $1 AND status = 'Active'
		RETURNING `+grantCols,
		id, at))
	if errors.Is(err, ErrNotFound) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrNotActive
	}
	if err != nil {
		return nil, fmt.Errorf("revoke consent grant: %w", err)
	}
	return g, nil
}

func (r *RepoPG) ExpireStale(ctx context.Context, at time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE consent_grants SET status = 'Expired'
		WHERE status = 'Active' AND expires_at <= $1`, at)
	if err != nil {
		return 0, fmt.Errorf("expire consent grants: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func collectGrants(rows *sql.Rows) ([]*Grant, error) {
	var items []*Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, g)
	}
	return items, rows.Err()
}
