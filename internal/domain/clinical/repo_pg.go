package clinical

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ehr/recordguard/internal/platform/auth"
)

// RepoPG reads clinical_records. Details is a JSONB object.
type RepoPG struct {
	db *sql.DB
}

func NewRepoPG(db *sql.DB) *RepoPG {
	return &RepoPG{db: db}
}

const recordCols = `id, patient_id, category, title, status, author_id, details, recorded_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var r Record
	var category string
	var details []byte
	err := row.Scan(&r.ID, &r.PatientID, &category, &r.Title, &r.Status, &r.AuthorID, &details, &r.RecordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Category = auth.Category(category)
	if len(details) > 0 {
		if err := json.Unmarshal(details, &r.Details); err != nil {
			return nil, fmt.Errorf("decode details of record %s: %w", r.ID, err)
		}
	}
	return &r, nil
}

func (p *RepoPG) Create(ctx context.Context, r *Record) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	details, err := json.Marshal(r.Details)
	if err != nil {
		return fmt.Errorf("encode details: %w", err)
	}
	return p.db.QueryRowContext(ctx, `
		INSERT INTO clinical_records (id, patient_id, category, title, status, author_id, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING recorded_at`,
		r.ID, r.PatientID, string(r.Category), r.Title, r.Status, r.AuthorID, details,
	).Scan(&r.RecordedAt)
}

func (p *RepoPG) GetByID(ctx context.Context, patientID uuid.UUID, category auth.Category, id uuid.UUID) (*Record, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+recordCols+` FROM clinical_records
		WHERE id = $1 AND patient_id = $2 AND category = $3`, id, patientID, string(category))
	return scanRecord(row)
}

func (p *RepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, category auth.Category, limit, offset int) ([]*Record, int, error) {
	var total int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM clinical_records WHERE patient_id = $1 AND category = $2`,
		patientID, string(category)).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count clinical records: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, `SELECT `+recordCols+` FROM clinical_records
		WHERE patient_id = $1 AND category = $2
		ORDER BY recorded_at DESC LIMIT $3 OFFSET $4`,
		patientID, string(category), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list clinical records: %w", err)
	}
	defer rows.Close()

	items := []*Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, r)
	}
	return items, total, rows.Err()
}
