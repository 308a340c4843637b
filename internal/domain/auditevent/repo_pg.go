package auditevent

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// RepoPG writes to audit_entries. A trigger on the table rejects UPDATE,
// DELETE and TRUNCATE. Appends serialize on the single audit_chain_head row.
type RepoPG struct {
	db     *sql.DB
	sealer *Sealer
}

func NewRepoPG(db *sql.DB, sealer *Sealer) *RepoPG {
	return &RepoPG{db: db, sealer: sealer}
}

const entryCols = `id, seq, actor_id, actor_role, action, resource_type, resource_id, patient_id,
	outcome, reason, tags, metadata, recorded_at, prev_digest, digest`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var tags, metadata []byte
	err := row.Scan(
		&e.ID, &e.Seq, &e.ActorID, &e.ActorRole, &e.Action, &e.ResourceType, &e.ResourceID, &e.PatientID,
		&e.Outcome, &e.Reason, &tags, &metadata, &e.Timestamp, &e.PrevDigest, &e.Digest,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &e.Tags); err != nil {
			return nil, fmt.Errorf("decode tags of %s: %w", e.ID, err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", e.ID, err)
		}
	}
	return &e, nil
}

func (r *RepoPG) Append(ctx context.Context, e *Entry) error {
	tags, err := json.Marshal(nonNilTags(e.Tags))
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	metadata, err := json.Marshal(nonNilMetadata(e.Metadata))
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit append: %w", err)
	}
	defer tx.Rollback()

	var head ChainHead
	err = tx.QueryRowContext(ctx, `SELECT seq, digest FROM audit_chain_head WHERE id = 1 FOR UPDATE`).
		Scan(&head.Seq, &head.Digest)
	if err != nil {
		return fmt.Errorf("lock audit chain head: %w", err)
	}

	sealed := *e
	next := r.sealer.Seal(&sealed, head)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_entries (`+entryCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		sealed.ID, sealed.Seq, sealed.ActorID, sealed.ActorRole, sealed.Action, sealed.ResourceType,
		sealed.ResourceID, sealed.PatientID, sealed.Outcome, sealed.Reason, tags, metadata,
		sealed.Timestamp, sealed.PrevDigest, sealed.Digest,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE audit_chain_head SET seq = $1, digest = $2 WHERE id = 1`, next.Seq, next.Digest); err != nil {
		return fmt.Errorf("advance audit chain head: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit append: %w", err)
	}

	e.Seq, e.PrevDigest, e.Digest = sealed.Seq, sealed.PrevDigest, sealed.Digest
	return nil
}

func (r *RepoPG) GetByID(ctx context.Context, id string) (*Entry, error) {
	return scanEntry(r.db.QueryRowContext(ctx, `SELECT `+entryCols+` FROM audit_entries WHERE id = $1`, id))
}

func (r *RepoPG) GetBySeq(ctx context.Context, seq int64) (*Entry, error) {
	return scanEntry(r.db.QueryRowContext(ctx, `SELECT `+entryCols+` FROM audit_entries WHERE seq = $1`, seq))
}

func (r *RepoPG) Range(ctx context.Context, afterSeq int64, limit int) ([]*Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+entryCols+` FROM audit_entries WHERE seq > $1 ORDER BY seq LIMIT $2`, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("range audit entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (r *RepoPG) Head(ctx context.Context) (ChainHead, error) {
	var h ChainHead
	err := r.db.QueryRowContext(ctx, `SELECT seq, digest FROM audit_chain_head WHERE id = 1`).Scan(&h.Seq, &h.Digest)
	if err != nil {
		return ChainHead{}, fmt.Errorf("read audit chain head: %w", err)
	}
	return h, nil
}

func (r *RepoPG) Search(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error) {
	where := []string{}
	args := []interface{}{}
	idx := 1

	add := func(clause string, v interface{}) {
		where = append(where, fmt.Sprintf(clause, idx))
		args = append(args, v)
		idx++
	}
	if f.ActorID != nil {
		add("actor_id = $%d", *f.ActorID)
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.Outcome != "" {
		add("outcome = $%d", f.Outcome)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.ResourceType != "" {
		add("resource_type = $%d", f.ResourceType)
	}
	if f.From != nil {
		add("recorded_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("recorded_at < $%d", *f.To)
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_entries "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	q := fmt.Sprintf("SELECT %s FROM audit_entries %s ORDER BY id DESC LIMIT $%d OFFSET $%d", entryCols, whereClause, idx, idx+1)
	rows, err := r.db.QueryContext(ctx, q, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("search audit entries: %w", err)
	}
	defer rows.Close()

	items, err := scanEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func nonNilTags(t []string) []string {
	if t == nil {
		return []string{}
	}
	return t
}

func nonNilMetadata(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
