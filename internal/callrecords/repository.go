package callrecords

import (
	"context"
	"database/sql"
	"errors"
)

// Repository abstracts call-record storage. Every operation is a single
// parameterized statement; there are no multi-statement transactions, so a
// crash between "token issued" and "record persisted" is expected and
// tolerated.
type Repository interface {
	// Create inserts a new record with NULL output. A duplicate call_id is a
	// hard error (constraint violation), never a merge.
	Create(ctx context.Context, callID string, input JSONB) (CallRecord, error)

	// UpdateOutput replaces the output blob and refreshes updated_at. A
	// missing row reports found=false, not an error.
	UpdateOutput(ctx context.Context, callID string, output JSONB) (CallRecord, bool, error)

	// GetByID reports found=false for an absent row, never an error.
	GetByID(ctx context.Context, callID string) (CallRecord, bool, error)

	// List returns rows ordered newest-created-first.
	List(ctx context.Context, limit, offset int) ([]CallRecord, error)

	// Delete removes a record; found=false when no row matched.
	Delete(ctx context.Context, callID string) (bool, error)
}

// PostgresRepo implements Repository on the calls table (two JSONB columns,
// two timestamps). See migrations/001_calls.sql.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Create(ctx context.Context, callID string, input JSONB) (CallRecord, error) {
	const q = `
INSERT INTO calls (call_id, input_data, output_data, created_at, updated_at)
VALUES ($1, $2, NULL, now(), now())
RETURNING call_id, input_data, output_data, created_at, updated_at
`
	var rec CallRecord
	if err := r.db.QueryRowContext(ctx, q, callID, input).Scan(
		&rec.CallID,
		&rec.InputData,
		&rec.OutputData,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return CallRecord{}, err
	}
	return rec, nil
}

func (r *PostgresRepo) UpdateOutput(ctx context.Context, callID string, output JSONB) (CallRecord, bool, error) {
	const q = `
UPDATE calls
SET output_data = $2, updated_at = now()
WHERE call_id = $1
RETURNING call_id, input_data, output_data, created_at, updated_at
`
	var rec CallRecord
	if err := r.db.QueryRowContext(ctx, q, callID, output).Scan(
		&rec.CallID,
		&rec.InputData,
		&rec.OutputData,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRecord{}, false, nil
		}
		return CallRecord{}, false, err
	}
	return rec, true, nil
}

func (r *PostgresRepo) GetByID(ctx context.Context, callID string) (CallRecord, bool, error) {
	const q = `
SELECT call_id, input_data, output_data, created_at, updated_at
FROM calls
WHERE call_id = $1
`
	var rec CallRecord
	if err := r.db.QueryRowContext(ctx, q, callID).Scan(
		&rec.CallID,
		&rec.InputData,
		&rec.OutputData,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRecord{}, false, nil
		}
		return CallRecord{}, false, err
	}
	return rec, true, nil
}

func (r *PostgresRepo) List(ctx context.Context, limit, offset int) ([]CallRecord, error) {
	const q = `
SELECT call_id, input_data, output_data, created_at, updated_at
FROM calls
ORDER BY created_at DESC
LIMIT $1 OFFSET $2
`
	rows, err := r.db.QueryContext(ctx, q, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]CallRecord, 0, limit)
	for rows.Next() {
		var rec CallRecord
		if err := rows.Scan(
			&rec.CallID,
			&rec.InputData,
			&rec.OutputData,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Delete(ctx context.Context, callID string) (bool, error) {
	const q = `DELETE FROM calls WHERE call_id = $1`
	res, err := r.db.ExecContext(ctx, q, callID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
