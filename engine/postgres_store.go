package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store backed by the annotations table
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed Store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Add inserts a new record
func (s *PostgresStore) Add(ctx context.Context, record *Record) error {
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO annotations (id, owner_kind, owner_id, definition, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, record.ID, string(record.Owner.Kind), record.Owner.ID, string(record.Definition),
		record.Active, record.CreatedAt, record.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert annotation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("annotation %s: %w", record.ID, ErrExists)
	}

	return nil
}

// Get retrieves a record by ID
func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_kind, owner_id, definition, active, created_at, updated_at
		FROM annotations
		WHERE id = $1
	`, id)

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("annotation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get annotation: %w", err)
	}

	return record, nil
}

// ListActive returns the active records of owner
func (s *PostgresStore) ListActive(ctx context.Context, owner Owner) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_kind, owner_id, definition, active, created_at, updated_at
		FROM annotations
		WHERE owner_kind = $1 AND owner_id = $2 AND active = true
		ORDER BY created_at ASC, id ASC
	`, string(owner.Kind), owner.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active annotations: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan annotation: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating annotations: %w", err)
	}

	return records, nil
}

// ListOwners returns every owner with at least one record
func (s *PostgresStore) ListOwners(ctx context.Context) ([]Owner, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT owner_kind, owner_id
		FROM annotations
		ORDER BY owner_kind, owner_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list owners: %w", err)
	}
	defer rows.Close()

	var owners []Owner
	for rows.Next() {
		var kind, id string
		if err := rows.Scan(&kind, &id); err != nil {
			return nil, fmt.Errorf("failed to scan owner: %w", err)
		}
		owners = append(owners, Owner{Kind: OwnerKind(kind), ID: id})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating owners: %w", err)
	}

	return owners, nil
}

// Update modifies the definition and active flag of an existing record
func (s *PostgresStore) Update(ctx context.Context, record *Record) error {
	record.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE annotations
		SET definition = $1, active = $2, updated_at = $3
		WHERE id = $4
	`, string(record.Definition), record.Active, record.UpdatedAt, record.ID)
	if err != nil {
		return fmt.Errorf("failed to update annotation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("annotation %s: %w", record.ID, ErrNotFound)
	}

	return nil
}

// Delete removes a record from the database
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM annotations
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete annotation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("annotation %s: %w", id, ErrNotFound)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		r          Record
		kind       string
		definition []byte
	)
	if err := row.Scan(&r.ID, &kind, &r.Owner.ID, &definition, &r.Active,
		&r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Owner.Kind = OwnerKind(kind)
	r.Definition = definition
	return &r, nil
}
