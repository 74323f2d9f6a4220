package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore implements Store backed by PostgreSQL. The primary key on
// idempotency_keys.key makes concurrent claims from separate processes
// collide in Create.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed idempotency store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Get(ctx context.Context, key string) (*Record, error) {
	const q = `
		SELECT key, account_id, status, response, created_at, updated_at
		FROM idempotency_keys
		WHERE key = $1`

	var r Record
	var status string
	var response []byte
	err := p.db.QueryRowContext(ctx, q, key).Scan(
		&r.Key, &r.AccountID, &status, &response, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	if response != nil {
		r.Response = json.RawMessage(response)
	}
	return &r, nil
}

func (p *PostgresStore) Create(ctx context.Context, r *Record) error {
	const q = `
		INSERT INTO idempotency_keys (key, account_id, status, response, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (key) DO NOTHING`

	res, err := p.db.ExecContext(ctx, q,
		r.Key, r.AccountID, string(r.Status), []byte(r.Response), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("idempotency key %q: %w", r.Key, ErrAlreadyExists)
	}
	return nil
}

func (p *PostgresStore) Update(ctx context.Context, r *Record) error {
	// Completed rows never change again, even under writes from another
	// orchestrator instance.
	const q = `
		UPDATE idempotency_keys
		SET status = $2, response = $3, updated_at = $4
		WHERE key = $1 AND status <> 'completed'`

	res, err := p.db.ExecContext(ctx, q, r.Key, string(r.Status), []byte(r.Response), r.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}
