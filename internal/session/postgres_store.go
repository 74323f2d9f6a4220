package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// PostgresStore implements Store backed by PostgreSQL. Messages are kept as
// a jsonb document; sessions are small and replaced whole on write.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed session store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Session, error) {
	const q = `
		SELECT id, account_id, messages, created_at, last_active_at
		FROM sessions
		WHERE id = $1`

	var s Session
	var messages []byte
	err := p.db.QueryRowContext(ctx, q, id).Scan(
		&s.ID, &s.AccountID, &messages, &s.CreatedAt, &s.LastActiveAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(messages, &s.Messages); err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *PostgresStore) Touch(ctx context.Context, id, accountID string, msgs ...Message) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var existing []Message
	var raw []byte
	err = tx.QueryRowContext(ctx,
		`SELECT messages FROM sessions WHERE id = $1 FOR UPDATE`, id).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return err
	default:
		if err := json.Unmarshal(raw, &existing); err != nil {
			return err
		}
	}

	existing = append(existing, msgs...)
	if len(existing) > MaxMessages {
		existing = existing[len(existing)-MaxMessages:]
	}
	doc, err := json.Marshal(existing)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, account_id, messages, created_at, last_active_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (id)
		DO UPDATE SET messages = $3, last_active_at = NOW()`,
		id, accountID, doc)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) PurgeIdle(ctx context.Context, before time.Time, limit int) (int, error) {
	const q = `
		DELETE FROM sessions
		WHERE id IN (
			SELECT id FROM sessions WHERE last_active_at < $1 LIMIT $2
		)`

	res, err := p.db.ExecContext(ctx, q, before, limit)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
