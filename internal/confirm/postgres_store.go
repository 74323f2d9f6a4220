package confirm

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed confirmation store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, c *Confirmation) error {
	const q = `
		INSERT INTO pending_confirmations
			(id, account_id, session_id, payload, method, otp_code,
			 attempts, max_attempts, status, transaction_id, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

	_, err := p.db.ExecContext(ctx, q,
		c.ID, c.AccountID, nullable(c.SessionID), []byte(c.Payload),
		string(c.Method), nullable(c.OTPCode),
		c.Attempts, c.MaxAttempts, string(c.Status), nullable(c.TransactionID),
		c.CreatedAt, c.ExpiresAt)
	return err
}

const confirmationColumns = `
	id, account_id, COALESCE(session_id, ''), payload, method,
	COALESCE(otp_code, ''), attempts, max_attempts, status,
	COALESCE(transaction_id, ''), created_at, expires_at, resolved_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Confirmation, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+confirmationColumns+` FROM pending_confirmations WHERE id = $1`, id)
	return scanConfirmation(row)
}

func (p *PostgresStore) Update(ctx context.Context, c *Confirmation) error {
	// The status guard keeps terminal rows immutable even across
	// orchestrator instances that do not share the manager's lock.
	const q = `
		UPDATE pending_confirmations
		SET status = $2, attempts = $3, transaction_id = $4, resolved_at = $5
		WHERE id = $1 AND status = 'pending'`

	res, err := p.db.ExecContext(ctx, q,
		c.ID, string(c.Status), c.Attempts, nullable(c.TransactionID), c.ResolvedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return p.missReason(ctx, c.ID)
	}
	return nil
}

func (p *PostgresStore) RecordTransaction(ctx context.Context, id, transactionID string) error {
	const q = `
		UPDATE pending_confirmations
		SET transaction_id = $2
		WHERE id = $1 AND status = 'confirmed'`

	res, err := p.db.ExecContext(ctx, q, id, nullable(transactionID))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return p.missReason(ctx, id)
	}
	return nil
}

// missReason distinguishes a guarded update that matched no row: the record
// is either absent or already resolved.
func (p *PostgresStore) missReason(ctx context.Context, id string) error {
	if _, err := p.Get(ctx, id); err != nil {
		return err
	}
	return ErrAlreadyResolved
}

func (p *PostgresStore) GetPendingBySession(ctx context.Context, sessionID string) (*Confirmation, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+confirmationColumns+`
		 FROM pending_confirmations
		 WHERE session_id = $1 AND status = 'pending'
		 ORDER BY created_at DESC
		 LIMIT 1`, sessionID)
	return scanConfirmation(row)
}

func (p *PostgresStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Confirmation, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+confirmationColumns+`
		 FROM pending_confirmations
		 WHERE status = 'pending' AND expires_at < $1
		 ORDER BY expires_at
		 LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Confirmation
	for rows.Next() {
		c, err := scanConfirmation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfirmation(row rowScanner) (*Confirmation, error) {
	var c Confirmation
	var payload []byte
	var method, status string
	var resolvedAt sql.NullTime

	err := row.Scan(&c.ID, &c.AccountID, &c.SessionID, &payload, &method,
		&c.OTPCode, &c.Attempts, &c.MaxAttempts, &status,
		&c.TransactionID, &c.CreatedAt, &c.ExpiresAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Payload = json.RawMessage(payload)
	c.Method = Method(method)
	c.Status = Status(status)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		c.ResolvedAt = &t
	}
	return &c, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
