package executor

import (
	"context"
	"database/sql"
	"time"
)

// PostgresLogStore implements LogStore backed by PostgreSQL.
type PostgresLogStore struct {
	db *sql.DB
}

// NewPostgresLogStore creates a PostgreSQL-backed transaction log.
func NewPostgresLogStore(db *sql.DB) *PostgresLogStore {
	return &PostgresLogStore{db: db}
}

func (p *PostgresLogStore) Record(ctx context.Context, l *Log) error {
	const q = `
		INSERT INTO transaction_logs (transaction_id, account_id, amount_cents, category, created_at)
		VALUES ($1,$2,$3,$4,$5)`

	_, err := p.db.ExecContext(ctx, q,
		l.TransactionID, l.AccountID, l.AmountCents, l.Category, l.CreatedAt)
	return err
}

func (p *PostgresLogStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Log, error) {
	const q = `
		SELECT transaction_id, account_id, amount_cents, category, created_at
		FROM transaction_logs
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := p.db.QueryContext(ctx, q, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Log
	for rows.Next() {
		var l Log
		if err := rows.Scan(&l.TransactionID, &l.AccountID, &l.AmountCents, &l.Category, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

// PostgresBudgetStore implements BudgetStore backed by PostgreSQL.
type PostgresBudgetStore struct {
	db *sql.DB
}

// NewPostgresBudgetStore creates a PostgreSQL-backed budget store.
func NewPostgresBudgetStore(db *sql.DB) *PostgresBudgetStore {
	return &PostgresBudgetStore{db: db}
}

func (p *PostgresBudgetStore) ActiveBudgets(ctx context.Context, accountID, category string, at time.Time) ([]*Budget, error) {
	const q = `
		SELECT account_id, category, limit_cents, period_start, period_end
		FROM budgets
		WHERE account_id = $1 AND category = $2
		  AND period_start <= $3
		  AND (period_end IS NULL OR period_end >= $3)`

	rows, err := p.db.QueryContext(ctx, q, accountID, category, at)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Budget
	for rows.Next() {
		var b Budget
		var periodEnd sql.NullTime
		if err := rows.Scan(&b.AccountID, &b.Category, &b.LimitCents, &b.PeriodStart, &periodEnd); err != nil {
			return nil, err
		}
		if periodEnd.Valid {
			b.PeriodEnd = periodEnd.Time
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

func (p *PostgresBudgetStore) AddUsage(ctx context.Context, accountID, category string, periodStart, periodEnd time.Time, amountCents int64) error {
	const q = `
		INSERT INTO budget_usage (account_id, category, used_cents, period_start, period_end, last_updated)
		VALUES ($1,$2,$3,$4,$5,NOW())
		ON CONFLICT (account_id, category, period_start)
		DO UPDATE SET used_cents = budget_usage.used_cents + EXCLUDED.used_cents,
		              last_updated = NOW()`

	_, err := p.db.ExecContext(ctx, q, accountID, category, amountCents, periodStart, periodEnd)
	return err
}
