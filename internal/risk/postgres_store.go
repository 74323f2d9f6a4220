package risk

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// PostgresProfileStore implements ProfileStore backed by PostgreSQL.
type PostgresProfileStore struct {
	db *sql.DB
}

// NewPostgresProfileStore creates a PostgreSQL-backed profile store.
func NewPostgresProfileStore(db *sql.DB) *PostgresProfileStore {
	return &PostgresProfileStore{db: db}
}

func (p *PostgresProfileStore) GetOrCreate(ctx context.Context, accountID string) (*Profile, error) {
	const insert = `
		INSERT INTO user_profiles (account_id, mean_amount_cents, stddev_amount_cents, active_hours)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id) DO NOTHING`

	if _, err := p.db.ExecContext(ctx, insert,
		accountID, int64(DefaultMeanAmountCents), int64(DefaultStddevAmountCents), pq.Array([]int64{}),
	); err != nil {
		return nil, err
	}

	const q = `
		SELECT account_id, mean_amount_cents, stddev_amount_cents, active_hours, created_at
		FROM user_profiles
		WHERE account_id = $1`

	var prof Profile
	var hours pq.Int64Array
	err := p.db.QueryRowContext(ctx, q, accountID).Scan(
		&prof.AccountID,
		&prof.MeanAmountCents,
		&prof.StddevAmountCents,
		&hours,
		&prof.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	for _, h := range hours {
		prof.ActiveHours = append(prof.ActiveHours, int(h))
	}
	return &prof, nil
}

// PostgresAssessmentStore implements AssessmentStore backed by PostgreSQL.
type PostgresAssessmentStore struct {
	db *sql.DB
}

// NewPostgresAssessmentStore creates a PostgreSQL-backed assessment store.
func NewPostgresAssessmentStore(db *sql.DB) *PostgresAssessmentStore {
	return &PostgresAssessmentStore{db: db}
}

func (p *PostgresAssessmentStore) Record(ctx context.Context, a *Assessment) error {
	const q = `
		INSERT INTO risk_assessments
			(id, account_id, amount_cents, score, verdict, reasons, evaluated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`

	evaluatedAt := a.EvaluatedAt
	if evaluatedAt.IsZero() {
		evaluatedAt = time.Now()
	}
	_, err := p.db.ExecContext(ctx, q,
		a.ID,
		a.AccountID,
		a.AmountCents,
		a.Score,
		string(a.Verdict),
		pq.Array(a.Reasons),
		evaluatedAt,
	)
	return err
}

func (p *PostgresAssessmentStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Assessment, error) {
	query := `
		SELECT id, account_id, amount_cents, score, verdict, reasons, evaluated_at
		FROM risk_assessments
		WHERE account_id = $1
		ORDER BY evaluated_at DESC`
	args := []any{accountID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []*Assessment
	for rows.Next() {
		var a Assessment
		var verdict string
		var reasons pq.StringArray
		if err := rows.Scan(&a.ID, &a.AccountID, &a.AmountCents, &a.Score, &verdict, &reasons, &a.EvaluatedAt); err != nil {
			return nil, err
		}
		a.Verdict = Verdict(verdict)
		a.Reasons = []string(reasons)
		results = append(results, &a)
	}
	return results, rows.Err()
}
