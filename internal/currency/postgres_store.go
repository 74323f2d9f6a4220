package currency

import (
	"context"
	"database/sql"
)

// PostgresStore implements RateStore with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed rate store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Get(ctx context.Context, currencyCode string) (*ExchangeRate, error) {
	rate := &ExchangeRate{CurrencyCode: currencyCode}

	err := p.db.QueryRowContext(ctx, `
		SELECT rate_to_usd, last_updated
		FROM exchange_rates WHERE currency_code = $1
	`, currencyCode).Scan(&rate.RateToUSD, &rate.LastUpdated)

	if err == sql.ErrNoRows {
		return nil, ErrRateNotCached
	}
	if err != nil {
		return nil, err
	}
	return rate, nil
}

func (p *PostgresStore) Upsert(ctx context.Context, rate *ExchangeRate) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO exchange_rates (currency_code, rate_to_usd, last_updated)
		VALUES ($1, $2, $3)
		ON CONFLICT (currency_code) DO UPDATE SET
			rate_to_usd  = EXCLUDED.rate_to_usd,
			last_updated = EXCLUDED.last_updated
	`, rate.CurrencyCode, rate.RateToUSD, rate.LastUpdated)
	return err
}
