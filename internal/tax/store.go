package tax

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const ratesQuery = `
SELECT id, label, percent::text, compound, shipping
FROM tax_rates
WHERE tax_class = $1 AND location = $2
ORDER BY priority, id`

// Store resolves tax rates from Postgres. Location is the customer location
// rates are quoted for; BaseLocation is the shop's base jurisdiction.
type Store struct {
	Pool         *pgxpool.Pool
	Location     string
	BaseLocation string
}

// RatesFor loads the rates for taxClass at the configured customer location.
func (s *Store) RatesFor(ctx context.Context, taxClass string) ([]Rate, error) {
	return s.query(ctx, taxClass, s.Location)
}

// BaseRatesFor loads the rates for taxClass at the base location.
func (s *Store) BaseRatesFor(ctx context.Context, taxClass string) ([]Rate, error) {
	return s.query(ctx, taxClass, s.BaseLocation)
}

func (s *Store) query(ctx context.Context, taxClass, location string) ([]Rate, error) {
	if s == nil || s.Pool == nil {
		return nil, fmt.Errorf("tax store not configured")
	}
	rows, err := s.Pool.Query(ctx, ratesQuery, taxClass, location)
	if err != nil {
		return nil, fmt.Errorf("query tax rates: %w", err)
	}
	defer rows.Close()

	var rates []Rate
	for rows.Next() {
		var (
			rate    Rate
			percent string
		)
		if err := rows.Scan(&rate.ID, &rate.Label, &percent, &rate.Compound, &rate.Shipping); err != nil {
			return nil, fmt.Errorf("scan tax rate: %w", err)
		}
		rate.Percent, err = decimal.NewFromString(percent)
		if err != nil {
			return nil, fmt.Errorf("parse tax rate percent %q: %w", percent, err)
		}
		rates = append(rates, rate)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read tax rates: %w", err)
	}
	return rates, nil
}
