package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const productQuery = `
SELECT id, title, price::text, tax_class, taxable
FROM products
WHERE id = $1`

// Store loads products from Postgres.
type Store struct {
	Pool *pgxpool.Pool
}

// ProductByID fetches one product, returning ErrNotFound for unknown ids.
func (s *Store) ProductByID(ctx context.Context, id uuid.UUID) (Product, error) {
	if s == nil || s.Pool == nil {
		return Product{}, errors.New("catalog store not configured")
	}
	var (
		p     Product
		price string
	)
	row := s.Pool.QueryRow(ctx, productQuery, id)
	if err := row.Scan(&p.ID, &p.Title, &price, &p.TaxClass, &p.Taxable); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, fmt.Errorf("load product: %w", err)
	}
	parsed, err := decimal.NewFromString(price)
	if err != nil {
		return Product{}, fmt.Errorf("parse product price %q: %w", price, err)
	}
	p.Price = parsed
	return p, nil
}
