package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNotFound indicates the requested product could not be located.
var ErrNotFound = errors.New("product not found")

// Product is the slice of catalog data the totals engine needs: the price,
// whether the product attracts tax, and which tax class resolves its rates.
type Product struct {
	ID       uuid.UUID       `json:"id"`
	Title    string          `json:"title"`
	Price    decimal.Decimal `json:"price"`
	TaxClass string          `json:"taxClass"`
	Taxable  bool            `json:"taxable"`
}

// Source resolves products for quote requests.
type Source interface {
	ProductByID(ctx context.Context, id uuid.UUID) (Product, error)
}
