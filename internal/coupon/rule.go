package coupon

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-totals/internal/catalog"
)

// Kind identifies how a coupon's amount is interpreted.
type Kind string

const (
	// FixedCart is a cart-wide amount distributed across items in proportion
	// to their value.
	FixedCart Kind = "fixed_cart"
	// Percent discounts every item in the cart by a percentage.
	Percent Kind = "percent"
	// FixedProduct takes a fixed amount off each eligible unit.
	FixedProduct Kind = "fixed_product"
	// PercentProduct discounts eligible units by a percentage.
	PercentProduct Kind = "percent_product"
)

// Valid reports whether k is a known coupon kind.
func (k Kind) Valid() bool {
	switch k {
	case FixedCart, Percent, FixedProduct, PercentProduct:
		return true
	}
	return false
}

// Rule captures the discount behaviour of one coupon code. Scope lists
// restrict product kinds to specific products; an empty scope means every
// product is eligible.
type Rule struct {
	Code               string
	Kind               Kind
	Amount             decimal.Decimal
	ProductIDs         []uuid.UUID
	ExcludedProductIDs []uuid.UUID
}

// ValidForCart reports whether the rule applies to the cart as a whole.
// Cart kinds discount every line without per-product scoping.
func (r Rule) ValidForCart() bool {
	return r.Kind == FixedCart || r.Kind == Percent
}

// ValidForProduct reports whether the rule applies to the given product.
// Only product kinds are scoped per product; exclusions beat inclusions.
func (r Rule) ValidForProduct(p catalog.Product) bool {
	if r.Kind != FixedProduct && r.Kind != PercentProduct {
		return false
	}
	for _, id := range r.ExcludedProductIDs {
		if id == p.ID {
			return false
		}
	}
	if len(r.ProductIDs) == 0 {
		return true
	}
	for _, id := range r.ProductIDs {
		if id == p.ID {
			return true
		}
	}
	return false
}
