package totals

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-totals/internal/catalog"
	"github.com/noah-isme/toko-totals/internal/tax"
)

// Line is any entry captured on a cart. Only ProductLine entries take part
// in item calculations; everything else is silently skipped by SetItems.
type Line interface {
	cartLine()
}

// ProductLine is a product entry on the cart: the product reference, the
// quantity and the unit price as entered (optionally inclusive of tax).
type ProductLine struct {
	Key              string
	Product          catalog.Product
	Quantity         int
	Price            decimal.Decimal
	PriceIncludesTax bool
}

func (ProductLine) cartLine() {}

// Fee is a flat fee line. The amount is fixed input and never discounted;
// only its tax is computed, keyed by the fee's tax class.
type Fee struct {
	Key      string
	Amount   decimal.Decimal
	Taxable  bool
	TaxClass string
}

// ShippingLine is one shipping method line with its per-rate taxes as
// computed by the shipping calculator upstream.
type ShippingLine struct {
	Key   string
	Cost  decimal.Decimal
	Taxes tax.Breakdown
}

// ItemTotal is the published per-item breakdown. It carries the computed
// amounts only; the internal product and line references are stripped.
type ItemTotal struct {
	Key              string          `json:"key"`
	ProductID        uuid.UUID       `json:"productId"`
	Quantity         int             `json:"quantity"`
	PriceIncludesTax bool            `json:"priceIncludesTax"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	SubtotalTax      decimal.Decimal `json:"subtotalTax"`
	SubtotalTaxes    tax.Breakdown   `json:"subtotalTaxes,omitempty"`
	DiscountedPrice  decimal.Decimal `json:"discountedPrice"`
	Total            decimal.Decimal `json:"total"`
	TotalTax         decimal.Decimal `json:"totalTax"`
	Taxes            tax.Breakdown   `json:"taxes,omitempty"`
}

// CouponTotal accumulates one coupon's effect across the whole cart.
type CouponTotal struct {
	Code     string          `json:"code"`
	Count    int             `json:"count"`
	Total    decimal.Decimal `json:"total"`
	TotalTax decimal.Decimal `json:"totalTax"`
}

// RateTotal aggregates item and shipping tax for one tax rate.
type RateTotal struct {
	RateID           string          `json:"rateId"`
	TaxTotal         decimal.Decimal `json:"taxTotal"`
	ShippingTaxTotal decimal.Decimal `json:"shippingTaxTotal"`
}

// Totals is the published result of one calculation pass. Slices keep
// insertion order so consumers see deterministic coupon and rate ordering.
type Totals struct {
	ItemsSubtotal    decimal.Decimal `json:"itemsSubtotal"`
	ItemsSubtotalTax decimal.Decimal `json:"itemsSubtotalTax"`
	ItemsTotal       decimal.Decimal `json:"itemsTotal"`
	ItemsTotalTax    decimal.Decimal `json:"itemsTotalTax"`
	ItemTotals       []ItemTotal     `json:"itemTotals"`
	Coupons          []CouponTotal   `json:"coupons"`
	FeesTotal        decimal.Decimal `json:"feesTotal"`
	FeesTotalTax     decimal.Decimal `json:"feesTotalTax"`
	ShippingTotal    decimal.Decimal `json:"shippingTotal"`
	ShippingTaxTotal decimal.Decimal `json:"shippingTaxTotal"`
	RateTotals       []RateTotal     `json:"rateTotals"`
	TaxTotal         decimal.Decimal `json:"taxTotal"`
	Total            decimal.Decimal `json:"total"`
}

// CouponTotals returns the per-code discount totals.
func (t Totals) CouponTotals() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(t.Coupons))
	for _, c := range t.Coupons {
		out[c.Code] = c.Total
	}
	return out
}

// CouponTaxTotals returns the per-code tax implied by each discount.
func (t Totals) CouponTaxTotals() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(t.Coupons))
	for _, c := range t.Coupons {
		out[c.Code] = c.TotalTax
	}
	return out
}

// DiscountsTotal sums every coupon's discount.
func (t Totals) DiscountsTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, c := range t.Coupons {
		sum = sum.Add(c.Total)
	}
	return sum
}

// DiscountsTaxTotal sums the tax implied by every coupon's discount.
func (t Totals) DiscountsTaxTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, c := range t.Coupons {
		sum = sum.Add(c.TotalTax)
	}
	return sum
}

// CouponCounts returns the per-code count of discounted units.
func (t Totals) CouponCounts() map[string]int {
	out := make(map[string]int, len(t.Coupons))
	for _, c := range t.Coupons {
		out[c.Code] = c.Count
	}
	return out
}

// Settings are the environment flags a calculation pass honours.
type Settings struct {
	// TaxEnabled is the global tax switch; SetCalculateTax can still turn
	// tax math off for a single pass.
	TaxEnabled bool
	// RoundAtSubtotal selects per-rate rounding before summing tax totals
	// instead of one rounding of the summed total.
	RoundAtSubtotal bool
	// SequentialDiscounts makes each coupon discount the price left over by
	// the previous coupon rather than the original price.
	SequentialDiscounts bool
	// AdjustNonBaseLocation re-derives tax-inclusive prices by removing the
	// base location's tax when the item's rates differ from the base rates.
	AdjustNonBaseLocation bool
	// CurrencyDecimals is the rounding precision for published totals.
	CurrencyDecimals int32
}

// Hooks are the optional extension points observed during a pass. Nil
// callbacks are skipped.
type Hooks struct {
	// DiscountedPrice may override an item's final discounted unit price.
	DiscountedPrice func(price decimal.Decimal, line ProductLine) decimal.Decimal
	// BeforeTotals may inspect or mutate the aggregate state before the
	// grand total is summed.
	BeforeTotals func(*Totals)
	// GrandTotal may override the rounded grand total before the zero floor.
	GrandTotal func(total decimal.Decimal) decimal.Decimal
}
