package totals

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-totals/internal/catalog"
	"github.com/noah-isme/toko-totals/internal/coupon"
	"github.com/noah-isme/toko-totals/internal/tax"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func productLine(key, price string, qty int, inclusive bool) ProductLine {
	return ProductLine{
		Key:              key,
		Product:          catalog.Product{ID: uuid.New(), Taxable: true},
		Quantity:         qty,
		Price:            dec(price),
		PriceIncludesTax: inclusive,
	}
}

func singleRate(percent string) tax.StaticSource {
	return tax.StaticSource{Rates: map[string][]tax.Rate{
		"": {{ID: "std", Label: "Tax", Percent: dec(percent)}},
	}}
}

func taxedSettings() Settings {
	return Settings{TaxEnabled: true, CurrencyDecimals: 2}
}

func TestCalculateExclusiveTax(t *testing.T) {
	e := New(taxedSettings(), singleRate("10"), Hooks{})
	e.SetItems([]Line{productLine("a", "100", 1, false)})

	got, err := e.Calculate(context.Background())
	require.NoError(t, err)

	require.True(t, got.ItemsSubtotal.Equal(dec("100")), "items subtotal %s", got.ItemsSubtotal)
	require.True(t, got.ItemsSubtotalTax.Equal(dec("10")))
	require.True(t, got.ItemsTotal.Equal(dec("100")))
	require.True(t, got.TaxTotal.Equal(dec("10")))
	require.True(t, got.Total.Equal(dec("110")), "total %s", got.Total)
}

func TestCalculateInclusivePriceDecomposed(t *testing.T) {
	e := New(taxedSettings(), singleRate("20"), Hooks{})
	e.SetItems([]Line{productLine("a", "109.99", 1, true)})

	got, err := e.Calculate(context.Background())
	require.NoError(t, err)

	// The stored subtotal is always tax exclusive.
	require.True(t, got.ItemsSubtotal.Round(2).Equal(dec("91.66")), "subtotal %s", got.ItemsSubtotal)
	require.True(t, got.TaxTotal.Equal(dec("18.33")))
	require.True(t, got.Total.Equal(dec("109.99")), "total %s", got.Total)
}

func TestFixedProductCoupon(t *testing.T) {
	e := New(taxedSettings(), singleRate("10"), Hooks{})
	e.SetItems([]Line{productLine("a", "100", 1, false)})
	e.SetCoupons([]coupon.Rule{{Code: "SAVE30", Kind: coupon.FixedProduct, Amount: dec("30")}})

	got, err := e.Calculate(context.Background())
	require.NoError(t, err)

	require.Len(t, got.ItemTotals, 1)
	require.True(t, got.ItemTotals[0].DiscountedPrice.Equal(dec("70")))
	require.True(t, got.ItemsTotal.Equal(dec("70")))
	require.True(t, got.TaxTotal.Equal(dec("7")))
	require.True(t, got.Total.Equal(dec("77")))

	require.Equal(t, 1, got.CouponCounts()["SAVE30"])
	require.True(t, got.CouponTotals()["SAVE30"].Equal(dec("30")))
	require.True(t, got.CouponTaxTotals()["SAVE30"].Equal(dec("3")))
}

func TestFixedProductCouponCountsUnits(t *testing.T) {
	e := New(Settings{CurrencyDecimals: 2}, nil, Hooks{})
	e.SetItems([]Line{productLine("a", "100", 3, false)})
	e.SetCoupons([]coupon.Rule{{Code: "SAVE5", Kind: coupon.FixedProduct, Amount: dec("5")}})

	got, err := e.Calculate(context.Background())
	require.NoError(t, err)

	require.Equal(t, 3, got.CouponCounts()["SAVE5"])
	require.True(t, got.CouponTotals()["SAVE5"].Equal(dec("15")))
	require.True(t, got.ItemsTotal.Equal(dec("285")))
}

func TestFixedCartDistributesByValue(t *testing.T) {
	e := New(Settings{CurrencyDecimals: 2}, nil, Hooks{})
	e.SetItems([]Line{
		productLine("a", "100", 1, false),
		productLine("b", "50", 1, false),
	})
	e.SetCoupons([]coupon.Rule{{Code: "CART30", Kind: coupon.FixedCart, Amount: dec("30")}})

	got, err := e.Calculate(context.Background())
	require.NoError(t, err)

	// Shares are 100/150 and 50/150 of the cart amount.
	require.Len(t, got.ItemTotals, 2)
	require.True(t, got.ItemTotals[0].DiscountedPrice.Equal(dec("80")), "a price %s", got.ItemTotals[0].DiscountedPrice)
	require.True(t, got.ItemTotals[1].DiscountedPrice.Equal(dec("40")), "b price %s", got.ItemTotals[1].DiscountedPrice)
	require.True(t, got.CouponTotals()["CART30"].Equal(dec("30")))
	require.Equal(t, 2, got.CouponCounts()["CART30"])
	require.True(t, got.Total.Equal(dec("120")))
}

func TestFixedCartZeroValueCart(t *testing.T) {
	e := New(Settings{CurrencyDecimals: 2}, nil, Hooks{})
	e.SetItems([]Line{productLine("a", "0", 2, false)})
	e.SetCoupons([]coupon.Rule{{Code: "CART10", Kind: coupon.FixedCart, Amount: dec("10")}})

	got, err := e.Calculate(context.Background())
	require.NoError(t, err)

	require.True(t, got.CouponTotals()["CART10"].IsZero())
	require.True(t, got.Total.IsZero())
}

func TestSequentialDiscountsCapAtPrice(t *testing.T) {
	rules := []coupon.Rule{
		{Code: "ONE", Kind: coupon.FixedProduct, Amount: dec("60")},
		{Code: "TWO", Kind: coupon.FixedProduct, Amount: dec("60")},
	}

	seq := New(Settings{SequentialDiscounts: true, CurrencyDecimals: 2}, nil, Hooks{})
	seq.SetItems([]Line{productLine("a", "100", 1, false)})
	seq.SetCoupons(rules)
	got, err := seq.Calculate(context.Background())
	require.NoError(t, err)

	// Sequential mode discounts the remainder, so the second coupon only
	// takes what is left.
	require.True(t, got.CouponTotals()["ONE"].Equal(dec("60")))
	require.True(t, got.CouponTotals()["TWO"].Equal(dec("40")))
	require.True(t, got.ItemsTotal.IsZero())

	flat := New(Settings{CurrencyDecimals: 2}, nil, Hooks{})
	flat.SetItems([]Line{productLine("a", "100", 1, false)})
	flat.SetCoupons(rules)
	got, err = flat.Calculate(context.Background())
	require.NoError(t, err)

	// Non-sequential mode lets each coupon discount the original price;
	// the item still floors at zero.
	require.True(t, got.CouponTotals()["ONE"].Equal(dec("60")))
	require.True(t, got.CouponTotals()["TWO"].Equal(dec("60")))
	require.True(t, got.ItemsTotal.IsZero())
}

func TestInclusiveCouponBacksOutTax(t *testing.T) {
	e := New(taxedSettings(), singleRate("20"), Hooks{})
	e.SetItems([]Line{productLine("a", "120", 1, true)})
	e.SetCoupons([]coupon.Rule{{Code: "OFF12", Kind: coupon.FixedProduct, Amount: dec("12")}})

	got, err := e.Calculate(context.Background())
	require.NoError(t, err)

	// The 12 off the gross price is 10 net plus 2 tax.
	require.True(t, got.CouponTotals()["OFF12"].Equal(dec("10")))
	require.True(t, got.CouponTaxTotals()["OFF12"].Equal(dec("2")))
	require.True(t, got.ItemsTotal.Equal(dec("90")))
	require.True(t, got.TaxTotal.Equal(dec("18")))
	require.True(t, got.Total.Equal(dec("108")))
}

func TestProductScopedCouponSkipsOtherItems(t *testing.T) {
	target := productLine("a", "100", 1, false)
	other := productLine("b", "100", 1, false)

	e := New(Settings{CurrencyDecimals: 2}, nil, Hooks{})
	e.SetItems([]Line{target, other})
	e.SetCoupons([]coupon.Rule{{
		Code:       "ONLYA",
		Kind:       coupon.FixedProduct,
		Amount:     dec("10"),
		ProductIDs: []uuid.UUID{target.Product.ID},
	}})

	got, err := e.Calculate(context.Background())
	require.NoError(t, err)

	require.True(t, got.CouponTotals()["ONLYA"].Equal(dec("10")))
	require.Equal(t, 1, got.CouponCounts()["ONLYA"])
	require.True(t, got.ItemsTotal.Equal(dec("190")))
}

func TestItemsSortedByValueDescending(t *testing.T) {
	e := New(Settings{CurrencyDecimals: 2}, nil, Hooks{})
	e.SetItems([]Line{
		productLine("small", "10", 1, false),
		productLine("big", "90", 1, false),
		productLine("mid", "40", 1, false),
	})

	got, err := e.Calculate(context.Background())
	require.NoError(t, err)

	require.Len(t, got.ItemTotals, 3)
	require.Equal(t, "big", got.ItemTotals[0].Key)
	require.Equal(t, "mid", got.ItemTotals[1].Key)
	require.Equal(t, "small", got.ItemTotals[2].Key)
}

type noteLine struct{}

func (noteLine) cartLine() {}

func TestNonProductLinesSkipped(t *testing.T) {
	e := New(Settings{CurrencyDecimals: 2}, nil, Hooks{})
	e.SetItems([]Line{
		noteLine{},
		productLine("a", "25", 1, false),
		productLine("bad-qty", "10", 0, false),
	})

	got, err := e.Calculate(context.Background())
	require.NoError(t, err)

	require.Len(t, got.ItemTotals, 1)
	require.True(t, got.Total.Equal(dec("25")))
}

func TestNonTaxableItem(t *testing.T) {
	line := productLine("a", "100", 1, false)
	line.Product.Taxable = false

	e := New(taxedSettings(), singleRate("10"), Hooks{})
	e.SetItems([]Line{line})

	got, err := e.Calculate(context.Background())
	require.NoError(t, err)

	require.True(t, got.TaxTotal.IsZero())
	require.True(t, got.Total.Equal(dec("100")))
}

func TestSetCalculateTaxDisablesTax(t *testing.T) {
	e := New(taxedSettings(), singleRate("10"), Hooks{})
	e.SetItems([]Line{productLine("a", "100", 1, false)})
	e.SetCalculateTax(false)

	got, err := e.Calculate(context.Background())
	require.NoError(t, err)

	require.True(t, got.TaxTotal.IsZero())
	require.True(t, got.Total.Equal(dec("100")))
}

func TestRoundingPolicies(t *testing.T) {
	rates := tax.StaticSource{Rates: map[string][]tax.Rate{
		"": {
			{ID: "r1", Percent: dec("5.25")},
			{ID: "r2", Percent: dec("5.25")},
		},
	}}
	items := []Line{productLine("a", "9.99", 1, false)}

	// Each rate yields 0.524475 of tax.
	perRate := New(Settings{TaxEnabled: true, RoundAtSubtotal: true, CurrencyDecimals: 2}, rates, Hooks{})
	perRate.SetItems(items)
	got, err := perRate.Calculate(context.Background())
	require.NoError(t, err)
	require.True(t, got.TaxTotal.Equal(dec("1.04")), "per-rate tax %s", got.TaxTotal)

	once := New(Settings{TaxEnabled: true, CurrencyDecimals: 2}, rates, Hooks{})
	once.SetItems(items)
	got, err = once.Calculate(context.Background())
	require.NoError(t, err)
	require.True(t, got.TaxTotal.Equal(dec("1.05")), "summed tax %s", got.TaxTotal)
}

func TestFeeTaxStaysOutOfTaxTotal(t *testing.T) {
	e := New(taxedSettings(), singleRate("10"), Hooks{})
	e.SetItems([]Line{productLine("a", "100", 1, false)})
	e.SetFees([]Fee{{Key: "handling", Amount: dec("5"), Taxable: true}})

	got, err := e.Calculate(context.Background())
	require.NoError(t, err)

	require.True(t, got.FeesTotal.Equal(dec("5")))
	require.True(t, got.FeesTotalTax.Equal(dec("0.5")))

	// Only item and shipping tax feed the per-rate merge and the totals.
	require.Len(t, got.RateTotals, 1)
	require.True(t, got.RateTotals[0].TaxTotal.Equal(dec("10")))
	require.True(t, got.TaxTotal.Equal(dec("10")))
	require.True(t, got.Total.Equal(dec("115")), "total %s", got.Total)
}

func TestShippingTaxesMergePerRate(t *testing.T) {
	e := New(taxedSettings(), singleRate("10"), Hooks{})
	e.SetItems([]Line{productLine("a", "100", 1, false)})
	e.SetShipping([]ShippingLine{
		{Key: "flat", Cost: dec("10"), Taxes: tax.Breakdown{{RateID: "std", Amount: dec("1")}}},
		{Key: "express", Cost: dec("20"), Taxes: tax.Breakdown{{RateID: "std", Amount: dec("2")}}},
	})

	got, err := e.Calculate(context.Background())
	require.NoError(t, err)

	require.True(t, got.ShippingTotal.Equal(dec("30")))
	require.True(t, got.ShippingTaxTotal.Equal(dec("3")))
	require.Len(t, got.RateTotals, 1)
	require.Equal(t, "std", got.RateTotals[0].RateID)
	require.True(t, got.RateTotals[0].TaxTotal.Equal(dec("10")))
	require.True(t, got.RateTotals[0].ShippingTaxTotal.Equal(dec("3")))
	require.True(t, got.Total.Equal(dec("143")))
}

func TestAdjustNonBaseLocationPrice(t *testing.T) {
	rates := tax.StaticSource{
		Rates:     map[string][]tax.Rate{"": {{ID: "local", Percent: dec("10")}}},
		BaseRates: map[string][]tax.Rate{"": {{ID: "base", Percent: dec("20")}}},
	}
	e := New(Settings{TaxEnabled: true, AdjustNonBaseLocation: true, CurrencyDecimals: 2}, rates, Hooks{})
	e.SetItems([]Line{productLine("a", "120", 1, true)})

	got, err := e.Calculate(context.Background())
	require.NoError(t, err)

	// Base tax is stripped from the inclusive price, then the local rate
	// applies on top.
	require.True(t, got.ItemsSubtotal.Equal(dec("100")), "subtotal %s", got.ItemsSubtotal)
	require.True(t, got.TaxTotal.Equal(dec("10")))
	require.True(t, got.Total.Equal(dec("110")))
	require.False(t, got.ItemTotals[0].PriceIncludesTax)
}

func TestHooks(t *testing.T) {
	var sawBeforeTotals bool
	e := New(Settings{CurrencyDecimals: 2}, nil, Hooks{
		DiscountedPrice: func(price decimal.Decimal, _ ProductLine) decimal.Decimal {
			return price.Sub(dec("1"))
		},
		BeforeTotals: func(t *Totals) {
			sawBeforeTotals = true
		},
		GrandTotal: func(total decimal.Decimal) decimal.Decimal {
			return total.Add(dec("0.05"))
		},
	})
	e.SetItems([]Line{productLine("a", "50", 1, false)})

	got, err := e.Calculate(context.Background())
	require.NoError(t, err)

	require.True(t, sawBeforeTotals)
	require.True(t, got.ItemsTotal.Equal(dec("49")))
	require.True(t, got.Total.Equal(dec("49.05")), "total %s", got.Total)
}

func TestGrandTotalFloorsAtZero(t *testing.T) {
	e := New(Settings{CurrencyDecimals: 2}, nil, Hooks{
		GrandTotal: func(decimal.Decimal) decimal.Decimal {
			return dec("-5")
		},
	})
	e.SetItems([]Line{productLine("a", "10", 1, false)})

	got, err := e.Calculate(context.Background())
	require.NoError(t, err)
	require.True(t, got.Total.IsZero())
}

func TestCalculateIsRepeatable(t *testing.T) {
	e := New(taxedSettings(), singleRate("19"), Hooks{})
	e.SetItems([]Line{
		productLine("a", "33.33", 2, true),
		productLine("b", "8.50", 1, false),
	})
	e.SetCoupons([]coupon.Rule{{Code: "TEN", Kind: coupon.Percent, Amount: dec("10")}})
	e.SetFees([]Fee{{Key: "gift-wrap", Amount: dec("2.50"), Taxable: true}})

	first, err := e.Calculate(context.Background())
	require.NoError(t, err)
	second, err := e.Calculate(context.Background())
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	require.JSONEq(t, string(a), string(b))
}

func TestRateLookupsMemoizedPerPass(t *testing.T) {
	src := &countingRateSource{StaticSource: singleRate("10")}
	e := New(taxedSettings(), src, Hooks{})
	e.SetItems([]Line{
		productLine("a", "10", 1, false),
		productLine("b", "20", 1, false),
		productLine("c", "30", 1, false),
	})
	e.SetCoupons([]coupon.Rule{{Code: "TEN", Kind: coupon.Percent, Amount: dec("10")}})

	_, err := e.Calculate(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, src.calls, "expected one rate lookup per class per pass")
}

type countingRateSource struct {
	tax.StaticSource
	calls int
}

func (c *countingRateSource) RatesFor(ctx context.Context, taxClass string) ([]tax.Rate, error) {
	c.calls++
	return c.StaticSource.RatesFor(ctx, taxClass)
}
