package totals

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-totals/internal/coupon"
	"github.com/noah-isme/toko-totals/internal/tax"
)

var hundred = decimal.NewFromInt(100)

// item is the working state for one product line during a pass.
type item struct {
	line             ProductLine
	priceIncludesTax bool
	subtotal         decimal.Decimal
	subtotalTax      decimal.Decimal
	subtotalTaxes    tax.Breakdown
	discountedPrice  decimal.Decimal
	total            decimal.Decimal
	totalTax         decimal.Decimal
	taxes            tax.Breakdown
}

func (it *item) qty() decimal.Decimal {
	return decimal.NewFromInt(int64(it.line.Quantity))
}

// appliedCoupon accumulates one rule's effect over the pass. The count,
// total and tax fields move independently: a unit can be counted while
// contributing a zero amount once the price hits the floor.
type appliedCoupon struct {
	rule     coupon.Rule
	count    int
	total    decimal.Decimal
	totalTax decimal.Decimal
}

type feeState struct {
	fee      Fee
	totalTax decimal.Decimal
	taxes    tax.Breakdown
}

// Engine computes cart totals. Configure it once, feed it lines, coupons,
// fees and shipping, then call Calculate. An Engine serves one cart at a
// time; concurrent carts get their own Engine.
type Engine struct {
	settings     Settings
	rates        tax.Source
	hooks        Hooks
	calculateTax bool

	lines       []ProductLine
	couponRules []coupon.Rule
	fees        []Fee
	shipping    []ShippingLine

	items     []*item
	coupons   []*appliedCoupon
	feeStates []*feeState
	memo      *tax.MemoSource
	totals    Totals
}

// New returns an engine bound to the given settings, rate source and hooks.
// Tax calculation starts enabled; SetCalculateTax can turn it off per pass.
func New(settings Settings, rates tax.Source, hooks Hooks) *Engine {
	return &Engine{
		settings:     settings,
		rates:        rates,
		hooks:        hooks,
		calculateTax: true,
	}
}

// SetCalculateTax toggles tax math for subsequent passes. It cannot enable
// tax when the settings disable it globally.
func (e *Engine) SetCalculateTax(v bool) {
	e.calculateTax = v
}

// SetItems replaces the cart lines. Entries that are not product lines are
// skipped, as are lines with a non-positive quantity; negative unit prices
// are clamped to zero.
func (e *Engine) SetItems(lines []Line) {
	e.lines = e.lines[:0]
	for _, l := range lines {
		pl, ok := l.(ProductLine)
		if !ok || pl.Quantity <= 0 {
			continue
		}
		if pl.Price.IsNegative() {
			pl.Price = decimal.Zero
		}
		e.lines = append(e.lines, pl)
	}
}

// SetCoupons replaces the coupon rules. Registration order is preserved and
// determines the order in which discounts are applied to each item.
func (e *Engine) SetCoupons(rules []coupon.Rule) {
	e.couponRules = append(e.couponRules[:0], rules...)
}

// SetFees replaces the fee lines.
func (e *Engine) SetFees(fees []Fee) {
	e.fees = append(e.fees[:0], fees...)
}

// SetShipping replaces the shipping lines.
func (e *Engine) SetShipping(lines []ShippingLine) {
	e.shipping = append(e.shipping[:0], lines...)
}

// Totals returns the result of the most recent pass.
func (e *Engine) Totals() Totals {
	return e.totals
}

func (e *Engine) taxEnabled() bool {
	return e.settings.TaxEnabled && e.calculateTax && e.rates != nil
}

// Calculate runs a full pass over the current inputs and returns the
// totals. Each pass rebuilds its working state from the inputs, so calling
// it again without changing inputs yields the same result.
func (e *Engine) Calculate(ctx context.Context) (Totals, error) {
	e.beginPass()
	if err := e.calculateItemSubtotals(ctx); err != nil {
		return Totals{}, err
	}
	e.sortItems()
	if err := e.allocateDiscounts(ctx); err != nil {
		return Totals{}, err
	}
	if err := e.calculateItemTotals(ctx); err != nil {
		return Totals{}, err
	}
	if err := e.calculateFeeTotals(ctx); err != nil {
		return Totals{}, err
	}
	e.assembleTotals()
	return e.totals, nil
}

func (e *Engine) beginPass() {
	e.items = make([]*item, 0, len(e.lines))
	for _, line := range e.lines {
		e.items = append(e.items, &item{
			line:             line,
			priceIncludesTax: line.PriceIncludesTax,
		})
	}
	e.coupons = make([]*appliedCoupon, 0, len(e.couponRules))
	for _, rule := range e.couponRules {
		e.coupons = append(e.coupons, &appliedCoupon{rule: rule})
	}
	e.feeStates = make([]*feeState, 0, len(e.fees))
	for _, fee := range e.fees {
		e.feeStates = append(e.feeStates, &feeState{fee: fee})
	}
	if e.rates != nil {
		e.memo = tax.NewMemoSource(e.rates)
	} else {
		e.memo = nil
	}
	e.totals = Totals{}
}

func (e *Engine) itemRates(ctx context.Context, it *item) ([]tax.Rate, error) {
	if !it.line.Product.Taxable {
		return nil, nil
	}
	return e.memo.RatesFor(ctx, it.line.Product.TaxClass)
}

// calculateItemSubtotals derives each item's pre-discount line amount and
// tax. Amounts entered inclusive of tax are decomposed so the stored
// subtotal is always tax exclusive.
func (e *Engine) calculateItemSubtotals(ctx context.Context) error {
	for _, it := range e.items {
		lineAmount := it.line.Price.Mul(it.qty())
		if !e.taxEnabled() {
			it.subtotal = lineAmount
			it.subtotalTax = decimal.Zero
			continue
		}
		if it.priceIncludesTax && e.settings.AdjustNonBaseLocation && it.line.Product.Taxable {
			adjusted, includesTax, err := e.adjustNonBaseLocationAmount(ctx, it, lineAmount)
			if err != nil {
				return err
			}
			lineAmount = adjusted
			it.priceIncludesTax = includesTax
		}
		it.subtotal = lineAmount
		rates, err := e.itemRates(ctx, it)
		if err != nil {
			return fmt.Errorf("item %q tax rates: %w", it.line.Key, err)
		}
		it.subtotalTaxes = tax.CalcTax(lineAmount, rates, it.priceIncludesTax)
		it.subtotalTax = it.subtotalTaxes.Total()
		if it.priceIncludesTax {
			it.subtotal = lineAmount.Sub(it.subtotalTax)
		}
	}
	return nil
}

// adjustNonBaseLocationAmount removes the shop base location's tax from an
// inclusive amount when the customer's rates differ from the base rates.
// The returned amount no longer includes tax.
func (e *Engine) adjustNonBaseLocationAmount(ctx context.Context, it *item, amount decimal.Decimal) (decimal.Decimal, bool, error) {
	class := it.line.Product.TaxClass
	rates, err := e.memo.RatesFor(ctx, class)
	if err != nil {
		return amount, true, fmt.Errorf("item %q tax rates: %w", it.line.Key, err)
	}
	baseRates, err := e.memo.BaseRatesFor(ctx, class)
	if err != nil {
		return amount, true, fmt.Errorf("item %q base tax rates: %w", it.line.Key, err)
	}
	if tax.RatesEqual(rates, baseRates) {
		return amount, true, nil
	}
	removed := tax.CalcTax(amount, baseRates, true).Total()
	return amount.Sub(removed), false, nil
}

// sortItems orders items by descending subtotal. The sort is stable so
// equal-value items keep their registration order, which makes the
// fixed-cart distribution deterministic.
func (e *Engine) sortItems() {
	sort.SliceStable(e.items, func(i, j int) bool {
		return e.items[i].subtotal.GreaterThan(e.items[j].subtotal)
	})
}

// undiscountedPrice is the per-unit price discounts start from. Items whose
// amount still includes tax discount the gross price.
func (e *Engine) undiscountedPrice(it *item) decimal.Decimal {
	if it.priceIncludesTax {
		return it.subtotal.Add(it.subtotalTax).Div(it.qty())
	}
	return it.subtotal.Div(it.qty())
}

// allocateDiscounts walks every item through the registered coupons in
// order, reducing the unit price as each applies. The walk stops for an
// item once its price reaches zero.
func (e *Engine) allocateDiscounts(ctx context.Context) error {
	denominator := decimal.Zero
	for _, it := range e.items {
		denominator = denominator.Add(it.subtotal).Add(it.subtotalTax)
	}

	for _, it := range e.items {
		price := e.undiscountedPrice(it)
		for _, ac := range e.coupons {
			if ac.rule.ValidForCart() || ac.rule.ValidForProduct(it.line.Product) {
				amount, err := e.applyCoupon(ctx, ac, it, price, denominator)
				if err != nil {
					return err
				}
				price = decimal.Max(price.Sub(amount), decimal.Zero)
			}
			if !price.IsPositive() {
				break
			}
		}
		if e.hooks.DiscountedPrice != nil {
			price = e.hooks.DiscountedPrice(price, it.line)
		}
		it.discountedPrice = decimal.Max(price, decimal.Zero)
	}
	return nil
}

// applyCoupon computes the per-unit discount one coupon takes from an item
// and records the coupon's count, total and tax. The returned amount never
// exceeds the price being discounted.
func (e *Engine) applyCoupon(ctx context.Context, ac *appliedCoupon, it *item, price, denominator decimal.Decimal) (decimal.Decimal, error) {
	priceToDiscount := price
	if !e.settings.SequentialDiscounts {
		priceToDiscount = e.undiscountedPrice(it)
	}

	candidate := decimal.Zero
	switch ac.rule.Kind {
	case coupon.FixedProduct:
		candidate = ac.rule.Amount
	case coupon.Percent, coupon.PercentProduct:
		candidate = priceToDiscount.Mul(ac.rule.Amount).Div(hundred)
	case coupon.FixedCart:
		// The cart amount is shared in proportion to each item's gross
		// value, then spread over the item's units. An all-zero cart
		// takes no discount.
		if denominator.IsPositive() {
			share := it.subtotal.Add(it.subtotalTax).Div(denominator)
			candidate = ac.rule.Amount.Mul(share).Div(it.qty())
		}
	}
	amount := decimal.Min(priceToDiscount, candidate)
	if amount.IsNegative() {
		amount = decimal.Zero
	}

	ac.count += it.line.Quantity
	ac.total = ac.total.Add(amount.Mul(it.qty()))
	if e.taxEnabled() {
		rates, err := e.itemRates(ctx, it)
		if err != nil {
			return decimal.Zero, fmt.Errorf("item %q tax rates: %w", it.line.Key, err)
		}
		lineTax := tax.CalcTax(amount, rates, it.priceIncludesTax).Total().Mul(it.qty())
		ac.totalTax = ac.totalTax.Add(lineTax)
		if it.priceIncludesTax {
			ac.total = ac.total.Sub(lineTax)
		}
	}
	return amount, nil
}

// calculateItemTotals turns each item's discounted unit price into its
// final line total and tax.
func (e *Engine) calculateItemTotals(ctx context.Context) error {
	for _, it := range e.items {
		it.total = it.discountedPrice.Mul(it.qty())
		if e.taxEnabled() {
			rates, err := e.itemRates(ctx, it)
			if err != nil {
				return fmt.Errorf("item %q tax rates: %w", it.line.Key, err)
			}
			it.taxes = tax.CalcTax(it.total, rates, it.priceIncludesTax)
			it.totalTax = it.taxes.Total()
			if it.priceIncludesTax {
				it.total = it.total.Sub(it.totalTax)
			}
		}
	}
	return nil
}

// calculateFeeTotals computes tax for each taxable fee. Fee amounts are
// fixed input and always tax exclusive.
func (e *Engine) calculateFeeTotals(ctx context.Context) error {
	for _, fs := range e.feeStates {
		if !e.taxEnabled() || !fs.fee.Taxable {
			continue
		}
		rates, err := e.memo.RatesFor(ctx, fs.fee.TaxClass)
		if err != nil {
			return fmt.Errorf("fee %q tax rates: %w", fs.fee.Key, err)
		}
		fs.taxes = tax.CalcTax(fs.fee.Amount, rates, false)
		fs.totalTax = fs.taxes.Total()
	}
	return nil
}

// mergedRateTotals folds item and shipping taxes into one per-rate
// aggregate, preserving first-seen rate order. Fee tax stays in
// FeesTotalTax and is not part of the tax or grand totals.
func (e *Engine) mergedRateTotals() []RateTotal {
	totals := []RateTotal{}
	pos := map[string]int{}
	accumulate := func(rateID string, amount decimal.Decimal, shipping bool) {
		i, ok := pos[rateID]
		if !ok {
			i = len(totals)
			pos[rateID] = i
			totals = append(totals, RateTotal{RateID: rateID})
		}
		if shipping {
			totals[i].ShippingTaxTotal = totals[i].ShippingTaxTotal.Add(amount)
		} else {
			totals[i].TaxTotal = totals[i].TaxTotal.Add(amount)
		}
	}
	for _, it := range e.items {
		for _, a := range it.taxes {
			accumulate(a.RateID, a.Amount, false)
		}
	}
	for _, sl := range e.shipping {
		for _, a := range sl.Taxes {
			accumulate(a.RateID, a.Amount, true)
		}
	}
	return totals
}

// assembleTotals aggregates the pass state into the published totals and
// derives the grand total.
func (e *Engine) assembleTotals() {
	t := &e.totals

	t.ItemTotals = make([]ItemTotal, 0, len(e.items))
	for _, it := range e.items {
		t.ItemsSubtotal = t.ItemsSubtotal.Add(it.subtotal)
		t.ItemsSubtotalTax = t.ItemsSubtotalTax.Add(it.subtotalTax)
		t.ItemsTotal = t.ItemsTotal.Add(it.total)
		t.ItemsTotalTax = t.ItemsTotalTax.Add(it.totalTax)
		t.ItemTotals = append(t.ItemTotals, ItemTotal{
			Key:              it.line.Key,
			ProductID:        it.line.Product.ID,
			Quantity:         it.line.Quantity,
			PriceIncludesTax: it.priceIncludesTax,
			Subtotal:         it.subtotal,
			SubtotalTax:      it.subtotalTax,
			SubtotalTaxes:    it.subtotalTaxes,
			DiscountedPrice:  it.discountedPrice,
			Total:            it.total,
			TotalTax:         it.totalTax,
			Taxes:            it.taxes,
		})
	}

	t.Coupons = make([]CouponTotal, 0, len(e.coupons))
	for _, ac := range e.coupons {
		t.Coupons = append(t.Coupons, CouponTotal{
			Code:     ac.rule.Code,
			Count:    ac.count,
			Total:    ac.total,
			TotalTax: ac.totalTax,
		})
	}

	for _, fs := range e.feeStates {
		t.FeesTotal = t.FeesTotal.Add(fs.fee.Amount)
		t.FeesTotalTax = t.FeesTotalTax.Add(fs.totalTax)
	}
	for _, sl := range e.shipping {
		t.ShippingTotal = t.ShippingTotal.Add(sl.Cost)
	}

	t.RateTotals = e.mergedRateTotals()
	dec := e.settings.CurrencyDecimals
	if e.settings.RoundAtSubtotal {
		for _, rt := range t.RateTotals {
			t.TaxTotal = t.TaxTotal.Add(rt.TaxTotal.Round(dec))
			t.ShippingTaxTotal = t.ShippingTaxTotal.Add(rt.ShippingTaxTotal.Round(dec))
		}
	} else {
		taxSum := decimal.Zero
		shippingSum := decimal.Zero
		for _, rt := range t.RateTotals {
			taxSum = taxSum.Add(rt.TaxTotal)
			shippingSum = shippingSum.Add(rt.ShippingTaxTotal)
		}
		t.TaxTotal = taxSum.Round(dec)
		t.ShippingTaxTotal = shippingSum.Round(dec)
	}

	if e.hooks.BeforeTotals != nil {
		e.hooks.BeforeTotals(t)
	}

	grand := t.ItemsTotal.
		Add(t.FeesTotal).
		Add(t.ShippingTotal).
		Add(t.TaxTotal).
		Add(t.ShippingTaxTotal).
		Round(dec)
	if e.hooks.GrandTotal != nil {
		grand = e.hooks.GrandTotal(grand)
	}
	t.Total = decimal.Max(grand, decimal.Zero)
}
