package tax

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Rate describes a single tax rate applicable to a tax class.
type Rate struct {
	ID       string          `json:"id"`
	Label    string          `json:"label"`
	Percent  decimal.Decimal `json:"percent"`
	Compound bool            `json:"compound"`
	Shipping bool            `json:"shipping"`
}

// Applied is the tax attributed to one rate for a single amount.
type Applied struct {
	RateID string          `json:"rateId"`
	Amount decimal.Decimal `json:"amount"`
}

// Breakdown maps rate ids to tax amounts while preserving first-seen order,
// so downstream consumers see a deterministic per-rate ordering.
type Breakdown []Applied

// Add merges amount into the entry for rateID, appending a new entry the
// first time the rate is seen.
func (b *Breakdown) Add(rateID string, amount decimal.Decimal) {
	for i := range *b {
		if (*b)[i].RateID == rateID {
			(*b)[i].Amount = (*b)[i].Amount.Add(amount)
			return
		}
	}
	*b = append(*b, Applied{RateID: rateID, Amount: amount})
}

// Amount returns the tax recorded for rateID, zero when absent.
func (b Breakdown) Amount(rateID string) decimal.Decimal {
	for _, a := range b {
		if a.RateID == rateID {
			return a.Amount
		}
	}
	return decimal.Zero
}

// Total sums every per-rate amount without rounding.
func (b Breakdown) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, a := range b {
		sum = sum.Add(a.Amount)
	}
	return sum
}

// CalcTax computes the per-rate tax for price. When inclusive is true the
// price is treated as already containing the tax and the breakdown holds the
// amounts that must be backed out of it. Amounts are exact; rounding is the
// caller's policy decision.
func CalcTax(price decimal.Decimal, rates []Rate, inclusive bool) Breakdown {
	if len(rates) == 0 || price.IsZero() {
		return nil
	}
	if inclusive {
		return calcInclusive(price, rates)
	}
	return calcExclusive(price, rates)
}

// calcExclusive applies non-compound rates to the bare price and compound
// rates to the price plus all tax accumulated so far.
func calcExclusive(price decimal.Decimal, rates []Rate) Breakdown {
	var bd Breakdown
	accumulated := decimal.Zero
	for _, r := range rates {
		if r.Compound {
			continue
		}
		amount := price.Mul(r.Percent).Div(hundred)
		bd.Add(r.ID, amount)
		accumulated = accumulated.Add(amount)
	}
	for _, r := range rates {
		if !r.Compound {
			continue
		}
		amount := price.Add(accumulated).Mul(r.Percent).Div(hundred)
		bd.Add(r.ID, amount)
		accumulated = accumulated.Add(amount)
	}
	return bd
}

// calcInclusive decomposes a tax-inclusive price. Compound rates sit on top
// of the regular rates and stack multiplicatively, so each compound layer is
// peeled off in reverse before the regular divisor applies to the remainder.
// This is the exact inverse of calcExclusive.
func calcInclusive(price decimal.Decimal, rates []Rate) Breakdown {
	var bd Breakdown
	for _, r := range rates {
		bd.Add(r.ID, decimal.Zero)
	}

	one := decimal.NewFromInt(1)
	nonCompoundPrice := price
	for i := len(rates) - 1; i >= 0; i-- {
		r := rates[i]
		if !r.Compound {
			continue
		}
		divisor := one.Add(r.Percent.Div(hundred))
		amount := nonCompoundPrice.Sub(nonCompoundPrice.Div(divisor))
		bd.Add(r.ID, amount)
		nonCompoundPrice = nonCompoundPrice.Sub(amount)
	}

	regularPercent := decimal.Zero
	for _, r := range rates {
		if !r.Compound {
			regularPercent = regularPercent.Add(r.Percent)
		}
	}
	regularDivisor := one.Add(regularPercent.Div(hundred))
	for _, r := range rates {
		if r.Compound {
			continue
		}
		bd.Add(r.ID, nonCompoundPrice.Mul(r.Percent.Div(hundred)).Div(regularDivisor))
	}
	return bd
}

// RatesEqual reports whether two rate sets are identical in content and order.
func RatesEqual(a, b []Rate) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Compound != b[i].Compound || !a[i].Percent.Equal(b[i].Percent) {
			return false
		}
	}
	return true
}
