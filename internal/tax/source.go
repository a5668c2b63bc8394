package tax

import "context"

// Source resolves the tax rates applicable to a tax class. RatesFor returns
// the rates for the customer location, BaseRatesFor the rates at the shop's
// base location (used when de-taxing prices entered inclusive of base tax).
type Source interface {
	RatesFor(ctx context.Context, taxClass string) ([]Rate, error)
	BaseRatesFor(ctx context.Context, taxClass string) ([]Rate, error)
}

// MemoSource memoizes lookups per tax class. It is scoped to a single
// calculation pass and must not be shared across goroutines or reused
// between passes.
type MemoSource struct {
	src   Source
	rates map[string][]Rate
	base  map[string][]Rate
}

// NewMemoSource wraps src with per-class memoization.
func NewMemoSource(src Source) *MemoSource {
	return &MemoSource{
		src:   src,
		rates: map[string][]Rate{},
		base:  map[string][]Rate{},
	}
}

// RatesFor returns the memoized rates for taxClass, consulting the underlying
// source at most once per class.
func (m *MemoSource) RatesFor(ctx context.Context, taxClass string) ([]Rate, error) {
	if cached, ok := m.rates[taxClass]; ok {
		return cached, nil
	}
	rates, err := m.src.RatesFor(ctx, taxClass)
	if err != nil {
		return nil, err
	}
	m.rates[taxClass] = rates
	return rates, nil
}

// BaseRatesFor behaves like RatesFor for the base location.
func (m *MemoSource) BaseRatesFor(ctx context.Context, taxClass string) ([]Rate, error) {
	if cached, ok := m.base[taxClass]; ok {
		return cached, nil
	}
	rates, err := m.src.BaseRatesFor(ctx, taxClass)
	if err != nil {
		return nil, err
	}
	m.base[taxClass] = rates
	return rates, nil
}

// StaticSource serves a fixed rate table keyed by tax class. It is the
// zero-dependency source used in tests and single-jurisdiction deployments.
type StaticSource struct {
	Rates     map[string][]Rate
	BaseRates map[string][]Rate
}

// RatesFor returns the configured rates for taxClass.
func (s StaticSource) RatesFor(_ context.Context, taxClass string) ([]Rate, error) {
	return s.Rates[taxClass], nil
}

// BaseRatesFor returns the configured base rates, falling back to the regular
// table when no separate base table is set.
func (s StaticSource) BaseRatesFor(_ context.Context, taxClass string) ([]Rate, error) {
	if s.BaseRates != nil {
		return s.BaseRates[taxClass], nil
	}
	return s.Rates[taxClass], nil
}
