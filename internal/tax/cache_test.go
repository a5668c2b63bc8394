package tax_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/toko-totals/internal/obs"
	"github.com/noah-isme/toko-totals/internal/tax"
)

func TestCachedSourceHitsStoreOnce(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	src := &countingSource{StaticSource: tax.StaticSource{
		Rates: map[string][]tax.Rate{
			"standard": {{ID: "std", Label: "Standard", Percent: dec("20"), Shipping: true}},
		},
	}}
	cached := tax.CachedSource{Src: src, R: rdb, TTL: time.Minute}

	for i := 0; i < 3; i++ {
		rates, err := cached.RatesFor(context.Background(), "standard")
		if err != nil {
			t.Fatalf("rates for standard: %v", err)
		}
		if len(rates) != 1 || rates[0].ID != "std" {
			t.Fatalf("unexpected rates: %+v", rates)
		}
		if !rates[0].Percent.Equal(dec("20")) {
			t.Fatalf("percent survived cache badly: %s", rates[0].Percent)
		}
	}
	if src.calls != 1 {
		t.Fatalf("expected 1 store lookup, got %d", src.calls)
	}
}

func TestCachedSourceCountsLookupsBySource(t *testing.T) {
	obs.MustRegisterDomainMetrics("totals", prometheus.NewRegistry())
	storeBefore := testutil.ToFloat64(obs.RateLookupTotal.WithLabelValues("store"))
	cacheBefore := testutil.ToFloat64(obs.RateLookupTotal.WithLabelValues("cache"))

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	src := &countingSource{StaticSource: tax.StaticSource{
		Rates: map[string][]tax.Rate{"standard": {{ID: "std", Percent: dec("20")}}},
	}}
	cached := tax.CachedSource{Src: src, R: rdb, TTL: time.Minute}

	for i := 0; i < 3; i++ {
		if _, err := cached.RatesFor(context.Background(), "standard"); err != nil {
			t.Fatalf("rates for standard: %v", err)
		}
	}

	if got := testutil.ToFloat64(obs.RateLookupTotal.WithLabelValues("store")) - storeBefore; got != 1 {
		t.Fatalf("expected 1 store lookup, got %v", got)
	}
	if got := testutil.ToFloat64(obs.RateLookupTotal.WithLabelValues("cache")) - cacheBefore; got != 2 {
		t.Fatalf("expected 2 cache hits, got %v", got)
	}
}

func TestCachedSourceWithoutRedisDelegates(t *testing.T) {
	src := &countingSource{StaticSource: tax.StaticSource{
		Rates: map[string][]tax.Rate{"standard": {{ID: "std", Percent: dec("10")}}},
	}}
	cached := tax.CachedSource{Src: src}
	if _, err := cached.RatesFor(context.Background(), "standard"); err != nil {
		t.Fatalf("rates: %v", err)
	}
	if _, err := cached.BaseRatesFor(context.Background(), "standard"); err != nil {
		t.Fatalf("base rates: %v", err)
	}
	if src.calls != 1 {
		// BaseRatesFor goes through StaticSource.BaseRatesFor, not the counter.
		t.Fatalf("expected 1 counted lookup, got %d", src.calls)
	}
}
