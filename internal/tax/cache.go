package tax

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/toko-totals/internal/obs"
)

// CachedSource layers a Redis JSON cache over a Source. Rate tables change
// rarely, so cache errors are treated as misses and the underlying source
// stays authoritative.
type CachedSource struct {
	Src Source
	R   *redis.Client
	TTL time.Duration
}

// RatesFor returns cached rates for taxClass, falling through to the wrapped
// source and populating the cache on a miss.
func (c CachedSource) RatesFor(ctx context.Context, taxClass string) ([]Rate, error) {
	return c.lookup(ctx, "tax:rates:"+taxClass, taxClass, c.Src.RatesFor)
}

// BaseRatesFor behaves like RatesFor for the base-location table.
func (c CachedSource) BaseRatesFor(ctx context.Context, taxClass string) ([]Rate, error) {
	return c.lookup(ctx, "tax:baserates:"+taxClass, taxClass, c.Src.BaseRatesFor)
}

func (c CachedSource) lookup(ctx context.Context, key, taxClass string, load func(context.Context, string) ([]Rate, error)) ([]Rate, error) {
	if c.R != nil {
		if data, err := c.R.Get(ctx, key).Bytes(); err == nil {
			var rates []Rate
			if err := json.Unmarshal(data, &rates); err == nil {
				obs.RecordRateLookup("cache")
				return rates, nil
			}
		}
	}
	rates, err := load(ctx, taxClass)
	if err != nil {
		return nil, err
	}
	obs.RecordRateLookup("store")
	if c.R != nil && c.TTL > 0 {
		if data, err := json.Marshal(rates); err == nil {
			_ = c.R.Set(ctx, key, data, c.TTL).Err()
		}
	}
	return rates, nil
}
