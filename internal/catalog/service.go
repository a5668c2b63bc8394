package catalog

import (
	"context"

	"github.com/google/uuid"
)

// CachedSource layers the JSON cache over a product source. Cache failures
// degrade to direct lookups; only the underlying source's errors surface.
type CachedSource struct {
	Src   Source
	Cache *Cache
}

// ProductByID returns the cached product when present, otherwise loads it
// from the source and populates the cache.
func (c CachedSource) ProductByID(ctx context.Context, id uuid.UUID) (Product, error) {
	key := "catalog:product:" + id.String()
	var p Product
	if ok, err := c.Cache.GetJSON(ctx, key, &p); err == nil && ok {
		return p, nil
	}
	p, err := c.Src.ProductByID(ctx, id)
	if err != nil {
		return Product{}, err
	}
	_ = c.Cache.SetJSON(ctx, key, p)
	return p, nil
}
