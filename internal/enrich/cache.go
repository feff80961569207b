package enrich

import (
	"context"
	"fmt"
	"time"

	"snapspend/internal/cache"
)

// CachingGeocoder memoizes reverse geocoding per ~11m grid cell, so retried
// jobs and expenses added at the same place resolve without a network call.
type CachingGeocoder struct {
	next  Geocoder
	cache *cache.LRUCache[[]GeocodeResult]
}

func NewCachingGeocoder(next Geocoder, size int, ttl time.Duration) *CachingGeocoder {
	return &CachingGeocoder{
		next:  next,
		cache: cache.NewLRUCache[[]GeocodeResult](size, ttl),
	}
}

// Cache exposes the underlying cache so it can be registered for cleanup.
func (g *CachingGeocoder) Cache() *cache.LRUCache[[]GeocodeResult] {
	return g.cache
}

func (g *CachingGeocoder) ReverseGeocode(ctx context.Context, c Coordinate) ([]GeocodeResult, error) {
	key := cacheKey(c)
	if res, ok := g.cache.Get(key); ok {
		return res, nil
	}

	res, err := g.next.ReverseGeocode(ctx, c)
	if err != nil {
		return nil, err
	}
	g.cache.Set(key, res)
	return res, nil
}

func cacheKey(c Coordinate) string {
	return fmt.Sprintf("%.4f,%.4f", c.Latitude, c.Longitude)
}
