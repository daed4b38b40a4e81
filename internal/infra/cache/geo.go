package cache

import (
	"context"
	"strings"
	"time"

	"github.com/boddenberg/lead-router-go/internal/domain"
	"github.com/boddenberg/lead-router-go/internal/port"
)

// GeoKey normalizes an address into a cache key.
func GeoKey(address string) string {
	return strings.ToLower(strings.Join(strings.Fields(address), " "))
}

// MemoryGeoCache adapts InMemory to port.GeoCache.
type MemoryGeoCache struct {
	items port.Cache[domain.Coordinates]
}

// maxGeoEntries bounds the in-process geocode cache.
const maxGeoEntries = 50_000

// NewMemoryGeoCache creates an in-process geocode cache.
func NewMemoryGeoCache(ttl time.Duration) *MemoryGeoCache {
	return &MemoryGeoCache{items: NewBounded[domain.Coordinates](ttl, maxGeoEntries)}
}

func (c *MemoryGeoCache) GetCoordinates(_ context.Context, key string) (*domain.Coordinates, bool) {
	coords, ok := c.items.Get(key)
	if !ok {
		return nil, false
	}
	return &coords, true
}

func (c *MemoryGeoCache) SetCoordinates(_ context.Context, key string, coords domain.Coordinates) error {
	c.items.Set(key, coords)
	return nil
}
