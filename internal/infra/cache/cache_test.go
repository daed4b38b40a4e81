package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/boddenberg/lead-router-go/internal/domain"
	"github.com/boddenberg/lead-router-go/internal/infra/cache"
)

func TestCache_SetAndGet(t *testing.T) {
	c := cache.New[string](5 * time.Minute)

	c.Set("key1", "value1")
	val, ok := c.Get("key1")
	if !ok {
		t.Fatal("expected key to exist")
	}
	if val != "value1" {
		t.Errorf("expected 'value1', got '%s'", val)
	}
}

func TestCache_GetMiss(t *testing.T) {
	c := cache.New[string](5 * time.Minute)

	_, ok := c.Get("nonexistent")
	if ok {
		t.Fatal("expected cache miss for nonexistent key")
	}
}

func TestCache_Expiration(t *testing.T) {
	c := cache.New[string](50 * time.Millisecond)

	c.Set("key1", "value1")
	time.Sleep(100 * time.Millisecond)

	_, ok := c.Get("key1")
	if ok {
		t.Fatal("expected cache entry to be expired")
	}
}

func TestCache_Delete(t *testing.T) {
	c := cache.New[string](5 * time.Minute)

	c.Set("key1", "value1")
	c.Delete("key1")

	_, ok := c.Get("key1")
	if ok {
		t.Fatal("expected key to be deleted")
	}
}

func TestCache_BoundEvictsOldest(t *testing.T) {
	c := cache.NewBounded[int](time.Minute, 2)
	defer c.Close()

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 10) // refresh moves "a" behind "b"
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Fatal("expected oldest entry 'b' to be evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 10 {
		t.Fatalf("expected refreshed 'a'=10, got %d, %v", v, ok)
	}
	if c.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", c.Len())
	}
}

func TestMemoryGeoCache_RoundTrip(t *testing.T) {
	c := cache.NewMemoryGeoCache(time.Minute)
	key := cache.GeoKey("  Austin,   TX  78701 ")

	if _, ok := c.GetCoordinates(context.Background(), key); ok {
		t.Fatal("expected miss on empty cache")
	}
	if err := c.SetCoordinates(context.Background(), key, domain.Coordinates{Lat: 30.27, Lng: -97.74}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok := c.GetCoordinates(context.Background(), cache.GeoKey("austin, tx 78701"))
	if !ok {
		t.Fatal("expected hit for equivalent address")
	}
	if got.Lat != 30.27 || got.Lng != -97.74 {
		t.Errorf("unexpected coordinates %+v", got)
	}
}
