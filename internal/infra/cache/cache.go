// Package cache provides the geocode caches: a generic in-memory TTL cache
// and a Redis-backed cache shared across replicas.
package cache

import (
	"container/list"
	"sync"
	"time"
)

type entry[T any] struct {
	key       string
	value     T
	expiresAt time.Time
}

// InMemory is a thread-safe TTL cache. When maxEntries is positive the
// oldest insertions are evicted first once the bound is reached.
type InMemory[T any] struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	order      *list.List // front = oldest insertion
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	stop       chan struct{}
	stopOnce   sync.Once
}

// New creates an unbounded cache with the given TTL.
func New[T any](ttl time.Duration) *InMemory[T] {
	return NewBounded[T](ttl, 0)
}

// NewBounded creates a cache holding at most maxEntries live items.
func NewBounded[T any](ttl time.Duration, maxEntries int) *InMemory[T] {
	c := &InMemory[T]{
		items:      make(map[string]*list.Element),
		order:      list.New(),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	go c.janitor()
	return c
}

// Get returns the value for key. Expired entries are dropped on read.
func (c *InMemory[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	el, ok := c.items[key]
	if !ok {
		return zero, false
	}
	e := el.Value.(*entry[T])
	if c.now().After(e.expiresAt) {
		c.remove(el)
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, refreshing its TTL and insertion position.
func (c *InMemory[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.remove(el)
	}
	c.items[key] = c.order.PushBack(&entry[T]{key: key, value: value, expiresAt: c.now().Add(c.ttl)})

	for c.maxEntries > 0 && c.order.Len() > c.maxEntries {
		c.remove(c.order.Front())
	}
}

// Delete removes key.
func (c *InMemory[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.remove(el)
	}
}

// Len reports the number of stored entries, expired ones included until
// the janitor or a read drops them.
func (c *InMemory[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Close stops the background janitor.
func (c *InMemory[T]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *InMemory[T]) remove(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*entry[T]).key)
}

// janitor sweeps expired entries once per TTL.
func (c *InMemory[T]) janitor() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := c.now()
			for el := c.order.Front(); el != nil; {
				next := el.Next()
				if now.After(el.Value.(*entry[T]).expiresAt) {
					c.remove(el)
				}
				el = next
			}
			c.mu.Unlock()
		}
	}
}
