package settings

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is how long a cached settings read stays valid
const DefaultTTL = 60 * time.Second

// Cache is a time-boxed cache in front of a persisted settings read.
// A write through Invalidate forces the next Get to hit the store again.
type Cache[T any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	load    func(ctx context.Context) (T, error)
	cached  T
	loaded  bool
	fetched time.Time
	now     func() time.Time
}

// NewCache creates a settings cache around the given loader
func NewCache[T any](ttl time.Duration, load func(ctx context.Context) (T, error)) *Cache[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache[T]{
		ttl:  ttl,
		load: load,
		now:  time.Now,
	}
}

// Get returns the cached value when fresh, otherwise reloads from the store
func (c *Cache[T]) Get(ctx context.Context) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded && c.now().Sub(c.fetched) < c.ttl {
		return c.cached, nil
	}

	value, err := c.load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	c.cached = value
	c.loaded = true
	c.fetched = c.now()
	return value, nil
}

// Invalidate discards the cached value so the next Get hits the store
func (c *Cache[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = false
}
