// -------------------------------------------------------------------------------
// Cache - Build-Once Instance Cache
//
// Author: Alex Freidah
//
// Keyed cache of lazily built instances. Concurrent first accesses to a key
// share one build and receive the identical instance. GetOrCreate and Evict are
// the only mutators; a build that is still running when its key is evicted
// returns its value to waiting callers but is not stored.
// -------------------------------------------------------------------------------

package coalesce

import (
	"context"
	"sync"
)

// BuildFunc constructs the value for a key on a cache miss.
type BuildFunc[V any] func(ctx context.Context) (V, error)

// build is one in-flight construction shared by every waiter.
type build[V any] struct {
	done chan struct{}
	val  V
	err  error

	// evicted is set under Cache.mu when the key is evicted mid-build.
	evicted bool
}

// Cache holds built values keyed by K.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	items    map[K]V
	inflight map[K]*build[V]
}

// NewCache returns an empty cache.
func NewCache[K comparable, V any]() *Cache[K, V] {
	return &Cache[K, V]{
		items:    make(map[K]V),
		inflight: make(map[K]*build[V]),
	}
}

// GetOrCreate returns the cached value for key, building it with fn on first
// access. Failed builds are not cached; the next call retries.
func (c *Cache[K, V]) GetOrCreate(ctx context.Context, key K, fn BuildFunc[V]) (V, error) {
	c.mu.Lock()
	if v, ok := c.items[key]; ok {
		c.mu.Unlock()
		return v, nil
	}
	if b, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		return c.wait(ctx, b)
	}

	b := &build[V]{done: make(chan struct{})}
	c.inflight[key] = b
	c.mu.Unlock()

	go func() {
		b.val, b.err = fn(context.WithoutCancel(ctx))

		c.mu.Lock()
		if c.inflight[key] == b {
			delete(c.inflight, key)
		}
		if b.err == nil && !b.evicted {
			c.items[key] = b.val
		}
		c.mu.Unlock()
		close(b.done)
	}()

	return c.wait(ctx, b)
}

// wait blocks until b settles or ctx ends.
func (c *Cache[K, V]) wait(ctx context.Context, b *build[V]) (V, error) {
	select {
	case <-b.done:
		return b.val, b.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Evict removes key. A build in flight for key completes for its waiters but
// its result is discarded. Returns the evicted value and whether one existed.
func (c *Cache[K, V]) Evict(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.items[key]
	delete(c.items, key)
	if b, building := c.inflight[key]; building {
		b.evicted = true
		delete(c.inflight, key)
	}
	return v, ok
}

// Peek returns the cached value without building it.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	return v, ok
}

// Len returns the number of built entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Values returns a snapshot of the built entries.
func (c *Cache[K, V]) Values() []V {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]V, 0, len(c.items))
	for _, v := range c.items {
		out = append(out, v)
	}
	return out
}
