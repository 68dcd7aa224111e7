// Package cache provides an in-memory TTL cache with tag invalidation.
package cache

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// maxSweepInterval bounds how long expired entries linger when the TTL is long.
const maxSweepInterval = time.Minute

type entry[T any] struct {
	value     T
	expiresAt time.Time
	tags      []string
}

// Option configures an InMemory cache.
type Option[T any] func(*InMemory[T])

// WithOnEvict registers a callback run for every entry that leaves the cache
// (expiry, Delete or tag invalidation). It runs without the cache lock held.
func WithOnEvict[T any](fn func(key string, value T)) Option[T] {
	return func(c *InMemory[T]) { c.onEvict = fn }
}

// InMemory is a thread-safe in-memory cache with TTL.
type InMemory[T any] struct {
	mu      sync.RWMutex
	items   map[string]entry[T]
	tags    map[string]map[string]struct{}
	ttl     time.Duration
	onEvict func(key string, value T)

	// gens counts invalidations per tag; loading holds the tags of in-flight fills.
	gens    map[string]uint64
	loading map[string]*fill

	group singleflight.Group
	stop  chan struct{}
	once  sync.Once
}

// New creates a new in-memory cache with the given TTL.
func New[T any](ttl time.Duration, opts ...Option[T]) *InMemory[T] {
	c := &InMemory[T]{
		items:   make(map[string]entry[T]),
		tags:    make(map[string]map[string]struct{}),
		ttl:     ttl,
		gens:    make(map[string]uint64),
		loading: make(map[string]*fill),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	// Background cleanup goroutine
	go c.cleanup()
	return c
}

// Get retrieves a value from the cache. Returns false if not found or expired.
func (c *InMemory[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.items[key]
	if !ok || time.Now().After(e.expiresAt) {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Set stores a value in the cache with the configured TTL under the given tags.
// A replaced entry is reported to the eviction callback.
func (c *InMemory[T]) Set(key string, value T, tags ...string) {
	c.mu.Lock()
	old, replaced := c.store(key, value, tags)
	c.mu.Unlock()

	if replaced && c.onEvict != nil {
		c.onEvict(key, old.value)
	}
}

// store writes the entry and its tag memberships. Caller holds c.mu.
func (c *InMemory[T]) store(key string, value T, tags []string) (entry[T], bool) {
	old, replaced := c.items[key]
	if replaced {
		c.untag(key, old.tags)
	}
	c.items[key] = entry[T]{
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
		tags:      tags,
	}
	for _, tag := range tags {
		keys, ok := c.tags[tag]
		if !ok {
			keys = make(map[string]struct{})
			c.tags[tag] = keys
		}
		keys[key] = struct{}{}
	}
	return old, replaced
}

// GetOrLoad returns the cached value for key or fills it with load.
// Concurrent misses on the same key share one load. The bool reports a hit.
// A load that overlaps an invalidation of one of its tags is returned to its
// callers but not cached, and later callers start a fresh load.
func (c *InMemory[T]) GetOrLoad(key string, tags []string, load func() (T, error)) (T, bool, error) {
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}

		c.mu.Lock()
		gens := c.generations(tags)
		f := &fill{tags: tags}
		c.loading[key] = f
		c.mu.Unlock()

		v, err := load()

		c.mu.Lock()
		if c.loading[key] == f {
			delete(c.loading, key)
		}
		if err != nil {
			c.mu.Unlock()
			return v, err
		}
		var old entry[T]
		var replaced bool
		if c.sameGenerations(tags, gens) {
			old, replaced = c.store(key, v, tags)
		}
		c.mu.Unlock()

		if replaced && c.onEvict != nil {
			c.onEvict(key, old.value)
		}
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	return v.(T), false, nil
}

// generations snapshots the invalidation counters of tags. Caller holds c.mu.
func (c *InMemory[T]) generations(tags []string) []uint64 {
	gens := make([]uint64, len(tags))
	for i, tag := range tags {
		gens[i] = c.gens[tag]
	}
	return gens
}

func (c *InMemory[T]) sameGenerations(tags []string, gens []uint64) bool {
	for i, tag := range tags {
		if c.gens[tag] != gens[i] {
			return false
		}
	}
	return true
}

// Delete removes a value from the cache.
func (c *InMemory[T]) Delete(key string) {
	c.mu.Lock()
	e, ok := c.items[key]
	if ok {
		c.remove(key, e)
	}
	c.mu.Unlock()

	if ok && c.onEvict != nil {
		c.onEvict(key, e.value)
	}
}

// InvalidateTag removes every entry stored under tag and returns how many were dropped.
func (c *InMemory[T]) InvalidateTag(tag string) int {
	c.mu.Lock()
	var evicted []evictedEntry[T]
	for key := range c.tags[tag] {
		if e, ok := c.items[key]; ok {
			c.remove(key, e)
			evicted = append(evicted, evictedEntry[T]{key: key, value: e.value})
		}
	}
	delete(c.tags, tag)
	c.gens[tag]++
	for key, f := range c.loading {
		for _, t := range f.tags {
			if t == tag {
				c.group.Forget(key)
				break
			}
		}
	}
	c.mu.Unlock()

	c.notify(evicted)
	return len(evicted)
}

// Len returns the number of stored entries, expired ones included until swept.
func (c *InMemory[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close stops the background sweeper.
func (c *InMemory[T]) Close() {
	c.once.Do(func() { close(c.stop) })
}

type fill struct {
	tags []string
}

type evictedEntry[T any] struct {
	key   string
	value T
}

// remove deletes key and its tag memberships. Caller holds c.mu.
func (c *InMemory[T]) remove(key string, e entry[T]) {
	delete(c.items, key)
	c.untag(key, e.tags)
}

func (c *InMemory[T]) untag(key string, tags []string) {
	for _, tag := range tags {
		if keys, ok := c.tags[tag]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(c.tags, tag)
			}
		}
	}
}

func (c *InMemory[T]) notify(evicted []evictedEntry[T]) {
	if c.onEvict == nil {
		return
	}
	for _, e := range evicted {
		c.onEvict(e.key, e.value)
	}
}

// sweep removes expired entries.
func (c *InMemory[T]) sweep(now time.Time) {
	c.mu.Lock()
	var evicted []evictedEntry[T]
	for k, v := range c.items {
		if now.After(v.expiresAt) {
			c.remove(k, v)
			evicted = append(evicted, evictedEntry[T]{key: k, value: v.value})
		}
	}
	c.mu.Unlock()

	c.notify(evicted)
}

// cleanup periodically removes expired entries.
func (c *InMemory[T]) cleanup() {
	interval := c.ttl
	if interval <= 0 || interval > maxSweepInterval {
		interval = maxSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep(time.Now())
		case <-c.stop:
			return
		}
	}
}
