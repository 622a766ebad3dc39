// Package cache is a small TTL cache.
package cache

import (
	"sync"
	"time"
)

// InMemoryCache expires entries lazily on write and periodically in the background.
type InMemoryCache[K comparable, V any] struct {
	items      map[K]*cacheItem[V]
	mu         sync.Mutex
	defaultTTL time.Duration
	now        func() time.Time
	stop       chan struct{}
	stopOnce   sync.Once
}

type cacheItem[V any] struct {
	value     V
	expiresAt time.Time
}

func NewInMemoryCache[K comparable, V any](defaultTTL time.Duration) *InMemoryCache[K, V] {
	c := &InMemoryCache[K, V]{
		items:      make(map[K]*cacheItem[V]),
		defaultTTL: defaultTTL,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	go c.startCleanup(time.Minute)
	return c
}

// SetIfAbsent stores value unless a live entry exists. Reports whether it stored.
func (c *InMemoryCache[K, V]) SetIfAbsent(key K, value V, ttl time.Duration) bool {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if item, ok := c.items[key]; ok && !now.After(item.expiresAt) {
		return false
	}
	c.items[key] = &cacheItem[V]{value: value, expiresAt: now.Add(ttl)}
	return true
}

func (c *InMemoryCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Close stops the background cleanup.
func (c *InMemoryCache[K, V]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *InMemoryCache[K, V]) startCleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

func (c *InMemoryCache[K, V]) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for key, item := range c.items {
		if now.After(item.expiresAt) {
			delete(c.items, key)
		}
	}
}

// Dedupe remembers keys for a TTL so repeated deliveries can be dropped.
type Dedupe struct {
	cache *InMemoryCache[string, struct{}]
	ttl   time.Duration
}

func NewDedupe(ttl time.Duration) *Dedupe {
	return &Dedupe{cache: NewInMemoryCache[string, struct{}](ttl), ttl: ttl}
}

// First reports true the first time key is seen within the TTL.
func (d *Dedupe) First(key string) bool {
	return d.cache.SetIfAbsent(key, struct{}{}, d.ttl)
}

// Forget drops key so it can be delivered again, e.g. after a failed send.
func (d *Dedupe) Forget(key string) {
	d.cache.Delete(key)
}

func (d *Dedupe) Close() { d.cache.Close() }
