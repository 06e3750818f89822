package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"
)

// DisposeFunc releases resources held by a cached value. It runs when the
// entry is evicted, superseded or cleared.
type DisposeFunc func(value interface{})

// cacheItem represents an item in the cache
type cacheItem struct {
	key      string
	value    interface{}
	storedAt time.Time
	ttl      time.Duration
	dispose  DisposeFunc
}

func (it *cacheItem) expired(now time.Time) bool {
	return now.Sub(it.storedAt) > it.ttl
}

// MemoryCache is an in-memory LRU cache that keeps expired entries around
// (up to a stale-retention horizon) so they can be served as a fallback when
// the upstream is down.
type MemoryCache struct {
	maxSize        int
	staleRetention time.Duration
	items          map[string]*list.Element
	lru            *list.List
	mu             sync.Mutex
	stopCh         chan struct{}
	stopOnce       sync.Once

	now func() time.Time
}

// MemoryCacheConfig holds in-memory cache configuration.
type MemoryCacheConfig struct {
	MaxSize int // maximum entry count before LRU eviction

	// StaleRetention bounds how long an expired entry stays available for
	// fallback before the janitor removes it.
	StaleRetention time.Duration

	// SweepInterval is how often the janitor runs; 0 disables it.
	SweepInterval time.Duration
}

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache(cfg MemoryCacheConfig) *MemoryCache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1000
	}
	if cfg.StaleRetention <= 0 {
		cfg.StaleRetention = 24 * time.Hour
	}

	c := &MemoryCache{
		maxSize:        cfg.MaxSize,
		staleRetention: cfg.StaleRetention,
		items:          make(map[string]*list.Element),
		lru:            list.New(),
		stopCh:         make(chan struct{}),
		now:            time.Now,
	}

	if cfg.SweepInterval > 0 {
		go c.janitor(cfg.SweepInterval)
	}

	return c
}

// Get retrieves a fresh value; an expired entry is a miss but is left in
// place for the stale-fallback paths.
func (c *MemoryCache) Get(ctx context.Context, key string) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	item := element.Value.(*cacheItem)
	if item.expired(c.now()) {
		return nil, ErrNotFound
	}

	c.lru.MoveToFront(element)
	return item.value, nil
}

// GetFreshOrStale implements StaleReader.
func (c *MemoryCache) GetFreshOrStale(ctx context.Context, key string, maxStale time.Duration) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[key]
	if !ok {
		return Result{}, ErrNotFound
	}
	item := element.Value.(*cacheItem)
	now := c.now()
	age := now.Sub(item.storedAt)
	if age > maxStale && item.expired(now) {
		return Result{}, ErrNotFound
	}

	c.lru.MoveToFront(element)
	return Result{Value: item.value, Stale: item.expired(now), StoredAt: item.storedAt}, nil
}

// GetFamilyFallback implements StaleReader. It scans every entry under the
// family prefix and returns the most recent by StoredAt, which keeps the
// widened search deterministic.
func (c *MemoryCache) GetFamilyFallback(ctx context.Context, family string, maxStale time.Duration) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var best *cacheItem
	for key, element := range c.items {
		if !strings.HasPrefix(key, family) {
			continue
		}
		item := element.Value.(*cacheItem)
		if now.Sub(item.storedAt) > maxStale {
			continue
		}
		if best == nil || item.storedAt.After(best.storedAt) {
			best = item
		}
	}
	if best == nil {
		return Result{}, ErrNotFound
	}
	return Result{Value: best.value, Stale: best.expired(now), StoredAt: best.storedAt}, nil
}

// Set stores a value with TTL. An existing entry under the same key is
// superseded, not mutated: the old item is disposed and replaced.
func (c *MemoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.SetWithDispose(ctx, key, value, ttl, nil)
}

// SetWithDispose stores a value whose resources need explicit release on
// eviction.
func (c *MemoryCache) SetWithDispose(ctx context.Context, key string, value interface{}, ttl time.Duration, dispose DisposeFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	item := &cacheItem{
		key:      key,
		value:    value,
		storedAt: c.now(),
		ttl:      ttl,
		dispose:  dispose,
	}

	if element, ok := c.items[key]; ok {
		old := element.Value.(*cacheItem)
		if old.dispose != nil {
			old.dispose(old.value)
		}
		element.Value = item
		c.lru.MoveToFront(element)
		return nil
	}

	element := c.lru.PushFront(item)
	c.items[key] = element

	if c.lru.Len() > c.maxSize {
		c.evictOldest()
	}
	return nil
}

// Delete removes a key from cache
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.remove(key)
	return nil
}

// Clear removes every entry and returns the count removed.
func (c *MemoryCache) Clear(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.items)
	for key := range c.items {
		c.remove(key)
	}
	return n, nil
}

// Len returns the number of entries, fresh and stale.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Close stops the janitor and disposes every entry.
func (c *MemoryCache) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	_, err := c.Clear(context.Background())
	return err
}

// remove deletes an entry and runs its dispose hook. Caller must hold the lock.
func (c *MemoryCache) remove(key string) {
	element, ok := c.items[key]
	if !ok {
		return
	}
	item := element.Value.(*cacheItem)
	if item.dispose != nil {
		item.dispose(item.value)
	}
	c.lru.Remove(element)
	delete(c.items, key)
}

// evictOldest removes the least recently used entry. Caller must hold the lock.
func (c *MemoryCache) evictOldest() {
	element := c.lru.Back()
	if element == nil {
		return
	}
	c.remove(element.Value.(*cacheItem).key)
}

// janitor drops entries past the stale-retention horizon.
func (c *MemoryCache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *MemoryCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, element := range c.items {
		item := element.Value.(*cacheItem)
		if now.Sub(item.storedAt) > item.ttl+c.staleRetention {
			c.remove(key)
		}
	}
}
