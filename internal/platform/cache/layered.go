package cache

import (
	"context"
	"time"
)

// LayeredCache is a two-tier cache: a fast in-memory L1 in front of a Redis
// L2 that survives restarts. Both tiers understand staleness, so the
// fallback search degrades through L1 fresh → L2 fresh → L1 stale → L2
// stale before giving up.
type LayeredCache struct {
	l1 *MemoryCache
	l2 *RedisCache
}

// NewLayeredCache creates a new layered cache. l2 may be nil when Redis is
// not configured; every operation then runs against L1 only.
func NewLayeredCache(l1 *MemoryCache, l2 *RedisCache) *LayeredCache {
	return &LayeredCache{l1: l1, l2: l2}
}

// Get retrieves a fresh value (L1 → L2 → miss), backfilling L1 on an L2 hit.
func (lc *LayeredCache) Get(ctx context.Context, key string) (interface{}, error) {
	if val, err := lc.l1.Get(ctx, key); err == nil {
		return val, nil
	}
	if lc.l2 == nil {
		return nil, ErrNotFound
	}

	res, err := lc.l2.GetFreshOrStale(ctx, key, 0)
	if err != nil || res.Stale {
		return nil, ErrNotFound
	}
	// Backfill L1 with a short TTL so a hot key stops hitting Redis.
	_ = lc.l1.Set(ctx, key, res.Value, time.Minute)
	return res.Value, nil
}

// GetFreshOrStale implements StaleReader across both tiers, preferring the
// fresher result when both hold the key.
func (lc *LayeredCache) GetFreshOrStale(ctx context.Context, key string, maxStale time.Duration) (Result, error) {
	r1, err1 := lc.l1.GetFreshOrStale(ctx, key, maxStale)
	if err1 == nil && !r1.Stale {
		return r1, nil
	}

	if lc.l2 != nil {
		if r2, err2 := lc.l2.GetFreshOrStale(ctx, key, maxStale); err2 == nil {
			if err1 != nil || r2.StoredAt.After(r1.StoredAt) {
				return r2, nil
			}
		}
	}

	if err1 == nil {
		return r1, nil
	}
	return Result{}, ErrNotFound
}

// GetFamilyFallback implements the widened last-resort search across both
// tiers, again most-recent-wins.
func (lc *LayeredCache) GetFamilyFallback(ctx context.Context, family string, maxStale time.Duration) (Result, error) {
	r1, err1 := lc.l1.GetFamilyFallback(ctx, family, maxStale)

	if lc.l2 != nil {
		if r2, err2 := lc.l2.GetFamilyFallback(ctx, family, maxStale); err2 == nil {
			if err1 != nil || r2.StoredAt.After(r1.StoredAt) {
				return r2, nil
			}
		}
	}

	if err1 == nil {
		return r1, nil
	}
	return Result{}, ErrNotFound
}

// Set writes through to both tiers.
func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	l1Err := lc.l1.Set(ctx, key, value, ttl)

	if lc.l2 == nil {
		return l1Err
	}
	l2Err := lc.l2.Set(ctx, key, value, ttl)

	// One surviving tier is enough for the read path.
	if l1Err != nil && l2Err != nil {
		return l2Err
	}
	return nil
}

// Delete removes a key from both tiers.
func (lc *LayeredCache) Delete(ctx context.Context, key string) error {
	l1Err := lc.l1.Delete(ctx, key)
	if lc.l2 != nil {
		if err := lc.l2.Delete(ctx, key); err != nil {
			return err
		}
	}
	return l1Err
}

// Clear empties both tiers and returns the larger count: entries usually
// exist in both, so summing would double-count.
func (lc *LayeredCache) Clear(ctx context.Context) (int, error) {
	n1, err := lc.l1.Clear(ctx)
	if err != nil {
		return 0, err
	}
	if lc.l2 == nil {
		return n1, nil
	}
	n2, err := lc.l2.Clear(ctx)
	if err != nil {
		return n1, err
	}
	if n2 > n1 {
		return n2, nil
	}
	return n1, nil
}

// Close closes both tiers.
func (lc *LayeredCache) Close() error {
	l1Err := lc.l1.Close()
	if lc.l2 != nil {
		if err := lc.l2.Close(); err != nil {
			return err
		}
	}
	return l1Err
}
