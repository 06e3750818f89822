package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a key is not found in cache
	ErrNotFound = errors.New("cache: key not found")

	// ErrInvalidValue is returned when a cached value cannot be decoded
	ErrInvalidValue = errors.New("cache: invalid value")
)

// Result is a cache lookup outcome. Stale is true when the entry outlived
// its TTL; stale results are only ever produced by the fallback paths, never
// by a plain Get.
type Result struct {
	Value    interface{}
	Stale    bool
	StoredAt time.Time
}

// Cache defines the interface for cache operations
type Cache interface {
	// Get retrieves a fresh value from cache; expired entries are a miss.
	Get(ctx context.Context, key string) (interface{}, error)

	// Set stores a value in cache with TTL
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes a key from cache
	Delete(ctx context.Context, key string) error

	// Close closes the cache connection
	Close() error
}

// StaleReader is implemented by caches that can serve expired entries as a
// degrade-before-fail fallback.
type StaleReader interface {
	// GetFreshOrStale returns a fresh hit when one exists, otherwise the
	// entry under the same key if it is no older than maxStale.
	GetFreshOrStale(ctx context.Context, key string, maxStale time.Duration) (Result, error)

	// GetFamilyFallback is the last-resort widened search: the most recent
	// entry (by StoredAt) whose key belongs to family, no older than
	// maxStale. Recency by StoredAt is the deterministic tie-break.
	GetFamilyFallback(ctx context.Context, family string, maxStale time.Duration) (Result, error)
}

// Clearer is implemented by caches that support bulk clearing.
type Clearer interface {
	// Clear removes every entry and returns the count removed.
	Clear(ctx context.Context) (int, error)
}

// Family returns the resource-family prefix of a cache key: everything
// before the last ':' segment. Keys are built as
// "<family>:<request-signature>", e.g. "feed:42:10" belongs to "feed:42".
func Family(key string) string {
	if i := strings.LastIndex(key, ":"); i > 0 {
		return key[:i]
	}
	return key
}
