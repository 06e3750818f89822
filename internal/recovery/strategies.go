package recovery

import (
	"context"
	"time"

	"github.com/Kamalbura/air-quality-monitering-sub000/internal/platform/cache"
)

// RegisterDefaults wires the standard strategy set against the given cache.
// The names match the taxonomy's per-kind strategy lists.
func RegisterDefaults(e *Engine, store cache.StaleReader) {
	e.Register("retry", RetryStrategy())
	e.Register("cached-fallback", CachedFallbackStrategy(store))
	e.Register("offline-mode", OfflineModeStrategy(store))
	e.Register("static-defaults", StaticDefaultsStrategy())
}

// RetryStrategy re-invokes the failed operation once, when the caller
// provided a closure for it. Useful for failures that slipped past the
// fetcher's own retry loop, e.g. a rejected rate-gate acquisition that has
// since reset.
func RetryStrategy() StrategyFunc {
	return func(ctx context.Context, info ErrorInfo, opts Options) Outcome {
		if opts.Retry == nil {
			return Outcome{}
		}
		data, err := opts.Retry(ctx)
		if err != nil {
			return Outcome{}
		}
		return Outcome{Success: true, Data: data}
	}
}

// CachedFallbackStrategy serves the most recent cache entry for the failed
// request within MaxStaleAge: exact key first, then the widened family
// search.
func CachedFallbackStrategy(store cache.StaleReader) StrategyFunc {
	return func(ctx context.Context, info ErrorInfo, opts Options) Outcome {
		if store == nil || opts.CacheKey == "" {
			return Outcome{}
		}
		maxStale := opts.MaxStaleAge
		if maxStale <= 0 {
			maxStale = 24 * time.Hour
		}

		if res, err := store.GetFreshOrStale(ctx, opts.CacheKey, maxStale); err == nil {
			return Outcome{Success: true, Data: res.Value, Stale: res.Stale}
		}
		if opts.CacheFamily != "" {
			if res, err := store.GetFamilyFallback(ctx, opts.CacheFamily, maxStale); err == nil {
				return Outcome{Success: true, Data: res.Value, Stale: res.Stale}
			}
		}
		return Outcome{}
	}
}

// OfflineModeStrategy is the network-down variant of the cached fallback:
// any last-known value is better than nothing, so the age bound is dropped.
func OfflineModeStrategy(store cache.StaleReader) StrategyFunc {
	const anyAge = 100 * 365 * 24 * time.Hour

	return func(ctx context.Context, info ErrorInfo, opts Options) Outcome {
		if store == nil || opts.CacheKey == "" {
			return Outcome{}
		}
		if res, err := store.GetFreshOrStale(ctx, opts.CacheKey, anyAge); err == nil {
			return Outcome{Success: true, Data: res.Value, Stale: true}
		}
		if opts.CacheFamily != "" {
			if res, err := store.GetFamilyFallback(ctx, opts.CacheFamily, anyAge); err == nil {
				return Outcome{Success: true, Data: res.Value, Stale: true}
			}
		}
		return Outcome{}
	}
}

// StaticDefaultsStrategy hands back the caller-supplied default value, e.g.
// an empty feed that keeps the dashboard rendering.
func StaticDefaultsStrategy() StrategyFunc {
	return func(ctx context.Context, info ErrorInfo, opts Options) Outcome {
		if opts.Defaults == nil {
			return Outcome{}
		}
		return Outcome{Success: true, Data: opts.Defaults}
	}
}
