package cache

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Kamalbura/air-quality-monitering-sub000/internal/platform/observability"
)

// WarmupProvider is implemented by components that can pre-populate the
// cache at startup, e.g. the telemetry client prefetching its configured
// channels. Warmup must be idempotent.
type WarmupProvider interface {
	// Name identifies the provider in logs.
	Name() string

	// Warmup pre-populates the cache with initial data.
	Warmup(ctx context.Context) error
}

// WarmupConfig configures the cache warming behavior.
type WarmupConfig struct {
	// Timeout bounds the whole warmup pass.
	Timeout time.Duration

	// ContinueOnError keeps warming remaining providers after a failure.
	ContinueOnError bool
}

// DefaultWarmupConfig returns sensible defaults for cache warming.
func DefaultWarmupConfig() WarmupConfig {
	return WarmupConfig{
		Timeout:         30 * time.Second,
		ContinueOnError: true,
	}
}

// WarmupResult contains the result of warming a single provider.
type WarmupResult struct {
	Provider string
	Duration time.Duration
	Err      error
}

// Warmer runs every registered provider concurrently at startup.
type Warmer struct {
	providers []WarmupProvider
	logger    *observability.Logger
	config    WarmupConfig
}

// NewWarmer creates a new cache warmer.
func NewWarmer(logger *observability.Logger, config WarmupConfig) *Warmer {
	return &Warmer{logger: logger, config: config}
}

// RegisterProvider adds a warmup provider to the warmer.
func (w *Warmer) RegisterProvider(provider WarmupProvider) {
	w.providers = append(w.providers, provider)
}

// Warmup executes all registered providers and returns per-provider results.
// A provider failure never aborts startup; warming is best-effort.
func (w *Warmer) Warmup(ctx context.Context) []WarmupResult {
	if len(w.providers) == 0 {
		return nil
	}

	warmupCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	results := make([]WarmupResult, len(w.providers))
	g, gctx := errgroup.WithContext(warmupCtx)
	for i, provider := range w.providers {
		i, provider := i, provider
		g.Go(func() error {
			start := time.Now()
			err := provider.Warmup(gctx)
			results[i] = WarmupResult{
				Provider: provider.Name(),
				Duration: time.Since(start),
				Err:      err,
			}
			if err != nil && !w.config.ContinueOnError {
				return fmt.Errorf("warmup %s: %w", provider.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	failures := 0
	for _, r := range results {
		if r.Err != nil {
			failures++
			w.logger.LogWarn(ctx, "cache warmup failed",
				"provider", r.Provider, "duration", r.Duration, "error", r.Err)
		}
	}
	w.logger.LogInfo(ctx, "cache warmup finished",
		"providers", len(w.providers), "failures", failures)

	return results
}
