package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrRateLimitExceeded is returned when a per-window ceiling is exhausted
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// RateLimitError reports an exhausted ceiling together with how long the
// caller has to wait until the window resets.
type RateLimitError struct {
	Scope      string // "minute" or "day"
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %s ceiling reached, retry in %ds", e.Scope, int(e.RetryAfter.Seconds()+0.5))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimitExceeded }

// rateWindow counts acquisitions inside a fixed-length window.
// Windows reset lazily on access, never via background timers.
type rateWindow struct {
	count  int
	start  time.Time
	limit  int
	length time.Duration
}

func (w *rateWindow) refresh(now time.Time) {
	if now.Sub(w.start) > w.length {
		w.count = 0
		w.start = now
	}
}

func (w *rateWindow) remaining(now time.Time) time.Duration {
	return w.start.Add(w.length).Sub(now)
}

// RateGate paces calls to the upstream API. It enforces three constraints at
// once: a hard minimum spacing between any two calls, a per-minute ceiling
// and a per-day ceiling. Spacing is enforced by waiting; an exhausted ceiling
// fails fast with a RateLimitError instead of blocking for up to a day.
type RateGate struct {
	mu       sync.Mutex
	minGap   time.Duration
	lastCall time.Time
	minute   rateWindow
	day      rateWindow

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// RateGateConfig holds rate gate configuration.
type RateGateConfig struct {
	MinInterval time.Duration // minimum spacing between calls
	PerMinute   int           // per-minute ceiling
	PerDay      int           // per-day ceiling
}

// DefaultRateGateConfig matches the free ThingSpeak tier.
func DefaultRateGateConfig() RateGateConfig {
	return RateGateConfig{
		MinInterval: 15 * time.Second,
		PerMinute:   4,
		PerDay:      8000,
	}
}

// NewRateGate creates a new rate gate.
func NewRateGate(cfg RateGateConfig) *RateGate {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 15 * time.Second
	}
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = 4
	}
	if cfg.PerDay <= 0 {
		cfg.PerDay = 8000
	}

	now := time.Now()
	return &RateGate{
		minGap: cfg.MinInterval,
		minute: rateWindow{start: now, limit: cfg.PerMinute, length: time.Minute},
		day:    rateWindow{start: now, limit: cfg.PerDay, length: 24 * time.Hour},
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Acquire returns nil once it is safe to issue the next upstream call.
// It blocks only for the minimum-spacing wait; exhausted minute or day
// ceilings return a RateLimitError immediately.
func (g *RateGate) Acquire(ctx context.Context) error {
	for {
		g.mu.Lock()
		now := g.now()
		g.minute.refresh(now)
		g.day.refresh(now)

		if g.day.count >= g.day.limit {
			retry := g.day.remaining(now)
			g.mu.Unlock()
			return &RateLimitError{Scope: "day", RetryAfter: retry}
		}
		if g.minute.count >= g.minute.limit {
			retry := g.minute.remaining(now)
			g.mu.Unlock()
			return &RateLimitError{Scope: "minute", RetryAfter: retry}
		}

		wait := g.minGap - now.Sub(g.lastCall)
		if !g.lastCall.IsZero() && wait > 0 {
			g.mu.Unlock()
			if err := g.sleep(ctx, wait); err != nil {
				return err
			}
			// Re-check everything: windows may have rolled over and other
			// callers may have taken the slot while we slept.
			continue
		}

		g.minute.count++
		g.day.count++
		g.lastCall = now
		g.mu.Unlock()
		return nil
	}
}

// TryAcquire is the non-blocking variant: it reports false instead of waiting
// out the minimum spacing, and returns the ceiling error when exhausted.
func (g *RateGate) TryAcquire() (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.minute.refresh(now)
	g.day.refresh(now)

	if g.day.count >= g.day.limit {
		return false, &RateLimitError{Scope: "day", RetryAfter: g.day.remaining(now)}
	}
	if g.minute.count >= g.minute.limit {
		return false, &RateLimitError{Scope: "minute", RetryAfter: g.minute.remaining(now)}
	}
	if !g.lastCall.IsZero() && now.Sub(g.lastCall) < g.minGap {
		return false, nil
	}

	g.minute.count++
	g.day.count++
	g.lastCall = now
	return true, nil
}

// Usage returns current window counts for observability.
func (g *RateGate) Usage() (minuteUsed, minuteLimit, dayUsed, dayLimit int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.minute.refresh(now)
	g.day.refresh(now)
	return g.minute.count, g.minute.limit, g.day.count, g.day.limit
}

// Reset clears both windows and the spacing state.
func (g *RateGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.minute.count = 0
	g.minute.start = now
	g.day.count = 0
	g.day.start = now
	g.lastCall = time.Time{}
}
