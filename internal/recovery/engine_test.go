package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Kamalbura/air-quality-monitering-sub000/internal/platform/cache"
	"github.com/Kamalbura/air-quality-monitering-sub000/internal/platform/faults"
)

// TestRecover_StrategyOrder verifies strategies run in the kind's listed
// order and stop at the first success
func TestRecover_StrategyOrder(t *testing.T) {
	e := NewEngine(EngineConfig{AttemptCap: 10})

	var ran []string
	e.Register("retry", func(ctx context.Context, info ErrorInfo, opts Options) Outcome {
		ran = append(ran, "retry")
		return Outcome{}
	})
	e.Register("offline-mode", func(ctx context.Context, info ErrorInfo, opts Options) Outcome {
		ran = append(ran, "offline-mode")
		return Outcome{Success: true, Data: "cached", Stale: true}
	})
	e.Register("cached-fallback", func(ctx context.Context, info ErrorInfo, opts Options) Outcome {
		ran = append(ran, "cached-fallback")
		return Outcome{Success: true, Data: "should not reach"}
	})

	res := e.Recover(context.Background(), ErrorInfo{Kind: faults.KindNetwork, Context: "thingspeak.getFeed"}, Options{})

	if !res.Attempted || !res.Success {
		t.Fatalf("Expected attempted success, got %+v", res)
	}
	if res.Strategy != "offline-mode" {
		t.Errorf("Expected offline-mode to win, got %s", res.Strategy)
	}
	if res.Data != "cached" || !res.Stale {
		t.Errorf("Expected stale cached data, got data=%v stale=%v", res.Data, res.Stale)
	}
	// NETWORK order is retry, offline-mode, cached-fallback; the winner
	// stops the chain before cached-fallback runs
	if len(ran) != 2 || ran[0] != "retry" || ran[1] != "offline-mode" {
		t.Errorf("Expected [retry offline-mode], got %v", ran)
	}

	t.Log("✓ Strategies run in order, first success wins")
}

// TestRecover_NoStrategiesForKind verifies kinds without strategies fail
// without side effects beyond the attempt count
func TestRecover_NoStrategiesForKind(t *testing.T) {
	e := NewEngine(EngineConfig{AttemptCap: 5})
	e.Register("retry", RetryStrategy())

	res := e.Recover(context.Background(), ErrorInfo{Kind: faults.KindValidation, Context: "thingspeak.getFeed"}, Options{})

	if !res.Attempted {
		t.Error("Expected Attempted=true below the cap")
	}
	if res.Success {
		t.Error("Expected failure for a kind with no strategies")
	}
	if len(res.Attempts) != 0 {
		t.Errorf("Expected no strategy attempts, got %v", res.Attempts)
	}

	t.Log("✓ Kinds without strategies recover nothing")
}

// TestRecover_AttemptCap verifies the sixth attempt for a signature is
// skipped entirely
func TestRecover_AttemptCap(t *testing.T) {
	e := NewEngine(EngineConfig{AttemptCap: 5})
	calls := 0
	e.Register("retry", func(ctx context.Context, info ErrorInfo, opts Options) Outcome {
		calls++
		return Outcome{}
	})

	info := ErrorInfo{Kind: faults.KindNetwork, Context: "thingspeak.getFeed"}
	for i := 0; i < 5; i++ {
		res := e.Recover(context.Background(), info, Options{})
		if !res.Attempted {
			t.Fatalf("Attempt %d should run, got skipped", i+1)
		}
	}

	res := e.Recover(context.Background(), info, Options{})
	if res.Attempted {
		t.Error("Expected sixth attempt to be skipped")
	}
	if calls != 5 {
		t.Errorf("Expected 5 strategy runs, got %d", calls)
	}

	// A different context is its own budget
	other := ErrorInfo{Kind: faults.KindNetwork, Context: "thingspeak.getLastEntry"}
	if res := e.Recover(context.Background(), other, Options{}); !res.Attempted {
		t.Error("Expected independent budget per (kind, context)")
	}

	// Clearing the counter restores the budget
	if n := e.Counter().Clear(); n != 2 {
		t.Errorf("Expected 2 tracked signatures, got %d", n)
	}
	if res := e.Recover(context.Background(), info, Options{}); !res.Attempted {
		t.Error("Expected recovery to run again after Clear")
	}

	t.Log("✓ Attempt cap bounds recovery per failure signature")
}

// TestCachedFallbackStrategy verifies exact key first, then family widening
func TestCachedFallbackStrategy(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryCache(cache.MemoryCacheConfig{MaxSize: 10, StaleRetention: time.Hour})
	defer store.Close()

	strat := CachedFallbackStrategy(store)
	info := ErrorInfo{Kind: faults.KindExternalService, Context: "thingspeak.getFeed"}

	// Nothing cached: failure
	out := strat(ctx, info, Options{CacheKey: "feed:1:100", CacheFamily: "feed:1"})
	if out.Success {
		t.Error("Expected failure with empty cache")
	}

	// Family member cached under a different page size: widened search hits
	store.Set(ctx, "feed:1:50", "neighbor", time.Minute)
	out = strat(ctx, info, Options{CacheKey: "feed:1:100", CacheFamily: "feed:1", MaxStaleAge: time.Hour})
	if !out.Success || out.Data != "neighbor" {
		t.Errorf("Expected family fallback hit, got %+v", out)
	}

	// Exact key wins over family
	store.Set(ctx, "feed:1:100", "exact", time.Minute)
	out = strat(ctx, info, Options{CacheKey: "feed:1:100", CacheFamily: "feed:1", MaxStaleAge: time.Hour})
	if !out.Success || out.Data != "exact" {
		t.Errorf("Expected exact key hit, got %+v", out)
	}

	t.Log("✓ Cached fallback prefers the exact key and widens to the family")
}

// TestOfflineModeStrategy verifies any-age entries are served and always
// marked stale
func TestOfflineModeStrategy(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryCache(cache.MemoryCacheConfig{MaxSize: 10, StaleRetention: 365 * 24 * time.Hour})
	defer store.Close()

	store.Set(ctx, "feed:1:100", "ancient", time.Nanosecond)
	time.Sleep(time.Millisecond)

	strat := OfflineModeStrategy(store)
	out := strat(ctx, ErrorInfo{Kind: faults.KindNetwork}, Options{CacheKey: "feed:1:100"})
	if !out.Success || out.Data != "ancient" {
		t.Fatalf("Expected offline-mode to serve any-age data, got %+v", out)
	}
	if !out.Stale {
		t.Error("Offline-mode data must always be marked stale")
	}

	t.Log("✓ Offline mode serves last-known data regardless of age")
}

// TestStaticDefaultsStrategy verifies defaults round-trip
func TestStaticDefaultsStrategy(t *testing.T) {
	strat := StaticDefaultsStrategy()

	out := strat(context.Background(), ErrorInfo{}, Options{})
	if out.Success {
		t.Error("Expected failure without defaults")
	}

	out = strat(context.Background(), ErrorInfo{}, Options{Defaults: []string{}})
	if !out.Success {
		t.Error("Expected success with defaults provided")
	}

	t.Log("✓ Static defaults serve the caller-supplied value")
}

// TestRetryStrategy verifies the single re-invocation
func TestRetryStrategy(t *testing.T) {
	strat := RetryStrategy()

	out := strat(context.Background(), ErrorInfo{}, Options{})
	if out.Success {
		t.Error("Expected failure without a retry closure")
	}

	out = strat(context.Background(), ErrorInfo{}, Options{
		Retry: func(ctx context.Context) (interface{}, error) {
			return "fresh", nil
		},
	})
	if !out.Success || out.Data != "fresh" || out.Stale {
		t.Errorf("Expected fresh retry result, got %+v", out)
	}

	out = strat(context.Background(), ErrorInfo{}, Options{
		Retry: func(ctx context.Context) (interface{}, error) {
			return nil, errors.New("still down")
		},
	})
	if out.Success {
		t.Error("Expected failure when the retry also fails")
	}

	t.Log("✓ Retry strategy re-invokes the operation once")
}
