package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Kamalbura/air-quality-monitering-sub000/internal/errstats"
	"github.com/Kamalbura/air-quality-monitering-sub000/internal/platform/cache"
	"github.com/Kamalbura/air-quality-monitering-sub000/internal/platform/faults"
	"github.com/Kamalbura/air-quality-monitering-sub000/internal/platform/resilience"
	"github.com/Kamalbura/air-quality-monitering-sub000/internal/recovery"
)

const feedJSON = `{
	"channel": {"id": 42, "name": "rooftop", "last_entry_id": 2},
	"feeds": [
		{"created_at": "2024-06-01T10:00:00Z", "entry_id": 1, "field1": "45.2", "field2": "31.5", "field3": "12.1", "field4": "20.4"},
		{"created_at": "2024-06-01T10:00:15Z", "entry_id": 2, "field1": "46.0", "field2": "31.4", "field3": "12.4", "field4": "20.9"}
	]
}`

// newTestService wires a full service against the given upstream with
// timings suitable for tests: near-zero gate spacing, millisecond backoff,
// and a breaker that will not trip mid-test.
func newTestService(t *testing.T, upstreamURL string) (*Service, *cache.LayeredCache) {
	t.Helper()

	gate := resilience.NewRateGate(resilience.RateGateConfig{
		MinInterval: time.Nanosecond,
		PerMinute:   10000,
		PerDay:      100000,
	})
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 100,
		SuccessThreshold: 1,
		Timeout:          time.Second,
	})
	client, err := NewClient(ClientConfig{
		BaseURL: upstreamURL,
		Timeout: 2 * time.Second,
		Gate:    gate,
		RetryConfig: resilience.RetryConfig{
			MaxRetries: 3,
			BaseDelay:  time.Millisecond,
			MaxDelay:   5 * time.Millisecond,
		},
		CircuitBreaker: cb,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	store := cache.NewLayeredCache(cache.NewMemoryCache(cache.MemoryCacheConfig{MaxSize: 100}), nil)
	engine := recovery.NewEngine(recovery.EngineConfig{AttemptCap: 100})
	recovery.RegisterDefaults(engine, store)
	reporter := errstats.NewReporter(errstats.ReporterDeps{
		Suppressor: errstats.NewSuppressor(errstats.SuppressorConfig{Threshold: 1000}),
		Stats:      errstats.NewStats(100),
		Engine:     engine,
	})

	svc := NewService(ServiceConfig{
		Client:      client,
		Store:       store,
		Reporter:    reporter,
		TTL:         time.Minute,
		MaxStaleAge: 24 * time.Hour,
		Channels:    []ChannelRef{{ID: 42, Name: "rooftop"}},
	})
	return svc, store
}

func TestServiceFeedFetchAndCache(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(feedJSON))
	}))
	defer srv.Close()

	svc, _ := newTestService(t, srv.URL)
	ctx := context.Background()

	resp := svc.Feed(ctx, 42, 10)
	if !resp.Success || resp.FromCache || resp.Stale {
		t.Fatalf("first call: %+v, want live success", resp)
	}
	feed, ok := resp.Data.(*Feed)
	if !ok {
		t.Fatalf("Data is %T, want *Feed", resp.Data)
	}
	if len(feed.Entries) != 2 || feed.Channel.ID != 42 {
		t.Errorf("feed = channel %d with %d entries, want channel 42 with 2", feed.Channel.ID, len(feed.Entries))
	}
	m := feed.Measurements()
	if m[0].Humidity != 45.2 || m[0].Temperature != 31.5 || m[0].PM25 != 12.1 || m[0].PM10 != 20.4 {
		t.Errorf("parsed measurement = %+v, want 45.2/31.5/12.1/20.4", m[0])
	}

	// Second call is served fresh from cache, no upstream traffic.
	resp = svc.Feed(ctx, 42, 10)
	if !resp.Success || !resp.FromCache || resp.Stale {
		t.Fatalf("second call: %+v, want fresh cache hit", resp)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("upstream hits = %d, want 1", got)
	}

	t.Log("✓ feed fetched, parsed, and served from cache on repeat")
}

func TestServiceRetriesRateLimitedUpstream(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(feedJSON))
	}))
	defer srv.Close()

	svc, _ := newTestService(t, srv.URL)

	resp := svc.Feed(context.Background(), 42, 10)
	if !resp.Success || resp.FromCache {
		t.Fatalf("response = %+v, want live success after retries", resp)
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Errorf("upstream hits = %d, want 3 (two 429s then success)", got)
	}

	t.Log("✓ upstream 429s retried through to success")
}

func TestServiceServesStaleOnUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc, store := newTestService(t, srv.URL)
	ctx := context.Background()

	// An expired entry under the exact key the request will use.
	old := &Feed{Channel: Channel{ID: 42, Name: "rooftop"}, Entries: []Entry{{EntryID: 7}}}
	if err := store.Set(ctx, "feed:42:10", old, time.Nanosecond); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	resp := svc.Feed(ctx, 42, 10)
	if !resp.Success {
		t.Fatalf("response = %+v, want degraded success", resp)
	}
	if !resp.Stale || !resp.FromCache {
		t.Errorf("stale=%v fromCache=%v, want true/true", resp.Stale, resp.FromCache)
	}
	feed, ok := resp.Data.(*Feed)
	if !ok || len(feed.Entries) != 1 || feed.Entries[0].EntryID != 7 {
		t.Errorf("Data = %+v, want the seeded stale feed", resp.Data)
	}

	snap := svc.Stats(false)
	if snap.RecoveryAttempts < 1 || snap.RecoverySuccess < 1 {
		t.Errorf("recovery stats = %d/%d, want at least one successful attempt",
			snap.RecoverySuccess, snap.RecoveryAttempts)
	}

	t.Log("✓ stale cache served when upstream is down")
}

func TestServiceDefaultsWhenCacheEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc, _ := newTestService(t, srv.URL)

	resp := svc.Feed(context.Background(), 42, 10)
	if !resp.Success {
		t.Fatalf("response = %+v, want default-data success", resp)
	}
	if resp.Stale {
		t.Error("defaults are not stale data")
	}
	feed, ok := resp.Data.(*Feed)
	if !ok {
		t.Fatalf("Data is %T, want *Feed", resp.Data)
	}
	if feed.Channel.ID != 42 || feed.Channel.Name != "rooftop" || len(feed.Entries) != 0 {
		t.Errorf("defaults = %+v, want empty feed for channel 42", feed)
	}

	t.Log("✓ empty-feed defaults returned with nothing cached")
}

func TestServiceValidationShortCircuits(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	svc, _ := newTestService(t, srv.URL)

	resp := svc.Feed(context.Background(), -1, 10)
	if resp.Success {
		t.Fatal("negative channel id should fail")
	}
	if resp.Err == nil || resp.Err.Kind != faults.KindValidation {
		t.Errorf("Err = %+v, want VALIDATION", resp.Err)
	}
	if resp.Err != nil && resp.Err.HTTPStatus != 400 {
		t.Errorf("HTTPStatus = %d, want 400", resp.Err.HTTPStatus)
	}
	if got := atomic.LoadInt32(&hits); got != 0 {
		t.Errorf("upstream hits = %d, want 0 (validation never reaches the network)", got)
	}

	t.Log("✓ invalid channel id rejected without an upstream call")
}

func TestClientCoalescesConcurrentFetches(t *testing.T) {
	var hits int32
	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			close(started)
			<-release
		}
		w.Write([]byte(feedJSON))
	}))
	defer srv.Close()

	svc, _ := newTestService(t, srv.URL)
	client := svc.client
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Feed(ctx, 42, 10, "")
			errs <- err
		}()
	}

	// Hold the first request open until the rest have piled in behind it.
	<-started
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("coalesced fetch failed: %v", err)
		}
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("upstream hits = %d, want 1 (identical in-flight requests share one call)", got)
	}

	t.Log("✓ concurrent identical fetches coalesced into one upstream call")
}

func TestServicePerCallTTL(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(feedJSON))
	}))
	defer srv.Close()

	svc, _ := newTestService(t, srv.URL)
	ctx := context.Background()

	// A near-zero TTL means the result expires before the next call.
	resp := svc.Feed(ctx, 42, 10, FetchOptions{TTL: time.Nanosecond})
	if !resp.Success {
		t.Fatalf("first call failed: %+v", resp)
	}
	resp = svc.Feed(ctx, 42, 10)
	if !resp.Success || resp.FromCache {
		t.Fatalf("second call: %+v, want a live refetch past the short TTL", resp)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Fatalf("upstream hits = %d, want 2", got)
	}

	// The refetch used the configured TTL, so the third call is a cache hit.
	resp = svc.Feed(ctx, 42, 10)
	if !resp.Success || !resp.FromCache {
		t.Fatalf("third call: %+v, want a fresh cache hit", resp)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Errorf("upstream hits = %d, want still 2", got)
	}

	t.Log("✓ per-call TTL overrides the configured freshness window")
}

func TestServicePerCallRetryBudget(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc, _ := newTestService(t, srv.URL)

	// The configured budget allows 3 retries; this call allows 1.
	svc.Feed(context.Background(), 42, 10, FetchOptions{MaxRetries: 1})
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Errorf("upstream hits = %d, want 2 (one attempt plus one retry)", got)
	}

	t.Log("✓ per-call retry budget overrides the configured one")
}

func TestServiceClearOperations(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(feedJSON))
	}))
	defer srv.Close()

	svc, _ := newTestService(t, srv.URL)
	ctx := context.Background()

	svc.Feed(ctx, 42, 10)
	n, err := svc.ClearCache(ctx)
	if err != nil || n != 1 {
		t.Fatalf("ClearCache = %d, %v, want 1, nil", n, err)
	}

	// Cleared cache means the next call goes upstream again.
	svc.Feed(ctx, 42, 10)
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Errorf("upstream hits = %d, want 2 after cache clear", got)
	}

	// Clearing an empty stats store is a harmless no-op.
	records, _ := svc.ClearStats(ctx)
	if records != 0 {
		t.Errorf("ClearStats records = %d, want 0", records)
	}
	if snap := svc.Stats(true); snap.Total != 0 {
		t.Errorf("snapshot after clear: total = %d, want 0", snap.Total)
	}

	t.Log("✓ cache and stats clear behave as admin operations")
}
