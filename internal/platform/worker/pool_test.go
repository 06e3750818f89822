package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func fetchJob(id string, fn func(ctx context.Context) (interface{}, error)) Job {
	return Job{ID: id, Execute: fn}
}

func TestPoolDefaults(t *testing.T) {
	pool := NewPool(context.Background(), 0, -1)
	defer pool.Close()

	if pool.Workers() != 1 {
		t.Errorf("Workers() = %d, want 1 for a non-positive worker count", pool.Workers())
	}

	t.Log("✓ degenerate sizes fall back to a single worker")
}

func TestPoolRunsBatch(t *testing.T) {
	pool := NewPool(context.Background(), 3, 4)
	defer pool.Close()

	var calls int32
	jobs := make([]Job, 0, 10)
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("channel-%d", i)
		jobs = append(jobs, fetchJob(id, func(ctx context.Context) (interface{}, error) {
			atomic.AddInt32(&calls, 1)
			return id, nil
		}))
	}

	results := pool.SubmitAndWait(jobs)
	if len(results) != 10 {
		t.Fatalf("got %d results, want 10", len(results))
	}
	if got := atomic.LoadInt32(&calls); got != 10 {
		t.Errorf("jobs executed = %d, want 10", got)
	}

	seen := make(map[string]bool, len(results))
	for _, res := range results {
		if res.Err != nil {
			t.Errorf("job %s failed: %v", res.JobID, res.Err)
		}
		if res.Value != res.JobID {
			t.Errorf("job %s returned %v, want its own id", res.JobID, res.Value)
		}
		seen[res.JobID] = true
	}
	if len(seen) != 10 {
		t.Errorf("distinct job ids in results = %d, want 10", len(seen))
	}

	t.Log("✓ a batch larger than the queue completes with one result per job")
}

func TestPoolCarriesErrors(t *testing.T) {
	pool := NewPool(context.Background(), 2, 4)
	defer pool.Close()

	failure := errors.New("upstream unavailable")
	results := pool.SubmitAndWait([]Job{
		fetchJob("ok", func(ctx context.Context) (interface{}, error) { return 1, nil }),
		fetchJob("bad", func(ctx context.Context) (interface{}, error) { return nil, failure }),
	})

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, res := range results {
		switch res.JobID {
		case "ok":
			if res.Err != nil || res.Value != 1 {
				t.Errorf("ok job: value=%v err=%v", res.Value, res.Err)
			}
		case "bad":
			if !errors.Is(res.Err, failure) {
				t.Errorf("bad job error = %v, want the job's failure", res.Err)
			}
		default:
			t.Errorf("unexpected job id %q", res.JobID)
		}
	}

	t.Log("✓ per-job failures surface in results without affecting the batch")
}

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := NewPool(context.Background(), 2, 8)
	defer pool.Close()

	var current, peak int32
	jobs := make([]Job, 0, 8)
	for i := 0; i < 8; i++ {
		jobs = append(jobs, fetchJob(fmt.Sprintf("j%d", i), func(ctx context.Context) (interface{}, error) {
			n := atomic.AddInt32(&current, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&current, -1)
			return nil, nil
		}))
	}

	pool.SubmitAndWait(jobs)
	if got := atomic.LoadInt32(&peak); got > 2 {
		t.Errorf("peak concurrency = %d, want at most 2", got)
	}

	t.Log("✓ in-flight jobs never exceed the worker count")
}

func TestPoolCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(ctx, 1, 1)

	block := make(chan struct{})
	done := make(chan []Result, 1)
	go func() {
		done <- pool.SubmitAndWait([]Job{
			fetchJob("stuck", func(ctx context.Context) (interface{}, error) {
				<-block
				return nil, nil
			}),
			fetchJob("queued", func(ctx context.Context) (interface{}, error) { return nil, nil }),
		})
	}()

	cancel()
	var results []Result
	select {
	case results = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SubmitAndWait did not return after cancellation")
	}
	if len(results) == 2 {
		t.Error("cancelled batch should not report every job complete")
	}
	close(block)

	t.Log("✓ cancellation unblocks a waiting batch with partial results")
}

func TestPoolCloseWaitsForWorkers(t *testing.T) {
	pool := NewPool(context.Background(), 2, 2)

	var finished int32
	pool.SubmitAndWait([]Job{
		fetchJob("a", func(ctx context.Context) (interface{}, error) {
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&finished, 1)
			return nil, nil
		}),
	})
	pool.Close()

	if got := atomic.LoadInt32(&finished); got != 1 {
		t.Errorf("finished jobs after Close = %d, want 1", got)
	}

	t.Log("✓ close returns only after workers have exited")
}
