// Package worker provides the bounded pool the collector polls channels
// through: each tick becomes a batch of fetch jobs fanned out over a fixed
// number of goroutines, so a slow upstream delays a round instead of
// multiplying goroutines.
package worker

import (
	"context"
	"sync"
)

// Job is one unit of a polling round, typically a single channel fetch.
type Job struct {
	// ID names the job in results, e.g. the channel id.
	ID string
	// Execute runs the fetch. The context is the pool's, cancelled when the
	// pool closes.
	Execute func(ctx context.Context) (interface{}, error)
}

// Result pairs a job's outcome with its ID so a round can report which
// channels failed.
type Result struct {
	JobID string
	Value interface{}
	Err   error
}

// Pool runs a fixed set of workers over a shared queue. Work is submitted
// in batches: SubmitAndWait hands one polling round to the workers and
// blocks until every job has finished or the pool's context is cancelled.
type Pool struct {
	workers int
	jobs    chan Job
	results chan Result
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewPool starts a pool of workers pulling from a queue of queueSize.
//
//	pool := worker.NewPool(ctx, 2, len(channels)*2)
//	defer pool.Close()
//	results := pool.SubmitAndWait(jobs)
func NewPool(ctx context.Context, workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	poolCtx, cancel := context.WithCancel(ctx)
	p := &Pool{
		workers: workers,
		jobs:    make(chan Job, queueSize),
		results: make(chan Result, queueSize),
		ctx:     poolCtx,
		cancel:  cancel,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			value, err := job.Execute(p.ctx)
			// SubmitAndWait drains exactly as many results as it submitted,
			// so this send only blocks while the batch is still collecting.
			select {
			case p.results <- Result{JobID: job.ID, Value: value, Err: err}:
			case <-p.ctx.Done():
				return
			}
		}
	}
}

func (p *Pool) submit(job Job) error {
	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.jobs <- job:
		return nil
	}
}

// SubmitAndWait runs one batch and returns its results in completion
// order. Cancellation mid-batch returns whatever completed; a result is
// collected for every job that was accepted, never more. One batch at a
// time: concurrent batches would interleave each other's results.
func (p *Pool) SubmitAndWait(jobs []Job) []Result {
	// Submission and collection overlap so a batch larger than the queue
	// cannot wedge the workers behind a full results channel.
	accepted := make(chan int, 1)
	go func() {
		n := 0
		for _, job := range jobs {
			if err := p.submit(job); err != nil {
				break
			}
			n++
		}
		accepted <- n
	}()

	results := make([]Result, 0, len(jobs))
	submitted := -1
	for submitted < 0 || len(results) < submitted {
		select {
		case <-p.ctx.Done():
			return results
		case n := <-accepted:
			submitted = n
		case res := <-p.results:
			results = append(results, res)
		}
	}
	return results
}

// Workers returns the pool's worker count.
func (p *Pool) Workers() int {
	return p.workers
}

// Close stops accepting work and waits for the workers to exit.
func (p *Pool) Close() {
	p.cancel()
	close(p.jobs)
	p.wg.Wait()
}
