// Package worker runs independent jobs on a bounded set of goroutines.
package worker

import (
	"context"
	"sync"
)

// Job represents a unit of work to be executed
type Job interface {
	Execute(ctx context.Context) Result
}

// Result represents the result of a job execution
type Result interface {
	GetError() error
}

// cancelledResult stands in for jobs that never ran.
type cancelledResult struct{ err error }

func (r cancelledResult) GetError() error { return r.err }

type indexedJob struct {
	index int
	job   Job
}

// Pool manages a pool of workers that execute jobs concurrently. Results are
// returned in submission order whatever order jobs finish in.
type Pool struct {
	workers    int
	jobQueue   chan indexedJob
	collector  *ResultCollector
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc

	mu        sync.Mutex
	submitted int
	closed    bool
}

// NewPool creates a pool of workers bound to ctx. Cancelling ctx stops workers
// after their current job.
func NewPool(ctx context.Context, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)

	return &Pool{
		workers:    workers,
		jobQueue:   make(chan indexedJob, workers*2),
		collector:  NewResultCollector(),
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Start starts the worker pool
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case ij, ok := <-p.jobQueue:
			if !ok {
				return
			}
			if err := p.ctx.Err(); err != nil {
				p.collector.Add(ij.index, cancelledResult{err: err})
				continue
			}
			// Results go to the collector, never to a channel nobody drains yet.
			p.collector.Add(ij.index, ij.job.Execute(p.ctx))
		}
	}
}

// Submit queues a job. It returns false when the pool is shut down or waiting.
// The lock is held across the send so the queue cannot be closed under it.
func (p *Pool) Submit(job Job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	idx := p.submitted
	p.submitted++

	if err := p.ctx.Err(); err != nil {
		p.collector.Add(idx, cancelledResult{err: err})
		return false
	}
	select {
	case <-p.ctx.Done():
		p.collector.Add(idx, cancelledResult{err: p.ctx.Err()})
		return false
	case p.jobQueue <- indexedJob{index: idx, job: job}:
		return true
	}
}

// Wait closes the queue, waits for every queued job and returns all results in
// submission order. Jobs dropped by cancellation report the context error.
func (p *Pool) Wait() []Result {
	p.close()
	p.wg.Wait()

	p.mu.Lock()
	n := p.submitted
	p.mu.Unlock()

	results := p.collector.Ordered(n)
	for i, r := range results {
		if r == nil {
			err := p.ctx.Err()
			if err == nil {
				err = context.Canceled
			}
			results[i] = cancelledResult{err: err}
		}
	}
	p.cancelFunc()
	return results
}

func (p *Pool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.jobQueue)
	}
}

// ResultCollector gathers results by index from concurrent workers.
type ResultCollector struct {
	results map[int]Result
	mu      sync.Mutex
}

// NewResultCollector creates a new result collector
func NewResultCollector() *ResultCollector {
	return &ResultCollector{results: make(map[int]Result)}
}

// Add records the result of job index (thread-safe)
func (c *ResultCollector) Add(index int, result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[index] = result
}

// Ordered returns results 0..n-1; missing entries are nil.
func (c *ResultCollector) Ordered(n int) []Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Result, n)
	for i := range out {
		out[i] = c.results[i]
	}
	return out
}
