// Package worker runs highlighting jobs concurrently and paces requests per
// host.
package worker

import (
	"context"
	"sync"
)

// Job is a unit of work run by the pool
type Job interface {
	Execute(ctx context.Context) Result
}

// Result is what a job produces
type Result interface {
	GetError() error
}

// Pool runs jobs on a fixed number of workers. Results are drained as they
// arrive, so any number of jobs may be submitted before Wait.
type Pool struct {
	workers   int
	jobQueue  chan Job
	results   chan Result
	collector *ResultCollector

	wg        sync.WaitGroup
	drained   chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewPool creates a pool with the given number of workers (at least one)
func NewPool(workers int) *Pool {
	return NewPoolWithContext(context.Background(), workers)
}

// NewPoolWithContext creates a pool whose jobs stop when ctx is done
func NewPoolWithContext(ctx context.Context, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(ctx)

	return &Pool{
		workers:   workers,
		jobQueue:  make(chan Job, workers*2),
		results:   make(chan Result, workers*2),
		collector: NewResultCollector(),
		drained:   make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the workers and the result collector
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	go func() {
		defer close(p.drained)
		for r := range p.results {
			p.collector.Add(r)
		}
	}()
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			p.results <- job.Execute(p.ctx)
		}
	}
}

// Submit queues a job. It returns false without queuing once the pool is
// shut down.
func (p *Pool) Submit(job Job) bool {
	if p.ctx.Err() != nil {
		return false
	}
	select {
	case <-p.ctx.Done():
		return false
	case p.jobQueue <- job:
		return true
	}
}

// Wait stops accepting jobs, waits for queued ones and returns every result
func (p *Pool) Wait() []Result {
	close(p.jobQueue)
	p.wg.Wait()
	p.closeResults()
	<-p.drained
	p.cancel()
	return p.collector.Results()
}

// Shutdown cancels running jobs and stops the workers. Jobs still queued
// are dropped.
func (p *Pool) Shutdown() {
	p.cancel()
	p.wg.Wait()
	p.closeResults()
}

func (p *Pool) closeResults() {
	p.closeOnce.Do(func() {
		close(p.results)
	})
}

// ResultCollector accumulates results from concurrent producers
type ResultCollector struct {
	results []Result
	mu      sync.Mutex
}

// NewResultCollector creates an empty collector
func NewResultCollector() *ResultCollector {
	return &ResultCollector{
		results: make([]Result, 0),
	}
}

// Add appends a result
func (c *ResultCollector) Add(result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, result)
}

// Results returns a copy of the collected results
func (c *ResultCollector) Results() []Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Result, len(c.results))
	copy(out, c.results)
	return out
}
