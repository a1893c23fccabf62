// Package worker runs independent forecast units (one state, one year) on a
// bounded set of goroutines, and rate-limits remote table downloads.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// Job is one independent unit of forecasting work
type Job interface {
	Execute(ctx context.Context) Result
}

// Result is the outcome of a Job; a failed unit carries its error instead of aborting the pool
type Result interface {
	GetError() error
}

// PanicResult replaces the result of a job that panicked
type PanicResult struct {
	Value interface{}
	Stack []byte
}

// GetError describes the panic
func (r *PanicResult) GetError() error {
	return fmt.Errorf("job panicked: %v", r.Value)
}

// task is a job plus the slot its result goes to
type task struct {
	slot int
	job  Job
}

// Pool runs jobs on a fixed number of workers. Each job writes its own result
// slot, so Wait returns results in submission order whatever order they finish in.
type Pool struct {
	workers int
	queue   chan task
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	// sending is held for reading while a job is handed to the queue and
	// for writing while the queue is closed
	sending sync.RWMutex

	mu      sync.Mutex
	results []Result
	stopped bool
}

// NewPool creates a new worker pool with the specified number of workers
func NewPool(workers int) *Pool {
	return NewPoolContext(context.Background(), workers)
}

// NewPoolContext creates a pool whose workers stop taking jobs once parent is done
func NewPoolContext(parent context.Context, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(parent)

	return &Pool{
		workers: workers,
		queue:   make(chan task, workers*2),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start starts the workers
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
		case t, ok := <-p.queue:
			if !ok {
				return
			}
			// A unit already running finishes; cancellation only stops new ones
			result := run(p.ctx, t.job)
			p.mu.Lock()
			p.results[t.slot] = result
			p.mu.Unlock()
		}
	}
}

func run(ctx context.Context, job Job) (result Result) {
	defer func() {
		if v := recover(); v != nil {
			result = &PanicResult{Value: v, Stack: debug.Stack()}
		}
	}()
	return job.Execute(ctx)
}

// Submit queues a job and returns its slot. Once the pool is cancelled or
// shut down the job is dropped and its slot stays nil.
func (p *Pool) Submit(job Job) int {
	p.sending.RLock()
	defer p.sending.RUnlock()

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return -1
	}
	slot := len(p.results)
	p.results = append(p.results, nil)
	p.mu.Unlock()

	select {
	case <-p.ctx.Done():
	case p.queue <- task{slot: slot, job: job}:
	}
	return slot
}

// Wait waits for every submitted job and returns one entry per Submit, in
// submission order. Entries of jobs dropped by cancellation are nil.
func (p *Pool) Wait() []Result {
	p.stop()
	p.wg.Wait()
	p.cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Result, len(p.results))
	copy(out, p.results)
	return out
}

// Shutdown stops the workers; queued jobs are abandoned and running ones finish
func (p *Pool) Shutdown() {
	p.cancel()
	p.stop()
	p.wg.Wait()
}

func (p *Pool) stop() {
	p.sending.Lock()
	defer p.sending.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopped {
		p.stopped = true
		close(p.queue)
	}
}
