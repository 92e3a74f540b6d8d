package bitonic

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Result reports the outcome of one executor invocation.
type Result struct {
	// Seq numbers accepted requests from 1.
	Seq      uint64
	Duration time.Duration
	Err      error
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithResultFunc sets a function called on the executor goroutine after
// every invocation.
func WithResultFunc(fn func(Result)) ExecutorOption {
	return func(e *Executor) { e.onResult = fn }
}

// Executor hands sort requests from a producer thread (a render or frame
// loop) to a single worker goroutine.
//
// The hand-off holds at most one request. Request never blocks: it reserves
// the sorter and posts the request, or drops it when the sorter is busy or
// closed. The worker started by Run executes requests in order. Requests
// made before the first Run wait for it; requests made after Run returned
// are dropped until Run is called again.
type Executor struct {
	sorter   *Sorter
	tasks    chan uint64
	onResult func(Result)
	seq      atomic.Uint64
	running  atomic.Bool

	// mu orders Request against the worker exit. stopped is set when Run
	// returns and cleared when it starts.
	mu      sync.Mutex
	stopped bool
}

// NewExecutor creates an executor for s. Call Run to start the worker.
func NewExecutor(s *Sorter, opts ...ExecutorOption) *Executor {
	e := &Executor{
		sorter: s,
		tasks:  make(chan uint64, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Request asks for one invocation and reports whether it was accepted.
// A rejected request has no effect on the buffers.
func (e *Executor) Request() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return false
	}
	if !e.sorter.tryBegin() {
		return false
	}
	seq := e.seq.Add(1)
	select {
	case e.tasks <- seq:
		return true
	default:
		// Unreachable while every reservation is paired with one task.
		e.sorter.end()
		return false
	}
}

// Run executes requests until ctx is done and returns ctx.Err(). A request
// still pending when Run returns is released unexecuted. Run must not be
// called concurrently with itself.
func (e *Executor) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		panic("bitonic: Executor.Run called concurrently")
	}
	defer e.running.Store(false)

	e.mu.Lock()
	e.stopped = false
	e.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			e.stop()
			return ctx.Err()

		case seq := <-e.tasks:
			start := time.Now()
			err := e.sorter.run(ctx)
			e.sorter.end()
			if e.onResult != nil {
				e.onResult(Result{Seq: seq, Duration: time.Since(start), Err: err})
			}
		}
	}
}

// stop marks the worker gone and releases a pending request.
func (e *Executor) stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	select {
	case <-e.tasks:
		e.sorter.end()
	default:
	}
}
