// Package workerpool provides a goroutine-based implementation of the
// worker-pool contract the WorkflowManager dispatches task bodies through
// (§5): submit/poll/interrupt/shutdown. Any pool satisfying this contract —
// thread-based, process-based, or a remote cluster — is admissible; this one
// follows the teacher's goroutine-plus-WaitGroup pattern, bounded by a
// weighted semaphore instead of a fixed number of long-lived worker
// goroutines.
package workerpool

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Func is the body dispatched to a worker.
type Func func(ctx context.Context) (any, error)

// Handle is an in-flight (or completed) unit of work.
type Handle interface {
	// Poll is non-blocking: done reports whether the worker has finished.
	Poll() (done bool, value any, err error)
	// Interrupt requests cancellation; safe to call more than once.
	Interrupt()
}

type handle struct {
	mu      sync.Mutex
	value   any
	err     error
	cancel  context.CancelFunc
	readyCh chan struct{}
}

func (h *handle) Poll() (bool, any, error) {
	select {
	case <-h.readyCh:
		h.mu.Lock()
		defer h.mu.Unlock()
		return true, h.value, h.err
	default:
		return false, nil, nil
	}
}

func (h *handle) Interrupt() {
	h.cancel()
}

// Pool is a fixed-concurrency goroutine pool. maxWorkers bounds how many
// submitted Funcs run concurrently; excess submissions queue on the
// semaphore until a slot frees up.
type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// New returns a Pool admitting at most maxWorkers concurrent Funcs.
func New(maxWorkers int) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(maxWorkers))}
}

// Submit dispatches fn to a worker goroutine and returns immediately with a
// Handle the caller polls for completion.
func (p *Pool) Submit(ctx context.Context, fn Func) Handle {
	workerCtx, cancel := context.WithCancel(ctx)
	h := &handle{cancel: cancel, readyCh: make(chan struct{})}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(workerCtx, 1); err != nil {
			h.mu.Lock()
			h.err = err
			h.mu.Unlock()
			close(h.readyCh)
			return
		}
		defer p.sem.Release(1)

		value, err := fn(workerCtx)
		h.mu.Lock()
		h.value, h.err = value, err
		h.mu.Unlock()
		close(h.readyCh)
	}()
	return h
}

// Shutdown blocks until every dispatched Func has returned.
func (p *Pool) Shutdown() {
	p.wg.Wait()
}
