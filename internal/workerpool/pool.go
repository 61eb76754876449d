// Package workerpool runs user commands (kills) off the caller's goroutine
// with bounded concurrency and a bounded queue.
package workerpool

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/hellotrik/port-killer/internal/logging"
)

var log = logging.L("workerpool")

var (
	ErrStopped   = errors.New("worker pool stopped")
	ErrQueueFull = errors.New("worker pool queue full")
)

// Task is a unit of work. ctx is cancelled when the pool shuts down.
type Task func(ctx context.Context)

// Stats is a point-in-time view of pool activity.
type Stats struct {
	Workers   int   `json:"workers"`
	Queued    int   `json:"queued"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Rejected  int64 `json:"rejected"`
	Panicked  int64 `json:"panicked"`
}

// Pool is a fixed set of goroutines reading from a bounded queue.
type Pool struct {
	maxWorkers int
	queue      chan Task
	queueMu    sync.RWMutex // guards sends against close
	wg         sync.WaitGroup
	accepting  atomic.Bool
	stopOnce   sync.Once
	closeOnce  sync.Once
	stopChan   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	active    atomic.Int64
	completed atomic.Int64
	rejected  atomic.Int64
	panicked  atomic.Int64
}

// New starts maxWorkers goroutines with a queue of queueSize.
func New(maxWorkers, queueSize int) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		maxWorkers: maxWorkers,
		queue:      make(chan Task, queueSize),
		stopChan:   make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	p.accepting.Store(true)

	for i := 0; i < maxWorkers; i++ {
		go p.worker()
	}

	log.Debug("worker pool started", "workers", maxWorkers, "queueSize", queueSize)
	return p
}

// Submit enqueues task. It fails with ErrStopped after StopAccepting or
// ErrQueueFull when the queue has no room; it never blocks.
func (p *Pool) Submit(task Task) error {
	p.queueMu.RLock()
	defer p.queueMu.RUnlock()
	if !p.accepting.Load() {
		p.rejected.Add(1)
		return ErrStopped
	}

	// Add before enqueueing so Drain cannot miss the task.
	p.wg.Add(1)
	select {
	case p.queue <- task:
		return nil
	default:
		p.wg.Done()
		p.rejected.Add(1)
		log.Warn("worker pool queue full, task rejected")
		return ErrQueueFull
	}
}

// Context is cancelled by Shutdown.
func (p *Pool) Context() context.Context { return p.ctx }

// StopAccepting rejects all further submissions.
func (p *Pool) StopAccepting() {
	p.accepting.Store(false)
}

// Drain waits for queued and running tasks until ctx ends, then releases
// the workers. It reports whether everything finished.
func (p *Pool) Drain(ctx context.Context) bool {
	p.StopAccepting()
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	drained := false
	select {
	case <-done:
		drained = true
		log.Debug("worker pool drained")
	case <-ctx.Done():
		log.Warn("worker pool drain timed out", "active", p.active.Load())
	}

	p.closeOnce.Do(func() {
		p.queueMu.Lock()
		close(p.queue)
		p.queueMu.Unlock()
	})
	return drained
}

// Shutdown drains the pool and then cancels the task context.
func (p *Pool) Shutdown(ctx context.Context) bool {
	drained := p.Drain(ctx)
	p.cancel()
	return drained
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.maxWorkers,
		Queued:    len(p.queue),
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Rejected:  p.rejected.Load(),
		Panicked:  p.panicked.Load(),
	}
}

func (p *Pool) worker() {
	for {
		select {
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			p.runTask(task)
		case <-p.stopChan:
			for {
				select {
				case task, ok := <-p.queue:
					if !ok {
						return
					}
					p.runTask(task)
				default:
					return
				}
			}
		}
	}
}

// runTask runs one task with panic recovery and balances Submit's wg.Add.
func (p *Pool) runTask(task Task) {
	p.active.Add(1)
	defer p.wg.Done()
	defer p.active.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			log.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
			return
		}
		p.completed.Add(1)
	}()
	task(p.ctx)
}
