package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func shutdown(t *testing.T, p *Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if !p.Shutdown(ctx) {
		t.Fatal("pool did not drain")
	}
}

func TestSubmitAndShutdown(t *testing.T) {
	p := New(2, 10)
	var count atomic.Int32
	for i := 0; i < 5; i++ {
		if err := p.Submit(func(ctx context.Context) { count.Add(1) }); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	shutdown(t, p)

	if got := count.Load(); got != 5 {
		t.Fatalf("count = %d, want 5", got)
	}
	if s := p.Stats(); s.Completed != 5 || s.Active != 0 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestSubmitAfterShutdown(t *testing.T) {
	p := New(1, 1)
	shutdown(t, p)

	if err := p.Submit(func(ctx context.Context) {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if p.Stats().Rejected != 1 {
		t.Fatal("rejection not counted")
	}
}

func TestQueueFull(t *testing.T) {
	p := New(1, 1)
	blocker := make(chan struct{})
	started := make(chan struct{})
	p.Submit(func(ctx context.Context) {
		close(started)
		<-blocker
	})
	<-started
	if err := p.Submit(func(ctx context.Context) {}); err != nil {
		t.Fatalf("queue should have room for one task: %v", err)
	}

	if err := p.Submit(func(ctx context.Context) {}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	close(blocker)
	shutdown(t, p)
}

func TestTaskContextCancelledOnShutdown(t *testing.T) {
	p := New(1, 10)
	poolCtx := p.Context()
	if poolCtx.Err() != nil {
		t.Fatal("context cancelled too early")
	}

	var sawLive atomic.Bool
	p.Submit(func(ctx context.Context) { sawLive.Store(ctx.Err() == nil) })
	shutdown(t, p)

	if !sawLive.Load() {
		t.Fatal("tasks should run with a live context while draining")
	}
	if poolCtx.Err() == nil {
		t.Fatal("context should be cancelled after Shutdown")
	}
}

func TestDrainRespectsDeadline(t *testing.T) {
	p := New(1, 10)
	blocker := make(chan struct{})
	defer close(blocker)
	p.Submit(func(ctx context.Context) { <-blocker })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	if p.Drain(ctx) {
		t.Fatal("Drain should report a timeout")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("Drain took %v", elapsed)
	}
}

func TestSingleWorkerRunsEverything(t *testing.T) {
	p := New(1, 10)
	var count atomic.Int32
	for i := 0; i < 5; i++ {
		p.Submit(func(ctx context.Context) {
			time.Sleep(time.Millisecond)
			count.Add(1)
		})
	}
	shutdown(t, p)
	if got := count.Load(); got != 5 {
		t.Fatalf("count = %d, want 5", got)
	}
}

func TestPanicRecovery(t *testing.T) {
	p := New(1, 10)
	var count atomic.Int32
	p.Submit(func(ctx context.Context) { panic("test panic") })
	p.Submit(func(ctx context.Context) { count.Add(1) })
	shutdown(t, p)

	if got := count.Load(); got != 1 {
		t.Fatalf("task after panic: count = %d, want 1", got)
	}
	if s := p.Stats(); s.Panicked != 1 || s.Completed != 1 {
		t.Fatalf("stats = %+v", s)
	}
}
