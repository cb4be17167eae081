package asyncqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPool_RunsTasks(t *testing.T) {
	p := New(Config{Workers: 4, QueueSize: 16})
	p.Start()

	var done atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		if !p.Submit(func(ctx context.Context) {
			defer wg.Done()
			done.Add(1)
		}) {
			t.Fatal("submit should be accepted")
		}
	}
	wg.Wait()
	p.Stop()

	if done.Load() != 10 {
		t.Fatalf("expected 10 tasks run, got %d", done.Load())
	}
}

func TestWorkerPool_RejectsWhenFull(t *testing.T) {
	p := New(Config{Workers: 1, QueueSize: 1})
	p.Start()
	defer p.Stop()

	release := make(chan struct{})
	running := make(chan struct{})
	p.Submit(func(ctx context.Context) {
		close(running)
		<-release
	})
	<-running

	if !p.Submit(func(ctx context.Context) {}) {
		t.Fatal("queue slot should accept one task")
	}
	if p.Submit(func(ctx context.Context) {}) {
		t.Fatal("full queue should reject")
	}
	if p.Pending() != 1 {
		t.Fatalf("expected 1 pending task, got %d", p.Pending())
	}
	close(release)
}

func TestWorkerPool_BoundsConcurrency(t *testing.T) {
	p := New(Config{Workers: 3, QueueSize: 64})
	p.Start()

	var current, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		p.Submit(func(ctx context.Context) {
			defer wg.Done()
			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			current.Add(-1)
		})
	}
	wg.Wait()
	p.Stop()

	if peak.Load() > 3 {
		t.Fatalf("expected at most 3 concurrent tasks, saw %d", peak.Load())
	}
}

func TestWorkerPool_StopDrainsAndRejects(t *testing.T) {
	p := New(Config{Workers: 1, QueueSize: 8})

	var done atomic.Int32
	for i := 0; i < 5; i++ {
		p.Submit(func(ctx context.Context) { done.Add(1) })
	}
	p.Start()
	p.Stop()

	if done.Load() != 5 {
		t.Fatalf("expected queued tasks drained on stop, got %d", done.Load())
	}
	if p.Submit(func(ctx context.Context) {}) {
		t.Fatal("stopped pool should reject submissions")
	}
	p.Stop()
}

func TestWorkerPool_SurvivesPanic(t *testing.T) {
	p := New(Config{Workers: 1, QueueSize: 4})
	p.Start()

	p.Submit(func(ctx context.Context) { panic("boom") })
	ran := make(chan struct{})
	p.Submit(func(ctx context.Context) { close(ran) })

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("worker should keep running after a task panics")
	}
	p.Stop()
}

func TestWorkerPool_TaskTimeout(t *testing.T) {
	p := New(Config{Workers: 1, QueueSize: 1, TaskTimeout: 10 * time.Millisecond})
	p.Start()

	errCh := make(chan error, 1)
	p.Submit(func(ctx context.Context) {
		<-ctx.Done()
		errCh <- ctx.Err()
	})

	select {
	case err := <-errCh:
		if err != context.DeadlineExceeded {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task context should time out")
	}
	p.Stop()
}
