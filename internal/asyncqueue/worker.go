// Package asyncqueue provides a fixed-size worker pool with a bounded task
// queue. Submission never blocks: when the queue is full the task is
// rejected and the caller decides what to do.
package asyncqueue

import (
	"context"
	"sync"
	"time"

	"github.com/Rainbow-0328/dianping/internal/logging"
)

// Task is a unit of background work. The context carries the per-task
// timeout and is cancelled when the task returns.
type Task func(ctx context.Context)

// Config configures the worker pool.
type Config struct {
	Name        string
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
}

// WorkerPool runs submitted tasks on a fixed number of goroutines.
type WorkerPool struct {
	cfg   Config
	tasks chan Task

	mu      sync.RWMutex
	started bool
	stopped bool
	wg      sync.WaitGroup
}

// New creates a worker pool. Call Start before tasks are executed.
func New(cfg Config) *WorkerPool {
	if cfg.Name == "" {
		cfg.Name = "asyncqueue"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 100
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Second
	}
	return &WorkerPool{
		cfg:   cfg,
		tasks: make(chan Task, cfg.QueueSize),
	}
}

// Start launches worker goroutines.
func (w *WorkerPool) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.stopped {
		return
	}
	w.started = true

	for i := 0; i < w.cfg.Workers; i++ {
		w.wg.Add(1)
		go w.worker()
	}
	logging.Op().Info("worker pool started", "pool", w.cfg.Name, "workers", w.cfg.Workers, "queue", w.cfg.QueueSize)
}

// Submit enqueues task and reports whether it was accepted. It returns false
// when the queue is full or the pool has been stopped.
func (w *WorkerPool) Submit(task Task) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return false
	}
	select {
	case w.tasks <- task:
		return true
	default:
		return false
	}
}

// Pending returns the number of queued tasks not yet picked up.
func (w *WorkerPool) Pending() int {
	return len(w.tasks)
}

// Stop rejects new submissions, runs the tasks already queued and waits for
// the workers to exit.
func (w *WorkerPool) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	close(w.tasks)
	started := w.started
	w.mu.Unlock()

	if !started {
		return
	}
	w.wg.Wait()
	logging.Op().Info("worker pool stopped", "pool", w.cfg.Name)
}

func (w *WorkerPool) worker() {
	defer w.wg.Done()
	for task := range w.tasks {
		w.run(task)
	}
}

func (w *WorkerPool) run(task Task) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.TaskTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			logging.Op().Error("worker pool task panicked", "pool", w.cfg.Name, "panic", r)
		}
	}()
	task(ctx)
}
