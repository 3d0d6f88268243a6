package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Task is one unit of background work. ctx is cancelled when the pool's run
// context ends.
type Task func(ctx context.Context)

const (
	stateIdle = iota
	stateRunning
	stateClosed
)

// Pool runs tasks on a fixed number of workers fed by a bounded queue.
// Submission never blocks; a full queue rejects the task.
type Pool struct {
	workers int
	queue   chan Task
	log     *slog.Logger

	mu    sync.RWMutex
	state int
	group *errgroup.Group

	inFlight  atomic.Int64
	submitted atomic.Int64
	rejected  atomic.Int64
	completed atomic.Int64
	panicked  atomic.Int64
}

// Stats is a point-in-time view of pool activity.
type Stats struct {
	Workers   int   `json:"workers"`
	Queued    int   `json:"queued"`
	InFlight  int64 `json:"in_flight"`
	Submitted int64 `json:"submitted"`
	Rejected  int64 `json:"rejected"`
	Completed int64 `json:"completed"`
	Panicked  int64 `json:"panicked"`
}

// New creates a pool. workers is clamped to at least one and queueSize to at
// least zero.
func New(workers int, queueSize int, log *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if log == nil {
		log = slog.Default()
	}

	return &Pool{
		workers: workers,
		queue:   make(chan Task, queueSize),
		log:     log.With("component", "worker.pool"),
	}
}

// Start launches the workers. Tasks observe ctx; cancelling it cancels
// in-flight work but queued tasks are still drained on Close.
func (p *Pool) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case stateRunning:
		return errors.New("worker pool already started")
	case stateClosed:
		return errors.New("worker pool is closed")
	}

	p.group = &errgroup.Group{}
	for i := 0; i < p.workers; i++ {
		id := i
		p.group.Go(func() error {
			p.work(ctx, id)
			return nil
		})
	}
	p.state = stateRunning

	p.log.Info("Worker pool started", "workers", p.workers, "queue_size", cap(p.queue))
	return nil
}

// TrySubmit enqueues task without blocking. It returns false when the pool
// is not running or the queue is full.
func (p *Pool) TrySubmit(task Task) bool {
	if task == nil {
		return false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.state != stateRunning {
		p.rejected.Add(1)
		return false
	}

	select {
	case p.queue <- task:
		p.submitted.Add(1)
		return true
	default:
		p.rejected.Add(1)
		return false
	}
}

// Close stops intake and waits until queued and in-flight tasks finish.
// It is safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.state == stateClosed {
		p.mu.Unlock()
		return
	}
	wasRunning := p.state == stateRunning
	p.state = stateClosed
	close(p.queue)
	group := p.group
	p.mu.Unlock()

	if wasRunning && group != nil {
		_ = group.Wait()
	}

	p.log.Info("Worker pool stopped", "completed", p.completed.Load(), "rejected", p.rejected.Load())
}

// Running reports whether the pool accepts tasks.
func (p *Pool) Running() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state == stateRunning
}

// Stats reports current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.workers,
		Queued:    len(p.queue),
		InFlight:  p.inFlight.Load(),
		Submitted: p.submitted.Load(),
		Rejected:  p.rejected.Load(),
		Completed: p.completed.Load(),
		Panicked:  p.panicked.Load(),
	}
}

func (p *Pool) work(ctx context.Context, id int) {
	for task := range p.queue {
		p.run(ctx, id, task)
	}
}

func (p *Pool) run(ctx context.Context, id int, task Task) {
	p.inFlight.Add(1)
	defer func() {
		p.inFlight.Add(-1)
		p.completed.Add(1)
		if recovered := recover(); recovered != nil {
			p.panicked.Add(1)
			p.log.Error("Task panicked", "worker", id, "error", fmt.Sprint(recovered))
		}
	}()

	task(ctx)
}
