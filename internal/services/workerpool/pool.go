// Package workerpool provides a bounded goroutine pool for
// fire-and-forget dispatch work such as registry deliveries.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Pool runs submitted tasks on a fixed number of worker goroutines.
type Pool struct {
	workers    int
	taskQueue  chan Task
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	mu         sync.RWMutex
	running    bool
	dropOnFull bool
	executed   atomic.Int64
	failed     atomic.Int64
	dropped    atomic.Int64
}

// Task is a unit of work. Execute receives the pool's context, which
// stays live until every queued task has drained.
type Task struct {
	ID      string
	Execute func(ctx context.Context) error
}

// Config defines pool configuration options.
type Config struct {
	Workers    int
	QueueSize  int
	DropOnFull bool
}

// DefaultConfig returns the defaults used by the registry dispatcher.
func DefaultConfig() Config {
	return Config{
		Workers:    4,
		QueueSize:  64,
		DropOnFull: false,
	}
}

// New creates a worker pool with the specified configuration.
func New(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers:    cfg.Workers,
		taskQueue:  make(chan Task, cfg.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
		dropOnFull: cfg.DropOnFull,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("pool already running")
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	p.running = true
	return nil
}

// Stop drains the queue, waits for in-flight tasks, then cancels the
// pool context.
func (p *Pool) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return fmt.Errorf("pool not running")
	}
	p.running = false
	p.mu.Unlock()

	close(p.taskQueue)
	p.wg.Wait()
	p.cancel()

	return nil
}

// Submit adds a task to the pool for execution. With DropOnFull set
// the call never blocks; a full queue rejects the task instead.
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	if !p.running {
		p.mu.RUnlock()
		return fmt.Errorf("pool not running")
	}
	p.mu.RUnlock()

	if p.dropOnFull {
		select {
		case p.taskQueue <- task:
			return nil
		default:
			p.dropped.Add(1)
			return fmt.Errorf("task queue full, task dropped")
		}
	}

	select {
	case p.taskQueue <- task:
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("pool shutting down")
	}
}

// IsRunning reports whether the pool accepts tasks.
func (p *Pool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for task := range p.taskQueue {
		if task.Execute == nil {
			continue
		}
		if err := task.Execute(p.ctx); err != nil {
			p.failed.Add(1)
		} else {
			p.executed.Add(1)
		}
	}
}

// Stats contains runtime counters for the pool.
type Stats struct {
	Running  bool  `json:"running"`
	Workers  int   `json:"workers"`
	Queued   int   `json:"queued"`
	Capacity int   `json:"capacity"`
	Executed int64 `json:"executed"`
	Failed   int64 `json:"failed"`
	Dropped  int64 `json:"dropped"`
}

func (p *Pool) Stats() Stats {
	return Stats{
		Running:  p.IsRunning(),
		Workers:  p.workers,
		Queued:   len(p.taskQueue),
		Capacity: cap(p.taskQueue),
		Executed: p.executed.Load(),
		Failed:   p.failed.Load(),
		Dropped:  p.dropped.Load(),
	}
}
