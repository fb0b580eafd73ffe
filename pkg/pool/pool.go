// Package pool provides a bounded worker pool for backend calls. At most K
// tasks execute concurrently; excess submissions queue in FIFO order and are
// never dropped. A slow backend degrades latency, not correctness.
package pool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for the worker pool.
var (
	poolTasksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tripquote_pool_tasks_total",
		Help: "Total number of tasks executed by the worker pool",
	})

	poolPanicsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tripquote_pool_panics_total",
		Help: "Total number of panics recovered inside pool tasks",
	})

	poolInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tripquote_pool_in_flight",
		Help: "Number of tasks currently executing",
	})

	poolQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tripquote_pool_queue_depth",
		Help: "Number of tasks waiting for a worker",
	})
)

// ErrClosed is returned by Submit after the pool has been closed.
var ErrClosed = errors.New("pool closed")

// Task is one unit of work. The returned error is delivered on the task's
// result channel; it is never propagated into the pool itself.
type Task func() error

type queuedTask struct {
	run    Task
	result chan error
}

// Config holds worker pool configuration.
type Config struct {
	// Workers is the maximum number of concurrently executing tasks.
	Workers int

	// QueueSize is the capacity of the FIFO submission queue. Submit blocks
	// once the queue is full, applying backpressure to the caller.
	QueueSize int
}

// DefaultConfig returns a safe default pool configuration.
func DefaultConfig() Config {
	return Config{
		Workers:   10,
		QueueSize: 100,
	}
}

// Pool executes tasks with bounded concurrency.
type Pool struct {
	tasks  chan queuedTask
	wg     sync.WaitGroup
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// New creates a pool and starts its workers.
func New(cfg Config, logger zerolog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}

	p := &Pool{
		tasks:  make(chan queuedTask, cfg.QueueSize),
		logger: logger.With().Str("component", "pool").Logger(),
	}

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.logger.Debug().
		Int("workers", cfg.Workers).
		Int("queue_size", cfg.QueueSize).
		Msg("Worker pool started")

	return p
}

// Submit enqueues a task and returns a channel that receives the task's
// result exactly once. Submit blocks when the queue is full and returns
// ErrClosed after Close.
func (p *Pool) Submit(task Task) (<-chan error, error) {
	if task == nil {
		return nil, fmt.Errorf("task cannot be nil")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}

	// Enqueue under the lock so Close cannot close the channel mid-send.
	// Workers keep draining, so a full queue blocks here only until a slot
	// frees; submission order stays FIFO.
	result := make(chan error, 1)
	poolQueueDepth.Inc()
	p.tasks <- queuedTask{run: task, result: result}

	return result, nil
}

// Close stops intake, drains queued tasks, and waits for workers to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.tasks)
	p.wg.Wait()

	p.logger.Debug().Msg("Worker pool closed")
}

// worker drains the task queue until it is closed.
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for t := range p.tasks {
		poolQueueDepth.Dec()
		poolInFlight.Inc()

		err := p.runTask(t.run, id)

		poolInFlight.Dec()
		poolTasksTotal.Inc()

		t.result <- err
	}
}

// runTask executes one task, converting a panic into an error so the
// worker goroutine survives.
func (p *Pool) runTask(task Task, workerID int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			poolPanicsTotal.Inc()
			p.logger.Error().
				Int("worker_id", workerID).
				Interface("panic", r).
				Msg("Recovered panic in pool task")
			err = fmt.Errorf("task panic: %v", r)
		}
	}()

	return task()
}
