// Package workerpool provides a bounded worker pool with retries for
// evaluation requests.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrStopped is returned by Submit after Stop
	ErrStopped = errors.New("worker pool is stopped")
	// ErrQueueFull is returned by Submit when the queue has no room
	ErrQueueFull = errors.New("task queue is full")
)

// Task represents a unit of work to be processed
type Task struct {
	ID      string
	Payload interface{}
	Context context.Context
	// Done receives the final result, after retries
	Done func(*Result)
}

// Result represents the outcome of task processing
type Result struct {
	TaskID  string
	Success bool
	Error   error
	Data    interface{}
	// Permanent marks a failure that retrying cannot fix
	Permanent bool
	Attempts  int
}

// WorkerFunc is the function signature for task processing
type WorkerFunc func(ctx context.Context, task *Task) *Result

// Config holds worker pool configuration
type Config struct {
	Workers    int
	QueueSize  int
	MaxRetries int
	// RetryDelay grows linearly with the attempt number
	RetryDelay              time.Duration
	GracefulShutdownTimeout time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Workers:                 16,
		QueueSize:               1024,
		MaxRetries:              3,
		RetryDelay:              100 * time.Millisecond,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

// Pool runs tasks on a fixed set of workers fed by a bounded queue
type Pool struct {
	cfg    Config
	fn     WorkerFunc
	logger *zap.Logger

	queue chan *Task
	wg    sync.WaitGroup

	// mu guards stopped against sends on the closed queue
	mu      sync.RWMutex
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
	active    atomic.Int64
}

// New creates a pool; zero Workers or QueueSize fall back to the defaults
func New(cfg Config, fn WorkerFunc, logger *zap.Logger) (*Pool, error) {
	if fn == nil {
		return nil, errors.New("worker function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.GracefulShutdownTimeout <= 0 {
		cfg.GracefulShutdownTimeout = def.GracefulShutdownTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:    cfg,
		fn:     fn,
		logger: logger,
		queue:  make(chan *Task, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start launches the workers
func (p *Pool) Start() {
	p.wg.Add(p.cfg.Workers)
	for i := 0; i < p.cfg.Workers; i++ {
		go p.work(i)
	}
	p.logger.Info("worker pool started",
		zap.Int("workers", p.cfg.Workers),
		zap.Int("queue_size", p.cfg.QueueSize))
}

// Submit queues a task without blocking
func (p *Pool) Submit(task *Task) error {
	return p.enqueue(context.Background(), task, false)
}

// SubmitWait queues a task, blocking while the queue is full, and waits for
// its final result
func (p *Pool) SubmitWait(ctx context.Context, task *Task) (*Result, error) {
	done := make(chan *Result, 1)
	callback := task.Done
	task.Done = func(r *Result) {
		if callback != nil {
			callback(r)
		}
		done <- r
	}

	if err := p.enqueue(ctx, task, true); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r, nil
	}
}

func (p *Pool) enqueue(ctx context.Context, task *Task, block bool) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}

	if !block {
		select {
		case p.queue <- task:
		default:
			return ErrQueueFull
		}
	} else {
		select {
		case p.queue <- task:
		case <-ctx.Done():
			return ctx.Err()
		case <-p.ctx.Done():
			return ErrStopped
		}
	}
	p.submitted.Add(1)
	return nil
}

// Stop drains queued tasks and waits for the workers up to the graceful
// shutdown timeout
func (p *Pool) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	timer := time.NewTimer(p.cfg.GracefulShutdownTimeout)
	defer timer.Stop()
	defer p.cancel()

	select {
	case <-drained:
		p.logger.Info("worker pool stopped")
		return nil
	case <-timer.C:
		p.logger.Warn("worker pool shutdown timed out", zap.Int("queued", len(p.queue)))
		return fmt.Errorf("worker pool shutdown timed out after %s", p.cfg.GracefulShutdownTimeout)
	}
}

func (p *Pool) work(id int) {
	defer p.wg.Done()
	p.active.Add(1)
	defer p.active.Add(-1)

	for task := range p.queue {
		ctx := task.Context
		if ctx == nil {
			ctx = p.ctx
		}

		result := p.attempt(ctx, task)
		if result.Success {
			p.completed.Add(1)
		} else {
			p.failed.Add(1)
			p.logger.Error("task failed",
				zap.String("task_id", task.ID),
				zap.Int("worker_id", id),
				zap.Int("attempts", result.Attempts),
				zap.Error(result.Error))
		}
		if task.Done != nil {
			task.Done(result)
		}
	}
}

// attempt runs a task until it succeeds, fails permanently or runs out of
// retries
func (p *Pool) attempt(ctx context.Context, task *Task) *Result {
	var last *Result
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return &Result{TaskID: task.ID, Error: err, Attempts: n - 1}
		}

		last = p.fn(ctx, task)
		if last == nil {
			last = &Result{Success: true}
		}
		last.TaskID = task.ID
		last.Attempts = n
		if last.Success || last.Permanent || n > p.cfg.MaxRetries {
			break
		}

		p.retried.Add(1)
		p.logger.Debug("retrying task",
			zap.String("task_id", task.ID),
			zap.Int("attempt", n),
			zap.Error(last.Error))

		backoff := time.NewTimer(p.cfg.RetryDelay * time.Duration(n))
		select {
		case <-ctx.Done():
			backoff.Stop()
			return &Result{TaskID: task.ID, Error: ctx.Err(), Attempts: n}
		case <-backoff.C:
		}
	}

	if !last.Success && !last.Permanent && p.cfg.MaxRetries > 0 {
		last.Error = fmt.Errorf("task failed after %d retries: %w", p.cfg.MaxRetries, last.Error)
	}
	return last
}

// Stats is a snapshot of pool counters
type Stats struct {
	TasksSubmitted int64
	TasksCompleted int64
	TasksFailed    int64
	TasksRetried   int64
	ActiveWorkers  int64
	QueueDepth     int
	QueueCapacity  int
	Workers        int
}

// Stats returns current pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		TasksSubmitted: p.submitted.Load(),
		TasksCompleted: p.completed.Load(),
		TasksFailed:    p.failed.Load(),
		TasksRetried:   p.retried.Load(),
		ActiveWorkers:  p.active.Load(),
		QueueDepth:     len(p.queue),
		QueueCapacity:  p.cfg.QueueSize,
		Workers:        p.cfg.Workers,
	}
}

// IsHealthy reports whether the queue is below 90% of its capacity
func (p *Pool) IsHealthy() bool {
	return len(p.queue)*10 < p.cfg.QueueSize*9
}
