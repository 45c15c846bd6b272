package messagequeue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MemoryQueue is an in-process driver: a buffered channel drained by a
// worker pool. Jobs do not survive a restart.
type MemoryQueue struct {
	logger  *slog.Logger
	workers int
	backoff time.Duration

	mu       sync.RWMutex
	handlers map[string]Handler
	jobs     chan Job
	closed   bool
	timers   map[*time.Timer]struct{}

	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
}

// NewMemoryQueue creates an in-memory queue with the given pool size and
// buffer capacity.
func NewMemoryQueue(workers, buffer int, retryBackoff time.Duration, logger *slog.Logger) *MemoryQueue {
	if workers <= 0 {
		workers = 1
	}
	if buffer <= 0 {
		buffer = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryQueue{
		logger:   logger,
		workers:  workers,
		backoff:  retryBackoff,
		handlers: make(map[string]Handler),
		jobs:     make(chan Job, buffer),
		timers:   make(map[*time.Timer]struct{}),
	}
}

// Add enqueues a job without blocking. A full buffer is reported as ErrQueueFull.
func (q *MemoryQueue) Add(ctx context.Context, name string, data any, opts JobOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	job, err := NewJob(name, data, opts)
	if err != nil {
		return err
	}
	return q.enqueue(job)
}

func (q *MemoryQueue) enqueue(job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Work registers the handler of a job name. Registering twice replaces the
// previous handler.
func (q *MemoryQueue) Work(name string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = handler
}

// Start launches the worker pool. Handlers run with a context derived from ctx.
func (q *MemoryQueue) Start(ctx context.Context) error {
	q.startOnce.Do(func() {
		ctx, q.cancel = context.WithCancel(ctx)
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go q.workerLoop(ctx)
		}
		q.logger.Info("message queue started", slog.String("driver", DriverMemory), slog.Int("workers", q.workers))
	})
	return nil
}

func (q *MemoryQueue) workerLoop(ctx context.Context) {
	defer q.wg.Done()
	for job := range q.jobs {
		q.process(ctx, job)
	}
}

func (q *MemoryQueue) process(ctx context.Context, job Job) {
	q.mu.RLock()
	handler, ok := q.handlers[job.Name]
	q.mu.RUnlock()
	if !ok {
		q.logger.Warn("no handler for job", slog.String("job", job.Name), slog.String("job_id", job.ID))
		return
	}

	err := runHandler(ctx, handler, job)
	if err == nil {
		return
	}

	if !job.CanRetry() {
		q.logger.Error("job failed, retries exhausted",
			slog.String("job", job.Name),
			slog.String("job_id", job.ID),
			slog.Int("attempt", job.Attempt),
			slog.String("error", err.Error()),
		)
		return
	}

	job.Attempt++
	delay := backoff(q.backoff, job.Attempt)
	q.logger.Warn("job failed, retrying",
		slog.String("job", job.Name),
		slog.String("job_id", job.ID),
		slog.Int("attempt", job.Attempt),
		slog.Duration("delay", delay),
		slog.String("error", err.Error()),
	)
	q.retryAfter(job, delay)
}

func (q *MemoryQueue) retryAfter(job Job, delay time.Duration) {
	if delay <= 0 {
		if err := q.enqueue(job); err != nil {
			q.logger.Error("failed to requeue job", slog.String("job_id", job.ID), slog.String("error", err.Error()))
		}
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		q.mu.Unlock()
		if err := q.enqueue(job); err != nil {
			q.logger.Error("failed to requeue job", slog.String("job_id", job.ID), slog.String("error", err.Error()))
		}
	})
	q.timers[timer] = struct{}{}
}

// Close stops accepting jobs, drops pending retries and waits for the
// workers to drain the buffer.
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		for timer := range q.timers {
			timer.Stop()
		}
		q.timers = nil
		close(q.jobs)
		q.mu.Unlock()

		q.wg.Wait()
		if q.cancel != nil {
			q.cancel()
		}
	})
	return nil
}
