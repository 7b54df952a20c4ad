package async

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/tally/pkg/observability"
)

var (
	// ErrQueueFull is returned by Submit when the backlog is at capacity
	ErrQueueFull = errors.New("task queue full")
	// ErrQueueClosed is returned by Submit after Shutdown
	ErrQueueClosed = errors.New("task queue shut down")
)

// Task is a unit of background work
type Task func(ctx context.Context) error

// TaskQueue is a bounded queue drained by a fixed set of workers. Submit never
// blocks: callers on the request path learn immediately when work is dropped.
type TaskQueue struct {
	name    string
	timeout time.Duration
	logger  *observability.Logger
	depth   prometheus.Gauge

	tasks chan Task
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// QueueOption configures a TaskQueue
type QueueOption func(*TaskQueue)

// WithDepthGauge reports the backlog size on g
func WithDepthGauge(g prometheus.Gauge) QueueOption {
	return func(q *TaskQueue) { q.depth = g }
}

// WithLogger sets the logger used for task failures
func WithLogger(l *observability.Logger) QueueOption {
	return func(q *TaskQueue) { q.logger = l }
}

// NewTaskQueue starts workers goroutines draining a queue of capacity size.
// Each task runs with its own timeout.
func NewTaskQueue(name string, workers, size int, timeout time.Duration, opts ...QueueOption) *TaskQueue {
	if workers < 1 {
		workers = 1
	}
	if size < 1 {
		size = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &TaskQueue{
		name:    name,
		timeout: timeout,
		logger:  observability.NopLogger(),
		tasks:   make(chan Task, size),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.WithField("queue", name)

	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Submit enqueues t without blocking
func (q *TaskQueue) Submit(t Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.tasks <- t:
		q.observeDepth()
		return nil
	default:
		return ErrQueueFull
	}
}

// Len returns the current backlog
func (q *TaskQueue) Len() int {
	return len(q.tasks)
}

func (q *TaskQueue) observeDepth() {
	if q.depth != nil {
		q.depth.Set(float64(len(q.tasks)))
	}
}

func (q *TaskQueue) worker() {
	defer q.wg.Done()
	for t := range q.tasks {
		q.observeDepth()
		q.run(t)
	}
}

func (q *TaskQueue) run(t Task) {
	ctx, cancel := context.WithTimeout(q.ctx, q.timeout)
	defer cancel()
	defer observability.RecoverPanic(q.logger, q.name)

	if err := t(ctx); err != nil {
		q.logger.WithError(err).Warn("queued task failed")
	}
}

// Shutdown stops accepting work and waits up to timeout for the backlog to drain.
// Tasks still running at the deadline have their context cancelled.
func (q *TaskQueue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return errors.New("task queue " + q.name + " shutdown timed out, pending tasks cancelled")
	}
}
