package async

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/joseph-ayodele/deckconvert/internal/common"
)

// ProcessorQueue runs jobs on a fixed pool of in-process workers.
type ProcessorQueue struct {
	handler Handler
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch      chan Job
	closing chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	stop    sync.Once

	mu     sync.RWMutex
	closed bool
}

func NewProcessorQueue(handler Handler, logger *slog.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	o := buildOptions(opts)
	q := &ProcessorQueue{
		handler: handler,
		logger:  logger,
		workers: o.workers,
		timeout: o.timeout,
		ch:      make(chan Job, o.size),
		closing: make(chan struct{}),
	}
	q.start()
	return q
}

func (q *ProcessorQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker started", "worker_id", workerID)

				for job := range q.ch {
					run(q.handler, q.logger, q.timeout, workerID, job)
				}

				q.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

// run processes one job under the per-job time limit.
func run(h Handler, logger *slog.Logger, timeout time.Duration, workerID int, job Job) {
	ctx := common.WithJobID(context.Background(), job.JobID.String())
	if job.TraceID != "" {
		ctx = common.WithRequestID(ctx, job.TraceID)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	err := h.Process(ctx, job.JobID)
	if err != nil {
		logger.Error("processing failed", "worker_id", workerID, "job_id", job.JobID, "error", err)
		return
	}
	logger.Info("processed job successfully",
		"worker_id", workerID,
		"job_id", job.JobID,
		"duration_ms", time.Since(start).Milliseconds(),
		"queued_ms", start.Sub(job.SubmittedAt).Milliseconds(),
	)
}

// Enqueue hands job to a worker. When the buffer is full it waits for room
// until ctx ends or Shutdown starts.
func (q *ProcessorQueue) Enqueue(ctx context.Context, job Job) error {
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	// The read lock only keeps ch open for the send; Shutdown closes closing
	// before taking the write lock, which releases any waiter below.
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "job_id", job.JobID)
		return ErrQueueClosed
	}
	select {
	case q.ch <- job:
		q.logger.Info("queued job for processing", "job_id", job.JobID)
		return nil
	default:
	}
	q.logger.Warn("queue full, applying backpressure", "job_id", job.JobID)
	select {
	case q.ch <- job:
		return nil
	case <-q.closing:
		return ErrQueueClosed
	case <-ctx.Done():
		return ErrQueueFull
	}
}

// Shutdown stops accepting jobs and waits for queued ones to finish or ctx to end.
func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	q.stop.Do(func() { close(q.closing) })
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}
