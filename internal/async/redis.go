package async

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue is a broker-backed queue on a redis list. Producers LPUSH; each
// worker moves one entry onto a processing list with BLMOVE and removes it once
// the job ran, so entries left behind by a crash are requeued on start.
type RedisQueue struct {
	client     *redis.Client
	key        string
	processing string
	handler    Handler
	logger     *slog.Logger
	workers    int
	timeout    time.Duration
	pollWait   time.Duration

	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func NewRedisQueue(ctx context.Context, client *redis.Client, key string, handler Handler, logger *slog.Logger, opts ...Option) (*RedisQueue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := buildOptions(opts)
	q := &RedisQueue{
		client:     client,
		key:        key,
		processing: key + ":processing",
		handler:    handler,
		logger:     logger,
		workers:    o.workers,
		timeout:    o.timeout,
		pollWait:   time.Second,
	}
	if err := q.recover(ctx); err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	q.stop = cancel
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(runCtx, i+1)
	}
	return q, nil
}

// recover moves entries stranded on the processing list back onto the queue.
func (q *RedisQueue) recover(ctx context.Context) error {
	n := 0
	for {
		err := q.client.RPopLPush(ctx, q.processing, q.key).Err()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return fmt.Errorf("requeue stranded jobs: %w", err)
		}
		n++
	}
	if n > 0 {
		q.logger.Warn("requeued stranded jobs", "count", n, "key", q.key)
	}
	return nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", q.key, err)
	}
	q.logger.Info("queued job for processing", "job_id", job.JobID, "key", q.key)
	return nil
}

func (q *RedisQueue) worker(ctx context.Context, workerID int) {
	defer q.wg.Done()
	q.logger.Info("worker started", "worker_id", workerID, "key", q.key)
	defer q.logger.Info("worker stopped", "worker_id", workerID)

	for ctx.Err() == nil {
		payload, err := q.client.BLMove(ctx, q.key, q.processing, "RIGHT", "LEFT", q.pollWait).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.logger.Error("dequeue failed", "worker_id", workerID, "error", err)
			sleep(ctx, q.pollWait)
			continue
		}

		job, err := decodeJob(payload)
		if err != nil {
			q.logger.Error("dropping malformed job", "worker_id", workerID, "payload", payload, "error", err)
		} else {
			run(q.handler, q.logger, q.timeout, workerID, job)
		}
		if err := q.client.LRem(context.Background(), q.processing, 1, payload).Err(); err != nil {
			q.logger.Error("ack failed", "worker_id", workerID, "error", err)
		}
	}
}

// Shutdown stops the workers after their current job and waits for them or ctx.
func (q *RedisQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	q.stop()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("workers stopped, shutdown complete")
	}
}

func encodeJob(job Job) (string, error) {
	b, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}
	return string(b), nil
}

func decodeJob(payload string) (Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	if job.JobID == uuid.Nil {
		return Job{}, errors.New("decode job: missing job_id")
	}
	return job, nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
