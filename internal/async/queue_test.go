package async

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/deckconvert/internal/common"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestProcessorQueue_RunsAndDrains(t *testing.T) {
	var mu sync.Mutex
	seen := map[uuid.UUID]bool{}
	h := HandlerFunc(func(ctx context.Context, id uuid.UUID) error {
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		seen[id] = true
		mu.Unlock()
		return nil
	})
	q := NewProcessorQueue(h, quietLogger(), WithWorkers(3), WithQueueSize(4))

	var ids []uuid.UUID
	for i := 0; i < 10; i++ {
		id := uuid.New()
		ids = append(ids, id)
		require.NoError(t, q.Enqueue(context.Background(), Job{JobID: id}))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	q.Shutdown(ctx)

	mu.Lock()
	defer mu.Unlock()
	for _, id := range ids {
		assert.True(t, seen[id], "job %s not processed before shutdown returned", id)
	}
}

func TestProcessorQueue_PropagatesIDs(t *testing.T) {
	type ids struct{ job, request string }
	got := make(chan ids, 1)
	h := HandlerFunc(func(ctx context.Context, _ uuid.UUID) error {
		got <- ids{common.JobIDFromContext(ctx), common.RequestIDFromContext(ctx)}
		return nil
	})
	q := NewProcessorQueue(h, quietLogger(), WithWorkers(1))
	defer q.Shutdown(context.Background())

	id := uuid.New()
	require.NoError(t, q.Enqueue(context.Background(), Job{JobID: id, TraceID: "req-1"}))
	select {
	case v := <-got:
		assert.Equal(t, ids{id.String(), "req-1"}, v)
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}
}

func TestProcessorQueue_EnqueueAfterShutdown(t *testing.T) {
	q := NewProcessorQueue(HandlerFunc(func(context.Context, uuid.UUID) error { return nil }), quietLogger())
	q.Shutdown(context.Background())
	q.Shutdown(context.Background())
	assert.ErrorIs(t, q.Enqueue(context.Background(), Job{JobID: uuid.New()}), ErrQueueClosed)
}

func TestProcessorQueue_AppliesTimeLimit(t *testing.T) {
	got := make(chan error, 1)
	h := HandlerFunc(func(ctx context.Context, _ uuid.UUID) error {
		<-ctx.Done()
		got <- ctx.Err()
		return ctx.Err()
	})
	q := NewProcessorQueue(h, quietLogger(), WithWorkers(1), WithProcessTimeout(20*time.Millisecond))
	defer q.Shutdown(context.Background())

	require.NoError(t, q.Enqueue(context.Background(), Job{JobID: uuid.New()}))
	select {
	case err := <-got:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("time limit not applied")
	}
}

func TestProcessorQueue_FullUntilContextEnds(t *testing.T) {
	release := make(chan struct{})
	var started atomic.Int32
	h := HandlerFunc(func(context.Context, uuid.UUID) error {
		started.Add(1)
		<-release
		return nil
	})
	q := NewProcessorQueue(h, quietLogger(), WithWorkers(1), WithQueueSize(1))

	require.NoError(t, q.Enqueue(context.Background(), Job{JobID: uuid.New()}))
	require.Eventually(t, func() bool { return started.Load() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, q.Enqueue(context.Background(), Job{JobID: uuid.New()}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Enqueue(ctx, Job{JobID: uuid.New()}), ErrQueueFull)

	close(release)
	q.Shutdown(context.Background())
	assert.Equal(t, int32(2), started.Load())
}

func TestProcessorQueue_ShutdownReleasesBlockedEnqueue(t *testing.T) {
	release := make(chan struct{})
	var started atomic.Int32
	h := HandlerFunc(func(context.Context, uuid.UUID) error {
		started.Add(1)
		<-release
		return nil
	})
	q := NewProcessorQueue(h, quietLogger(), WithWorkers(1), WithQueueSize(1))
	defer close(release)

	require.NoError(t, q.Enqueue(context.Background(), Job{JobID: uuid.New()}))
	require.Eventually(t, func() bool { return started.Load() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, q.Enqueue(context.Background(), Job{JobID: uuid.New()}))

	blocked := make(chan error, 1)
	go func() { blocked <- q.Enqueue(context.Background(), Job{JobID: uuid.New()}) }()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	stopped := make(chan struct{})
	go func() { q.Shutdown(ctx); close(stopped) }()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Shutdown did not honour its context while an enqueue was blocked")
	}
	select {
	case err := <-blocked:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked Enqueue was not released")
	}
	assert.ErrorIs(t, q.Enqueue(context.Background(), Job{JobID: uuid.New()}), ErrQueueClosed)
}

func TestJobCodec(t *testing.T) {
	job := Job{JobID: uuid.New(), SubmittedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), TraceID: "req-1"}
	payload, err := encodeJob(job)
	require.NoError(t, err)
	back, err := decodeJob(payload)
	require.NoError(t, err)
	assert.Equal(t, job.JobID, back.JobID)
	assert.True(t, job.SubmittedAt.Equal(back.SubmittedAt))

	_, err = decodeJob(`{"trace_id":"x"}`)
	assert.Error(t, err)
	_, err = decodeJob(`not json`)
	assert.Error(t, err)
}

// Runs against a real server when REDIS_URL is set.
func TestRedisQueue_Integration(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := NewRedisClient(ctx, url)
	require.NoError(t, err)
	defer client.Close()

	key := "deckconvert:test:" + uuid.NewString()
	defer client.Del(ctx, key, key+":processing")

	done := make(chan uuid.UUID, 1)
	h := HandlerFunc(func(_ context.Context, id uuid.UUID) error {
		done <- id
		return nil
	})
	q, err := NewRedisQueue(ctx, client, key, h, quietLogger(), WithWorkers(1))
	require.NoError(t, err)
	defer q.Shutdown(ctx)

	id := uuid.New()
	require.NoError(t, q.Enqueue(ctx, Job{JobID: id}))
	select {
	case got := <-done:
		assert.Equal(t, id, got)
	case <-time.After(5 * time.Second):
		t.Fatal("job not delivered")
	}
}
