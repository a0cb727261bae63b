package core

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/deckconvert/constants"
	"github.com/joseph-ayodele/deckconvert/internal/async"
)

func TestRequeueUnfinished_FinishesLeftoverJobs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	queued := f.queued(t)
	running := f.queued(t)
	require.NoError(t, f.repo.MarkRunning(ctx, running))
	done := f.queued(t)
	require.NoError(t, f.repo.MarkSucceeded(ctx, done, "old.pdf"))

	conv := &fakeConverter{out: []byte("%PDF-1.7")}
	q := async.NewProcessorQueue(NewProcessor(nil, f.repo, f.store, conv), nil, async.WithWorkers(1))

	n, err := RequeueUnfinished(ctx, f.repo, q, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	drain, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	q.Shutdown(drain)

	for id, attempts := range map[uuid.UUID]int{queued: 1, running: 2} {
		job, err := f.repo.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, constants.JobStatusSucceeded, job.Status, id.String())
		assert.Equal(t, attempts, job.Attempts, id.String())
	}
	old, err := f.repo.Get(ctx, done)
	require.NoError(t, err)
	assert.Equal(t, "old.pdf", old.ResultKey)
	assert.Equal(t, 2, conv.calls)
}

func TestRequeueUnfinished_QueueClosed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.queued(t)

	q := async.NewProcessorQueue(async.HandlerFunc(func(context.Context, uuid.UUID) error { return nil }), nil)
	q.Shutdown(ctx)

	n, err := RequeueUnfinished(ctx, f.repo, q, nil)
	assert.ErrorIs(t, err, async.ErrQueueClosed)
	assert.Zero(t, n)
}
