package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/deckconvert/internal/async"
	"github.com/joseph-ayodele/deckconvert/internal/repository"
)

// RequeueUnfinished hands every QUEUED or RUNNING job back to q. It is meant
// for in-process queues at startup, where jobs accepted by an earlier process
// were lost with it. It returns how many jobs were queued again.
func RequeueUnfinished(ctx context.Context, jobsRepo repository.ConversionJobRepository, q async.Queue, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	jobs, err := jobsRepo.ListUnfinished(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unfinished jobs: %w", err)
	}
	n := 0
	for _, job := range jobs {
		if err := q.Enqueue(ctx, async.Job{JobID: job.ID, SubmittedAt: time.Now()}); err != nil {
			logger.Error("processor.requeue.failed", "job_id", job.ID, "status", job.Status, "err", err)
			return n, fmt.Errorf("requeue %s: %w", job.ID, err)
		}
		n++
	}
	if n > 0 {
		logger.Info("processor.requeued", "jobs", n)
	}
	return n, nil
}
