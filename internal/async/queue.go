package async

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrQueueClosed is returned by Enqueue after Shutdown started.
	ErrQueueClosed = errors.New("queue is shutting down")
	// ErrQueueFull is returned when the in-memory buffer stays full until ctx ends.
	ErrQueueFull = errors.New("queue full")
)

// Job is the smallest useful unit: one conversion to run.
type Job struct {
	JobID       uuid.UUID `json:"job_id"`
	SubmittedAt time.Time `json:"submitted_at"`
	TraceID     string    `json:"trace_id,omitempty"`
}

// Handler runs one job. *core.Processor satisfies it.
type Handler interface {
	Process(ctx context.Context, jobID uuid.UUID) error
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, jobID uuid.UUID) error

func (f HandlerFunc) Process(ctx context.Context, jobID uuid.UUID) error { return f(ctx, jobID) }

type options struct {
	workers int
	size    int
	timeout time.Duration
}

type Option func(*options)

func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.size = n
		}
	}
}

// WithProcessTimeout sets the per-job time limit.
func WithProcessTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{workers: 2, size: 128, timeout: 6 * time.Minute}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
