// Package poller turns a conversion job id into exactly one terminal outcome by
// polling the service's status endpoint on a fixed cadence, bounded by a timeout.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joseph-ayodele/deckconvert/constants"
	"github.com/joseph-ayodele/deckconvert/internal/client"
)

// ErrInvalidConfig is returned by New when the cadence or bound is unusable.
var ErrInvalidConfig = errors.New("poller: invalid configuration")

// StatusFetcher reads the current status of a job. *client.Client satisfies it.
type StatusFetcher interface {
	Status(ctx context.Context, jobID string) (client.StatusResponse, error)
}

// Config holds the poll cadence and the overall bound. Both are required.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

func (c Config) validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %s", ErrInvalidConfig, c.Interval)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive, got %s", ErrInvalidConfig, c.Timeout)
	}
	return nil
}

// Outcome is the terminal result of one polling run.
type Outcome struct {
	URL   string // set when the conversion finished
	Error string // set when it failed, timed out or the poll broke
}

// Done reports whether the conversion finished successfully.
func (o Outcome) Done() bool { return o.Error == "" && o.URL != "" }

func done(url string) Outcome   { return Outcome{URL: url} }
func failed(msg string) Outcome { return Outcome{Error: msg} }

// Poller starts polling runs. It is safe to share between runs.
type Poller struct {
	fetcher StatusFetcher
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Poller)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock replaces the time source used for the elapsed-time check.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

// New validates cfg and returns a Poller. There are no fallback values:
// a zero interval or timeout is rejected.
func New(fetcher StatusFetcher, cfg Config, opts ...Option) (*Poller, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("%w: nil status fetcher", ErrInvalidConfig)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	p := &Poller{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Run is one activation of the poller for a single job.
type Run struct {
	jobID   string
	outcome chan Outcome
	cancel  context.CancelFunc
	exited  chan struct{}
	stop    sync.Once
	polls   atomic.Int32
}

// Start begins polling jobID without blocking. The first status request is
// issued one interval after Start, never immediately.
func (p *Poller) Start(ctx context.Context, jobID string) *Run {
	ctx, cancel := context.WithCancel(ctx)
	r := &Run{
		jobID:   jobID,
		outcome: make(chan Outcome, 1),
		cancel:  cancel,
		exited:  make(chan struct{}),
	}
	go r.loop(ctx, p)
	return r
}

// Outcome delivers the single terminal outcome. The channel is closed once the
// run has exited, with or without a value.
func (r *Run) Outcome() <-chan Outcome { return r.outcome }

// Polls returns the number of status requests issued so far.
func (r *Run) Polls() int { return int(r.polls.Load()) }

// Stop deactivates the run and waits for its goroutine to exit. Any outcome
// not yet received is discarded, so nothing is observed after Stop returns.
// Stop is idempotent and safe after the run finished on its own.
func (r *Run) Stop() {
	r.stop.Do(func() {
		r.cancel()
		<-r.exited
		select {
		case <-r.outcome:
		default:
		}
	})
}

func (r *Run) loop(ctx context.Context, p *Poller) {
	defer close(r.exited)
	defer close(r.outcome)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	start := p.now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		out, terminal := r.tick(ctx, p, start)
		if !terminal {
			continue
		}
		ticker.Stop()
		if ctx.Err() != nil {
			return
		}
		r.outcome <- out
		if out.Done() {
			p.logger.Info("poller.done", "job_id", r.jobID, "polls", r.Polls())
		} else {
			p.logger.Warn("poller.failed", "job_id", r.jobID, "polls", r.Polls(), "error", out.Error)
		}
		return
	}
}

// tick runs one poll step. The timeout check happens before the request.
func (r *Run) tick(ctx context.Context, p *Poller, start time.Time) (Outcome, bool) {
	elapsed := p.now().Sub(start)
	if elapsed > p.cfg.Timeout {
		return failed(constants.MsgTimedOut), true
	}

	r.polls.Add(1)
	st, err := p.fetcher.Status(ctx, r.jobID)
	if err != nil {
		p.logger.Debug("poller.tick.error", "job_id", r.jobID, "error", err)
		return failed(constants.MsgPollNetworkError), true
	}
	p.logger.Debug("poller.tick", "job_id", r.jobID, "status", st.Status, "elapsed_ms", elapsed.Milliseconds())

	switch {
	case st.Status == constants.RemoteStatusDone && st.URL != "":
		return done(st.URL), true
	case st.Status == constants.RemoteStatusError:
		if st.Error != "" {
			return failed(st.Error), true
		}
		return failed(constants.MsgConversionFailed), true
	default:
		return Outcome{}, false
	}
}
