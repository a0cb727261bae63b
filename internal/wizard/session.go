package wizard

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/joseph-ayodele/deckconvert/constants"
	"github.com/joseph-ayodele/deckconvert/internal/client"
	"github.com/joseph-ayodele/deckconvert/internal/poller"
)

// ErrSessionClosed is returned by actions sent after Close.
var ErrSessionClosed = errors.New("wizard: session closed")

// Uploader sends a presentation to the conversion service. *client.Client satisfies it.
type Uploader interface {
	Upload(ctx context.Context, filename string, r io.Reader) (string, error)
}

type action int

const (
	actionSelect action = iota
	actionUpload
	actionReset
	actionSnapshot
)

type request struct {
	action action
	file   File
	reply  chan reply
}

type reply struct {
	state State
	err   error
}

type uploadResult struct {
	gen   uint64
	jobID string
	err   error
}

// Session is the single writer of a Machine. It runs an event loop that
// applies user actions, performs the upload, owns the poller run for the
// current job, and publishes a State snapshot after every transition.
type Session struct {
	machine  *Machine
	uploader Uploader
	poller   *poller.Poller
	logger   *slog.Logger

	requests chan request
	uploads  chan uploadResult
	updates  chan State
	cancel   context.CancelFunc
	exited   chan struct{}

	// loop-owned
	gen          uint64
	cancelUpload context.CancelFunc
	run          *poller.Run
}

type SessionOption func(*Session)

// WithSessionLogger sets the structured logger.
func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMachine replaces the default Machine, e.g. to enable terminal overrides
// or the selection lock.
func WithMachine(m *Machine) SessionOption {
	return func(s *Session) {
		if m != nil {
			s.machine = m
		}
	}
}

// NewSession starts a session loop bound to ctx.
func NewSession(ctx context.Context, uploader Uploader, p *poller.Poller, opts ...SessionOption) *Session {
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		machine:  NewMachine(),
		uploader: uploader,
		poller:   p,
		logger:   slog.Default(),
		requests: make(chan request),
		uploads:  make(chan uploadResult, 1),
		updates:  make(chan State, 16),
		cancel:   cancel,
		exited:   make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	go s.loop(ctx)
	return s
}

// Updates delivers a snapshot after every transition. If the reader falls
// behind, the oldest pending snapshots are dropped.
func (s *Session) Updates() <-chan State { return s.updates }

// Select stages f. Any upload or polling in flight is abandoned first unless
// the machine was built with WithSelectionLock.
func (s *Session) Select(f File) (State, error) {
	return s.send(request{action: actionSelect, file: f})
}

// Upload confirms the staged file and starts the upload in the background.
// It is a no-op returning ErrNoFile when nothing is staged.
func (s *Session) Upload() (State, error) {
	return s.send(request{action: actionUpload})
}

// Reset abandons any upload or polling in flight and returns to idle.
func (s *Session) Reset() (State, error) {
	return s.send(request{action: actionReset})
}

// State returns the current snapshot.
func (s *Session) State() (State, error) {
	return s.send(request{action: actionSnapshot})
}

// Close stops the loop and any poller run. It is safe to call more than once.
func (s *Session) Close() {
	s.cancel()
	<-s.exited
}

func (s *Session) send(req request) (State, error) {
	req.reply = make(chan reply, 1)
	select {
	case s.requests <- req:
	case <-s.exited:
		return State{}, ErrSessionClosed
	}
	r := <-req.reply
	return r.state, r.err
}

func (s *Session) loop(ctx context.Context) {
	defer close(s.exited)
	defer s.abandon()

	for {
		var outcomes <-chan poller.Outcome
		if s.run != nil {
			outcomes = s.run.Outcome()
		}

		select {
		case <-ctx.Done():
			return

		case req := <-s.requests:
			err := s.handle(ctx, req)
			req.reply <- reply{state: s.machine.State(), err: err}

		case res := <-s.uploads:
			if res.gen != s.gen {
				continue // superseded by a reset or a new selection
			}
			s.cancelUpload = nil
			s.uploaded(ctx, res)

		case out, ok := <-outcomes:
			s.run.Stop()
			s.run = nil
			if !ok {
				continue
			}
			s.resolved(out)
		}
	}
}

func (s *Session) handle(ctx context.Context, req request) error {
	switch req.action {
	case actionSelect:
		if err := s.machine.checkSelect(); err != nil {
			return err
		}
		if s.machine.Status().InFlight() {
			s.logger.Info("wizard.select.abandon", "status", s.machine.Status(), "job_id", s.machine.state.JobID)
		}
		s.abandon()
		if err := s.machine.Select(req.file); err != nil {
			return err
		}
		s.logger.Info("wizard.select", "file", req.file.Name, "size", req.file.Size)
	case actionUpload:
		if err := s.machine.BeginUpload(); err != nil {
			return err
		}
		s.startUpload(ctx, *s.machine.state.File)
	case actionReset:
		s.abandon()
		s.machine.Reset()
		s.logger.Info("wizard.reset")
	case actionSnapshot:
		return nil
	}
	s.publish()
	return nil
}

func (s *Session) startUpload(ctx context.Context, f File) {
	s.gen++
	gen := s.gen
	uctx, cancel := context.WithCancel(ctx)
	s.cancelUpload = cancel

	go func() {
		defer cancel()
		res := uploadResult{gen: gen}
		rc, err := f.Open()
		if err != nil {
			res.err = err
		} else {
			res.jobID, res.err = s.uploader.Upload(uctx, f.Name, rc)
			_ = rc.Close()
		}
		select {
		case s.uploads <- res:
		case <-uctx.Done():
		}
	}()
	s.logger.Info("wizard.upload.start", "file", f.Name)
}

func (s *Session) uploaded(ctx context.Context, res uploadResult) {
	if res.err != nil {
		s.logger.Warn("wizard.upload.failed", "error", res.err)
		_ = s.machine.Fail(client.UploadErrorMessage(res.err))
		s.publish()
		return
	}
	if err := s.machine.UploadSucceeded(res.jobID); err != nil {
		s.logger.Error("wizard.upload.result_rejected", "error", err)
		_ = s.machine.Fail(constants.MsgUploadFailed)
		s.publish()
		return
	}
	s.logger.Info("wizard.upload.ok", "job_id", res.jobID)
	s.run = s.poller.Start(ctx, res.jobID)
	s.publish()
}

func (s *Session) resolved(out poller.Outcome) {
	var err error
	if out.Done() {
		err = s.machine.Complete(out.URL)
	} else {
		err = s.machine.Fail(out.Error)
	}
	if err != nil {
		s.logger.Warn("wizard.outcome.rejected", "error", err)
		return
	}
	s.publish()
}

// abandon cancels the upload and poller run in flight, if any.
func (s *Session) abandon() {
	s.gen++
	if s.cancelUpload != nil {
		s.cancelUpload()
		s.cancelUpload = nil
	}
	if s.run != nil {
		s.run.Stop()
		s.run = nil
	}
}

func (s *Session) publish() {
	st := s.machine.State()
	for {
		select {
		case s.updates <- st:
			return
		default:
		}
		select {
		case <-s.updates:
		default:
		}
	}
}
