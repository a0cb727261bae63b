// Package wizard holds the conversion wizard's state machine and the session
// loop that drives it through upload and status polling.
package wizard

import (
	"errors"
	"fmt"

	"github.com/joseph-ayodele/deckconvert/constants"
)

var (
	// ErrInvalidTransition is returned when an action is not allowed from the
	// current status. The state is left untouched.
	ErrInvalidTransition = errors.New("wizard: invalid transition")
	// ErrNoFile is returned by BeginUpload when nothing is staged.
	ErrNoFile = errors.New("wizard: no file selected")
	// ErrEmptyPayload is returned when Complete or Fail is given an empty value.
	ErrEmptyPayload = errors.New("wizard: empty payload")
)

// State is an immutable snapshot of the wizard.
type State struct {
	Status constants.Status
	File   *File
	JobID  string
	URL    string
	Error  string
}

// Machine owns the wizard state and enforces its transitions:
//
//	any            -Select->    ready
//	ready          -Upload->    uploading -UploadSucceeded-> processing
//	processing     -Complete->  done
//	non-terminal   -Fail->      error
//	any            -Reset->     idle
//
// Machine is not safe for concurrent use; Session is its single writer.
type Machine struct {
	state         State
	allowOverride bool
	lockSelection bool
}

type MachineOption func(*Machine)

// WithTerminalOverride lets Complete and Fail apply from any status,
// including done and error, the way the first web client behaved.
func WithTerminalOverride(allow bool) MachineOption {
	return func(m *Machine) { m.allowOverride = allow }
}

// WithSelectionLock rejects Select while an upload or conversion is in
// flight instead of abandoning it.
func WithSelectionLock(lock bool) MachineOption {
	return func(m *Machine) { m.lockSelection = lock }
}

func NewMachine(opts ...MachineOption) *Machine {
	m := &Machine{state: State{Status: constants.StatusIdle}}
	for _, o := range opts {
		o(m)
	}
	return m
}

// State returns a copy of the current state.
func (m *Machine) State() State {
	st := m.state
	if st.File != nil {
		f := *st.File
		st.File = &f
	}
	return st
}

// Status returns the current status.
func (m *Machine) Status() constants.Status { return m.state.Status }

func (m *Machine) reject(action string) error {
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, action, m.state.Status)
}

// Select stages f, replacing any earlier selection and whatever job the
// wizard was tracking.
func (m *Machine) Select(f File) error {
	if err := m.checkSelect(); err != nil {
		return err
	}
	m.state = State{Status: constants.StatusReady, File: &f}
	return nil
}

func (m *Machine) checkSelect() error {
	if m.lockSelection && m.state.Status.InFlight() {
		return m.reject("select")
	}
	return nil
}

// BeginUpload moves a staged file into uploading.
func (m *Machine) BeginUpload() error {
	if m.state.File == nil {
		return ErrNoFile
	}
	if m.state.Status != constants.StatusReady {
		return m.reject("upload")
	}
	m.state.Status = constants.StatusUploading
	return nil
}

// UploadSucceeded records the job id the service assigned and enters processing.
func (m *Machine) UploadSucceeded(jobID string) error {
	if jobID == "" {
		return fmt.Errorf("%w: job id", ErrEmptyPayload)
	}
	if m.state.Status != constants.StatusUploading {
		return m.reject("upload result")
	}
	m.state.Status = constants.StatusProcessing
	m.state.JobID = jobID
	return nil
}

// Complete records the converted artifact's URL.
func (m *Machine) Complete(url string) error {
	if url == "" {
		return fmt.Errorf("%w: url", ErrEmptyPayload)
	}
	if m.state.Status != constants.StatusProcessing && !m.allowOverride {
		return m.reject("complete")
	}
	m.state.Status = constants.StatusDone
	m.state.URL = url
	m.state.Error = ""
	return nil
}

// Fail enters error, keeping only the message.
func (m *Machine) Fail(message string) error {
	if message == "" {
		return fmt.Errorf("%w: message", ErrEmptyPayload)
	}
	if m.state.Status.Terminal() && !m.allowOverride {
		return m.reject("fail")
	}
	m.state = State{Status: constants.StatusError, Error: message}
	return nil
}

// Reset returns to idle from any status and clears every payload field.
func (m *Machine) Reset() {
	m.state = State{Status: constants.StatusIdle}
}
