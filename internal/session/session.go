// Package session models the lifecycle of one owned interpreter
// environment.
package session

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mimirlabs/runner/internal/capture"
	"github.com/mimirlabs/runner/internal/interp"
)

// State is the lifecycle state of a session.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateExecuting
	// StateTerminated is absorbing: the environment could not be stopped
	// safely and must be discarded. Recovery is a brand-new session.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateExecuting:
		return "executing"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

var (
	// ErrNotReady rejects a run arriving while the session is not Ready.
	ErrNotReady = errors.New("session is not ready")
	// ErrTerminated rejects any further use of a terminated session.
	ErrTerminated = errors.New("session is terminated; start a new session")
)

// Session is the single owned interpreter environment. All state
// transitions go through the session; guest code never drives them.
type Session struct {
	id     string
	loader interp.Loader
	buf    *capture.Buffer
	logger *logrus.Entry

	mu         sync.Mutex
	state      State
	interp     interp.Interpreter
	terminated chan struct{}
}

// New creates an uninitialized session. maxOutput caps each captured
// stream in bytes.
func New(loader interp.Loader, maxOutput int) *Session {
	id := uuid.New().String()
	return &Session{
		id:         id,
		loader:     loader,
		buf:        capture.New(maxOutput),
		logger:     logrus.WithField("session_id", id),
		terminated: make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Buffer returns the session's output capture buffer.
func (s *Session) Buffer() *capture.Buffer {
	return s.buf
}

// Interpreter returns the loaded interpreter, or nil before Ready.
func (s *Session) Interpreter() interp.Interpreter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interp
}

// Terminated is closed once the session reaches Terminated. The supervisor
// selects on it so an explicit interrupt surfaces promptly instead of
// waiting for the abandoned run's deadline.
func (s *Session) Terminated() <-chan struct{} {
	return s.terminated
}

// Init loads the interpreter environment. It is idempotent: only the call
// that performs the Uninitialized to Initializing transition drives the
// load, and only that call reports true, so two rapid inits produce
// exactly one loading sequence and one ready notification. A load failure
// returns the session to Uninitialized; a later Init may retry.
func (s *Session) Init(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.state != StateUninitialized {
		s.mu.Unlock()
		return false, nil
	}
	s.state = StateInitializing
	s.mu.Unlock()

	s.logger.Info("Loading interpreter environment")
	ip, err := s.loader.Load(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	// An interrupt may have landed while the environment was loading.
	if s.state == StateTerminated {
		if ip != nil {
			s.reclaim(ip)
		}
		return true, ErrTerminated
	}

	if err != nil {
		s.state = StateUninitialized
		s.logger.WithError(err).Error("Interpreter environment failed to load")
		return true, err
	}

	s.interp = ip
	s.state = StateReady
	s.logger.Info("Session ready")
	return true, nil
}

// BeginRun transitions Ready to Executing. Any other state rejects the run
// synchronously with no side effects.
func (s *Session) BeginRun() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateReady:
		s.state = StateExecuting
		return nil
	case StateTerminated:
		return ErrTerminated
	default:
		return ErrNotReady
	}
}

// EndRun transitions Executing back to Ready after a run completed within
// its deadline. A session terminated mid-run stays terminated.
func (s *Session) EndRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateExecuting {
		s.state = StateReady
	}
}

// Terminate marks the session unusable and reclaims the interpreter in
// the background. The outstanding run, if any, is abandoned rather than
// stopped; the substrate offers no safe way to abort it.
func (s *Session) Terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateTerminated {
		return
	}
	s.state = StateTerminated
	close(s.terminated)

	if s.interp != nil {
		s.reclaim(s.interp)
		s.interp = nil
	}
	s.logger.Info("Session terminated")
}

func (s *Session) reclaim(ip interp.Interpreter) {
	closer, ok := ip.(io.Closer)
	if !ok {
		return
	}
	go func() {
		if err := closer.Close(); err != nil {
			s.logger.WithError(err).Warn("Failed to reclaim interpreter environment")
		}
	}()
}
