// Package supervisor runs one accepted submission against a session and
// classifies the outcome.
package supervisor

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mimirlabs/runner/internal/observability"
	"github.com/mimirlabs/runner/internal/session"
	"github.com/mimirlabs/runner/internal/types"
)

// Supervisor coordinates the capture buffer, the interpreter, and the
// deadline timer for individual runs.
type Supervisor struct {
	defaultTimeout time.Duration
	maxTimeout     time.Duration
	metrics        *observability.Metrics
	logger         *logrus.Entry
	now            func() time.Time
}

// New creates a supervisor. maxTimeout caps caller-supplied deadlines; a
// non-positive value disables the cap.
func New(defaultTimeout, maxTimeout time.Duration, metrics *observability.Metrics) *Supervisor {
	return &Supervisor{
		defaultTimeout: defaultTimeout,
		maxTimeout:     maxTimeout,
		metrics:        metrics,
		logger:         logrus.WithField("component", "supervisor"),
		now:            time.Now,
	}
}

// ResolveTimeout validates a caller-supplied deadline in milliseconds. An
// absent value falls back to the configured default.
func (s *Supervisor) ResolveTimeout(millis *int) (time.Duration, error) {
	if millis == nil {
		return s.defaultTimeout, nil
	}
	if *millis <= 0 {
		return 0, fmt.Errorf("timeout must be a positive integer")
	}
	d := time.Duration(*millis) * time.Millisecond
	if s.maxTimeout > 0 && d > s.maxTimeout {
		return 0, fmt.Errorf("timeout cannot exceed the configured limit of %d",
			s.maxTimeout.Milliseconds())
	}
	return d, nil
}

// Run executes one submission to completion or deadline, whichever comes
// first. The caller must already hold the Executing transition via
// BeginRun; exactly one result is returned per call.
//
// The guest call and the deadline timer race as two concurrently
// scheduled tasks. The guest cannot be preempted, so when the deadline
// (or an explicit interrupt) wins, the session is terminated and the
// still-running guest is abandoned; its writes land in a released buffer.
func (s *Supervisor) Run(sess *session.Session, code string, timeout time.Duration) *types.ExecutionResult {
	buf := sess.Buffer()
	buf.Clear()
	stdout, stderr, release := buf.Capture()
	start := s.now()

	var result *types.ExecutionResult

	// An interrupt may land between BeginRun and here; Terminate clears
	// the interpreter handle, so a nil handle means the session is already
	// dead and there is nothing left to start.
	ip := sess.Interpreter()
	if ip == nil {
		release()
		result = &types.ExecutionResult{
			Outcome:       types.OutcomeInterrupted,
			Error:         "interrupted",
			ExecutionTime: s.since(start),
		}
	} else {
		done := make(chan error, 1)
		go func() {
			done <- ip.Run(code, stdout, stderr)
		}()

		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case err := <-done:
			release()
			elapsed := s.since(start)
			if err != nil {
				result = &types.ExecutionResult{
					Outcome:       types.OutcomeError,
					Error:         err.Error(),
					ExecutionTime: elapsed,
				}
				// Partial output up to the failure point, absent when the
				// guest wrote nothing.
				if buf.HasOutput() {
					result.Output = buf.Combined()
				}
			} else {
				result = &types.ExecutionResult{
					Outcome:       types.OutcomeSuccess,
					Output:        buf.Combined(),
					ExecutionTime: elapsed,
				}
			}
			// The result is fully assembled before the session reopens;
			// the next run's Clear cannot reach this run's output.
			sess.EndRun()

		case <-timer.C:
			release()
			sess.Terminate()
			result = &types.ExecutionResult{
				Outcome:       types.OutcomeInterrupted,
				Error:         "execution timeout",
				ExecutionTime: s.since(start),
			}
			s.metrics.SessionTerminated("timeout")

		case <-sess.Terminated():
			// An explicit interrupt landed mid-run. Surface promptly rather
			// than waiting out the abandoned execution.
			release()
			result = &types.ExecutionResult{
				Outcome:       types.OutcomeInterrupted,
				Error:         "interrupted",
				ExecutionTime: s.since(start),
			}
		}
	}

	s.metrics.ObserveRun(string(result.Outcome), time.Duration(result.ExecutionTime*float64(time.Millisecond)))
	s.logger.WithFields(logrus.Fields{
		"session_id": sess.ID(),
		"outcome":    result.Outcome,
		"elapsed_ms": result.ExecutionTime,
	}).Debug("Run finished")
	return result
}

// since returns elapsed wall-clock milliseconds on the supervisor's own
// clock.
func (s *Supervisor) since(start time.Time) float64 {
	return float64(s.now().Sub(start).Microseconds()) / 1000.0
}
