package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimirlabs/runner/internal/capture"
	"github.com/mimirlabs/runner/internal/interp/interptest"
	"github.com/mimirlabs/runner/internal/session"
	"github.com/mimirlabs/runner/internal/types"
)

func readySession(t *testing.T, scripts ...interptest.Script) (*session.Session, *interptest.Fake) {
	t.Helper()
	fake := interptest.NewFake(scripts...)
	sess := session.New(interptest.NewLoader(fake), 0)
	_, err := sess.Init(context.Background())
	require.NoError(t, err)
	return sess, fake
}

func TestResolveTimeout(t *testing.T) {
	sup := New(30*time.Second, 5*time.Minute, nil)

	d, err := sup.ResolveTimeout(nil)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	millis := 5000
	d, err = sup.ResolveTimeout(&millis)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)

	zero := 0
	_, err = sup.ResolveTimeout(&zero)
	assert.ErrorContains(t, err, "positive")

	negative := -100
	_, err = sup.ResolveTimeout(&negative)
	assert.ErrorContains(t, err, "positive")

	tooLong := int((6 * time.Minute).Milliseconds())
	_, err = sup.ResolveTimeout(&tooLong)
	assert.ErrorContains(t, err, "cannot exceed")
}

func TestRunSuccess(t *testing.T) {
	sess, _ := readySession(t, interptest.Script{Stdout: "hi\n"})
	sup := New(30*time.Second, 0, nil)

	require.NoError(t, sess.BeginRun())
	result := sup.Run(sess, "print('hi')", 5*time.Second)

	assert.Equal(t, types.OutcomeSuccess, result.Outcome)
	assert.Equal(t, "hi\n", result.Output)
	assert.Empty(t, result.Error)
	assert.Greater(t, result.ExecutionTime, 0.0)
	assert.Equal(t, session.StateReady, sess.State())
}

func TestRunSuccessWithoutOutput(t *testing.T) {
	sess, _ := readySession(t, interptest.Script{})
	sup := New(30*time.Second, 0, nil)

	require.NoError(t, sess.BeginRun())
	result := sup.Run(sess, "pass", time.Second)

	assert.Equal(t, types.OutcomeSuccess, result.Outcome)
	assert.Equal(t, capture.NoOutput, result.Output)
}

func TestRunGuestError(t *testing.T) {
	sess, _ := readySession(t, interptest.Script{
		Stdout: "before\n",
		Err:    errors.New("ZeroDivisionError: division by zero"),
	})
	sup := New(30*time.Second, 0, nil)

	require.NoError(t, sess.BeginRun())
	result := sup.Run(sess, "print('before'); 1/0", 5*time.Second)

	assert.Equal(t, types.OutcomeError, result.Outcome)
	assert.Contains(t, result.Output, "before")
	assert.Contains(t, result.Error, "division by zero")
	assert.Greater(t, result.ExecutionTime, 0.0)

	// Guest errors leave the session reusable.
	assert.Equal(t, session.StateReady, sess.State())
	assert.NoError(t, sess.BeginRun())
}

func TestRunGuestErrorWithoutOutput(t *testing.T) {
	sess, _ := readySession(t, interptest.Script{Err: errors.New("NameError: x")})
	sup := New(30*time.Second, 0, nil)

	require.NoError(t, sess.BeginRun())
	result := sup.Run(sess, "x", time.Second)

	assert.Equal(t, types.OutcomeError, result.Outcome)
	assert.Empty(t, result.Output)
}

func TestRunDeadline(t *testing.T) {
	sess, fake := readySession(t, interptest.Script{Block: true})
	defer fake.Unblock()
	sup := New(30*time.Second, 0, nil)

	timeout := 100 * time.Millisecond
	require.NoError(t, sess.BeginRun())

	start := time.Now()
	result := sup.Run(sess, "while True: pass", timeout)
	elapsed := time.Since(start)

	assert.Equal(t, types.OutcomeInterrupted, result.Outcome)
	assert.Equal(t, "execution timeout", result.Error)
	// Emitted at or after the deadline, with bounded scheduling slack.
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+500*time.Millisecond)

	// A timeout is fatal to the session.
	assert.Equal(t, session.StateTerminated, sess.State())
	assert.ErrorIs(t, sess.BeginRun(), session.ErrTerminated)
}

func TestRunInterruptSurfacesPromptly(t *testing.T) {
	sess, fake := readySession(t, interptest.Script{Block: true})
	defer fake.Unblock()
	sup := New(30*time.Second, 0, nil)

	require.NoError(t, sess.BeginRun())

	results := make(chan *types.ExecutionResult, 1)
	go func() {
		results <- sup.Run(sess, "while True: pass", time.Minute)
	}()

	time.Sleep(20 * time.Millisecond)
	sess.Terminate()

	select {
	case result := <-results:
		assert.Equal(t, types.OutcomeInterrupted, result.Outcome)
		assert.Equal(t, "interrupted", result.Error)
	case <-time.After(time.Second):
		t.Fatal("interrupt did not surface promptly")
	}
}

func TestRunInterruptedBetweenAcceptAndStart(t *testing.T) {
	// An interrupt can land after a run is accepted but before the
	// supervisor starts the guest. The interpreter handle is gone by
	// then; the run must report interrupted, not crash.
	sess, _ := readySession(t)
	sup := New(30*time.Second, 0, nil)

	require.NoError(t, sess.BeginRun())
	sess.Terminate()

	result := sup.Run(sess, "print('hi')", time.Second)

	assert.Equal(t, types.OutcomeInterrupted, result.Outcome)
	assert.Equal(t, "interrupted", result.Error)
	assert.Equal(t, session.StateTerminated, sess.State())
}

func TestRunResultAssembledBeforeSessionReopens(t *testing.T) {
	// A submission racing the previous run's completion may Clear the
	// buffer the moment the session is Ready again. The finished run's
	// result must already be assembled by then.
	for i := 0; i < 50; i++ {
		sess, _ := readySession(t, interptest.Script{Stdout: "alpha"})
		sup := New(30*time.Second, 0, nil)
		require.NoError(t, sess.BeginRun())

		cleared := make(chan struct{})
		go func() {
			defer close(cleared)
			for j := 0; j < 1_000_000; j++ {
				if sess.State() == session.StateReady {
					sess.Buffer().Clear()
					return
				}
			}
		}()

		result := sup.Run(sess, "print('alpha')", time.Second)
		<-cleared

		require.Equal(t, types.OutcomeSuccess, result.Outcome)
		require.Equal(t, "alpha", result.Output)
	}
}

func TestRunNoCrossRunLeakage(t *testing.T) {
	sess, _ := readySession(t,
		interptest.Script{Stdout: "output from run A\n"},
		interptest.Script{Stdout: "output from run B\n"},
	)
	sup := New(30*time.Second, 0, nil)

	require.NoError(t, sess.BeginRun())
	resultA := sup.Run(sess, "print('A')", time.Second)
	require.Contains(t, resultA.Output, "run A")

	require.NoError(t, sess.BeginRun())
	resultB := sup.Run(sess, "print('B')", time.Second)

	assert.NotContains(t, resultB.Output, "run A")
	assert.Contains(t, resultB.Output, "run B")
}

func TestRunAbandonedGuestCannotPolluteNextRead(t *testing.T) {
	// Run A blocks past its deadline; whatever it writes afterwards must
	// not appear anywhere once the buffer released it.
	sess, fake := readySession(t, interptest.Script{Block: true, Stdout: "A partial"})
	sup := New(30*time.Second, 0, nil)

	require.NoError(t, sess.BeginRun())
	result := sup.Run(sess, "while True: pass", 50*time.Millisecond)
	require.Equal(t, types.OutcomeInterrupted, result.Outcome)

	// The abandoned goroutine finishes eventually; its late writes land
	// in a released capture.
	fake.Unblock()
	time.Sleep(20 * time.Millisecond)

	out, errOut := sess.Buffer().Read()
	assert.Equal(t, "A partial", out)
	assert.Empty(t, errOut)
}
