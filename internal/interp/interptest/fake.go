// Package interptest provides scripted interpreter fakes for tests.
package interptest

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/mimirlabs/runner/internal/interp"
)

// Script describes the behavior of a single Run call.
type Script struct {
	Stdout string
	Stderr string
	// Delay is slept before Run returns (after writing output).
	Delay time.Duration
	// Block makes Run never return until Unblock is called, simulating an
	// infinite loop in guest code.
	Block bool
	Err   error
}

// Fake is a scripted interp.Interpreter. Run consumes scripts in order; a
// call past the end of the script list succeeds silently.
type Fake struct {
	mu      sync.Mutex
	scripts []Script
	calls   int
	closed  bool
	unblock chan struct{}
}

// NewFake creates a fake interpreter executing the given scripts in order.
func NewFake(scripts ...Script) *Fake {
	return &Fake{scripts: scripts, unblock: make(chan struct{})}
}

func (f *Fake) Run(code string, stdout, stderr io.Writer) error {
	f.mu.Lock()
	var s Script
	if f.calls < len(f.scripts) {
		s = f.scripts[f.calls]
	}
	f.calls++
	f.mu.Unlock()

	if s.Stdout != "" {
		io.WriteString(stdout, s.Stdout)
	}
	if s.Stderr != "" {
		io.WriteString(stderr, s.Stderr)
	}
	if s.Delay > 0 {
		time.Sleep(s.Delay)
	}
	if s.Block {
		<-f.unblock
	}
	return s.Err
}

// Close marks the fake reclaimed.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether the host reclaimed the interpreter.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Calls reports how many Run calls were made.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Unblock releases every Run call blocked by a Script with Block set.
func (f *Fake) Unblock() {
	close(f.unblock)
}

// Loader is a scripted interp.Loader handing out a prebuilt fake.
type Loader struct {
	mu    sync.Mutex
	fake  *Fake
	err   error
	delay time.Duration
	loads int
}

// NewLoader creates a loader that resolves to the given fake interpreter.
func NewLoader(fake *Fake) *Loader {
	return &Loader{fake: fake}
}

// FailWith makes the next Load calls fail with err. Passing nil restores
// successful loading, matching the retry contract.
func (l *Loader) FailWith(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

// SetDelay makes Load sleep before resolving.
func (l *Loader) SetDelay(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.delay = d
}

// Loads reports how many Load calls were made.
func (l *Loader) Loads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads
}

func (l *Loader) Load(ctx context.Context) (interp.Interpreter, error) {
	l.mu.Lock()
	l.loads++
	err := l.err
	delay := l.delay
	fake := l.fake
	l.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return fake, nil
}

func (l *Loader) Info() interp.Info {
	return interp.Info{
		Language: "python",
		Version:  semver.MustParse("3.12.0"),
		Engine:   "fake",
	}
}
