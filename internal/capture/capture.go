package capture

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// NoOutput is returned by Combined when a run produced nothing on either
// stream.
const NoOutput = "(no output)"

// Buffer accumulates the stdout/stderr streams redirected from the guest
// environment during a single run. It is owned exclusively by one session;
// the buffer serializes its own access so that a run abandoned after a
// timeout can keep writing harmlessly.
type Buffer struct {
	mu      sync.Mutex
	maxSize int
	gen     uint64
	armed   bool
	stdout  bytes.Buffer
	stderr  bytes.Buffer
}

// New creates a buffer that caps each stream at maxSize bytes. A
// non-positive maxSize disables the cap.
func New(maxSize int) *Buffer {
	return &Buffer{maxSize: maxSize}
}

// Clear resets both streams to empty. It must be called before Capture for
// every run, including the first, so that no output from a previous run
// leaks into the next result.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stdout.Reset()
	b.stderr.Reset()
}

// Capture begins redirection and returns the two stream writers together
// with a release function. Exactly one release call must happen on every
// exit path; after release (or after a later Capture) writes through the
// returned writers are dropped.
func (b *Buffer) Capture() (stdout, stderr io.Writer, release func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gen++
	b.armed = true
	gen := b.gen

	stdout = &streamWriter{buf: b, gen: gen, dst: &b.stdout}
	stderr = &streamWriter{buf: b, gen: gen, dst: &b.stderr}
	release = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.gen == gen {
			b.armed = false
		}
	}
	return stdout, stderr, release
}

// Read returns the current contents of both streams without clearing them.
func (b *Buffer) Read() (stdout, stderr string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stdout.String(), b.stderr.String()
}

// HasOutput reports whether either stream holds any data.
func (b *Buffer) HasOutput() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stdout.Len() > 0 || b.stderr.Len() > 0
}

// Combined assembles the final result text: stdout first, then stderr
// separated by a newline when stderr is non-empty. An entirely silent run
// yields the NoOutput placeholder.
func (b *Buffer) Combined() string {
	out, errOut := b.Read()

	parts := make([]string, 0, 2)
	if out != "" {
		parts = append(parts, out)
	}
	if errOut != "" {
		parts = append(parts, errOut)
	}
	if len(parts) == 0 {
		return NoOutput
	}
	return strings.Join(parts, "\n")
}

// streamWriter appends to one of the buffer's streams while its generation
// is still armed.
type streamWriter struct {
	buf *Buffer
	gen uint64
	dst *bytes.Buffer
}

func (w *streamWriter) Write(p []byte) (int, error) {
	w.buf.mu.Lock()
	defer w.buf.mu.Unlock()

	// Writes from a released or superseded capture are discarded. The
	// writer still reports success so an abandoned guest run never sees a
	// write error.
	if !w.buf.armed || w.buf.gen != w.gen {
		return len(p), nil
	}

	if w.buf.maxSize > 0 {
		remaining := w.buf.maxSize - w.dst.Len()
		if remaining <= 0 {
			return len(p), nil
		}
		if len(p) > remaining {
			w.dst.Write(p[:remaining])
			return len(p), nil
		}
	}
	w.dst.Write(p)
	return len(p), nil
}
