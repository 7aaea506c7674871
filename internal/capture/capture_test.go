package capture

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferReadAndCombined(t *testing.T) {
	tests := []struct {
		name     string
		stdout   string
		stderr   string
		combined string
	}{
		{
			name:     "stdout only",
			stdout:   "hi\n",
			combined: "hi\n",
		},
		{
			name:     "stderr only",
			stderr:   "Traceback: boom",
			combined: "Traceback: boom",
		},
		{
			name:     "both streams",
			stdout:   "before\n",
			stderr:   "ValueError: nope",
			combined: "before\n\nValueError: nope",
		},
		{
			name:     "silent run",
			combined: NoOutput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := New(0)
			buf.Clear()
			stdout, stderr, release := buf.Capture()
			io.WriteString(stdout, tt.stdout)
			io.WriteString(stderr, tt.stderr)
			release()

			gotOut, gotErr := buf.Read()
			assert.Equal(t, tt.stdout, gotOut)
			assert.Equal(t, tt.stderr, gotErr)
			assert.Equal(t, tt.combined, buf.Combined())
		})
	}
}

func TestBufferClearPreventsCrossRunLeakage(t *testing.T) {
	buf := New(0)

	buf.Clear()
	stdout, _, release := buf.Capture()
	io.WriteString(stdout, "output from run A")
	release()
	require.Contains(t, buf.Combined(), "run A")

	// Run B starts with a clear; nothing from A may survive.
	buf.Clear()
	stdout, _, release = buf.Capture()
	io.WriteString(stdout, "output from run B")
	release()

	combined := buf.Combined()
	assert.NotContains(t, combined, "run A")
	assert.Contains(t, combined, "run B")
}

func TestBufferReleaseDropsLateWrites(t *testing.T) {
	buf := New(0)
	buf.Clear()
	stdout, stderr, release := buf.Capture()
	io.WriteString(stdout, "kept")
	release()

	// An abandoned run keeps writing after release; the writes must be
	// dropped without error.
	n, err := io.WriteString(stdout, "dropped")
	require.NoError(t, err)
	assert.Equal(t, len("dropped"), n)
	io.WriteString(stderr, "dropped too")

	out, errOut := buf.Read()
	assert.Equal(t, "kept", out)
	assert.Empty(t, errOut)
}

func TestBufferSupersededCaptureDropsWrites(t *testing.T) {
	buf := New(0)
	buf.Clear()
	oldStdout, _, _ := buf.Capture() // release intentionally skipped

	buf.Clear()
	newStdout, _, release := buf.Capture()

	// The stale writer from the abandoned capture must not reach the
	// current run's streams.
	io.WriteString(oldStdout, "stale")
	io.WriteString(newStdout, "fresh")
	release()

	out, _ := buf.Read()
	assert.Equal(t, "fresh", out)
}

func TestBufferMaxSize(t *testing.T) {
	buf := New(8)
	buf.Clear()
	stdout, _, release := buf.Capture()
	io.WriteString(stdout, "0123456789abcdef")
	release()

	out, _ := buf.Read()
	assert.Equal(t, "01234567", out)
}

func TestBufferHasOutput(t *testing.T) {
	buf := New(0)
	buf.Clear()
	assert.False(t, buf.HasOutput())

	_, stderr, release := buf.Capture()
	io.WriteString(stderr, "x")
	release()
	assert.True(t, buf.HasOutput())

	buf.Clear()
	assert.False(t, buf.HasOutput())
}
