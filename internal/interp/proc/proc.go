// Package proc implements the interpreter contract with a host Python
// process per submission, sharing one session workspace.
package proc

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/Masterminds/semver/v3"
	"github.com/sirupsen/logrus"

	"github.com/mimirlabs/runner/internal/interp"
)

// Config configures the process engine.
type Config struct {
	// PythonPath is the interpreter binary name or path.
	PythonPath string
	// MaxCPUSeconds caps guest CPU time via ulimit -t.
	MaxCPUSeconds int
	// MaxMemoryMB caps guest virtual memory via ulimit -v.
	MaxMemoryMB int
}

// DefaultConfig returns the default process engine configuration.
func DefaultConfig() Config {
	return Config{
		PythonPath:    "python3",
		MaxCPUSeconds: 60,
		MaxMemoryMB:   512,
	}
}

// Loader probes the host interpreter and prepares a session workspace.
type Loader struct {
	cfg     Config
	logger  *logrus.Entry
	version atomic.Pointer[semver.Version]
}

// NewLoader creates a process engine loader.
func NewLoader(cfg Config) *Loader {
	if cfg.PythonPath == "" {
		cfg.PythonPath = "python3"
	}
	return &Loader{
		cfg:    cfg,
		logger: logrus.WithField("component", "interp.proc"),
	}
}

// Info describes the engine. The version is known after the first
// successful Load; before that it is absent.
func (l *Loader) Info() interp.Info {
	return interp.Info{
		Language: "python",
		Version:  l.version.Load(),
		Engine:   "process",
	}
}

// Load resolves the interpreter binary, probes its version, and creates an
// isolated workspace for the session.
func (l *Loader) Load(ctx context.Context) (interp.Interpreter, error) {
	path, err := exec.LookPath(l.cfg.PythonPath)
	if err != nil {
		return nil, fmt.Errorf("interpreter %s not found: %w", l.cfg.PythonPath, err)
	}

	version, err := probeVersion(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to probe interpreter version: %w", err)
	}
	l.version.Store(version)

	workDir, err := os.MkdirTemp("", "runner-session-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create session workspace: %w", err)
	}

	l.logger.WithFields(logrus.Fields{
		"path":    path,
		"version": version.String(),
	}).Info("Interpreter loaded")

	return &Interpreter{
		path:    path,
		workDir: workDir,
		cfg:     l.cfg,
		logger:  l.logger,
	}, nil
}

// Interpreter runs submissions as child processes rooted in the session
// workspace. Run blocks until the child exits; it is never killed from
// here, only abandoned, so a timed-out submission keeps running until its
// ulimit CPU cap fires or Close reclaims the workspace.
type Interpreter struct {
	path    string
	workDir string
	cfg     Config
	seq     atomic.Int64
	logger  *logrus.Entry
}

func (p *Interpreter) Run(code string, stdout, stderr io.Writer) error {
	file := filepath.Join(p.workDir, fmt.Sprintf("run-%d.py", p.seq.Add(1)))
	if err := os.WriteFile(file, []byte(code), 0600); err != nil {
		return fmt.Errorf("failed to stage submission: %w", err)
	}

	// The submission is wrapped so resource limits apply to the guest and
	// the guest is never interpolated into the shell string:
	// sh -c 'ulimit ...; exec "$@"' _ python3 run-N.py
	memKB := p.cfg.MaxMemoryMB * 1024
	script := fmt.Sprintf(
		"ulimit -v %d 2>/dev/null; ulimit -t %d 2>/dev/null; exec \"$@\"",
		memKB, p.cfg.MaxCPUSeconds,
	)

	cmd := exec.Command("/bin/sh", "-c", script, "_", p.path, file)
	cmd.Dir = p.workDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + p.workDir,
		"LANG=C.UTF-8",
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return fmt.Errorf("python exited with status %d", exitErr.ExitCode())
		}
		return fmt.Errorf("failed to run interpreter: %w", err)
	}
	return nil
}

// Close removes the session workspace.
func (p *Interpreter) Close() error {
	return os.RemoveAll(p.workDir)
}

// probeVersion parses `python3 --version` output ("Python 3.12.1").
func probeVersion(ctx context.Context, path string) (*semver.Version, error) {
	out, err := exec.CommandContext(ctx, path, "--version").CombinedOutput()
	if err != nil {
		return nil, err
	}

	fields := strings.Fields(strings.TrimSpace(string(out)))
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty version output")
	}
	version, err := semver.NewVersion(fields[len(fields)-1])
	if err != nil {
		return nil, fmt.Errorf("unparseable version %q: %w", string(out), err)
	}
	return version, nil
}
