// Package docker implements the interpreter contract with one long-lived
// container per session.
package docker

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/sirupsen/logrus"

	"github.com/mimirlabs/runner/internal/interp"
)

// Loader creates the session container on Load.
type Loader struct {
	cfg    Config
	logger *logrus.Entry
}

// NewLoader creates a docker engine loader.
func NewLoader(cfg Config) *Loader {
	return &Loader{
		cfg:    cfg,
		logger: logrus.WithField("component", "interp.docker"),
	}
}

// Info describes the engine. The version is pinned by configuration since
// the image tag is the source of truth.
func (l *Loader) Info() interp.Info {
	version, err := semver.NewVersion(l.cfg.Version)
	if err != nil {
		version = nil
	}
	return interp.Info{
		Language: "python",
		Version:  version,
		Engine:   "docker",
	}
}

// Load pulls the image if needed and starts an idle container that the
// session owns for its whole lifetime.
func (l *Loader) Load(ctx context.Context) (interp.Interpreter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	pullCtx, cancel := context.WithTimeout(ctx, l.cfg.StartTimeout)
	defer cancel()

	l.logger.WithField("image", l.cfg.Image).Info("Ensuring docker image is available")
	reader, err := cli.ImagePull(pullCtx, l.cfg.Image, image.PullOptions{})
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to pull image %s: %w", l.cfg.Image, err)
	}
	// Block until the pull is complete.
	io.Copy(io.Discard, reader)
	reader.Close()

	pids := l.cfg.PidsLimit
	hostConfig := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		Tmpfs: map[string]string{
			"/tmp": "rw,size=64m",
		},
		Resources: container.Resources{
			Memory:    l.cfg.MemoryLimit,
			NanoCPUs:  int64(l.cfg.CPULimit * 1e9),
			PidsLimit: &pids,
		},
	}

	resp, err := cli.ContainerCreate(pullCtx, &container.Config{
		Image:      l.cfg.Image,
		Cmd:        []string{"sleep", "infinity"},
		WorkingDir: "/tmp",
	}, hostConfig, nil, nil, "")
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := cli.ContainerStart(pullCtx, resp.ID, container.StartOptions{}); err != nil {
		cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
		cli.Close()
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	l.logger.WithField("container_id", resp.ID[:12]).Info("Session container started")

	return &Interpreter{
		cli:         cli,
		containerID: resp.ID,
		logger:      l.logger,
	}, nil
}

// Interpreter execs submissions inside the session container. Run blocks
// until the exec finishes; it is never cancelled from here, only
// abandoned. Close force-removes the container, which is how abandoned
// submissions are finally reclaimed.
type Interpreter struct {
	cli         *client.Client
	containerID string
	logger      *logrus.Entry
}

func (d *Interpreter) Run(code string, stdout, stderr io.Writer) error {
	ctx := context.Background()

	execResp, err := d.cli.ContainerExecCreate(ctx, d.containerID, container.ExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          []string{"python3", "-c", code},
	})
	if err != nil {
		return fmt.Errorf("failed to create exec: %w", err)
	}

	attachResp, err := d.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return fmt.Errorf("failed to attach to exec: %w", err)
	}
	defer attachResp.Close()

	// Demultiplex the attached stream into the capture writers.
	if _, err := stdcopy.StdCopy(stdout, stderr, attachResp.Reader); err != nil {
		return fmt.Errorf("failed to read exec output: %w", err)
	}

	inspectResp, err := d.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return fmt.Errorf("failed to inspect exec: %w", err)
	}
	if inspectResp.ExitCode != 0 {
		return fmt.Errorf("python exited with status %d", inspectResp.ExitCode)
	}
	return nil
}

// Close force-removes the session container and closes the client.
func (d *Interpreter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := d.cli.ContainerRemove(ctx, d.containerID, container.RemoveOptions{Force: true})
	if err != nil {
		d.logger.WithError(err).WithField("container_id", d.containerID[:12]).
			Error("Failed to remove session container")
	}
	if closeErr := d.cli.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
