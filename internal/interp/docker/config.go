package docker

import "time"

// Config configures the docker engine.
type Config struct {
	// Image is the interpreter image the session container runs.
	Image string
	// Version pins the interpreter version advertised for the image tag.
	Version string
	// MemoryLimit caps container memory in bytes.
	MemoryLimit int64
	// CPULimit caps container CPU in whole cores.
	CPULimit float64
	// PidsLimit protects against fork bombs.
	PidsLimit int64
	// StartTimeout bounds image pull plus container start.
	StartTimeout time.Duration
}

// DefaultConfig returns the default docker engine configuration.
func DefaultConfig() Config {
	return Config{
		Image:        "python:3.12-slim",
		Version:      "3.12.0",
		MemoryLimit:  128 * 1024 * 1024,
		CPULimit:     1.0,
		PidsLimit:    50,
		StartTimeout: 2 * time.Minute,
	}
}
