package interp

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// Interpreter is one loaded guest environment. Run blocks until the guest
// program returns; the call cannot be preempted, so a caller that gives up
// on a run must abandon it and discard the interpreter.
//
// Implementations may additionally satisfy io.Closer; Close is the host's
// best-effort reclamation of an abandoned environment.
type Interpreter interface {
	Run(code string, stdout, stderr io.Writer) error
}

// Info identifies an interpreter engine.
type Info struct {
	Language string
	Version  *semver.Version
	Engine   string
}

// Loader prepares a guest interpreter. Load resolves once with a usable
// interpreter or fails with a human-readable message; it is safe to retry
// after a failure.
type Loader interface {
	Load(ctx context.Context) (Interpreter, error)
	Info() Info
}

// Registry holds the interpreter engines available to this worker.
type Registry struct {
	mu      sync.RWMutex
	loaders []Loader
}

// NewRegistry creates an empty engine registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds an engine to the registry.
func (r *Registry) Register(l Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders = append(r.loaders, l)
}

// Loaders returns the registered engines, newest interpreter version first.
func (r *Registry) Loaders() []Loader {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Loader, len(r.loaders))
	copy(out, r.loaders)
	sort.SliceStable(out, func(i, j int) bool {
		vi, vj := out[i].Info().Version, out[j].Info().Version
		if vi == nil || vj == nil {
			return vj == nil && vi != nil
		}
		return vi.GreaterThan(vj)
	})
	return out
}

// Lookup returns the engine registered under the given name.
func (r *Registry) Lookup(engine string) (Loader, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, l := range r.loaders {
		if l.Info().Engine == engine {
			return l, nil
		}
	}
	return nil, fmt.Errorf("unknown interpreter engine: %s", engine)
}
