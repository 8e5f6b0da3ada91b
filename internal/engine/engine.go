// Package engine defines the contract between the pipeline and a neural
// network execution engine: compile a serialized model into a Session, run a
// Session on named tensors.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"sdturbo/internal/tensor"
)

// Capabilities describes what the host backend can do. Engines report it
// from Probe before any model is compiled.
type Capabilities struct {
	// NN is true when a neural-accelerator context can be created.
	NN bool
	// ShaderF16 is true when the GPU-compute backend supports 16-bit
	// shader arithmetic.
	ShaderF16 bool
}

// Engine compiles models.
type Engine interface {
	Name() string
	Probe(ctx context.Context) (Capabilities, error)
	Compile(ctx context.Context, model []byte, opts Options) (Session, error)
}

// Session executes one compiled model. Outputs may be backend-resident;
// callers own every returned tensor and must Release it.
type Session interface {
	Run(ctx context.Context, inputs map[string]*tensor.Tensor) (map[string]*tensor.Tensor, error)
	Close() error
}

// Config carries engine construction parameters.
type Config struct {
	Threads int
	Logger  zerolog.Logger
}

// Factory builds an Engine.
type Factory func(Config) (Engine, error)

// ErrUnknownEngine is returned by New for unregistered names.
var ErrUnknownEngine = errors.New("unknown engine")

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes an engine available under name. Registering a name twice
// replaces the earlier factory.
func Register(name string, f Factory) {
	regMu.Lock()
	factories[name] = f
	regMu.Unlock()
}

// Names lists registered engines in sorted order.
func Names() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for n := range factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// New constructs the engine registered under name.
func New(name string, cfg Config) (Engine, error) {
	regMu.RLock()
	f, ok := factories[name]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, name)
	}
	return f(cfg)
}
