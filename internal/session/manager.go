// Package session compiles model artifacts into executable engine sessions
// with provider-specific options.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sdturbo/internal/engine"
	"sdturbo/internal/registry"
)

// FeatureShaderF16 names the capability the webgpu provider depends on.
const FeatureShaderF16 = "shader-f16"

// Config selects the execution provider.
type Config struct {
	Provider string
	// Device is the webnn device type (gpu, cpu, npu).
	Device  string
	Threads int
}

// Compiled is a model ready to run. It is produced once per load and reused
// by every generation until the pipeline reloads.
type Compiled struct {
	Descriptor  registry.Descriptor
	Session     engine.Session
	Options     engine.Options
	CompileTime time.Duration
}

// Close releases the engine session.
func (c *Compiled) Close() error {
	if c == nil || c.Session == nil {
		return nil
	}
	return c.Session.Close()
}

// Manager compiles models against one engine.
type Manager struct {
	engine engine.Engine
	cfg    Config
	log    zerolog.Logger

	mu       sync.Mutex
	checked  bool
	defaults engine.Options
}

func New(e engine.Engine, cfg Config, log zerolog.Logger) *Manager {
	if cfg.Provider == "" {
		cfg.Provider = engine.ProviderWebNN
	}
	if cfg.Device == "" {
		cfg.Device = "gpu"
	}
	return &Manager{engine: e, cfg: cfg, log: log}
}

// Provider is the configured execution provider.
func (m *Manager) Provider() string { return m.cfg.Provider }

// Check probes the engine and derives the default session options for the
// configured provider. The webgpu provider is refused with a
// CapabilityError when 16-bit shader arithmetic is unavailable.
func (m *Manager) Check(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checked {
		return nil
	}
	caps, err := m.engine.Probe(ctx)
	if err != nil {
		return fmt.Errorf("probe %s engine: %w", m.engine.Name(), err)
	}
	opts := engine.Options{
		EnableMemPattern:  engine.Bool(false),
		EnableCPUMemArena: engine.Bool(false),
		IntraOpNumThreads: m.cfg.Threads,
		Extra: map[string]string{
			engine.ExtraDisablePrepacking:           "1",
			engine.ExtraDeviceAllocatorInitializers: "1",
			engine.ExtraModelBytesDirectly:          "1",
			engine.ExtraModelBytesForInitializers:   "1",
		},
	}
	switch m.cfg.Provider {
	case engine.ProviderWebGPU:
		if !caps.ShaderF16 {
			return &CapabilityError{Provider: engine.ProviderWebGPU, Feature: FeatureShaderF16}
		}
		opts.ExecutionProviders = []engine.Provider{{Name: engine.ProviderWebGPU}}
		// The text encoder output stays on the GPU and is shared by every
		// image of a generation.
		opts.PreferredOutputLocation = map[string]string{engine.LastHiddenState: engine.LocationGPUBuffer}
	case engine.ProviderWebNN:
		if caps.NN {
			opts.ExecutionProviders = []engine.Provider{{
				Name:            engine.ProviderWebNN,
				DeviceType:      m.cfg.Device,
				PowerPreference: "default",
			}}
		} else {
			m.log.Warn().Msg("webnn context unavailable, using provider defaults")
			opts.ExecutionProviders = []engine.Provider{{Name: engine.ProviderWebNN}}
		}
	default:
		return fmt.Errorf("unsupported execution provider %q", m.cfg.Provider)
	}
	m.defaults = opts
	m.checked = true
	return nil
}

// Defaults returns the provider-wide session options. Valid after Check.
func (m *Manager) Defaults() engine.Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.defaults.Merge(engine.Options{})
}

// Compile turns an artifact into a session. Descriptor options override the
// provider defaults. The artifact is not retained.
func (m *Manager) Compile(ctx context.Context, d registry.Descriptor, artifact []byte) (*Compiled, error) {
	if err := m.Check(ctx); err != nil {
		var ce *CapabilityError
		if errors.As(err, &ce) {
			return nil, err
		}
		return nil, &CompileError{Name: d.Name, Err: err}
	}
	opts := m.Defaults().Merge(d.Options)
	log := m.log.With().Str("model", d.Kind.Label()).Str("provider", m.cfg.Provider).Logger()
	log.Debug().Interface("options", opts).Msg("session create")

	start := time.Now()
	sess, err := m.engine.Compile(ctx, artifact, opts)
	elapsed := time.Since(start)
	if err != nil {
		compileErrors.WithLabelValues(d.Name, m.cfg.Provider).Inc()
		return nil, &CompileError{Name: d.Name, Err: err}
	}
	compileDuration.WithLabelValues(d.Name, m.cfg.Provider).Observe(elapsed.Seconds())
	return &Compiled{Descriptor: d, Session: sess, Options: opts, CompileTime: elapsed}, nil
}
