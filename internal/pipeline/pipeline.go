package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sdturbo/internal/progress"
	"sdturbo/internal/registry"
	"sdturbo/internal/session"
	"sdturbo/internal/tokenizer"
)

// Artifacts fetches model and auxiliary bytes through the cache.
type Artifacts interface {
	Load(ctx context.Context, d registry.Descriptor, forceRefresh bool) ([]byte, error)
	Fetch(ctx context.Context, name, url string, forceRefresh bool) ([]byte, error)
}

// Compiler turns artifacts into sessions for the configured provider.
type Compiler interface {
	Provider() string
	Check(ctx context.Context) error
	Compile(ctx context.Context, d registry.Descriptor, artifact []byte) (*session.Compiled, error)
}

type model struct {
	desc        registry.Descriptor
	state       session.State
	err         string
	fetchTime   time.Duration
	compileTime time.Duration
	compiled    *session.Compiled
}

// Pipeline owns the compiled sessions and runs generations over them.
type Pipeline struct {
	cfg       Config
	artifacts Artifacts
	compiler  Compiler
	tracker   *progress.Tracker
	log       zerolog.Logger

	mu       sync.RWMutex
	state    State
	err      string
	models   []*model
	tok      tokenizer.Tokenizer
	lastLoad time.Time
	runs     uint64

	// genCh holds the single in-flight generation slot.
	genCh chan struct{}
}

// New constructs an idle Pipeline. cfg.Models must hold one descriptor per
// model kind.
func New(a Artifacts, c Compiler, tr *progress.Tracker, cfg Config) (*Pipeline, error) {
	cfg = cfg.withDefaults()
	if len(cfg.Models) != len(registry.Kinds) {
		return nil, fmt.Errorf("pipeline: want %d model descriptors, got %d", len(registry.Kinds), len(cfg.Models))
	}
	seen := make(map[registry.Kind]bool, len(cfg.Models))
	models := make([]*model, 0, len(cfg.Models))
	for _, d := range cfg.Models {
		if seen[d.Kind] {
			return nil, fmt.Errorf("pipeline: duplicate descriptor for %s", d.Kind)
		}
		seen[d.Kind] = true
		models = append(models, &model{desc: d, state: session.NotLoaded})
	}
	if cfg.Tokenizer == nil && cfg.Base == "" {
		return nil, fmt.Errorf("pipeline: need a tokenizer or a base to load one from")
	}
	if tr == nil {
		tr = progress.NewTracker()
	}
	return &Pipeline{
		cfg:       cfg,
		artifacts: a,
		compiler:  c,
		tracker:   tr,
		log:       cfg.Logger.With().Str("component", "pipeline").Logger(),
		state:     StateIdle,
		models:    models,
		tok:       cfg.Tokenizer,
		genCh:     make(chan struct{}, 1),
	}, nil
}

// Tracker is the progress tracker fed by Load.
func (p *Pipeline) Tracker() *progress.Tracker { return p.tracker }

// Ready reports whether Generate can be called.
func (p *Pipeline) Ready() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state == StateReady || p.state == StateGenerating
}

// Close releases every compiled session and returns the pipeline to idle.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateLoading || p.state == StateGenerating {
		return busyError{op: string(p.state)}
	}
	err := p.closeSessionsLocked()
	p.state = StateIdle
	ready.Set(0)
	return err
}

func (p *Pipeline) closeSessionsLocked() error {
	var first error
	for _, m := range p.models {
		if m.compiled == nil {
			continue
		}
		if err := m.compiled.Close(); err != nil && first == nil {
			first = err
		}
		m.compiled = nil
	}
	return first
}

func (p *Pipeline) session(k registry.Kind) *session.Compiled {
	for _, m := range p.models {
		if m.desc.Kind == k {
			return m.compiled
		}
	}
	return nil
}
