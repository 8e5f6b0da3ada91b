package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"sdturbo/internal/engine"
	"sdturbo/internal/progress"
	"sdturbo/internal/registry"
	"sdturbo/internal/session"
	"sdturbo/internal/tensor"
	"sdturbo/internal/tokenizer"
)

// fakeArtifacts serves model bytes from memory and counts requests.
type fakeArtifacts struct {
	mu      sync.Mutex
	loads   int
	fetches int
	fail    map[string]error
	aux     map[string]string
}

func (f *fakeArtifacts) Load(_ context.Context, d registry.Descriptor, _ bool) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if err := f.fail[d.Name]; err != nil {
		return nil, err
	}
	return []byte(d.Name), nil
}

func (f *fakeArtifacts) Fetch(_ context.Context, name, _ string, _ bool) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	b, ok := f.aux[name]
	if !ok {
		return nil, fmt.Errorf("%s: not found", name)
	}
	return []byte(b), nil
}

func (f *fakeArtifacts) counts() (loads, fetches int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads, f.fetches
}

// threeTokens ignores the prompt and always yields three content tokens.
type threeTokens struct{}

func (threeTokens) Tokenize(_ string, opts tokenizer.Options) ([]int32, error) {
	return tokenizer.Fit([]int32{320, 1125, 539}, opts, tokenizer.BOS, tokenizer.EOS, tokenizer.Pad)
}

// stubEngine produces small tensors of the right kinds and counts how often
// the resident hidden state is freed.
type stubEngine struct {
	caps       engine.Capabilities
	failDecode bool
	block      chan struct{}
	entered    chan struct{}

	mu             sync.Mutex
	hiddenReleases int
	sawReleased    bool
}

func (e *stubEngine) Name() string { return "stub" }

func (e *stubEngine) Probe(context.Context) (engine.Capabilities, error) { return e.caps, nil }

func (e *stubEngine) Compile(context.Context, []byte, engine.Options) (engine.Session, error) {
	return &stubSession{e: e}, nil
}

func (e *stubEngine) releases() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hiddenReleases
}

type stubSession struct{ e *stubEngine }

func (s *stubSession) Close() error { return nil }

func (s *stubSession) Run(_ context.Context, in map[string]*tensor.Tensor) (map[string]*tensor.Tensor, error) {
	e := s.e
	switch {
	case in[engine.InputIDs] != nil:
		ids := in[engine.InputIDs]
		h, err := tensor.NewFloat16(make([]uint16, ids.Shape[1]*4), 1, ids.Shape[1], 4)
		if err != nil {
			return nil, err
		}
		h.Resident(func() error {
			e.mu.Lock()
			e.hiddenReleases++
			e.mu.Unlock()
			return nil
		})
		return map[string]*tensor.Tensor{engine.LastHiddenState: h}, nil
	case in[engine.LatentSample] != nil:
		if e.failDecode {
			return nil, errors.New("decoder exploded")
		}
		data := make([]float32, 3*8*8)
		for i := range data {
			data[i] = float32(i%13)/2 - 3
		}
		out, err := tensor.NewFloat32(data, 1, 3, 8, 8)
		return map[string]*tensor.Tensor{engine.DecodedSample: out}, err
	case in[engine.Sample] != nil:
		if e.entered != nil {
			select {
			case e.entered <- struct{}{}:
			default:
			}
		}
		if e.block != nil {
			<-e.block
		}
		if in[engine.EncoderHiddenStates].Released() {
			e.mu.Lock()
			e.sawReleased = true
			e.mu.Unlock()
			return nil, errors.New("hidden state used after release")
		}
		smp := in[engine.Sample]
		out, err := tensor.NewFloat16(make([]uint16, smp.Len()), smp.Shape...)
		return map[string]*tensor.Tensor{engine.OutSample: out}, err
	}
	return nil, errors.New("stub: unknown graph")
}

func descriptors(t *testing.T) []registry.Descriptor {
	t.Helper()
	ds, err := registry.Descriptors("https://example.com/sd-turbo")
	if err != nil {
		t.Fatalf("descriptors: %v", err)
	}
	return ds
}

func newPipeline(t *testing.T, e engine.Engine, provider string, a *fakeArtifacts, mutate func(*Config)) *Pipeline {
	t.Helper()
	cfg := Config{
		Models:    descriptors(t),
		Tokenizer: threeTokens{},
		Images:    1,
		Logger:    zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c := session.New(e, session.Config{Provider: provider}, zerolog.Nop())
	p, err := New(a, c, progress.NewTracker(), cfg)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p
}

func loaded(t *testing.T, e engine.Engine, provider string, mutate func(*Config)) *Pipeline {
	t.Helper()
	p := newPipeline(t, e, provider, &fakeArtifacts{}, mutate)
	if err := p.Load(context.Background(), false); err != nil {
		t.Fatalf("load: %v", err)
	}
	return p
}

func nopLogger() zerolog.Logger { return zerolog.Nop() }
