package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"sdturbo/internal/half"
	"sdturbo/internal/tensor"
)

// Tensor names of the text encoder, denoiser and decoder graphs.
const (
	InputIDs            = "input_ids"
	LastHiddenState     = "last_hidden_state"
	Sample              = "sample"
	Timestep            = "timestep"
	EncoderHiddenStates = "encoder_hidden_states"
	OutSample           = "out_sample"
	LatentSample        = "latent_sample"
	DecodedSample       = "sample"
)

// SyntheticName is the registry name of the synthetic engine.
const SyntheticName = "synthetic"

func init() {
	Register(SyntheticName, func(cfg Config) (Engine, error) { return NewSynthetic(cfg), nil })
}

// Synthetic is a deterministic in-process engine. It does not interpret the
// model bytes; it recognises which graph it is running from the input names
// and produces outputs of the right kind and shape with fixed arithmetic.
// It is used for dry runs and tests.
type Synthetic struct {
	Caps       Capabilities
	HiddenSize int
	// UpScale is the spatial factor between latent and decoded image.
	UpScale int

	log zerolog.Logger

	mu       sync.Mutex
	compiles int
	live     int
}

// NewSynthetic returns a synthetic engine reporting full capabilities.
func NewSynthetic(cfg Config) *Synthetic {
	return &Synthetic{
		Caps:       Capabilities{NN: true, ShaderF16: true},
		HiddenSize: 1024,
		UpScale:    8,
		log:        cfg.Logger,
	}
}

func (e *Synthetic) Name() string { return SyntheticName }

func (e *Synthetic) Probe(ctx context.Context) (Capabilities, error) {
	if err := ctx.Err(); err != nil {
		return Capabilities{}, err
	}
	return e.Caps, nil
}

func (e *Synthetic) Compile(ctx context.Context, model []byte, opts Options) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(model) == 0 {
		return nil, errors.New("synthetic: empty model")
	}
	for _, p := range opts.ExecutionProviders {
		if p.Name == ProviderWebGPU && !e.Caps.ShaderF16 {
			return nil, errors.New("synthetic: webgpu provider requires shader-f16")
		}
	}
	e.mu.Lock()
	e.compiles++
	e.mu.Unlock()
	e.log.Debug().Int("bytes", len(model)).Msg("synthetic compile")
	return &syntheticSession{engine: e, opts: opts}, nil
}

// Compiles is the number of successful Compile calls.
func (e *Synthetic) Compiles() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.compiles
}

// Live is the number of resident outputs not yet released.
func (e *Synthetic) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.live
}

type syntheticSession struct {
	engine *Synthetic
	opts   Options

	mu     sync.Mutex
	closed bool
}

func (s *syntheticSession) Run(ctx context.Context, inputs map[string]*tensor.Tensor) (map[string]*tensor.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, errors.New("synthetic: session closed")
	}
	var (
		name string
		out  *tensor.Tensor
		err  error
	)
	switch {
	case inputs[InputIDs] != nil:
		name = LastHiddenState
		out, err = s.encode(inputs[InputIDs])
	case inputs[LatentSample] != nil:
		name = DecodedSample
		out, err = s.decode(inputs[LatentSample])
	case inputs[Sample] != nil:
		name = OutSample
		out, err = s.denoise(inputs[Sample], inputs[Timestep], inputs[EncoderHiddenStates])
	default:
		return nil, fmt.Errorf("synthetic: unrecognised inputs")
	}
	if err != nil {
		return nil, err
	}
	if s.opts.OutputLocation(name) == LocationGPUBuffer {
		s.engine.mu.Lock()
		s.engine.live++
		s.engine.mu.Unlock()
		out.Resident(func() error {
			s.engine.mu.Lock()
			s.engine.live--
			s.engine.mu.Unlock()
			return nil
		})
	}
	return map[string]*tensor.Tensor{name: out}, nil
}

func (s *syntheticSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *syntheticSession) encode(ids *tensor.Tensor) (*tensor.Tensor, error) {
	if ids.Kind != tensor.Int32 || len(ids.Shape) != 2 {
		return nil, fmt.Errorf("synthetic: %s must be int32 [1,L], got %s %v", InputIDs, ids.Kind, ids.Shape)
	}
	seq, hidden := ids.Shape[1], s.engine.HiddenSize
	data := make([]uint16, seq*hidden)
	for i, id := range ids.I32 {
		for j := 0; j < hidden; j++ {
			v := 0.5 * math.Sin(float64(id)*0.001+float64(j)*0.01)
			data[i*hidden+j] = half.ToHalf(float32(v))
		}
	}
	return tensor.NewFloat16(data, 1, seq, hidden)
}

func (s *syntheticSession) denoise(sample, timestep, hidden *tensor.Tensor) (*tensor.Tensor, error) {
	if sample.Kind != tensor.Float16 || len(sample.Shape) != 4 {
		return nil, fmt.Errorf("synthetic: %s must be float16 [1,4,H,W], got %s %v", Sample, sample.Kind, sample.Shape)
	}
	if timestep == nil || timestep.Kind != tensor.Float16 || timestep.Len() != 1 {
		return nil, fmt.Errorf("synthetic: %s must be a float16 scalar", Timestep)
	}
	if hidden == nil || hidden.Kind != tensor.Float16 {
		return nil, fmt.Errorf("synthetic: %s must be float16", EncoderHiddenStates)
	}
	if hidden.Released() {
		return nil, fmt.Errorf("synthetic: %s already released", EncoderHiddenStates)
	}
	var sum float64
	for _, h := range hidden.F16 {
		sum += float64(half.ToFloat32(h))
	}
	bias := 0.01 * sum / float64(len(hidden.F16))
	t := float64(half.ToFloat32(timestep.F16[0])) / 1000
	data := make([]uint16, len(sample.F16))
	for i, h := range sample.F16 {
		v := 0.5*math.Tanh(float64(half.ToFloat32(h)))*t + bias
		data[i] = half.ToHalf(float32(v))
	}
	return tensor.NewFloat16(data, sample.Shape...)
}

func (s *syntheticSession) decode(latent *tensor.Tensor) (*tensor.Tensor, error) {
	if latent.Kind != tensor.Float32 || len(latent.Shape) != 4 || latent.Shape[1] != 4 {
		return nil, fmt.Errorf("synthetic: %s must be float32 [1,4,H,W], got %s %v", LatentSample, latent.Kind, latent.Shape)
	}
	lh, lw, up := latent.Shape[2], latent.Shape[3], s.engine.UpScale
	h, w := lh*up, lw*up
	plane := lh * lw
	data := make([]float32, 3*h*w)
	for c := 0; c < 3; c++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				li := (y/up)*lw + x/up
				v := latent.F32[c*plane+li] + 0.5*latent.F32[3*plane+li]
				data[(c*h+y)*w+x] = float32(1.2 * math.Tanh(0.18215*float64(v)))
			}
		}
	}
	return tensor.NewFloat32(data, 1, 3, h, w)
}
