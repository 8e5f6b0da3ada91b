// Package scheduler implements the single-step Euler-ancestral update used
// by the turbo pipeline: initial noise, input scaling and one denoising step.
//
// Arithmetic is done in float64 and stored as float32. Step keeps the full
// derivative form instead of the reduced modelOutput/scale so rounding is
// unchanged.
package scheduler

import (
	"fmt"
	"math"
	"math/rand/v2"

	"sdturbo/internal/tensor"
)

// Schedule constants of the single-step configuration.
const (
	Sigma            = 14.6146
	Gamma            = 0.0
	VAEScalingFactor = 0.18215
	// Timestep is the denoiser timestep for the single step.
	Timestep = 999
)

// LatentShape is the denoiser latent shape for 512x512 images.
var LatentShape = []int{1, 4, 64, 64}

// Scheduler holds the schedule and the noise source. A Scheduler is not safe
// for concurrent use; each image draws from its own.
type Scheduler struct {
	Sigma            float64
	Gamma            float64
	VAEScalingFactor float64

	rng *rand.Rand
}

// New returns a scheduler with the turbo constants and a noise source
// seeded from seed.
func New(seed uint64) *Scheduler {
	return &Scheduler{
		Sigma:            Sigma,
		Gamma:            Gamma,
		VAEScalingFactor: VAEScalingFactor,
		rng:              rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// randn draws one standard normal sample with the Box-Muller transform.
// u = 0 would make log(u) -Inf, so such draws are rejected.
func (s *Scheduler) randn() float64 {
	u := s.rng.Float64()
	for u == 0 {
		u = s.rng.Float64()
	}
	v := s.rng.Float64()
	return math.Sqrt(-2*math.Log(u)) * math.Cos(2*math.Pi*v)
}

// SampleInitialLatents fills a tensor of the given shape with independent
// standard normal samples scaled by noiseSigma.
func (s *Scheduler) SampleInitialLatents(shape []int, noiseSigma float64) (*tensor.Tensor, error) {
	data := make([]float32, tensor.Size(shape))
	for i := range data {
		data[i] = float32(s.randn() * noiseSigma)
	}
	return tensor.NewFloat32(data, shape...)
}

// ScaleModelInput divides every element by sqrt(sigma^2 + 1).
func (s *Scheduler) ScaleModelInput(latents *tensor.Tensor) (*tensor.Tensor, error) {
	if latents.Kind != tensor.Float32 {
		return nil, fmt.Errorf("scale model input: want float32 latents, got %s", latents.Kind)
	}
	div := math.Sqrt(s.Sigma*s.Sigma + 1)
	out := make([]float32, len(latents.F32))
	for i, x := range latents.F32 {
		out[i] = float32(float64(x) / div)
	}
	return tensor.NewFloat32(out, latents.Shape...)
}

// Step performs the single denoising step and applies the VAE scaling. The
// derivative form reduces to modelOutput / VAEScalingFactor when Gamma is
// zero; it is kept so rounding matches.
func (s *Scheduler) Step(modelOutput, sample *tensor.Tensor) (*tensor.Tensor, error) {
	if modelOutput.Kind != tensor.Float32 || sample.Kind != tensor.Float32 {
		return nil, fmt.Errorf("step: want float32 tensors, got %s and %s", modelOutput.Kind, sample.Kind)
	}
	if len(modelOutput.F32) != len(sample.F32) {
		return nil, fmt.Errorf("step: model output has %d elements, sample has %d", len(modelOutput.F32), len(sample.F32))
	}
	sigmaHat := s.Sigma * (s.Gamma + 1)
	out := make([]float32, len(modelOutput.F32))
	for i := range out {
		x := float64(sample.F32[i])
		predOriginal := x - sigmaHat*float64(modelOutput.F32[i])
		derivative := (x - predOriginal) / sigmaHat
		dt := 0 - sigmaHat
		out[i] = float32((x + derivative*dt) / s.VAEScalingFactor)
	}
	return tensor.NewFloat32(out, modelOutput.Shape...)
}
