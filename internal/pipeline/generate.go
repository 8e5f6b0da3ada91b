package pipeline

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"sdturbo/internal/engine"
	"sdturbo/internal/half"
	"sdturbo/internal/registry"
	"sdturbo/internal/scheduler"
	"sdturbo/internal/session"
	"sdturbo/internal/tensor"
	"sdturbo/internal/tokenizer"
)

// run is the state shared by the images of one generation.
type run struct {
	id         string
	log        zerolog.Logger
	unet, vae  *session.Compiled
	hidden     *tensor.Tensor
	textEncode time.Duration
}

// Generate encodes the prompt once and produces req.Images images from it.
// Image i draws its noise from seed+i. The text encoder output is released
// exactly once before Generate returns, whatever the outcome.
func (p *Pipeline) Generate(ctx context.Context, req Request) (*Result, error) {
	n := req.Images
	if n == 0 {
		n = p.cfg.Images
	}
	if n < 1 || n > MaxImages {
		return nil, fmt.Errorf("%w: images must be between 1 and %d, got %d", ErrInvalidRequest, MaxImages, n)
	}

	release, err := p.beginGeneration()
	if err != nil {
		generations.WithLabelValues(outcome(err)).Inc()
		return nil, err
	}
	defer release()

	p.mu.RLock()
	tok := p.tok
	enc, unet, vae := p.session(registry.TextEncoder), p.session(registry.Denoiser), p.session(registry.Decoder)
	p.mu.RUnlock()

	seed := p.seed(req.Seed)
	r := &run{
		id:   uuid.NewString(),
		unet: unet,
		vae:  vae,
	}
	r.log = p.log.With().Str("request_id", r.id).Logger()
	p.cfg.Publisher.Publish(Event{Name: EventGenerateStart, ID: r.id, Fields: map[string]any{"images": n, "seed": seed}})
	r.log.Info().Int("images", n).Uint64("seed", seed).Msg("generate")

	res, err := p.generate(ctx, r, tok, enc, req.Prompt, n, seed)
	if err != nil {
		generations.WithLabelValues(outcome(err)).Inc()
		r.log.Error().Err(err).Msg("generation failed")
		p.cfg.Publisher.Publish(Event{Name: EventGenerateFailed, ID: r.id, Fields: map[string]any{"error": err.Error()}})
		return nil, err
	}
	generations.WithLabelValues("ok").Inc()
	p.cfg.Publisher.Publish(Event{Name: EventGenerateDone, ID: r.id, Fields: map[string]any{
		"images":         len(res.Images),
		"text_encode_ms": res.TextEncode.Milliseconds(),
	}})
	return res, nil
}

func (p *Pipeline) generate(ctx context.Context, r *run, tok tokenizer.Tokenizer, enc *session.Compiled, prompt string, n int, seed uint64) (*Result, error) {
	fail := func(stage string, err error) error {
		return &GenerationError{ID: r.id, Stage: stage, Image: -1, Err: err}
	}

	ids, err := tok.Tokenize(prompt, tokenizer.DefaultOptions)
	if err != nil {
		return nil, fail("tokenize", err)
	}
	input, err := tensor.NewInt32(ids, 1, len(ids))
	if err != nil {
		return nil, fail("tokenize", err)
	}

	start := time.Now()
	out, err := enc.Session.Run(ctx, map[string]*tensor.Tensor{engine.InputIDs: input})
	r.textEncode = time.Since(start)
	if err != nil {
		return nil, fail("text_encoder", err)
	}
	runDuration.WithLabelValues(registry.TextEncoder.String()).Observe(r.textEncode.Seconds())
	r.hidden = out[engine.LastHiddenState]
	if err := tensor.ReleaseAll(out, engine.LastHiddenState); err != nil {
		r.log.Warn().Err(err).Msg("release text encoder outputs")
	}
	if r.hidden == nil {
		return nil, fail("text_encoder", fmt.Errorf("missing output %s", engine.LastHiddenState))
	}
	// The hidden state may live on the device; it is ours to free.
	defer func() {
		if err := r.hidden.Release(); err != nil {
			r.log.Warn().Err(err).Msg("release hidden state")
		}
	}()
	r.log.Debug().Dur("dur", r.textEncode).Msg("text encoded")

	images := make([]Image, n)
	if p.cfg.Parallel <= 1 || n == 1 {
		for i := range n {
			img, err := p.image(ctx, r, i, seed+uint64(i))
			if err != nil {
				return nil, err
			}
			images[i] = img
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.cfg.Parallel)
		for i := range n {
			g.Go(func() error {
				img, err := p.image(gctx, r, i, seed+uint64(i))
				if err != nil {
					return err
				}
				images[i] = img
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	return &Result{ID: r.id, Images: images, TextEncode: r.textEncode}, nil
}

// image runs the denoiser, the scheduler step and the decoder for one image.
func (p *Pipeline) image(ctx context.Context, r *run, idx int, seed uint64) (Image, error) {
	fail := func(stage string, err error) (Image, error) {
		return Image{}, &GenerationError{ID: r.id, Stage: stage, Image: idx, Err: err}
	}
	start := time.Now()

	sch := scheduler.New(seed)
	latents, err := sch.SampleInitialLatents(scheduler.LatentShape, sch.Sigma)
	if err != nil {
		return fail("latents", err)
	}
	scaled, err := sch.ScaleModelInput(latents)
	if err != nil {
		return fail("latents", err)
	}
	sample, err := scaled.ToFloat16()
	if err != nil {
		return fail("latents", err)
	}
	timestep, err := tensor.NewFloat16([]uint16{half.ToHalf(scheduler.Timestep)}, 1)
	if err != nil {
		return fail("latents", err)
	}

	t0 := time.Now()
	out, err := r.unet.Session.Run(ctx, map[string]*tensor.Tensor{
		engine.Sample:              sample,
		engine.Timestep:            timestep,
		engine.EncoderHiddenStates: r.hidden,
	})
	denoise := time.Since(t0)
	if err != nil {
		return fail(registry.Denoiser.String(), err)
	}
	runDuration.WithLabelValues(registry.Denoiser.String()).Observe(denoise.Seconds())
	noise, err := widen(out, engine.OutSample)
	if err := tensor.ReleaseAll(out); err != nil {
		r.log.Warn().Err(err).Int("image", idx).Msg("release denoiser outputs")
	}
	if err != nil {
		return fail(registry.Denoiser.String(), err)
	}

	next, err := sch.Step(noise, latents)
	if err != nil {
		return fail("step", err)
	}

	t1 := time.Now()
	dec, err := r.vae.Session.Run(ctx, map[string]*tensor.Tensor{engine.LatentSample: next})
	decode := time.Since(t1)
	if err != nil {
		return fail(registry.Decoder.String(), err)
	}
	runDuration.WithLabelValues(registry.Decoder.String()).Observe(decode.Seconds())
	pixels, w, h, err := postprocess(dec[engine.DecodedSample])
	if err := tensor.ReleaseAll(dec); err != nil {
		r.log.Warn().Err(err).Int("image", idx).Msg("release decoder outputs")
	}
	if err != nil {
		return fail(registry.Decoder.String(), err)
	}

	img := Image{
		Index:  idx,
		Width:  w,
		Height: h,
		Layout: LayoutNCHW,
		Format: FormatRGB,
		Pixels: pixels,
		Seed:   seed,
		Timing: Timing{
			Denoise: denoise,
			Decode:  decode,
			Total:   r.textEncode + time.Since(start),
		},
	}
	imagesTotal.Inc()
	r.log.Info().Int("image", idx).Dur("denoise", denoise).Dur("decode", decode).Dur("total", img.Timing.Total).Msg("image done")
	p.cfg.Publisher.Publish(Event{Name: EventImageDone, ID: r.id, Fields: map[string]any{"image": idx, "total_ms": img.Timing.Total.Milliseconds()}})
	return img, nil
}

// widen copies the named output into a new float32 tensor.
func widen(out map[string]*tensor.Tensor, name string) (*tensor.Tensor, error) {
	t := out[name]
	if t == nil {
		return nil, fmt.Errorf("missing output %s", name)
	}
	return t.ToFloat32()
}

// postprocess maps decoder output from [-1,1] to [0,1] pixels, clamping.
// NaN becomes 0. The output must be [1,3,H,W].
func postprocess(t *tensor.Tensor) ([]float32, int, int, error) {
	if t == nil {
		return nil, 0, 0, fmt.Errorf("missing output %s", engine.DecodedSample)
	}
	if len(t.Shape) != 4 || t.Shape[0] != 1 || t.Shape[1] != 3 {
		return nil, 0, 0, fmt.Errorf("decoder output shape %v, want [1,3,H,W]", t.Shape)
	}
	data, err := t.AsFloat32()
	if err != nil {
		return nil, 0, 0, err
	}
	pixels := make([]float32, len(data))
	for i, x := range data {
		if math.IsNaN(float64(x)) {
			continue
		}
		pixels[i] = min(max(x/2+0.5, 0), 1)
	}
	return pixels, t.Shape[3], t.Shape[2], nil
}

// seed picks the base seed of a generation.
func (p *Pipeline) seed(requested *uint64) uint64 {
	switch {
	case requested != nil:
		return *requested
	case p.cfg.Seed != 0:
		return p.cfg.Seed
	default:
		return rand.Uint64()
	}
}

func outcome(err error) string {
	switch {
	case IsBusy(err):
		return "busy"
	case IsNotReady(err):
		return "not_ready"
	default:
		return "error"
	}
}
