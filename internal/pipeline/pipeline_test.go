package pipeline

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"sdturbo/internal/engine"
	"sdturbo/internal/registry"
	"sdturbo/internal/session"
	"sdturbo/internal/tensor"
)

func TestGenerateEndToEndSynthetic(t *testing.T) {
	e := engine.NewSynthetic(engine.Config{})
	p := loaded(t, e, engine.ProviderWebGPU, nil)
	if !p.Ready() {
		t.Fatalf("pipeline not ready: %+v", p.Status())
	}

	res, err := p.Generate(context.Background(), Request{Prompt: "a red fox", Images: 1})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(res.Images) != 1 || res.ID == "" {
		t.Fatalf("unexpected result: id=%q images=%d", res.ID, len(res.Images))
	}
	img := res.Images[0]
	if img.Width != 512 || img.Height != 512 || img.Layout != LayoutNCHW || img.Format != FormatRGB {
		t.Fatalf("unexpected image header %+v", img.Timing)
	}
	if len(img.Pixels) != 3*512*512 {
		t.Fatalf("pixels=%d", len(img.Pixels))
	}
	for i, v := range img.Pixels {
		if !(v >= 0 && v <= 1) {
			t.Fatalf("pixel %d out of range: %v", i, v)
		}
	}
	if e.Live() != 0 {
		t.Fatalf("resident tensors leaked: %d", e.Live())
	}
	if img.Timing.Total < res.TextEncode {
		t.Fatalf("total %v excludes text encode %v", img.Timing.Total, res.TextEncode)
	}
	if p.Status().State != StateReady {
		t.Fatalf("state after generate=%s", p.Status().State)
	}
}

func TestGenerateSameSeedSamePixels(t *testing.T) {
	p := loaded(t, engine.NewSynthetic(engine.Config{}), engine.ProviderWebNN, nil)
	seed := uint64(1234)
	a, err := p.Generate(context.Background(), Request{Prompt: "x", Seed: &seed})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b, err := p.Generate(context.Background(), Request{Prompt: "x", Seed: &seed})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if a.Images[0].Seed != seed || !cmp.Equal(a.Images[0].Pixels, b.Images[0].Pixels) {
		t.Fatalf("same seed produced different images")
	}
}

func TestHiddenStateReleasedOnceOnSuccess(t *testing.T) {
	e := &stubEngine{}
	p := loaded(t, e, engine.ProviderWebNN, nil)
	res, err := p.Generate(context.Background(), Request{Prompt: "abc", Images: 3})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(res.Images) != 3 {
		t.Fatalf("images=%d", len(res.Images))
	}
	if e.releases() != 1 {
		t.Fatalf("hidden state released %d times", e.releases())
	}
	if e.sawReleased {
		t.Fatalf("hidden state released before the image loop finished")
	}
	for i, img := range res.Images {
		if img.Index != i || img.Width != 8 || img.Height != 8 {
			t.Fatalf("image %d header %+v", i, img)
		}
	}
}

func TestHiddenStateReleasedOnceWhenDecoderFails(t *testing.T) {
	for _, parallel := range []int{1, 3} {
		e := &stubEngine{failDecode: true}
		pub := NewMemoryPublisher()
		p := loaded(t, e, engine.ProviderWebNN, func(c *Config) {
			c.Parallel = parallel
			c.Publisher = pub
		})
		_, err := p.Generate(context.Background(), Request{Prompt: "abc", Images: 4})
		var ge *GenerationError
		if !errors.As(err, &ge) {
			t.Fatalf("parallel=%d: expected GenerationError, got %v", parallel, err)
		}
		if ge.Stage != registry.Decoder.String() || ge.Image < 0 {
			t.Fatalf("parallel=%d: stage=%s image=%d", parallel, ge.Stage, ge.Image)
		}
		if parallel == 1 && ge.Image != 0 {
			t.Fatalf("sequential run must stop at the first image, got %d", ge.Image)
		}
		if e.releases() != 1 {
			t.Fatalf("parallel=%d: hidden state released %d times", parallel, e.releases())
		}
		if p.Status().State != StateReady {
			t.Fatalf("parallel=%d: state=%s", parallel, p.Status().State)
		}
		names := pub.Names()
		if names[len(names)-1] != EventGenerateFailed {
			t.Fatalf("parallel=%d: events %v", parallel, names)
		}
	}
}

func TestGenerateParallelKeepsOrder(t *testing.T) {
	p := loaded(t, &stubEngine{}, engine.ProviderWebNN, func(c *Config) { c.Parallel = 3 })
	seed := uint64(10)
	res, err := p.Generate(context.Background(), Request{Prompt: "abc", Images: 5, Seed: &seed})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	for i, img := range res.Images {
		if img.Index != i || img.Seed != seed+uint64(i) {
			t.Fatalf("image %d: index=%d seed=%d", i, img.Index, img.Seed)
		}
	}
}

func TestGenerateRequiresReady(t *testing.T) {
	p := newPipeline(t, &stubEngine{}, engine.ProviderWebNN, &fakeArtifacts{}, nil)
	_, err := p.Generate(context.Background(), Request{Prompt: "x"})
	if !IsNotReady(err) {
		t.Fatalf("expected not ready, got %v", err)
	}
	if _, err := p.Generate(context.Background(), Request{Prompt: "x", Images: MaxImages + 1}); !IsInvalidRequest(err) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestSecondGenerateIsBusy(t *testing.T) {
	e := &stubEngine{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	p := loaded(t, e, engine.ProviderWebNN, nil)

	done := make(chan error, 1)
	go func() {
		_, err := p.Generate(context.Background(), Request{Prompt: "first"})
		done <- err
	}()
	<-e.entered

	if _, err := p.Generate(context.Background(), Request{Prompt: "second"}); !IsBusy(err) {
		t.Fatalf("expected busy, got %v", err)
	}
	if err := p.Load(context.Background(), false); !IsBusy(err) {
		t.Fatalf("expected load to be refused while generating, got %v", err)
	}
	if err := p.Close(); !IsBusy(err) {
		t.Fatalf("expected close to be refused while generating, got %v", err)
	}
	close(e.block)
	if err := <-done; err != nil {
		t.Fatalf("first generate: %v", err)
	}
	if _, err := p.Generate(context.Background(), Request{Prompt: "third"}); err != nil {
		t.Fatalf("generate after release: %v", err)
	}
}

func TestLoadRecordsPerModelFailure(t *testing.T) {
	boom := errors.New("boom")
	a := &fakeArtifacts{fail: map[string]error{"unet": boom}}
	pub := NewMemoryPublisher()
	p := newPipeline(t, &stubEngine{}, engine.ProviderWebNN, a, func(c *Config) { c.Publisher = pub })

	err := p.Load(context.Background(), false)
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	st := p.Status()
	if st.State != StateFailed || st.Error == "" {
		t.Fatalf("status=%+v", st)
	}
	got := []session.State{st.Models[0].State, st.Models[1].State, st.Models[2].State}
	if diff := cmp.Diff([]session.State{session.Ready, session.Failed, session.Ready}, got); diff != "" {
		t.Fatalf("model states (-want +got):\n%s", diff)
	}
	if st.Models[1].Error != "boom" || st.Progress != 100 {
		t.Fatalf("unet error=%q progress=%v", st.Models[1].Error, st.Progress)
	}
	if _, err := p.Generate(context.Background(), Request{Prompt: "x"}); !IsNotReady(err) {
		t.Fatalf("expected not ready after failed load, got %v", err)
	}
	want := []string{EventLoadStart, EventModelReady, EventModelFailed, EventModelReady, EventLoadDone}
	if diff := cmp.Diff(want, pub.Names()); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}

	delete(a.fail, "unet")
	if err := p.Load(context.Background(), false); err != nil || !p.Ready() {
		t.Fatalf("reload: %v", err)
	}
}

func TestCapabilityErrorBeforeAnyFetch(t *testing.T) {
	a := &fakeArtifacts{}
	p := newPipeline(t, &stubEngine{caps: engine.Capabilities{ShaderF16: false}}, engine.ProviderWebGPU, a, nil)
	err := p.Load(context.Background(), false)
	if !session.IsCapabilityError(err) {
		t.Fatalf("expected CapabilityError, got %v", err)
	}
	if loads, fetches := a.counts(); loads != 0 || fetches != 0 {
		t.Fatalf("fetched despite capability error: loads=%d fetches=%d", loads, fetches)
	}
	if p.Status().State != StateFailed {
		t.Fatalf("state=%s", p.Status().State)
	}
}

func TestLoadFetchesTokenizerFromBase(t *testing.T) {
	a := &fakeArtifacts{aux: map[string]string{
		"tokenizer-vocab.json": `{"a</w>": 1, "<|startoftext|>": 49406, "<|endoftext|>": 49407}`,
		"tokenizer-merges.txt": "#version: 0.2\n",
	}}
	p := newPipeline(t, &stubEngine{}, engine.ProviderWebNN, a, func(c *Config) {
		c.Tokenizer = nil
		c.Base = "https://example.com/sd-turbo"
	})
	if err := p.Load(context.Background(), false); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, fetches := a.counts(); fetches != 2 {
		t.Fatalf("fetches=%d", fetches)
	}
	if _, err := p.Generate(context.Background(), Request{Prompt: "a"}); err != nil {
		t.Fatalf("generate: %v", err)
	}
}

func TestNewValidatesDescriptors(t *testing.T) {
	c := session.New(&stubEngine{}, session.Config{}, nopLogger())
	if _, err := New(&fakeArtifacts{}, c, nil, Config{Models: descriptors(t)[:2], Tokenizer: threeTokens{}}); err == nil {
		t.Fatalf("expected error for missing descriptor")
	}
	ds := descriptors(t)
	ds[2] = ds[0]
	if _, err := New(&fakeArtifacts{}, c, nil, Config{Models: ds, Tokenizer: threeTokens{}}); err == nil {
		t.Fatalf("expected error for duplicate descriptor")
	}
	if _, err := New(&fakeArtifacts{}, c, nil, Config{Models: descriptors(t)}); err == nil {
		t.Fatalf("expected error without tokenizer or base")
	}
}

func TestPostprocessClamps(t *testing.T) {
	in, _ := tensor.NewFloat32([]float32{-3, -1, 0, 1, 3, 0.5}, 1, 3, 1, 2)
	px, w, h, err := postprocess(in)
	if err != nil {
		t.Fatalf("postprocess: %v", err)
	}
	if w != 2 || h != 1 {
		t.Fatalf("w=%d h=%d", w, h)
	}
	if diff := cmp.Diff([]float32{0, 0, 0.5, 1, 1, 0.75}, px); diff != "" {
		t.Fatalf("pixels (-want +got):\n%s", diff)
	}
	nan := float32(math.NaN())
	in, _ = tensor.NewFloat32([]float32{nan, 0, float32(math.Inf(1)), float32(math.Inf(-1)), nan, -nan}, 1, 3, 1, 2)
	px, _, _, err = postprocess(in)
	if err != nil {
		t.Fatalf("postprocess: %v", err)
	}
	if diff := cmp.Diff([]float32{0, 0.5, 1, 0, 0, 0}, px); diff != "" {
		t.Fatalf("non-finite pixels (-want +got):\n%s", diff)
	}
	bad, _ := tensor.NewFloat32(make([]float32, 4), 1, 4, 1, 1)
	if _, _, _, err := postprocess(bad); err == nil {
		t.Fatalf("expected shape error")
	}
}
