package registry

import (
	"math"
	"path/filepath"
	"strings"
	"testing"
)

func TestWeightsSumToHundred(t *testing.T) {
	var sum float64
	for _, k := range Kinds {
		sum += k.FetchWeight() + k.CompileWeight()
	}
	if math.Abs(sum-100) > 1e-9 {
		t.Fatalf("weights sum to %v", sum)
	}
	if TextEncoder.FetchWeight() != 20 || Denoiser.FetchWeight() != 50 || Decoder.FetchWeight() != 8 {
		t.Fatalf("unexpected fetch weights")
	}
	if Denoiser.CachedWeight() != 50 {
		t.Fatalf("cached weight=%v", Denoiser.CachedWeight())
	}
}

func TestDescriptorsHTTP(t *testing.T) {
	ds, err := Descriptors("https://example.com/sd-turbo")
	if err != nil {
		t.Fatalf("descriptors: %v", err)
	}
	want := []string{
		"https://example.com/sd-turbo/text_encoder/model_layernorm.onnx",
		"https://example.com/sd-turbo/unet/model_layernorm.onnx",
		"https://example.com/sd-turbo/vae_decoder/model.onnx",
	}
	for i, d := range ds {
		if d.URL != want[i] {
			t.Fatalf("descriptor %d url=%s", i, d.URL)
		}
		if d.Name != d.Kind.String() {
			t.Fatalf("name %q != kind %q", d.Name, d.Kind)
		}
	}
	if ds[2].Options.FreeDimensionOverrides["height"] != 64 {
		t.Fatalf("decoder overrides missing: %+v", ds[2].Options)
	}
	if ds[0].Options.GraphOptimizationLevel != "disabled" {
		t.Fatalf("encoder options missing")
	}
}

func TestDescriptorsLocalDir(t *testing.T) {
	dir := t.TempDir()
	ds, err := Descriptors(dir)
	if err != nil {
		t.Fatalf("descriptors: %v", err)
	}
	if !strings.HasPrefix(ds[1].URL, "file://") || !strings.HasSuffix(ds[1].URL, "/unet/model_layernorm.onnx") {
		t.Fatalf("unexpected url %s", ds[1].URL)
	}
	if !strings.Contains(ds[1].URL, filepath.ToSlash(dir)) {
		t.Fatalf("url %s does not contain %s", ds[1].URL, dir)
	}
	if _, err := Descriptors(""); err == nil {
		t.Fatalf("expected empty base error")
	}
}

func TestDescriptorOptionsAreCopies(t *testing.T) {
	ds, _ := Descriptors("https://example.com")
	ds[2].Options.FreeDimensionOverrides["batch"] = 7
	again, _ := Descriptors("https://example.com")
	if again[2].Options.FreeDimensionOverrides["batch"] != 1 {
		t.Fatalf("descriptor options alias package state")
	}
}
