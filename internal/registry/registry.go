// Package registry describes the three models of the pipeline and resolves
// where to fetch them from.
package registry

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"sdturbo/internal/common/fsutil"
	"sdturbo/internal/engine"
)

// Kind identifies a pipeline model. Per-kind data (artifact path, progress
// weights, session options) hangs off the kind instead of its name.
type Kind int

const (
	TextEncoder Kind = iota
	Denoiser
	Decoder
)

// Kinds lists every model in load order.
var Kinds = []Kind{TextEncoder, Denoiser, Decoder}

type kindInfo struct {
	name  string
	label string
	file  string
	size  string
	// fetchWeight and compileWeight are percentage points of the total
	// load progress; the six of them add up to 100.
	fetchWeight   float64
	compileWeight float64
	options       engine.Options
}

var kinds = [...]kindInfo{
	TextEncoder: {
		name:          "text_encoder",
		label:         "Text Encoder",
		file:          "text_encoder/model_layernorm.onnx",
		size:          "649MB",
		fetchWeight:   20,
		compileWeight: 5,
		options:       engine.Options{GraphOptimizationLevel: "disabled"},
	},
	Denoiser: {
		name:          "unet",
		label:         "UNet",
		file:          "unet/model_layernorm.onnx",
		size:          "1.61GB",
		fetchWeight:   50,
		compileWeight: 15,
		options:       engine.Options{GraphOptimizationLevel: "disabled"},
	},
	Decoder: {
		name:          "vae_decoder",
		label:         "VAE Decoder",
		file:          "vae_decoder/model.onnx",
		size:          "94.5MB",
		fetchWeight:   8,
		compileWeight: 2,
		options: engine.Options{FreeDimensionOverrides: map[string]int{
			"batch": 1, "channels": 4, "height": 64, "width": 64,
		}},
	},
}

func (k Kind) info() kindInfo {
	if k < 0 || int(k) >= len(kinds) {
		panic(fmt.Sprintf("registry: invalid kind %d", int(k)))
	}
	return kinds[k]
}

// String is the model name, also used as the cache entry name.
func (k Kind) String() string { return k.info().name }

// Label is a human readable model name for logs.
func (k Kind) Label() string { return k.info().label }

// FetchWeight is the share of total progress assigned to fetching.
func (k Kind) FetchWeight() float64 { return k.info().fetchWeight }

// CompileWeight is the share of total progress assigned to compiling.
func (k Kind) CompileWeight() float64 { return k.info().compileWeight }

// CachedWeight is the fetch contribution recorded when the artifact comes
// from the local store, where byte progress is not observed. It is the full
// fetch weight.
func (k Kind) CachedWeight() float64 { return k.info().fetchWeight }

// Descriptor is the immutable configuration of one pipeline model.
type Descriptor struct {
	Kind    Kind
	Name    string
	URL     string
	Size    string
	Options engine.Options
}

// Descriptors resolves the three model descriptors against base, which is
// either an http(s) URL or a local directory (a leading '~' is expanded).
func Descriptors(base string) ([]Descriptor, error) {
	out := make([]Descriptor, 0, len(Kinds))
	for _, k := range Kinds {
		u, err := Resolve(base, k.info().file)
		if err != nil {
			return nil, err
		}
		info := k.info()
		out = append(out, Descriptor{
			Kind:    k,
			Name:    info.name,
			URL:     u,
			Size:    info.size,
			Options: engine.Options{}.Merge(info.options),
		})
	}
	return out, nil
}

// Resolve joins a relative artifact path onto base. Local directories are
// turned into file:// URLs.
func Resolve(base, rel string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("registry: empty model location")
	}
	if strings.HasPrefix(base, "http://") || strings.HasPrefix(base, "https://") || strings.HasPrefix(base, "file://") {
		u, err := url.JoinPath(base, rel)
		if err != nil {
			return "", fmt.Errorf("registry: join %s: %w", base, err)
		}
		return u, nil
	}
	dir, err := fsutil.ExpandHome(base)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("abs path: %w", err)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(abs, rel))}
	return u.String(), nil
}
