package pipeline

import (
	"time"

	"sdturbo/internal/registry"
	"sdturbo/internal/session"
)

// State is the pipeline lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateLoading    State = "loading"
	StateReady      State = "ready"
	StateGenerating State = "generating"
	StateFailed     State = "failed"
)

// Pixel layout of delivered images.
const (
	LayoutNCHW = "NCHW"
	FormatRGB  = "RGB"
)

// Request is one generation call. Zero Images uses the configured default;
// a nil Seed draws one.
type Request struct {
	Prompt string
	Images int
	Seed   *uint64
}

// Timing is the per-image breakdown. Total includes the shared text encode.
type Timing struct {
	Denoise time.Duration
	Decode  time.Duration
	Total   time.Duration
}

// Image is one decoded image: planar RGB values in [0,1].
type Image struct {
	Index  int
	Width  int
	Height int
	Layout string
	Format string
	Pixels []float32
	Seed   uint64
	Timing Timing
}

// Result is the outcome of a successful Generate.
type Result struct {
	ID         string
	Images     []Image
	TextEncode time.Duration
}

// ModelStatus is the per-model view of the last load.
type ModelStatus struct {
	Kind        registry.Kind
	Name        string
	URL         string
	Size        string
	State       session.State
	Error       string
	FetchTime   time.Duration
	CompileTime time.Duration
}

// Status is a read-only projection of the pipeline.
type Status struct {
	State       State
	Provider    string
	Error       string
	Progress    float64
	Models      []ModelStatus
	Generations uint64
	LastLoad    time.Time
}
