package pipeline

import (
	"github.com/rs/zerolog"

	"sdturbo/internal/registry"
	"sdturbo/internal/tokenizer"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultImages   = 4
	defaultParallel = 1
	// MaxImages bounds a single request.
	MaxImages = 16
)

// Config encapsulates all tunables for Pipeline construction.
type Config struct {
	// Models are the text encoder, denoiser and decoder descriptors in
	// load order.
	Models []registry.Descriptor
	// Base locates the tokenizer vocabulary when Tokenizer is nil.
	Base      string
	Tokenizer tokenizer.Tokenizer
	// Images is the default number of images per request.
	Images int
	// Parallel bounds how many images run at once.
	Parallel int
	// Seed makes noise reproducible. Zero draws a random base seed per
	// request.
	Seed      uint64
	Logger    zerolog.Logger
	Publisher EventPublisher
}

func (c Config) withDefaults() Config {
	if c.Images <= 0 {
		c.Images = defaultImages
	}
	if c.Images > MaxImages {
		c.Images = MaxImages
	}
	if c.Parallel <= 0 {
		c.Parallel = defaultParallel
	}
	if c.Publisher == nil {
		c.Publisher = noopPublisher{}
	}
	return c
}
