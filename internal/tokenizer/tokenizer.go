// Package tokenizer maps prompts to the fixed-length token id sequences the
// text encoder consumes.
package tokenizer

import (
	"errors"
	"fmt"
)

// CLIP special token ids. Padding uses id 0 rather than the vocabulary's
// end-of-text token.
const (
	BOS       int32 = 49406
	EOS       int32 = 49407
	Pad       int32 = 0
	MaxLength       = 77
)

// ErrTooLong is returned when a prompt does not fit and truncation is off.
var ErrTooLong = errors.New("tokenizer: prompt exceeds max length")

// Options control the shape of the returned sequence.
type Options struct {
	MaxLength  int
	Padding    bool
	Truncation bool
}

// DefaultOptions pads and truncates to the text encoder's 77 positions.
var DefaultOptions = Options{MaxLength: MaxLength, Padding: true, Truncation: true}

// Tokenizer turns text into token ids framed by BOS and EOS.
type Tokenizer interface {
	Tokenize(text string, opts Options) ([]int32, error)
}

// Fit frames content with bos and eos, truncating content so the frame fits
// opts.MaxLength and padding with pad when opts.Padding is set. A zero
// MaxLength means unbounded.
func Fit(content []int32, opts Options, bos, eos, pad int32) ([]int32, error) {
	if opts.MaxLength > 0 && opts.MaxLength < 2 {
		return nil, fmt.Errorf("tokenizer: max length %d cannot hold bos and eos", opts.MaxLength)
	}
	if room := opts.MaxLength - 2; opts.MaxLength > 0 && len(content) > room {
		if !opts.Truncation {
			return nil, fmt.Errorf("%w: %d tokens, limit %d", ErrTooLong, len(content)+2, opts.MaxLength)
		}
		content = content[:room]
	}
	n := len(content) + 2
	if opts.Padding && opts.MaxLength > n {
		n = opts.MaxLength
	}
	ids := make([]int32, 0, n)
	ids = append(ids, bos)
	ids = append(ids, content...)
	ids = append(ids, eos)
	for len(ids) < n {
		ids = append(ids, pad)
	}
	return ids, nil
}
