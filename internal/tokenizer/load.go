package tokenizer

import (
	"context"
	"fmt"
	"path"

	"sdturbo/internal/registry"
)

// Vocabulary artifacts relative to the model base.
const (
	VocabPath  = "tokenizer/vocab.json"
	MergesPath = "tokenizer/merges.txt"
)

// Fetcher retrieves a named auxiliary artifact, using a cache when allowed.
type Fetcher interface {
	Fetch(ctx context.Context, name, url string, forceRefresh bool) ([]byte, error)
}

// Load fetches the vocabulary and merges next to the models at base and
// builds a CLIP tokenizer from them.
func Load(ctx context.Context, f Fetcher, base string, forceRefresh bool) (*CLIP, error) {
	files := make([][]byte, 0, 2)
	for _, rel := range []string{VocabPath, MergesPath} {
		u, err := registry.Resolve(base, rel)
		if err != nil {
			return nil, err
		}
		b, err := f.Fetch(ctx, "tokenizer-"+path.Base(rel), u, forceRefresh)
		if err != nil {
			return nil, fmt.Errorf("load tokenizer: %w", err)
		}
		files = append(files, b)
	}
	return NewCLIP(files[0], files[1])
}
