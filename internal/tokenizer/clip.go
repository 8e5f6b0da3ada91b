package tokenizer

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

const (
	startOfText = "<|startoftext|>"
	endOfText   = "<|endoftext|>"
	endOfWord   = "</w>"

	// wordCacheLimit bounds the per-word BPE cache; it is emptied when full.
	wordCacheLimit = 1 << 14
)

var pretokenize = regexp.MustCompile(`<\|startoftext\|>|<\|endoftext\|>|'s|'t|'re|'ve|'m|'ll|'d|\p{L}+|\p{N}|[^\s\p{L}\p{N}]+`)

// byteToRune is the byte-level alphabet: printable bytes map to themselves,
// the rest to code points from 256 upwards.
var byteToRune = func() [256]rune {
	var t [256]rune
	n := rune(0)
	for b := 0; b < 256; b++ {
		if (b >= '!' && b <= '~') || (b >= 0xa1 && b <= 0xac) || (b >= 0xae && b <= 0xff) {
			t[b] = rune(b)
			continue
		}
		t[b] = 256 + n
		n++
	}
	return t
}()

// CLIP is a byte-level BPE tokenizer using the vocab.json and merges.txt
// files shipped with CLIP text encoders.
type CLIP struct {
	vocab map[string]int32
	ranks map[string]int
	bos   int32
	eos   int32

	mu         sync.Mutex
	cache      map[string][]int32
	cacheLimit int
}

// NewCLIP parses a vocab.json object and a merges.txt file. Lines starting
// with '#' in merges are ignored.
func NewCLIP(vocabJSON, merges []byte) (*CLIP, error) {
	vocab := make(map[string]int32)
	if err := json.Unmarshal(vocabJSON, &vocab); err != nil {
		return nil, fmt.Errorf("parse vocab.json: %w", err)
	}
	if len(vocab) == 0 {
		return nil, fmt.Errorf("parse vocab.json: empty vocabulary")
	}
	ranks := make(map[string]int)
	sc := bufio.NewScanner(bytes.NewReader(merges))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if len(strings.Fields(line)) != 2 {
			return nil, fmt.Errorf("parse merges.txt: bad line %q", line)
		}
		if _, dup := ranks[line]; !dup {
			ranks[line] = len(ranks)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("parse merges.txt: %w", err)
	}
	c := &CLIP{vocab: vocab, ranks: ranks, bos: BOS, eos: EOS, cache: make(map[string][]int32), cacheLimit: wordCacheLimit}
	if id, ok := vocab[startOfText]; ok {
		c.bos = id
	}
	if id, ok := vocab[endOfText]; ok {
		c.eos = id
	}
	return c, nil
}

// Tokenize implements Tokenizer.
func (c *CLIP) Tokenize(text string, opts Options) ([]int32, error) {
	return Fit(c.Encode(text), opts, c.bos, c.eos, Pad)
}

// Encode returns the content ids of text without BOS, EOS or padding.
func (c *CLIP) Encode(text string) []int32 {
	text = strings.ToLower(strings.Join(strings.Fields(text), " "))
	var ids []int32
	for _, word := range pretokenize.FindAllString(text, -1) {
		if id, ok := c.vocab[word]; ok && (word == startOfText || word == endOfText) {
			ids = append(ids, id)
			continue
		}
		ids = append(ids, c.word(word)...)
	}
	return ids
}

func (c *CLIP) word(w string) []int32 {
	c.mu.Lock()
	ids, ok := c.cache[w]
	c.mu.Unlock()
	if ok {
		return ids
	}
	ids = c.bpe(w)
	c.mu.Lock()
	if len(c.cache) >= c.cacheLimit {
		clear(c.cache)
	}
	c.cache[w] = ids
	c.mu.Unlock()
	return ids
}

// bpe merges the lowest ranked adjacent pair until none is left. The last
// symbol carries the end-of-word marker.
func (c *CLIP) bpe(w string) []int32 {
	parts := make([]string, 0, len(w))
	for i := 0; i < len(w); i++ {
		parts = append(parts, string(byteToRune[w[i]]))
	}
	if len(parts) == 0 {
		return nil
	}
	parts[len(parts)-1] += endOfWord

	for len(parts) > 1 {
		best, at := -1, -1
		for i := 0; i < len(parts)-1; i++ {
			if r, ok := c.ranks[parts[i]+" "+parts[i+1]]; ok && (best < 0 || r < best) {
				best, at = r, i
			}
		}
		if at < 0 {
			break
		}
		parts[at] += parts[at+1]
		parts = append(parts[:at+1], parts[at+2:]...)
	}

	ids := make([]int32, 0, len(parts))
	for _, p := range parts {
		if id, ok := c.vocab[p]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}
