package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"sdturbo/internal/progress"
	"sdturbo/internal/registry"
	"sdturbo/internal/store"
)

// chunkReader returns at most size bytes per Read.
type chunkReader struct {
	data []byte
	size int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := min(len(p), r.size, len(r.data))
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}
	return b
}

func TestReadBodyGrowsPastDeclaredLength(t *testing.T) {
	want := pattern(1000)
	calls := 0
	got, err := readBody(&chunkReader{data: want, size: 37}, 0, func(float64) { calls++ })
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("bytes dropped or reordered: len=%d", len(got))
	}
	if calls != 0 {
		t.Fatalf("progress reported without declared length: %d", calls)
	}
}

func TestReadBodyReportsRatioPerChunk(t *testing.T) {
	want := pattern(1000)
	var ratios []float64
	got, err := readBody(&chunkReader{data: want, size: 37}, 400, func(r float64) { ratios = append(ratios, r) })
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("bytes dropped or reordered when exceeding declared length")
	}
	if len(ratios) != 28 {
		t.Fatalf("expected one report per chunk, got %d", len(ratios))
	}
	if ratios[len(ratios)-1] != 2.5 {
		t.Fatalf("last ratio=%v", ratios[len(ratios)-1])
	}
}

func newServer(t *testing.T, body []byte, withLength bool) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if withLength {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			_, _ = w.Write(body)
			return
		}
		f := w.(http.Flusher)
		for off := 0; off < len(body); off += 100 {
			end := min(off+100, len(body))
			_, _ = w.Write(body[off:end])
			f.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func descriptor(t *testing.T, base string, k registry.Kind) registry.Descriptor {
	t.Helper()
	ds, err := registry.Descriptors(base)
	if err != nil {
		t.Fatalf("descriptors: %v", err)
	}
	return ds[k]
}

func TestLoadCacheHitSkipsFetch(t *testing.T) {
	srv, hits := newServer(t, []byte("remote"), true)
	st := store.NewMemory()
	_ = st.Write("unet", []byte("cached"))
	tr := progress.NewTracker()
	l := New(st, tr)

	b, err := l.Load(context.Background(), descriptor(t, srv.URL, registry.Denoiser), false)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(b) != "cached" {
		t.Fatalf("got %q", b)
	}
	if hits.Load() != 0 {
		t.Fatalf("fetch invoked %d times on cache hit", hits.Load())
	}
	if got := tr.Snapshot().Part(registry.Denoiser, progress.Fetch); got != 50 {
		t.Fatalf("cached contribution=%v", got)
	}
}

func TestLoadFetchesPersistsAndReports(t *testing.T) {
	body := pattern(4096)
	srv, hits := newServer(t, body, true)
	st := store.NewMemory()
	tr := progress.NewTracker()
	var mu sync.Mutex
	var totals []float64
	tr.Subscribe(func(u progress.Update) {
		mu.Lock()
		totals = append(totals, u.Total)
		mu.Unlock()
	})
	l := New(st, tr)

	b, err := l.Load(context.Background(), descriptor(t, srv.URL, registry.TextEncoder), false)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !bytes.Equal(b, body) || hits.Load() != 1 {
		t.Fatalf("unexpected body len=%d hits=%d", len(b), hits.Load())
	}
	cached, err := st.Read("text_encoder")
	if err != nil || !bytes.Equal(cached, body) {
		t.Fatalf("artifact not persisted: %v", err)
	}
	if got := tr.Snapshot().Part(registry.TextEncoder, progress.Fetch); got != 20 {
		t.Fatalf("fetch contribution=%v", got)
	}
	for i := 1; i < len(totals); i++ {
		if totals[i] < totals[i-1] || totals[i] > 100 {
			t.Fatalf("progress not monotonic: %v", totals)
		}
	}
}

func TestLoadWithoutContentLengthCompletes(t *testing.T) {
	body := pattern(1000)
	srv, _ := newServer(t, body, false)
	tr := progress.NewTracker()
	l := New(store.NewMemory(), tr)
	b, err := l.Load(context.Background(), descriptor(t, srv.URL, registry.Decoder), false)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !bytes.Equal(b, body) {
		t.Fatalf("body mismatch")
	}
	if got := tr.Snapshot().Part(registry.Decoder, progress.Fetch); got != 8 {
		t.Fatalf("fetch contribution=%v", got)
	}
}

func TestLoadForceRefreshOverwrites(t *testing.T) {
	srv, hits := newServer(t, []byte("fresh"), true)
	st := store.NewMemory()
	_ = st.Write("unet", []byte("stale"))
	l := New(st, progress.NewTracker())
	b, err := l.Load(context.Background(), descriptor(t, srv.URL, registry.Denoiser), true)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(b) != "fresh" || hits.Load() != 1 {
		t.Fatalf("got %q hits=%d", b, hits.Load())
	}
	if cached, _ := st.Read("unet"); string(cached) != "fresh" {
		t.Fatalf("cache not overwritten: %q", cached)
	}
}

func TestLoadErrors(t *testing.T) {
	notFound := httptest.NewServer(http.NotFoundHandler())
	defer notFound.Close()
	l := New(store.NewMemory(), progress.NewTracker())
	_, err := l.Load(context.Background(), descriptor(t, notFound.URL, registry.Denoiser), false)
	if !IsFetchError(err) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fe := err.(*FetchError); fe.Status != http.StatusNotFound {
		t.Fatalf("status=%d", fe.Status)
	}

	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()
	_, err = l.Load(context.Background(), descriptor(t, closed.URL, registry.Denoiser), false)
	if !IsFetchError(err) {
		t.Fatalf("expected FetchError for unreachable host, got %v", err)
	}
}

func TestLoadFromLocalDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "vae_decoder"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "vae_decoder", "model.onnx"), []byte("weights"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	l := New(store.NewMemory(), progress.NewTracker())
	b, err := l.Load(context.Background(), descriptor(t, dir, registry.Decoder), false)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(b) != "weights" {
		t.Fatalf("got %q", b)
	}
}

func TestFetchAuxiliaryUsesCache(t *testing.T) {
	srv, hits := newServer(t, []byte(`{"a":1}`), true)
	l := New(store.NewMemory(), progress.NewTracker())
	for i := 0; i < 2; i++ {
		b, err := l.Fetch(context.Background(), "vocab.json", srv.URL+"/tokenizer/vocab.json", false)
		if err != nil || string(b) != `{"a":1}` {
			t.Fatalf("fetch: %q %v", b, err)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("hits=%d", hits.Load())
	}
}

// brokenStore fails every Read with an I/O error and accepts writes.
type brokenStore struct{ *store.Memory }

func (brokenStore) Read(string) ([]byte, error) { return nil, errors.New("disk on fire") }

func TestFetchLogsBrokenCacheAndRefetches(t *testing.T) {
	srv, hits := newServer(t, []byte(`{"a":1}`), true)
	var buf bytes.Buffer
	l := New(brokenStore{store.NewMemory()}, progress.NewTracker(), WithLogger(zerolog.New(&buf)))
	b, err := l.Fetch(context.Background(), "vocab.json", srv.URL+"/tokenizer/vocab.json", false)
	if err != nil || string(b) != `{"a":1}` {
		t.Fatalf("fetch: %q %v", b, err)
	}
	if hits.Load() != 1 {
		t.Fatalf("hits=%d", hits.Load())
	}
	if !strings.Contains(buf.String(), "cache read failed") || !strings.Contains(buf.String(), "disk on fire") {
		t.Fatalf("expected cache warning, got %q", buf.String())
	}
}
