// Package cache obtains model artifacts, from the local store when present
// and from the model location otherwise, reporting fetch progress.
package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"sdturbo/internal/progress"
	"sdturbo/internal/registry"
	"sdturbo/internal/store"
)

// Loader fetches and caches model artifacts.
type Loader struct {
	store    store.Store
	client   *http.Client
	progress *progress.Tracker
	log      zerolog.Logger
}

// Option customizes a Loader.
type Option func(*Loader)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option { return func(l *Loader) { l.client = c } }

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option { return func(l *Loader) { l.log = log } }

// New returns a Loader persisting into st and reporting into tr. The
// default HTTP client also understands file:// URLs.
func New(st store.Store, tr *progress.Tracker, opts ...Option) *Loader {
	l := &Loader{store: st, progress: tr, log: zerolog.Nop()}
	for _, o := range opts {
		o(l)
	}
	if l.client == nil {
		l.client = defaultClient()
	}
	return l
}

func defaultClient() *http.Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.RegisterProtocol("file", http.NewFileTransport(http.Dir("/")))
	return &http.Client{Transport: t}
}

// Load returns the artifact for d. Unless forceRefresh is set, a cached
// entry named d.Name is returned without touching the network; its fetch
// progress is recorded as the fixed cached weight because byte progress is
// not observed for local reads.
func (l *Loader) Load(ctx context.Context, d registry.Descriptor, forceRefresh bool) ([]byte, error) {
	start := time.Now()
	log := l.log.With().Str("model", d.Kind.Label()).Logger()
	if !forceRefresh {
		b, err := l.store.Read(d.Name)
		switch {
		case err == nil:
			l.progress.Set(d.Kind, progress.Fetch, d.Kind.CachedWeight())
			fetchDuration.WithLabelValues(d.Name, "cache").Observe(time.Since(start).Seconds())
			log.Debug().Int("bytes", len(b)).Msg("artifact read from cache")
			return b, nil
		case !errors.Is(err, store.ErrNotFound):
			log.Warn().Err(err).Msg("cache read failed, fetching")
		}
	}
	b, err := l.fetch(ctx, d.Name, d.URL, func(ratio float64) {
		l.progress.Report(d.Kind, progress.Fetch, ratio)
	})
	if err != nil {
		fetchErrors.WithLabelValues(d.Name).Inc()
		return nil, err
	}
	// Completion counts as the full weight even when the server sent no
	// length and no byte progress was reported.
	l.progress.Report(d.Kind, progress.Fetch, 1)
	fetchDuration.WithLabelValues(d.Name, "network").Observe(time.Since(start).Seconds())
	fetchBytes.WithLabelValues(d.Name).Add(float64(len(b)))
	log.Debug().Int("bytes", len(b)).Dur("dur", time.Since(start)).Msg("artifact fetched")
	return b, nil
}

// Fetch is Load for auxiliary files (tokenizer vocabularies) that take no
// part in load progress.
func (l *Loader) Fetch(ctx context.Context, name, url string, forceRefresh bool) ([]byte, error) {
	if !forceRefresh {
		b, err := l.store.Read(name)
		switch {
		case err == nil:
			return b, nil
		case !errors.Is(err, store.ErrNotFound):
			l.log.Warn().Err(err).Str("name", name).Msg("cache read failed, fetching")
		}
	}
	return l.fetch(ctx, name, url, nil)
}

func (l *Loader) fetch(ctx context.Context, name, url string, report func(float64)) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Name: name, URL: url, Err: err}
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, &FetchError{Name: name, URL: url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Name: name, URL: url, Status: resp.StatusCode}
	}
	declared := resp.ContentLength
	if declared < 0 {
		declared = 0
	}
	b, err := readBody(resp.Body, declared, report)
	if err != nil {
		return nil, &FetchError{Name: name, URL: url, Err: err}
	}
	if err := l.store.Write(name, b); err != nil {
		return nil, &FetchError{Name: name, URL: url, Err: err}
	}
	return b, nil
}

// readBody accumulates r into a buffer sized for the declared length. The
// buffer grows when more bytes arrive than declared. After every chunk
// report receives received/declared; with no declared length nothing is
// reported.
func readBody(r io.Reader, declared int64, report func(float64)) ([]byte, error) {
	var buf bytes.Buffer
	if declared > 0 && declared <= math.MaxInt32 {
		buf.Grow(int(declared))
	}
	pw := &progressWriter{declared: declared, report: report}
	if _, err := io.Copy(io.MultiWriter(&buf, pw), r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type progressWriter struct {
	received int64
	declared int64
	report   func(float64)
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.received += int64(len(p))
	if w.declared > 0 && w.report != nil {
		w.report(float64(w.received) / float64(w.declared))
	}
	return len(p), nil
}
