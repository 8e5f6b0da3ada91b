package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sdturbo/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Models() []types.Model
	Status() types.StatusResponse
	Ready() bool
	Load(ctx context.Context, refresh bool) (types.LoadResponse, error)
	Generate(ctx context.Context, req types.GenerateRequest) (*types.GenerateResponse, error)
	// WatchProgress delivers the current progress and every later update
	// to fn until cancel is called.
	WatchProgress(fn func(types.ProgressEvent)) (cancel func())
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Group(func(r chi.Router) {
		// Compression for JSON endpoints
		r.Use(middleware.Compress(5))
		r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, types.ModelsResponse{Models: svc.Models()})
		})
		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, svc.Status())
		})
		r.With(inflight("/load")).Post("/load", loadHandler(svc))
		r.With(inflight("/generate")).Post("/generate", generateHandler(svc))
	})

	r.With(inflight("/progress")).Get("/progress", progressHandler(svc))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

func loadHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		refresh := r.URL.Query().Get("refresh")
		force := refresh == "1" || strings.EqualFold(refresh, "true")
		rl := newRequestLog(r, "load")
		rl.begin(map[string]any{"refresh": force})

		// Join server base context with request context so shutdown cancels work too.
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		resp, err := svc.Load(ctx, force)
		if err != nil {
			if r.Context().Err() != nil {
				return
			}
			fail(w, rl, err)
			return
		}
		rl.end(http.StatusOK, nil)
		writeJSON(w, resp)
	}
}

func generateHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Content-Type check
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		// Limit body size (configurable, default 1MiB)
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.GenerateRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			writeJSONError(w, http.StatusBadRequest, "prompt is required")
			return
		}
		rl := newRequestLog(r, "generate")
		rl.begin(map[string]any{"images": req.Images, "format": req.Format})

		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if generateTimeout > 0 {
			var tcancel context.CancelFunc
			ctx, tcancel = context.WithTimeout(ctx, generateTimeout)
			defer tcancel()
		}
		resp, err := svc.Generate(ctx, req)
		if err != nil {
			// If the client went away there is nobody to answer.
			if r.Context().Err() != nil {
				return
			}
			fail(w, rl, err)
			return
		}
		rl.end(http.StatusOK, nil)
		writeJSON(w, resp)
	}
}

// progressHandler streams load progress as NDJSON until the load finishes
// or the client disconnects.
func progressHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rl := newRequestLog(r, "progress")
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Cache-Control", "no-cache")
		flusher, _ := w.(http.Flusher)

		events := make(chan types.ProgressEvent, 64)
		cancel := svc.WatchProgress(func(ev types.ProgressEvent) {
			for {
				select {
				case events <- ev:
					return
				default:
				}
				// slow reader: intermediate totals may be dropped, the
				// final line may not
				if !ev.Done {
					return
				}
				select {
				case <-events:
				default:
				}
			}
		})
		defer cancel()

		out := io.Writer(w)
		if rl.lvl >= LevelDebug {
			out = io.MultiWriter(w, &loggingLineWriter{prefix: "progress>"})
		}
		enc := json.NewEncoder(out)
		for {
			select {
			case ev := <-events:
				if err := enc.Encode(ev); err != nil {
					return
				}
				if flusher != nil {
					flusher.Flush()
				}
				if ev.Done {
					rl.end(http.StatusOK, nil)
					return
				}
			case <-r.Context().Done():
				return
			case <-serverBaseCtx.Done():
				return
			}
		}
	}
}

func fail(w http.ResponseWriter, rl *requestLog, err error) {
	status := statusFor(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure(rl.op)
	}
	rl.end(status, err)
	writeJSONError(w, status, err.Error())
}
