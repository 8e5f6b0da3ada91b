package httpapi

import (
	"bytes"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// zlog is the structured logger of the HTTP layer. Nop until SetLogger.
var zlog = zerolog.Nop()

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = l }

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch s {
	case "off", "":
		return LevelOff
	case "error", "warn":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// defaultLogLevel applies when a request carries no override.
var defaultLogLevel = LevelInfo

// SetDefaultLogLevel sets the request log level from a config name.
func SetDefaultLogLevel(s string) { defaultLogLevel = parseLevel(s) }

func requestLogLevel(r *http.Request) LogLevel {
	// Per-request overrides
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// requestLog carries the per-request level and identity for start/end lines.
type requestLog struct {
	lvl   LogLevel
	op    string
	rid   string
	start time.Time
}

func newRequestLog(r *http.Request, op string) *requestLog {
	return &requestLog{lvl: requestLogLevel(r), op: op, rid: middleware.GetReqID(r.Context()), start: time.Now()}
}

func (l *requestLog) event(e *zerolog.Event) *zerolog.Event {
	if l.rid != "" {
		e = e.Str("request_id", l.rid)
	}
	return e
}

func (l *requestLog) begin(fields map[string]any) {
	if l.lvl >= LevelInfo {
		l.event(zlog.Info()).Fields(fields).Msg(l.op + " start")
	}
}

func (l *requestLog) end(status int, err error) {
	switch {
	case err != nil && l.lvl >= LevelError:
		l.event(zlog.Warn()).Int("status", status).Dur("dur", time.Since(l.start)).Err(err).Msg(l.op + " end")
	case err == nil && l.lvl >= LevelInfo:
		l.event(zlog.Info()).Int("status", status).Dur("dur", time.Since(l.start)).Msg(l.op + " end")
	}
}

// loggingLineWriter logs complete NDJSON lines at debug level.
type loggingLineWriter struct {
	prefix string
	buf    []byte
}

func (lw *loggingLineWriter) Write(p []byte) (int, error) {
	lw.buf = append(lw.buf, p...)
	for {
		idx := bytes.IndexByte(lw.buf, '\n')
		if idx < 0 {
			break
		}
		if line := lw.buf[:idx]; len(line) > 0 {
			zlog.Debug().Str("line", string(line)).Msg(lw.prefix)
		}
		lw.buf = lw.buf[idx+1:]
	}
	return len(p), nil
}
