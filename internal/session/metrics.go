package session

import "github.com/prometheus/client_golang/prometheus"

var (
	compileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sdturbo",
			Subsystem: "session",
			Name:      "compile_duration_seconds",
			Help:      "Time to compile a model into a session",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60},
		},
		[]string{"model", "provider"},
	)

	compileErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sdturbo",
			Subsystem: "session",
			Name:      "compile_errors_total",
			Help:      "Failed model compilations",
		},
		[]string{"model", "provider"},
	)
)

func init() {
	prometheus.MustRegister(compileDuration, compileErrors)
}
