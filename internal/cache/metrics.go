package cache

import "github.com/prometheus/client_golang/prometheus"

var (
	fetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sdturbo",
			Subsystem: "cache",
			Name:      "load_duration_seconds",
			Help:      "Time to obtain a model artifact",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"model", "source"},
	)

	fetchBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sdturbo",
			Subsystem: "cache",
			Name:      "fetched_bytes_total",
			Help:      "Bytes downloaded from the model location",
		},
		[]string{"model"},
	)

	fetchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sdturbo",
			Subsystem: "cache",
			Name:      "fetch_errors_total",
			Help:      "Failed model fetches",
		},
		[]string{"model"},
	)
)

func init() {
	prometheus.MustRegister(fetchDuration, fetchBytes, fetchErrors)
}
