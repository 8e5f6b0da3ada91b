package pipeline

import "github.com/prometheus/client_golang/prometheus"

var (
	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sdturbo",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Session run time by stage",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"stage"},
	)

	generations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sdturbo",
			Subsystem: "pipeline",
			Name:      "generations_total",
			Help:      "Generate calls by outcome",
		},
		[]string{"outcome"},
	)

	imagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sdturbo",
			Subsystem: "pipeline",
			Name:      "images_total",
			Help:      "Images decoded",
		},
	)

	ready = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sdturbo",
			Subsystem: "pipeline",
			Name:      "ready",
			Help:      "1 when all models are compiled",
		},
	)
)

func init() {
	prometheus.MustRegister(runDuration, generations, imagesTotal, ready)
}
