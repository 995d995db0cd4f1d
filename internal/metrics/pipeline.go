package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "detectnode",
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Pipeline runs by kind and terminal outcome",
	}, []string{"pipeline", "outcome"})

	pipelineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "detectnode",
		Subsystem: "pipeline",
		Name:      "duration_seconds",
		Help:      "Pipeline run duration",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"pipeline"})

	earlyExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "detectnode",
		Subsystem: "pipeline",
		Name:      "early_exits_total",
		Help:      "Runs ended early by a hazard trigger",
	}, []string{"trigger"})
)

// PipelineFinished records one terminated run.
func PipelineFinished(pipeline, outcome, trigger string, took time.Duration) {
	pipelineRuns.WithLabelValues(pipeline, outcome).Inc()
	pipelineDuration.WithLabelValues(pipeline).Observe(took.Seconds())
	if trigger != "" {
		earlyExits.WithLabelValues(trigger).Inc()
	}

	cacheMu.Lock()
	pipelines[outcome]++
	cacheMu.Unlock()
}

// HTTPHandler returns the Prometheus metrics HTTP handler.
func HTTPHandler() http.Handler {
	return promhttp.Handler()
}
