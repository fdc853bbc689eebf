package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run outcomes.
const (
	OutcomeComplete = "complete"
	OutcomePartial  = "partial"
	OutcomeRejected = "rejected"
)

// Recorder holds the analysis run counters. A nil *Recorder is a no-op.
type Recorder struct {
	runs            *prometheus.CounterVec
	runDuration     prometheus.Histogram
	entities        *prometheus.CounterVec
	fallbacks       *prometheus.CounterVec
	forecastSeconds prometheus.Histogram
	rejected        prometheus.Counter
	gatherer        prometheus.Gatherer
}

// NewRecorder registers the collectors on reg. Pass a fresh prometheus.NewRegistry() in tests.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	r := &Recorder{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "salesinsight_analysis_runs_total",
			Help: "Analysis runs by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "salesinsight_analysis_run_duration_seconds",
			Help:    "Wall time of an analysis run.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		entities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "salesinsight_forecast_entities_total",
			Help: "Forecast entities by status (ok, degraded, unavailable, cancelled).",
		}, []string{"status"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "salesinsight_forecast_model_failures_total",
			Help: "Model fits that failed and fell back to the remaining models.",
		}, []string{"model"}),
		forecastSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "salesinsight_forecast_entity_duration_seconds",
			Help:    "Time to forecast one entity with every model.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 9),
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "salesinsight_records_rejected_total",
			Help: "Sales records excluded by sanity checks.",
		}),
		gatherer: reg,
	}
	reg.MustRegister(r.runs, r.runDuration, r.entities, r.fallbacks, r.forecastSeconds, r.rejected)
	return r
}

func (r *Recorder) ObserveRun(outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(outcome).Inc()
	r.runDuration.Observe(d.Seconds())
}

func (r *Recorder) IncEntity(status string) {
	if r == nil {
		return
	}
	r.entities.WithLabelValues(status).Inc()
}

func (r *Recorder) IncModelFailure(model string) {
	if r == nil {
		return
	}
	r.fallbacks.WithLabelValues(model).Inc()
}

func (r *Recorder) ObserveForecast(d time.Duration) {
	if r == nil {
		return
	}
	r.forecastSeconds.Observe(d.Seconds())
}

func (r *Recorder) AddRejected(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.rejected.Add(float64(n))
}

// Handler serves the recorder's registry in the prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
