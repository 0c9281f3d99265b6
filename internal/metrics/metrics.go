package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rawblock/urlscan-engine/internal/intel"
	"github.com/rawblock/urlscan-engine/pkg/models"
)

// Prometheus instrumentation for the scan pipeline: verdict counters,
// per-stage latency histograms, and TI circuit-breaker state gauges.

// Registry bundles the engine's collectors.
type Registry struct {
	reg *prometheus.Registry

	scansTotal     *prometheus.CounterVec
	fastPathsTotal *prometheus.CounterVec
	scanErrors     prometheus.Counter
	stageSeconds   *prometheus.HistogramVec
	finalScore     prometheus.Histogram
	breakerState   *prometheus.GaugeVec
	subscribers    prometheus.GaugeFunc
}

// New builds a self-contained registry. subscriberCount may be nil.
func New(subscriberCount func() int) *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.scansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "urlscan",
		Name:      "scans_total",
		Help:      "Completed scans by risk level and pipeline.",
	}, []string{"risk_level", "pipeline"})

	r.fastPathsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "urlscan",
		Name:      "fast_paths_total",
		Help:      "Scans short-circuited by a stage-0 fast path.",
	}, []string{"fast_path"})

	r.scanErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "urlscan",
		Name:      "scan_errors_total",
		Help:      "Scans rejected at validation.",
	})

	r.stageSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "urlscan",
		Name:      "stage_duration_seconds",
		Help:      "Wall time per pipeline stage.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10, 20, 30},
	}, []string{"stage"})

	r.finalScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "urlscan",
		Name:      "final_score_ratio",
		Help:      "Final score as a fraction of the active max score.",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
	})

	r.breakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "urlscan",
		Name:      "ti_breaker_state",
		Help:      "TI source circuit-breaker state (0 closed, 1 half-open, 2 open).",
	}, []string{"source"})

	r.reg.MustRegister(r.scansTotal, r.fastPathsTotal, r.scanErrors,
		r.stageSeconds, r.finalScore, r.breakerState)

	if subscriberCount != nil {
		r.subscribers = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "urlscan",
			Name:      "event_subscribers",
			Help:      "Attached scan-event subscribers.",
		}, func() float64 { return float64(subscriberCount()) })
		r.reg.MustRegister(r.subscribers)
	}
	return r
}

// ObserveScan records a finished scan.
func (r *Registry) ObserveScan(result *models.FinalScanResult) {
	r.scansTotal.WithLabelValues(result.RiskLevel, string(result.Pipeline)).Inc()
	if result.FastPath != "" {
		r.fastPathsTotal.WithLabelValues(result.FastPath).Inc()
	}

	stages := map[string]int64{
		"stage0":     result.Stages.Stage0,
		"gather":     result.Stages.Gather,
		"categories": result.Stages.Categories,
		"ti_layer":   result.Stages.TILayer,
		"ai":         result.Stages.AI,
		"total":      result.Stages.Total,
	}
	for stage, ms := range stages {
		if ms > 0 {
			r.stageSeconds.WithLabelValues(stage).Observe(float64(ms) / 1000)
		}
	}
	if result.ActiveMaxScore > 0 {
		r.finalScore.Observe(result.FinalScore / result.ActiveMaxScore)
	}
}

// ObserveValidationError records a rejected submission.
func (r *Registry) ObserveValidationError() {
	r.scanErrors.Inc()
}

// UpdateBreakers refreshes the breaker gauges from the live TI roster.
func (r *Registry) UpdateBreakers(sources []*intel.Source) {
	for _, s := range sources {
		r.breakerState.WithLabelValues(s.Name()).Set(float64(s.BreakerState()))
	}
}

// Handler serves the registry in the standard exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Prometheus exposes the underlying registry, for tests and custom
// collectors.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.reg
}
