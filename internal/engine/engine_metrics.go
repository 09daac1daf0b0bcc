package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the alert engine.
type Metrics struct {
	SessionsActive     prometheus.Gauge
	SessionsTotal      *prometheus.CounterVec
	EvaluationsTotal   *prometheus.CounterVec
	EvaluationDuration prometheus.Histogram
	AlertsTotal        *prometheus.CounterVec
	AlertsSuppressed   prometheus.Counter
	DetectorDuration   *prometheus.HistogramVec
	DetectorFailures   *prometheus.CounterVec
	StaleUpdates       prometheus.Counter
	EvalsDiscarded     prometheus.Counter
}

// NewMetrics registers and returns engine metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_sessions_active",
			Help: "Live sessions currently in the registry.",
		}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_sessions_total",
			Help: "Session lifecycle events by outcome.",
		}, []string{"outcome"}),
		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_evaluations_total",
			Help: "Detector evaluation cycles by trigger.",
		}, []string{"trigger"}),
		EvaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pulse_evaluation_duration_seconds",
			Help:    "Duration of full evaluation cycles in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms .. ~5s
		}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_alerts_total",
			Help: "Alerts accepted after deduplication, by type and severity.",
		}, []string{"type", "severity"}),
		AlertsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_alerts_suppressed_total",
			Help: "Candidates suppressed because their fingerprint was already emitted.",
		}),
		DetectorDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pulse_detector_duration_seconds",
			Help:    "Duration of individual detector runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 11), // 5ms .. ~5s
		}, []string{"detector"}),
		DetectorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_detector_failures_total",
			Help: "Detector runs that contributed no candidates, by reason.",
		}, []string{"detector", "reason"}),
		StaleUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_stale_transcript_updates_total",
			Help: "Full-transcript updates discarded as stale (shorter than stored).",
		}),
		EvalsDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_evaluations_discarded_total",
			Help: "Evaluation results dropped because the session ended mid-flight.",
		}),
	}

	reg.MustRegister(
		m.SessionsActive,
		m.SessionsTotal,
		m.EvaluationsTotal,
		m.EvaluationDuration,
		m.AlertsTotal,
		m.AlertsSuppressed,
		m.DetectorDuration,
		m.DetectorFailures,
		m.StaleUpdates,
		m.EvalsDiscarded,
	)

	return m
}
