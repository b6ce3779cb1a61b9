package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels cycles that completed, possibly with per-device failures.
	OutcomeSuccess = "success"
	// OutcomeSkipped labels cycles skipped because no model artifact is loaded.
	OutcomeSkipped = "skipped"
	// OutcomeError labels cycles that aborted before scoring any device.
	OutcomeError = "error"
)

var (
	scoringCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdm_engine",
			Name:      "scoring_cycles_total",
			Help:      "Total number of scoring cycles, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	cycleDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pdm_engine",
			Name:      "scoring_cycle_seconds",
			Help:      "Scoring cycle latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 10},
		},
	)

	alertsEmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pdm_engine",
			Name:      "alerts_emitted_total",
			Help:      "Alerts emitted by the decision engine.",
		},
	)

	alertsSuppressedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pdm_engine",
			Name:      "alerts_suppressed_total",
			Help:      "Alerts suppressed by the per-device cooldown.",
		},
	)

	deviceFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pdm_engine",
			Name:      "device_failures_total",
			Help:      "Per-device scoring failures isolated within a cycle.",
		},
	)

	trainingRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdm_engine",
			Name:      "training_runs_total",
			Help:      "Offline training runs, partitioned by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register attaches pdm-engine collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		scoringCyclesTotal,
		cycleDurationSeconds,
		alertsEmittedTotal,
		alertsSuppressedTotal,
		deviceFailuresTotal,
		trainingRunsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveCycle records a scoring cycle duration and outcome label.
func ObserveCycle(duration time.Duration, outcome string) {
	scoringCyclesTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	cycleDurationSeconds.Observe(duration.Seconds())
}

// CountAlert records an emitted alert.
func CountAlert() { alertsEmittedTotal.Inc() }

// CountSuppressed records a cooldown suppression.
func CountSuppressed() { alertsSuppressedTotal.Inc() }

// CountDeviceFailure records an isolated per-device failure.
func CountDeviceFailure() { deviceFailuresTotal.Inc() }

// CountTrainingRun records a training run outcome.
func CountTrainingRun(outcome string) {
	trainingRunsTotal.WithLabelValues(outcome).Inc()
}
