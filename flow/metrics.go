package flow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for engine activity. A nil *Metrics
// is valid and records nothing, so instrumentation stays optional.
type Metrics struct {
	stepDuration  *prometheus.HistogramVec
	stepsTotal    *prometheus.CounterVec
	suspendsTotal prometheus.Counter
	resumesTotal  prometheus.Counter
	activeRuns    prometheus.Gauge
}

// NewMetrics registers engine metrics on the given registry under the
// "flow" namespace. Pass prometheus.DefaultRegisterer to use the process
// default registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flow",
			Name:      "step_duration_ms",
			Help:      "Step execution duration in milliseconds.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"step", "status"}),
		stepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flow",
			Name:      "steps_total",
			Help:      "Steps executed, by step name and outcome.",
		}, []string{"step", "status"}),
		suspendsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "flow",
			Name:      "suspends_total",
			Help:      "Sessions suspended awaiting external input.",
		}),
		resumesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "flow",
			Name:      "resumes_total",
			Help:      "Suspended sessions resumed.",
		}),
		activeRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "flow",
			Name:      "active_runs",
			Help:      "Runs currently executing steps.",
		}),
	}
}

func (m *Metrics) observeStep(step, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(step, status).Observe(float64(elapsed.Milliseconds()))
	m.stepsTotal.WithLabelValues(step, status).Inc()
}

func (m *Metrics) suspendRecorded() {
	if m == nil {
		return
	}
	m.suspendsTotal.Inc()
}

func (m *Metrics) resumeRecorded() {
	if m == nil {
		return
	}
	m.resumesTotal.Inc()
}

func (m *Metrics) runStarted() {
	if m == nil {
		return
	}
	m.activeRuns.Inc()
}

func (m *Metrics) runFinished() {
	if m == nil {
		return
	}
	m.activeRuns.Dec()
}
