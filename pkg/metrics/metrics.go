// Package metrics exposes Prometheus collectors for captured traffic. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "netlog"

type Metrics struct {
	captured          *prometheus.CounterVec
	discarded         prometheus.Counter
	evicted           prometheus.Counter
	persistenceErrors *prometheus.CounterVec
	stored            prometheus.Gauge
	duration          prometheus.Histogram
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		captured: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_captured_total",
			Help:      "Exchanges observed by the interceptor, by outcome.",
		}, []string{"outcome"}),
		discarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_discarded_total",
			Help:      "Captured entries dropped because persistence was disabled.",
		}),
		evicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_evicted_total",
			Help:      "Entries removed by retention enforcement.",
		}),
		persistenceErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_errors_total",
			Help:      "Failed repository operations, by operation.",
		}, []string{"op"}),
		stored: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entries_stored",
			Help:      "Entries currently held by the log store.",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exchange_duration_seconds",
			Help:      "Duration of observed exchanges.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) ObserveCapture(failed bool, seconds float64) {
	if m == nil {
		return
	}

	outcome := "response"
	if failed {
		outcome = "failure"
	}

	m.captured.WithLabelValues(outcome).Inc()
	m.duration.Observe(seconds)
}

func (m *Metrics) IncDiscarded() {
	if m == nil {
		return
	}
	m.discarded.Inc()
}

func (m *Metrics) AddEvicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evicted.Add(float64(n))
}

func (m *Metrics) IncPersistenceError(op string) {
	if m == nil {
		return
	}
	m.persistenceErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) SetStored(n int) {
	if m == nil {
		return
	}
	m.stored.Set(float64(n))
}
