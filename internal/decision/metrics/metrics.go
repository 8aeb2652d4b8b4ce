package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the decision module.
type Metrics struct {
	// Trust and risk lookup latencies
	EvidenceLatency *prometheus.HistogramVec

	// Decision outcomes by verdict and source
	DecisionOutcome *prometheus.CounterVec

	// Overall evaluation latency
	EvaluateLatency prometheus.Histogram

	// Decisions that could not be stored
	PersistFailures prometheus.Counter

	// Decisions removed by the expiry sweeper
	ExpiredPurged prometheus.Counter
}

// New creates a new Metrics instance with all decision module metrics registered.
func New() *Metrics {
	return &Metrics{
		EvidenceLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kinguard_decision_evidence_duration_seconds",
			Help:    "Duration of trust and risk lookups by source",
			Buckets: []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}, []string{"source"}), // source: "trust", "risk"

		DecisionOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kinguard_decision_outcomes_total",
			Help: "Total decisions by verdict and source",
		}, []string{"verdict", "source"}),

		EvaluateLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "kinguard_decision_evaluate_duration_seconds",
			Help:    "Duration of full access evaluation",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.2},
		}),

		PersistFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kinguard_decision_persist_failures_total",
			Help: "Decisions that failed to persist",
		}),

		ExpiredPurged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kinguard_decision_expired_purged_total",
			Help: "Expired decisions removed by the sweeper",
		}),
	}
}

// ObserveEvidenceLatency records the duration of a trust or risk lookup.
func (m *Metrics) ObserveEvidenceLatency(source string, d time.Duration) {
	if m != nil {
		m.EvidenceLatency.WithLabelValues(source).Observe(d.Seconds())
	}
}

// IncrementOutcome records a decision outcome.
func (m *Metrics) IncrementOutcome(verdict, source string) {
	if m != nil {
		m.DecisionOutcome.WithLabelValues(verdict, source).Inc()
	}
}

// ObserveEvaluateLatency records the total evaluation duration.
func (m *Metrics) ObserveEvaluateLatency(d time.Duration) {
	if m != nil {
		m.EvaluateLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementPersistFailure() {
	if m != nil {
		m.PersistFailures.Inc()
	}
}

func (m *Metrics) AddExpiredPurged(n int) {
	if m != nil && n > 0 {
		m.ExpiredPurged.Add(float64(n))
	}
}
