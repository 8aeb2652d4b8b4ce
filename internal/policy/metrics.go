package policy

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the rule repository.
type Metrics struct {
	Rules       prometheus.Gauge
	Generation  prometheus.Gauge
	Evaluations prometheus.Histogram
	Matches     prometheus.Histogram
	FindLatency prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		Rules: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kinguard_policy_rules",
			Help: "Number of rules in the current snapshot",
		}),
		Generation: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kinguard_policy_generation",
			Help: "Generation counter of the current rule snapshot",
		}),
		Evaluations: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "kinguard_policy_rule_evaluations",
			Help:    "Rules evaluated per FindApplicable call",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		Matches: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "kinguard_policy_rule_matches",
			Help:    "Rules matched per FindApplicable call",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		}),
		FindLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "kinguard_policy_find_duration_seconds",
			Help:    "Duration of FindApplicable",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
	}
}

func (m *Metrics) setRules(n int, generation uint64) {
	if m != nil {
		m.Rules.Set(float64(n))
		m.Generation.Set(float64(generation))
	}
}

func (m *Metrics) observeFind(evaluations, matches int, d time.Duration) {
	if m != nil {
		m.Evaluations.Observe(float64(evaluations))
		m.Matches.Observe(float64(matches))
		m.FindLatency.Observe(d.Seconds())
	}
}
