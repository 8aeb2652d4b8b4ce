package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks forwarding of audit entries to external sinks.
type Metrics struct {
	Forwarded       *prometheus.CounterVec
	ForwardFailures *prometheus.CounterVec
	BreakerDropped  *prometheus.CounterVec
}

// NewMetrics registers the worker metrics with the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		Forwarded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kinguard_audit_forwarded_total",
			Help: "Audit entries delivered to an external sink",
		}, []string{"sink"}),
		ForwardFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kinguard_audit_forward_failures_total",
			Help: "Audit entries a sink rejected",
		}, []string{"sink"}),
		BreakerDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kinguard_audit_breaker_dropped_total",
			Help: "Audit entries skipped because the sink circuit was open",
		}, []string{"sink"}),
	}
}

func (m *Metrics) incForwarded(sink string) {
	if m != nil {
		m.Forwarded.WithLabelValues(sink).Inc()
	}
}

func (m *Metrics) incFailure(sink string) {
	if m != nil {
		m.ForwardFailures.WithLabelValues(sink).Inc()
	}
}

func (m *Metrics) incDropped(sink string) {
	if m != nil {
		m.BreakerDropped.WithLabelValues(sink).Inc()
	}
}
