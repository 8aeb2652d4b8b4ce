package publisher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	audit "kinguard/pkg/platform/audit"
)

// Metrics counts audit entries by type and forwarding drops.
type Metrics struct {
	Appended *prometheus.CounterVec
	Dropped  prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		Appended: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kinguard_audit_entries_total",
			Help: "Audit entries appended to the local log by type",
		}, []string{"type"}),
		Dropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kinguard_audit_forward_dropped_total",
			Help: "Audit entries not forwarded because the queue was full",
		}),
	}
}

func (m *Metrics) incAppended(t audit.EntryType) {
	if m != nil {
		m.Appended.WithLabelValues(string(t)).Inc()
	}
}

func (m *Metrics) incDropped() {
	if m != nil {
		m.Dropped.Inc()
	}
}
