package worker

import (
	"context"
	"log/slog"
	"time"

	audit "kinguard/pkg/platform/audit"
)

// NamedSink pairs a sink with the label used in logs and metrics.
type NamedSink struct {
	Name string
	Sink audit.Sink
}

// Worker consumes audit entries from a channel and forwards them to external
// sinks. Each sink has its own circuit breaker so one outage does not stall
// the others. A sink failure is logged, never returned: the chained in-memory
// log already holds the entry.
type Worker struct {
	sinks    []NamedSink
	breakers []*CircuitBreaker
	inbox    <-chan audit.Entry
	logger   *slog.Logger
	metrics  *Metrics
	timeout  time.Duration
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithSinkTimeout bounds a single sink append.
func WithSinkTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.timeout = d
		}
	}
}

func NewWorker(inbox <-chan audit.Entry, sinks []NamedSink, opts ...Option) *Worker {
	w := &Worker{
		sinks:   sinks,
		inbox:   inbox,
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.breakers = make([]*CircuitBreaker, len(sinks))
	for i := range sinks {
		w.breakers[i] = NewCircuitBreaker(5, 30*time.Second)
	}
	return w
}

// Run forwards entries until the inbox is closed (after draining it) or ctx
// is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, ok := <-w.inbox:
			if !ok {
				return nil
			}
			w.forward(ctx, entry)
		}
	}
}

func (w *Worker) forward(ctx context.Context, entry audit.Entry) {
	for i, ns := range w.sinks {
		breaker := w.breakers[i]
		if !breaker.Allow() {
			w.metrics.incDropped(ns.Name)
			continue
		}

		sinkCtx, cancel := context.WithTimeout(ctx, w.timeout)
		err := ns.Sink.Append(sinkCtx, entry)
		cancel()

		if err != nil {
			breaker.RecordFailure()
			w.metrics.incFailure(ns.Name)
			if w.logger != nil {
				w.logger.WarnContext(ctx, "audit sink append failed",
					"sink", ns.Name,
					"entry_id", entry.ID,
					"entry_type", entry.Type,
					"error", err,
				)
			}
			continue
		}
		breaker.RecordSuccess()
		w.metrics.incForwarded(ns.Name)
	}
}
