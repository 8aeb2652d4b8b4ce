// Package publisher is the audit entry point used by domain services.
//
// Emit appends synchronously to the local chained log (so an entry that was
// acknowledged is always queryable) and then hands a copy to a bounded queue
// drained by a worker into external sinks. The queue never blocks the
// decision path: when it is full the entry is counted as dropped for sinks.
package publisher

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	audit "kinguard/pkg/platform/audit"
	"kinguard/pkg/platform/audit/worker"
	"kinguard/pkg/requestcontext"
)

type Publisher struct {
	store   audit.Store
	logger  *slog.Logger
	metrics *Metrics

	sinks      []worker.NamedSink
	bufferSize int
	workerOpts []worker.Option

	mu      sync.RWMutex
	closed  bool
	forward chan audit.Entry
	done    chan struct{}
	once    sync.Once
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithSinks forwards every entry to the given sinks through a queue of
// bufferSize entries.
func WithSinks(bufferSize int, sinks ...worker.NamedSink) Option {
	return func(p *Publisher) {
		p.bufferSize = bufferSize
		p.sinks = append(p.sinks, sinks...)
	}
}

// WithWorkerOptions passes options through to the forwarding worker.
func WithWorkerOptions(opts ...worker.Option) Option {
	return func(p *Publisher) {
		p.workerOpts = append(p.workerOpts, opts...)
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}

	if len(p.sinks) > 0 {
		if p.bufferSize <= 0 {
			p.bufferSize = 1024
		}
		p.forward = make(chan audit.Entry, p.bufferSize)
		p.done = make(chan struct{})
		wopts := append([]worker.Option{worker.WithLogger(p.logger)}, p.workerOpts...)
		w := worker.NewWorker(p.forward, p.sinks, wopts...)
		go func() {
			defer close(p.done)
			_ = w.Run(context.Background())
		}()
	}
	return p
}

// Emit stamps and appends an entry. It fails only when the local log rejects
// the entry.
func (p *Publisher) Emit(ctx context.Context, entry audit.Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = requestcontext.Now(ctx)
	}
	if entry.RequestID == "" {
		entry.RequestID = requestcontext.RequestID(ctx)
	}
	entry.Category = entry.Type.Category()

	if err := p.store.Append(ctx, entry); err != nil {
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "audit append failed",
				"entry_type", entry.Type,
				"subject_id", entry.SubjectID,
				"error", err,
			)
		}
		return err
	}
	p.metrics.incAppended(entry.Type)

	p.enqueue(ctx, entry)
	return nil
}

func (p *Publisher) enqueue(ctx context.Context, entry audit.Entry) {
	if p.forward == nil {
		return
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.forward <- entry:
	default:
		p.metrics.incDropped()
		if p.logger != nil {
			p.logger.WarnContext(ctx, "audit forward queue full, entry not forwarded",
				"entry_id", entry.ID,
				"entry_type", entry.Type,
			)
		}
	}
}

// List returns a subject's entries from the local log.
func (p *Publisher) List(ctx context.Context, subjectID string) ([]audit.Entry, error) {
	return p.store.ListBySubject(ctx, subjectID)
}

// Recent returns the most recent entries from the local log.
func (p *Publisher) Recent(ctx context.Context, limit int) ([]audit.Entry, error) {
	return p.store.ListRecent(ctx, limit)
}

// Close stops accepting forwarded entries and waits for the queue to drain.
func (p *Publisher) Close() {
	p.once.Do(func() {
		if p.forward == nil {
			return
		}
		p.mu.Lock()
		p.closed = true
		close(p.forward)
		p.mu.Unlock()
		<-p.done
	})
}
