package decision

import (
	"context"
	"log/slog"
	"time"

	"kinguard/internal/decision/metrics"
)

// DefaultSweepInterval is how often expired decisions are purged.
const DefaultSweepInterval = time.Minute

// Sweeper periodically purges expired decisions. Expiry itself is advisory;
// the sweeper only reclaims memory.
type Sweeper struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

type SweeperOption func(*Sweeper)

func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithSweepLogger(logger *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

func WithSweepMetrics(m *metrics.Metrics) SweeperOption {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

func WithSweepClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

func NewSweeper(store Store, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		store:    store,
		interval: DefaultSweepInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep runs one purge pass.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	n, err := s.store.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	s.metrics.AddExpiredPurged(n)
	if n > 0 && s.logger != nil {
		s.logger.DebugContext(ctx, "purged expired decisions", "count", n)
	}
	return n, nil
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && s.logger != nil && ctx.Err() == nil {
				s.logger.WarnContext(ctx, "decision sweep failed", "error", err)
			}
		}
	}
}
