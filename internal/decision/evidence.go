package decision

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// evidence is what the orchestrator knows about a subject before matching
// rules.
type evidence struct {
	TrustScore   float64
	RiskScore    float64
	RiskAssessed bool
	Latencies    struct {
		Trust time.Duration
		Risk  time.Duration
	}
}

// gatherEvidence reads trust and risk in parallel with shared cancellation.
// The subject must already be known to be enrolled, since reading trust
// creates a baseline profile.
func (s *Service) gatherEvidence(ctx context.Context, subjectID string) (*evidence, error) {
	g, ctx := errgroup.WithContext(ctx)
	ev := &evidence{}

	g.Go(func() error {
		start := time.Now()
		score, err := s.trust.Score(ctx, subjectID)
		ev.Latencies.Trust = time.Since(start)
		s.metrics.ObserveEvidenceLatency("trust", ev.Latencies.Trust)
		if err != nil {
			return err
		}
		ev.TrustScore = score
		return nil
	})

	g.Go(func() error {
		start := time.Now()
		score, ok, err := s.risk.Score(ctx, subjectID)
		ev.Latencies.Risk = time.Since(start)
		s.metrics.ObserveEvidenceLatency("risk", ev.Latencies.Risk)
		if err != nil {
			return err
		}
		ev.RiskScore = score
		ev.RiskAssessed = ok
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ev, nil
}
