// Package trust maintains per-subject trust profiles. Scores move in two ways:
// behavioral events apply signed deltas, and Recompute blends a fresh
// aggregate of posture signals into the event-driven score.
package trust

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"kinguard/internal/scoring"
	dErrors "kinguard/pkg/domain-errors"
	"kinguard/pkg/platform/audit"
	"kinguard/pkg/platform/sentinel"
	"kinguard/pkg/requestcontext"
)

// Store persists profiles with per-subject linearizable updates.
type Store interface {
	Find(ctx context.Context, userID string) (*Profile, error)
	Update(ctx context.Context, userID string, fn func(current *Profile) (*Profile, error)) (*Profile, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, entry audit.Entry) error
}

// Config holds trust tunables.
type Config struct {
	// Baseline seeds lazily created profiles.
	Baseline float64
	// Blend is the share of a fresh aggregate in the recomputed overall
	// score; the rest comes from the previous score.
	Blend float64
	// HistoryWindow caps score samples per profile (oldest evicted first).
	HistoryWindow int
	LowThreshold  float64
	HighThreshold float64
	Model         scoring.Model
}

func DefaultConfig() Config {
	return Config{
		Baseline:      0.5,
		Blend:         0.5,
		HistoryWindow: 100,
		LowThreshold:  0.3,
		HighThreshold: 0.85,
		Model:         DefaultModel(),
	}
}

// Service is the trust profile store's domain API.
type Service struct {
	store   Store
	cfg     Config
	logger  *slog.Logger
	auditor AuditPublisher
}

type Option func(*Service)

func WithConfig(cfg Config) Option {
	return func(s *Service) {
		s.cfg = cfg
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) {
		s.auditor = p
	}
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("trust store is required")
	}
	s := &Service{store: store, cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.Blend < 0 || s.cfg.Blend > 1 {
		return nil, fmt.Errorf("trust blend must be within [0,1], got %v", s.cfg.Blend)
	}
	if len(s.cfg.Model.Categories) == 0 {
		s.cfg.Model = DefaultModel()
	}
	return s, nil
}

// Config returns the active tunables.
func (s *Service) Config() Config {
	return s.cfg
}

func validateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return dErrors.New(dErrors.CodeValidation, "user_id is required")
	}
	return nil
}

// GetOrCreate returns the subject's profile, seeding it at the configured
// baseline on first reference.
func (s *Service) GetOrCreate(ctx context.Context, userID string) (*Profile, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	p, err := s.store.Find(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load trust profile")
	}
	return s.Initialize(ctx, userID, s.cfg.Baseline)
}

// Initialize seeds a profile at the given baseline. An existing profile is
// returned unchanged.
func (s *Service) Initialize(ctx context.Context, userID string, baseline float64) (*Profile, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	p, err := s.store.Update(ctx, userID, func(current *Profile) (*Profile, error) {
		if current != nil {
			return current, nil
		}
		return NewProfile(userID, baseline, now), nil
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create trust profile")
	}
	return p, nil
}

// RecordEvent applies the event's fixed impact to the subject's score.
// Unknown event types are rejected.
func (s *Service) RecordEvent(ctx context.Context, userID string, event EventType, description string, metadata map[string]string) (*Profile, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	delta, ok := event.Impact()
	if !ok {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown trust event type %q", event))
	}

	now := requestcontext.Now(ctx)
	var previous float64
	p, err := s.store.Update(ctx, userID, func(current *Profile) (*Profile, error) {
		if current == nil {
			current = NewProfile(userID, s.cfg.Baseline, now)
		}
		previous = current.OverallScore
		current.setScore(previous+delta, string(event), now, s.cfg.HistoryWindow)
		current.retag(s.cfg.LowThreshold, s.cfg.HighThreshold)
		return current, nil
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record trust event")
	}

	attrs := map[string]string{"event_type": string(event)}
	if description != "" {
		attrs["description"] = description
	}
	for k, v := range metadata {
		if _, taken := attrs[k]; !taken {
			attrs[k] = v
		}
	}
	s.emitScoreChange(ctx, p, previous, string(event), attrs)
	return p, nil
}

// Recompute aggregates posture signals over the trust model. Category and
// factor scores are replaced; the overall score blends the aggregate with the
// previous score.
func (s *Service) Recompute(ctx context.Context, userID string, signals map[string]any) (*Profile, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	result := scoring.Aggregate(s.cfg.Model, signals)

	now := requestcontext.Now(ctx)
	var previous float64
	p, err := s.store.Update(ctx, userID, func(current *Profile) (*Profile, error) {
		if current == nil {
			current = NewProfile(userID, s.cfg.Baseline, now)
		}
		previous = current.OverallScore
		current.CategoryScores = result.CategoryScores
		current.FactorScores = result.FactorScores
		blended := s.cfg.Blend*result.Overall + (1-s.cfg.Blend)*previous
		current.setScore(blended, SourceRecompute, now, s.cfg.HistoryWindow)
		current.retag(s.cfg.LowThreshold, s.cfg.HighThreshold)
		return current, nil
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to recompute trust profile")
	}

	s.emitScoreChange(ctx, p, previous, SourceRecompute, map[string]string{
		"aggregate": fmt.Sprintf("%.4f", result.Overall),
	})
	return p, nil
}

// Reset returns a profile to its onboarding baseline. Scores, tags and history
// are cleared; the profile itself is kept.
func (s *Service) Reset(ctx context.Context, userID string) (*Profile, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	var previous float64
	p, err := s.store.Update(ctx, userID, func(current *Profile) (*Profile, error) {
		if current == nil {
			return nil, sentinel.ErrNotFound
		}
		previous = current.OverallScore
		fresh := NewProfile(userID, current.Baseline, now)
		fresh.CreatedAt = current.CreatedAt
		fresh.History[0].Source = SourceReset
		return fresh, nil
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "trust profile not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reset trust profile")
	}

	if s.auditor != nil {
		if err := s.auditor.Emit(ctx, audit.Entry{
			Type:          audit.EntryTrustProfileReset,
			SubjectID:     userID,
			PreviousScore: audit.Score(previous),
			Score:         audit.Score(p.OverallScore),
		}); err != nil {
			s.logAuditFailure(ctx, userID, err)
		}
	}
	return p, nil
}

func (s *Service) emitScoreChange(ctx context.Context, p *Profile, previous float64, reason string, attrs map[string]string) {
	if s.logger != nil {
		s.logger.DebugContext(ctx, "trust score changed",
			"user_id", p.UserID,
			"previous", previous,
			"score", p.OverallScore,
			"reason", reason,
		)
	}
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Emit(ctx, audit.Entry{
		Type:          audit.EntryScoreChanged,
		SubjectID:     p.UserID,
		Reason:        reason,
		PreviousScore: audit.Score(previous),
		Score:         audit.Score(p.OverallScore),
		Attributes:    attrs,
	}); err != nil {
		s.logAuditFailure(ctx, p.UserID, err)
	}
}

func (s *Service) logAuditFailure(ctx context.Context, userID string, err error) {
	if s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to emit trust audit entry",
			"user_id", userID,
			"error", err,
		)
	}
}
