// Package risk assesses per-subject risk from signal bundles. A factor's risk
// is impact × likelihood × weight, where likelihood starts from a static
// baseline and moves with concrete signal values.
package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"kinguard/internal/scoring"
	dErrors "kinguard/pkg/domain-errors"
	"kinguard/pkg/platform/audit"
	"kinguard/pkg/platform/sentinel"
	pstrings "kinguard/pkg/platform/strings"
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

// Config holds risk tunables.
type Config struct {
	Catalog       Catalog
	HistoryWindow int
	// RecommendationThreshold is the factor risk above which remediation
	// text is emitted.
	RecommendationThreshold float64
	// TrendTolerance is the score movement below which a trend is stable.
	TrendTolerance float64
}

func DefaultConfig() Config {
	return Config{
		Catalog:                 DefaultCatalog(),
		HistoryWindow:           100,
		RecommendationThreshold: 0.5,
		TrendTolerance:          0.05,
	}
}

type Service struct {
	store       Store
	cfg         Config
	logger      *slog.Logger
	auditor     AuditPublisher
	remediation map[string]string
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
		return nil, errors.New("risk store is required")
	}
	s := &Service{store: store, cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.cfg.Catalog.Categories) == 0 {
		s.cfg.Catalog = DefaultCatalog()
	}
	s.remediation = make(map[string]string, len(s.cfg.Catalog.Factors))
	for _, f := range s.cfg.Catalog.Factors {
		s.remediation[f.ID] = f.Remediation
	}
	return s, nil
}

// evaluate scores every factor of every applicable category.
func (s *Service) evaluate(signals map[string]any) (map[string]FactorAssessment, map[string]float64, float64) {
	applicable := make(map[string]bool)
	weights := make(map[string]float64)
	for _, c := range s.cfg.Catalog.Categories {
		if c.Applies(signals) {
			applicable[c.ID] = true
			weights[c.ID] = c.Weight
		}
	}

	factors := make(map[string]FactorAssessment)
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, f := range s.cfg.Catalog.Factors {
		if !applicable[f.Category] {
			continue
		}
		likelihood := f.Likelihood
		if f.Adjust != nil {
			likelihood += f.Adjust(signals)
		}
		likelihood = scoring.Clamp(likelihood)
		score := scoring.Clamp(f.Impact * likelihood * f.Weight)

		factors[f.ID] = FactorAssessment{
			Category:   f.Category,
			Impact:     f.Impact,
			Likelihood: likelihood,
			Weight:     f.Weight,
			RiskScore:  score,
		}
		sums[f.Category] += score
		counts[f.Category]++
	}

	categories := make(map[string]float64, len(counts))
	for id, n := range counts {
		categories[id] = scoring.Clamp(sums[id] / float64(n))
	}
	overall, ok := scoring.WeightedMean(categories, weights)
	if !ok {
		overall = 0
	}
	return factors, categories, overall
}

// Assess scores a signal bundle and supersedes the subject's current risk
// profile. The assessment is appended to the profile history.
func (s *Service) Assess(ctx context.Context, userID string, signals map[string]any) (*Profile, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "user_id is required")
	}
	factors, categories, overall := s.evaluate(signals)
	level := LevelFor(overall)
	now := requestcontext.Now(ctx)

	var previous *float64
	p, err := s.store.Update(ctx, userID, func(current *Profile) (*Profile, error) {
		if current == nil {
			current = &Profile{UserID: userID, CreatedAt: now}
		} else {
			previous = audit.Score(current.OverallRiskScore)
		}
		current.Factors = factors
		current.CategoryScores = categories
		current.OverallRiskScore = overall
		current.Level = level
		current.AssessedAt = now
		current.MitigationRecommendations = s.Recommendations(current)
		current.AssessmentHistory = append(current.AssessmentHistory, Assessment{
			OverallRiskScore: overall,
			Level:            level,
			CategoryScores:   categories,
			AssessedAt:       now,
		})
		if w := s.cfg.HistoryWindow; w > 0 && len(current.AssessmentHistory) > w {
			current.AssessmentHistory = append([]Assessment{}, current.AssessmentHistory[len(current.AssessmentHistory)-w:]...)
		}
		return current, nil
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store risk assessment")
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "risk assessed",
			"user_id", userID,
			"overall", overall,
			"level", level,
			"categories", len(categories),
		)
	}
	if s.auditor != nil {
		if err := s.auditor.Emit(ctx, audit.Entry{
			Type:          audit.EntryRiskAssessed,
			SubjectID:     userID,
			Reason:        string(level),
			PreviousScore: previous,
			Score:         audit.Score(overall),
			Attributes:    map[string]string{"factors": fmt.Sprint(len(factors))},
		}); err != nil && s.logger != nil {
			s.logger.ErrorContext(ctx, "failed to emit risk audit entry",
				"user_id", userID,
				"error", err,
			)
		}
	}
	return p, nil
}

// Recommendations returns deduplicated remediation text for every factor
// whose risk exceeds the threshold, highest risk first.
func (s *Service) Recommendations(p *Profile) []string {
	if p == nil {
		return []string{}
	}
	type ranked struct {
		id    string
		score float64
	}
	var high []ranked
	for id, f := range p.Factors {
		if f.RiskScore > s.cfg.RecommendationThreshold {
			high = append(high, ranked{id: id, score: f.RiskScore})
		}
	}
	sort.Slice(high, func(i, j int) bool {
		if high[i].score != high[j].score {
			return high[i].score > high[j].score
		}
		return high[i].id < high[j].id
	})

	texts := make([]string, 0, len(high))
	for _, r := range high {
		texts = append(texts, s.remediation[r.id])
	}
	return pstrings.DedupeAndTrim(texts)
}

// Get returns the subject's current risk profile.
func (s *Service) Get(ctx context.Context, userID string) (*Profile, error) {
	p, err := s.store.Find(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "risk profile not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load risk profile")
	}
	return p, nil
}

// Trend compares the first and last of the most recent window assessments.
// Movements within the configured tolerance are stable; lower risk is
// improving.
func (s *Service) Trend(ctx context.Context, userID string, window int) (*Trend, error) {
	p, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	history := p.AssessmentHistory
	if window > 0 && len(history) > window {
		history = history[len(history)-window:]
	}

	t := &Trend{UserID: userID, Direction: DirectionStable, Samples: len(history)}
	if len(history) == 0 {
		return t, nil
	}
	var sum float64
	for _, a := range history {
		sum += a.OverallRiskScore
	}
	t.First = history[0].OverallRiskScore
	t.Last = history[len(history)-1].OverallRiskScore
	t.Average = sum / float64(len(history))
	t.Delta = t.Last - t.First

	switch {
	case math.Abs(t.Delta) < s.cfg.TrendTolerance:
		t.Direction = DirectionStable
	case t.Delta < 0:
		t.Direction = DirectionImproving
	default:
		t.Direction = DirectionDegrading
	}
	return t, nil
}
