package trust

import (
	"sort"
	"time"

	"kinguard/internal/scoring"
)

// Level buckets an overall trust score.
type Level string

const (
	LevelVeryLow  Level = "very_low"
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelVeryHigh Level = "very_high"
)

// LevelFor maps a score to its level, checking thresholds top-down.
func LevelFor(score float64) Level {
	switch {
	case score >= 0.85:
		return LevelVeryHigh
	case score >= 0.7:
		return LevelHigh
	case score >= 0.5:
		return LevelMedium
	case score >= 0.3:
		return LevelLow
	default:
		return LevelVeryLow
	}
}

// EventType names a behavioral event that moves the trust score.
type EventType string

const (
	EventLoginSuccess       EventType = "login_success"
	EventLoginFailure       EventType = "login_failure"
	EventSecurityViolation  EventType = "security_violation"
	EventMFAEnabled         EventType = "mfa_enabled"
	EventPasswordChanged    EventType = "password_changed"
	EventSuspiciousActivity EventType = "suspicious_activity"
	EventDeviceRegistered   EventType = "device_registered"
	EventPolicyViolation    EventType = "policy_violation"
	EventAccessGranted      EventType = "access_granted"
	EventAccessDenied       EventType = "access_denied"
)

var eventImpacts = map[EventType]float64{
	EventLoginSuccess:       0.01,
	EventLoginFailure:       -0.05,
	EventSecurityViolation:  -0.20,
	EventMFAEnabled:         0.10,
	EventPasswordChanged:    0.05,
	EventSuspiciousActivity: -0.15,
	EventDeviceRegistered:   0.03,
	EventPolicyViolation:    -0.10,
	EventAccessGranted:      0.01,
	EventAccessDenied:       -0.02,
}

// Impact returns the signed score delta for an event type.
func (e EventType) Impact() (float64, bool) {
	d, ok := eventImpacts[e]
	return d, ok
}

// Sample sources that are not event types.
const (
	SourceRecompute = "recompute"
	SourceReset     = "reset"
	SourceBaseline  = "baseline"
)

// ScoreSample is one point of a profile's score history.
type ScoreSample struct {
	Score     float64   `json:"score"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// Profile is the per-subject trust state.
type Profile struct {
	UserID          string             `json:"user_id"`
	Baseline        float64            `json:"baseline"`
	OverallScore    float64            `json:"overall_score"`
	Level           Level              `json:"level"`
	CategoryScores  map[string]float64 `json:"category_scores"`
	FactorScores    map[string]float64 `json:"factor_scores"`
	RiskFactors     []string           `json:"risk_factors"`
	TrustIndicators []string           `json:"trust_indicators"`
	History         []ScoreSample      `json:"history"`
	CreatedAt       time.Time          `json:"created_at"`
	LastUpdated     time.Time          `json:"last_updated"`
}

// NewProfile seeds a profile at baseline.
func NewProfile(userID string, baseline float64, now time.Time) *Profile {
	baseline = scoring.Clamp(baseline)
	return &Profile{
		UserID:          userID,
		Baseline:        baseline,
		OverallScore:    baseline,
		Level:           LevelFor(baseline),
		CategoryScores:  map[string]float64{},
		FactorScores:    map[string]float64{},
		RiskFactors:     []string{},
		TrustIndicators: []string{},
		History:         []ScoreSample{{Score: baseline, Source: SourceBaseline, Timestamp: now}},
		CreatedAt:       now,
		LastUpdated:     now,
	}
}

// Clone returns a deep copy.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.CategoryScores = cloneScores(p.CategoryScores)
	c.FactorScores = cloneScores(p.FactorScores)
	c.RiskFactors = append([]string{}, p.RiskFactors...)
	c.TrustIndicators = append([]string{}, p.TrustIndicators...)
	c.History = append([]ScoreSample{}, p.History...)
	return &c
}

func cloneScores(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// setScore records a new overall score and appends a history sample,
// evicting the oldest samples beyond window.
func (p *Profile) setScore(score float64, source string, now time.Time, window int) {
	p.OverallScore = scoring.Clamp(score)
	p.Level = LevelFor(p.OverallScore)
	p.LastUpdated = now
	p.History = append(p.History, ScoreSample{Score: p.OverallScore, Source: source, Timestamp: now})
	if window > 0 && len(p.History) > window {
		p.History = append([]ScoreSample{}, p.History[len(p.History)-window:]...)
	}
}

// retag rebuilds both tag sets from the current category and factor scores.
func (p *Profile) retag(low, high float64) {
	risk := []string{}
	indicators := []string{}
	for _, scores := range []map[string]float64{p.CategoryScores, p.FactorScores} {
		for id, v := range scores {
			switch {
			case v < low:
				risk = append(risk, id)
			case v > high:
				indicators = append(indicators, id)
			}
		}
	}
	sort.Strings(risk)
	sort.Strings(indicators)
	p.RiskFactors = risk
	p.TrustIndicators = indicators
}

// DefaultModel is the trust factor catalog.
func DefaultModel() scoring.Model {
	return scoring.Model{
		Categories: []scoring.Category{
			{ID: "authentication", Weight: 0.25},
			{ID: "device_security", Weight: 0.25},
			{ID: "network_security", Weight: 0.20},
			{ID: "user_behavior", Weight: 0.20},
			{ID: "data_protection", Weight: 0.10},
		},
		Factors: []scoring.Factor{
			{ID: "password_strength", Category: "authentication", Weight: 0.3},
			{ID: "mfa_enabled", Category: "authentication", Weight: 0.4},
			{ID: "login_frequency", Category: "authentication", Weight: 0.3},

			{ID: "device_encryption", Category: "device_security", Weight: 0.35},
			{ID: "os_updated", Category: "device_security", Weight: 0.25},
			{ID: "antivirus_active", Category: "device_security", Weight: 0.2},
			{ID: "device_managed", Category: "device_security", Weight: 0.2},

			{ID: "network_reputation", Category: "network_security", Weight: 0.5},
			{ID: "vpn_usage", Category: "network_security", Weight: 0.2},
			{ID: "secure_wifi", Category: "network_security", Weight: 0.3},

			{ID: "consistent_login_location", Category: "user_behavior", Weight: 0.4},
			{ID: "normal_usage_hours", Category: "user_behavior", Weight: 0.3},
			{ID: "content_policy_compliance", Category: "user_behavior", Weight: 0.3},

			{ID: "backup_enabled", Category: "data_protection", Weight: 0.5},
			{ID: "privacy_settings", Category: "data_protection", Weight: 0.5},
		},
		AdjustmentWeight: 0.1,
	}
}
