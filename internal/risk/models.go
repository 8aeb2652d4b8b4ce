package risk

import "time"

// Level buckets an overall risk score.
type Level string

const (
	LevelMinimal  Level = "minimal"
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// LevelFor returns the first level whose threshold the score meets.
func LevelFor(score float64) Level {
	switch {
	case score >= 0.9:
		return LevelCritical
	case score >= 0.7:
		return LevelHigh
	case score >= 0.5:
		return LevelMedium
	case score >= 0.3:
		return LevelLow
	default:
		return LevelMinimal
	}
}

// Direction describes how risk moved over a window of assessments.
type Direction string

const (
	DirectionImproving Direction = "improving"
	DirectionStable    Direction = "stable"
	DirectionDegrading Direction = "degrading"
)

// FactorAssessment is one factor's contribution in an assessment.
type FactorAssessment struct {
	Category   string  `json:"category"`
	Impact     float64 `json:"impact"`
	Likelihood float64 `json:"likelihood"`
	Weight     float64 `json:"weight"`
	RiskScore  float64 `json:"risk_score"`
}

// Assessment is a point-in-time summary kept in a profile's history.
type Assessment struct {
	OverallRiskScore float64            `json:"overall_risk_score"`
	Level            Level              `json:"level"`
	CategoryScores   map[string]float64 `json:"category_scores"`
	AssessedAt       time.Time          `json:"assessed_at"`
}

// Profile is the per-subject risk state. Each assessment supersedes the
// current factors and is appended to AssessmentHistory.
type Profile struct {
	UserID                    string                      `json:"user_id"`
	Factors                   map[string]FactorAssessment `json:"factors"`
	CategoryScores            map[string]float64          `json:"category_scores"`
	OverallRiskScore          float64                     `json:"overall_risk_score"`
	Level                     Level                       `json:"level"`
	MitigationRecommendations []string                    `json:"mitigation_recommendations"`
	AssessmentHistory         []Assessment                `json:"assessment_history"`
	CreatedAt                 time.Time                   `json:"created_at"`
	AssessedAt                time.Time                   `json:"assessed_at"`
}

// Clone returns a deep copy.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.Factors = make(map[string]FactorAssessment, len(p.Factors))
	for k, v := range p.Factors {
		c.Factors[k] = v
	}
	c.CategoryScores = make(map[string]float64, len(p.CategoryScores))
	for k, v := range p.CategoryScores {
		c.CategoryScores[k] = v
	}
	c.MitigationRecommendations = append([]string{}, p.MitigationRecommendations...)
	c.AssessmentHistory = append([]Assessment{}, p.AssessmentHistory...)
	return &c
}

// Trend summarizes recent assessments.
type Trend struct {
	UserID    string    `json:"user_id"`
	Direction Direction `json:"direction"`
	Samples   int       `json:"samples"`
	First     float64   `json:"first"`
	Last      float64   `json:"last"`
	Average   float64   `json:"average"`
	Delta     float64   `json:"delta"`
}
