package handler

import (
	"time"

	"kinguard/internal/risk"
	dErrors "kinguard/pkg/domain-errors"
)

type AssessRequest struct {
	Signals map[string]any `json:"signals"`
}

func (r *AssessRequest) Validate() error {
	if len(r.Signals) == 0 {
		return dErrors.New(dErrors.CodeValidation, "signals are required")
	}
	return nil
}

// Summary is the assessment response: the current profile without history.
type Summary struct {
	UserID                    string                           `json:"user_id"`
	OverallRiskScore          float64                          `json:"overall_risk_score"`
	Level                     risk.Level                       `json:"level"`
	CategoryScores            map[string]float64               `json:"category_scores"`
	Factors                   map[string]risk.FactorAssessment `json:"factors"`
	MitigationRecommendations []string                         `json:"mitigation_recommendations"`
	Assessments               int                              `json:"assessments"`
	AssessedAt                time.Time                        `json:"assessed_at"`
}

func toSummary(p *risk.Profile) Summary {
	return Summary{
		UserID:                    p.UserID,
		OverallRiskScore:          p.OverallRiskScore,
		Level:                     p.Level,
		CategoryScores:            p.CategoryScores,
		Factors:                   p.Factors,
		MitigationRecommendations: p.MitigationRecommendations,
		Assessments:               len(p.AssessmentHistory),
		AssessedAt:                p.AssessedAt,
	}
}
