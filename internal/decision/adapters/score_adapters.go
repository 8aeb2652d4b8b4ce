package adapters

import (
	"context"

	"kinguard/internal/decision/ports"
	"kinguard/internal/risk"
	"kinguard/internal/trust"
	dErrors "kinguard/pkg/domain-errors"
)

type trustService interface {
	GetOrCreate(ctx context.Context, userID string) (*trust.Profile, error)
	RecordEvent(ctx context.Context, userID string, event trust.EventType, description string, metadata map[string]string) (*trust.Profile, error)
}

// TrustAdapter implements ports.TrustPort by calling the trust service
// in-process.
type TrustAdapter struct {
	trust trustService
}

func NewTrustAdapter(svc trustService) ports.TrustPort {
	return &TrustAdapter{trust: svc}
}

func (a *TrustAdapter) Score(ctx context.Context, subjectID string) (float64, error) {
	p, err := a.trust.GetOrCreate(ctx, subjectID)
	if err != nil {
		return 0, err
	}
	return p.OverallScore, nil
}

func (a *TrustAdapter) RecordEvent(ctx context.Context, subjectID, eventType, description string, metadata map[string]string) error {
	_, err := a.trust.RecordEvent(ctx, subjectID, trust.EventType(eventType), description, metadata)
	return err
}

type riskService interface {
	Get(ctx context.Context, userID string) (*risk.Profile, error)
}

// RiskAdapter implements ports.RiskPort by calling the risk service
// in-process.
type RiskAdapter struct {
	risk riskService
}

func NewRiskAdapter(svc riskService) ports.RiskPort {
	return &RiskAdapter{risk: svc}
}

func (a *RiskAdapter) Score(ctx context.Context, subjectID string) (float64, bool, error) {
	p, err := a.risk.Get(ctx, subjectID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return p.OverallRiskScore, true, nil
}
