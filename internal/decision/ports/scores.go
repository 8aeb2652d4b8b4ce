package ports

import "context"

// TrustPort reads and nudges a subject's trust score.
type TrustPort interface {
	// Score returns the overall trust score, creating a baseline profile on
	// first reference.
	Score(ctx context.Context, subjectID string) (float64, error)

	// RecordEvent applies a named trust event such as access_granted.
	RecordEvent(ctx context.Context, subjectID, eventType, description string, metadata map[string]string) error
}

// RiskPort reads a subject's latest risk assessment.
type RiskPort interface {
	// Score returns the overall risk score. ok is false when the subject has
	// never been assessed.
	Score(ctx context.Context, subjectID string) (score float64, ok bool, err error)
}
