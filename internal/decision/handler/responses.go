package handler

import (
	"time"

	"kinguard/internal/decision"
)

// DecisionResponse is a decision plus its lifecycle state at response time.
type DecisionResponse struct {
	*decision.Decision
	State decision.State `json:"state"`
}

// HistoryResponse lists a subject's most recent decisions, newest first.
type HistoryResponse struct {
	SubjectID string              `json:"subject_id"`
	Decisions []*DecisionResponse `json:"decisions"`
}

func toResponse(d *decision.Decision, now time.Time) *DecisionResponse {
	return &DecisionResponse{Decision: d, State: d.StateAt(now)}
}
