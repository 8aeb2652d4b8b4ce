package handler

import (
	"strings"

	"kinguard/internal/decision"
	dErrors "kinguard/pkg/domain-errors"
)

// EvaluateRequest is the body of POST /v1/access/evaluate.
type EvaluateRequest struct {
	SubjectID string         `json:"subject_id"`
	DeviceID  string         `json:"device_id"`
	Resource  string         `json:"resource"`
	Action    string         `json:"action"`
	Context   map[string]any `json:"context"`
}

func (r *EvaluateRequest) Validate() error {
	r.SubjectID = strings.TrimSpace(r.SubjectID)
	r.Resource = strings.TrimSpace(r.Resource)
	if r.SubjectID == "" {
		return dErrors.New(dErrors.CodeValidation, "subject_id is required")
	}
	if r.Resource == "" {
		return dErrors.New(dErrors.CodeValidation, "resource is required")
	}
	if r.Context == nil {
		r.Context = map[string]any{}
	}
	return nil
}

func (r *EvaluateRequest) toDomain() decision.EvaluateRequest {
	return decision.EvaluateRequest{
		SubjectID: r.SubjectID,
		DeviceID:  strings.TrimSpace(r.DeviceID),
		Resource:  r.Resource,
		Action:    strings.TrimSpace(r.Action),
		Context:   r.Context,
	}
}
