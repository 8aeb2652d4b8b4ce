package handler

import (
	"strings"

	dErrors "kinguard/pkg/domain-errors"
)

type RecordEventRequest struct {
	EventType   string            `json:"event_type"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata"`
}

func (r *RecordEventRequest) Validate() error {
	r.EventType = strings.TrimSpace(r.EventType)
	if r.EventType == "" {
		return dErrors.New(dErrors.CodeValidation, "event_type is required")
	}
	return nil
}

type RecomputeRequest struct {
	Signals map[string]any `json:"signals"`
}

func (r *RecomputeRequest) Validate() error {
	if r.Signals == nil {
		r.Signals = map[string]any{}
	}
	return nil
}
