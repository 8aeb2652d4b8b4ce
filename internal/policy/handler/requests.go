package handler

import (
	"strings"

	"kinguard/internal/policy"
	"kinguard/internal/policy/condition"
	dErrors "kinguard/pkg/domain-errors"
)

// RuleRequest is the body of PUT /v1/rules/{id}. The path id wins over any id
// in the body.
type RuleRequest struct {
	Name            string                `json:"name"`
	Description     string                `json:"description"`
	Type            policy.RuleType       `json:"type"`
	Category        string                `json:"category"`
	Status          policy.Status         `json:"status"`
	Priority        int                   `json:"priority"`
	Conditions      []condition.Condition `json:"conditions"`
	Actions         []policy.Action       `json:"actions"`
	TargetUsers     []string              `json:"target_users"`
	TargetDevices   []string              `json:"target_devices"`
	TargetResources []string              `json:"target_resources"`
}

func (r *RuleRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	return nil
}

func (r *RuleRequest) toRule(id string) policy.Rule {
	return policy.Rule{
		ID:              id,
		Name:            r.Name,
		Description:     r.Description,
		Type:            r.Type,
		Category:        r.Category,
		Status:          r.Status,
		Priority:        r.Priority,
		Conditions:      r.Conditions,
		Actions:         r.Actions,
		TargetUsers:     r.TargetUsers,
		TargetDevices:   r.TargetDevices,
		TargetResources: r.TargetResources,
	}
}

type RuleResponse struct {
	Rule     policy.Rule `json:"rule"`
	Warnings []string    `json:"warnings,omitempty"`
}

type ListResponse struct {
	Generation uint64        `json:"generation"`
	Rules      []policy.Rule `json:"rules"`
}
