package policy

import (
	"fmt"
	"strings"
	"time"

	"kinguard/internal/policy/condition"
	dErrors "kinguard/pkg/domain-errors"
	pstrings "kinguard/pkg/platform/strings"
)

// RuleType separates the two call sites that share the rule shape.
type RuleType string

const (
	RuleTypeAccess RuleType = "access"
	RuleTypePolicy RuleType = "policy"
)

func (t RuleType) Valid() bool {
	return t == RuleTypeAccess || t == RuleTypePolicy
}

type Status string

const (
	StatusActive     Status = "active"
	StatusInactive   Status = "inactive"
	StatusDraft      Status = "draft"
	StatusTesting    Status = "testing"
	StatusDeprecated Status = "deprecated"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusDraft, StatusTesting, StatusDeprecated:
		return true
	}
	return false
}

// AccessLevel is the access granted by a decisive action, most restrictive
// first.
type AccessLevel string

const (
	AccessDenied     AccessLevel = "denied"
	AccessRestricted AccessLevel = "restricted"
	AccessLimited    AccessLevel = "limited"
	AccessStandard   AccessLevel = "standard"
	AccessFull       AccessLevel = "full"
)

func (l AccessLevel) Valid() bool {
	switch l {
	case AccessDenied, AccessRestricted, AccessLimited, AccessStandard, AccessFull:
		return true
	}
	return false
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case "", SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

type ActionType string

const (
	ActionGrantAccess      ActionType = "grant_access"
	ActionDeny             ActionType = "deny"
	ActionBlock            ActionType = "block"
	ActionRequireChallenge ActionType = "require_challenge"
	ActionMonitor          ActionType = "monitor"
	ActionEscalate         ActionType = "escalate"
	ActionNotify           ActionType = "notify"
	ActionLog              ActionType = "log"
)

func (t ActionType) Valid() bool {
	switch t {
	case ActionGrantAccess, ActionDeny, ActionBlock, ActionRequireChallenge,
		ActionMonitor, ActionEscalate, ActionNotify, ActionLog:
		return true
	}
	return false
}

// Action is executed when its rule matches.
type Action struct {
	Type        ActionType  `json:"type" yaml:"type"`
	AccessLevel AccessLevel `json:"access_level,omitempty" yaml:"access_level,omitempty"`
	Severity    Severity    `json:"severity,omitempty" yaml:"severity,omitempty"`
	Message     string      `json:"message,omitempty" yaml:"message,omitempty"`
}

// ResolvedLevel returns the access level this action decides, if any.
// notify, log and non-critical escalate only produce side effects.
func (a Action) ResolvedLevel() (AccessLevel, bool) {
	switch a.Type {
	case ActionGrantAccess:
		return a.AccessLevel, a.AccessLevel.Valid()
	case ActionDeny, ActionBlock:
		return AccessDenied, true
	case ActionRequireChallenge:
		return AccessRestricted, true
	case ActionMonitor:
		return AccessLimited, true
	case ActionEscalate:
		if a.Severity == SeverityCritical {
			return AccessDenied, true
		}
	}
	return "", false
}

// Terminal reports whether the action ends rule evaluation.
func (a Action) Terminal() bool {
	switch a.Type {
	case ActionDeny, ActionBlock:
		return true
	case ActionEscalate:
		return a.Severity == SeverityCritical
	}
	return false
}

func (a Action) validate() error {
	if !a.Type.Valid() {
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	if !a.Severity.Valid() {
		return fmt.Errorf("unknown severity %q on %s action", a.Severity, a.Type)
	}
	if a.Type == ActionGrantAccess && !a.AccessLevel.Valid() {
		return fmt.Errorf("grant_access requires a valid access_level, got %q", a.AccessLevel)
	}
	if a.Type != ActionGrantAccess && a.AccessLevel != "" {
		return fmt.Errorf("access_level is only valid on grant_access, found on %s", a.Type)
	}
	return nil
}

// Origin records which path last wrote a rule.
type Origin string

const (
	// OriginSeed rules come from the seed file and are owned by reloads.
	OriginSeed Origin = "seed"
	// OriginAPI rules were written through the rule API and survive reloads.
	OriginAPI Origin = "api"
)

// Rule is a prioritized conjunction of conditions with actions. Lower
// priority values are evaluated first.
type Rule struct {
	ID              string                `json:"id" yaml:"id"`
	Name            string                `json:"name" yaml:"name"`
	Description     string                `json:"description,omitempty" yaml:"description,omitempty"`
	Type            RuleType              `json:"type" yaml:"type"`
	Category        string                `json:"category,omitempty" yaml:"category,omitempty"`
	Status          Status                `json:"status" yaml:"status"`
	Priority        int                   `json:"priority" yaml:"priority"`
	Conditions      []condition.Condition `json:"conditions" yaml:"conditions"`
	Actions         []Action              `json:"actions" yaml:"actions"`
	TargetUsers     []string              `json:"target_users,omitempty" yaml:"target_users,omitempty"`
	TargetDevices   []string              `json:"target_devices,omitempty" yaml:"target_devices,omitempty"`
	TargetResources []string              `json:"target_resources,omitempty" yaml:"target_resources,omitempty"`
	Version         int                   `json:"version" yaml:"-"`
	CreatedAt       time.Time             `json:"created_at" yaml:"-"`
	UpdatedAt       time.Time             `json:"updated_at" yaml:"-"`
	Origin          Origin                `json:"origin,omitempty" yaml:"-"`
}

// Warning flags a rule that is accepted but cannot affect a decision yet.
type Warning string

const (
	WarnNoConditions Warning = "rule has no conditions and matches every request in scope"
	WarnNoActions    Warning = "rule has no actions and never affects a decision"
)

// Normalize trims identifiers, dedupes allow-lists and fills defaults:
// access type and draft status.
func (r *Rule) Normalize() {
	r.ID = strings.TrimSpace(r.ID)
	r.Name = strings.TrimSpace(r.Name)
	r.TargetUsers = pstrings.DedupeAndTrim(r.TargetUsers)
	r.TargetDevices = pstrings.DedupeAndTrim(r.TargetDevices)
	r.TargetResources = pstrings.DedupeAndTrimLower(r.TargetResources)
	if r.Type == "" {
		r.Type = RuleTypeAccess
	}
	if r.Status == "" {
		r.Status = StatusDraft
	}
}

// Validate rejects malformed rules. Rules without conditions or actions are
// accepted with warnings so they can be staged as drafts.
func (r *Rule) Validate() ([]Warning, error) {
	if r.ID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "rule id is required")
	}
	if r.Name == "" {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("rule %s: name is required", r.ID))
	}
	if !r.Type.Valid() {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("rule %s: unknown type %q", r.ID, r.Type))
	}
	if !r.Status.Valid() {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("rule %s: unknown status %q", r.ID, r.Status))
	}
	if r.Priority < 0 {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("rule %s: priority must not be negative", r.ID))
	}
	for i, c := range r.Conditions {
		if err := c.Validate(); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, fmt.Sprintf("rule %s: condition %d", r.ID, i))
		}
	}
	for i, a := range r.Actions {
		if err := a.validate(); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, fmt.Sprintf("rule %s: action %d", r.ID, i))
		}
	}

	var warnings []Warning
	if len(r.Conditions) == 0 {
		warnings = append(warnings, WarnNoConditions)
	}
	if len(r.Actions) == 0 {
		warnings = append(warnings, WarnNoActions)
	}
	return warnings, nil
}

// Terminal reports whether any action ends rule evaluation.
func (r *Rule) Terminal() bool {
	for _, a := range r.Actions {
		if a.Terminal() {
			return true
		}
	}
	return false
}

// Decisive returns the first action with a resolved access level.
func (r *Rule) Decisive() (Action, AccessLevel, bool) {
	for _, a := range r.Actions {
		if level, ok := a.ResolvedLevel(); ok {
			return a, level, true
		}
	}
	return Action{}, "", false
}

// Targets reports whether the subject, device and resource pass the rule's
// allow-lists. Empty lists admit everyone. Resources compare
// case-insensitively.
func (r *Rule) Targets(subjectID, deviceID, resource string) bool {
	return allowed(r.TargetUsers, subjectID) &&
		allowed(r.TargetDevices, deviceID) &&
		allowed(r.TargetResources, strings.ToLower(resource))
}

func allowed(list []string, v string) bool {
	if len(list) == 0 {
		return true
	}
	for _, item := range list {
		if item == v || item == "*" {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so snapshot readers never share slices with
// writers.
func (r Rule) Clone() Rule {
	c := r
	c.Conditions = append([]condition.Condition(nil), r.Conditions...)
	for i := range c.Conditions {
		if c.Conditions[i].Value.List != nil {
			c.Conditions[i].Value.List = append([]condition.Value(nil), c.Conditions[i].Value.List...)
		}
	}
	c.Actions = append([]Action(nil), r.Actions...)
	c.TargetUsers = append([]string(nil), r.TargetUsers...)
	c.TargetDevices = append([]string(nil), r.TargetDevices...)
	c.TargetResources = append([]string(nil), r.TargetResources...)
	return c
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Type     RuleType
	Status   Status
	Category string
}

func (f Filter) matches(r *Rule) bool {
	return (f.Type == "" || r.Type == f.Type) &&
		(f.Status == "" || r.Status == f.Status) &&
		(f.Category == "" || r.Category == f.Category)
}

// Query selects applicable rules for one request.
type Query struct {
	// Type limits the search to one bucket; empty searches all rules.
	Type      RuleType
	SubjectID string
	DeviceID  string
	Resource  string
	Context   map[string]any
	// MaxEvaluations bounds rule evaluations; zero means the repository
	// default.
	MaxEvaluations int
}
