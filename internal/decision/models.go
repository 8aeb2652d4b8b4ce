package decision

import (
	"fmt"
	"strings"
	"time"

	"kinguard/internal/policy"
	dErrors "kinguard/pkg/domain-errors"
)

// Verdict is the caller-facing outcome of an access evaluation.
type Verdict string

const (
	VerdictAllow     Verdict = "allow"
	VerdictDeny      Verdict = "deny"
	VerdictChallenge Verdict = "challenge"
	VerdictMonitor   Verdict = "monitor"
	VerdictEscalate  Verdict = "escalate"
)

// State is a stage of one evaluation.
type State string

const (
	StateReceived        State = "received"
	StateContextAnalyzed State = "context_analyzed"
	StateRulesMatched    State = "rules_matched"
	StateActionsExecuted State = "actions_executed"
	StateDecided         State = "decided"
	StateExpired         State = "expired"
)

// Source records what produced the verdict.
type Source string

const (
	SourceRule      Source = "rule"
	SourceFallback  Source = "context_score"
	SourceEnrolment Source = "enrolment"
	SourceFault     Source = "system_error"
	SourceTimeout   Source = "timeout"
)

// Decision is the immutable, auditable output of one evaluation.
type Decision struct {
	ID              string             `json:"id"`
	SubjectID       string             `json:"subject_id"`
	DeviceID        string             `json:"device_id,omitempty"`
	Resource        string             `json:"resource"`
	Action          string             `json:"action"`
	Verdict         Verdict            `json:"verdict"`
	AccessLevel     policy.AccessLevel `json:"access_level"`
	Source          Source             `json:"source"`
	MatchedRuleIDs  []string           `json:"matched_rule_ids"`
	DecidingRuleID  string             `json:"deciding_rule_id,omitempty"`
	ExecutedActions []policy.Action    `json:"executed_actions,omitempty"`
	Confidence      float64            `json:"confidence"`
	Reasoning       string             `json:"reasoning"`
	ContextSnapshot map[string]any     `json:"context_snapshot"`
	ContextScore    *float64           `json:"context_score,omitempty"`
	Timestamp       time.Time          `json:"timestamp"`
	ExpiresAt       time.Time          `json:"expires_at"`
}

// Expired reports whether the decision is past its ExpiresAt.
func (d *Decision) Expired(now time.Time) bool {
	return !now.Before(d.ExpiresAt)
}

// StateAt returns decided, or expired once the TTL has passed.
func (d *Decision) StateAt(now time.Time) State {
	if d.Expired(now) {
		return StateExpired
	}
	return StateDecided
}

// EvaluateRequest is the input to EvaluateAccess.
type EvaluateRequest struct {
	SubjectID string
	DeviceID  string
	Resource  string
	Action    string
	Context   map[string]any
}

func (r *EvaluateRequest) normalize() error {
	r.SubjectID = strings.TrimSpace(r.SubjectID)
	r.Resource = strings.TrimSpace(r.Resource)
	r.Action = strings.TrimSpace(r.Action)
	if r.SubjectID == "" {
		return dErrors.New(dErrors.CodeValidation, "subject_id is required")
	}
	if r.Resource == "" {
		return dErrors.New(dErrors.CodeValidation, "resource is required")
	}
	return nil
}

// stageError marks a fault in one evaluation stage.
type stageError struct {
	state State
	err   error
}

func (e *stageError) Error() string {
	return fmt.Sprintf("%s: %v", e.state, e.err)
}

func (e *stageError) Unwrap() error {
	return e.err
}
