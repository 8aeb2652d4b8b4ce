//go:generate mockgen -source=models.go -destination=mocks/mocks.go -package=mocks

package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit entries by their primary purpose so sinks
// can apply different retention and routing.
type EventCategory string

const (
	// CategoryCompliance covers decisions and rule changes that must be
	// reproducible for a guardian or regulator after the fact.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers trust and risk movements that feed alerting.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity that can be sampled.
	CategoryOperations EventCategory = "operations"
)

// EntryType names what an audit entry records.
type EntryType string

const (
	EntryDecisionMade       EntryType = "decision_made"
	EntryRuleMatched        EntryType = "rule_matched"
	EntryActionExecuted     EntryType = "action_executed"
	EntryScoreChanged       EntryType = "score_changed"
	EntryRiskAssessed       EntryType = "risk_assessed"
	EntryRuleUpserted       EntryType = "rule_upserted"
	EntryRuleDeleted        EntryType = "rule_deleted"
	EntryRulesReloaded      EntryType = "rules_reloaded"
	EntrySubjectRegistered  EntryType = "subject_registered"
	EntryTrustProfileReset  EntryType = "trust_profile_reset"
	EntryEscalationRaised   EntryType = "escalation_raised"
	EntryNotificationQueued EntryType = "notification_queued"
)

var entryCategories = map[EntryType]EventCategory{
	EntryDecisionMade:      CategoryCompliance,
	EntryRuleUpserted:      CategoryCompliance,
	EntryRuleDeleted:       CategoryCompliance,
	EntryRulesReloaded:     CategoryCompliance,
	EntrySubjectRegistered: CategoryCompliance,

	EntryScoreChanged:      CategorySecurity,
	EntryRiskAssessed:      CategorySecurity,
	EntryTrustProfileReset: CategorySecurity,
	EntryEscalationRaised:  CategorySecurity,

	EntryRuleMatched:        CategoryOperations,
	EntryActionExecuted:     CategoryOperations,
	EntryNotificationQueued: CategoryOperations,
}

// Category returns the EventCategory for this entry type.
// Unknown types default to CategoryOperations.
func (t EntryType) Category() EventCategory {
	if cat, ok := entryCategories[t]; ok {
		return cat
	}
	return CategoryOperations
}

// Entry is one append-only audit record. Keep it transport-agnostic so stores
// and sinks can fan out. Hash and PrevHash are assigned by the chained log.
type Entry struct {
	ID            string            `json:"id"`
	Type          EntryType         `json:"type"`
	Category      EventCategory     `json:"category"`
	Timestamp     time.Time         `json:"timestamp"`
	SubjectID     string            `json:"subject_id,omitempty"`
	Resource      string            `json:"resource,omitempty"`
	Action        string            `json:"action,omitempty"`
	DecisionID    string            `json:"decision_id,omitempty"`
	RuleIDs       []string          `json:"rule_ids,omitempty"`
	Verdict       string            `json:"verdict,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	PreviousScore *float64          `json:"previous_score,omitempty"`
	Score         *float64          `json:"score,omitempty"`
	RequestID     string            `json:"request_id,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	PrevHash      string            `json:"prev_hash,omitempty"`
	Hash          string            `json:"hash,omitempty"`
}

// Score returns a pointer for the optional score fields.
func Score(v float64) *float64 {
	return &v
}

// Sink receives entries for external persistence (database, broker, SIEM).
type Sink interface {
	Append(ctx context.Context, entry Entry) error
}

// Store is the queryable append-only log.
type Store interface {
	Sink
	ListBySubject(ctx context.Context, subjectID string) ([]Entry, error)
	ListRecent(ctx context.Context, limit int) ([]Entry, error)
}

// Emitter is the port domain services depend on.
type Emitter interface {
	Emit(ctx context.Context, entry Entry) error
}
