package decision_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"kinguard/internal/decision"
	"kinguard/internal/decision/adapters"
	"kinguard/internal/decision/ports"
	decisionstore "kinguard/internal/decision/store"
	"kinguard/internal/policy"
	"kinguard/internal/policy/condition"
	"kinguard/internal/policy/loader"
	"kinguard/internal/risk"
	riskstore "kinguard/internal/risk/store"
	"kinguard/internal/subject"
	subjectstore "kinguard/internal/subject/store"
	"kinguard/internal/trust"
	truststore "kinguard/internal/trust/store"
	"kinguard/pkg/platform/audit"
	"kinguard/pkg/platform/audit/publisher"
	auditmemory "kinguard/pkg/platform/audit/store/memory"
	"kinguard/pkg/requestcontext"
)

var afternoon = time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC)

type EvaluateAccessSuite struct {
	suite.Suite
	ctx        context.Context
	trust      *trust.Service
	trustStore *truststore.InMemory
	risk       *risk.Service
	subjects   *subject.Service
	rules      *policy.Repository
	store      *decisionstore.InMemory
	auditStore *auditmemory.InMemoryStore
	service    *decision.Service
}

func TestEvaluateAccessSuite(t *testing.T) {
	suite.Run(t, new(EvaluateAccessSuite))
}

func (s *EvaluateAccessSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), afternoon)
	s.auditStore = auditmemory.NewInMemoryStore()
	pub := publisher.NewPublisher(s.auditStore)

	var err error
	s.trustStore = truststore.NewInMemory()
	s.trust, err = trust.New(s.trustStore, trust.WithAuditPublisher(pub))
	s.Require().NoError(err)
	s.risk, err = risk.New(riskstore.NewInMemory())
	s.Require().NoError(err)
	s.subjects, err = subject.New(subjectstore.NewInMemory(), s.trust)
	s.Require().NoError(err)
	s.rules = policy.NewRepository()
	s.store = decisionstore.NewInMemory()

	s.service = s.newService(decision.DefaultConfig())

	s.register("mum", subject.RoleParent, "")
	s.register("kid", subject.RoleChild, "mum")
	s.register("visitor", subject.RoleGuest, "")
	s.registerWithTrust("dad", subject.RoleParent, 0.9)
}

func (s *EvaluateAccessSuite) newService(cfg decision.Config, overrides ...func(*deps)) *decision.Service {
	p := &deps{
		subjects: adapters.NewSubjectAdapter(s.subjects),
		trust:    adapters.NewTrustAdapter(s.trust),
		risk:     adapters.NewRiskAdapter(s.risk),
		rules:    s.rules,
		store:    s.store,
	}
	for _, o := range overrides {
		o(p)
	}
	svc, err := decision.New(p.subjects, p.trust, p.risk, p.rules, p.store,
		decision.WithConfig(cfg),
		decision.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		decision.WithAuditPublisher(publisher.NewPublisher(s.auditStore)),
	)
	s.Require().NoError(err)
	return svc
}

func (s *EvaluateAccessSuite) register(id string, role subject.Role, guardian string) {
	_, err := s.subjects.Register(s.ctx, subject.RegisterCommand{ID: id, Role: role, GuardianID: guardian})
	s.Require().NoError(err)
}

// registerWithTrust seeds the stored trust profile before enrolment so the
// role baseline does not apply.
func (s *EvaluateAccessSuite) registerWithTrust(id string, role subject.Role, score float64) {
	_, err := s.trust.Initialize(s.ctx, id, score)
	s.Require().NoError(err)
	s.register(id, role, "")
}

func (s *EvaluateAccessSuite) seedDefaults() {
	_, err := s.rules.Replace(s.ctx, loader.DefaultRules())
	s.Require().NoError(err)
}

func (s *EvaluateAccessSuite) evaluate(subjectID string, ctx map[string]any) *decision.Decision {
	return s.service.EvaluateAccess(s.ctx, decision.EvaluateRequest{
		SubjectID: subjectID,
		Resource:  "tablet",
		Action:    "unlock",
		Context:   ctx,
	})
}

func (s *EvaluateAccessSuite) trustScore(id string) float64 {
	p, err := s.trust.GetOrCreate(s.ctx, id)
	s.Require().NoError(err)
	return p.OverallScore
}

// =============================================================================
// Scenarios
// =============================================================================

func (s *EvaluateAccessSuite) TestTrustedSubjectAtHomeGetsFullAccess() {
	s.seedDefaults()

	d := s.evaluate("dad", map[string]any{
		"risk_score":   0.1,
		"network_type": "home",
		"time_of_day":  "14:00",
	})

	s.InDelta(0.9, d.ContextSnapshot["trust_score"], 1e-9)
	s.Equal(decision.VerdictAllow, d.Verdict)
	s.Equal(policy.AccessFull, d.AccessLevel)
	s.Equal(decision.SourceRule, d.Source)
	s.Equal("trusted-home-full", d.DecidingRuleID)
	s.InDelta(0.9, d.Confidence, 1e-9)
	s.True(d.ExpiresAt.Equal(afternoon.Add(time.Hour)))
}

func (s *EvaluateAccessSuite) TestHighRiskOnPublicNetworkIsDenied() {
	s.seedDefaults()

	d := s.evaluate("mum", map[string]any{
		"network_type": "public",
		"risk_score":   0.85,
	})

	s.Equal(decision.VerdictDeny, d.Verdict)
	s.Equal(policy.AccessDenied, d.AccessLevel)
	s.Equal("high-risk-deny", d.DecidingRuleID)
	s.Equal([]string{"high-risk-deny"}, d.MatchedRuleIDs, "evaluation stops at the terminal rule")
	s.InDelta(0.9, d.Confidence, 1e-9)
}

func (s *EvaluateAccessSuite) TestChildAfterBedtimeIsChallenged() {
	s.seedDefaults()
	night := requestcontext.WithTime(context.Background(), time.Date(2026, 5, 4, 23, 30, 0, 0, time.UTC))

	d := s.service.EvaluateAccess(night, decision.EvaluateRequest{SubjectID: "kid", Resource: "tablet"})

	s.Equal(decision.VerdictChallenge, d.Verdict)
	s.Equal(policy.AccessRestricted, d.AccessLevel)
	s.InDelta(0.8, d.Confidence, 1e-9)

	entries, err := s.auditStore.ListBySubject(s.ctx, "kid")
	s.Require().NoError(err)
	s.Contains(entryTypes(entries), audit.EntryNotificationQueued)
}

func (s *EvaluateAccessSuite) TestRootedDeviceAssessmentIsDenied() {
	s.seedDefaults()
	_, err := s.risk.Assess(s.ctx, "dad", map[string]any{
		"rooted":            true,
		"device_encryption": false,
		"os_updated":        false,
	})
	s.Require().NoError(err)

	d := s.evaluate("dad", map[string]any{"network_type": "home"})
	s.Equal(decision.VerdictDeny, d.Verdict)
	s.Equal("high-risk-deny", d.DecidingRuleID)
	s.Greater(d.ContextSnapshot["risk_score"], 0.8)
}

func (s *EvaluateAccessSuite) TestCallerCannotInflateStoredTrust() {
	s.seedDefaults()
	for range 3 {
		_, err := s.trust.RecordEvent(s.ctx, "visitor", trust.EventSecurityViolation, "tamper attempt", nil)
		s.Require().NoError(err)
	}

	d := s.evaluate("visitor", map[string]any{
		"trust_score":  0.99,
		"risk_score":   0.0,
		"network_type": "home",
	})

	s.InDelta(0.0, d.ContextSnapshot["trust_score"], 1e-9)
	s.NotEqual("trusted-home-full", d.DecidingRuleID)
	s.NotEqual(policy.AccessFull, d.AccessLevel)
}

func (s *EvaluateAccessSuite) TestUnregisteredSubjectIsDeniedWithFullConfidence() {
	s.seedDefaults()

	for range 3 {
		d := s.evaluate("stranger", map[string]any{"trust_score": 0.99, "network_type": "home"})
		s.Equal(decision.VerdictDeny, d.Verdict)
		s.Equal(decision.SourceEnrolment, d.Source)
		s.InDelta(1.0, d.Confidence, 1e-9)
	}

	n, err := s.trustStore.Count(s.ctx)
	s.Require().NoError(err)
	s.Equal(4, n, "no trust profile is created for unregistered subjects")
}

func (s *EvaluateAccessSuite) TestPriorityTenBeatsPriorityHundred() {
	always := condition.Condition{Field: "network_type", Operator: condition.OpEquals, Value: condition.String("home")}
	_, err := s.rules.Replace(s.ctx, []policy.Rule{
		{ID: "p100", Name: "p100", Status: policy.StatusActive, Priority: 100,
			Conditions: []condition.Condition{always},
			Actions:    []policy.Action{{Type: policy.ActionGrantAccess, AccessLevel: policy.AccessFull}}},
		{ID: "p10", Name: "p10", Status: policy.StatusActive, Priority: 10,
			Conditions: []condition.Condition{always},
			Actions:    []policy.Action{{Type: policy.ActionMonitor}}},
	})
	s.Require().NoError(err)

	d := s.evaluate("mum", map[string]any{"network_type": "home"})
	s.Equal(decision.VerdictMonitor, d.Verdict)
	s.Equal("p10", d.DecidingRuleID)
	s.InDelta(0.7, d.Confidence, 1e-9)
	s.Equal([]string{"p10", "p100"}, d.MatchedRuleIDs)
}

func (s *EvaluateAccessSuite) TestCriticalEscalation() {
	_, err := s.rules.Replace(s.ctx, []policy.Rule{{
		ID: "stranger-danger", Name: "stranger contact", Status: policy.StatusActive, Priority: 1,
		Conditions: []condition.Condition{{Field: "content_flags", Operator: condition.OpGreaterThan, Value: condition.Number(2)}},
		Actions:    []policy.Action{{Type: policy.ActionEscalate, Severity: policy.SeverityCritical, Message: "guardian review"}},
	}})
	s.Require().NoError(err)

	d := s.evaluate("kid", map[string]any{"content_flags": 3})
	s.Equal(decision.VerdictEscalate, d.Verdict)
	s.Equal(policy.AccessDenied, d.AccessLevel)

	entries, err := s.auditStore.ListBySubject(s.ctx, "kid")
	s.Require().NoError(err)
	s.Contains(entryTypes(entries), audit.EntryEscalationRaised)
}

// =============================================================================
// Context-score fallback
// =============================================================================

func (s *EvaluateAccessSuite) TestFallbackThresholds() {
	s.Run("allow at or above 0.7", func() {
		// parent baseline 0.6, home network, afternoon
		d := s.evaluate("mum", map[string]any{"network_type": "home"})
		s.Equal(decision.SourceFallback, d.Source)
		s.Equal(decision.VerdictAllow, d.Verdict)
		s.Equal(policy.AccessStandard, d.AccessLevel)
		s.InDelta(0.8, d.Confidence, 1e-9)
	})

	s.Run("challenge between 0.4 and 0.7", func() {
		// guest baseline 0.3, public network, afternoon: exactly 0.5
		d := s.evaluate("visitor", map[string]any{"network_type": "public"})
		s.Require().NotNil(d.ContextScore)
		s.InDelta(0.5, *d.ContextScore, 1e-9)
		s.Equal(decision.VerdictChallenge, d.Verdict)
		s.Equal(policy.AccessRestricted, d.AccessLevel)
	})

	s.Run("deny below 0.4", func() {
		d := s.evaluate("visitor", map[string]any{
			"network_type": "public",
			"location":     "unknown",
			"time_of_day":  "02:00",
		})
		s.Equal(decision.VerdictDeny, d.Verdict)
		s.Equal(policy.AccessDenied, d.AccessLevel)
	})
}

func (s *EvaluateAccessSuite) TestSnapshotUsesProfilesUnlessCallerSupplies() {
	s.Run("trust and risk come from profiles", func() {
		assessed, err := s.risk.Assess(s.ctx, "mum", map[string]any{"mfa_enabled": false, "network_type": 0.2})
		s.Require().NoError(err)

		d := s.evaluate("mum", nil)
		s.InDelta(s.trustScore("mum"), d.ContextSnapshot["trust_score"], 0.03)
		s.InDelta(assessed.OverallRiskScore, d.ContextSnapshot["risk_score"], 1e-9)
		s.Equal("parent", d.ContextSnapshot["subject_role"])
		s.Equal("14:00", d.ContextSnapshot["time_of_day"])
	})

	s.Run("unassessed risk is left out", func() {
		d := s.evaluate("visitor", nil)
		s.NotContains(d.ContextSnapshot, "risk_score")
	})

	s.Run("caller trust can only lower the stored score", func() {
		d := s.evaluate("visitor", map[string]any{"trust_score": 0.95})
		s.InDelta(s.trustScore("visitor"), d.ContextSnapshot["trust_score"], 0.03)

		d = s.evaluate("visitor", map[string]any{"trust_score": 0.1})
		s.InDelta(0.1, d.ContextSnapshot["trust_score"], 1e-9)
	})

	s.Run("caller risk can only raise the assessed score", func() {
		assessed, err := s.risk.Get(s.ctx, "mum")
		s.Require().NoError(err)

		d := s.evaluate("mum", map[string]any{"risk_score": 0.0})
		s.InDelta(assessed.OverallRiskScore, d.ContextSnapshot["risk_score"], 1e-9)

		d = s.evaluate("mum", map[string]any{"risk_score": 0.99})
		s.InDelta(0.99, d.ContextSnapshot["risk_score"], 1e-9)
	})

	s.Run("caller risk is used when nothing is assessed", func() {
		d := s.evaluate("visitor", map[string]any{"risk_score": 0.4})
		s.InDelta(0.4, d.ContextSnapshot["risk_score"], 1e-9)
	})

	s.Run("non-numeric scores fall back to profiles", func() {
		d := s.evaluate("visitor", map[string]any{"trust_score": "max", "risk_score": "none"})
		s.InDelta(s.trustScore("visitor"), d.ContextSnapshot["trust_score"], 0.03)
		s.NotContains(d.ContextSnapshot, "risk_score")
	})
}

// =============================================================================
// Side effects
// =============================================================================

func (s *EvaluateAccessSuite) TestOutcomesFeedBackIntoTrust() {
	s.seedDefaults()

	before := s.trustScore("dad")
	d := s.evaluate("dad", map[string]any{"risk_score": 0.1, "network_type": "home"})
	s.Require().Equal("trusted-home-full", d.DecidingRuleID)
	s.InDelta(before+0.01, s.trustScore("dad"), 1e-9)

	before = s.trustScore("dad")
	s.evaluate("dad", map[string]any{"risk_score": 0.95})
	s.InDelta(before-0.02, s.trustScore("dad"), 1e-9)
}

func (s *EvaluateAccessSuite) TestDecisionIsPersistedAndAudited() {
	s.seedDefaults()
	d := s.evaluate("mum", map[string]any{"risk_score": 0.95})

	stored, err := s.service.Get(s.ctx, d.ID)
	s.Require().NoError(err)
	s.Equal(d.Verdict, stored.Verdict)
	s.Equal(decision.StateDecided, stored.StateAt(afternoon.Add(59*time.Minute)))
	s.Equal(decision.StateExpired, stored.StateAt(afternoon.Add(time.Hour)))

	history, err := s.service.History(s.ctx, "mum", 10)
	s.Require().NoError(err)
	s.Require().Len(history, 1)
	s.Equal(d.ID, history[0].ID)

	entries, err := s.auditStore.ListBySubject(s.ctx, "mum")
	s.Require().NoError(err)
	var made *audit.Entry
	for i := range entries {
		if entries[i].Type == audit.EntryDecisionMade {
			made = &entries[i]
		}
	}
	s.Require().NotNil(made)
	s.Equal(d.ID, made.DecisionID)
	s.Equal("deny", made.Verdict)
	s.Equal([]string{"high-risk-deny"}, made.RuleIDs)
}

// =============================================================================
// Fail-closed
// =============================================================================

func (s *EvaluateAccessSuite) TestTrustFailureDeniesWithZeroConfidence() {
	svc := s.newService(decision.DefaultConfig(), func(p *deps) {
		p.trust = failingTrust{}
	})
	d := svc.EvaluateAccess(s.ctx, decision.EvaluateRequest{SubjectID: "mum", Resource: "tablet"})
	s.Equal(decision.VerdictDeny, d.Verdict)
	s.Equal(decision.SourceFault, d.Source)
	s.Zero(d.Confidence)
	s.Contains(d.Reasoning, "system error")
}

func (s *EvaluateAccessSuite) TestEvaluationBudgetDegradesToDeny() {
	var rules []policy.Rule
	for i := range 5 {
		rules = append(rules, policy.Rule{
			ID: fmt.Sprintf("r%d", i), Name: "never", Status: policy.StatusActive, Priority: i,
			Conditions: []condition.Condition{{Field: "missing", Operator: condition.OpEquals, Value: condition.String("x")}},
			Actions:    []policy.Action{{Type: policy.ActionGrantAccess, AccessLevel: policy.AccessFull}},
		})
	}
	_, err := s.rules.Replace(s.ctx, rules)
	s.Require().NoError(err)

	cfg := decision.DefaultConfig()
	cfg.MaxEvaluations = 2
	d := s.newService(cfg).EvaluateAccess(s.ctx, decision.EvaluateRequest{SubjectID: "mum", Resource: "tablet"})
	s.Equal(decision.VerdictDeny, d.Verdict)
	s.Equal(decision.SourceTimeout, d.Source)
	s.Contains(d.Reasoning, "timed out")
}

func (s *EvaluateAccessSuite) TestDeadlineDegradesToDeny() {
	cfg := decision.DefaultConfig()
	cfg.Deadline = 10 * time.Millisecond
	svc := s.newService(cfg, func(p *deps) { p.rules = blockingRules{} })

	d := svc.EvaluateAccess(s.ctx, decision.EvaluateRequest{SubjectID: "mum", Resource: "tablet"})
	s.Equal(decision.VerdictDeny, d.Verdict)
	s.Equal(decision.SourceTimeout, d.Source)
}

func (s *EvaluateAccessSuite) TestPanicDegradesToDeny() {
	svc := s.newService(decision.DefaultConfig(), func(p *deps) { p.rules = panickingRules{} })
	d := svc.EvaluateAccess(s.ctx, decision.EvaluateRequest{SubjectID: "mum", Resource: "tablet"})
	s.Equal(decision.VerdictDeny, d.Verdict)
	s.Equal(decision.SourceFault, d.Source)
}

func (s *EvaluateAccessSuite) TestPersistFailureDenies() {
	s.seedDefaults()
	svc := s.newService(decision.DefaultConfig(), func(p *deps) { p.store = failingStore{} })
	d := svc.EvaluateAccess(s.ctx, decision.EvaluateRequest{
		SubjectID: "mum", Resource: "tablet",
		Context: map[string]any{"risk_score": 0.1, "network_type": "home"},
	})
	s.Equal(decision.VerdictDeny, d.Verdict)
	s.Equal(decision.SourceFault, d.Source)
}

func (s *EvaluateAccessSuite) TestMissingSubjectIDDenies() {
	d := s.service.EvaluateAccess(s.ctx, decision.EvaluateRequest{Resource: "tablet"})
	s.Equal(decision.VerdictDeny, d.Verdict)
	s.Equal(decision.SourceFault, d.Source)
}

func (s *EvaluateAccessSuite) TestConcurrentEvaluations() {
	s.seedDefaults()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := []string{"mum", "kid", "visitor"}[i%3]
			d := s.evaluate(id, map[string]any{"network_type": "home"})
			if d.Verdict == "" {
				s.T().Error("empty verdict")
			}
		}()
	}
	wg.Wait()

	total := 0
	for _, id := range []string{"mum", "kid", "visitor"} {
		h, err := s.service.History(s.ctx, id, 100)
		s.Require().NoError(err)
		total += len(h)
	}
	s.Equal(20, total)
}

// =============================================================================
// Helpers
// =============================================================================

type deps struct {
	subjects ports.SubjectPort
	trust    ports.TrustPort
	risk     ports.RiskPort
	rules    ports.RulePort
	store    decision.Store
}

func entryTypes(entries []audit.Entry) []audit.EntryType {
	out := make([]audit.EntryType, len(entries))
	for i, e := range entries {
		out[i] = e.Type
	}
	return out
}

type failingTrust struct{}

func (failingTrust) Score(context.Context, string) (float64, error) {
	return 0, errors.New("trust store unavailable")
}

func (failingTrust) RecordEvent(context.Context, string, string, string, map[string]string) error {
	return errors.New("trust store unavailable")
}

type blockingRules struct{}

func (blockingRules) FindApplicable(ctx context.Context, _ policy.Query) ([]policy.Rule, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type panickingRules struct{}

func (panickingRules) FindApplicable(context.Context, policy.Query) ([]policy.Rule, error) {
	panic("corrupted index")
}

type failingStore struct{}

func (failingStore) Save(context.Context, *decision.Decision) error {
	return errors.New("disk full")
}

func (failingStore) Find(context.Context, string) (*decision.Decision, error) {
	return nil, errors.New("disk full")
}

func (failingStore) ListBySubject(context.Context, string, int) ([]*decision.Decision, error) {
	return nil, errors.New("disk full")
}

func (failingStore) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, errors.New("disk full")
}
