// Package decision is the access decision orchestrator. It turns a subject's
// trust and risk standing plus request context into an auditable Decision,
// failing closed on every fault.
package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"kinguard/internal/decision/metrics"
	"kinguard/internal/decision/ports"
	"kinguard/internal/policy"
	"kinguard/internal/scoring"
	dErrors "kinguard/pkg/domain-errors"
	"kinguard/pkg/platform/audit"
	"kinguard/pkg/platform/sentinel"
	"kinguard/pkg/requestcontext"
)

const tracerName = "kinguard/decision"

// Trust event types recorded after a decision.
const (
	trustEventGranted = "access_granted"
	trustEventDenied  = "access_denied"
)

// Config holds the orchestrator tunables.
type Config struct {
	// DecisionTTL sets ExpiresAt relative to the decision timestamp.
	DecisionTTL time.Duration
	// Deadline bounds one evaluation.
	Deadline time.Duration
	// MaxEvaluations bounds rule evaluations per request.
	MaxEvaluations int
	Thresholds     Thresholds
	// RecordTrustEvents feeds allow and deny outcomes back into trust.
	RecordTrustEvents bool
}

func DefaultConfig() Config {
	return Config{
		DecisionTTL:       time.Hour,
		Deadline:          100 * time.Millisecond,
		MaxEvaluations:    policy.DefaultMaxEvaluations,
		Thresholds:        DefaultThresholds(),
		RecordTrustEvents: true,
	}
}

// Service orchestrates one access evaluation end to end.
type Service struct {
	subjects ports.SubjectPort
	trust    ports.TrustPort
	risk     ports.RiskPort
	rules    ports.RulePort
	store    Store
	auditor  ports.AuditPort
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	cfg      Config
}

type Option func(*Service)

func WithConfig(cfg Config) Option {
	return func(s *Service) {
		s.cfg = cfg
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(p ports.AuditPort) Option {
	return func(s *Service) {
		s.auditor = p
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		s.tracer = tp.Tracer(tracerName)
	}
}

func New(subjects ports.SubjectPort, trust ports.TrustPort, risk ports.RiskPort, rules ports.RulePort, store Store, opts ...Option) (*Service, error) {
	switch {
	case subjects == nil:
		return nil, fmt.Errorf("subject directory is required")
	case trust == nil:
		return nil, fmt.Errorf("trust port is required")
	case risk == nil:
		return nil, fmt.Errorf("risk port is required")
	case rules == nil:
		return nil, fmt.Errorf("rule repository is required")
	case store == nil:
		return nil, fmt.Errorf("decision store is required")
	}
	s := &Service{
		subjects: subjects,
		trust:    trust,
		risk:     risk,
		rules:    rules,
		store:    store,
		tracer:   otel.Tracer(tracerName),
		cfg:      DefaultConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.DecisionTTL <= 0 {
		return nil, fmt.Errorf("decision TTL must be positive")
	}
	if s.cfg.Deadline <= 0 {
		return nil, fmt.Errorf("evaluation deadline must be positive")
	}
	if s.cfg.Thresholds.Challenge > s.cfg.Thresholds.Allow {
		return nil, fmt.Errorf("challenge threshold must not exceed allow threshold")
	}
	return s, nil
}

// evaluation carries one request through the state machine.
type evaluation struct {
	req      EvaluateRequest
	state    State
	decision *Decision
	span     trace.Span
}

func (e *evaluation) advance(state State) {
	e.state = state
	e.span.AddEvent(string(state))
}

// EvaluateAccess decides one request. It never returns an error: unknown
// subjects, store faults, timeouts and panics all become deny decisions.
func (s *Service) EvaluateAccess(ctx context.Context, req EvaluateRequest) *Decision {
	start := time.Now()
	now := requestcontext.Now(ctx)

	ctx, span := s.tracer.Start(ctx, "decision.EvaluateAccess", trace.WithAttributes(
		attribute.String("subject_id", req.SubjectID),
		attribute.String("resource", req.Resource),
		attribute.String("action", req.Action),
	))
	defer span.End()

	ev := &evaluation{
		req:  req,
		span: span,
		decision: &Decision{
			ID:             uuid.NewString(),
			SubjectID:      strings.TrimSpace(req.SubjectID),
			DeviceID:       req.DeviceID,
			Resource:       req.Resource,
			Action:         req.Action,
			MatchedRuleIDs: []string{},
			Timestamp:      now,
			ExpiresAt:      now.Add(s.cfg.DecisionTTL),
		},
	}
	ev.advance(StateReceived)

	evalCtx, cancel := context.WithTimeout(ctx, s.cfg.Deadline)
	s.run(evalCtx, ev, now)
	cancel()

	d := ev.decision
	s.finalize(ctx, d)

	span.SetAttributes(
		attribute.String("verdict", string(d.Verdict)),
		attribute.String("access_level", string(d.AccessLevel)),
		attribute.String("source", string(d.Source)),
	)
	if d.Source == SourceFault || d.Source == SourceTimeout {
		span.SetStatus(codes.Error, d.Reasoning)
	}
	s.metrics.IncrementOutcome(string(d.Verdict), string(d.Source))
	s.metrics.ObserveEvaluateLatency(time.Since(start))

	if s.logger != nil {
		s.logger.InfoContext(ctx, "access evaluated",
			"request_id", requestcontext.RequestID(ctx),
			"decision_id", d.ID,
			"subject_id", d.SubjectID,
			"resource", d.Resource,
			"verdict", d.Verdict,
			"access_level", d.AccessLevel,
			"source", d.Source,
			"matched_rules", len(d.MatchedRuleIDs),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return d
}

// run drives the stages and converts every fault into a deny.
func (s *Service) run(ctx context.Context, ev *evaluation, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.failClosed(ev, SourceFault, 0, fmt.Errorf("panic: %v", r))
		}
	}()

	if err := ev.req.normalize(); err != nil {
		s.failClosed(ev, SourceFault, 0, err)
		return
	}
	ev.decision.SubjectID = ev.req.SubjectID
	ev.decision.Resource = ev.req.Resource
	ev.decision.Action = ev.req.Action

	subject, err := s.subjects.Lookup(ctx, ev.req.SubjectID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) || errors.Is(err, sentinel.ErrNotFound) {
			ev.decision.Verdict = VerdictDeny
			ev.decision.AccessLevel = policy.AccessDenied
			ev.decision.Source = SourceEnrolment
			ev.decision.Confidence = 1.0
			ev.decision.Reasoning = "subject is not registered"
			ev.decision.ContextSnapshot = maps.Clone(ev.req.Context)
			ev.advance(StateDecided)
			return
		}
		s.failStage(ctx, ev, err)
		return
	}

	evidence, err := s.gatherEvidence(ctx, ev.req.SubjectID)
	if err != nil {
		s.failStage(ctx, ev, err)
		return
	}

	snapshot := buildSnapshot(ev.req, subject, evidence, now)
	ev.decision.ContextSnapshot = snapshot
	score, scored := ContextScore(snapshot)
	if scored {
		ev.decision.ContextScore = &score
	}
	ev.advance(StateContextAnalyzed)

	matched, err := s.rules.FindApplicable(ctx, policy.Query{
		Type:           policy.RuleTypeAccess,
		SubjectID:      ev.req.SubjectID,
		DeviceID:       ev.req.DeviceID,
		Resource:       ev.req.Resource,
		Context:        snapshot,
		MaxEvaluations: s.cfg.MaxEvaluations,
	})
	if err != nil {
		s.failStage(ctx, ev, err)
		return
	}
	for _, r := range matched {
		ev.decision.MatchedRuleIDs = append(ev.decision.MatchedRuleIDs, r.ID)
	}
	ev.advance(StateRulesMatched)

	if rule, action, level, ok := decide(matched); ok {
		ev.decision.Verdict = VerdictFor(action, level)
		ev.decision.AccessLevel = level
		ev.decision.Source = SourceRule
		ev.decision.DecidingRuleID = rule.ID
		ev.decision.Confidence = ConfidenceFor(level)
		ev.decision.Reasoning = ruleReasoning(rule, action)
	} else {
		verdict, level := Fallback(score, s.cfg.Thresholds)
		ev.decision.Verdict = verdict
		ev.decision.AccessLevel = level
		ev.decision.Source = SourceFallback
		ev.decision.Confidence = ConfidenceFor(level)
		if scored {
			ev.decision.Reasoning = fmt.Sprintf("no rule decided; context score %.2f", score)
		} else {
			ev.decision.Reasoning = "no rule decided and no context factors present"
		}
	}

	s.executeActions(ctx, ev, matched)
	ev.advance(StateActionsExecuted)

	if err := ctx.Err(); err != nil {
		s.failStage(ctx, ev, err)
		return
	}
	ev.advance(StateDecided)
}

func ruleReasoning(rule policy.Rule, action policy.Action) string {
	if action.Message != "" {
		return fmt.Sprintf("rule %s: %s", rule.ID, action.Message)
	}
	return fmt.Sprintf("rule %s: %s", rule.ID, action.Type)
}

// buildSnapshot merges caller context with derived keys. Caller-supplied
// values take precedence, except trust and risk: a caller may lower trust or
// raise risk but never loosen what the stored profiles say.
func buildSnapshot(req EvaluateRequest, subject *ports.SubjectRecord, ev *evidence, now time.Time) map[string]any {
	snap := make(map[string]any, len(req.Context)+8)
	maps.Copy(snap, req.Context)

	setDefault := func(key string, v any) {
		if existing, ok := snap[key]; !ok || existing == nil {
			snap[key] = v
		}
	}

	snap[KeyTrustScore] = ev.TrustScore
	if caller, ok := scoring.Number(req.Context[KeyTrustScore]); ok {
		snap[KeyTrustScore] = min(scoring.Clamp(caller), ev.TrustScore)
	}

	caller, callerRisk := scoring.Number(req.Context[KeyRiskScore])
	switch {
	case callerRisk && ev.RiskAssessed:
		snap[KeyRiskScore] = max(scoring.Clamp(caller), ev.RiskScore)
	case callerRisk:
		snap[KeyRiskScore] = scoring.Clamp(caller)
	case ev.RiskAssessed:
		snap[KeyRiskScore] = ev.RiskScore
	default:
		delete(snap, KeyRiskScore)
	}

	setDefault(KeyTimeOfDay, now.Format("15:04"))
	setDefault(KeySubjectID, req.SubjectID)
	setDefault(KeySubjectRole, subject.Role)
	setDefault(KeyResource, req.Resource)
	if req.Action != "" {
		setDefault(KeyAction, req.Action)
	}
	if req.DeviceID != "" {
		setDefault(KeyDeviceID, req.DeviceID)
	}
	return snap
}

// failStage classifies err as a timeout or a system fault.
func (s *Service) failStage(ctx context.Context, ev *evaluation, err error) {
	source := SourceFault
	if policy.ErrBudgetExceeded(err) || errors.Is(err, context.DeadlineExceeded) {
		source = SourceTimeout
	}
	if s.logger != nil {
		s.logger.ErrorContext(ctx, "access evaluation failed",
			"request_id", requestcontext.RequestID(ctx),
			"subject_id", ev.req.SubjectID,
			"state", ev.state,
			"error", err,
		)
	}
	s.failClosed(ev, source, 0, err)
}

func (s *Service) failClosed(ev *evaluation, source Source, confidence float64, err error) {
	wrapped := &stageError{state: ev.state, err: err}
	ev.span.RecordError(wrapped)

	d := ev.decision
	d.Verdict = VerdictDeny
	d.AccessLevel = policy.AccessDenied
	d.Source = source
	d.Confidence = confidence
	d.DecidingRuleID = ""
	if source == SourceTimeout {
		d.Reasoning = fmt.Sprintf("evaluation timed out after %s", wrapped)
	} else {
		d.Reasoning = fmt.Sprintf("system error during %s", wrapped)
	}
	ev.advance(StateDecided)
}

// executeActions runs the side effects of every matched rule. Decisive
// actions are recorded; escalate, notify and log also emit audit entries.
func (s *Service) executeActions(ctx context.Context, ev *evaluation, matched []policy.Rule) {
	d := ev.decision
	if len(matched) > 0 {
		s.emit(ctx, audit.Entry{
			Type:       audit.EntryRuleMatched,
			SubjectID:  d.SubjectID,
			Resource:   d.Resource,
			Action:     d.Action,
			DecisionID: d.ID,
			RuleIDs:    d.MatchedRuleIDs,
		})
	}

	for _, rule := range matched {
		for _, a := range rule.Actions {
			d.ExecutedActions = append(d.ExecutedActions, a)
			entry := audit.Entry{
				SubjectID:  d.SubjectID,
				Resource:   d.Resource,
				Action:     d.Action,
				DecisionID: d.ID,
				RuleIDs:    []string{rule.ID},
				Reason:     a.Message,
				Attributes: map[string]string{"action_type": string(a.Type)},
			}
			switch a.Type {
			case policy.ActionEscalate:
				entry.Type = audit.EntryEscalationRaised
				entry.Attributes["severity"] = string(a.Severity)
				if s.logger != nil {
					s.logger.WarnContext(ctx, "access escalated",
						"subject_id", d.SubjectID,
						"rule_id", rule.ID,
						"severity", a.Severity,
					)
				}
			case policy.ActionNotify:
				entry.Type = audit.EntryNotificationQueued
			case policy.ActionLog:
				entry.Type = audit.EntryActionExecuted
				if s.logger != nil {
					s.logger.InfoContext(ctx, "rule log action",
						"subject_id", d.SubjectID,
						"rule_id", rule.ID,
						"message", a.Message,
					)
				}
			default:
				continue
			}
			s.emit(ctx, entry)
		}
	}
}

// finalize persists, audits and feeds the outcome back into trust. It runs
// outside the evaluation deadline.
func (s *Service) finalize(ctx context.Context, d *Decision) {
	ctx = context.WithoutCancel(ctx)

	if err := s.store.Save(ctx, d); err != nil {
		s.metrics.IncrementPersistFailure()
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "failed to persist decision",
				"decision_id", d.ID,
				"subject_id", d.SubjectID,
				"error", err,
			)
		}
		if d.Verdict != VerdictDeny {
			d.Verdict = VerdictDeny
			d.AccessLevel = policy.AccessDenied
			d.Source = SourceFault
			d.Confidence = 0
			d.DecidingRuleID = ""
			d.Reasoning = "system error: decision could not be persisted"
		}
	}

	s.emit(ctx, audit.Entry{
		Type:       audit.EntryDecisionMade,
		SubjectID:  d.SubjectID,
		Resource:   d.Resource,
		Action:     d.Action,
		DecisionID: d.ID,
		RuleIDs:    d.MatchedRuleIDs,
		Verdict:    string(d.Verdict),
		Reason:     d.Reasoning,
		Score:      d.ContextScore,
		Attributes: map[string]string{
			"access_level": string(d.AccessLevel),
			"source":       string(d.Source),
			"confidence":   fmt.Sprintf("%.2f", d.Confidence),
		},
	})

	if !s.cfg.RecordTrustEvents || (d.Source != SourceRule && d.Source != SourceFallback) {
		return
	}
	var event string
	switch d.Verdict {
	case VerdictAllow:
		event = trustEventGranted
	case VerdictDeny:
		event = trustEventDenied
	default:
		return
	}
	if err := s.trust.RecordEvent(ctx, d.SubjectID, event, d.Reasoning, map[string]string{
		"decision_id": d.ID,
		"resource":    d.Resource,
	}); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to record decision trust event",
			"decision_id", d.ID,
			"subject_id", d.SubjectID,
			"error", err,
		)
	}
}

func (s *Service) emit(ctx context.Context, entry audit.Entry) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Emit(ctx, entry); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to emit decision audit entry",
			"type", entry.Type,
			"decision_id", entry.DecisionID,
			"error", err,
		)
	}
}

// Get returns a stored decision.
func (s *Service) Get(ctx context.Context, id string) (*Decision, error) {
	d, err := s.store.Find(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("decision %s not found", id))
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load decision")
	}
	return d, nil
}

// History returns the subject's most recent decisions, newest first.
func (s *Service) History(ctx context.Context, subjectID string, limit int) ([]*Decision, error) {
	if limit <= 0 {
		limit = 20
	}
	ds, err := s.store.ListBySubject(ctx, subjectID, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list decisions")
	}
	return ds, nil
}
