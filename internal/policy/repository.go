// Package policy holds versioned access and policy rules and finds the ones
// that apply to a request.
//
// Reads go through an immutable snapshot published with an atomic pointer.
// Every mutation rebuilds the per-type buckets (each sorted by priority, then
// id) into a fresh snapshot and bumps the generation counter, so readers never
// observe a half-built index and never wait on writers.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"kinguard/internal/policy/condition"
	dErrors "kinguard/pkg/domain-errors"
	"kinguard/pkg/platform/audit"
	"kinguard/pkg/requestcontext"
)

// DefaultMaxEvaluations bounds rule evaluations per FindApplicable call.
const DefaultMaxEvaluations = 1000

type AuditPublisher interface {
	Emit(ctx context.Context, entry audit.Entry) error
}

type snapshot struct {
	generation uint64
	byID       map[string]*Rule
	buckets    map[RuleType][]*Rule
	all        []*Rule
}

func buildSnapshot(generation uint64, rules map[string]*Rule) *snapshot {
	snap := &snapshot{
		generation: generation,
		byID:       rules,
		buckets:    make(map[RuleType][]*Rule),
		all:        make([]*Rule, 0, len(rules)),
	}
	for _, r := range rules {
		snap.buckets[r.Type] = append(snap.buckets[r.Type], r)
		snap.all = append(snap.all, r)
	}
	for _, bucket := range snap.buckets {
		sortRules(bucket)
	}
	sortRules(snap.all)
	return snap
}

func sortRules(rules []*Rule) {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}

// Repository is the rule store and priority index.
type Repository struct {
	mu   sync.Mutex // serializes writers
	snap atomic.Pointer[snapshot]

	logger         *slog.Logger
	auditor        AuditPublisher
	metrics        *Metrics
	maxEvaluations int
}

type Option func(*Repository)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Repository) {
		r.logger = logger
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(r *Repository) {
		r.auditor = p
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Repository) {
		r.metrics = m
	}
}

// WithMaxEvaluations sets the default evaluation budget.
func WithMaxEvaluations(n int) Option {
	return func(r *Repository) {
		if n > 0 {
			r.maxEvaluations = n
		}
	}
}

func NewRepository(opts ...Option) *Repository {
	r := &Repository{maxEvaluations: DefaultMaxEvaluations}
	for _, opt := range opts {
		opt(r)
	}
	r.snap.Store(buildSnapshot(0, map[string]*Rule{}))
	return r
}

// Generation increases on every successful mutation.
func (r *Repository) Generation() uint64 {
	return r.snap.Load().generation
}

// mutate copies the current rule map, applies fn and publishes the result.
func (r *Repository) mutate(fn func(rules map[string]*Rule) error) (*snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	next := make(map[string]*Rule, len(cur.byID)+1)
	for id, rule := range cur.byID {
		next[id] = rule
	}
	if err := fn(next); err != nil {
		return nil, err
	}
	snap := buildSnapshot(cur.generation+1, next)
	r.snap.Store(snap)
	r.metrics.setRules(len(next), snap.generation)
	return snap, nil
}

func prepare(rule Rule) (Rule, []Warning, error) {
	rule = rule.Clone()
	rule.Normalize()
	warnings, err := rule.Validate()
	if err != nil {
		return Rule{}, nil, err
	}
	return rule, warnings, nil
}

// Create adds a new rule at version 1. Duplicate ids conflict.
func (r *Repository) Create(ctx context.Context, rule Rule) (Rule, []Warning, error) {
	rule, warnings, err := prepare(rule)
	if err != nil {
		return Rule{}, nil, err
	}
	now := requestcontext.Now(ctx)
	_, err = r.mutate(func(rules map[string]*Rule) error {
		if _, exists := rules[rule.ID]; exists {
			return dErrors.New(dErrors.CodeConflict, fmt.Sprintf("rule %s already exists", rule.ID))
		}
		rule.Version = 1
		rule.CreatedAt = now
		rule.UpdatedAt = now
		rule.Origin = OriginAPI
		stored := rule
		rules[rule.ID] = &stored
		return nil
	})
	if err != nil {
		return Rule{}, nil, err
	}
	r.audit(ctx, audit.EntryRuleUpserted, rule, warnings)
	return rule.Clone(), warnings, nil
}

// Update replaces an existing rule, incrementing its version and refreshing
// UpdatedAt. CreatedAt is preserved.
func (r *Repository) Update(ctx context.Context, rule Rule) (Rule, []Warning, error) {
	rule, warnings, err := prepare(rule)
	if err != nil {
		return Rule{}, nil, err
	}
	now := requestcontext.Now(ctx)
	_, err = r.mutate(func(rules map[string]*Rule) error {
		existing, ok := rules[rule.ID]
		if !ok {
			return dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("rule %s not found", rule.ID))
		}
		rule.Version = existing.Version + 1
		rule.CreatedAt = existing.CreatedAt
		rule.UpdatedAt = now
		rule.Origin = OriginAPI
		stored := rule
		rules[rule.ID] = &stored
		return nil
	})
	if err != nil {
		return Rule{}, nil, err
	}
	r.audit(ctx, audit.EntryRuleUpserted, rule, warnings)
	return rule.Clone(), warnings, nil
}

// Upsert creates the rule or updates it when the id exists.
func (r *Repository) Upsert(ctx context.Context, rule Rule) (Rule, []Warning, error) {
	saved, warnings, err := r.Update(ctx, rule)
	if dErrors.HasCode(err, dErrors.CodeNotFound) {
		return r.Create(ctx, rule)
	}
	return saved, warnings, err
}

// Delete removes a rule from the index immediately.
func (r *Repository) Delete(ctx context.Context, id string) error {
	var removed Rule
	_, err := r.mutate(func(rules map[string]*Rule) error {
		existing, ok := rules[id]
		if !ok {
			return dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("rule %s not found", id))
		}
		removed = *existing
		delete(rules, id)
		return nil
	})
	if err != nil {
		return err
	}
	r.audit(ctx, audit.EntryRuleDeleted, removed, nil)
	return nil
}

// ReseedResult summarizes a seed reload.
type ReseedResult struct {
	Generation uint64
	Seeded     int
	Kept       int
	Dropped    int
}

// Replace swaps the whole rule set. Every rule is validated before anything
// is published. Rules whose id already exists keep CreatedAt and get a new
// version. All resulting rules are seed rules.
func (r *Repository) Replace(ctx context.Context, incoming []Rule) (uint64, error) {
	res, err := r.swap(ctx, incoming, false)
	if err != nil {
		return 0, err
	}
	return res.Generation, nil
}

// Reseed applies a seed file reload. The file wins for every id it names,
// seed rules missing from the file are dropped, and rules written through
// the API are kept.
func (r *Repository) Reseed(ctx context.Context, incoming []Rule) (ReseedResult, error) {
	return r.swap(ctx, incoming, true)
}

func (r *Repository) swap(ctx context.Context, incoming []Rule, keepAPI bool) (ReseedResult, error) {
	prepared := make(map[string]Rule, len(incoming))
	for _, rule := range incoming {
		p, _, err := prepare(rule)
		if err != nil {
			return ReseedResult{}, err
		}
		if _, dup := prepared[p.ID]; dup {
			return ReseedResult{}, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("duplicate rule id %s", p.ID))
		}
		prepared[p.ID] = p
	}

	res := ReseedResult{Seeded: len(prepared)}
	now := requestcontext.Now(ctx)
	snap, err := r.mutate(func(rules map[string]*Rule) error {
		next := make(map[string]*Rule, len(prepared))
		for id, rule := range prepared {
			rule.Version = 1
			rule.CreatedAt = now
			if existing, ok := rules[id]; ok {
				rule.Version = existing.Version + 1
				rule.CreatedAt = existing.CreatedAt
			}
			rule.UpdatedAt = now
			rule.Origin = OriginSeed
			stored := rule
			next[id] = &stored
		}
		for id, rule := range rules {
			if _, seeded := next[id]; seeded {
				continue
			}
			if keepAPI && rule.Origin == OriginAPI {
				next[id] = rule
				res.Kept++
				continue
			}
			res.Dropped++
		}
		clear(rules)
		for id, rule := range next {
			rules[id] = rule
		}
		return nil
	})
	if err != nil {
		return ReseedResult{}, err
	}
	res.Generation = snap.generation

	if r.auditor != nil {
		if err := r.auditor.Emit(ctx, audit.Entry{
			Type: audit.EntryRulesReloaded,
			Attributes: map[string]string{
				"rules":      fmt.Sprint(len(prepared)),
				"kept":       fmt.Sprint(res.Kept),
				"dropped":    fmt.Sprint(res.Dropped),
				"generation": fmt.Sprint(snap.generation),
			},
		}); err != nil {
			r.logAuditFailure(ctx, err)
		}
	}
	return res, nil
}

// Get returns a rule by id.
func (r *Repository) Get(_ context.Context, id string) (Rule, error) {
	rule, ok := r.snap.Load().byID[id]
	if !ok {
		return Rule{}, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("rule %s not found", id))
	}
	return rule.Clone(), nil
}

// List returns matching rules ordered by priority, then id.
func (r *Repository) List(_ context.Context, f Filter) []Rule {
	snap := r.snap.Load()
	source := snap.all
	if f.Type != "" {
		source = snap.buckets[f.Type]
	}
	out := make([]Rule, 0, len(source))
	for _, rule := range source {
		if f.matches(rule) {
			out = append(out, rule.Clone())
		}
	}
	return out
}

// FindApplicable returns the active rules whose allow-lists admit the request
// and whose conditions all hold, in priority order. The scan stops after the
// first terminal rule. Exceeding the evaluation budget or the context
// deadline returns a CodeTimeout error.
func (r *Repository) FindApplicable(ctx context.Context, q Query) ([]Rule, error) {
	start := time.Now()
	snap := r.snap.Load()
	source := snap.all
	if q.Type != "" {
		source = snap.buckets[q.Type]
	}
	budget := q.MaxEvaluations
	if budget <= 0 {
		budget = r.maxEvaluations
	}

	var matched []Rule
	evaluations := 0
	defer func() {
		r.metrics.observeFind(evaluations, len(matched), time.Since(start))
	}()

	for _, rule := range source {
		if rule.Status != StatusActive {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "rule evaluation deadline exceeded")
		}
		if evaluations >= budget {
			return nil, dErrors.New(dErrors.CodeTimeout, fmt.Sprintf("rule evaluation budget of %d exceeded", budget))
		}
		evaluations++

		if !rule.Targets(q.SubjectID, q.DeviceID, q.Resource) {
			continue
		}
		if !condition.All(rule.Conditions, q.Context) {
			continue
		}
		matched = append(matched, rule.Clone())
		if rule.Terminal() {
			break
		}
	}
	return matched, nil
}

func (r *Repository) audit(ctx context.Context, t audit.EntryType, rule Rule, warnings []Warning) {
	if r.logger != nil {
		r.logger.InfoContext(ctx, "rule changed",
			"change", t,
			"rule_id", rule.ID,
			"version", rule.Version,
			"warnings", len(warnings),
		)
	}
	if r.auditor == nil {
		return
	}
	attrs := map[string]string{
		"version":  fmt.Sprint(rule.Version),
		"priority": fmt.Sprint(rule.Priority),
		"status":   string(rule.Status),
	}
	if len(warnings) > 0 {
		ws := make([]string, len(warnings))
		for i, w := range warnings {
			ws[i] = string(w)
		}
		attrs["warnings"] = strings.Join(ws, "; ")
	}
	if err := r.auditor.Emit(ctx, audit.Entry{
		Type:       t,
		RuleIDs:    []string{rule.ID},
		Attributes: attrs,
	}); err != nil {
		r.logAuditFailure(ctx, err)
	}
}

func (r *Repository) logAuditFailure(ctx context.Context, err error) {
	if r.logger != nil {
		r.logger.ErrorContext(ctx, "failed to emit rule audit entry", "error", err)
	}
}

// ErrBudgetExceeded reports whether err came from an exhausted evaluation
// budget or deadline.
func ErrBudgetExceeded(err error) bool {
	return err != nil && (dErrors.HasCode(err, dErrors.CodeTimeout) || errors.Is(err, context.DeadlineExceeded))
}
