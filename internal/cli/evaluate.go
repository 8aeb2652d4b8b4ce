package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"kinguard/internal/decision"
	"kinguard/internal/decision/adapters"
	decisionstore "kinguard/internal/decision/store"
	"kinguard/internal/policy"
	"kinguard/internal/policy/loader"
	"kinguard/internal/risk"
	riskstore "kinguard/internal/risk/store"
	"kinguard/internal/subject"
	subjectstore "kinguard/internal/subject/store"
	"kinguard/internal/trust"
	truststore "kinguard/internal/trust/store"
	"kinguard/pkg/requestcontext"
)

// guardianID is registered as the parent of child subjects in dry runs.
const guardianID = "adectl-guardian"

type evaluateOptions struct {
	rulesPath string
	subjectID string
	role      string
	deviceID  string
	resource  string
	action    string
	set       []string
	at        string
	trust     float64
}

func newEvaluateCmd() *cobra.Command {
	opts := &evaluateOptions{}
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Dry-run one access evaluation against a rule file",
		Long: "Builds an in-memory engine seeded with the given rules (or the built-in defaults),\n" +
			"registers the subject, and prints the resulting decision as JSON.",
		Example: "  adectl evaluate --role child --resource youtube.com --at 23:30 --set network_type=home",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEvaluate(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.rulesPath, "rules", "", "YAML rule file (default: built-in rules)")
	f.StringVar(&opts.subjectID, "subject", "adectl-subject", "Subject id")
	f.StringVar(&opts.role, "role", string(subject.RoleGuest), "Subject role: parent, child, guest or device")
	f.StringVar(&opts.deviceID, "device", "", "Device id")
	f.StringVar(&opts.resource, "resource", "", "Requested resource")
	f.StringVar(&opts.action, "action", "access", "Requested action")
	f.StringArrayVar(&opts.set, "set", nil, "Context value as key=value (repeatable)")
	f.StringVar(&opts.at, "at", "", "Evaluation time as HH:MM (today, UTC) or RFC 3339")
	f.Float64Var(&opts.trust, "trust", -1, "Stored trust score for the subject (default: role baseline)")
	_ = cmd.MarkFlagRequired("resource")
	return cmd
}

func runEvaluate(ctx context.Context, out io.Writer, opts *evaluateOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	evalCtx, err := parseContext(opts.set)
	if err != nil {
		return err
	}
	now, err := parseAt(opts.at, time.Now().UTC())
	if err != nil {
		return err
	}
	ctx = requestcontext.WithTime(ctx, now)

	rules, _, err := loader.Load(opts.rulesPath)
	if err != nil {
		return err
	}
	svc, err := newDryRunEngine(ctx, rules, opts)
	if err != nil {
		return err
	}

	d := svc.EvaluateAccess(ctx, decision.EvaluateRequest{
		SubjectID: opts.subjectID,
		DeviceID:  opts.deviceID,
		Resource:  opts.resource,
		Action:    opts.action,
		Context:   evalCtx,
	})

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

// newDryRunEngine wires a throwaway in-memory engine and registers the
// subject so the evaluation is not rejected as unenrolled.
func newDryRunEngine(ctx context.Context, rules []policy.Rule, opts *evaluateOptions) (*decision.Service, error) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	trustSvc, err := trust.New(truststore.NewInMemory(), trust.WithLogger(quiet))
	if err != nil {
		return nil, err
	}
	riskSvc, err := risk.New(riskstore.NewInMemory(), risk.WithLogger(quiet))
	if err != nil {
		return nil, err
	}
	subjects, err := subject.New(subjectstore.NewInMemory(), trustSvc, subject.WithLogger(quiet))
	if err != nil {
		return nil, err
	}

	// A caller-supplied trust_score can only lower trust, so a trusted
	// subject is modelled by seeding the stored profile.
	if opts.trust >= 0 {
		if opts.trust > 1 {
			return nil, fmt.Errorf("invalid --trust %v: want a score in [0,1]", opts.trust)
		}
		if _, err := trustSvc.Initialize(ctx, opts.subjectID, opts.trust); err != nil {
			return nil, err
		}
	}

	role := subject.Role(strings.ToLower(strings.TrimSpace(opts.role)))
	reg := subject.RegisterCommand{ID: opts.subjectID, Role: role}
	if role == subject.RoleChild {
		if _, err := subjects.Register(ctx, subject.RegisterCommand{ID: guardianID, Role: subject.RoleParent}); err != nil {
			return nil, err
		}
		reg.GuardianID = guardianID
	}
	if _, err := subjects.Register(ctx, reg); err != nil {
		return nil, err
	}

	repo := policy.NewRepository(policy.WithLogger(quiet))
	if _, err := repo.Replace(ctx, rules); err != nil {
		return nil, err
	}

	return decision.New(
		adapters.NewSubjectAdapter(subjects),
		adapters.NewTrustAdapter(trustSvc),
		adapters.NewRiskAdapter(riskSvc),
		repo,
		decisionstore.NewInMemory(),
		decision.WithLogger(quiet),
		// A CLI run is not latency bound.
		decision.WithConfig(withRelaxedDeadline(decision.DefaultConfig())),
	)
}

func withRelaxedDeadline(cfg decision.Config) decision.Config {
	cfg.Deadline = 5 * time.Second
	return cfg
}

// parseContext turns key=value pairs into typed context values: booleans and
// numbers are recognised, everything else stays a string.
func parseContext(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q: want key=value", pair)
		}
		out[key] = parseValue(strings.TrimSpace(raw))
	}
	return out, nil
}

func parseValue(raw string) any {
	switch strings.ToLower(raw) {
	case "true":
		return true
	case "false":
		return false
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

func parseAt(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		return now, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("15:04", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at %q: want HH:MM or RFC 3339", raw)
	}
	return time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC), nil
}
