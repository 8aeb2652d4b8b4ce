// Package loader reads seed rule files and keeps the repository in sync with
// them.
package loader

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"kinguard/internal/policy"
	"kinguard/internal/policy/condition"
)

// File is the on-disk shape of a seed rule file.
type File struct {
	Rules []policy.Rule `yaml:"rules"`
}

// Parse decodes and validates a seed rule file. Unknown keys are rejected so
// a typo in an operator or field name fails the load instead of silently
// producing a rule that never matches.
func Parse(data []byte) ([]policy.Rule, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse rule file: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Rules))
	for i := range f.Rules {
		r := &f.Rules[i]
		r.Normalize()
		if _, err := r.Validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		if _, dup := seen[r.ID]; dup {
			return nil, fmt.Errorf("rule %d: duplicate id %s", i, r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return f.Rules, nil
}

func hashOf(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

// Load reads rules from path and returns them with the file's content hash.
// An empty path or a missing file yields DefaultRules.
func Load(path string) ([]policy.Rule, string, error) {
	if path == "" {
		return DefaultRules(), hashOf(nil), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultRules(), hashOf(nil), nil
		}
		return nil, "", fmt.Errorf("failed to read rule file: %w", err)
	}
	rules, err := Parse(data)
	if err != nil {
		return nil, "", err
	}
	return rules, hashOf(data), nil
}

// DefaultRules is the rule set used when no seed file is configured.
func DefaultRules() []policy.Rule {
	return []policy.Rule{
		{
			ID:       "compromised-device-block",
			Name:     "Block compromised devices",
			Type:     policy.RuleTypeAccess,
			Category: "device",
			Status:   policy.StatusActive,
			Priority: 5,
			Conditions: []condition.Condition{
				{Field: "device_compromised", Operator: condition.OpEquals, Value: condition.Bool(true)},
			},
			Actions: []policy.Action{
				{Type: policy.ActionBlock, Message: "device reported as compromised"},
				{Type: policy.ActionEscalate, Severity: policy.SeverityHigh, Message: "compromised device attempted access"},
			},
		},
		{
			ID:       "high-risk-deny",
			Name:     "Deny high risk requests",
			Type:     policy.RuleTypeAccess,
			Category: "risk",
			Status:   policy.StatusActive,
			Priority: 10,
			Conditions: []condition.Condition{
				{Field: "risk_score", Operator: condition.OpGreaterThan, Value: condition.Number(0.8)},
			},
			Actions: []policy.Action{
				{Type: policy.ActionDeny, Message: "risk score above 0.8"},
				{Type: policy.ActionLog},
			},
		},
		{
			ID:          "child-bedtime-challenge",
			Name:        "Challenge children at night",
			Description: "Requests from child accounts between 21:00 and 07:00 need a guardian challenge.",
			Type:        policy.RuleTypeAccess,
			Category:    "time",
			Status:      policy.StatusActive,
			Priority:    50,
			Conditions: []condition.Condition{
				{Field: "subject_role", Operator: condition.OpEquals, Value: condition.String("child")},
				{Field: "time_of_day", Operator: condition.OpTimeRange, Value: condition.Range("21:00", "07:00")},
			},
			Actions: []policy.Action{
				{Type: policy.ActionRequireChallenge, Message: "outside allowed hours"},
				{Type: policy.ActionNotify, Message: "child account active after bedtime"},
			},
		},
		{
			ID:       "trusted-home-full",
			Name:     "Full access for trusted subjects at home",
			Type:     policy.RuleTypeAccess,
			Category: "network",
			Status:   policy.StatusActive,
			Priority: 100,
			Conditions: []condition.Condition{
				{Field: "trust_score", Operator: condition.OpGreaterThan, Value: condition.Number(0.8)},
				{Field: "risk_score", Operator: condition.OpLessThan, Value: condition.Number(0.3)},
				{Field: "network_type", Operator: condition.OpEquals, Value: condition.String("home")},
			},
			Actions: []policy.Action{
				{Type: policy.ActionGrantAccess, AccessLevel: policy.AccessFull},
			},
		},
		{
			ID:       "public-network-monitor",
			Name:     "Monitor requests from public networks",
			Type:     policy.RuleTypeAccess,
			Category: "network",
			Status:   policy.StatusActive,
			Priority: 200,
			Conditions: []condition.Condition{
				{Field: "network_type", Operator: condition.OpEquals, Value: condition.String("public")},
			},
			Actions: []policy.Action{
				{Type: policy.ActionMonitor, Message: "public network"},
			},
		},
	}
}

// DefaultRulesYAML renders DefaultRules as a seed file.
func DefaultRulesYAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(File{Rules: DefaultRules()}); err != nil {
		return nil, fmt.Errorf("failed to render default rules: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
