package decision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kinguard/internal/policy"
)

func TestContextWeightsSumToOne(t *testing.T) {
	total := 0.0
	for _, w := range ContextWeights {
		total += w
	}
	assert.InDelta(t, 1.0, total, 1e-9)
	assert.Len(t, ContextWeights, 10)
}

func TestContextScore(t *testing.T) {
	t.Run("no recognised factors", func(t *testing.T) {
		_, ok := ContextScore(map[string]any{"favourite_colour": "blue"})
		assert.False(t, ok)
	})

	t.Run("renormalizes over present factors", func(t *testing.T) {
		score, ok := ContextScore(map[string]any{"trust_score": 0.8})
		require.True(t, ok)
		assert.InDelta(t, 0.8, score, 1e-9)
	})

	t.Run("risk is inverted", func(t *testing.T) {
		score, ok := ContextScore(map[string]any{"risk_score": 0.9})
		require.True(t, ok)
		assert.InDelta(t, 0.1, score, 1e-9)
	})

	t.Run("out of range inputs stay bounded", func(t *testing.T) {
		score, ok := ContextScore(map[string]any{
			"trust_score":       2.0,
			"device_reputation": -0.5,
			"content_flags":     -3,
		})
		require.True(t, ok)
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)
	})

	t.Run("unknown labels are ignored", func(t *testing.T) {
		score, ok := ContextScore(map[string]any{"network_type": "carrier-pigeon", "trust_score": 0.4})
		require.True(t, ok)
		assert.InDelta(t, 0.4, score, 1e-9)
	})
}

func TestFactorScores(t *testing.T) {
	tests := []struct {
		key  string
		raw  any
		want float64
	}{
		{KeyNetworkType, "Home", 1.0},
		{KeyNetworkType, "public", 0.3},
		{KeyLocation, "school", 0.8},
		{KeyAuthenticationLevel, "mfa", 1.0},
		{KeyAuthenticationLevel, 0.5, 0.5},
		{KeyTimeOfDay, "14:00", 1.0},
		{KeyTimeOfDay, "22:15", 0.6},
		{KeyTimeOfDay, "03:00", 0.3},
		{KeyTimeOfDay, time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC), 1.0},
		{KeyDeviceEncryption, true, 1.0},
		{KeyContentFlags, 0, 1.0},
		{KeyContentFlags, 2, 0.5},
		{KeyContentFlags, true, 0.0},
		{KeyContentFlags, []any{"a"}, 0.75},
		{KeyRiskScore, 0.25, 0.75},
	}
	for _, tt := range tests {
		got, ok := factorScore(tt.key, tt.raw)
		require.True(t, ok, "%s=%v", tt.key, tt.raw)
		assert.InDelta(t, tt.want, got, 1e-9, "%s=%v", tt.key, tt.raw)
	}
}

func TestFallback(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		score   float64
		verdict Verdict
		level   policy.AccessLevel
	}{
		{0.95, VerdictAllow, policy.AccessStandard},
		{0.7, VerdictAllow, policy.AccessStandard},
		{0.69, VerdictChallenge, policy.AccessRestricted},
		{0.4, VerdictChallenge, policy.AccessRestricted},
		{0.39, VerdictDeny, policy.AccessDenied},
	}
	for _, tt := range tests {
		v, l := Fallback(tt.score, th)
		assert.Equal(t, tt.verdict, v, "score %.2f", tt.score)
		assert.Equal(t, tt.level, l, "score %.2f", tt.score)
	}
}

func TestVerdictAndConfidence(t *testing.T) {
	tests := []struct {
		action     policy.Action
		verdict    Verdict
		confidence float64
	}{
		{policy.Action{Type: policy.ActionDeny}, VerdictDeny, 0.9},
		{policy.Action{Type: policy.ActionGrantAccess, AccessLevel: policy.AccessFull}, VerdictAllow, 0.9},
		{policy.Action{Type: policy.ActionGrantAccess, AccessLevel: policy.AccessStandard}, VerdictAllow, 0.8},
		{policy.Action{Type: policy.ActionRequireChallenge}, VerdictChallenge, 0.8},
		{policy.Action{Type: policy.ActionMonitor}, VerdictMonitor, 0.7},
		{policy.Action{Type: policy.ActionEscalate, Severity: policy.SeverityCritical}, VerdictEscalate, 0.9},
	}
	for _, tt := range tests {
		level, ok := tt.action.ResolvedLevel()
		require.True(t, ok)
		assert.Equal(t, tt.verdict, VerdictFor(tt.action, level), string(tt.action.Type))
		assert.InDelta(t, tt.confidence, ConfidenceFor(level), 1e-9, string(tt.action.Type))
	}
}

func TestDecideSkipsRulesWithoutLevels(t *testing.T) {
	rules := []policy.Rule{
		{ID: "notify-only", Actions: []policy.Action{{Type: policy.ActionNotify}}},
		{ID: "grant", Actions: []policy.Action{{Type: policy.ActionGrantAccess, AccessLevel: policy.AccessLimited}}},
	}
	rule, _, level, ok := decide(rules)
	require.True(t, ok)
	assert.Equal(t, "grant", rule.ID)
	assert.Equal(t, policy.AccessLimited, level)

	_, _, _, ok = decide(rules[:1])
	assert.False(t, ok)
}
