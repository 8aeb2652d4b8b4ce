package decision

import (
	"strings"
	"time"

	"kinguard/internal/policy"
	"kinguard/internal/scoring"
)

// Context keys with a fixed meaning to the orchestrator.
const (
	KeyLocation            = "location"
	KeyTimeOfDay           = "time_of_day"
	KeyDeviceReputation    = "device_reputation"
	KeyNetworkType         = "network_type"
	KeyAuthenticationLevel = "authentication_level"
	KeyRiskScore           = "risk_score"
	KeyTrustScore          = "trust_score"
	KeyDeviceEncryption    = "device_encryption"
	KeyActivityType        = "activity_type"
	KeyContentFlags        = "content_flags"

	KeySubjectID   = "subject_id"
	KeySubjectRole = "subject_role"
	KeyDeviceID    = "device_id"
	KeyResource    = "resource"
	KeyAction      = "action"
)

// ContextWeights are the fixed per-factor weights of the context score. They
// sum to 1.
var ContextWeights = map[string]float64{
	KeyLocation:            0.10,
	KeyTimeOfDay:           0.10,
	KeyDeviceReputation:    0.15,
	KeyNetworkType:         0.10,
	KeyAuthenticationLevel: 0.10,
	KeyRiskScore:           0.15,
	KeyTrustScore:          0.15,
	KeyDeviceEncryption:    0.05,
	KeyActivityType:        0.05,
	KeyContentFlags:        0.05,
}

var (
	locationScores = map[string]float64{
		"home": 1.0, "school": 0.8, "work": 0.8, "known": 0.7,
		"relative": 0.7, "public": 0.4, "unknown": 0.3, "foreign": 0.2,
	}
	networkScores = map[string]float64{
		"home": 1.0, "work": 0.8, "school": 0.8, "vpn": 0.7,
		"mobile": 0.6, "public": 0.3, "unknown": 0.2,
	}
	authenticationScores = map[string]float64{
		"mfa": 1.0, "biometric": 0.9, "password": 0.6, "pin": 0.5, "none": 0.1,
	}
	activityScores = map[string]float64{
		"education": 1.0, "communication": 0.7, "browsing": 0.6, "streaming": 0.5,
		"gaming": 0.5, "social": 0.4, "purchase": 0.3, "download": 0.3,
	}
)

// factorScore maps one context value onto [0,1], higher meaning safer.
func factorScore(key string, raw any) (float64, bool) {
	switch key {
	case KeyLocation:
		return lookupScore(locationScores, raw)
	case KeyNetworkType:
		return lookupScore(networkScores, raw)
	case KeyAuthenticationLevel:
		return lookupScore(authenticationScores, raw)
	case KeyActivityType:
		return lookupScore(activityScores, raw)
	case KeyTimeOfDay:
		return timeOfDayScore(raw)
	case KeyRiskScore:
		v, ok := scoring.Normalize(raw)
		return 1 - v, ok
	case KeyContentFlags:
		return contentFlagsScore(raw)
	default:
		return scoring.Normalize(raw)
	}
}

// lookupScore accepts a known label or a number already in [0,1].
func lookupScore(table map[string]float64, raw any) (float64, bool) {
	if s, ok := raw.(string); ok {
		v, known := table[strings.ToLower(strings.TrimSpace(s))]
		return v, known
	}
	return scoring.Normalize(raw)
}

func timeOfDayScore(raw any) (float64, bool) {
	var hour int
	switch v := raw.(type) {
	case time.Time:
		hour = v.Hour()
	case string:
		t, err := time.Parse("15:04", v)
		if err != nil {
			if t, err = time.Parse(time.RFC3339, v); err != nil {
				return 0, false
			}
		}
		hour = t.Hour()
	default:
		return 0, false
	}
	switch {
	case hour >= 7 && hour < 21:
		return 1.0, true
	case hour >= 21 && hour < 23:
		return 0.6, true
	default:
		return 0.3, true
	}
}

// contentFlagsScore treats a count of flagged items or a boolean flag. Each
// flag costs a quarter of the score.
func contentFlagsScore(raw any) (float64, bool) {
	if b, ok := raw.(bool); ok {
		if b {
			return 0, true
		}
		return 1, true
	}
	if list, ok := raw.([]any); ok {
		return scoring.Clamp(1 - 0.25*float64(len(list))), true
	}
	n, ok := scoring.Number(raw)
	if !ok {
		return 0, false
	}
	return scoring.Clamp(1 - 0.25*n), true
}

// ContextScore is the weighted mean of recognised factors present in ctx,
// renormalized over those factors. ok=false when none is present.
func ContextScore(ctx map[string]any) (float64, bool) {
	values := make(map[string]float64, len(ContextWeights))
	for key := range ContextWeights {
		raw, ok := ctx[key]
		if !ok || raw == nil {
			continue
		}
		if v, ok := factorScore(key, raw); ok {
			values[key] = v
		}
	}
	return scoring.WeightedMean(values, ContextWeights)
}

// Thresholds for the context-score fallback.
type Thresholds struct {
	Allow     float64
	Challenge float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{Allow: 0.7, Challenge: 0.4}
}

// Fallback maps a context score onto a verdict when no rule decided.
func Fallback(score float64, t Thresholds) (Verdict, policy.AccessLevel) {
	switch {
	case score >= t.Allow:
		return VerdictAllow, policy.AccessStandard
	case score >= t.Challenge:
		return VerdictChallenge, policy.AccessRestricted
	default:
		return VerdictDeny, policy.AccessDenied
	}
}

// VerdictFor maps a decisive action and its resolved level onto a verdict.
// Critical escalation keeps its own verdict even though it denies access.
func VerdictFor(a policy.Action, level policy.AccessLevel) Verdict {
	if a.Type == policy.ActionEscalate {
		return VerdictEscalate
	}
	switch level {
	case policy.AccessDenied:
		return VerdictDeny
	case policy.AccessRestricted:
		return VerdictChallenge
	case policy.AccessLimited:
		return VerdictMonitor
	default:
		return VerdictAllow
	}
}

// ConfidenceFor is fixed per access-level tier.
func ConfidenceFor(level policy.AccessLevel) float64 {
	switch level {
	case policy.AccessDenied, policy.AccessFull:
		return 0.9
	case policy.AccessRestricted, policy.AccessStandard:
		return 0.8
	case policy.AccessLimited:
		return 0.7
	default:
		return 0
	}
}

// decide picks the first matched rule with a resolved access level. ok is
// false when no matched rule carries one.
func decide(rules []policy.Rule) (rule policy.Rule, action policy.Action, level policy.AccessLevel, ok bool) {
	for _, r := range rules {
		if a, lvl, found := r.Decisive(); found {
			return r, a, lvl, true
		}
	}
	return policy.Rule{}, policy.Action{}, "", false
}
