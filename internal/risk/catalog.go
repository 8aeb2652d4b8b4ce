package risk

import (
	"strings"

	"kinguard/internal/scoring"
)

// Factor is a static risk factor definition.
type Factor struct {
	ID         string
	Category   string
	Impact     float64
	Likelihood float64
	Weight     float64
	// Remediation is the mitigation text emitted for high-risk factors.
	Remediation string
	// Adjust moves the baseline likelihood from concrete signal values.
	Adjust func(signals map[string]any) float64
}

// CategoryDef describes a risk category and when it applies to a bundle.
type CategoryDef struct {
	ID      string
	Weight  float64
	Signals []string
}

// Applies reports whether any of the category's signals are present.
func (c CategoryDef) Applies(signals map[string]any) bool {
	for _, key := range c.Signals {
		if _, ok := signals[key]; ok {
			return true
		}
	}
	return false
}

// Catalog is the set of categories and factors used by Assess.
type Catalog struct {
	Categories []CategoryDef
	Factors    []Factor
}

func boolSignal(signals map[string]any, key string) (value, ok bool) {
	b, ok := signals[key].(bool)
	return b, ok
}

func numberSignal(signals map[string]any, key string) (float64, bool) {
	return scoring.Number(signals[key])
}

// DefaultCatalog is the built-in risk catalog. A bad signal drives its
// factor's likelihood to 1, so a fully compromised posture scores high or
// critical.
func DefaultCatalog() Catalog {
	return Catalog{
		Categories: []CategoryDef{
			{ID: "authentication", Weight: 0.25, Signals: []string{"password_strength", "mfa_enabled", "failed_logins"}},
			{ID: "device", Weight: 0.25, Signals: []string{"device_encryption", "os_updated", "rooted"}},
			{ID: "network", Weight: 0.20, Signals: []string{"network_type", "ip_reputation"}},
			{ID: "behavior", Weight: 0.15, Signals: []string{"login_hour", "unusual_location"}},
			{ID: "content", Weight: 0.15, Signals: []string{"keyword_matches", "unknown_contacts"}},
		},
		Factors: []Factor{
			{
				ID: "weak_password", Category: "authentication",
				Impact: 0.9, Likelihood: 0.3, Weight: 1.0,
				Remediation: "Use a password of at least 12 characters that is not reused elsewhere",
				Adjust: func(s map[string]any) float64 {
					v, ok := numberSignal(s, "password_strength")
					switch {
					case !ok:
						return 0
					case v < 0.5:
						return 0.7
					case v >= 0.8:
						return -0.25
					}
					return 0
				},
			},
			{
				ID: "missing_mfa", Category: "authentication",
				Impact: 1.0, Likelihood: 0.4, Weight: 1.0,
				Remediation: "Enable multi-factor authentication",
				Adjust: func(s map[string]any) float64 {
					if enabled, ok := boolSignal(s, "mfa_enabled"); ok {
						if enabled {
							return -0.35
						}
						return 0.6
					}
					return 0
				},
			},
			{
				ID: "credential_guessing", Category: "authentication",
				Impact: 0.9, Likelihood: 0.2, Weight: 1.0,
				Remediation: "Lock the account after repeated failed logins and review sign-in activity",
				Adjust: func(s map[string]any) float64 {
					n, ok := numberSignal(s, "failed_logins")
					switch {
					case !ok:
						return 0
					case n >= 5:
						return 0.8
					case n >= 3:
						return 0.5
					case n == 0:
						return -0.15
					}
					return 0
				},
			},
			{
				ID: "unencrypted_device", Category: "device",
				Impact: 0.9, Likelihood: 0.3, Weight: 1.0,
				Remediation: "Turn on full-disk encryption",
				Adjust: func(s map[string]any) float64 {
					if enc, ok := boolSignal(s, "device_encryption"); ok {
						if enc {
							return -0.25
						}
						return 0.7
					}
					return 0
				},
			},
			{
				ID: "outdated_os", Category: "device",
				Impact: 0.8, Likelihood: 0.3, Weight: 1.0,
				Remediation: "Install pending operating system updates",
				Adjust: func(s map[string]any) float64 {
					if updated, ok := boolSignal(s, "os_updated"); ok {
						if updated {
							return -0.25
						}
						return 0.7
					}
					return 0
				},
			},
			{
				ID: "compromised_device", Category: "device",
				Impact: 1.0, Likelihood: 0.05, Weight: 1.0,
				Remediation: "Restore the device to a supported, unmodified state",
				Adjust: func(s map[string]any) float64 {
					if rooted, _ := boolSignal(s, "rooted"); rooted {
						return 1
					}
					return 0
				},
			},
			{
				ID: "untrusted_network", Category: "network",
				Impact: 0.8, Likelihood: 0.3, Weight: 1.0,
				Remediation: "Avoid public Wi-Fi or connect through a trusted VPN",
				Adjust: func(s map[string]any) float64 {
					nt, _ := s["network_type"].(string)
					switch strings.ToLower(nt) {
					case "public":
						return 0.7
					case "home", "school":
						return -0.25
					}
					return 0
				},
			},
			{
				ID: "malicious_address", Category: "network",
				Impact: 1.0, Likelihood: 0.1, Weight: 1.0,
				Remediation: "Block traffic from low-reputation addresses",
				Adjust: func(s map[string]any) float64 {
					rep, ok := numberSignal(s, "ip_reputation")
					switch {
					case !ok:
						return 0
					case rep < 0.3:
						return 1
					case rep > 0.7:
						return -0.05
					}
					return 0
				},
			},
			{
				ID: "unusual_hours", Category: "behavior",
				Impact: 0.7, Likelihood: 0.2, Weight: 1.0,
				Remediation: "Review device usage schedules with a guardian",
				Adjust: func(s map[string]any) float64 {
					h, ok := numberSignal(s, "login_hour")
					if ok && (h < 5 || h >= 23) {
						return 1
					}
					return 0
				},
			},
			{
				ID: "unusual_location", Category: "behavior",
				Impact: 0.8, Likelihood: 0.2, Weight: 1.0,
				Remediation: "Confirm recent sign-ins from new locations",
				Adjust: func(s map[string]any) float64 {
					if unusual, _ := boolSignal(s, "unusual_location"); unusual {
						return 1
					}
					return 0
				},
			},
			{
				ID: "harmful_content", Category: "content",
				Impact: 0.9, Likelihood: 0.1, Weight: 1.0,
				Remediation: "Review flagged content together and adjust content filters",
				Adjust: func(s map[string]any) float64 {
					n, ok := numberSignal(s, "keyword_matches")
					if !ok || n <= 0 {
						return 0
					}
					return min(0.2*n, 1)
				},
			},
			{
				ID: "stranger_contact", Category: "content",
				Impact: 1.0, Likelihood: 0.05, Weight: 1.0,
				Remediation: "Restrict messaging to approved contacts",
				Adjust: func(s map[string]any) float64 {
					n, ok := numberSignal(s, "unknown_contacts")
					if ok && n > 0 {
						return 1
					}
					return 0
				},
			},
		},
	}
}
