// Package subject is the directory of enrolled subjects. Only enrolled
// subjects can be evaluated; everyone else is denied outright.
package subject

import (
	"time"
)

// Role decides the onboarding trust baseline.
type Role string

const (
	RoleParent Role = "parent"
	RoleChild  Role = "child"
	RoleGuest  Role = "guest"
	RoleDevice Role = "device"
)

func (r Role) Valid() bool {
	switch r {
	case RoleParent, RoleChild, RoleGuest, RoleDevice:
		return true
	}
	return false
}

// Baselines maps each role to its starting trust score.
type Baselines map[Role]float64

func DefaultBaselines() Baselines {
	return Baselines{
		RoleParent: 0.6,
		RoleChild:  0.5,
		RoleGuest:  0.3,
		RoleDevice: 0.4,
	}
}

// For returns the baseline for role, or fallback when none is configured.
func (b Baselines) For(role Role, fallback float64) float64 {
	if v, ok := b[role]; ok {
		return v
	}
	return fallback
}

type Subject struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	DisplayName string    `json:"display_name,omitempty"`
	GuardianID  string    `json:"guardian_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
