package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kinguard/internal/risk"
	"kinguard/pkg/platform/sentinel"
)

func TestInMemory(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()

	_, err := s.Find(ctx, "kid-1")
	require.ErrorIs(t, err, sentinel.ErrNotFound)

	_, err = s.Update(ctx, "kid-1", func(current *risk.Profile) (*risk.Profile, error) {
		assert.Nil(t, current)
		return &risk.Profile{UserID: "kid-1", OverallRiskScore: 0.4, Factors: map[string]risk.FactorAssessment{}}, nil
	})
	require.NoError(t, err)

	found, err := s.Find(ctx, "kid-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.4, found.OverallRiskScore, 1e-9)

	found.Factors["x"] = risk.FactorAssessment{RiskScore: 1}
	again, err := s.Find(ctx, "kid-1")
	require.NoError(t, err)
	assert.NotContains(t, again.Factors, "x")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Update(cancelled, "kid-1", func(p *risk.Profile) (*risk.Profile, error) { return p, nil })
	assert.ErrorIs(t, err, context.Canceled)
}
