package ports

import (
	"context"

	"kinguard/internal/policy"
)

// RulePort finds the rules that apply to a request in priority order.
type RulePort interface {
	FindApplicable(ctx context.Context, q policy.Query) ([]policy.Rule, error)
}
