package ports

import (
	"context"

	"kinguard/pkg/platform/audit"
)

// AuditPort defines the interface for emitting audit entries.
// This matches audit.Emitter but is defined here to keep the decision
// module's boundaries explicit.
type AuditPort interface {
	Emit(ctx context.Context, entry audit.Entry) error
}
