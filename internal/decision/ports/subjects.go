package ports

import "context"

// SubjectPort answers whether a subject is enrolled. Lookup returns an error
// carrying dErrors.CodeNotFound for subjects that were never registered.
type SubjectPort interface {
	Lookup(ctx context.Context, subjectID string) (*SubjectRecord, error)
}

// SubjectRecord is the slice of the directory entry the orchestrator needs.
type SubjectRecord struct {
	ID         string
	Role       string
	GuardianID string
}
