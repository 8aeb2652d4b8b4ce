package adapters

import (
	"context"

	"kinguard/internal/decision/ports"
	"kinguard/internal/subject"
)

type subjectGetter interface {
	Get(ctx context.Context, id string) (*subject.Subject, error)
}

// SubjectAdapter is an in-process adapter that implements ports.SubjectPort
// on top of the subject directory.
type SubjectAdapter struct {
	subjects subjectGetter
}

func NewSubjectAdapter(subjects subjectGetter) ports.SubjectPort {
	return &SubjectAdapter{subjects: subjects}
}

func (a *SubjectAdapter) Lookup(ctx context.Context, subjectID string) (*ports.SubjectRecord, error) {
	s, err := a.subjects.Get(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	return &ports.SubjectRecord{
		ID:         s.ID,
		Role:       string(s.Role),
		GuardianID: s.GuardianID,
	}, nil
}
