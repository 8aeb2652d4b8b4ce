package decision

import (
	"context"
	"time"
)

// Store persists decisions until they expire. Find returns
// sentinel.ErrNotFound for unknown or purged ids.
type Store interface {
	Save(ctx context.Context, d *Decision) error
	Find(ctx context.Context, id string) (*Decision, error)
	// ListBySubject returns up to limit of the subject's most recent
	// decisions, newest first.
	ListBySubject(ctx context.Context, subjectID string, limit int) ([]*Decision, error)
	// DeleteExpired purges decisions whose ExpiresAt is not after now and
	// returns how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
