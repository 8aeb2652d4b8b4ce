package subject

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"kinguard/internal/trust"
	dErrors "kinguard/pkg/domain-errors"
	"kinguard/pkg/platform/audit"
	"kinguard/pkg/platform/sentinel"
	"kinguard/pkg/requestcontext"
)

type Store interface {
	Create(ctx context.Context, s *Subject) error
	Find(ctx context.Context, id string) (*Subject, error)
}

// TrustSeeder creates the onboarding trust profile.
type TrustSeeder interface {
	Initialize(ctx context.Context, userID string, baseline float64) (*trust.Profile, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, entry audit.Entry) error
}

type Service struct {
	store     Store
	trust     TrustSeeder
	baselines Baselines
	fallback  float64
	logger    *slog.Logger
	auditor   AuditPublisher
}

type Option func(*Service)

func WithBaselines(b Baselines) Option {
	return func(s *Service) {
		if len(b) > 0 {
			s.baselines = b
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) {
		s.auditor = p
	}
}

func New(store Store, seeder TrustSeeder, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("subject store is required")
	}
	if seeder == nil {
		return nil, fmt.Errorf("trust seeder is required")
	}
	s := &Service{
		store:     store,
		trust:     seeder,
		baselines: DefaultBaselines(),
		fallback:  trust.DefaultConfig().Baseline,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type RegisterCommand struct {
	ID          string
	Role        Role
	DisplayName string
	GuardianID  string
}

func (c *RegisterCommand) validate() error {
	c.ID = strings.TrimSpace(c.ID)
	if c.ID == "" {
		return dErrors.New(dErrors.CodeValidation, "id is required")
	}
	if !c.Role.Valid() {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown role %q", c.Role))
	}
	if c.Role == RoleChild && strings.TrimSpace(c.GuardianID) == "" {
		return dErrors.New(dErrors.CodeValidation, "child subjects need a guardian_id")
	}
	return nil
}

// Register enrolls a subject and seeds its trust profile at the role's
// baseline.
func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (*Subject, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	if cmd.GuardianID != "" {
		guardian, err := s.Get(ctx, cmd.GuardianID)
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeNotFound) {
				return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("guardian %s is not registered", cmd.GuardianID))
			}
			return nil, err
		}
		if guardian.Role != RoleParent {
			return nil, dErrors.New(dErrors.CodeValidation, "guardian must be a parent")
		}
	}

	sub := &Subject{
		ID:          cmd.ID,
		Role:        cmd.Role,
		DisplayName: strings.TrimSpace(cmd.DisplayName),
		GuardianID:  cmd.GuardianID,
		CreatedAt:   requestcontext.Now(ctx),
	}
	if err := s.store.Create(ctx, sub); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, fmt.Sprintf("subject %s already registered", sub.ID))
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save subject")
	}

	baseline := s.baselines.For(sub.Role, s.fallback)
	if _, err := s.trust.Initialize(ctx, sub.ID, baseline); err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "subject registered",
			"request_id", requestcontext.RequestID(ctx),
			"subject_id", sub.ID,
			"role", sub.Role,
		)
	}
	if s.auditor != nil {
		if err := s.auditor.Emit(ctx, audit.Entry{
			Type:      audit.EntrySubjectRegistered,
			SubjectID: sub.ID,
			Score:     audit.Score(baseline),
			Attributes: map[string]string{
				"role":        string(sub.Role),
				"guardian_id": sub.GuardianID,
			},
		}); err != nil && s.logger != nil {
			s.logger.ErrorContext(ctx, "failed to emit subject audit entry", "subject_id", sub.ID, "error", err)
		}
	}
	return sub, nil
}

// Get returns the enrolled subject or a CodeNotFound error.
func (s *Service) Get(ctx context.Context, id string) (*Subject, error) {
	sub, err := s.store.Find(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("subject %s is not registered", id))
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load subject")
	}
	return sub, nil
}
