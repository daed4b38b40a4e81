package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/lead-router-go/internal/domain"
	"github.com/boddenberg/lead-router-go/internal/port"
)

var profileTracer = otel.Tracer("service/profiles")

// ProfileService manages client targeting profiles.
type ProfileService struct {
	store  port.Store
	loc    *time.Location
	now    func() time.Time
	logger *zap.Logger
}

// NewProfileService creates the profile service. loc is the time zone used
// to report current cap usage.
func NewProfileService(store port.Store, loc *time.Location, logger *zap.Logger) *ProfileService {
	if loc == nil {
		loc = time.UTC
	}
	return &ProfileService{store: store, loc: loc, now: time.Now, logger: logger}
}

func (s *ProfileService) CreateProfile(ctx context.Context, in domain.ProfileInput) (*domain.ClientProfile, error) {
	ctx, span := profileTracer.Start(ctx, "ProfileService.CreateProfile")
	defer span.End()

	in.Normalize()
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	p := profileFromInput(in)
	p.Active = true
	if in.Active != nil {
		p.Active = *in.Active
	}
	if problem := p.ConfigProblem(); problem != "" {
		return nil, &domain.ErrValidation{Field: "profile", Message: problem}
	}

	created, err := s.store.CreateProfile(ctx, p)
	if err != nil {
		return nil, err
	}
	s.logger.Info("profile created",
		zap.String("profile_id", created.ID),
		zap.String("workspace_id", created.WorkspaceID),
	)
	return created, nil
}

// UpdateProfile replaces the targeting criteria. Counters are not touched.
func (s *ProfileService) UpdateProfile(ctx context.Context, profileID string, in domain.ProfileInput) (*domain.ClientProfile, error) {
	ctx, span := profileTracer.Start(ctx, "ProfileService.UpdateProfile")
	defer span.End()
	span.SetAttributes(attribute.String("profile.id", profileID))

	current, err := s.store.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if in.WorkspaceID == "" {
		in.WorkspaceID = current.WorkspaceID
	}
	if in.WorkspaceID != current.WorkspaceID {
		return nil, &domain.ErrValidation{Field: "workspace_id", Message: "cannot move a profile between workspaces"}
	}

	in.Normalize()
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	p := profileFromInput(in)
	p.ID = current.ID
	p.Active = current.Active
	if in.Active != nil {
		p.Active = *in.Active
	}
	if problem := p.ConfigProblem(); problem != "" {
		return nil, &domain.ErrValidation{Field: "profile", Message: problem}
	}
	return s.store.UpdateProfile(ctx, p)
}

func (s *ProfileService) GetProfile(ctx context.Context, profileID string) (*domain.ClientProfile, error) {
	ctx, span := profileTracer.Start(ctx, "ProfileService.GetProfile")
	defer span.End()

	return s.store.GetProfile(ctx, profileID)
}

func (s *ProfileService) ListProfiles(ctx context.Context, workspaceID string) ([]domain.ClientProfile, error) {
	ctx, span := profileTracer.Start(ctx, "ProfileService.ListProfiles")
	defer span.End()

	if workspaceID == "" {
		return nil, &domain.ErrValidation{Field: "workspace_id", Message: "is required"}
	}
	return s.store.ListProfiles(ctx, workspaceID)
}

// SetProfileActive activates or deactivates a profile. Inactive profiles are
// ignored by the matcher.
func (s *ProfileService) SetProfileActive(ctx context.Context, profileID string, active bool) (*domain.ClientProfile, error) {
	ctx, span := profileTracer.Start(ctx, "ProfileService.SetProfileActive")
	defer span.End()

	if err := s.store.SetProfileActive(ctx, profileID, active); err != nil {
		return nil, err
	}
	s.logger.Info("profile active flag changed",
		zap.String("profile_id", profileID),
		zap.Bool("active", active),
	)
	return s.store.GetProfile(ctx, profileID)
}

func (s *ProfileService) ListProfileAssignments(ctx context.Context, profileID string, page, pageSize int) ([]domain.Assignment, error) {
	ctx, span := profileTracer.Start(ctx, "ProfileService.ListProfileAssignments")
	defer span.End()

	if _, err := s.store.GetProfile(ctx, profileID); err != nil {
		return nil, err
	}
	page, pageSize = normalizePage(page, pageSize)
	return s.store.ListAssignmentsByProfile(ctx, profileID, page, pageSize)
}

// GetProfileUsage reports the profile's counters for the current periods.
func (s *ProfileService) GetProfileUsage(ctx context.Context, profileID string) (*domain.ProfileUsage, error) {
	ctx, span := profileTracer.Start(ctx, "ProfileService.GetProfileUsage")
	defer span.End()

	p, err := s.store.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	period := domain.PeriodAt(s.now().In(s.loc))
	daily, monthly := p.UsageFor(period)
	return &domain.ProfileUsage{
		ProfileID:     p.ID,
		Day:           period.Day,
		UsedToday:     daily,
		DailyLimit:    p.DailyLimit,
		Month:         period.Month,
		UsedThisMonth: monthly,
		MonthlyLimit:  p.MonthlyLimit,
	}, nil
}

func profileFromInput(in domain.ProfileInput) *domain.ClientProfile {
	return &domain.ClientProfile{
		WorkspaceID:  in.WorkspaceID,
		Name:         in.Name,
		Priority:     in.Priority,
		Industries:   in.Industries,
		States:       in.States,
		Cities:       in.Cities,
		Zips:         in.Zips,
		Radius:       in.Radius,
		Quality:      in.Quality,
		DailyLimit:   in.DailyLimit,
		MonthlyLimit: in.MonthlyLimit,
	}
}
