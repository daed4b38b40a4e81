// Package service provides the business logic layer (use cases).
// Router is the lead matcher: it finds the client profiles a lead qualifies
// for, ranks them and assigns the lead without exceeding any profile's caps.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/lead-router-go/internal/domain"
	"github.com/boddenberg/lead-router-go/internal/infra/observability"
	"github.com/boddenberg/lead-router-go/internal/port"
)

var routerTracer = otel.Tracer("service/router")

// RouterConfig holds the matcher's tunables.
type RouterConfig struct {
	// FanOutLimit is used when a caller passes a non-positive fan-out.
	FanOutLimit int
	// Location is the time zone cap periods are evaluated in.
	Location *time.Location
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Router routes leads to client profiles.
type Router struct {
	store   port.Store
	events  port.EventPublisher
	cfg     RouterConfig
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewRouter creates the matcher. events may be nil.
func NewRouter(store port.Store, events port.EventPublisher, cfg RouterConfig, metrics *observability.Metrics, logger *zap.Logger) *Router {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Router{store: store, events: events, cfg: cfg, metrics: metrics, logger: logger}
}

// DefaultFanOut returns the configured fan-out limit.
func (r *Router) DefaultFanOut() int {
	return r.cfg.FanOutLimit
}

type candidate struct {
	profile  domain.ClientProfile
	criteria domain.MatchedCriteria
}

// RouteLead assigns lead to at most fanOut eligible profiles.
//
// Unroutable leads are an outcome, not an error. A lead already in a terminal
// routing state gets its stored assignments back. Persistence failures return
// *domain.ErrPersistence and leave the lead in "routing" so a re-run resumes.
func (r *Router) RouteLead(ctx context.Context, lead *domain.Lead, fanOut int) (*domain.RouteResult, error) {
	ctx, span := routerTracer.Start(ctx, "Router.RouteLead")
	defer span.End()
	span.SetAttributes(attribute.String("lead.id", lead.ID))

	if lead.RoutingStatus.Terminal() {
		existing, err := r.store.ListAssignmentsByLead(ctx, lead.ID)
		if err != nil {
			return nil, persistenceErr("list assignments", err)
		}
		return &domain.RouteResult{
			LeadID:      lead.ID,
			Status:      lead.RoutingStatus,
			Assignments: nonNil(existing),
			Reason:      domain.ReasonAlreadyRouted,
		}, nil
	}
	return r.route(ctx, lead, fanOut)
}

// RouteLeadByID loads the lead and routes it.
func (r *Router) RouteLeadByID(ctx context.Context, leadID string, fanOut int) (*domain.RouteResult, error) {
	lead, err := r.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	return r.RouteLead(ctx, lead, fanOut)
}

// ReprocessLead re-runs routing for a lead regardless of its routing state,
// e.g. after profiles changed. Existing assignments are kept and count toward
// the fan-out.
func (r *Router) ReprocessLead(ctx context.Context, leadID string, fanOut int) (*domain.RouteResult, error) {
	ctx, span := routerTracer.Start(ctx, "Router.ReprocessLead")
	defer span.End()

	lead, err := r.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	r.logger.Info("reprocessing lead",
		zap.String("lead_id", leadID),
		zap.String("from", string(lead.RoutingStatus)),
	)
	return r.route(ctx, lead, fanOut)
}

func (r *Router) route(ctx context.Context, lead *domain.Lead, fanOut int) (res *domain.RouteResult, err error) {
	start := time.Now()
	defer func() {
		r.metrics.RecordDuration("route_lead", time.Since(start))
		switch {
		case err != nil:
			r.metrics.IncrRouteOutcome("error")
		case res != nil:
			r.metrics.IncrRouteOutcome(string(res.Status))
		}
	}()

	if fanOut <= 0 {
		fanOut = lead.FanOut
	}
	if fanOut <= 0 {
		fanOut = r.cfg.FanOutLimit
	}
	if fanOut <= 0 {
		return nil, &domain.ErrValidation{Field: "fan_out", Message: "fan-out limit must be positive"}
	}

	if !lead.Routable() {
		return r.finishUnroutable(ctx, lead.ID, domain.ReasonNoAttributes)
	}

	if err := r.store.SetRoutingStatus(ctx, lead.ID, domain.RoutingInProgress); err != nil {
		return nil, persistenceErr("set routing status", err)
	}

	existing, err := r.store.ListAssignmentsByLead(ctx, lead.ID)
	if err != nil {
		return nil, persistenceErr("list assignments", err)
	}
	if len(existing) >= fanOut {
		return r.finish(ctx, lead.ID, existing, nil, "")
	}

	profiles, err := r.store.ListActiveProfiles(ctx)
	if err != nil {
		return nil, persistenceErr("list active profiles", err)
	}
	if len(profiles) == 0 {
		return r.finish(ctx, lead.ID, existing, nil, domain.ReasonNoProfiles)
	}

	period := domain.PeriodAt(r.cfg.Now().In(r.cfg.Location))
	candidates, capped := r.eligible(lead, profiles, existing, period)

	var (
		created    []domain.Assignment
		assigned   = len(existing)
		duplicates bool
		fanOutHit  bool
		raceLost   int
	)
claims:
	for _, c := range candidates {
		if assigned >= fanOut {
			break
		}
		claim, err := r.store.ClaimAssignment(ctx, domain.ClaimRequest{
			LeadID:      lead.ID,
			ProfileID:   c.profile.ID,
			WorkspaceID: c.profile.WorkspaceID,
			Period:      period,
			Criteria:    c.criteria,
			MatchedAt:   r.cfg.Now().UTC(),
			MaxPerLead:  fanOut,
		})
		if err != nil {
			r.logger.Error("claim failed",
				zap.String("lead_id", lead.ID),
				zap.String("profile_id", c.profile.ID),
				zap.Error(err),
			)
			return nil, persistenceErr("claim assignment", err)
		}

		switch claim.Outcome {
		case domain.ClaimAssigned:
			created = append(created, *claim.Assignment)
			assigned++
		case domain.ClaimDuplicate:
			duplicates = true
			assigned++
		case domain.ClaimCapReached:
			raceLost++
			r.metrics.IncrCapRejection("claim")
			r.logger.Debug("profile reached cap during claim",
				zap.String("lead_id", lead.ID),
				zap.String("profile_id", c.profile.ID),
			)
		case domain.ClaimFanOutReached:
			// Another run routed this lead while we were matching.
			fanOutHit = true
			r.logger.Debug("lead reached fan-out during claim",
				zap.String("lead_id", lead.ID),
				zap.Int("fan_out", fanOut),
			)
			break claims
		case domain.ClaimInactive:
			r.logger.Debug("profile deactivated during routing",
				zap.String("profile_id", c.profile.ID),
			)
		}
	}

	all := append(append([]domain.Assignment(nil), existing...), created...)
	if duplicates || fanOutHit {
		if all, err = r.store.ListAssignmentsByLead(ctx, lead.ID); err != nil {
			return nil, persistenceErr("list assignments", err)
		}
	}

	reason := ""
	if len(all) == 0 {
		reason = domain.ReasonNoMatch
		if capped+raceLost > 0 {
			reason = domain.ReasonCapsExhausted
		}
	}
	return r.finish(ctx, lead.ID, all, created, reason)
}

// eligible filters profiles down to ranked candidates. It also returns how
// many otherwise-eligible profiles were dropped by the cap pre-check.
func (r *Router) eligible(lead *domain.Lead, profiles []domain.ClientProfile, existing []domain.Assignment, period domain.Period) ([]candidate, int) {
	assigned := make(map[string]struct{}, len(existing))
	for _, a := range existing {
		assigned[a.ProfileID] = struct{}{}
	}

	var (
		out    []candidate
		capped int
	)
	for i := range profiles {
		p := &profiles[i]
		if !p.Active {
			continue
		}
		if _, ok := assigned[p.ID]; ok {
			continue
		}
		if problem := p.ConfigProblem(); problem != "" {
			r.metrics.IncrExcludedProfile(problem)
			r.logger.Warn("profile excluded: contradictory configuration",
				zap.String("profile_id", p.ID),
				zap.String("workspace_id", p.WorkspaceID),
				zap.String("problem", problem),
			)
			continue
		}
		mc, ok := matchProfile(p, lead)
		if !ok {
			continue
		}
		if which, at := p.AtCap(period); at {
			capped++
			r.metrics.IncrCapRejection("precheck")
			r.logger.Debug("profile at cap",
				zap.String("profile_id", p.ID),
				zap.String("period", string(which)),
			)
			continue
		}
		out = append(out, candidate{profile: *p, criteria: mc})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].profile, out[j].profile
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out, capped
}

// finish stores the terminal routing status and publishes new assignments.
func (r *Router) finish(ctx context.Context, leadID string, all, created []domain.Assignment, reason string) (*domain.RouteResult, error) {
	status := domain.RoutingRouted
	if len(all) == 0 {
		status = domain.RoutingUnroutable
	}
	if err := r.store.SetRoutingStatus(ctx, leadID, status); err != nil {
		return nil, persistenceErr("set routing status", err)
	}

	r.metrics.AddAssignments(len(created))
	r.publish(ctx, created)

	r.logger.Info("lead routed",
		zap.String("lead_id", leadID),
		zap.String("status", string(status)),
		zap.Int("assignments", len(all)),
		zap.Int("new_assignments", len(created)),
		zap.String("reason", reason),
	)

	return &domain.RouteResult{
		LeadID:      leadID,
		Status:      status,
		Assignments: nonNil(all),
		Reason:      reason,
	}, nil
}

// finishUnroutable records an unroutable outcome. A lead the store does not
// know still gets its unroutable result.
func (r *Router) finishUnroutable(ctx context.Context, leadID, reason string) (*domain.RouteResult, error) {
	res, err := r.finish(ctx, leadID, nil, nil, reason)
	var nf *domain.ErrNotFound
	if errors.As(err, &nf) {
		r.logger.Debug("unroutable lead is not stored; status not recorded",
			zap.String("lead_id", leadID),
			zap.String("reason", reason),
		)
		return &domain.RouteResult{LeadID: leadID, Status: domain.RoutingUnroutable, Assignments: []domain.Assignment{}, Reason: reason}, nil
	}
	return res, err
}

// publish emits assignment events. Failures are logged; the assignment rows
// are the source of truth.
func (r *Router) publish(ctx context.Context, created []domain.Assignment) {
	if r.events == nil {
		return
	}
	for _, a := range created {
		if err := r.events.PublishAssignment(ctx, a); err != nil {
			r.metrics.IncrExternalError("events")
			r.logger.Warn("failed to publish assignment event",
				zap.String("assignment_id", a.ID),
				zap.Error(err),
			)
		}
	}
}

// persistenceErr wraps store failures as retryable unless they already carry
// a more specific type.
func persistenceErr(op string, err error) error {
	var (
		persistence *domain.ErrPersistence
		notFound    *domain.ErrNotFound
	)
	if errors.As(err, &persistence) || errors.As(err, &notFound) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &domain.ErrPersistence{Op: op, Err: err}
}

func nonNil(as []domain.Assignment) []domain.Assignment {
	if as == nil {
		return []domain.Assignment{}
	}
	return as
}
