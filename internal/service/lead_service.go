package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/lead-router-go/internal/domain"
	"github.com/boddenberg/lead-router-go/internal/infra/observability"
	"github.com/boddenberg/lead-router-go/internal/port"
)

var leadTracer = otel.Tracer("service/leads")

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// LeadService ingests leads and manages their lifecycle.
type LeadService struct {
	store     port.Store
	router    *Router
	queue     port.RouteQueue
	geocoder  port.Geocoder
	processor *LeadProcessor
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewLeadService creates the lead service. queue and geocoder may be nil:
// without a queue every lead is routed inline, without a geocoder
// coordinates come only from the input.
func NewLeadService(
	store port.Store,
	router *Router,
	queue port.RouteQueue,
	geocoder port.Geocoder,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *LeadService {
	return &LeadService{
		store:     store,
		router:    router,
		queue:     queue,
		geocoder:  geocoder,
		processor: NewLeadProcessor(),
		metrics:   metrics,
		logger:    logger,
	}
}

// IngestLead validates, normalizes, deduplicates and stores a lead, then routes
// it inline (sync) or hands it to the routing queue (async).
func (s *LeadService) IngestLead(ctx context.Context, in domain.LeadInput, source domain.LeadSource, mode domain.IngestMode, fanOut int) (*domain.IngestResult, error) {
	ctx, span := leadTracer.Start(ctx, "LeadService.IngestLead")
	defer span.End()
	span.SetAttributes(attribute.String("lead.source", string(source)), attribute.String("ingest.mode", string(mode)))

	if err := validateStruct(in); err != nil {
		return nil, err
	}
	lead, err := s.processor.Normalize(in, source)
	if err != nil {
		return nil, err
	}

	if lead.Email != "" {
		existing, err := s.store.FindLeadByEmail(ctx, lead.Email)
		if err == nil {
			return &domain.IngestResult{Lead: existing, Duplicate: true}, nil
		}
		var nf *domain.ErrNotFound
		if !errors.As(err, &nf) {
			return nil, persistenceErr("find lead by email", err)
		}
	}

	s.geocode(ctx, lead)
	if fanOut > 0 {
		// kept so a sweeper retry honours the caller's fan-out
		lead.FanOut = fanOut
	}

	created, err := s.store.CreateLead(ctx, lead)
	if err != nil {
		var conflict *domain.ErrConflict
		if errors.As(err, &conflict) && lead.Email != "" {
			// Lost a race with a concurrent ingest of the same email.
			if existing, ferr := s.store.FindLeadByEmail(ctx, lead.Email); ferr == nil {
				return &domain.IngestResult{Lead: existing, Duplicate: true}, nil
			}
		}
		return nil, persistenceErr("create lead", err)
	}
	span.SetAttributes(attribute.String("lead.id", created.ID))

	result := &domain.IngestResult{Lead: created}

	if mode == domain.IngestAsync && s.queue != nil {
		if err := s.queue.PublishRouteRequest(ctx, port.RouteRequest{LeadID: created.ID, FanOut: fanOut}); err != nil {
			// The sweeper picks up leads left unrouted.
			s.metrics.IncrExternalError("queue")
			s.logger.Warn("failed to enqueue lead for routing",
				zap.String("lead_id", created.ID),
				zap.Error(err),
			)
			return result, nil
		}
		result.Queued = true
		return result, nil
	}

	routing, err := s.router.RouteLead(ctx, created, fanOut)
	if err != nil {
		s.logger.Warn("inline routing failed; lead left for retry",
			zap.String("lead_id", created.ID),
			zap.Error(err),
		)
		return result, nil
	}
	result.Routing = routing
	if fresh, err := s.store.GetLead(ctx, created.ID); err == nil {
		result.Lead = fresh
	}
	return result, nil
}

// geocode fills coordinates when the lead has an address but no position.
// Failures leave the lead without coordinates.
func (s *LeadService) geocode(ctx context.Context, lead *domain.Lead) {
	if s.geocoder == nil || lead.HasCoordinates() {
		return
	}
	addr := lead.FullAddress()
	if addr == "" {
		return
	}
	coords, err := s.geocoder.Geocode(ctx, addr)
	if err != nil {
		s.logger.Warn("geocoding failed",
			zap.String("address", addr),
			zap.Error(err),
		)
		return
	}
	if coords == nil {
		return
	}
	lat, lng := coords.Lat, coords.Lng
	lead.Lat, lead.Lng = &lat, &lng
}

func (s *LeadService) GetLead(ctx context.Context, leadID string) (*domain.Lead, error) {
	ctx, span := leadTracer.Start(ctx, "LeadService.GetLead")
	defer span.End()

	return s.store.GetLead(ctx, leadID)
}

// ListLeads returns a page of leads, newest first.
func (s *LeadService) ListLeads(ctx context.Context, filter domain.LeadFilter) ([]domain.Lead, error) {
	ctx, span := leadTracer.Start(ctx, "LeadService.ListLeads")
	defer span.End()

	if filter.Status != "" && !filter.Status.Valid() {
		return nil, &domain.ErrValidation{Field: "status", Message: "unknown lead status"}
	}
	filter.Page, filter.PageSize = normalizePage(filter.Page, filter.PageSize)
	return s.store.ListLeads(ctx, filter)
}

// UpdateLeadStatus moves a lead through its sales lifecycle.
func (s *LeadService) UpdateLeadStatus(ctx context.Context, leadID string, status domain.LeadStatus) (*domain.Lead, error) {
	ctx, span := leadTracer.Start(ctx, "LeadService.UpdateLeadStatus")
	defer span.End()
	span.SetAttributes(attribute.String("lead.id", leadID), attribute.String("lead.status", string(status)))

	if !status.Valid() {
		return nil, &domain.ErrValidation{Field: "status", Message: "must be one of: new contacted qualified won lost"}
	}
	lead, err := s.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if lead.Status == status {
		return lead, nil
	}
	if !lead.Status.CanTransitionTo(status) {
		return nil, &domain.ErrInvalidTransition{From: string(lead.Status), To: string(status)}
	}
	if err := s.store.UpdateLeadStatus(ctx, leadID, status); err != nil {
		return nil, err
	}

	s.logger.Info("lead status updated",
		zap.String("lead_id", leadID),
		zap.String("from", string(lead.Status)),
		zap.String("to", string(status)),
	)
	return s.store.GetLead(ctx, leadID)
}

func (s *LeadService) ListLeadAssignments(ctx context.Context, leadID string) ([]domain.Assignment, error) {
	ctx, span := leadTracer.Start(ctx, "LeadService.ListLeadAssignments")
	defer span.End()

	if _, err := s.store.GetLead(ctx, leadID); err != nil {
		return nil, err
	}
	return s.store.ListAssignmentsByLead(ctx, leadID)
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}
