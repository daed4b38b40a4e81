package handler

import (
	"net/http"

	"github.com/boddenberg/lead-router-go/internal/domain"
	"github.com/boddenberg/lead-router-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Leads Handlers
// ============================================================

// ingestStatus is 201 for a new lead, 202 when routing was queued and 200
// when the email already existed.
func ingestStatus(res *domain.IngestResult) int {
	switch {
	case res.Duplicate:
		return http.StatusOK
	case res.Queued:
		return http.StatusAccepted
	default:
		return http.StatusCreated
	}
}

// createLeadHandler ingests one lead. The "mode" query parameter overrides the
// configured ingest mode.
func createLeadHandler(svc *service.LeadService, defaultMode domain.IngestMode, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /leads")
		defer span.End()

		var in domain.LeadInput
		if err := decodeJSON(w, r, &in); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		fanOut, err := parseFanOut(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		mode := defaultMode
		switch m := domain.IngestMode(r.URL.Query().Get("mode")); m {
		case domain.IngestSync, domain.IngestAsync:
			mode = m
		case "":
		default:
			handleServiceError(w, &domain.ErrValidation{Field: "mode", Message: "must be sync or async"}, logger)
			return
		}
		source := domain.SourceAPI
		if in.Source != "" {
			source = domain.LeadSource(in.Source)
		}

		res, err := svc.IngestLead(ctx, in, source, mode, fanOut)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("lead.id", res.Lead.ID))
		writeJSON(w, ingestStatus(res), res)
	}
}

func listLeadsHandler(svc *service.LeadService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /leads")
		defer span.End()

		page, pageSize := parsePagination(r)
		q := r.URL.Query()
		leads, err := svc.ListLeads(ctx, domain.LeadFilter{
			Status:        domain.LeadStatus(q.Get("status")),
			RoutingStatus: domain.RoutingStatus(q.Get("routing_status")),
			Source:        domain.LeadSource(q.Get("source")),
			Page:          page,
			PageSize:      pageSize,
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, listResponse(leads, page, pageSize))
	}
}

func getLeadHandler(svc *service.LeadService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /leads/{leadId}")
		defer span.End()

		lead, err := svc.GetLead(ctx, chi.URLParam(r, "leadId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, lead)
	}
}

type statusRequest struct {
	Status domain.LeadStatus `json:"status"`
}

func updateLeadStatusHandler(svc *service.LeadService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PATCH /leads/{leadId}/status")
		defer span.End()

		var req statusRequest
		if err := decodeJSON(w, r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		lead, err := svc.UpdateLeadStatus(ctx, chi.URLParam(r, "leadId"), req.Status)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, lead)
	}
}

// routeLeadHandler routes a lead now. Already routed leads return their
// existing assignments.
func routeLeadHandler(router *service.Router, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /leads/{leadId}/route")
		defer span.End()

		fanOut, err := parseFanOut(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		res, err := router.RouteLeadByID(ctx, chi.URLParam(r, "leadId"), fanOut)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func reprocessLeadHandler(router *service.Router, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /leads/{leadId}/reprocess")
		defer span.End()

		fanOut, err := parseFanOut(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		leadID := chi.URLParam(r, "leadId")
		if claims := ClaimsFromContext(ctx); claims != nil {
			logger.Info("lead reprocess requested",
				zap.String("lead_id", leadID),
				zap.String("operator", claims.Sub),
			)
		}
		res, err := router.ReprocessLead(ctx, leadID, fanOut)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func listLeadAssignmentsHandler(svc *service.LeadService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /leads/{leadId}/assignments")
		defer span.End()

		assignments, err := svc.ListLeadAssignments(ctx, chi.URLParam(r, "leadId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if assignments == nil {
			assignments = []domain.Assignment{}
		}
		writeJSON(w, http.StatusOK, assignments)
	}
}

// webhookLeadHandler accepts leads pushed by lead sources. Routing is
// always queued when a queue is configured.
func webhookLeadHandler(svc *service.LeadService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /webhooks/leads")
		defer span.End()

		var in domain.LeadInput
		if err := decodeJSON(w, r, &in); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		res, err := svc.IngestLead(ctx, in, domain.SourceWebhook, domain.IngestAsync, 0)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, ingestStatus(res), res)
	}
}
