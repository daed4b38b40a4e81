package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/lead-router-go/internal/domain"
	"github.com/boddenberg/lead-router-go/internal/infra/observability"
	"github.com/boddenberg/lead-router-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// HealthCheck probes one dependency for /healthz and /readyz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Dependencies are the services the HTTP layer dispatches to.
type Dependencies struct {
	Leads          *service.LeadService
	Profiles       *service.ProfileService
	Router         *service.Router
	Importer       *service.Importer
	Auth           *service.AuthService
	Metrics        *observability.Metrics
	Checks         []HealthCheck
	CORSOrigins    []string
	MaxUploadBytes int64
	IngestMode     domain.IngestMode // default for POST /v1/leads; sync when empty
	Logger         *zap.Logger
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(d Dependencies) http.Handler {
	logger := d.Logger
	if d.IngestMode == "" {
		d.IngestMode = domain.IngestSync
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = 20 << 20
	}

	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(d.Checks))
	r.Get("/readyz", readyzHandler(d.Checks, logger))
	if d.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	// --- Lead sources ---
	r.With(APIKeyMiddleware(d.Auth, logger)).Post("/webhooks/leads", webhookLeadHandler(d.Leads, logger))

	// --- Operator API ---
	r.Route("/v1", func(r chi.Router) {
		r.Use(JWTAuthMiddleware(d.Auth, logger))

		r.Route("/leads", func(r chi.Router) {
			r.Post("/", createLeadHandler(d.Leads, d.IngestMode, logger))
			r.Get("/", listLeadsHandler(d.Leads, logger))
			r.Get("/{leadId}", getLeadHandler(d.Leads, logger))
			r.Patch("/{leadId}/status", updateLeadStatusHandler(d.Leads, logger))
			r.Post("/{leadId}/route", routeLeadHandler(d.Router, logger))
			r.Post("/{leadId}/reprocess", reprocessLeadHandler(d.Router, logger))
			r.Get("/{leadId}/assignments", listLeadAssignmentsHandler(d.Leads, logger))
		})

		r.Post("/profiles", createProfileHandler(d.Profiles, logger))
		r.Get("/workspaces/{workspaceId}/profiles", listProfilesHandler(d.Profiles, logger))
		r.Route("/profiles/{profileId}", func(r chi.Router) {
			r.Get("/", getProfileHandler(d.Profiles, logger))
			r.Put("/", updateProfileHandler(d.Profiles, logger))
			r.Post("/activate", setProfileActiveHandler(d.Profiles, true, logger))
			r.Post("/deactivate", setProfileActiveHandler(d.Profiles, false, logger))
			r.Get("/assignments", listProfileAssignmentsHandler(d.Profiles, logger))
			r.Get("/usage", profileUsageHandler(d.Profiles, logger))
		})

		r.Post("/imports", uploadImportHandler(d.Importer, d.MaxUploadBytes, logger))
		r.Post("/imports/object", objectImportHandler(d.Importer, logger))

		r.Get("/metrics/routing", routingMetricsHandler(d.Metrics))
	})

	return r
}

// ============================================================
// Operational handlers
// ============================================================

func runChecks(ctx context.Context, checks []HealthCheck) domain.HealthStatus {
	status := domain.HealthStatus{Status: "healthy", Services: make([]domain.ServiceHealth, 0, len(checks))}
	for _, c := range checks {
		start := time.Now()
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := c.Check(checkCtx)
		cancel()

		sh := domain.ServiceHealth{
			Name:        c.Name,
			Status:      "up",
			LatencyMs:   time.Since(start).Milliseconds(),
			LastChecked: time.Now().UTC().Format(time.RFC3339),
		}
		if err != nil {
			sh.Status = "down"
			status.Status = "degraded"
		}
		status.Services = append(status.Services, sh)
	}
	return status
}

// healthzHandler reports liveness. Dependency state is informational.
func healthzHandler(checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, runChecks(r.Context(), checks))
	}
}

// readyzHandler fails while any dependency is down.
func readyzHandler(checks []HealthCheck, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := runChecks(r.Context(), checks)
		if status.Status != "healthy" {
			logger.Warn("readiness check failed", zap.Any("services", status.Services))
			status.Status = "unhealthy"
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

func routingMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if metrics == nil {
			writeJSON(w, http.StatusOK, domain.RoutingMetrics{})
			return
		}
		writeJSON(w, http.StatusOK, metrics.GetRoutingSnapshot())
	}
}
