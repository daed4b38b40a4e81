package observability

import (
	"time"

	"github.com/boddenberg/lead-router-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the lead router.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	routingDuration *prometheus.HistogramVec
	routeOutcomes   *prometheus.CounterVec
	assignments     prometheus.Counter
	capRejections   *prometheus.CounterVec
	excludedProfile *prometheus.CounterVec
	externalErrors  *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	importRows      *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		routingDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leadrouter_operation_duration_seconds",
				Help:    "Duration of operations by name.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		routeOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadrouter_route_outcomes_total",
				Help: "Routing runs by outcome (routed, unroutable, error).",
			},
			[]string{"outcome"},
		),
		assignments: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "leadrouter_assignments_total",
				Help: "Assignments written.",
			},
		),
		capRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadrouter_cap_rejections_total",
				Help: "Candidates dropped because a cap was reached.",
			},
			[]string{"stage"},
		),
		excludedProfile: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadrouter_profiles_excluded_total",
				Help: "Profiles excluded because of contradictory configuration.",
			},
			[]string{"reason"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadrouter_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadrouter_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadrouter_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		importRows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadrouter_import_rows_total",
				Help: "Imported rows by result.",
			},
			[]string{"result"},
		),
	}
}

// RecordDuration records the duration of an operation.
func (m *Metrics) RecordDuration(operation string, d time.Duration) {
	m.routingDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrRouteOutcome counts one routing run.
func (m *Metrics) IncrRouteOutcome(outcome string) {
	m.routeOutcomes.WithLabelValues(outcome).Inc()
}

// AddAssignments counts written assignments.
func (m *Metrics) AddAssignments(n int) {
	m.assignments.Add(float64(n))
}

// IncrCapRejection counts a candidate dropped at cap, by stage
// ("precheck" for the snapshot filter, "claim" for a lost race).
func (m *Metrics) IncrCapRejection(stage string) {
	m.capRejections.WithLabelValues(stage).Inc()
}

// IncrExcludedProfile counts a misconfigured profile skipped by the matcher.
func (m *Metrics) IncrExcludedProfile(reason string) {
	m.excludedProfile.WithLabelValues(reason).Inc()
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrImportRow counts an imported row by result.
func (m *Metrics) IncrImportRow(result string) {
	m.importRows.WithLabelValues(result).Inc()
}

// GetRoutingSnapshot returns a snapshot of routing metrics suitable for the
// GET /v1/metrics/routing endpoint.
func (m *Metrics) GetRoutingSnapshot() *domain.RoutingMetrics {
	routed := getCounterValue(m.routeOutcomes, "routed")
	unroutable := getCounterValue(m.routeOutcomes, "unroutable")
	errs := getCounterValue(m.routeOutcomes, "error")
	assigned := readCounter(m.assignments)
	capRejections := getCounterValue(m.capRejections, "precheck") + getCounterValue(m.capRejections, "claim")
	hits := getCounterValue(m.cacheHits, "geocode")
	misses := getCounterValue(m.cacheMisses, "geocode")

	snap := &domain.RoutingMetrics{
		LeadsRouted:     int64(routed),
		LeadsUnroutable: int64(unroutable),
		Assignments:     int64(assigned),
		CapRejections:   int64(capRejections),
		RoutingErrors:   int64(errs),
		Period:          "all_time",
	}
	if total := routed + unroutable; total > 0 {
		snap.UnroutableRate = unroutable / total
		snap.AvgAssignPerLead = assigned / total
	}
	if hits+misses > 0 {
		snap.GeocodeHitRate = hits / (hits + misses)
	}
	return snap
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	return readCounter(cv.WithLabelValues(label))
}

func readCounter(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
