package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
}

// RoutingMetrics is returned by GET /v1/metrics/routing.
type RoutingMetrics struct {
	LeadsRouted      int64   `json:"leadsRouted"`
	LeadsUnroutable  int64   `json:"leadsUnroutable"`
	Assignments      int64   `json:"assignments"`
	CapRejections    int64   `json:"capRejections"`
	RoutingErrors    int64   `json:"routingErrors"`
	UnroutableRate   float64 `json:"unroutableRate"`
	GeocodeHitRate   float64 `json:"geocodeCacheHitRate"`
	AvgAssignPerLead float64 `json:"avgAssignmentsPerLead"`
	Period           string  `json:"period"`
}

// ============================================================
// Generic API Response wrappers
// ============================================================

// ListResponse wraps paginated list results.
type ListResponse[T any] struct {
	Data     []T  `json:"data"`
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasMore  bool `json:"has_more"`
}

// SuccessResponse wraps a successful single-entity response.
type SuccessResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}
