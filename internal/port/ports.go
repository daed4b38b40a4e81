// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the matcher and the
// other services from the concrete persistence, queue and geocoding adapters.
package port

import (
	"context"
	"io"
	"time"

	"github.com/boddenberg/lead-router-go/internal/domain"
)

// LeadStore persists leads. Leads are never deleted.
type LeadStore interface {
	CreateLead(ctx context.Context, lead *domain.Lead) (*domain.Lead, error)
	GetLead(ctx context.Context, leadID string) (*domain.Lead, error)
	FindLeadByEmail(ctx context.Context, email string) (*domain.Lead, error)
	ListLeads(ctx context.Context, filter domain.LeadFilter) ([]domain.Lead, error)
	UpdateLeadStatus(ctx context.Context, leadID string, status domain.LeadStatus) error
	SetLeadCoordinates(ctx context.Context, leadID string, coords domain.Coordinates) error

	// SetRoutingStatus moves the lead's routing state. Entering "routing"
	// stamps routing_started_at.
	SetRoutingStatus(ctx context.Context, leadID string, status domain.RoutingStatus) error

	// ListStaleLeads returns leads in the given routing status whose last
	// routing change is older than the cutoff.
	ListStaleLeads(ctx context.Context, status domain.RoutingStatus, olderThan time.Time, limit int) ([]domain.Lead, error)
}

// ProfileStore persists client profiles. The matcher only reads them.
type ProfileStore interface {
	CreateProfile(ctx context.Context, profile *domain.ClientProfile) (*domain.ClientProfile, error)
	UpdateProfile(ctx context.Context, profile *domain.ClientProfile) (*domain.ClientProfile, error)
	GetProfile(ctx context.Context, profileID string) (*domain.ClientProfile, error)
	ListProfiles(ctx context.Context, workspaceID string) ([]domain.ClientProfile, error)
	ListActiveProfiles(ctx context.Context) ([]domain.ClientProfile, error)
	SetProfileActive(ctx context.Context, profileID string, active bool) error
}

// AssignmentStore persists assignments and owns the cap counters.
type AssignmentStore interface {
	// ClaimAssignment inserts the (lead, profile) assignment and increments the
	// profile's daily and monthly counters as one conditional operation. It
	// returns ClaimCapReached without writing anything when either cap would be
	// exceeded, and ClaimDuplicate without touching counters when the pair
	// already exists.
	ClaimAssignment(ctx context.Context, req domain.ClaimRequest) (*domain.ClaimResult, error)

	ListAssignmentsByLead(ctx context.Context, leadID string) ([]domain.Assignment, error)
	ListAssignmentsByProfile(ctx context.Context, profileID string, page, pageSize int) ([]domain.Assignment, error)
}

// Store groups every persistence port. Each backend implements all of them.
type Store interface {
	LeadStore
	ProfileStore
	AssignmentStore
	Ping(ctx context.Context) error
}

// Geocoder converts free-text addresses to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*domain.Coordinates, error)
}

// GeoCache caches geocoding results keyed by normalized address.
type GeoCache interface {
	GetCoordinates(ctx context.Context, key string) (*domain.Coordinates, bool)
	SetCoordinates(ctx context.Context, key string, coords domain.Coordinates) error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// RouteRequest asks a worker to route one lead.
type RouteRequest struct {
	LeadID string `json:"lead_id"`
	FanOut int    `json:"fan_out,omitempty"`
}

// RouteQueue hands leads to the asynchronous routing worker.
type RouteQueue interface {
	PublishRouteRequest(ctx context.Context, req RouteRequest) error
}

// EventPublisher notifies downstream collaborators (CRM sync, delivery
// emails) about new assignments.
type EventPublisher interface {
	PublishAssignment(ctx context.Context, a domain.Assignment) error
}

// ObjectStore fetches uploaded import files.
type ObjectStore interface {
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)
}

// ErrorReporter forwards unexpected failures to an error tracker.
type ErrorReporter interface {
	Report(ctx context.Context, err error, tags map[string]string)
}
