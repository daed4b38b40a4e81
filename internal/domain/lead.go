// Package domain defines the core entities of the lead router.
// These models are independent of the persistence backend and represent the
// canonical data structures passed between ports, services and handlers.
package domain

import (
	"strings"
	"time"
)

// ============================================================
// Lead
// ============================================================

// LeadStatus is the sales lifecycle status of a lead.
type LeadStatus string

const (
	LeadStatusNew       LeadStatus = "new"
	LeadStatusContacted LeadStatus = "contacted"
	LeadStatusQualified LeadStatus = "qualified"
	LeadStatusWon       LeadStatus = "won"
	LeadStatusLost      LeadStatus = "lost"
)

// leadTransitions lists the lifecycle moves a lead may make. Leads are never
// deleted; "lost" and "won" are terminal.
var leadTransitions = map[LeadStatus][]LeadStatus{
	LeadStatusNew:       {LeadStatusContacted, LeadStatusLost},
	LeadStatusContacted: {LeadStatusQualified, LeadStatusLost},
	LeadStatusQualified: {LeadStatusWon, LeadStatusLost},
}

// Valid reports whether s is a known lifecycle status.
func (s LeadStatus) Valid() bool {
	switch s {
	case LeadStatusNew, LeadStatusContacted, LeadStatusQualified, LeadStatusWon, LeadStatusLost:
		return true
	}
	return false
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s LeadStatus) CanTransitionTo(next LeadStatus) bool {
	for _, allowed := range leadTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// RoutingStatus tracks a lead through the matcher.
//
//	unrouted -> routing -> routed
//	unrouted -> routing -> unroutable
type RoutingStatus string

const (
	RoutingUnrouted   RoutingStatus = "unrouted"
	RoutingInProgress RoutingStatus = "routing"
	RoutingRouted     RoutingStatus = "routed"
	RoutingUnroutable RoutingStatus = "unroutable"
)

// Terminal reports whether the routing status only changes on explicit reprocessing.
func (s RoutingStatus) Terminal() bool {
	return s == RoutingRouted || s == RoutingUnroutable
}

// LeadSource identifies how a lead entered the system.
type LeadSource string

const (
	SourceUpload     LeadSource = "upload"
	SourceWebhook    LeadSource = "webhook"
	SourceAPI        LeadSource = "api"
	SourceEnrichment LeadSource = "enrichment"
)

// Lead is a prospective contact record.
type Lead struct {
	ID            string        `json:"id"`
	FirstName     string        `json:"first_name,omitempty"`
	LastName      string        `json:"last_name,omitempty"`
	Email         string        `json:"email,omitempty"`
	Phone         string        `json:"phone,omitempty"`
	Company       string        `json:"company,omitempty"`
	IndustryCodes []string      `json:"industry_codes,omitempty"`
	CompanySize   int           `json:"company_size,omitempty"`
	City          string        `json:"city,omitempty"`
	State         string        `json:"state,omitempty"`
	Zip           string        `json:"zip,omitempty"`
	Lat           *float64      `json:"lat,omitempty"`
	Lng           *float64      `json:"lng,omitempty"`
	EmailVerified bool          `json:"email_verified"`
	PhoneVerified bool          `json:"phone_verified"`
	QualityScore  int           `json:"quality_score"`
	FanOut        int           `json:"fan_out,omitempty"` // requested at ingest; zero uses the service default
	Source        LeadSource    `json:"source"`
	Status        LeadStatus    `json:"status"`
	RoutingStatus RoutingStatus `json:"routing_status"`
	RoutingAt     *time.Time    `json:"routing_started_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// HasCoordinates reports whether geocoding has resolved the lead's position.
func (l *Lead) HasCoordinates() bool {
	return l.Lat != nil && l.Lng != nil
}

// HasIndustry reports whether the lead carries at least one industry code.
func (l *Lead) HasIndustry() bool {
	for _, c := range l.IndustryCodes {
		if c != "" {
			return true
		}
	}
	return false
}

// HasLocation reports whether the lead carries any geographic attribute.
func (l *Lead) HasLocation() bool {
	return l.State != "" || l.City != "" || l.Zip != "" || l.HasCoordinates()
}

// Routable reports whether the matcher can evaluate the lead at all.
func (l *Lead) Routable() bool {
	return l.HasIndustry() || l.HasLocation()
}

// FullAddress joins the geographic fields for geocoding.
func (l *Lead) FullAddress() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{l.City, l.State, l.Zip} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// LeadInput is the raw lead shape accepted by the API, webhooks and imports,
// before normalization.
type LeadInput struct {
	FirstName     string   `json:"first_name" validate:"max=100"`
	LastName      string   `json:"last_name" validate:"max=100"`
	Email         string   `json:"email" validate:"omitempty,max=254"`
	Phone         string   `json:"phone" validate:"max=32"`
	Company       string   `json:"company" validate:"max=200"`
	IndustryCode  string   `json:"industry_code" validate:"max=64"`
	IndustryCodes []string `json:"industry_codes" validate:"max=10,dive,max=16"`
	CompanySize   string   `json:"company_size" validate:"max=32"`
	City          string   `json:"city" validate:"max=100"`
	State         string   `json:"state" validate:"max=64"`
	Zip           string   `json:"zip" validate:"max=16"`
	Lat           *float64 `json:"lat" validate:"omitempty,latitude"`
	Lng           *float64 `json:"lng" validate:"omitempty,longitude"`
	EmailVerified bool     `json:"email_verified"`
	PhoneVerified bool     `json:"phone_verified"`
	Source        string   `json:"source" validate:"omitempty,oneof=upload webhook api enrichment"`
}

// LeadFilter narrows ListLeads.
type LeadFilter struct {
	Status        LeadStatus
	RoutingStatus RoutingStatus
	Source        LeadSource
	Page          int
	PageSize      int
}

// IngestMode selects whether a newly ingested lead is routed inline or queued.
type IngestMode string

const (
	IngestSync  IngestMode = "sync"
	IngestAsync IngestMode = "async"
)

// IngestResult is returned by the lead service after ingestion.
type IngestResult struct {
	Lead      *Lead        `json:"lead"`
	Duplicate bool         `json:"duplicate"`
	Queued    bool         `json:"queued"`
	Routing   *RouteResult `json:"routing,omitempty"`
}
