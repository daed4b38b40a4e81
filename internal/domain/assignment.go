package domain

import "time"

// ============================================================
// Assignments & routing results
// ============================================================

// CapPeriod names the counter a cap applies to.
type CapPeriod string

const (
	CapDaily   CapPeriod = "daily"
	CapMonthly CapPeriod = "monthly"
)

// Period identifies the current cap window.
type Period struct {
	Day   string // YYYY-MM-DD
	Month string // YYYY-MM-01
}

// PeriodAt returns the cap window containing t, evaluated in t's location.
func PeriodAt(t time.Time) Period {
	return Period{
		Day:   t.Format("2006-01-02"),
		Month: time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).Format("2006-01-02"),
	}
}

// MatchedCriteria records which rules made a profile eligible for a lead.
type MatchedCriteria struct {
	Industry     string   `json:"industry,omitempty"`
	State        string   `json:"state,omitempty"`
	City         string   `json:"city,omitempty"`
	Zip          string   `json:"zip,omitempty"`
	RadiusMiles  *float64 `json:"radius_miles,omitempty"`
	DistanceMi   *float64 `json:"distance_miles,omitempty"`
	QualityRules []string `json:"quality_rules,omitempty"`
	Priority     int      `json:"priority"`
}

// Assignment is the append-only link between a lead and a client profile.
type Assignment struct {
	ID              string          `json:"id"`
	LeadID          string          `json:"lead_id"`
	ProfileID       string          `json:"profile_id"`
	WorkspaceID     string          `json:"workspace_id"`
	MatchedAt       time.Time       `json:"matched_at"`
	MatchedCriteria MatchedCriteria `json:"matched_criteria"`
}

// ClaimOutcome is the result of the atomic cap-check-and-assign operation.
type ClaimOutcome string

const (
	ClaimAssigned   ClaimOutcome = "assigned"
	ClaimDuplicate  ClaimOutcome = "duplicate"
	ClaimCapReached ClaimOutcome = "cap_reached"
	ClaimInactive   ClaimOutcome = "inactive"
	// ClaimFanOutReached means the lead already holds MaxPerLead assignments,
	// possibly written by a concurrent routing run.
	ClaimFanOutReached ClaimOutcome = "fanout_reached"
)

// ClaimRequest carries everything the store needs to write one assignment.
type ClaimRequest struct {
	LeadID      string
	ProfileID   string
	WorkspaceID string
	Period      Period
	Criteria    MatchedCriteria
	MatchedAt   time.Time
	MaxPerLead  int // fan-out bound checked under the lead lock; zero means unbounded
}

// ClaimResult is returned by the store's ClaimAssignment.
type ClaimResult struct {
	Outcome       ClaimOutcome
	Assignment    *Assignment
	UsedToday     int
	UsedThisMonth int
}

// RouteResult is the matcher's output for one lead.
type RouteResult struct {
	LeadID      string        `json:"lead_id"`
	Status      RoutingStatus `json:"status"`
	Assignments []Assignment  `json:"assignments"`
	Reason      string        `json:"reason,omitempty"`
}

// ProfileIDs lists the profiles the lead was assigned to, in assignment order.
func (r *RouteResult) ProfileIDs() []string {
	ids := make([]string, 0, len(r.Assignments))
	for _, a := range r.Assignments {
		ids = append(ids, a.ProfileID)
	}
	return ids
}

// Unroutable reasons.
const (
	ReasonNoAttributes  = "lead has no industry or location attribute"
	ReasonNoProfiles    = "no active profiles"
	ReasonNoMatch       = "no eligible profile"
	ReasonAlreadyRouted = "already routed"
	ReasonCapsExhausted = "all eligible profiles at cap"
)
