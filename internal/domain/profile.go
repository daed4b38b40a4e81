package domain

import (
	"strings"
	"time"
)

// ============================================================
// Client Profile (targeting preference)
// ============================================================

// Radius describes radius-from-point targeting.
type Radius struct {
	CenterLat float64 `json:"center_lat" validate:"latitude"`
	CenterLng float64 `json:"center_lng" validate:"longitude"`
	Miles     float64 `json:"radius_miles" validate:"gt=0,lte=500"`
}

// QualityRules are the minimum thresholds a lead must meet for a profile.
type QualityRules struct {
	RequiresVerifiedEmail bool `json:"requires_verified_email"`
	RequiresPhone         bool `json:"requires_phone"`
	RequiresCompany       bool `json:"requires_company"`
	MinCompanySize        int  `json:"min_company_size" validate:"gte=0"`
	MinQualityScore       int  `json:"min_quality_score" validate:"gte=0,lte=100"`
}

// ClientProfile is a client workspace's saved lead-matching criteria.
type ClientProfile struct {
	ID          string       `json:"id"`
	WorkspaceID string       `json:"workspace_id"`
	Name        string       `json:"name"`
	Active      bool         `json:"active"`
	Priority    int          `json:"priority"`
	Industries  []string     `json:"industries"`
	States      []string     `json:"states"`
	Cities      []string     `json:"cities"`
	Zips        []string     `json:"zips"`
	Radius      *Radius      `json:"radius,omitempty"`
	Quality     QualityRules `json:"quality"`

	// Caps. Nil means uncapped for that period.
	DailyLimit   *int `json:"daily_limit,omitempty"`
	MonthlyLimit *int `json:"monthly_limit,omitempty"`

	// Usage counters. A counter only counts while its anchor equals the
	// current period; a stale anchor reads as zero.
	UsedToday     int       `json:"used_today"`
	UsageDay      string    `json:"usage_day,omitempty"` // YYYY-MM-DD
	UsedThisMonth int       `json:"used_this_month"`
	UsageMonth    string    `json:"usage_month,omitempty"` // YYYY-MM-01
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HasGeography reports whether any geographic criterion is configured.
func (p *ClientProfile) HasGeography() bool {
	return len(p.States) > 0 || len(p.Cities) > 0 || len(p.Zips) > 0 || p.Radius != nil
}

// UsageFor returns the effective daily and monthly usage for the given period.
func (p *ClientProfile) UsageFor(period Period) (daily, monthly int) {
	if p.UsageDay == period.Day {
		daily = p.UsedToday
	}
	if p.UsageMonth == period.Month {
		monthly = p.UsedThisMonth
	}
	return daily, monthly
}

// AtCap reports which cap, if any, the profile has reached in period.
func (p *ClientProfile) AtCap(period Period) (CapPeriod, bool) {
	daily, monthly := p.UsageFor(period)
	if p.DailyLimit != nil && daily >= *p.DailyLimit {
		return CapDaily, true
	}
	if p.MonthlyLimit != nil && monthly >= *p.MonthlyLimit {
		return CapMonthly, true
	}
	return "", false
}

// ConfigProblem returns a description of contradictory criteria, or "" when
// the profile is usable by the matcher.
func (p *ClientProfile) ConfigProblem() string {
	switch {
	case p.DailyLimit != nil && *p.DailyLimit <= 0:
		return "daily_limit is zero"
	case p.MonthlyLimit != nil && *p.MonthlyLimit <= 0:
		return "monthly_limit is zero"
	case p.Radius != nil && p.Radius.Miles <= 0:
		return "radius targeting without a positive radius"
	case len(p.Industries) == 0 && !p.HasGeography():
		return "no industry or geography criteria"
	}
	return ""
}

// ProfileInput is the create/update payload for a profile.
type ProfileInput struct {
	WorkspaceID  string       `json:"workspace_id" validate:"required,max=64"`
	Name         string       `json:"name" validate:"required,min=2,max=120"`
	Active       *bool        `json:"active"`
	Priority     int          `json:"priority" validate:"gte=0,lte=1000"`
	Industries   []string     `json:"industries" validate:"max=200,dive,required,max=16"`
	States       []string     `json:"states" validate:"max=60,dive,required,len=2"`
	Cities       []string     `json:"cities" validate:"max=500,dive,required,max=100"`
	Zips         []string     `json:"zips" validate:"max=2000,dive,required,len=5,numeric"`
	Radius       *Radius      `json:"radius"`
	Quality      QualityRules `json:"quality"`
	DailyLimit   *int         `json:"daily_limit" validate:"omitempty,gte=1"`
	MonthlyLimit *int         `json:"monthly_limit" validate:"omitempty,gte=1"`
}

// Normalize upper-cases states and trims list entries in place.
func (in *ProfileInput) Normalize() {
	in.Name = strings.TrimSpace(in.Name)
	for i, s := range in.States {
		in.States[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	for i, c := range in.Cities {
		in.Cities[i] = strings.TrimSpace(c)
	}
	for i, code := range in.Industries {
		in.Industries[i] = strings.TrimSpace(code)
	}
	for i, z := range in.Zips {
		in.Zips[i] = strings.TrimSpace(z)
	}
}

// ProfileUsage is returned by GET /v1/profiles/{profileId}/usage.
type ProfileUsage struct {
	ProfileID     string `json:"profile_id"`
	Day           string `json:"day"`
	UsedToday     int    `json:"used_today"`
	DailyLimit    *int   `json:"daily_limit,omitempty"`
	Month         string `json:"month"`
	UsedThisMonth int    `json:"used_this_month"`
	MonthlyLimit  *int   `json:"monthly_limit,omitempty"`
}
