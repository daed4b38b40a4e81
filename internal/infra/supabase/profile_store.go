package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/boddenberg/lead-router-go/internal/domain"
)

// profileRow is the flat client_profiles row.
type profileRow struct {
	ID                    string    `json:"id,omitempty"`
	WorkspaceID           string    `json:"workspace_id"`
	Name                  string    `json:"name"`
	Active                bool      `json:"active"`
	Priority              int       `json:"priority"`
	Industries            []string  `json:"industries"`
	States                []string  `json:"states"`
	Cities                []string  `json:"cities"`
	Zips                  []string  `json:"zips"`
	RadiusCenterLat       *float64  `json:"radius_center_lat"`
	RadiusCenterLng       *float64  `json:"radius_center_lng"`
	RadiusMiles           *float64  `json:"radius_miles"`
	RequiresVerifiedEmail bool      `json:"requires_verified_email"`
	RequiresPhone         bool      `json:"requires_phone"`
	RequiresCompany       bool      `json:"requires_company"`
	MinCompanySize        int       `json:"min_company_size"`
	MinQualityScore       int       `json:"min_quality_score"`
	DailyLimit            *int      `json:"daily_limit"`
	MonthlyLimit          *int      `json:"monthly_limit"`
	UsedToday             int       `json:"used_today,omitempty"`
	UsageDay              *string   `json:"usage_day,omitempty"`
	UsedThisMonth         int       `json:"used_this_month,omitempty"`
	UsageMonth            *string   `json:"usage_month,omitempty"`
	CreatedAt             time.Time `json:"created_at,omitempty"`
	UpdatedAt             time.Time `json:"updated_at,omitempty"`
}

func toProfileRow(p *domain.ClientProfile) map[string]any {
	row := map[string]any{
		"workspace_id":            p.WorkspaceID,
		"name":                    p.Name,
		"active":                  p.Active,
		"priority":                p.Priority,
		"industries":              nonNilStrings(p.Industries),
		"states":                  nonNilStrings(p.States),
		"cities":                  nonNilStrings(p.Cities),
		"zips":                    nonNilStrings(p.Zips),
		"radius_center_lat":       nil,
		"radius_center_lng":       nil,
		"radius_miles":            nil,
		"requires_verified_email": p.Quality.RequiresVerifiedEmail,
		"requires_phone":          p.Quality.RequiresPhone,
		"requires_company":        p.Quality.RequiresCompany,
		"min_company_size":        p.Quality.MinCompanySize,
		"min_quality_score":       p.Quality.MinQualityScore,
		"daily_limit":             p.DailyLimit,
		"monthly_limit":           p.MonthlyLimit,
	}
	if p.Radius != nil {
		row["radius_center_lat"] = p.Radius.CenterLat
		row["radius_center_lng"] = p.Radius.CenterLng
		row["radius_miles"] = p.Radius.Miles
	}
	return row
}

func (r *profileRow) toDomain() domain.ClientProfile {
	p := domain.ClientProfile{
		ID:          r.ID,
		WorkspaceID: r.WorkspaceID,
		Name:        r.Name,
		Active:      r.Active,
		Priority:    r.Priority,
		Industries:  r.Industries,
		States:      r.States,
		Cities:      r.Cities,
		Zips:        r.Zips,
		Quality: domain.QualityRules{
			RequiresVerifiedEmail: r.RequiresVerifiedEmail,
			RequiresPhone:         r.RequiresPhone,
			RequiresCompany:       r.RequiresCompany,
			MinCompanySize:        r.MinCompanySize,
			MinQualityScore:       r.MinQualityScore,
		},
		DailyLimit:    r.DailyLimit,
		MonthlyLimit:  r.MonthlyLimit,
		UsedToday:     r.UsedToday,
		UsedThisMonth: r.UsedThisMonth,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.RadiusMiles != nil || r.RadiusCenterLat != nil {
		p.Radius = &domain.Radius{Miles: deref(r.RadiusMiles), CenterLat: deref(r.RadiusCenterLat), CenterLng: deref(r.RadiusCenterLng)}
	}
	if r.UsageDay != nil {
		p.UsageDay = *r.UsageDay
	}
	if r.UsageMonth != nil {
		p.UsageMonth = *r.UsageMonth
	}
	return p
}

// ============================================================
// ProfileStore
// ============================================================

func (c *Client) CreateProfile(ctx context.Context, p *domain.ClientProfile) (*domain.ClientProfile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateProfile")
	defer span.End()

	row := toProfileRow(p)
	if p.ID != "" {
		row["id"] = p.ID
	}
	body, err := c.doPost(ctx, "create profile", "client_profiles", row)
	if err != nil {
		return nil, err
	}
	return firstProfile(body, "create profile", p.Name)
}

// UpdateProfile writes targeting fields only; usage counters belong to
// claim_profile_slot and workspace_id never changes.
func (c *Client) UpdateProfile(ctx context.Context, p *domain.ClientProfile) (*domain.ClientProfile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateProfile")
	defer span.End()

	row := toProfileRow(p)
	delete(row, "workspace_id")
	body, err := c.doPatch(ctx, "update profile", "client_profiles?"+eq("id", p.ID), row)
	if err != nil {
		return nil, err
	}
	return firstProfile(body, "update profile", p.ID)
}

func (c *Client) GetProfile(ctx context.Context, profileID string) (*domain.ClientProfile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetProfile")
	defer span.End()

	body, err := c.doRequest(ctx, "get profile", "client_profiles?"+eq("id", profileID)+"&limit=1")
	if err != nil {
		return nil, err
	}
	return firstProfile(body, "get profile", profileID)
}

func (c *Client) ListProfiles(ctx context.Context, workspaceID string) ([]domain.ClientProfile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListProfiles")
	defer span.End()

	path := "client_profiles?" + eq("workspace_id", workspaceID) + "&order=created_at.asc,id.asc"
	body, err := c.doRequest(ctx, "list profiles", path)
	if err != nil {
		return nil, err
	}
	return decodeProfiles(body, "list profiles")
}

func (c *Client) ListActiveProfiles(ctx context.Context) ([]domain.ClientProfile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListActiveProfiles")
	defer span.End()

	body, err := c.doRequest(ctx, "list active profiles", "client_profiles?active=eq.true&order=priority.desc,created_at.asc,id.asc")
	if err != nil {
		return nil, err
	}
	return decodeProfiles(body, "list active profiles")
}

func (c *Client) SetProfileActive(ctx context.Context, profileID string, active bool) error {
	ctx, span := tracer.Start(ctx, "Supabase.SetProfileActive")
	defer span.End()

	body, err := c.doPatch(ctx, "set profile active", "client_profiles?"+eq("id", profileID), map[string]any{"active": active})
	if err != nil {
		return err
	}
	_, err = firstProfile(body, "set profile active", profileID)
	return err
}

func firstProfile(body []byte, op, key string) (*domain.ClientProfile, error) {
	rows, err := decodeProfiles(body, op)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "profile", ID: key}
	}
	return &rows[0], nil
}

func decodeProfiles(body []byte, op string) ([]domain.ClientProfile, error) {
	var rows []profileRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &domain.ErrPersistence{Op: op, Err: fmt.Errorf("decode profiles: %w", err)}
	}
	out := make([]domain.ClientProfile, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
