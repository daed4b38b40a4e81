package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/lead-router-go/internal/domain"
)

// ============================================================
// LeadStore
// ============================================================

func (c *Client) CreateLead(ctx context.Context, lead *domain.Lead) (*domain.Lead, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateLead")
	defer span.End()

	status, routing := lead.Status, lead.RoutingStatus
	if status == "" {
		status = domain.LeadStatusNew
	}
	if routing == "" {
		routing = domain.RoutingUnrouted
	}
	row := map[string]any{
		"first_name":     lead.FirstName,
		"last_name":      lead.LastName,
		"phone":          lead.Phone,
		"company":        lead.Company,
		"industry_codes": nonNilStrings(lead.IndustryCodes),
		"company_size":   lead.CompanySize,
		"city":           lead.City,
		"state":          lead.State,
		"zip":            lead.Zip,
		"lat":            lead.Lat,
		"lng":            lead.Lng,
		"email_verified": lead.EmailVerified,
		"phone_verified": lead.PhoneVerified,
		"quality_score":  lead.QualityScore,
		"source":         lead.Source,
		"status":         status,
		"routing_status": routing,
	}
	if lead.ID != "" {
		row["id"] = lead.ID
	}
	// email is nullable so the unique index ignores phone-only leads
	if lead.Email != "" {
		row["email"] = lead.Email
	}
	if lead.FanOut > 0 {
		row["fan_out"] = lead.FanOut
	}

	body, err := c.doPost(ctx, "create lead", "leads", row)
	if err != nil {
		return nil, err
	}
	return firstLead(body, "create lead", lead.Email)
}

func (c *Client) GetLead(ctx context.Context, leadID string) (*domain.Lead, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetLead")
	defer span.End()

	body, err := c.doRequest(ctx, "get lead", "leads?"+eq("id", leadID)+"&limit=1")
	if err != nil {
		return nil, err
	}
	return firstLead(body, "get lead", leadID)
}

func (c *Client) FindLeadByEmail(ctx context.Context, email string) (*domain.Lead, error) {
	ctx, span := tracer.Start(ctx, "Supabase.FindLeadByEmail")
	defer span.End()

	// emails are stored lower-cased by the lead processor
	path := "leads?" + eq("email", strings.ToLower(email)) + "&limit=1"
	body, err := c.doRequest(ctx, "find lead by email", path)
	if err != nil {
		return nil, err
	}
	return firstLead(body, "find lead by email", email)
}

func (c *Client) ListLeads(ctx context.Context, f domain.LeadFilter) ([]domain.Lead, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListLeads")
	defer span.End()

	filters := []string{"select=*"}
	if f.Status != "" {
		filters = append(filters, eq("status", string(f.Status)))
	}
	if f.RoutingStatus != "" {
		filters = append(filters, eq("routing_status", string(f.RoutingStatus)))
	}
	if f.Source != "" {
		filters = append(filters, eq("source", string(f.Source)))
	}
	filters = append(filters, "order=created_at.desc,id.asc")

	path := page("leads?"+strings.Join(filters, "&"), f.Page, f.PageSize)
	body, err := c.doRequest(ctx, "list leads", path)
	if err != nil {
		return nil, err
	}
	return decodeLeads(body, "list leads")
}

func (c *Client) UpdateLeadStatus(ctx context.Context, leadID string, status domain.LeadStatus) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateLeadStatus")
	defer span.End()

	return c.patchLead(ctx, "update lead status", leadID, map[string]any{"status": status})
}

func (c *Client) SetLeadCoordinates(ctx context.Context, leadID string, coords domain.Coordinates) error {
	ctx, span := tracer.Start(ctx, "Supabase.SetLeadCoordinates")
	defer span.End()

	return c.patchLead(ctx, "set lead coordinates", leadID, map[string]any{"lat": coords.Lat, "lng": coords.Lng})
}

func (c *Client) SetRoutingStatus(ctx context.Context, leadID string, status domain.RoutingStatus) error {
	ctx, span := tracer.Start(ctx, "Supabase.SetRoutingStatus")
	defer span.End()

	data := map[string]any{"routing_status": status}
	if status == domain.RoutingInProgress {
		data["routing_started_at"] = time.Now().UTC()
	}
	return c.patchLead(ctx, "set routing status", leadID, data)
}

func (c *Client) ListStaleLeads(ctx context.Context, status domain.RoutingStatus, olderThan time.Time, limit int) ([]domain.Lead, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListStaleLeads")
	defer span.End()

	column := "updated_at"
	if status == domain.RoutingInProgress {
		column = "routing_started_at"
	}
	path := fmt.Sprintf("leads?%s&%s=lt.%s&order=created_at.asc&limit=%d",
		eq("routing_status", string(status)), column, olderThan.UTC().Format(time.RFC3339), limit)

	body, err := c.doRequest(ctx, "list stale leads", path)
	if err != nil {
		return nil, err
	}
	return decodeLeads(body, "list stale leads")
}

func (c *Client) patchLead(ctx context.Context, op, leadID string, data map[string]any) error {
	body, err := c.doPatch(ctx, op, "leads?"+eq("id", leadID), data)
	if err != nil {
		return err
	}
	_, err = firstLead(body, op, leadID)
	return err
}

func firstLead(body []byte, op, key string) (*domain.Lead, error) {
	rows, err := decodeLeads(body, op)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "lead", ID: key}
	}
	return &rows[0], nil
}

func decodeLeads(body []byte, op string) ([]domain.Lead, error) {
	var rows []domain.Lead
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &domain.ErrPersistence{Op: op, Err: fmt.Errorf("decode leads: %w", err)}
	}
	return rows, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
