package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/boddenberg/lead-router-go/internal/domain"
)

// claimArgs are the named arguments of claim_profile_slot.
type claimArgs struct {
	LeadID      string                 `json:"p_lead_id"`
	ProfileID   string                 `json:"p_profile_id"`
	WorkspaceID string                 `json:"p_workspace_id"`
	Day         string                 `json:"p_day"`
	Month       string                 `json:"p_month"`
	Criteria    domain.MatchedCriteria `json:"p_criteria"`
	MatchedAt   time.Time              `json:"p_matched_at"`
	MaxPerLead  *int                   `json:"p_max_per_lead,omitempty"`
}

type claimRow struct {
	Outcome       domain.ClaimOutcome `json:"outcome"`
	AssignmentID  *string             `json:"assignment_id"`
	MatchedAt     *time.Time          `json:"matched_at"`
	UsedToday     int                 `json:"used_today"`
	UsedThisMonth int                 `json:"used_this_month"`
}

// ClaimAssignment calls claim_profile_slot, which inserts the assignment and
// bumps both counters in one transaction guarded by the profile row lock.
// A retried call after a lost response comes back as a duplicate.
func (c *Client) ClaimAssignment(ctx context.Context, req domain.ClaimRequest) (*domain.ClaimResult, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ClaimAssignment")
	defer span.End()

	matchedAt := req.MatchedAt
	if matchedAt.IsZero() {
		matchedAt = time.Now().UTC()
	}
	var maxPerLead *int
	if req.MaxPerLead > 0 {
		maxPerLead = &req.MaxPerLead
	}
	body, err := c.doRPC(ctx, "claim_profile_slot", claimArgs{
		LeadID:      req.LeadID,
		ProfileID:   req.ProfileID,
		WorkspaceID: req.WorkspaceID,
		Day:         req.Period.Day,
		Month:       req.Period.Month,
		Criteria:    req.Criteria,
		MatchedAt:   matchedAt,
		MaxPerLead:  maxPerLead,
	})
	if err != nil {
		return nil, err
	}

	var rows []claimRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &domain.ErrPersistence{Op: "claim assignment", Err: fmt.Errorf("decode claim: %w", err)}
	}
	if len(rows) == 0 {
		return nil, &domain.ErrPersistence{Op: "claim assignment", Err: fmt.Errorf("claim_profile_slot returned no row")}
	}
	return rows[0].toResult(req), nil
}

func (r *claimRow) toResult(req domain.ClaimRequest) *domain.ClaimResult {
	res := &domain.ClaimResult{Outcome: r.Outcome, UsedToday: r.UsedToday, UsedThisMonth: r.UsedThisMonth}
	if r.AssignmentID != nil && (r.Outcome == domain.ClaimAssigned || r.Outcome == domain.ClaimDuplicate) {
		a := domain.Assignment{
			ID:              *r.AssignmentID,
			LeadID:          req.LeadID,
			ProfileID:       req.ProfileID,
			WorkspaceID:     req.WorkspaceID,
			MatchedCriteria: req.Criteria,
		}
		if r.MatchedAt != nil {
			a.MatchedAt = *r.MatchedAt
		}
		res.Assignment = &a
	}
	return res
}

func (c *Client) ListAssignmentsByLead(ctx context.Context, leadID string) ([]domain.Assignment, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListAssignmentsByLead")
	defer span.End()

	body, err := c.doRequest(ctx, "list assignments by lead", "assignments?"+eq("lead_id", leadID)+"&order=matched_at.asc,id.asc")
	if err != nil {
		return nil, err
	}
	return decodeAssignments(body, "list assignments by lead")
}

func (c *Client) ListAssignmentsByProfile(ctx context.Context, profileID string, pageNum, pageSize int) ([]domain.Assignment, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListAssignmentsByProfile")
	defer span.End()

	path := page("assignments?"+eq("profile_id", profileID)+"&order=matched_at.desc,id.asc", pageNum, pageSize)
	body, err := c.doRequest(ctx, "list assignments by profile", path)
	if err != nil {
		return nil, err
	}
	return decodeAssignments(body, "list assignments by profile")
}

func decodeAssignments(body []byte, op string) ([]domain.Assignment, error) {
	var rows []domain.Assignment
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &domain.ErrPersistence{Op: op, Err: fmt.Errorf("decode assignments: %w", err)}
	}
	return rows, nil
}
