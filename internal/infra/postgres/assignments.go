package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/boddenberg/lead-router-go/internal/domain"
)

// ClaimAssignment runs claim_profile_slot. See schema.sql for the locking.
func (s *Store) ClaimAssignment(ctx context.Context, req domain.ClaimRequest) (*domain.ClaimResult, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ClaimAssignment")
	defer span.End()

	if !validID(req.ProfileID) {
		return nil, &domain.ErrNotFound{Resource: "profile", ID: req.ProfileID}
	}
	if !validID(req.LeadID) {
		return nil, &domain.ErrNotFound{Resource: "lead", ID: req.LeadID}
	}
	criteria, err := json.Marshal(req.Criteria)
	if err != nil {
		return nil, fmt.Errorf("encode matched criteria: %w", err)
	}
	matchedAt := req.MatchedAt
	if matchedAt.IsZero() {
		matchedAt = time.Now().UTC()
	}

	var (
		res       domain.ClaimResult
		id        sql.NullString
		claimedAt sql.NullTime
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT outcome, assignment_id, matched_at, used_today, used_this_month
		  FROM claim_profile_slot($1, $2, $3, $4::date, $5::date, $6::jsonb, $7, $8)`,
		req.LeadID, req.ProfileID, req.WorkspaceID, req.Period.Day, req.Period.Month, string(criteria), matchedAt,
		sql.NullInt64{Int64: int64(req.MaxPerLead), Valid: req.MaxPerLead > 0},
	).Scan(&res.Outcome, &id, &claimedAt, &res.UsedToday, &res.UsedThisMonth)
	if err != nil {
		return nil, s.wrap("claim assignment", err)
	}

	if id.Valid {
		res.Assignment = &domain.Assignment{
			ID:              id.String,
			LeadID:          req.LeadID,
			ProfileID:       req.ProfileID,
			WorkspaceID:     req.WorkspaceID,
			MatchedAt:       claimedAt.Time,
			MatchedCriteria: req.Criteria,
		}
	}
	return &res, nil
}

func (s *Store) ListAssignmentsByLead(ctx context.Context, leadID string) ([]domain.Assignment, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListAssignmentsByLead")
	defer span.End()

	if !validID(leadID) {
		return nil, nil
	}
	return s.queryAssignments(ctx, "list assignments by lead", `
		SELECT id, lead_id, profile_id, workspace_id, matched_at, matched_criteria
		  FROM assignments WHERE lead_id = $1 ORDER BY matched_at, id`, leadID)
}

func (s *Store) ListAssignmentsByProfile(ctx context.Context, profileID string, page, pageSize int) ([]domain.Assignment, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListAssignmentsByProfile")
	defer span.End()

	if !validID(profileID) {
		return nil, nil
	}
	limit, skip := offset(page, pageSize)
	return s.queryAssignments(ctx, "list assignments by profile", `
		SELECT id, lead_id, profile_id, workspace_id, matched_at, matched_criteria
		  FROM assignments WHERE profile_id = $1
		 ORDER BY matched_at DESC, id
		 LIMIT $2 OFFSET $3`, profileID, limit, skip)
}

func (s *Store) queryAssignments(ctx context.Context, op, query string, args ...any) ([]domain.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.wrap(op, err)
	}
	defer rows.Close()

	var out []domain.Assignment
	for rows.Next() {
		var (
			a        domain.Assignment
			criteria []byte
		)
		if err := rows.Scan(&a.ID, &a.LeadID, &a.ProfileID, &a.WorkspaceID, &a.MatchedAt, &criteria); err != nil {
			return nil, s.wrap(op, err)
		}
		if err := json.Unmarshal(criteria, &a.MatchedCriteria); err != nil {
			return nil, s.wrap(op, fmt.Errorf("decode matched criteria: %w", err))
		}
		out = append(out, a)
	}
	return out, s.wrap(op, rows.Err())
}
