package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/boddenberg/lead-router-go/internal/domain"
)

const leadColumns = `id, first_name, last_name, coalesce(email, ''), phone, company, industry_codes,
	company_size, city, state, zip, lat, lng, email_verified, phone_verified, quality_score,
	source, status, routing_status, routing_started_at, fan_out, created_at, updated_at`

func scanLead(row rowScanner) (*domain.Lead, error) {
	var (
		l         domain.Lead
		lat, lng  sql.NullFloat64
		routingAt sql.NullTime
		fanOut    sql.NullInt64
	)
	err := row.Scan(&l.ID, &l.FirstName, &l.LastName, &l.Email, &l.Phone, &l.Company,
		pq.Array(&l.IndustryCodes), &l.CompanySize, &l.City, &l.State, &l.Zip, &lat, &lng,
		&l.EmailVerified, &l.PhoneVerified, &l.QualityScore, &l.Source, &l.Status,
		&l.RoutingStatus, &routingAt, &fanOut, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.Lat, l.Lng = floatPtr(lat), floatPtr(lng)
	l.FanOut = int(fanOut.Int64)
	if routingAt.Valid {
		t := routingAt.Time
		l.RoutingAt = &t
	}
	return &l, nil
}

func (s *Store) queryLeads(ctx context.Context, op, query string, args ...any) ([]domain.Lead, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.wrap(op, err)
	}
	defer rows.Close()

	var out []domain.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, s.wrap(op, err)
		}
		out = append(out, *l)
	}
	return out, s.wrap(op, rows.Err())
}

func (s *Store) queryLead(ctx context.Context, op, key, query string, args ...any) (*domain.Lead, error) {
	l, err := scanLead(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "lead", ID: key}
	}
	if err != nil {
		return nil, s.wrap(op, err)
	}
	return l, nil
}

func (s *Store) CreateLead(ctx context.Context, lead *domain.Lead) (*domain.Lead, error) {
	ctx, span := tracer.Start(ctx, "Postgres.CreateLead")
	defer span.End()

	status, routing := lead.Status, lead.RoutingStatus
	if status == "" {
		status = domain.LeadStatusNew
	}
	if routing == "" {
		routing = domain.RoutingUnrouted
	}
	industry := lead.IndustryCodes
	if industry == nil {
		industry = []string{}
	}
	return s.queryLead(ctx, "create lead", lead.Email, `
		INSERT INTO leads (id, first_name, last_name, email, phone, company, industry_codes,
			company_size, city, state, zip, lat, lng, email_verified, phone_verified,
			quality_score, source, status, routing_status, fan_out)
		VALUES (coalesce(nullif($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING `+leadColumns,
		lead.ID, lead.FirstName, lead.LastName, nullString(lead.Email), lead.Phone, lead.Company,
		pq.Array(industry), lead.CompanySize, lead.City, lead.State, lead.Zip,
		nullFloat(lead.Lat), nullFloat(lead.Lng), lead.EmailVerified, lead.PhoneVerified,
		lead.QualityScore, lead.Source, status, routing,
		sql.NullInt64{Int64: int64(lead.FanOut), Valid: lead.FanOut > 0})
}

func (s *Store) GetLead(ctx context.Context, leadID string) (*domain.Lead, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetLead")
	defer span.End()

	if !validID(leadID) {
		return nil, &domain.ErrNotFound{Resource: "lead", ID: leadID}
	}
	return s.queryLead(ctx, "get lead", leadID,
		`SELECT `+leadColumns+` FROM leads WHERE id = $1`, leadID)
}

func (s *Store) FindLeadByEmail(ctx context.Context, email string) (*domain.Lead, error) {
	ctx, span := tracer.Start(ctx, "Postgres.FindLeadByEmail")
	defer span.End()

	return s.queryLead(ctx, "find lead by email", email,
		`SELECT `+leadColumns+` FROM leads WHERE lower(email) = lower($1) LIMIT 1`, email)
}

func (s *Store) ListLeads(ctx context.Context, f domain.LeadFilter) ([]domain.Lead, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListLeads")
	defer span.End()

	var (
		where []string
		args  []any
	)
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		where = append(where, col+" = $"+strconv.Itoa(len(args)))
	}
	add("status", string(f.Status))
	add("routing_status", string(f.RoutingStatus))
	add("source", string(f.Source))

	query := `SELECT ` + leadColumns + ` FROM leads`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit, skip := offset(f.Page, f.PageSize)
	args = append(args, limit, skip)
	query += ` ORDER BY created_at DESC, id LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	return s.queryLeads(ctx, "list leads", query, args...)
}

func (s *Store) UpdateLeadStatus(ctx context.Context, leadID string, status domain.LeadStatus) error {
	ctx, span := tracer.Start(ctx, "Postgres.UpdateLeadStatus")
	defer span.End()

	return s.execLead(ctx, "update lead status", leadID,
		`UPDATE leads SET status = $2, updated_at = now() WHERE id = $1`, leadID, status)
}

func (s *Store) SetLeadCoordinates(ctx context.Context, leadID string, coords domain.Coordinates) error {
	ctx, span := tracer.Start(ctx, "Postgres.SetLeadCoordinates")
	defer span.End()

	return s.execLead(ctx, "set lead coordinates", leadID,
		`UPDATE leads SET lat = $2, lng = $3, updated_at = now() WHERE id = $1`, leadID, coords.Lat, coords.Lng)
}

func (s *Store) SetRoutingStatus(ctx context.Context, leadID string, status domain.RoutingStatus) error {
	ctx, span := tracer.Start(ctx, "Postgres.SetRoutingStatus")
	defer span.End()

	return s.execLead(ctx, "set routing status", leadID, `
		UPDATE leads
		   SET routing_status = $2,
		       routing_started_at = CASE WHEN $2 = 'routing' THEN now() ELSE routing_started_at END,
		       updated_at = now()
		 WHERE id = $1`, leadID, string(status))
}

func (s *Store) ListStaleLeads(ctx context.Context, status domain.RoutingStatus, olderThan time.Time, limit int) ([]domain.Lead, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListStaleLeads")
	defer span.End()

	return s.queryLeads(ctx, "list stale leads", `
		SELECT `+leadColumns+` FROM leads
		 WHERE routing_status = $1
		   AND (CASE WHEN $1 = 'routing' THEN coalesce(routing_started_at, updated_at) ELSE updated_at END) < $2
		 ORDER BY created_at
		 LIMIT $3`, string(status), olderThan, limit)
}

func (s *Store) execLead(ctx context.Context, op, leadID, query string, args ...any) error {
	if !validID(leadID) {
		return &domain.ErrNotFound{Resource: "lead", ID: leadID}
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return s.wrap(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.wrap(op, err)
	}
	if n == 0 {
		return &domain.ErrNotFound{Resource: "lead", ID: leadID}
	}
	return nil
}
