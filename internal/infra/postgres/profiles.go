package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/boddenberg/lead-router-go/internal/domain"
)

const profileColumns = `id, workspace_id, name, active, priority, industries, states, cities, zips,
	radius_center_lat, radius_center_lng, radius_miles, requires_verified_email, requires_phone,
	requires_company, min_company_size, min_quality_score, daily_limit, monthly_limit,
	used_today, coalesce(to_char(usage_day, 'YYYY-MM-DD'), ''), used_this_month,
	coalesce(to_char(usage_month, 'YYYY-MM-DD'), ''), created_at, updated_at`

func scanProfile(row rowScanner) (*domain.ClientProfile, error) {
	var (
		p                   domain.ClientProfile
		lat, lng, miles     sql.NullFloat64
		dailyLim, monthlyLi sql.NullInt64
	)
	err := row.Scan(&p.ID, &p.WorkspaceID, &p.Name, &p.Active, &p.Priority,
		pq.Array(&p.Industries), pq.Array(&p.States), pq.Array(&p.Cities), pq.Array(&p.Zips),
		&lat, &lng, &miles,
		&p.Quality.RequiresVerifiedEmail, &p.Quality.RequiresPhone, &p.Quality.RequiresCompany,
		&p.Quality.MinCompanySize, &p.Quality.MinQualityScore,
		&dailyLim, &monthlyLi,
		&p.UsedToday, &p.UsageDay, &p.UsedThisMonth, &p.UsageMonth,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if miles.Valid || lat.Valid {
		p.Radius = &domain.Radius{CenterLat: lat.Float64, CenterLng: lng.Float64, Miles: miles.Float64}
	}
	p.DailyLimit, p.MonthlyLimit = intPtr(dailyLim), intPtr(monthlyLi)
	return &p, nil
}

// profileArgs returns the targeting columns in insert/update order.
func profileArgs(p *domain.ClientProfile) []any {
	var lat, lng, miles *float64
	if p.Radius != nil {
		lat, lng, miles = &p.Radius.CenterLat, &p.Radius.CenterLng, &p.Radius.Miles
	}
	arr := func(s []string) any {
		if s == nil {
			s = []string{}
		}
		return pq.Array(s)
	}
	return []any{
		p.Name, p.Active, p.Priority,
		arr(p.Industries), arr(p.States), arr(p.Cities), arr(p.Zips),
		nullFloat(lat), nullFloat(lng), nullFloat(miles),
		p.Quality.RequiresVerifiedEmail, p.Quality.RequiresPhone, p.Quality.RequiresCompany,
		p.Quality.MinCompanySize, p.Quality.MinQualityScore,
		nullInt(p.DailyLimit), nullInt(p.MonthlyLimit),
	}
}

func (s *Store) queryProfile(ctx context.Context, op, key, query string, args ...any) (*domain.ClientProfile, error) {
	p, err := scanProfile(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "profile", ID: key}
	}
	if err != nil {
		return nil, s.wrap(op, err)
	}
	return p, nil
}

func (s *Store) queryProfiles(ctx context.Context, op, query string, args ...any) ([]domain.ClientProfile, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.wrap(op, err)
	}
	defer rows.Close()

	var out []domain.ClientProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, s.wrap(op, err)
		}
		out = append(out, *p)
	}
	return out, s.wrap(op, rows.Err())
}

func (s *Store) CreateProfile(ctx context.Context, p *domain.ClientProfile) (*domain.ClientProfile, error) {
	ctx, span := tracer.Start(ctx, "Postgres.CreateProfile")
	defer span.End()

	args := append([]any{p.ID, p.WorkspaceID}, profileArgs(p)...)
	return s.queryProfile(ctx, "create profile", p.Name, `
		INSERT INTO client_profiles (id, workspace_id, name, active, priority, industries, states,
			cities, zips, radius_center_lat, radius_center_lng, radius_miles,
			requires_verified_email, requires_phone, requires_company, min_company_size,
			min_quality_score, daily_limit, monthly_limit)
		VALUES (coalesce(nullif($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING `+profileColumns, args...)
}

// UpdateProfile rewrites targeting columns. Counters and workspace_id are
// never touched here.
func (s *Store) UpdateProfile(ctx context.Context, p *domain.ClientProfile) (*domain.ClientProfile, error) {
	ctx, span := tracer.Start(ctx, "Postgres.UpdateProfile")
	defer span.End()

	if !validID(p.ID) {
		return nil, &domain.ErrNotFound{Resource: "profile", ID: p.ID}
	}
	args := append([]any{p.ID}, profileArgs(p)...)
	return s.queryProfile(ctx, "update profile", p.ID, `
		UPDATE client_profiles
		   SET name = $2, active = $3, priority = $4, industries = $5, states = $6, cities = $7,
		       zips = $8, radius_center_lat = $9, radius_center_lng = $10, radius_miles = $11,
		       requires_verified_email = $12, requires_phone = $13, requires_company = $14,
		       min_company_size = $15, min_quality_score = $16, daily_limit = $17,
		       monthly_limit = $18, updated_at = now()
		 WHERE id = $1
		RETURNING `+profileColumns, args...)
}

func (s *Store) GetProfile(ctx context.Context, profileID string) (*domain.ClientProfile, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetProfile")
	defer span.End()

	if !validID(profileID) {
		return nil, &domain.ErrNotFound{Resource: "profile", ID: profileID}
	}
	return s.queryProfile(ctx, "get profile", profileID,
		`SELECT `+profileColumns+` FROM client_profiles WHERE id = $1`, profileID)
}

func (s *Store) ListProfiles(ctx context.Context, workspaceID string) ([]domain.ClientProfile, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListProfiles")
	defer span.End()

	return s.queryProfiles(ctx, "list profiles",
		`SELECT `+profileColumns+` FROM client_profiles WHERE workspace_id = $1 ORDER BY created_at, id`, workspaceID)
}

func (s *Store) ListActiveProfiles(ctx context.Context) ([]domain.ClientProfile, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListActiveProfiles")
	defer span.End()

	return s.queryProfiles(ctx, "list active profiles",
		`SELECT `+profileColumns+` FROM client_profiles WHERE active ORDER BY priority DESC, created_at, id`)
}

func (s *Store) SetProfileActive(ctx context.Context, profileID string, active bool) error {
	ctx, span := tracer.Start(ctx, "Postgres.SetProfileActive")
	defer span.End()

	if !validID(profileID) {
		return &domain.ErrNotFound{Resource: "profile", ID: profileID}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE client_profiles SET active = $2, updated_at = now() WHERE id = $1`, profileID, active)
	if err != nil {
		return s.wrap("set profile active", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.ErrNotFound{Resource: "profile", ID: profileID}
	}
	return nil
}
