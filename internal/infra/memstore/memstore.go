// Package memstore is an in-process implementation of port.Store used for
// local runs and tests. A single mutex makes ClaimAssignment atomic.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/boddenberg/lead-router-go/internal/domain"
)

// Store holds leads, profiles and assignments in maps.
type Store struct {
	mu          sync.Mutex
	leads       map[string]*domain.Lead
	profiles    map[string]*domain.ClientProfile
	assignments []domain.Assignment
	pairs       map[string]struct{}
	now         func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		leads:    make(map[string]*domain.Lead),
		profiles: make(map[string]*domain.ClientProfile),
		pairs:    make(map[string]struct{}),
		now:      time.Now,
	}
}

func (s *Store) Ping(context.Context) error { return nil }

// ============================================================
// Leads
// ============================================================

func (s *Store) CreateLead(_ context.Context, lead *domain.Lead) (*domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lead.Email != "" {
		for _, l := range s.leads {
			if strings.EqualFold(l.Email, lead.Email) {
				return nil, &domain.ErrConflict{Message: "lead with email already exists"}
			}
		}
	}

	out := *lead
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	now := s.now().UTC()
	out.CreatedAt, out.UpdatedAt = now, now
	if out.Status == "" {
		out.Status = domain.LeadStatusNew
	}
	if out.RoutingStatus == "" {
		out.RoutingStatus = domain.RoutingUnrouted
	}
	s.leads[out.ID] = &out
	return copyLead(&out), nil
}

func (s *Store) GetLead(_ context.Context, leadID string) (*domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leads[leadID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "lead", ID: leadID}
	}
	return copyLead(l), nil
}

func (s *Store) FindLeadByEmail(_ context.Context, email string) (*domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range s.leads {
		if email != "" && strings.EqualFold(l.Email, email) {
			return copyLead(l), nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "lead", ID: email}
}

func (s *Store) ListLeads(_ context.Context, f domain.LeadFilter) ([]domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Lead
	for _, l := range s.leads {
		if f.Status != "" && l.Status != f.Status {
			continue
		}
		if f.RoutingStatus != "" && l.RoutingStatus != f.RoutingStatus {
			continue
		}
		if f.Source != "" && l.Source != f.Source {
			continue
		}
		out = append(out, *copyLead(l))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return paginate(out, f.Page, f.PageSize), nil
}

func (s *Store) UpdateLeadStatus(_ context.Context, leadID string, status domain.LeadStatus) error {
	return s.updateLead(leadID, func(l *domain.Lead) { l.Status = status })
}

func (s *Store) SetLeadCoordinates(_ context.Context, leadID string, coords domain.Coordinates) error {
	return s.updateLead(leadID, func(l *domain.Lead) {
		lat, lng := coords.Lat, coords.Lng
		l.Lat, l.Lng = &lat, &lng
	})
}

func (s *Store) SetRoutingStatus(_ context.Context, leadID string, status domain.RoutingStatus) error {
	return s.updateLead(leadID, func(l *domain.Lead) {
		l.RoutingStatus = status
		if status == domain.RoutingInProgress {
			at := s.now().UTC()
			l.RoutingAt = &at
		}
	})
}

func (s *Store) ListStaleLeads(_ context.Context, status domain.RoutingStatus, olderThan time.Time, limit int) ([]domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Lead
	for _, l := range s.leads {
		if l.RoutingStatus != status {
			continue
		}
		changed := l.UpdatedAt
		if status == domain.RoutingInProgress && l.RoutingAt != nil {
			changed = *l.RoutingAt
		}
		if changed.Before(olderThan) {
			out = append(out, *copyLead(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) updateLead(leadID string, fn func(*domain.Lead)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leads[leadID]
	if !ok {
		return &domain.ErrNotFound{Resource: "lead", ID: leadID}
	}
	fn(l)
	l.UpdatedAt = s.now().UTC()
	return nil
}

// ============================================================
// Profiles
// ============================================================

func (s *Store) CreateProfile(_ context.Context, p *domain.ClientProfile) (*domain.ClientProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := copyProfile(p)
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.UpdatedAt = now
	s.profiles[out.ID] = out
	return copyProfile(out), nil
}

// UpdateProfile replaces targeting fields. Usage counters are owned by
// ClaimAssignment and are left untouched.
func (s *Store) UpdateProfile(_ context.Context, p *domain.ClientProfile) (*domain.ClientProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.profiles[p.ID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "profile", ID: p.ID}
	}
	next := copyProfile(p)
	next.WorkspaceID = cur.WorkspaceID
	next.CreatedAt = cur.CreatedAt
	next.UsedToday, next.UsageDay = cur.UsedToday, cur.UsageDay
	next.UsedThisMonth, next.UsageMonth = cur.UsedThisMonth, cur.UsageMonth
	next.UpdatedAt = s.now().UTC()
	s.profiles[p.ID] = next
	return copyProfile(next), nil
}

func (s *Store) GetProfile(_ context.Context, profileID string) (*domain.ClientProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[profileID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "profile", ID: profileID}
	}
	return copyProfile(p), nil
}

func (s *Store) ListProfiles(_ context.Context, workspaceID string) ([]domain.ClientProfile, error) {
	return s.listProfiles(func(p *domain.ClientProfile) bool { return p.WorkspaceID == workspaceID }), nil
}

func (s *Store) ListActiveProfiles(context.Context) ([]domain.ClientProfile, error) {
	return s.listProfiles(func(p *domain.ClientProfile) bool { return p.Active }), nil
}

func (s *Store) SetProfileActive(_ context.Context, profileID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[profileID]
	if !ok {
		return &domain.ErrNotFound{Resource: "profile", ID: profileID}
	}
	p.Active = active
	p.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) listProfiles(keep func(*domain.ClientProfile) bool) []domain.ClientProfile {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ClientProfile
	for _, p := range s.profiles {
		if keep(p) {
			out = append(out, *copyProfile(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ============================================================
// Assignments
// ============================================================

// ClaimAssignment mirrors claim_profile_slot: duplicate check, fan-out check,
// cap check, insert and counter increment happen under one lock.
func (s *Store) ClaimAssignment(_ context.Context, req domain.ClaimRequest) (*domain.ClaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[req.ProfileID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "profile", ID: req.ProfileID}
	}

	key := pairKey(req.LeadID, req.ProfileID)
	if _, dup := s.pairs[key]; dup {
		daily, monthly := p.UsageFor(req.Period)
		return &domain.ClaimResult{Outcome: domain.ClaimDuplicate, UsedToday: daily, UsedThisMonth: monthly}, nil
	}
	if _, ok := s.leads[req.LeadID]; !ok {
		return nil, &domain.ErrNotFound{Resource: "lead", ID: req.LeadID}
	}

	daily, monthly := p.UsageFor(req.Period)
	if req.MaxPerLead > 0 && s.countLeadAssignments(req.LeadID) >= req.MaxPerLead {
		return &domain.ClaimResult{Outcome: domain.ClaimFanOutReached, UsedToday: daily, UsedThisMonth: monthly}, nil
	}
	if !p.Active {
		return &domain.ClaimResult{Outcome: domain.ClaimInactive}, nil
	}

	if (p.DailyLimit != nil && daily >= *p.DailyLimit) || (p.MonthlyLimit != nil && monthly >= *p.MonthlyLimit) {
		return &domain.ClaimResult{Outcome: domain.ClaimCapReached, UsedToday: daily, UsedThisMonth: monthly}, nil
	}

	p.UsedToday, p.UsageDay = daily+1, req.Period.Day
	p.UsedThisMonth, p.UsageMonth = monthly+1, req.Period.Month

	matchedAt := req.MatchedAt
	if matchedAt.IsZero() {
		matchedAt = s.now().UTC()
	}
	a := domain.Assignment{
		ID:              uuid.NewString(),
		LeadID:          req.LeadID,
		ProfileID:       req.ProfileID,
		WorkspaceID:     req.WorkspaceID,
		MatchedAt:       matchedAt,
		MatchedCriteria: req.Criteria,
	}
	s.assignments = append(s.assignments, a)
	s.pairs[key] = struct{}{}

	return &domain.ClaimResult{
		Outcome:       domain.ClaimAssigned,
		Assignment:    &a,
		UsedToday:     p.UsedToday,
		UsedThisMonth: p.UsedThisMonth,
	}, nil
}

// countLeadAssignments expects s.mu held.
func (s *Store) countLeadAssignments(leadID string) int {
	n := 0
	for _, a := range s.assignments {
		if a.LeadID == leadID {
			n++
		}
	}
	return n
}

func (s *Store) ListAssignmentsByLead(_ context.Context, leadID string) ([]domain.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Assignment
	for _, a := range s.assignments {
		if a.LeadID == leadID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) ListAssignmentsByProfile(_ context.Context, profileID string, page, pageSize int) ([]domain.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Assignment
	for i := len(s.assignments) - 1; i >= 0; i-- {
		if s.assignments[i].ProfileID == profileID {
			out = append(out, s.assignments[i])
		}
	}
	return paginate(out, page, pageSize), nil
}

// SetClock replaces the store's time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func pairKey(leadID, profileID string) string {
	return leadID + "|" + profileID
}

func paginate[T any](items []T, page, pageSize int) []T {
	if pageSize <= 0 {
		return items
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []T{}
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func copyLead(l *domain.Lead) *domain.Lead {
	out := *l
	out.IndustryCodes = append([]string(nil), l.IndustryCodes...)
	return &out
}

func copyProfile(p *domain.ClientProfile) *domain.ClientProfile {
	out := *p
	out.Industries = append([]string(nil), p.Industries...)
	out.States = append([]string(nil), p.States...)
	out.Cities = append([]string(nil), p.Cities...)
	out.Zips = append([]string(nil), p.Zips...)
	if p.Radius != nil {
		r := *p.Radius
		out.Radius = &r
	}
	return &out
}
