package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/boddenberg/lead-router-go/internal/domain"
	"github.com/boddenberg/lead-router-go/internal/infra/memstore"
	"github.com/boddenberg/lead-router-go/internal/service"
)

func validProfileInput() domain.ProfileInput {
	return domain.ProfileInput{
		WorkspaceID: "ws-1",
		Name:        "Austin janitorial",
		Priority:    5,
		Industries:  []string{"7349"},
		States:      []string{" tx "},
		DailyLimit:  intPtr(10),
	}
}

func TestCreateProfile_NormalizesAndDefaultsActive(t *testing.T) {
	svc := service.NewProfileService(memstore.New(), time.UTC, zap.NewNop())

	p, err := svc.CreateProfile(context.Background(), validProfileInput())

	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.True(t, p.Active)
	assert.Equal(t, []string{"TX"}, p.States)
}

func TestCreateProfile_Validation(t *testing.T) {
	svc := service.NewProfileService(memstore.New(), time.UTC, zap.NewNop())

	tests := []struct {
		name   string
		mutate func(*domain.ProfileInput)
		field  string
	}{
		{"missing name", func(in *domain.ProfileInput) { in.Name = "" }, "name"},
		{"zero daily limit", func(in *domain.ProfileInput) { in.DailyLimit = intPtr(0) }, "daily_limit"},
		{"bad zip", func(in *domain.ProfileInput) { in.Zips = []string{"7870"} }, "zips[0]"},
		{"zero radius", func(in *domain.ProfileInput) {
			in.Radius = &domain.Radius{CenterLat: 30, CenterLng: -97}
		}, "radius.radius_miles"},
		{"no criteria", func(in *domain.ProfileInput) { in.Industries, in.States = nil, nil }, "profile"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validProfileInput()
			tt.mutate(&in)
			_, err := svc.CreateProfile(context.Background(), in)
			var verr *domain.ErrValidation
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestUpdateProfile_KeepsCounters(t *testing.T) {
	store := memstore.New()
	svc := service.NewProfileService(store, time.UTC, zap.NewNop())
	p, err := svc.CreateProfile(context.Background(), validProfileInput())
	require.NoError(t, err)

	lead, err := store.CreateLead(context.Background(), &domain.Lead{Email: "counter@example.com", State: "TX"})
	require.NoError(t, err)
	period := domain.PeriodAt(time.Now().UTC())
	_, err = store.ClaimAssignment(context.Background(), domain.ClaimRequest{
		LeadID: lead.ID, ProfileID: p.ID, WorkspaceID: p.WorkspaceID, Period: period,
	})
	require.NoError(t, err)

	in := validProfileInput()
	in.Priority = 50
	in.WorkspaceID = ""
	updated, err := svc.UpdateProfile(context.Background(), p.ID, in)
	require.NoError(t, err)
	assert.Equal(t, 50, updated.Priority)

	usage, err := svc.GetProfileUsage(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, usage.UsedToday)
	assert.Equal(t, 1, usage.UsedThisMonth)
	assert.Equal(t, 10, *usage.DailyLimit)
	assert.Equal(t, period.Day, usage.Day)
}

func TestUpdateProfile_RejectsWorkspaceMove(t *testing.T) {
	svc := service.NewProfileService(memstore.New(), time.UTC, zap.NewNop())
	p, err := svc.CreateProfile(context.Background(), validProfileInput())
	require.NoError(t, err)

	in := validProfileInput()
	in.WorkspaceID = "ws-other"
	_, err = svc.UpdateProfile(context.Background(), p.ID, in)

	var verr *domain.ErrValidation
	require.ErrorAs(t, err, &verr)
}

func TestSetProfileActive(t *testing.T) {
	svc := service.NewProfileService(memstore.New(), time.UTC, zap.NewNop())
	p, err := svc.CreateProfile(context.Background(), validProfileInput())
	require.NoError(t, err)

	out, err := svc.SetProfileActive(context.Background(), p.ID, false)
	require.NoError(t, err)
	assert.False(t, out.Active)

	_, err = svc.SetProfileActive(context.Background(), "missing", true)
	var nf *domain.ErrNotFound
	require.ErrorAs(t, err, &nf)
}

func TestListProfiles_ByWorkspace(t *testing.T) {
	svc := service.NewProfileService(memstore.New(), time.UTC, zap.NewNop())
	_, err := svc.CreateProfile(context.Background(), validProfileInput())
	require.NoError(t, err)
	other := validProfileInput()
	other.WorkspaceID = "ws-2"
	_, err = svc.CreateProfile(context.Background(), other)
	require.NoError(t, err)

	list, err := svc.ListProfiles(context.Background(), "ws-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = svc.ListProfiles(context.Background(), "")
	assert.Error(t, err)
}
