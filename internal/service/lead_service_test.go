package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/boddenberg/lead-router-go/internal/domain"
	"github.com/boddenberg/lead-router-go/internal/infra/memstore"
	"github.com/boddenberg/lead-router-go/internal/infra/observability"
	"github.com/boddenberg/lead-router-go/internal/port"
	"github.com/boddenberg/lead-router-go/internal/service"
)

type mockGeocoder struct {
	coords *domain.Coordinates
	err    error
	calls  int
}

func (m *mockGeocoder) Geocode(_ context.Context, _ string) (*domain.Coordinates, error) {
	m.calls++
	return m.coords, m.err
}

type mockQueue struct {
	mu       sync.Mutex
	requests []port.RouteRequest
	err      error
}

func (m *mockQueue) PublishRouteRequest(_ context.Context, req port.RouteRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.requests = append(m.requests, req)
	return nil
}

func newLeadService(store *memstore.Store, queue port.RouteQueue, geo port.Geocoder) *service.LeadService {
	metrics := observability.NewMetrics()
	router := service.NewRouter(store, nil, service.RouterConfig{FanOutLimit: 2}, metrics, zap.NewNop())
	return service.NewLeadService(store, router, queue, geo, metrics, zap.NewNop())
}

func texasInput(email string) domain.LeadInput {
	return domain.LeadInput{
		Email:         email,
		EmailVerified: true,
		Company:       "Acme",
		IndustryCode:  "7349",
		City:          "Austin",
		State:         "TX",
		Zip:           "78701",
	}
}

func TestIngestLead_SyncRoutesInline(t *testing.T) {
	store := memstore.New()
	mustProfile(t, store, domain.ClientProfile{ID: "p1", States: []string{"TX"}})
	svc := newLeadService(store, nil, nil)

	res, err := svc.IngestLead(context.Background(), texasInput("sync@example.com"), domain.SourceAPI, domain.IngestSync, 0)

	require.NoError(t, err)
	require.NotNil(t, res.Routing)
	assert.False(t, res.Duplicate)
	assert.Equal(t, []string{"p1"}, res.Routing.ProfileIDs())
	assert.Equal(t, domain.RoutingRouted, res.Lead.RoutingStatus)
}

func TestIngestLead_DeduplicatesByEmail(t *testing.T) {
	store := memstore.New()
	svc := newLeadService(store, nil, nil)

	first, err := svc.IngestLead(context.Background(), texasInput("Dup@Example.com"), domain.SourceAPI, domain.IngestSync, 0)
	require.NoError(t, err)

	second, err := svc.IngestLead(context.Background(), texasInput("dup@example.com "), domain.SourceWebhook, domain.IngestSync, 0)
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Lead.ID, second.Lead.ID)

	all, err := svc.ListLeads(context.Background(), domain.LeadFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestIngestLead_AsyncPublishes(t *testing.T) {
	store := memstore.New()
	queue := &mockQueue{}
	svc := newLeadService(store, queue, nil)

	res, err := svc.IngestLead(context.Background(), texasInput("async@example.com"), domain.SourceWebhook, domain.IngestAsync, 4)

	require.NoError(t, err)
	assert.True(t, res.Queued)
	assert.Nil(t, res.Routing)
	require.Len(t, queue.requests, 1)
	assert.Equal(t, port.RouteRequest{LeadID: res.Lead.ID, FanOut: 4}, queue.requests[0])
	assert.Equal(t, domain.RoutingUnrouted, res.Lead.RoutingStatus)
}

func TestIngestLead_AsyncPublishFailureLeavesLeadUnrouted(t *testing.T) {
	store := memstore.New()
	svc := newLeadService(store, &mockQueue{err: errors.New("channel closed")}, nil)

	res, err := svc.IngestLead(context.Background(), texasInput("q@example.com"), domain.SourceWebhook, domain.IngestAsync, 0)

	require.NoError(t, err)
	assert.False(t, res.Queued)
	stored, _ := store.GetLead(context.Background(), res.Lead.ID)
	assert.Equal(t, domain.RoutingUnrouted, stored.RoutingStatus)
}

func TestIngestLead_AsyncKeepsRequestedFanOut(t *testing.T) {
	store := memstore.New()
	mustProfile(t, store, domain.ClientProfile{ID: "p1", Priority: 3, States: []string{"TX"}})
	mustProfile(t, store, domain.ClientProfile{ID: "p2", Priority: 2, States: []string{"TX"}})
	mustProfile(t, store, domain.ClientProfile{ID: "p3", Priority: 1, States: []string{"TX"}})
	svc := newLeadService(store, &mockQueue{err: errors.New("channel closed")}, nil)

	res, err := svc.IngestLead(context.Background(), texasInput("later@example.com"), domain.SourceWebhook, domain.IngestAsync, 3)
	require.NoError(t, err)
	require.False(t, res.Queued)

	stored, err := store.GetLead(context.Background(), res.Lead.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.FanOut)

	router := service.NewRouter(store, nil, service.RouterConfig{FanOutLimit: 1}, observability.NewMetrics(), zap.NewNop())
	routed, err := router.RouteLeadByID(context.Background(), res.Lead.ID, 0)
	require.NoError(t, err)
	assert.Len(t, routed.Assignments, 3)
}

func TestIngestLead_GeocodesWhenMissingCoordinates(t *testing.T) {
	store := memstore.New()
	geo := &mockGeocoder{coords: &domain.Coordinates{Lat: 30.27, Lng: -97.74}}
	svc := newLeadService(store, nil, geo)

	res, err := svc.IngestLead(context.Background(), texasInput("geo@example.com"), domain.SourceAPI, domain.IngestSync, 0)

	require.NoError(t, err)
	assert.Equal(t, 1, geo.calls)
	require.True(t, res.Lead.HasCoordinates())
	assert.InDelta(t, 30.27, *res.Lead.Lat, 1e-9)
}

func TestIngestLead_GeocoderFailureIsNotFatal(t *testing.T) {
	store := memstore.New()
	geo := &mockGeocoder{err: &domain.ErrCircuitOpen{Service: "geocoder"}}
	svc := newLeadService(store, nil, geo)

	res, err := svc.IngestLead(context.Background(), texasInput("geofail@example.com"), domain.SourceAPI, domain.IngestSync, 0)

	require.NoError(t, err)
	assert.False(t, res.Lead.HasCoordinates())
}

func TestIngestLead_ValidationError(t *testing.T) {
	svc := newLeadService(memstore.New(), nil, nil)
	lat := 123.0
	in := texasInput("v@example.com")
	in.Lat, in.Lng = &lat, &lat

	_, err := svc.IngestLead(context.Background(), in, domain.SourceAPI, domain.IngestSync, 0)

	var verr *domain.ErrValidation
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "lat", verr.Field)
}

func TestUpdateLeadStatus_Transitions(t *testing.T) {
	store := memstore.New()
	svc := newLeadService(store, nil, nil)
	res, err := svc.IngestLead(context.Background(), texasInput("life@example.com"), domain.SourceAPI, domain.IngestSync, 0)
	require.NoError(t, err)
	id := res.Lead.ID

	_, err = svc.UpdateLeadStatus(context.Background(), id, domain.LeadStatusWon)
	var terr *domain.ErrInvalidTransition
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "new", terr.From)

	for _, next := range []domain.LeadStatus{domain.LeadStatusContacted, domain.LeadStatusQualified, domain.LeadStatusWon} {
		lead, err := svc.UpdateLeadStatus(context.Background(), id, next)
		require.NoError(t, err)
		assert.Equal(t, next, lead.Status)
	}

	_, err = svc.UpdateLeadStatus(context.Background(), id, domain.LeadStatusLost)
	require.ErrorAs(t, err, &terr)

	_, err = svc.UpdateLeadStatus(context.Background(), id, "archived")
	var verr *domain.ErrValidation
	require.ErrorAs(t, err, &verr)
}

func TestListLeadAssignments_UnknownLead(t *testing.T) {
	svc := newLeadService(memstore.New(), nil, nil)

	_, err := svc.ListLeadAssignments(context.Background(), "missing")

	var nf *domain.ErrNotFound
	require.ErrorAs(t, err, &nf)
}
