package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/boddenberg/lead-router-go/internal/domain"
	"github.com/boddenberg/lead-router-go/internal/handler"
	"github.com/boddenberg/lead-router-go/internal/infra/memstore"
	"github.com/boddenberg/lead-router-go/internal/infra/observability"
	"github.com/boddenberg/lead-router-go/internal/service"
)

const secret = "handler-test-secret-handler-test-secret"

type fixture struct {
	handler http.Handler
	store   *memstore.Store
	token   string
	apiKey  string
}

func newFixture(t *testing.T, checks ...handler.HealthCheck) *fixture {
	t.Helper()
	logger := zap.NewNop()
	store := memstore.New()
	metrics := observability.NewMetrics()
	router := service.NewRouter(store, nil, service.RouterConfig{FanOutLimit: 2, Location: time.UTC}, metrics, logger)
	leads := service.NewLeadService(store, router, nil, nil, metrics, logger)
	profiles := service.NewProfileService(store, time.UTC, logger)
	importer := service.NewImporter(leads, nil, service.ImporterConfig{Concurrency: 2}, metrics, logger)

	key, hash, err := service.GenerateAPIKey()
	require.NoError(t, err)
	auth := service.NewAuthService(secret, time.Hour, []string{hash}, nil, logger)
	token, err := auth.IssueToken("ops@example.com", "", "admin")
	require.NoError(t, err)

	h := handler.NewRouter(handler.Dependencies{
		Leads:    leads,
		Profiles: profiles,
		Router:   router,
		Importer: importer,
		Auth:     auth,
		Metrics:  metrics,
		Checks:   checks,
		Logger:   logger,
	})
	return &fixture{handler: h, store: store, token: token, apiKey: key}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.token)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (f *fixture) createProfile(t *testing.T, in map[string]any) domain.ClientProfile {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/v1/profiles", in)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[domain.ClientProfile](t, rec)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, handler.HealthCheck{Name: "store", Check: func(context.Context) error { return nil }})

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	status := decode[domain.HealthStatus](t, rec)
	assert.Equal(t, "healthy", status.Status)
	require.Len(t, status.Services, 1)
	assert.Equal(t, "up", status.Services[0].Status)
}

func TestReadyz_FailsWhenDependencyDown(t *testing.T) {
	f := newFixture(t, handler.HealthCheck{Name: "rabbitmq", Check: func(context.Context) error { return errors.New("closed") }})

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestV1_RequiresToken(t *testing.T) {
	f := newFixture(t)

	for _, auth := range []string{"", "Bearer nope", "Basic abc"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/leads", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, auth)
	}
}

func TestCreateLead_RoutesInline(t *testing.T) {
	f := newFixture(t)
	high := f.createProfile(t, map[string]any{"workspace_id": "ws-1", "name": "Texas high", "priority": 10, "states": []string{"tx"}})
	f.createProfile(t, map[string]any{"workspace_id": "ws-2", "name": "Texas low", "priority": 5, "states": []string{"TX"}})

	rec := f.do(t, http.MethodPost, "/v1/leads?fan_out=1", map[string]any{
		"email": "Buyer@Example.com", "company": "Acme", "state": "Texas", "industry_code": "5411",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	res := decode[domain.IngestResult](t, rec)
	assert.Equal(t, "buyer@example.com", res.Lead.Email)
	assert.Equal(t, domain.RoutingRouted, res.Lead.RoutingStatus)
	require.NotNil(t, res.Routing)
	assert.Equal(t, []string{high.ID}, res.Routing.ProfileIDs())

	// Same email again is a duplicate, not a second lead.
	rec = f.do(t, http.MethodPost, "/v1/leads", map[string]any{"email": "buyer@example.com", "state": "TX"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[domain.IngestResult](t, rec).Duplicate)

	rec = f.do(t, http.MethodGet, "/v1/leads/"+res.Lead.ID+"/assignments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.Assignment](t, rec), 1)
}

func TestCreateLead_ValidationErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		path string
		body any
	}{
		{"no contact", "/v1/leads", map[string]any{"company": "Acme", "state": "TX"}},
		{"bad fan-out", "/v1/leads?fan_out=0", map[string]any{"email": "a@example.com"}},
		{"unknown field", "/v1/leads", map[string]any{"email": "a@example.com", "bogus": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestRouteLead_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.createProfile(t, map[string]any{"workspace_id": "ws-1", "name": "Austin", "cities": []string{"Austin"}})

	lead, err := f.store.CreateLead(context.Background(), &domain.Lead{Email: "a@example.com", City: "Austin", Source: domain.SourceAPI})
	require.NoError(t, err)

	first := decode[domain.RouteResult](t, f.do(t, http.MethodPost, "/v1/leads/"+lead.ID+"/route", nil))
	second := decode[domain.RouteResult](t, f.do(t, http.MethodPost, "/v1/leads/"+lead.ID+"/route", nil))

	assert.Equal(t, domain.RoutingRouted, first.Status)
	assert.Equal(t, first.ProfileIDs(), second.ProfileIDs())
	assert.Equal(t, domain.ReasonAlreadyRouted, second.Reason)

	rec := f.do(t, http.MethodPost, "/v1/leads/missing/route", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReprocessLead_PicksUpNewProfiles(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/leads", map[string]any{"email": "late@example.com", "state": "TX"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[domain.IngestResult](t, rec)
	require.NotNil(t, res.Routing)
	assert.Equal(t, domain.RoutingUnroutable, res.Routing.Status)
	assert.Equal(t, domain.ReasonNoProfiles, res.Routing.Reason)

	f.createProfile(t, map[string]any{"workspace_id": "ws-1", "name": "Texas", "states": []string{"TX"}})

	rec = f.do(t, http.MethodPost, "/v1/leads/"+res.Lead.ID+"/reprocess", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	routed := decode[domain.RouteResult](t, rec)
	assert.Equal(t, domain.RoutingRouted, routed.Status)
	assert.Len(t, routed.Assignments, 1)
}

func TestUpdateLeadStatus(t *testing.T) {
	f := newFixture(t)
	lead, err := f.store.CreateLead(context.Background(), &domain.Lead{Email: "s@example.com", Source: domain.SourceAPI})
	require.NoError(t, err)

	rec := f.do(t, http.MethodPatch, "/v1/leads/"+lead.ID+"/status", map[string]any{"status": "contacted"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.LeadStatusContacted, decode[domain.Lead](t, rec).Status)

	rec = f.do(t, http.MethodPatch, "/v1/leads/"+lead.ID+"/status", map[string]any{"status": "won"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestProfiles_LifecycleAndUsage(t *testing.T) {
	f := newFixture(t)
	p := f.createProfile(t, map[string]any{"workspace_id": "ws-1", "name": "Dallas", "cities": []string{"Dallas"}, "daily_limit": 5})

	rec := f.do(t, http.MethodPost, "/v1/profiles/"+p.ID+"/deactivate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[domain.ClientProfile](t, rec).Active)

	rec = f.do(t, http.MethodGet, "/v1/workspaces/ws-1/profiles", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.ClientProfile](t, rec), 1)

	rec = f.do(t, http.MethodGet, "/v1/profiles/"+p.ID+"/usage", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	usage := decode[domain.ProfileUsage](t, rec)
	assert.Zero(t, usage.UsedToday)
	require.NotNil(t, usage.DailyLimit)
	assert.Equal(t, 5, *usage.DailyLimit)

	rec = f.do(t, http.MethodPost, "/v1/profiles", map[string]any{"workspace_id": "ws-1", "name": "Empty"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhook_RequiresAPIKey(t *testing.T) {
	f := newFixture(t)
	body := `{"email":"hook@example.com","state":"TX"}`

	req := httptest.NewRequest(http.MethodPost, "/webhooks/leads", strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/webhooks/leads", strings.NewReader(body))
	req.Header.Set("X-API-Key", f.apiKey)
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, domain.SourceWebhook, decode[domain.IngestResult](t, rec).Lead.Source)
}

func TestUploadImport(t *testing.T) {
	f := newFixture(t)
	f.createProfile(t, map[string]any{"workspace_id": "ws-1", "name": "Texas", "states": []string{"TX"}})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "leads.csv")
	require.NoError(t, err)
	_, _ = part.Write([]byte("Email,Company,State\none@example.com,Acme,TX\ntwo@example.com,Beta,TX\n,NoContact,TX\n"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/imports?route=true", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+f.token)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decode[domain.ImportSummary](t, rec)
	assert.Equal(t, 3, summary.Rows)
	assert.Equal(t, 2, summary.Created)
	assert.Equal(t, 1, summary.Invalid)
	assert.Equal(t, 2, summary.Routed)
}

func TestObjectImport_WithoutStorageIsBadRequest(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/imports/object", map[string]any{"key": "uploads/leads.csv"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRoutingMetrics(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/metrics/routing", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "leadsRouted")
}
