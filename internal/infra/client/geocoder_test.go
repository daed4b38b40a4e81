package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/boddenberg/lead-router-go/internal/domain"
	"github.com/boddenberg/lead-router-go/internal/infra/cache"
	"github.com/boddenberg/lead-router-go/internal/infra/client"
	"github.com/boddenberg/lead-router-go/internal/infra/observability"
	"github.com/boddenberg/lead-router-go/internal/infra/resilience"
)

func newGeocoder(t *testing.T, h http.HandlerFunc) *client.GeocoderClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxConcurrency: 2}
	return client.NewGeocoderClient(srv.Client(), srv.URL, "lead-router-test", resilience.NewCircuitBreaker("geocoder-test", nil),
		cfg, cache.NewMemoryGeoCache(time.Minute), observability.NewMetrics(), zap.NewNop())
}

func TestGeocoder_ResolvesAndCaches(t *testing.T) {
	var calls atomic.Int32
	geo := newGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Austin, TX, 78701", r.URL.Query().Get("q"))
		assert.Equal(t, "us", r.URL.Query().Get("countrycodes"))
		assert.Equal(t, "lead-router-test", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`[{"lat":"30.2711","lon":"-97.7437","display_name":"Austin"}]`))
	})

	for i := 0; i < 3; i++ {
		coords, err := geo.Geocode(context.Background(), "Austin, TX, 78701")
		require.NoError(t, err)
		require.NotNil(t, coords)
		assert.InDelta(t, 30.2711, coords.Lat, 1e-9)
		assert.InDelta(t, -97.7437, coords.Lng, 1e-9)
	}
	assert.EqualValues(t, 1, calls.Load())
}

func TestGeocoder_NoMatchIsCachedWithoutError(t *testing.T) {
	var calls atomic.Int32
	geo := newGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`[]`))
	})

	for i := 0; i < 2; i++ {
		coords, err := geo.Geocode(context.Background(), "Nowhere, ZZ")
		require.NoError(t, err)
		assert.Nil(t, coords)
	}
	assert.EqualValues(t, 1, calls.Load())
}

func TestGeocoder_RetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	geo := newGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := geo.Geocode(context.Background(), "Dallas, TX")
	var ext *domain.ErrExternalService
	require.ErrorAs(t, err, &ext)
	assert.Equal(t, "geocoder", ext.Service)
	assert.EqualValues(t, 3, calls.Load())
}

func TestGeocoder_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	geo := newGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := geo.Geocode(context.Background(), "Houston, TX")
	assert.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestGeocoder_ConcurrentLookupsShareOneRequest(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	geo := newGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		_, _ = w.Write([]byte(`[{"lat":"29.76","lon":"-95.37"}]`))
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			coords, err := geo.Geocode(context.Background(), "Houston, TX")
			assert.NoError(t, err)
			assert.NotNil(t, coords)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(2))
}
