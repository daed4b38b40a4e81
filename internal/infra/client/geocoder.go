// Package client holds the outbound HTTP clients. Each one runs through a
// circuit breaker with retry, bounded by a bulkhead, and is traced.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/boddenberg/lead-router-go/internal/domain"
	"github.com/boddenberg/lead-router-go/internal/infra/cache"
	"github.com/boddenberg/lead-router-go/internal/infra/observability"
	"github.com/boddenberg/lead-router-go/internal/infra/resilience"
	"github.com/boddenberg/lead-router-go/internal/port"
)

var tracer = otel.Tracer("client")

// GeocoderClient resolves US addresses through a Nominatim-compatible
// /search endpoint. Results, including misses, are cached by normalized
// address; concurrent lookups for the same address share one request.
type GeocoderClient struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	bulkhead   *resilience.Bulkhead
	cache      port.GeoCache
	metrics    *observability.Metrics
	logger     *zap.Logger

	group singleflight.Group
}

// NewGeocoderClient creates a geocoder. geoCache and metrics may be nil.
func NewGeocoderClient(httpClient *http.Client, baseURL, userAgent string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, geoCache port.GeoCache, metrics *observability.Metrics, logger *zap.Logger) *GeocoderClient {
	concurrency := cfg.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &GeocoderClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		userAgent:  userAgent,
		cb:         cb,
		cfg:        cfg,
		bulkhead:   resilience.NewBulkhead(concurrency),
		cache:      geoCache,
		metrics:    metrics,
		logger:     logger,
	}
}

// nominatimPlace is one /search result. Coordinates arrive as strings.
type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// noMatch marks a cached miss. (0,0) is never a US address.
var noMatch = domain.Coordinates{}

// Geocode returns nil without error when the address cannot be resolved.
func (c *GeocoderClient) Geocode(ctx context.Context, address string) (*domain.Coordinates, error) {
	ctx, span := tracer.Start(ctx, "GeocoderClient.Geocode")
	defer span.End()
	span.SetAttributes(attribute.String("geocode.address", address))

	key := cache.GeoKey(address)
	if key == "" {
		return nil, nil
	}

	if c.cache != nil {
		if coords, ok := c.cache.GetCoordinates(ctx, key); ok {
			c.cacheHit(true)
			if *coords == noMatch {
				return nil, nil
			}
			return coords, nil
		}
		c.cacheHit(false)
	}

	v, err, shared := c.group.Do(key, func() (any, error) {
		coords, err := c.lookup(ctx, address)
		if err != nil {
			return nil, err
		}
		c.store(ctx, key, coords)
		return coords, nil
	})
	span.SetAttributes(attribute.Bool("geocode.shared", shared))
	if err != nil {
		if c.metrics != nil {
			c.metrics.IncrExternalError("geocoder")
		}
		return nil, &domain.ErrExternalService{Service: "geocoder", Err: err}
	}

	coords, _ := v.(*domain.Coordinates)
	return coords, nil
}

func (c *GeocoderClient) store(ctx context.Context, key string, coords *domain.Coordinates) {
	if c.cache == nil {
		return
	}
	stored := noMatch
	if coords != nil {
		stored = *coords
	}
	if err := c.cache.SetCoordinates(ctx, key, stored); err != nil {
		c.logger.Warn("geocode cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *GeocoderClient) lookup(ctx context.Context, address string) (*domain.Coordinates, error) {
	if err := c.bulkhead.Acquire(ctx); err != nil {
		return nil, err
	}
	defer c.bulkhead.Release()

	var places []nominatimPlace
	err := resilience.Call(ctx, c.cb, c.cfg, func() error {
		q := url.Values{}
		q.Set("q", address)
		q.Set("format", "jsonv2")
		q.Set("limit", "1")
		q.Set("countrycodes", "us")

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+q.Encode(), nil)
		if err != nil {
			return resilience.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("geocoder returned status %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return resilience.Permanent(fmt.Errorf("geocoder returned status %d", resp.StatusCode))
		}
		places = nil
		if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
			return resilience.Permanent(fmt.Errorf("decode geocoder response: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(places) == 0 {
		c.logger.Debug("geocoder found no match", zap.String("address", address))
		return nil, nil
	}
	lat, errLat := strconv.ParseFloat(places[0].Lat, 64)
	lng, errLng := strconv.ParseFloat(places[0].Lon, 64)
	if errLat != nil || errLng != nil {
		return nil, fmt.Errorf("geocoder returned unparsable coordinates %q,%q", places[0].Lat, places[0].Lon)
	}
	return &domain.Coordinates{Lat: lat, Lng: lng}, nil
}

func (c *GeocoderClient) cacheHit(hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.IncrCacheHit("geocode")
	} else {
		c.metrics.IncrCacheMiss("geocode")
	}
}
