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
	"github.com/boddenberg/lead-router-go/internal/infra/observability"
	"github.com/boddenberg/lead-router-go/internal/service"
)

func TestSweeper_RetriesStaleLeadsOnly(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	mustProfile(t, store, domain.ClientProfile{ID: "p1", States: []string{"TX"}})

	store.SetClock(func() time.Time { return time.Now().Add(-time.Hour) })
	stuck := mustLead(t, store, texasLead("stuck@example.com"))
	require.NoError(t, store.SetRoutingStatus(ctx, stuck.ID, domain.RoutingInProgress))
	orphan := mustLead(t, store, texasLead("orphan@example.com"))
	done := mustLead(t, store, texasLead("done@example.com"))
	require.NoError(t, store.SetRoutingStatus(ctx, done.ID, domain.RoutingUnroutable))
	store.SetClock(time.Now)
	fresh := mustLead(t, store, texasLead("fresh@example.com"))

	router := service.NewRouter(store, nil, service.RouterConfig{FanOutLimit: 1}, observability.NewMetrics(), zap.NewNop())
	sweeper := service.NewSweeper(store, router, nil, service.SweeperConfig{Schedule: "@every 5m", StaleAfter: 10 * time.Minute}, zap.NewNop())

	res := sweeper.RunOnce(ctx)

	assert.Equal(t, 2, res.Scanned)
	assert.Equal(t, 2, res.Routed)
	assert.Zero(t, res.Failed)

	for _, id := range []string{stuck.ID, orphan.ID} {
		l, err := store.GetLead(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.RoutingRouted, l.RoutingStatus)
	}
	l, _ := store.GetLead(ctx, done.ID)
	assert.Equal(t, domain.RoutingUnroutable, l.RoutingStatus)
	l, _ = store.GetLead(ctx, fresh.ID)
	assert.Equal(t, domain.RoutingUnrouted, l.RoutingStatus)
}

func TestSweeper_RetryUsesFanOutFromIngest(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	mustProfile(t, store, domain.ClientProfile{ID: "p1", Priority: 2, States: []string{"TX"}})
	mustProfile(t, store, domain.ClientProfile{ID: "p2", Priority: 1, States: []string{"TX"}})

	store.SetClock(func() time.Time { return time.Now().Add(-time.Hour) })
	wide := texasLead("wide@example.com")
	wide.FanOut = 2
	orphan := mustLead(t, store, wide)
	store.SetClock(time.Now)

	router := service.NewRouter(store, nil, service.RouterConfig{FanOutLimit: 1}, observability.NewMetrics(), zap.NewNop())
	sweeper := service.NewSweeper(store, router, nil, service.SweeperConfig{Schedule: "@every 5m", StaleAfter: 10 * time.Minute}, zap.NewNop())

	res := sweeper.RunOnce(ctx)

	assert.Equal(t, 1, res.Routed)
	rows, err := store.ListAssignmentsByLead(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestSweeper_StartRejectsBadSchedule(t *testing.T) {
	sweeper := service.NewSweeper(memstore.New(), nil, nil, service.SweeperConfig{Schedule: "every now and then"}, zap.NewNop())

	assert.Error(t, sweeper.Start())
	sweeper.Stop()
}

func TestSweeper_StartStop(t *testing.T) {
	sweeper := service.NewSweeper(memstore.New(), nil, nil, service.SweeperConfig{Schedule: "@every 1h"}, zap.NewNop())

	require.NoError(t, sweeper.Start())
	sweeper.Stop()
}
