package service

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/boddenberg/lead-router-go/internal/domain"
	"github.com/boddenberg/lead-router-go/internal/port"
)

var sweepTracer = otel.Tracer("service/sweeper")

// SweeperConfig controls the stale-routing sweep.
type SweeperConfig struct {
	Schedule   string        // cron spec, e.g. "@every 5m"
	StaleAfter time.Duration // how long a lead may sit in routing/unrouted
	Batch      int
	Timeout    time.Duration // per-run deadline
}

// SweepResult counts what one run did.
type SweepResult struct {
	Scanned int
	Routed  int
	Failed  int
}

// Sweeper retries leads whose routing never finished: stuck in "routing"
// after a crash, or left "unrouted" when the queue was unavailable.
// Terminal leads are never touched.
type Sweeper struct {
	store   port.LeadStore
	router  *Router
	reports port.ErrorReporter
	cfg     SweeperConfig
	logger  *zap.Logger

	cron *cron.Cron
	mu   sync.Mutex // one run at a time
}

// NewSweeper creates the sweeper. reports may be nil.
func NewSweeper(store port.LeadStore, router *Router, reports port.ErrorReporter, cfg SweeperConfig, logger *zap.Logger) *Sweeper {
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Sweeper{store: store, router: router, reports: reports, cfg: cfg, logger: logger}
}

// Start schedules the sweep. Stop must be called on shutdown.
func (s *Sweeper) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(s.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
		defer cancel()
		s.RunOnce(ctx)
	}); err != nil {
		return err
	}
	s.cron = c
	c.Start()
	s.logger.Info("stale routing sweeper scheduled", zap.String("schedule", s.cfg.Schedule))
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// RunOnce performs one sweep. Overlapping calls are skipped.
func (s *Sweeper) RunOnce(ctx context.Context) SweepResult {
	var res SweepResult
	if !s.mu.TryLock() {
		s.logger.Debug("sweep already running, skipping")
		return res
	}
	defer s.mu.Unlock()

	ctx, span := sweepTracer.Start(ctx, "Sweeper.RunOnce")
	defer span.End()

	cutoff := time.Now().Add(-s.cfg.StaleAfter)
	for _, status := range []domain.RoutingStatus{domain.RoutingInProgress, domain.RoutingUnrouted} {
		leads, err := s.store.ListStaleLeads(ctx, status, cutoff, s.cfg.Batch)
		if err != nil {
			s.logger.Error("list stale leads failed", zap.String("status", string(status)), zap.Error(err))
			s.report(ctx, err, "list_stale")
			continue
		}
		for i := range leads {
			if ctx.Err() != nil {
				return res
			}
			lead := &leads[i]
			if lead.RoutingStatus.Terminal() {
				continue
			}
			res.Scanned++
			if _, err := s.router.RouteLead(ctx, lead, 0); err != nil {
				res.Failed++
				s.logger.Warn("sweep routing failed", zap.String("lead_id", lead.ID), zap.Error(err))
				if !domain.IsRetryable(err) {
					s.report(ctx, err, "route")
				}
				continue
			}
			res.Routed++
		}
	}

	if res.Scanned > 0 {
		s.logger.Info("stale routing sweep finished",
			zap.Int("scanned", res.Scanned),
			zap.Int("routed", res.Routed),
			zap.Int("failed", res.Failed),
		)
	}
	return res
}

func (s *Sweeper) report(ctx context.Context, err error, stage string) {
	if s.reports != nil {
		s.reports.Report(ctx, err, map[string]string{"component": "sweeper", "stage": stage})
	}
}
