package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/boddenberg/lead-router-go/internal/domain"
	"github.com/boddenberg/lead-router-go/internal/port"
)

// LeadRouter is what the worker needs from the matcher.
type LeadRouter interface {
	RouteLeadByID(ctx context.Context, leadID string, fanOut int) (*domain.RouteResult, error)
}

// WorkerConfig sizes the consumer.
type WorkerConfig struct {
	Workers  int
	Prefetch int
	Timeout  time.Duration // per message
}

// Worker consumes q.leads.route and runs the matcher for each lead.
//
// Acknowledgement rules:
//   - routed or unroutable: ack
//   - malformed body or unknown lead: reject to the DLQ
//   - transient failure: requeue once, then reject; the stale sweeper
//     picks the lead up later either way
type Worker struct {
	mq      *RabbitMQ
	router  LeadRouter
	reports port.ErrorReporter
	cfg     WorkerConfig
	logger  *zap.Logger

	wg sync.WaitGroup
}

// NewWorker creates a worker. reports may be nil.
func NewWorker(mq *RabbitMQ, router LeadRouter, reports port.ErrorReporter, cfg WorkerConfig, logger *zap.Logger) *Worker {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = cfg.Workers * 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Worker{mq: mq, router: router, reports: reports, cfg: cfg, logger: logger}
}

// Start registers the consumer and returns. Consumption stops when ctx is
// cancelled; Wait blocks until in-flight messages are settled.
func (w *Worker) Start(ctx context.Context) error {
	ch, err := w.mq.Conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	if err := ch.Qos(w.cfg.Prefetch, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("set qos: %w", err)
	}
	msgs, err := ch.Consume(RouteQueueName, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("register consumer: %w", err)
	}

	for i := 0; i < w.cfg.Workers; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-msgs:
					if !ok {
						return
					}
					w.Handle(ctx, d)
				}
			}
		}()
	}

	go func() {
		<-ctx.Done()
		w.wg.Wait()
		ch.Close()
	}()

	w.logger.Info("routing worker started",
		zap.String("queue", RouteQueueName),
		zap.Int("workers", w.cfg.Workers),
		zap.Int("prefetch", w.cfg.Prefetch),
	)
	return nil
}

// Wait blocks until every consumer goroutine has returned.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// Handle processes one delivery and settles it.
func (w *Worker) Handle(ctx context.Context, d amqp.Delivery) {
	var req port.RouteRequest
	if err := json.Unmarshal(d.Body, &req); err != nil || req.LeadID == "" {
		w.logger.Error("malformed route request, dead-lettering",
			zap.String("message_id", d.MessageId),
			zap.ByteString("body", d.Body),
			zap.Error(err),
		)
		w.settle(d.Nack(false, false))
		return
	}

	// Routing must not be cut short by shutdown once started.
	msgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.Timeout)
	defer cancel()

	res, err := w.router.RouteLeadByID(msgCtx, req.LeadID, req.FanOut)
	if err == nil {
		w.logger.Debug("route request handled",
			zap.String("lead_id", req.LeadID),
			zap.String("status", string(res.Status)),
			zap.Int("assignments", len(res.Assignments)),
		)
		w.settle(d.Ack(false))
		return
	}

	var nf *domain.ErrNotFound
	switch {
	case errors.As(err, &nf):
		w.logger.Warn("route request for unknown lead, dead-lettering", zap.String("lead_id", req.LeadID))
		w.settle(d.Nack(false, false))
	case domain.IsRetryable(err) && !d.Redelivered:
		w.logger.Warn("routing failed, requeueing", zap.String("lead_id", req.LeadID), zap.Error(err))
		w.settle(d.Nack(false, true))
	default:
		w.logger.Error("routing failed, dead-lettering", zap.String("lead_id", req.LeadID), zap.Error(err))
		if w.reports != nil && !domain.IsRetryable(err) {
			w.reports.Report(msgCtx, err, map[string]string{"component": "worker", "lead_id": req.LeadID})
		}
		w.settle(d.Nack(false, false))
	}
}

func (w *Worker) settle(err error) {
	if err != nil {
		w.logger.Error("failed to settle delivery", zap.Error(err))
	}
}
