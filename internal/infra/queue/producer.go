package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"

	"github.com/boddenberg/lead-router-go/internal/domain"
	"github.com/boddenberg/lead-router-go/internal/port"
)

var tracer = otel.Tracer("queue")

// Producer publishes route requests and assignment events.
// It implements port.RouteQueue and port.EventPublisher.
type Producer struct {
	mu sync.Mutex
	ch *amqp.Channel
}

// NewProducer opens a dedicated publishing channel.
func NewProducer(mq *RabbitMQ) (*Producer, error) {
	ch, err := mq.Conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open producer channel: %w", err)
	}
	return &Producer{ch: ch}, nil
}

// AssignmentEvent is the body published on ex.assignments.
type AssignmentEvent struct {
	Event      string            `json:"event"`
	Assignment domain.Assignment `json:"assignment"`
}

func (p *Producer) PublishRouteRequest(ctx context.Context, req port.RouteRequest) error {
	ctx, span := tracer.Start(ctx, "Producer.PublishRouteRequest")
	defer span.End()

	return p.publish(ctx, LeadsExchange, RouteKey, req.LeadID, req)
}

func (p *Producer) PublishAssignment(ctx context.Context, a domain.Assignment) error {
	ctx, span := tracer.Start(ctx, "Producer.PublishAssignment")
	defer span.End()

	return p.publish(ctx, AssignmentsExchange, AssignmentKey, a.ID, AssignmentEvent{Event: AssignmentKey, Assignment: a})
}

func (p *Producer) publish(ctx context.Context, exchange, key, messageID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    messageID,
		Body:         body,
		DeliveryMode: amqp.Persistent,
	})
	if err != nil {
		return &domain.ErrExternalService{Service: "rabbitmq", Err: err}
	}
	return nil
}

func (p *Producer) Close() error {
	return p.ch.Close()
}
