// Package queue carries routing work and assignment events over RabbitMQ.
//
//	ex.leads (direct) --k.route--> q.leads.route --nack--> ex.dlx --> q.leads.route.dlq
//	ex.assignments (topic) --assignment.created--> downstream consumers
package queue

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	LeadsExchange       = "ex.leads"
	RouteQueueName      = "q.leads.route"
	RouteKey            = "k.route"
	DLXName             = "ex.dlx"
	DLQName             = "q.leads.route.dlq"
	AssignmentsExchange = "ex.assignments"
	AssignmentKey       = "assignment.created"
)

// RabbitMQ owns the connection. Producer and Worker each open their own channel.
type RabbitMQ struct {
	Conn   *amqp.Connection
	logger *zap.Logger
}

// NewRabbitMQ dials url and declares the topology.
func NewRabbitMQ(url string, logger *zap.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := setupTopology(ch); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare topology: %w", err)
	}

	logger.Info("rabbitmq connected", zap.String("queue", RouteQueueName))
	return &RabbitMQ{Conn: conn, logger: logger}, nil
}

func setupTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(DLXName, "direct", true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(DLQName, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.QueueBind(DLQName, RouteKey, DLXName, false, nil); err != nil {
		return err
	}

	if err := ch.ExchangeDeclare(LeadsExchange, "direct", true, false, false, false, nil); err != nil {
		return err
	}
	args := amqp.Table{
		"x-dead-letter-exchange":    DLXName,
		"x-dead-letter-routing-key": RouteKey,
	}
	if _, err := ch.QueueDeclare(RouteQueueName, true, false, false, false, args); err != nil {
		return err
	}
	if err := ch.QueueBind(RouteQueueName, RouteKey, LeadsExchange, false, nil); err != nil {
		return err
	}

	return ch.ExchangeDeclare(AssignmentsExchange, "topic", true, false, false, false, nil)
}

// Ping reports whether the connection is still open.
func (r *RabbitMQ) Ping() error {
	if r.Conn == nil || r.Conn.IsClosed() {
		return fmt.Errorf("rabbitmq connection closed")
	}
	return nil
}

func (r *RabbitMQ) Close() error {
	if r.Conn == nil || r.Conn.IsClosed() {
		return nil
	}
	return r.Conn.Close()
}
