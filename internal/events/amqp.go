package events

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const amqpPublishTimeout = 5 * time.Second

// amqpChannel is the part of *amqp.Channel the sink uses.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink publishes events as persistent messages to a durable RabbitMQ queue.
type AMQPSink struct {
	conn    *amqp.Connection
	channel amqpChannel
	queue   string
}

var _ Sink = (*AMQPSink)(nil)

// NewAMQPSink dials url and declares queue.
func NewAMQPSink(url, queue string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	q, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return &AMQPSink{conn: conn, channel: ch, queue: q.Name}, nil
}

func (s *AMQPSink) Publish(ctx context.Context, e Event) error {
	body, err := e.marshal()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, amqpPublishTimeout)
	defer cancel()

	headers := amqp.Table{}
	for k, v := range e.attributes() {
		headers[k] = v
	}
	err = s.channel.PublishWithContext(ctx,
		"",      // exchange
		s.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Type:         string(e.Type),
			Timestamp:    e.At,
			Headers:      headers,
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("publish %s for order %s: %w", e.Type, e.OrderID, err)
	}
	return nil
}

func (s *AMQPSink) Close() error {
	errCh := s.channel.Close()
	var errConn error
	if s.conn != nil {
		errConn = s.conn.Close()
	}
	if errCh != nil {
		return fmt.Errorf("close channel: %w", errCh)
	}
	if errConn != nil {
		return fmt.Errorf("close connection: %w", errConn)
	}
	return nil
}
