package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ExchangeSecurityEvents is the durable topic exchange all outbound events
// land on.
const ExchangeSecurityEvents = "clavis.security.events"

// envelope wraps every published payload with delivery metadata.
type envelope struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Source     string    `json:"source"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

// AMQPPublisher emits events on a RabbitMQ topic exchange with persistent
// deliveries.
type AMQPPublisher struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger
}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(url string, logger *slog.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(
		ExchangeSecurityEvents,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	logger.Info("broker_connected", "exchange", ExchangeSecurityEvents)

	return &AMQPPublisher{conn: conn, channel: channel, logger: logger}, nil
}

// Publish sends one event. Failures are logged, never returned: the
// security transition that produced the event has already committed.
func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, payload any) {
	body, err := json.Marshal(envelope{
		ID:         uuid.NewString(),
		Type:       routingKey,
		Source:     "clavis",
		OccurredAt: time.Now().UTC(),
		Data:       payload,
	})
	if err != nil {
		p.logger.Error("event_marshal_failed", "routing_key", routingKey, "error", err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx,
		ExchangeSecurityEvents,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		p.logger.Error("event_publish_failed", "routing_key", routingKey, "error", err)
		return
	}

	p.logger.Debug("event_published", "routing_key", routingKey)
}

// Close shuts the channel and connection down.
func (p *AMQPPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
