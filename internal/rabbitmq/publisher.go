// Package rabbitmq publishes market events to a topic exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"campus-market/internal/observability"
	"campus-market/internal/telemetry"
)

const publishTimeout = 5 * time.Second

// Publisher publishes domain and audit events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// NewPublisher connects to amqpURL and declares exchange. Any failure yields
// a noop publisher so the service keeps running without a broker.
func NewPublisher(amqpURL, exchange string, logger *slog.Logger) Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if amqpURL == "" {
		logger.Info("rabbitmq disabled, using noop", "reason", "empty amqp url")
		return NewNoop("empty amqp url", logger)
	}

	conn, ch, err := connect(amqpURL, exchange)
	if err != nil {
		logger.Warn("rabbitmq disabled, using noop", "reason", err)
		return NewNoop(err.Error(), logger)
	}

	p := &amqpPublisher{conn: conn, ch: ch, exchange: exchange, logger: logger}
	go p.watch(ch.NotifyClose(make(chan *amqp.Error, 1)))
	logger.Info("rabbitmq connected", "exchange", exchange)
	return p
}

func connect(amqpURL, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	// durable topic exchange; consumers bind by event type.
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return conn, ch, nil
}

type amqpPublisher struct {
	conn     *amqp.Connection
	exchange string
	logger   *slog.Logger

	mu     sync.Mutex
	ch     *amqp.Channel
	closed bool
}

// watch marks the publisher closed when the broker drops the channel.
// Later publishes fail fast and are counted instead of blocking.
func (p *amqpPublisher) watch(closes <-chan *amqp.Error) {
	if err, ok := <-closes; ok && err != nil {
		p.logger.Warn("rabbitmq channel closed", "err", err)
	}
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", routingKey, err)
	}
	headers := amqp.Table{}
	for key, value := range observability.HeadersFromContext(ctx) {
		headers[key] = value
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         body,
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	if p.closed {
		err = amqp.ErrClosed
	} else {
		err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
	}
	p.mu.Unlock()

	if err != nil {
		observability.IncPublishError("rabbitmq")
		p.logger.Warn("rabbitmq publish failed", "routing_key", routingKey, "err", err)
	}
	return err
}

func (p *amqpPublisher) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	_ = p.ch.Close()
	return p.conn.Close()
}

type noopPublisher struct {
	reason string
	logger *slog.Logger
}

// NewNoop returns a publisher that only logs what it would have sent.
func NewNoop(reason string, logger *slog.Logger) Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return noopPublisher{reason: reason, logger: logger}
}

func (p noopPublisher) Publish(_ context.Context, routingKey string, event any) error {
	attrs := []any{"routing_key", routingKey}
	if envelope, ok := event.(telemetry.Envelope); ok {
		attrs = append(attrs, "event_type", envelope.EventType, "request_id", envelope.RequestID)
	}
	p.logger.Debug("noop publish", attrs...)
	return nil
}

func (noopPublisher) Close() error { return nil }

// PublisherMode names the publisher implementation for logs and tests.
func PublisherMode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case noopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

// PublisherNoopReason explains why a noop publisher was chosen.
func PublisherNoopReason(p Publisher) string {
	if publisher, ok := p.(noopPublisher); ok {
		return publisher.reason
	}
	return ""
}
