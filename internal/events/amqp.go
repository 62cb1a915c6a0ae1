// Package events publishes user lifecycle events to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dusk-indust/roster/internal/config"
	"github.com/dusk-indust/roster/internal/logging"
	"github.com/dusk-indust/roster/internal/userstore"
	amqp "github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 5 * time.Second

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher sends each event as JSON to a durable topic exchange, using
// the event type as routing key.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       channel
	exchange string
	logger   *slog.Logger
}

var _ userstore.Publisher = (*AMQPPublisher)(nil)

// Dial connects to the broker at url and declares exchange.
func Dial(url, exchange string, logger *slog.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp: open channel: %w", err)
	}
	p, err := newPublisher(ch, exchange, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, exchange string, logger *slog.Logger) (*AMQPPublisher, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if err := declareExchange(ch, exchange); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("amqp: declare exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{ch: ch, exchange: exchange, logger: logger}, nil
}

func declareExchange(ch channel, name string) error {
	return ch.ExchangeDeclare(
		name,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
}

// Publish implements userstore.Publisher.
func (p *AMQPPublisher) Publish(ctx context.Context, ev userstore.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("amqp: encode %s: %w", ev.Type, err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return fmt.Errorf("amqp: publisher closed")
	}
	err = p.ch.PublishWithContext(ctx,
		p.exchange,
		string(ev.Type),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    ev.OccurredAt,
			Type:         string(ev.Type),
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("amqp: publish %s: %w", ev.Type, err)
	}
	p.logger.Debug("event published", "type", ev.Type, "user_id", ev.User.ID)
	return nil
}

// Close releases the channel and connection. It is safe to call twice.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if p.ch != nil {
		err = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		if cerr := p.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
		p.conn = nil
	}
	return err
}

// FromConfig returns the publisher selected by cfg and a function releasing
// it. Without an AMQP URL events are dropped.
func FromConfig(cfg config.EventsConfig, logger *slog.Logger) (userstore.Publisher, func() error, error) {
	if cfg.AMQPURL == "" {
		return userstore.NopPublisher{}, func() error { return nil }, nil
	}
	p, err := Dial(cfg.AMQPURL, cfg.Exchange, logger)
	if err != nil {
		return nil, nil, err
	}
	return p, p.Close, nil
}
