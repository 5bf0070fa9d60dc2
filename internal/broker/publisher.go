// Package broker mirrors engine change notifications onto a RabbitMQ topic
// exchange for consumers outside the process.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/larder/internal/event"
	"github.com/rabbitmq/amqp091-go"
)

const (
	queueSize      = 64
	publishTimeout = 5 * time.Second
)

// channel is the subset of *amqp091.Channel the publisher uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// Publisher queues changes from the bus and publishes them in the
// background. Enqueueing never blocks; when the queue is full the change is
// dropped and logged.
type Publisher struct {
	conn     *amqp091.Connection
	channel  channel
	exchange string
	logger   *slog.Logger
	queue    chan ChangeMessage
	now      func() time.Time
}

// Dial connects to url and declares exchange as a durable topic exchange.
func Dial(url, exchange string, logger *slog.Logger) (*Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	p, err := newPublisher(ch, exchange, logger)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, exchange string, logger *slog.Logger) (*Publisher, error) {
	err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{
		channel:  ch,
		exchange: exchange,
		logger:   logger,
		queue:    make(chan ChangeMessage, queueSize),
		now:      time.Now,
	}, nil
}

// Follow enqueues every change published on bus.
func (p *Publisher) Follow(bus *event.Bus) (unsubscribe func()) {
	return bus.Subscribe(func(c event.Change) {
		p.Enqueue(NewChangeMessage(c, bus.Version(), p.now()))
	})
}

func (p *Publisher) Enqueue(msg ChangeMessage) {
	select {
	case p.queue <- msg:
	default:
		p.logger.Warn("broker queue full, dropping change", "entity", msg.Entity, "action", msg.Action, "key", msg.Key)
	}
}

// Run publishes queued messages until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-p.queue:
			if err := p.publish(ctx, msg); err != nil {
				p.logger.Error("publish change", "routing_key", msg.RoutingKey(), "error", err)
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, msg ChangeMessage) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,       // exchange
		msg.RoutingKey(), // routing key
		false,            // mandatory
		false,            // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    msg.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	p.logger.Debug("published change", "routing_key", msg.RoutingKey(), "version", msg.Version)
	return nil
}

func (p *Publisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
