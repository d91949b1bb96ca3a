package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"order-intake/internal/domain"
)

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher forwards live events to a fanout exchange. Publish only enqueues;
// a background goroutine performs the network write.
type Publisher struct {
	ch       Channel
	conn     *amqp.Connection
	exchange string
	logger   *slog.Logger

	queue chan domain.LiveEvent
	done  chan struct{}
	once  sync.Once
}

// Dial connects to the broker and declares the exchange.
func Dial(url, exchange string, queueSize int, logger *slog.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	p, err := NewPublisher(ch, exchange, queueSize, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func NewPublisher(ch Channel, exchange string, queueSize int, logger *slog.Logger) (*Publisher, error) {
	if queueSize <= 0 {
		queueSize = 256
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declaring exchange %s: %w", exchange, err)
	}

	p := &Publisher{
		ch:       ch,
		exchange: exchange,
		logger:   logger,
		queue:    make(chan domain.LiveEvent, queueSize),
		done:     make(chan struct{}),
	}
	go p.run()
	return p, nil
}

func (p *Publisher) Publish(_ context.Context, event domain.LiveEvent) {
	select {
	case <-p.done:
		return
	default:
	}

	select {
	case p.queue <- event:
	default:
		p.logger.Warn("amqp queue full, dropping event", "type", event.Type)
	}
}

func (p *Publisher) run() {
	for {
		select {
		case <-p.done:
			return
		case event := <-p.queue:
			p.send(event)
		}
	}
}

func (p *Publisher) send(event domain.LiveEvent) {
	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("encoding event", "type", event.Type, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = p.ch.PublishWithContext(ctx, p.exchange, string(event.Type), false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		ContentType:  "application/json",
		Type:         string(event.Type),
		Body:         body,
	})
	if err != nil {
		p.logger.Error("publishing event", "type", event.Type, "exchange", p.exchange, "error", err)
	}
}

// Close stops the background writer and closes the broker connection.
// Events still queued are discarded.
func (p *Publisher) Close() {
	p.once.Do(func() {
		close(p.done)
		p.ch.Close()
		if p.conn != nil {
			p.conn.Close()
		}
	})
}
