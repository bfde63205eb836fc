package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"ragbase/types"
)

type RabbitConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
	Queue      string
}

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// RabbitPublisher publishes jobs on one channel. A channel or connection that
// the broker closed is reopened on the next Publish.
type RabbitPublisher struct {
	cfg  RabbitConfig
	dial func() (*amqp.Connection, error)

	mu      sync.Mutex
	conn    *amqp.Connection
	channel channel
	open    func() (channel, error)
	closed  bool
}

func DialRabbit(cfg RabbitConfig) (*RabbitPublisher, error) {
	dial := func() (*amqp.Connection, error) { return amqp.Dial(cfg.URL) }
	conn, err := dial()
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	p, err := NewRabbitPublisher(conn, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.dial = dial
	return p, nil
}

// NewRabbitPublisher declares a durable topic exchange and, when cfg.Queue is
// set, a durable queue bound to the routing key so jobs survive until a worker starts.
// Without a dial function only the channel can be reopened, not conn itself.
func NewRabbitPublisher(conn *amqp.Connection, cfg RabbitConfig) (*RabbitPublisher, error) {
	p := &RabbitPublisher{cfg: cfg, conn: conn}
	p.open = p.openChannel
	ch, err := p.open()
	if err != nil {
		return nil, err
	}
	p.channel = ch
	return p, nil
}

func (p *RabbitPublisher) openChannel() (channel, error) {
	if p.conn == nil || p.conn.IsClosed() {
		if p.dial == nil {
			return nil, errors.New("connection closed")
		}
		conn, err := p.dial()
		if err != nil {
			return nil, fmt.Errorf("redial rabbitmq: %w", err)
		}
		p.conn = conn
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := declare(ch, p.cfg); err != nil {
		ch.Close()
		return nil, err
	}
	return ch, nil
}

func declare(ch *amqp.Channel, cfg RabbitConfig) error {
	err := ch.ExchangeDeclare(
		cfg.Exchange,
		"topic",
		true, // durable
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}

	if cfg.Queue != "" {
		q, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", cfg.Queue, err)
		}
		if err := ch.QueueBind(q.Name, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", cfg.Queue, err)
		}
	}
	return nil
}

// Publish sends job as a persistent JSON message. Any broker failure is
// reported as types.ErrQueueUnavailable so the caller can retry.
func (p *RabbitPublisher) Publish(ctx context.Context, job types.ProcessingJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("%w: publisher closed", types.ErrQueueUnavailable)
	}
	if p.channel == nil || p.channel.IsClosed() {
		ch, err := p.open()
		if err != nil {
			p.channel = nil
			return fmt.Errorf("%w: reopen channel: %v", types.ErrQueueUnavailable, err)
		}
		p.channel = ch
	}

	err = p.channel.PublishWithContext(ctx,
		p.cfg.Exchange,
		p.cfg.RoutingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    fmt.Sprintf("%s-%d", job.DocumentID, job.AttemptCount),
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrQueueUnavailable, err)
	}
	return nil
}

func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.channel != nil {
		if err := p.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			return err
		}
	}
	if p.conn == nil {
		return nil
	}
	if err := p.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return nil
}
