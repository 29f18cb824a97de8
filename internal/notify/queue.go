package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Dial connects to RabbitMQ, retrying a fixed number of times.
func Dial(ctx context.Context, url string, maxRetries int, retryDelay time.Duration, logger *zap.Logger) (*amqp.Connection, error) {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var err error
	for i := 0; i < maxRetries; i++ {
		var conn *amqp.Connection
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		if i < maxRetries-1 {
			logger.Warn("rabbitmq dial failed, retrying",
				zap.Int("attempt", i+1),
				zap.Int("max", maxRetries),
				zap.Duration("delay", retryDelay),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}
	return nil, fmt.Errorf("rabbitmq unreachable after %d attempts: %w", maxRetries, err)
}

func declare(ch *amqp.Channel, queue string) error {
	_, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	return err
}

// QueuePublisher pushes deliveries onto a durable queue.
type QueuePublisher struct {
	mu    sync.Mutex
	ch    *amqp.Channel
	queue string
}

var _ Publisher = (*QueuePublisher)(nil)

func NewQueuePublisher(conn *amqp.Connection, queue string) (*QueuePublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := declare(ch, queue); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	return &QueuePublisher{ch: ch, queue: queue}, nil
}

func (p *QueuePublisher) Publish(ctx context.Context, d Delivery) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx,
		"",      // exchange
		p.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish delivery: %w", err)
	}
	return nil
}

func (p *QueuePublisher) Close() error {
	if p == nil || p.ch == nil {
		return nil
	}
	return p.ch.Close()
}

// QueueConsumer feeds queued deliveries to a handler with manual acks.
type QueueConsumer struct {
	ch     *amqp.Channel
	queue  string
	logger *zap.Logger
}

func NewQueueConsumer(conn *amqp.Connection, queue string, prefetch int, logger *zap.Logger) (*QueueConsumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := declare(ch, queue); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			_ = ch.Close()
			return nil, err
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueConsumer{ch: ch, queue: queue, logger: logger}, nil
}

// Run blocks until ctx ends or the channel closes. A failed delivery is
// requeued once; a second failure drops it.
func (c *QueueConsumer) Run(ctx context.Context, handle func(context.Context, Delivery) error) error {
	msgs, err := c.ch.ConsumeWithContext(ctx,
		c.queue,
		"",    // consumer
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("rabbitmq channel closed")
			}
			var d Delivery
			if err := json.Unmarshal(msg.Body, &d); err != nil {
				c.logger.Warn("dropping malformed delivery", zap.Error(err))
				_ = msg.Nack(false, false)
				continue
			}
			if err := handle(ctx, d); err != nil {
				c.logger.Warn("delivery failed",
					zap.String("channel", d.Channel),
					zap.Uint64("notification_id", d.NotificationID),
					zap.Bool("redelivered", msg.Redelivered),
					zap.Error(err),
				)
				_ = msg.Nack(false, !msg.Redelivered)
				continue
			}
			_ = msg.Ack(false)
		}
	}
}

func (c *QueueConsumer) Close() error {
	if c == nil || c.ch == nil {
		return nil
	}
	return c.ch.Close()
}
