package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	amqplib "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/querygate/querygate/internal/domain"
	"github.com/querygate/querygate/internal/usecase"
)

const (
	queueName = "request_approved"

	// Reconnection parameters
	maxReconnectDelay  = 30 * time.Second
	baseReconnectDelay = 1 * time.Second
)

// Consumer listens for approval events from the web tier and converts each
// one into a durable execution job. The broker only carries the event; the
// Postgres queue is the source of truth for execution state, so events are
// acked once the job row is committed.
type Consumer struct {
	url       string
	conn      *amqplib.Connection
	channel   *amqplib.Channel
	enqueueUC *usecase.EnqueueJobUsecase
	logger    *zap.Logger

	mu      sync.Mutex
	closed  bool
	closeCh chan struct{}
}

// NewConsumer creates a new approval-event consumer.
func NewConsumer(url string, enqueueUC *usecase.EnqueueJobUsecase, logger *zap.Logger) (*Consumer, error) {
	c := &Consumer{
		url:       url,
		enqueueUC: enqueueUC,
		logger:    logger,
		closeCh:   make(chan struct{}),
	}

	if err := c.connect(); err != nil {
		return nil, err
	}

	return c, nil
}

// connect establishes the AMQP connection and channel with prefetch=1.
func (c *Consumer) connect() error {
	conn, err := amqplib.Dial(c.url)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}

	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("amqp qos: %w", err)
	}

	// Declare the queue (idempotent) — ensures it exists with quorum type.
	_, err = ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqplib.Table{
			"x-queue-type":              "quorum",
			"x-dead-letter-exchange":    "dlx.request_approved",
			"x-dead-letter-routing-key": "request_approved.dlq",
		},
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("amqp queue declare: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = ch
	c.mu.Unlock()

	return nil
}

// Start begins consuming events. It blocks until the context is cancelled.
// On connection loss it automatically reconnects with exponential backoff.
func (c *Consumer) Start(ctx context.Context) error {
	for {
		err := c.consume(ctx)
		if err == nil {
			// Context was cancelled — clean shutdown.
			return nil
		}

		select {
		case <-c.closeCh:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		c.logger.Warn("AMQP consumer lost connection, reconnecting...", zap.Error(err))

		for attempt := 0; ; attempt++ {
			select {
			case <-c.closeCh:
				return nil
			case <-ctx.Done():
				return nil
			default:
			}

			delay := time.Duration(math.Min(
				float64(baseReconnectDelay)*math.Pow(2, float64(attempt)),
				float64(maxReconnectDelay),
			))
			c.logger.Info("Reconnect attempt",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
			)
			time.Sleep(delay)

			if err := c.connect(); err != nil {
				c.logger.Error("Reconnect failed", zap.Error(err))
				continue
			}

			c.logger.Info("Reconnected to AMQP broker")
			break
		}
	}
}

// consume runs one consume session until the delivery channel closes or ctx
// is cancelled.
func (c *Consumer) consume(ctx context.Context) error {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()

	if ch == nil {
		return fmt.Errorf("channel is nil")
	}

	deliveries, err := ch.Consume(
		queueName,
		"",    // auto-generated consumer tag
		false, // auto-ack disabled (manual ack)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("amqp consume: %w", err)
	}

	c.logger.Info("AMQP consumer started", zap.String("queue", queueName))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("AMQP consumer stopping (context cancelled)")
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			var event domain.ApprovalEvent
			if err := json.Unmarshal(delivery.Body, &event); err != nil {
				c.logger.Error("Failed to unmarshal approval event",
					zap.Error(err),
					zap.String("body", string(delivery.Body)),
				)
				delivery.Nack(false, false) // reject → DLQ
				continue
			}

			c.logger.Debug("Received approval event",
				zap.String("request_id", event.RequestID.String()),
				zap.String("approved_by", event.ApprovedBy),
			)

			if err := c.enqueueUC.Execute(ctx, &event); err != nil {
				c.logger.Error("Failed to enqueue approved request",
					zap.Error(err),
					zap.String("request_id", event.RequestID.String()),
				)
				// Transient storage trouble — requeue so the event retries.
				delivery.Nack(false, true)
				continue
			}

			if err := delivery.Ack(false); err != nil {
				c.logger.Error("Failed to ACK approval event",
					zap.String("request_id", event.RequestID.String()),
					zap.Error(err),
				)
			}
		}
	}
}

// Close gracefully shuts down the consumer.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.closeCh)

	var firstErr error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			firstErr = err
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
