package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/vidstab-bot/messenger-webhook-go/internal/config"
	"github.com/vidstab-bot/messenger-webhook-go/internal/models"
	"github.com/vidstab-bot/messenger-webhook-go/pkg/logger"
)

const confirmTimeout = 5 * time.Second

// OutcomePublisher publishes outcome events to a RabbitMQ topic exchange with
// publisher confirms.
type OutcomePublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	confirms chan amqp.Confirmation
	config   *config.RabbitMQConfig
	mu       sync.Mutex
}

var _ EventPublisher = (*OutcomePublisher)(nil)

// NewOutcomePublisher connects to RabbitMQ and declares the exchange, the
// queue and their binding.
func NewOutcomePublisher(cfg *config.RabbitMQConfig) (*OutcomePublisher, error) {
	op := &OutcomePublisher{
		config: cfg,
	}

	if err := op.connect(); err != nil {
		return nil, err
	}

	return op, nil
}

func (op *OutcomePublisher) connect() error {
	op.mu.Lock()
	defer op.mu.Unlock()

	conn, err := amqp.Dial(op.config.URL())
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	closeAll := func() {
		_ = ch.Close()
		_ = conn.Close()
	}

	if err := ch.Confirm(false); err != nil {
		closeAll()
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	if err := ch.ExchangeDeclare(
		op.config.Exchange, // name
		"topic",            // type
		true,               // durable
		false,              // auto-deleted
		false,              // internal
		false,              // no-wait
		nil,                // arguments
	); err != nil {
		closeAll()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	_, err = ch.QueueDeclare(
		op.config.Queue, // name
		true,            // durable
		false,           // delete when unused
		false,           // exclusive
		false,           // no-wait
		amqp.Table{
			"x-message-ttl": 7 * 24 * 60 * 60 * 1000, // 7 days
			"x-max-length":  100000,
		},
	)
	if err != nil {
		closeAll()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(
		op.config.Queue,      // queue name
		op.config.RoutingKey, // routing key
		op.config.Exchange,   // exchange
		false,
		nil,
	); err != nil {
		closeAll()
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	op.conn = conn
	op.channel = ch
	op.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 16))

	logger.Log.Info("Connected to RabbitMQ",
		zap.String("exchange", op.config.Exchange),
		zap.String("queue", op.config.Queue),
	)

	return nil
}

// PublishOutcome publishes event and waits for the broker to confirm it.
// Publishes are serialized so each confirmation matches its message.
func (op *OutcomePublisher) PublishOutcome(ctx context.Context, event *models.OutcomeEvent) error {
	op.mu.Lock()
	defer op.mu.Unlock()

	if op.channel == nil {
		return errors.New("channel is not initialized")
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	seqNo := op.channel.GetNextPublishSeqNo()

	err = op.channel.PublishWithContext(
		ctx,
		op.config.Exchange,   // exchange
		op.config.RoutingKey, // routing key
		false,                // mandatory
		false,                // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    event.OccurredAt,
			MessageId:    event.ID.String(),
			Type:         string(event.Outcome),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	if err := awaitConfirm(ctx, op.confirms, seqNo, confirmTimeout); err != nil {
		return err
	}

	logger.Log.Debug("Published outcome event",
		zap.String("eventId", event.ID.String()),
		zap.String("outcome", string(event.Outcome)),
	)

	return nil
}

// awaitConfirm waits for the confirmation of delivery tag seqNo. Confirms for
// earlier tags belong to publishes that already timed out and are skipped.
func awaitConfirm(ctx context.Context, confirms <-chan amqp.Confirmation, seqNo uint64, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case confirm, ok := <-confirms:
			if !ok {
				return errors.New("channel closed before publish confirmation")
			}
			if confirm.DeliveryTag < seqNo {
				logger.Log.Debug("Skipping late publish confirmation",
					zap.Uint64("deliveryTag", confirm.DeliveryTag),
					zap.Uint64("awaiting", seqNo),
				)
				continue
			}
			if !confirm.Ack {
				return errors.New("message was not acknowledged by broker")
			}
			return nil
		case <-timer.C:
			return errors.New("timeout waiting for publish confirmation")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close closes the channel and the connection.
func (op *OutcomePublisher) Close() error {
	op.mu.Lock()
	defer op.mu.Unlock()

	var errs []error
	if op.channel != nil {
		if err := op.channel.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if op.conn != nil {
		if err := op.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("errors closing publisher: %w", err)
	}

	logger.Log.Info("RabbitMQ publisher closed")
	return nil
}

// IsHealthy reports whether the connection and channel are open.
func (op *OutcomePublisher) IsHealthy() bool {
	op.mu.Lock()
	defer op.mu.Unlock()

	return op.conn != nil && !op.conn.IsClosed() && op.channel != nil
}
