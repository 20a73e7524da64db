package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/queue"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeStepReady MessageType = "step.ready"
	MessageTypeStepRetry MessageType = "step.retry"
	MessageTypeStepDead  MessageType = "step.dead"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — конверт сообщения.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка (StepJob или DeadLetterMessage).
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage создаёт конверт с новым ID.
func NewMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// PublishOption настраивает amqp.Publishing.
type PublishOption func(*amqp.Publishing)

// WithExpiration задаёт TTL сообщения.
func WithExpiration(d time.Duration) PublishOption {
	return func(p *amqp.Publishing) {
		p.Expiration = expiration(d)
	}
}

// expiration переводит задержку в миллисекунды AMQP (не меньше 1).
func expiration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return strconv.FormatInt(ms, 10)
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message, opts ...PublishOption) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
		MessageId:    msg.ID,
		Type:         string(msg.Type),
		Timestamp:    msg.Timestamp,
		Body:         body,
	}
	for _, opt := range opts {
		opt(&publishing)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			publishing,
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishStepReady публикует job, готовый к выполнению.
// Потребитель: Worker.
func (p *Publisher) PublishStepReady(ctx context.Context, job domain.StepJob) error {
	return p.Publish(ctx, ExchangeSteps, RoutingKeyReady, NewMessage(MessageTypeStepReady, job))
}

// PublishStepRetry публикует job в очередь ожидания; через delay
// RabbitMQ вернёт его в conductor.steps.ready.
func (p *Publisher) PublishStepRetry(ctx context.Context, job domain.StepJob, delay time.Duration) error {
	return p.Publish(ctx, ExchangeSteps, RoutingKeyRetry, NewMessage(MessageTypeStepRetry, job), WithExpiration(delay))
}

// PublishDeadLetter публикует запись в DLQ.
func (p *Publisher) PublishDeadLetter(ctx context.Context, dl queue.DeadLetterMessage) error {
	return p.Publish(ctx, ExchangeDLQ, RoutingKeyDLQ, NewMessage(MessageTypeStepDead, dl))
}
