package queue

import (
	"context"
	"errors"
	"time"

	"github.com/shaiso/Conductor/internal/domain"
)

// ErrClosed — очередь закрыта.
var ErrClosed = errors.New("queue closed")

// StepQueue — очередь шагов с at-least-once доставкой.
//
// Каждая доставка должна быть подтверждена Ack или возвращена Nack.
// Неподтверждённая доставка может прийти повторно, поэтому обработчик
// обязан быть идемпотентным.
type StepQueue interface {
	// Enqueue ставит job в очередь.
	Enqueue(ctx context.Context, job domain.StepJob) error

	// Requeue ставит job в очередь после задержки delay.
	Requeue(ctx context.Context, job domain.StepJob, delay time.Duration) error

	// Receive блокируется до появления доставки, отмены ctx или закрытия очереди.
	Receive(ctx context.Context) (*Delivery, error)

	// DeadLetter отправляет job в DLQ с причиной.
	DeadLetter(ctx context.Context, job domain.StepJob, reason string) error

	// Close останавливает очередь; заблокированные Receive возвращают ErrClosed.
	Close() error
}

// Delivery — полученное из очереди сообщение.
type Delivery struct {
	Job domain.StepJob

	ack  func(ctx context.Context) error
	nack func(ctx context.Context, requeue bool) error
}

// NewDelivery создаёт доставку с функциями подтверждения.
// Используется реализациями StepQueue.
func NewDelivery(job domain.StepJob, ack func(context.Context) error, nack func(context.Context, bool) error) *Delivery {
	return &Delivery{Job: job, ack: ack, nack: nack}
}

// Ack подтверждает обработку.
func (d *Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

// Nack отклоняет доставку: requeue=true возвращает job в очередь,
// false — отправляет в DLQ (или отбрасывает, если DLQ нет).
func (d *Delivery) Nack(ctx context.Context, requeue bool) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(ctx, requeue)
}

// DeadLetterMessage — сообщение в DLQ.
type DeadLetterMessage struct {
	Job      domain.StepJob `json:"job"`
	Reason   string         `json:"reason"`
	Attempts int            `json:"attempts"`
	FailedAt time.Time      `json:"failed_at"`
}

// NewDeadLetterMessage заполняет сообщение DLQ для job.
func NewDeadLetterMessage(job domain.StepJob, reason string) DeadLetterMessage {
	return DeadLetterMessage{
		Job:      job,
		Reason:   reason,
		Attempts: job.Attempt,
		FailedAt: time.Now().UTC(),
	}
}
