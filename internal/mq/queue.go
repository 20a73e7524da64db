package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/queue"
)

// stepPublisher — часть Publisher, нужная Queue.
type stepPublisher interface {
	PublishStepReady(ctx context.Context, job domain.StepJob) error
	PublishStepRetry(ctx context.Context, job domain.StepJob, delay time.Duration) error
	PublishDeadLetter(ctx context.Context, dl queue.DeadLetterMessage) error
}

// Queue — queue.StepQueue поверх RabbitMQ.
//
// Сообщения читаются из conductor.steps.ready фоновым Consumer и
// передаются в Receive по одному. Неподтверждённых сообщений не больше Prefetch.
type Queue struct {
	conn     *Connection
	pub      stepPublisher
	consumer *Consumer
	logger   *slog.Logger

	deliveries chan *queue.Delivery
	startOnce  sync.Once

	mu     sync.Mutex
	cancel context.CancelFunc

	closed    chan struct{}
	closeOnce sync.Once
}

var _ queue.StepQueue = (*Queue)(nil)

// QueueConfig — конфигурация Queue.
type QueueConfig struct {
	// Prefetch — максимум неподтверждённых доставок. По умолчанию 1.
	Prefetch int

	Logger *slog.Logger
}

// Dial подключается к RabbitMQ, объявляет топологию и возвращает Queue.
func Dial(ctx context.Context, url string, cfg QueueConfig) (*Queue, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := NewConnection(url, logger)
	if err != nil {
		return nil, err
	}

	if err := SetupTopology(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setup topology: %w", err)
	}

	return NewQueue(conn, cfg), nil
}

// NewQueue создаёт Queue на готовом соединении.
func NewQueue(conn *Connection, cfg QueueConfig) *Queue {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	q := newQueue(NewPublisher(conn, logger), logger)
	q.conn = conn
	q.consumer = NewConsumer(conn, logger, ConsumerConfig{
		Queue:        QueueStepsReady,
		Handler:      q.handle,
		Prefetch:     cfg.Prefetch,
		ManualSettle: true,
	})

	return q
}

func newQueue(pub stepPublisher, logger *slog.Logger) *Queue {
	return &Queue{
		pub:        pub,
		logger:     logger,
		deliveries: make(chan *queue.Delivery),
		cancel:     func() {},
		closed:     make(chan struct{}),
	}
}

// Enqueue публикует job в conductor.steps.ready.
func (q *Queue) Enqueue(ctx context.Context, job domain.StepJob) error {
	if q.isClosed() {
		return queue.ErrClosed
	}
	return q.pub.PublishStepReady(ctx, job)
}

// Requeue публикует job в очередь ожидания с TTL = delay.
func (q *Queue) Requeue(ctx context.Context, job domain.StepJob, delay time.Duration) error {
	if q.isClosed() {
		return queue.ErrClosed
	}
	if delay <= 0 {
		return q.pub.PublishStepReady(ctx, job)
	}
	return q.pub.PublishStepRetry(ctx, job, delay)
}

// DeadLetter публикует job в conductor.steps.dlq.
func (q *Queue) DeadLetter(ctx context.Context, job domain.StepJob, reason string) error {
	if q.isClosed() {
		return queue.ErrClosed
	}
	return q.pub.PublishDeadLetter(ctx, queue.NewDeadLetterMessage(job, reason))
}

// Receive ждёт следующую доставку. Первый вызов запускает consumer.
func (q *Queue) Receive(ctx context.Context) (*queue.Delivery, error) {
	if q.isClosed() {
		return nil, queue.ErrClosed
	}
	q.startOnce.Do(q.start)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.closed:
		return nil, queue.ErrClosed
	case d := <-q.deliveries:
		return d, nil
	}
}

// start запускает consumer в фоне до Close.
func (q *Queue) start() {
	if q.consumer == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.mu.Lock()
	q.cancel = cancel
	q.mu.Unlock()

	go func() {
		err := q.consumer.Start(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			q.logger.Error("step consumer stopped", "error", err)
		}
	}()
}

// handle декодирует StepJob и передаёт доставку в Receive.
// Возвращённая ошибка вернёт сообщение в очередь.
func (q *Queue) handle(ctx context.Context, d *Delivery) error {
	job, err := ParsePayload[domain.StepJob](&d.Message)
	if err != nil || job.NodeID == "" {
		q.logger.Error("invalid step job", "message_id", d.Message.ID, "error", err)
		_ = d.Nack(false)
		return nil
	}

	delivery := queue.NewDelivery(job,
		func(context.Context) error {
			return d.Ack()
		},
		func(ctx context.Context, requeue bool) error {
			if requeue {
				return d.Nack(true)
			}
			if err := q.pub.PublishDeadLetter(ctx, queue.NewDeadLetterMessage(job, "rejected")); err != nil {
				return err
			}
			return d.Ack()
		},
	)

	select {
	case q.deliveries <- delivery:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closed:
		return queue.ErrClosed
	}
}

// Close останавливает consumer и закрывает соединение.
func (q *Queue) Close() error {
	var err error
	q.closeOnce.Do(func() {
		close(q.closed)
		q.mu.Lock()
		q.cancel()
		q.mu.Unlock()
		if q.conn != nil {
			err = q.conn.Close()
		}
	})
	return err
}

func (q *Queue) isClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}
