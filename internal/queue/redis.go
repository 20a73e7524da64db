package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Conductor/internal/domain"
)

// RedisQueue — StepQueue поверх Redis.
//
// Ключи (prefix по умолчанию "conductor"):
//   - {prefix}:steps:ready      — список готовых jobs (LPUSH / LMOVE RIGHT)
//   - {prefix}:steps:processing — список выданных, но не подтверждённых jobs
//   - {prefix}:steps:delayed    — sorted set отложенных jobs (score = unix ms)
//   - {prefix}:steps:dlq        — список сообщений DLQ
//
// Отложенные jobs переносятся в ready при каждом Receive.
// Перенос атомарен относительно других воркеров: job переносит только
// тот, чей ZREM удалил элемент.
type RedisQueue struct {
	client       *redis.Client
	prefix       string
	pollInterval time.Duration
	logger       *slog.Logger

	closed chan struct{}
	once   sync.Once
}

var _ StepQueue = (*RedisQueue)(nil)

// RedisOption настраивает RedisQueue.
type RedisOption func(*RedisQueue)

// WithPrefix задаёт префикс ключей.
func WithPrefix(prefix string) RedisOption {
	return func(q *RedisQueue) {
		q.prefix = prefix
	}
}

// WithPollInterval задаёт паузу между опросами пустой очереди.
func WithPollInterval(d time.Duration) RedisOption {
	return func(q *RedisQueue) {
		q.pollInterval = d
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *slog.Logger) RedisOption {
	return func(q *RedisQueue) {
		q.logger = logger
	}
}

// NewRedisQueue создаёт очередь на клиенте Redis.
//
// Пример:
//
//	q := NewRedisQueue(
//	    redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
//	    WithPrefix("conductor"),
//	)
func NewRedisQueue(client *redis.Client, opts ...RedisOption) *RedisQueue {
	q := &RedisQueue{
		client:       client,
		prefix:       "conductor",
		pollInterval: 200 * time.Millisecond,
		logger:       slog.Default(),
		closed:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *RedisQueue) readyKey() string      { return q.prefix + ":steps:ready" }
func (q *RedisQueue) processingKey() string { return q.prefix + ":steps:processing" }
func (q *RedisQueue) delayedKey() string    { return q.prefix + ":steps:delayed" }
func (q *RedisQueue) dlqKey() string        { return q.prefix + ":steps:dlq" }

// Enqueue добавляет job в ready.
func (q *RedisQueue) Enqueue(ctx context.Context, job domain.StepJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.readyKey(), data).Err(); err != nil {
		return fmt.Errorf("redis lpush: %w", err)
	}
	return nil
}

// Requeue добавляет job в delayed со временем готовности now+delay.
func (q *RedisQueue) Requeue(ctx context.Context, job domain.StepJob, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, job)
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	dueAt := time.Now().Add(delay).UnixMilli()
	err = q.client.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(dueAt), Member: string(data)}).Err()
	if err != nil {
		return fmt.Errorf("redis zadd: %w", err)
	}
	return nil
}

// Receive переносит созревшие отложенные jobs и забирает следующий job.
func (q *RedisQueue) Receive(ctx context.Context) (*Delivery, error) {
	for {
		select {
		case <-q.closed:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if err := q.promoteDue(ctx); err != nil {
			return nil, err
		}

		raw, err := q.client.LMove(ctx, q.readyKey(), q.processingKey(), "RIGHT", "LEFT").Result()
		if errors.Is(err, redis.Nil) {
			select {
			case <-q.closed:
				return nil, ErrClosed
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(q.pollInterval):
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis lmove: %w", err)
		}

		var job domain.StepJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			// Битое сообщение: в DLQ, чтобы не получать его бесконечно
			q.logger.Error("invalid job payload, moving to dlq", "error", err)
			if err := q.reject(ctx, raw, "invalid payload: "+err.Error()); err != nil {
				q.logger.Error("failed to move invalid payload to dlq",
					"error", err,
					"payload_size", len(raw),
				)
			}
			continue
		}

		return q.delivery(job, raw), nil
	}
}

// promoteDue переносит созревшие отложенные jobs в ready.
func (q *RedisQueue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	members, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: 100,
	}).Result()
	if err != nil {
		return fmt.Errorf("redis zrangebyscore: %w", err)
	}

	for _, member := range members {
		removed, err := q.client.ZRem(ctx, q.delayedKey(), member).Result()
		if err != nil {
			return fmt.Errorf("redis zrem: %w", err)
		}
		if removed == 0 {
			continue // забрал другой воркер
		}
		if err := q.client.LPush(ctx, q.readyKey(), member).Err(); err != nil {
			return fmt.Errorf("redis lpush: %w", err)
		}
	}
	return nil
}

func (q *RedisQueue) delivery(job domain.StepJob, raw string) *Delivery {
	return NewDelivery(job,
		func(ctx context.Context) error {
			return q.client.LRem(ctx, q.processingKey(), 1, raw).Err()
		},
		func(ctx context.Context, requeue bool) error {
			if !requeue {
				return q.reject(ctx, raw, "rejected")
			}
			pipe := q.client.TxPipeline()
			pipe.LRem(ctx, q.processingKey(), 1, raw)
			pipe.LPush(ctx, q.readyKey(), raw)
			_, err := pipe.Exec(ctx)
			return err
		},
	)
}

// reject убирает raw из processing и кладёт в DLQ.
func (q *RedisQueue) reject(ctx context.Context, raw, reason string) error {
	msg := map[string]any{
		"raw":       raw,
		"reason":    reason,
		"failed_at": time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.processingKey(), 1, raw)
	pipe.LPush(ctx, q.dlqKey(), data)
	_, err = pipe.Exec(ctx)
	return err
}

// DeadLetter кладёт сообщение DLQ для job.
func (q *RedisQueue) DeadLetter(ctx context.Context, job domain.StepJob, reason string) error {
	data, err := json.Marshal(NewDeadLetterMessage(job, reason))
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	if err := q.client.LPush(ctx, q.dlqKey(), data).Err(); err != nil {
		return fmt.Errorf("redis lpush: %w", err)
	}
	return nil
}

// DeadLetters читает последние limit сообщений DLQ (новые первыми).
// Сообщения битых payload'ов, у которых нет job, пропускаются.
func (q *RedisQueue) DeadLetters(ctx context.Context, limit int64) ([]DeadLetterMessage, error) {
	raw, err := q.client.LRange(ctx, q.dlqKey(), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}

	out := make([]DeadLetterMessage, 0, len(raw))
	for _, item := range raw {
		var msg DeadLetterMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil || msg.Job.NodeID == "" {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// Close останавливает получение и закрывает клиент.
func (q *RedisQueue) Close() error {
	var err error
	q.once.Do(func() {
		close(q.closed)
		err = q.client.Close()
	})
	return err
}
