package queue

import (
	"context"
	"sync"
	"time"

	"github.com/shaiso/Conductor/internal/domain"
)

// MemoryQueue — StepQueue в памяти процесса.
//
// Очередь неограничена; задержанные jobs ждут на таймерах.
// После Close таймеры останавливаются и новые jobs не принимаются.
type MemoryQueue struct {
	mu          sync.Mutex
	ready       []domain.StepJob
	deadLetters []DeadLetterMessage
	timers      map[*time.Timer]struct{}

	notify chan struct{}
	closed chan struct{}
	once   sync.Once
}

var _ StepQueue = (*MemoryQueue)(nil)

// NewMemoryQueue создаёт пустую очередь.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		timers: make(map[*time.Timer]struct{}),
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// Enqueue добавляет job в конец очереди.
func (q *MemoryQueue) Enqueue(_ context.Context, job domain.StepJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.isClosed() {
		return ErrClosed
	}
	q.push(job)
	return nil
}

// push добавляет job и будит ожидающего получателя. Вызывается под mu.
func (q *MemoryQueue) push(job domain.StepJob) {
	q.ready = append(q.ready, job)
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Requeue добавляет job после задержки.
func (q *MemoryQueue) Requeue(ctx context.Context, job domain.StepJob, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, job)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.isClosed() {
		return ErrClosed
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()

		delete(q.timers, timer)
		if !q.isClosed() {
			q.push(job)
		}
	})
	q.timers[timer] = struct{}{}
	return nil
}

// Receive возвращает первый job очереди.
func (q *MemoryQueue) Receive(ctx context.Context) (*Delivery, error) {
	for {
		q.mu.Lock()
		if q.isClosed() {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		if len(q.ready) > 0 {
			job := q.ready[0]
			q.ready = q.ready[1:]
			// Остальным получателям тоже может хватить работы
			if len(q.ready) > 0 {
				select {
				case q.notify <- struct{}{}:
				default:
				}
			}
			q.mu.Unlock()
			return q.delivery(job), nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.closed:
			return nil, ErrClosed
		case <-q.notify:
		}
	}
}

func (q *MemoryQueue) delivery(job domain.StepJob) *Delivery {
	return NewDelivery(job,
		func(context.Context) error { return nil },
		func(ctx context.Context, requeue bool) error {
			if requeue {
				return q.Enqueue(ctx, job)
			}
			return q.DeadLetter(ctx, job, "rejected")
		},
	)
}

// DeadLetter сохраняет job в DLQ.
func (q *MemoryQueue) DeadLetter(_ context.Context, job domain.StepJob, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.deadLetters = append(q.deadLetters, NewDeadLetterMessage(job, reason))
	return nil
}

// DeadLetters возвращает копию содержимого DLQ.
func (q *MemoryQueue) DeadLetters() []DeadLetterMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]DeadLetterMessage, len(q.deadLetters))
	copy(out, q.deadLetters)
	return out
}

// Len возвращает количество готовых к выдаче jobs.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

// Close останавливает очередь и отложенные таймеры.
func (q *MemoryQueue) Close() error {
	q.once.Do(func() {
		q.mu.Lock()
		defer q.mu.Unlock()

		close(q.closed)
		for t := range q.timers {
			t.Stop()
		}
		q.timers = make(map[*time.Timer]struct{})
	})
	return nil
}

func (q *MemoryQueue) isClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}
