package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupRedisQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := NewRedisQueue(client, WithPrefix("test"), WithPollInterval(10*time.Millisecond))
	t.Cleanup(func() { q.Close() })
	return q, mr
}

func TestRedisQueue_EnqueueReceiveAck(t *testing.T) {
	q, mr := setupRedisQueue(t)
	ctx := context.Background()

	job := testJob("n1")
	job.Payload = map[string]any{"url": "https://example.com"}
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	d := receive(t, q, time.Second)
	if d.Job.RunID != job.RunID || d.Job.NodeID != "n1" {
		t.Errorf("unexpected job: %+v", d.Job)
	}
	if d.Job.Payload["url"] != "https://example.com" {
		t.Errorf("payload lost: %+v", d.Job.Payload)
	}

	// До ack job лежит в processing
	if items, _ := mr.List("test:steps:processing"); len(items) != 1 {
		t.Errorf("expected 1 job in processing, got %d", len(items))
	}

	if err := d.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if mr.Exists("test:steps:processing") {
		items, _ := mr.List("test:steps:processing")
		if len(items) != 0 {
			t.Errorf("processing should be empty after ack, got %d", len(items))
		}
	}
}

func TestRedisQueue_FIFO(t *testing.T) {
	q, _ := setupRedisQueue(t)
	ctx := context.Background()

	q.Enqueue(ctx, testJob("n1"))
	q.Enqueue(ctx, testJob("n2"))

	if d := receive(t, q, time.Second); d.Job.NodeID != "n1" {
		t.Errorf("expected n1 first, got %s", d.Job.NodeID)
	}
	if d := receive(t, q, time.Second); d.Job.NodeID != "n2" {
		t.Errorf("expected n2 second, got %s", d.Job.NodeID)
	}
}

func TestRedisQueue_Requeue(t *testing.T) {
	q, mr := setupRedisQueue(t)
	ctx := context.Background()

	if err := q.Requeue(ctx, testJob("retry"), 100*time.Millisecond); err != nil {
		t.Fatalf("requeue: %v", err)
	}

	members, _ := mr.ZMembers("test:steps:delayed")
	if len(members) != 1 {
		t.Fatalf("expected 1 delayed job, got %d", len(members))
	}

	// Пока задержка не прошла, Receive ничего не получает
	shortCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	if _, err := q.Receive(shortCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected no delivery before delay, got %v", err)
	}

	d := receive(t, q, 2*time.Second)
	if d.Job.NodeID != "retry" {
		t.Errorf("expected retry job, got %s", d.Job.NodeID)
	}
}

func TestRedisQueue_NackRequeue(t *testing.T) {
	q, _ := setupRedisQueue(t)
	ctx := context.Background()

	q.Enqueue(ctx, testJob("n1"))
	d := receive(t, q, time.Second)
	if err := d.Nack(ctx, true); err != nil {
		t.Fatalf("nack: %v", err)
	}

	d = receive(t, q, time.Second)
	if d.Job.NodeID != "n1" {
		t.Errorf("expected redelivery of n1, got %s", d.Job.NodeID)
	}
}

func TestRedisQueue_DeadLetter(t *testing.T) {
	q, mr := setupRedisQueue(t)
	ctx := context.Background()

	job := testJob("n1")
	job.Attempt = 3
	if err := q.DeadLetter(ctx, job, "connector timeout"); err != nil {
		t.Fatalf("dead letter: %v", err)
	}

	items, err := mr.List("test:steps:dlq")
	if err != nil || len(items) != 1 {
		t.Fatalf("expected 1 dlq item, got %d (%v)", len(items), err)
	}

	var msg DeadLetterMessage
	if err := json.Unmarshal([]byte(items[0]), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Reason != "connector timeout" || msg.Attempts != 3 || msg.Job.NodeID != "n1" {
		t.Errorf("unexpected dlq message: %+v", msg)
	}

	letters, err := q.DeadLetters(ctx, 10)
	if err != nil || len(letters) != 1 {
		t.Errorf("expected 1 dead letter via DeadLetters, got %d (%v)", len(letters), err)
	}
}

func TestRedisQueue_InvalidPayloadGoesToDLQ(t *testing.T) {
	q, mr := setupRedisQueue(t)
	ctx := context.Background()

	mr.Lpush("test:steps:ready", "not-json")
	q.Enqueue(ctx, testJob("valid"))

	// Битое сообщение пропускается, валидное доставляется
	d := receive(t, q, time.Second)
	if d.Job.NodeID != "valid" {
		t.Errorf("expected valid job, got %s", d.Job.NodeID)
	}

	items, _ := mr.List("test:steps:dlq")
	if len(items) != 1 {
		t.Errorf("expected broken payload in dlq, got %d items", len(items))
	}
}

func TestRedisQueue_InvalidPayloadRejectFailureLogged(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	q := NewRedisQueue(client,
		WithPrefix("test"),
		WithPollInterval(10*time.Millisecond),
		WithLogger(logger),
	)
	defer q.Close()
	ctx := context.Background()

	// DLQ-ключ занят строкой: LPUSH в него падает с WRONGTYPE
	mr.Set("test:steps:dlq", "occupied")
	mr.Lpush("test:steps:ready", "not-json")
	q.Enqueue(ctx, testJob("valid"))

	d := receive(t, q, time.Second)
	if d.Job.NodeID != "valid" {
		t.Errorf("expected valid job, got %s", d.Job.NodeID)
	}

	if !strings.Contains(logs.String(), "failed to move invalid payload to dlq") {
		t.Errorf("expected reject failure in logs, got:\n%s", logs.String())
	}
}

func TestRedisQueue_Close(t *testing.T) {
	q, _ := setupRedisQueue(t)
	q.Close()

	if _, err := q.Receive(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
