package mq

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/queue"
)

// fakeAcknowledger записывает ack/nack вместо брокера.
type fakeAcknowledger struct {
	mu      sync.Mutex
	acks    int
	nacks   int
	requeue []bool
}

func (a *fakeAcknowledger) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	a.requeue = append(a.requeue, requeue)
	return nil
}

func (a *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	return a.Nack(0, false, requeue)
}

// fakePublisher записывает публикации.
type fakePublisher struct {
	mu     sync.Mutex
	ready  []domain.StepJob
	retry  []time.Duration
	deadLs []queue.DeadLetterMessage
}

func (p *fakePublisher) PublishStepReady(_ context.Context, job domain.StepJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = append(p.ready, job)
	return nil
}

func (p *fakePublisher) PublishStepRetry(_ context.Context, _ domain.StepJob, delay time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retry = append(p.retry, delay)
	return nil
}

func (p *fakePublisher) PublishDeadLetter(_ context.Context, dl queue.DeadLetterMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deadLs = append(p.deadLs, dl)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testJob(nodeID string) domain.StepJob {
	return domain.StepJob{
		RunID:          uuid.New(),
		StepID:         uuid.New(),
		NodeID:         nodeID,
		Connector:      "noop",
		Action:         "run",
		Payload:        map[string]any{"x": float64(1)},
		IdempotencyKey: "key-" + nodeID,
		Attempt:        1,
	}
}

// rawDelivery кодирует job так, как его видит consumer после брокера.
func rawDelivery(t *testing.T, ack *fakeAcknowledger, job domain.StepJob) *Delivery {
	t.Helper()

	body, err := json.Marshal(NewMessage(MessageTypeStepReady, job))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	return &Delivery{
		Message: msg,
		Raw:     amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: body},
	}
}

func TestParsePayload_StepJob(t *testing.T) {
	job := testJob("n1")
	d := rawDelivery(t, &fakeAcknowledger{}, job)

	// После декодирования конверта payload — map[string]any
	if _, ok := d.Message.Payload.(map[string]any); !ok {
		t.Fatalf("expected map payload, got %T", d.Message.Payload)
	}

	got, err := ParsePayload[domain.StepJob](&d.Message)
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if got.RunID != job.RunID || got.NodeID != "n1" || got.IdempotencyKey != job.IdempotencyKey {
		t.Errorf("unexpected job: %+v", got)
	}
	if got.Payload["x"] != float64(1) {
		t.Errorf("expected payload x=1, got %v", got.Payload["x"])
	}
}

func TestExpiration(t *testing.T) {
	tests := []struct {
		delay time.Duration
		want  string
	}{
		{1500 * time.Millisecond, "1500"},
		{2 * time.Second, "2000"},
		{0, "1"},
		{time.Microsecond, "1"},
	}

	for _, tt := range tests {
		if got := expiration(tt.delay); got != tt.want {
			t.Errorf("expiration(%v) = %q, want %q", tt.delay, got, tt.want)
		}
	}
}

func TestTopology_RetryReturnsToReady(t *testing.T) {
	args := queueArgs()

	retry := args[QueueStepsRetry]
	if retry["x-dead-letter-exchange"] != string(ExchangeSteps) {
		t.Errorf("retry DLX = %v", retry["x-dead-letter-exchange"])
	}
	if retry["x-dead-letter-routing-key"] != string(RoutingKeyReady) {
		t.Errorf("retry DLX routing key = %v", retry["x-dead-letter-routing-key"])
	}

	ready := args[QueueStepsReady]
	if ready["x-dead-letter-exchange"] != string(ExchangeDLQ) {
		t.Errorf("ready DLX = %v", ready["x-dead-letter-exchange"])
	}

	// Каждая очередь привязана ровно один раз
	seen := map[QueueName]int{}
	for _, b := range bindings() {
		seen[b.queue]++
	}
	for _, name := range []QueueName{QueueStepsReady, QueueStepsRetry, QueueStepsDLQ} {
		if seen[name] != 1 {
			t.Errorf("queue %s bound %d times", name, seen[name])
		}
	}
}

func TestNewConsumer_DefaultPrefetch(t *testing.T) {
	c := NewConsumer(nil, testLogger(), ConsumerConfig{Queue: QueueStepsReady})
	if c.prefetch != 1 {
		t.Errorf("expected prefetch 1, got %d", c.prefetch)
	}
}

func TestQueue_HandleReceiveAck(t *testing.T) {
	pub := &fakePublisher{}
	q := newQueue(pub, testLogger())
	ack := &fakeAcknowledger{}
	job := testJob("n1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	raw := rawDelivery(t, ack, job)
	errCh := make(chan error, 1)
	go func() { errCh <- q.handle(ctx, raw) }()

	d, err := q.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if d.Job.NodeID != "n1" || d.Job.RunID != job.RunID {
		t.Errorf("unexpected job: %+v", d.Job)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("handle: %v", err)
	}

	if err := d.Ack(ctx); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if ack.acks != 1 || ack.nacks != 0 {
		t.Errorf("expected 1 ack, got acks=%d nacks=%d", ack.acks, ack.nacks)
	}
}

func TestQueue_NackWithoutRequeuePublishesDeadLetter(t *testing.T) {
	pub := &fakePublisher{}
	q := newQueue(pub, testLogger())
	ack := &fakeAcknowledger{}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go q.handle(ctx, rawDelivery(t, ack, testJob("n1")))

	d, err := q.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if err := d.Nack(ctx, false); err != nil {
		t.Fatalf("Nack: %v", err)
	}

	if len(pub.deadLs) != 1 || pub.deadLs[0].Reason != "rejected" {
		t.Fatalf("expected one rejected dead letter, got %+v", pub.deadLs)
	}
	// Исходное сообщение подтверждено, копия уже в DLQ
	if ack.acks != 1 || ack.nacks != 0 {
		t.Errorf("expected ack after dead-lettering, got acks=%d nacks=%d", ack.acks, ack.nacks)
	}
}

func TestQueue_NackRequeue(t *testing.T) {
	q := newQueue(&fakePublisher{}, testLogger())
	ack := &fakeAcknowledger{}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go q.handle(ctx, rawDelivery(t, ack, testJob("n1")))

	d, err := q.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if err := d.Nack(ctx, true); err != nil {
		t.Fatalf("Nack: %v", err)
	}

	if ack.nacks != 1 || !ack.requeue[0] {
		t.Errorf("expected nack with requeue, got %+v", ack.requeue)
	}
}

func TestQueue_HandleInvalidJob(t *testing.T) {
	q := newQueue(&fakePublisher{}, testLogger())
	ack := &fakeAcknowledger{}

	// Job без node_id отклоняется в DLX, Receive его не видит
	d := rawDelivery(t, ack, domain.StepJob{RunID: uuid.New()})
	if err := q.handle(context.Background(), d); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if ack.nacks != 1 || ack.requeue[0] {
		t.Errorf("expected nack without requeue, got %+v", ack.requeue)
	}
}

func TestQueue_RequeueRouting(t *testing.T) {
	pub := &fakePublisher{}
	q := newQueue(pub, testLogger())
	ctx := context.Background()

	if err := q.Requeue(ctx, testJob("n1"), 0); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	if err := q.Requeue(ctx, testJob("n1"), 3*time.Second); err != nil {
		t.Fatalf("Requeue: %v", err)
	}

	// Без задержки — сразу в ready, с задержкой — в retry
	if len(pub.ready) != 1 {
		t.Errorf("expected 1 ready publish, got %d", len(pub.ready))
	}
	if len(pub.retry) != 1 || pub.retry[0] != 3*time.Second {
		t.Errorf("expected retry with 3s delay, got %v", pub.retry)
	}
}

func TestQueue_Closed(t *testing.T) {
	q := newQueue(&fakePublisher{}, testLogger())

	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Повторный Close безопасен
	if err := q.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	ctx := context.Background()
	if _, err := q.Receive(ctx); !errors.Is(err, queue.ErrClosed) {
		t.Errorf("Receive: expected ErrClosed, got %v", err)
	}
	if err := q.Enqueue(ctx, testJob("n1")); !errors.Is(err, queue.ErrClosed) {
		t.Errorf("Enqueue: expected ErrClosed, got %v", err)
	}
	if err := q.DeadLetter(ctx, testJob("n1"), "x"); !errors.Is(err, queue.ErrClosed) {
		t.Errorf("DeadLetter: expected ErrClosed, got %v", err)
	}
}

func TestNextDelay(t *testing.T) {
	d := reconnectMinDelay
	for i := 0; i < 10; i++ {
		d = nextDelay(d)
	}
	if d != reconnectMaxDelay {
		t.Errorf("delay should cap at %s, got %s", reconnectMaxDelay, d)
	}
	if got := nextDelay(2 * time.Second); got != 4*time.Second {
		t.Errorf("expected 4s, got %s", got)
	}
}

func TestConnection_ClosedWithChannel(t *testing.T) {
	c := &Connection{logger: testLogger(), closedCh: make(chan struct{})}

	if err := c.WithChannel(context.Background(), func(*amqp.Channel) error { return nil }); !errors.Is(err, ErrNoChannel) {
		t.Errorf("expected ErrNoChannel, got %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}

	if err := c.WithChannel(context.Background(), func(*amqp.Channel) error { return nil }); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("expected ErrConnectionClosed, got %v", err)
	}
}
