package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conductor/internal/domain"
)

func testJob(nodeID string) domain.StepJob {
	return domain.StepJob{
		RunID:     uuid.New(),
		StepID:    uuid.New(),
		NodeID:    nodeID,
		Connector: "noop",
		Attempt:   1,
	}
}

func receive(t *testing.T, q StepQueue, timeout time.Duration) *Delivery {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	d, err := q.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	return d
}

func TestMemoryQueue_FIFO(t *testing.T) {
	q := NewMemoryQueue()
	defer q.Close()
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

func TestMemoryQueue_ReceiveBlocksUntilEnqueue(t *testing.T) {
	q := NewMemoryQueue()
	defer q.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Enqueue(context.Background(), testJob("late"))
	}()

	if d := receive(t, q, time.Second); d.Job.NodeID != "late" {
		t.Errorf("expected late job, got %s", d.Job.NodeID)
	}
}

func TestMemoryQueue_Requeue(t *testing.T) {
	q := NewMemoryQueue()
	defer q.Close()

	start := time.Now()
	q.Requeue(context.Background(), testJob("retry"), 50*time.Millisecond)

	if q.Len() != 0 {
		t.Error("delayed job should not be ready immediately")
	}
	d := receive(t, q, time.Second)
	if d.Job.NodeID != "retry" {
		t.Errorf("expected retry job, got %s", d.Job.NodeID)
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Error("job delivered before its delay")
	}
}

func TestMemoryQueue_Nack(t *testing.T) {
	q := NewMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	q.Enqueue(ctx, testJob("n1"))
	d := receive(t, q, time.Second)

	// requeue=true — job возвращается
	d.Nack(ctx, true)
	d = receive(t, q, time.Second)
	if d.Job.NodeID != "n1" {
		t.Fatalf("expected redelivery of n1, got %s", d.Job.NodeID)
	}

	// requeue=false — job уходит в DLQ
	d.Nack(ctx, false)
	if got := q.DeadLetters(); len(got) != 1 || got[0].Reason != "rejected" {
		t.Errorf("expected rejected job in dlq, got %+v", got)
	}
}

func TestMemoryQueue_DeadLetter(t *testing.T) {
	q := NewMemoryQueue()
	defer q.Close()

	job := testJob("n1")
	job.Attempt = 3
	q.DeadLetter(context.Background(), job, "boom")

	got := q.DeadLetters()
	if len(got) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(got))
	}
	if got[0].Reason != "boom" || got[0].Attempts != 3 || got[0].Job.NodeID != "n1" {
		t.Errorf("unexpected dead letter: %+v", got[0])
	}
}

func TestMemoryQueue_Close(t *testing.T) {
	q := NewMemoryQueue()

	done := make(chan error, 1)
	go func() {
		_, err := q.Receive(context.Background())
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Receive did not return after Close")
	}

	if err := q.Enqueue(context.Background(), testJob("n1")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed on enqueue, got %v", err)
	}
}

func TestMemoryQueue_ContextCancel(t *testing.T) {
	q := NewMemoryQueue()
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := q.Receive(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
