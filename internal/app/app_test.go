package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/shaiso/Conductor/internal/config"
	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/queue"
	"github.com/shaiso/Conductor/internal/repo"
	"github.com/shaiso/Conductor/internal/telemetry"
)

func TestOpenStore_Memory(t *testing.T) {
	s, err := OpenStore(context.Background(), &config.Config{}, telemetry.Discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	if !s.IsMemory() {
		t.Error("expected in-memory store")
	}
	if _, ok := s.Store.(*repo.MemoryStore); !ok {
		t.Errorf("expected *repo.MemoryStore, got %T", s.Store)
	}
	// Без Postgres блокировка лидера не нужна
	if s.Leader(repo.SchedulerLockKey) != nil {
		t.Error("expected nil leader for memory store")
	}
}

func TestOpenQueue_Memory(t *testing.T) {
	q, err := OpenQueue(context.Background(), &config.Config{QueueDriver: config.QueueMemory}, telemetry.Discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer q.Close()

	if _, ok := q.(*queue.MemoryQueue); !ok {
		t.Errorf("expected *queue.MemoryQueue, got %T", q)
	}
}

func TestOpenQueue_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	q, err := OpenQueue(ctx, &config.Config{QueueDriver: config.QueueRedis, RedisAddr: mr.Addr()}, telemetry.Discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer q.Close()

	if err := q.Enqueue(ctx, domain.StepJob{NodeID: "n1", Attempt: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if items, _ := mr.List("conductor:steps:ready"); len(items) != 1 {
		t.Errorf("expected 1 job in redis, got %d", len(items))
	}
}

func TestOpenQueue_RedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := OpenQueue(ctx, &config.Config{QueueDriver: config.QueueRedis, RedisAddr: addr}, telemetry.Discard()); err == nil {
		t.Fatal("expected error for unavailable redis")
	}
}

func TestOpenQueue_UnknownDriver(t *testing.T) {
	_, err := OpenQueue(context.Background(), &config.Config{QueueDriver: "kafka"}, telemetry.Discard())
	if !errors.Is(err, ErrUnknownDriver) {
		t.Errorf("expected ErrUnknownDriver, got %v", err)
	}
}

func TestOpsMux(t *testing.T) {
	srv := httptest.NewServer(OpsMux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(string(body), "ok") {
		t.Errorf("unexpected healthz response: %d %q", resp.StatusCode, body)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from /metrics, got %d", resp.StatusCode)
	}
}

func TestServe_Shutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, "127.0.0.1:0", OpsMux(), telemetry.Discard())
	}()

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop after cancel")
	}
}
