// Conductor Worker — выполняет шаги run.
//
// Worker:
//   - Получает StepJob из очереди (RabbitMQ или Redis)
//   - Выполняет коннектор (http, delay, transform, noop)
//   - Повторяет retryable ошибки с backoff, отправляет остальные в DLQ
//   - Продвигает run и отправляет следующую волну шагов
//   - Досылает зависшие шаги (sweeper)
//
// Workers масштабируются горизонтально.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/Conductor/internal/app"
	"github.com/shaiso/Conductor/internal/config"
	"github.com/shaiso/Conductor/internal/orchestrator"
	"github.com/shaiso/Conductor/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting conductor-worker")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	storage, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer storage.Close()

	q, err := app.OpenQueue(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open queue", "error", err)
		os.Exit(1)
	}
	defer q.Close()

	orch := orchestrator.New(orchestrator.Config{
		Store:  storage,
		Queue:  q,
		Logger: logger,
	})

	w, err := app.StartWorker(ctx, cfg, storage, q, orch, logger)
	if err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	if err := app.Serve(ctx, config.Addr(cfg.WorkerPort), app.OpsMux(), logger); err != nil {
		logger.Error("http server error", "error", err)
		cancel()
	}

	// Останавливаем worker
	w.Stop()
	logger.Info("conductor-worker stopped")
}
