// Conductor API — HTTP-интерфейс оркестратора.
//
// API:
//   - Запускает workflow (POST /orchestrate) и отправляет первую волну шагов
//   - Отдаёт состояние run, отменяет run
//   - Показывает DLQ и повторно отправляет шаги
//   - Публикует версии workflow и управляет schedules
//
// С QUEUE_DRIVER=memory очередь не разделяется между процессами,
// поэтому воркер запускается внутри API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/Conductor/internal/api"
	"github.com/shaiso/Conductor/internal/app"
	"github.com/shaiso/Conductor/internal/config"
	"github.com/shaiso/Conductor/internal/orchestrator"
	"github.com/shaiso/Conductor/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting conductor-api")

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

	if cfg.QueueDriver == config.QueueMemory {
		w, err := app.StartWorker(ctx, cfg, storage, q, orch, logger)
		if err != nil {
			logger.Error("failed to start embedded worker", "error", err)
			os.Exit(1)
		}
		defer w.Stop()
		logger.Info("embedded worker started")
	}

	handler := api.NewHandler(api.Config{
		Orchestrator: orch,
		Schedules:    storage,
		Logger:       logger,
	})

	// Health и metrics + API маршруты
	mux := app.OpsMux()
	handler.RegisterRoutes(mux)

	if err := app.Serve(ctx, config.Addr(cfg.APIPort), mux, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("conductor-api stopped")
}
