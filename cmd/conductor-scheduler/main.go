// Conductor Scheduler — запускает workflow по cron и интервалам.
//
// Экземпляров может быть несколько: тики выполняет только лидер,
// удерживающий advisory lock в Postgres.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/Conductor/internal/app"
	"github.com/shaiso/Conductor/internal/config"
	"github.com/shaiso/Conductor/internal/orchestrator"
	"github.com/shaiso/Conductor/internal/repo"
	"github.com/shaiso/Conductor/internal/scheduler"
	"github.com/shaiso/Conductor/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting conductor-scheduler")

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

	sched := scheduler.New(scheduler.Config{
		Schedules:    storage,
		Orchestrator: orch,
		Leader:       storage.Leader(repo.SchedulerLockKey),
		Logger:       logger,
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.Run(ctx)
	}()

	// HTTP mux: /healthz + /metrics
	if err := app.Serve(ctx, config.Addr(cfg.SchedPort), app.OpsMux(), logger); err != nil {
		logger.Error("http server error", "error", err)
		cancel()
	}

	<-done
	logger.Info("conductor-scheduler stopped")
}
