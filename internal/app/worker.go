package app

import (
	"context"
	"log/slog"

	"github.com/shaiso/Conductor/internal/config"
	"github.com/shaiso/Conductor/internal/orchestrator"
	"github.com/shaiso/Conductor/internal/queue"
	"github.com/shaiso/Conductor/internal/repo"
	"github.com/shaiso/Conductor/internal/worker"
)

// StartWorker запускает воркер и sweeper зависших шагов.
// Sweeper работает до отмены ctx; воркер останавливается через Stop.
func StartWorker(ctx context.Context, cfg *config.Config, store repo.Store, q queue.StepQueue, orch *orchestrator.Service, logger *slog.Logger) (*worker.Worker, error) {
	w := worker.New(worker.Config{
		Store:       store,
		Queue:       q,
		Advancer:    orch,
		Concurrency: cfg.Worker.Concurrency,
		RateLimit:   cfg.Worker.RateLimit,
		MaxAttempts: cfg.Worker.MaxAttempts,
		StepTimeout: cfg.Worker.StepTimeout(),
		Logger:      logger,
	})

	if err := w.Start(ctx); err != nil {
		return nil, err
	}

	sweeper := worker.NewSweeper(worker.SweeperConfig{
		Store:    store,
		Requeuer: orch,
		Interval: cfg.Worker.SweepInterval(),
		Lease:    cfg.Worker.StepLease(),
		Logger:   logger,
	})
	go sweeper.Run(ctx)

	return w, nil
}
