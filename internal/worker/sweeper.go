package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/orchestrator"
	"github.com/shaiso/Conductor/internal/repo"
)

const (
	defaultSweepInterval = 30 * time.Second
	defaultLease         = 5 * time.Minute
	defaultSweepBatch    = 100
)

// Requeuer повторно отправляет job зависшего шага (orchestrator.Service).
type Requeuer interface {
	RequeueStep(ctx context.Context, step domain.RunStep) (*domain.StepJob, error)
}

// Sweeper периодически досылает шаги, застрявшие в pending/enqueued/running.
//
// Шаг застревает, если сообщение потеряно при отправке или воркер упал
// во время выполнения. Lease должен превышать таймаут шага и максимальную
// задержку retry, иначе живые шаги будут отправлены повторно (это безопасно,
// но лишний раз нагружает очередь).
type Sweeper struct {
	store    repo.Store
	requeuer Requeuer

	interval  time.Duration
	lease     time.Duration
	batchSize int

	logger *slog.Logger
	now    func() time.Time
}

// SweeperConfig — конфигурация Sweeper.
type SweeperConfig struct {
	Store    repo.Store
	Requeuer Requeuer

	Interval  time.Duration // интервал проверки (default: 30s)
	Lease     time.Duration // сколько шаг может не меняться (default: 5m)
	BatchSize int           // шагов за одну проверку (default: 100)

	Logger *slog.Logger
}

// NewSweeper создаёт Sweeper.
func NewSweeper(cfg SweeperConfig) *Sweeper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultSweepInterval
	}

	lease := cfg.Lease
	if lease <= 0 {
		lease = defaultLease
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultSweepBatch
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sweeper{
		store:     cfg.Store,
		requeuer:  cfg.Requeuer,
		interval:  interval,
		lease:     lease,
		batchSize: batchSize,
		logger:    logger,
		now:       time.Now,
	}
}

// Run выполняет проверки до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", "interval", s.interval, "lease", s.lease)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("sweep failed", "error", err)
			}
		}
	}
}

// Sweep выполняет одну проверку и возвращает количество досланных шагов.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	steps, err := s.store.ListStaleSteps(ctx, s.now().Add(-s.lease), s.batchSize)
	if err != nil {
		return 0, err
	}

	if len(steps) == 0 {
		return 0, nil
	}

	s.logger.Debug("sweep found stale steps", "count", len(steps))

	requeued := 0
	for _, step := range steps {
		if _, err := s.requeuer.RequeueStep(ctx, step); err != nil {
			// Шаг сдвинулся или run завершился после выборки
			if errors.Is(err, repo.ErrInvalidState) || errors.Is(err, orchestrator.ErrRunFinished) {
				s.logger.Debug("stale step changed, skipping", "run_id", step.RunID, "node_id", step.NodeID)
				continue
			}
			s.logger.Error("failed to requeue stale step",
				"run_id", step.RunID,
				"node_id", step.NodeID,
				"status", step.Status,
				"error", err,
			)
			continue
		}
		requeued++
	}

	if requeued > 0 {
		s.logger.Info("sweep finished", "found", len(steps), "requeued", requeued)
	}
	return requeued, nil
}
