package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/orchestrator"
	"github.com/shaiso/Conductor/internal/repo"
)

const (
	defaultBatchSize    = 100
	defaultTickInterval = time.Second
)

// Orchestrator запускает workflow (orchestrator.Service).
type Orchestrator interface {
	Orchestrate(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

// Leader — распределённая блокировка лидера (repo.AdvisoryLock).
type Leader interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// Scheduler — планировщик, обрабатывающий due schedules.
type Scheduler struct {
	schedules    repo.ScheduleStore
	orchestrator Orchestrator
	leader       Leader
	logger       *slog.Logger
	batchSize    int
	interval     time.Duration
	now          func() time.Time
}

// Config — конфигурация Scheduler.
type Config struct {
	Schedules    repo.ScheduleStore
	Orchestrator Orchestrator

	// Leader — блокировка лидера; nil — экземпляр всегда лидер.
	Leader Leader

	Logger       *slog.Logger
	BatchSize    int           // количество schedules за один тик (default: 100)
	TickInterval time.Duration // интервал тиков (default: 1s)
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	interval := cfg.TickInterval
	if interval <= 0 {
		interval = defaultTickInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		schedules:    cfg.Schedules,
		orchestrator: cfg.Orchestrator,
		leader:       cfg.Leader,
		logger:       logger,
		batchSize:    batchSize,
		interval:     interval,
		now:          time.Now,
	}
}

// Run выполняет тики до отмены ctx. Тик выполняет только лидер.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var hasLock bool
	defer func() {
		if hasLock && s.leader != nil {
			if err := s.leader.Unlock(context.Background()); err != nil {
				s.logger.Warn("failed to release leader lock", "error", err)
			}
		}
	}()

	s.logger.Info("scheduler started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return

		case <-ticker.C:
			// пытаемся стать лидером (или подтвердить лидерство)
			if s.leader != nil {
				ok, err := s.leader.TryLock(ctx)
				if err != nil {
					s.logger.Warn("leader lock failed", "error", err)
					hasLock = false
					continue
				}
				if ok && !hasLock {
					s.logger.Info("became scheduler leader")
				}
				hasLock = ok
				if !hasLock {
					continue
				}
			}

			if err := s.Tick(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("scheduler tick failed", "error", err)
			}
		}
	}
}

// Tick выполняет один тик планировщика.
//
// 1. Находит due schedules (enabled=true, next_due_at <= now)
// 2. Для каждого schedule запускает workflow (trigger=schedule)
// 3. Обновляет next_due_at
//
// Ошибки одного schedule не блокируют обработку остальных.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.now()

	schedules, err := s.schedules.ListDueSchedules(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("list due schedules: %w", err)
	}

	if len(schedules) == 0 {
		return nil
	}

	s.logger.Debug("found due schedules", "count", len(schedules))

	var processed, created int
	for i := range schedules {
		sched := &schedules[i]

		runCreated, err := s.processSchedule(ctx, sched, now)
		if err != nil {
			s.logger.Error("failed to process schedule",
				"schedule_id", sched.ID,
				"schedule_name", sched.Name,
				"error", err,
			)
			continue
		}

		processed++
		if runCreated {
			created++
		}
	}

	s.logger.Info("scheduler tick completed",
		"due", len(schedules),
		"processed", processed,
		"runs_created", created,
	)

	return nil
}

// processSchedule обрабатывает один schedule.
// Возвращает true, если run был создан (не был дубликатом).
func (s *Scheduler) processSchedule(ctx context.Context, sched *domain.Schedule, now time.Time) (bool, error) {
	// Ключ "{schedule_id}_{next_due_at_unix}": один run на каждое время запуска,
	// даже если тик повторится после сбоя
	idempKey := fmt.Sprintf("%s_%d", sched.ID, sched.NextDueAt.Unix())

	var (
		runID      *uuid.UUID
		runCreated bool
	)

	res, err := s.orchestrator.Orchestrate(ctx, orchestrator.Request{
		WorkspaceSlug:  sched.WorkspaceSlug,
		WorkflowName:   sched.WorkflowName,
		Input:          sched.Input,
		Trigger:        domain.TriggerSchedule,
		IdempotencyKey: idempKey,
	})
	switch {
	case err == nil:
		runID = &res.RunID
		runCreated = !res.Existing
		if runCreated {
			s.logger.Info("created run from schedule",
				"run_id", res.RunID,
				"schedule_id", sched.ID,
				"schedule_name", sched.Name,
				"workflow", sched.WorkflowName,
			)
		}

	case isSkippable(err):
		// Workflow удалён, выключен или невалиден: пропускаем этот запуск,
		// но двигаем расписание, чтобы не повторять его каждый тик
		s.logger.Warn("schedule target not runnable, skipping",
			"schedule_id", sched.ID,
			"workspace", sched.WorkspaceSlug,
			"workflow", sched.WorkflowName,
			"error", err,
		)

	default:
		return false, fmt.Errorf("orchestrate: %w", err)
	}

	nextDue, err := CalculateNextDue(sched, now)
	if err != nil {
		s.logger.Error("failed to calculate next due, disabling schedule",
			"schedule_id", sched.ID,
			"error", err,
		)
		sched.Enabled = false
		sched.UpdatedAt = now
	} else if runID != nil {
		sched.RecordRun(*runID, now, nextDue)
	} else {
		sched.NextDueAt = &nextDue
		sched.UpdatedAt = now
	}

	if err := s.schedules.UpdateSchedule(ctx, sched); err != nil {
		return runCreated, fmt.Errorf("update schedule: %w", err)
	}

	return runCreated, nil
}

// isSkippable — ошибки, которые не исправятся повтором тика.
func isSkippable(err error) bool {
	var vErr *orchestrator.ValidationFailedError
	return errors.Is(err, orchestrator.ErrWorkspaceNotFound) ||
		errors.Is(err, orchestrator.ErrWorkflowNotFound) ||
		errors.Is(err, orchestrator.ErrWorkflowInactive) ||
		errors.Is(err, orchestrator.ErrInvalidRequest) ||
		errors.As(err, &vErr)
}
