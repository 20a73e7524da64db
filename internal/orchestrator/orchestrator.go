package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/engine"
	"github.com/shaiso/Conductor/internal/queue"
	"github.com/shaiso/Conductor/internal/repo"
	"github.com/shaiso/Conductor/internal/telemetry"
)

// Service — оркестратор runs.
//
// Service не хранит состояние между вызовами: всё читается из repo.Store,
// а конкурентные вызовы сходятся за счёт create-if-absent и compare-and-set
// в хранилище. Поэтому Advance можно безопасно вызывать из любого воркера.
type Service struct {
	store  repo.Store
	queue  queue.StepQueue
	eval   engine.ConditionEvaluator
	logger *slog.Logger
	now    func() time.Time
}

// Config — конфигурация Service.
type Config struct {
	Store repo.Store
	Queue queue.StepQueue

	// Evaluator вычисляет условия на рёбрах (default: engine.TemplateEvaluator).
	Evaluator engine.ConditionEvaluator

	Logger *slog.Logger
}

// New создаёт Service.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	eval := cfg.Evaluator
	if eval == nil {
		eval = engine.TemplateEvaluator{}
	}

	return &Service{
		store:  cfg.Store,
		queue:  cfg.Queue,
		eval:   &loggingEvaluator{inner: eval, logger: logger},
		logger: logger,
		now:    time.Now,
	}
}

// Request — запрос на запуск workflow.
type Request struct {
	WorkspaceSlug string
	WorkflowName  string
	Input         map[string]any

	// Trigger — источник запуска (default: manual).
	Trigger domain.Trigger

	// IdempotencyKey — повторный запрос с тем же ключом вернёт существующий run.
	IdempotencyKey string
}

// Result — результат Orchestrate.
type Result struct {
	RunID  uuid.UUID
	Status domain.RunStatus

	// StepsEnqueued — jobs, отправленные этим вызовом.
	StepsEnqueued []domain.StepJob

	// Existing — run уже существовал (повтор по IdempotencyKey).
	Existing bool
}

// Orchestrate запускает последнюю опубликованную версию workflow.
//
// Порядок:
//  1. workspace и workflow ищутся по имени, выключенный workflow отклоняется
//  2. DAG версии проверяется; при ошибках run не создаётся
//  3. run создаётся в статусе queued (или возвращается существующий по ключу)
//  4. корневые узлы отправляются в очередь, run переходит в running
func (s *Service) Orchestrate(ctx context.Context, req Request) (*Result, error) {
	if req.WorkspaceSlug == "" || req.WorkflowName == "" {
		return nil, fmt.Errorf("%w: workspace and workflow are required", ErrInvalidRequest)
	}
	if req.Trigger == "" {
		req.Trigger = domain.TriggerManual
	}
	if !req.Trigger.IsValid() {
		return nil, fmt.Errorf("%w: unknown trigger %q", ErrInvalidRequest, req.Trigger)
	}

	logger := telemetry.WithWorkflow(s.logger, req.WorkspaceSlug, req.WorkflowName)

	wf, version, err := s.resolve(ctx, req.WorkspaceSlug, req.WorkflowName)
	if err != nil {
		return nil, err
	}

	if errs := engine.ValidateAll(&version.Dag); len(errs) > 0 {
		logger.Warn("workflow dag is invalid", "version", version.Version, "errors", len(errs))
		return nil, &ValidationFailedError{Errors: errs}
	}

	graph, err := engine.NewGraph(&version.Dag)
	if err != nil {
		return nil, &ValidationFailedError{Errors: []error{err}}
	}

	run := &domain.AgentRun{
		ID:             uuid.New(),
		WorkflowID:     wf.ID,
		WorkspaceID:    wf.WorkspaceID,
		Version:        version.Version,
		Status:         domain.RunStatusQueued,
		Trigger:        req.Trigger,
		Input:          req.Input,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      s.now().UTC(),
	}

	stored, created, err := s.store.CreateRun(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	if !created {
		logger.Info("run already exists for idempotency key",
			"run_id", stored.ID,
			"status", stored.Status,
		)
		result := &Result{RunID: stored.ID, Status: stored.Status, Existing: true}

		// Создание прервалось до отправки первой волны — досылаем
		if stored.Status == domain.RunStatusQueued {
			state, err := s.loadState(ctx, stored.ID)
			if err != nil {
				return nil, err
			}
			jobs, err := s.advance(ctx, state)
			if err != nil {
				logger.Error("failed to resume queued run", "run_id", stored.ID, "error", err)
			}
			result.Status = state.Run.Status
			result.StepsEnqueued = jobs
		}
		return result, nil
	}

	telemetry.RunStatusChanged(string(domain.RunStatusQueued))
	logger.Info("run created",
		"run_id", stored.ID,
		"version", stored.Version,
		"trigger", stored.Trigger,
		"steps", graph.Size(),
	)

	// Ошибки отправки не отменяют run: недоставленные шаги остаются
	// pending и их дошлёт Sweeper.
	state := newRunState(stored, version, graph)
	jobs, err := s.advance(ctx, state)
	if err != nil {
		logger.Error("run created but not fully dispatched", "run_id", stored.ID, "error", err)
	}

	return &Result{
		RunID:         stored.ID,
		Status:        state.Run.Status,
		StepsEnqueued: jobs,
	}, nil
}

// resolve находит workflow и его последнюю версию.
func (s *Service) resolve(ctx context.Context, slug, name string) (*domain.Workflow, *domain.WorkflowVersion, error) {
	ws, err := s.store.GetWorkspaceBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrWorkspaceNotFound, slug)
		}
		return nil, nil, fmt.Errorf("get workspace: %w", err)
	}

	wf, err := s.store.GetWorkflowByName(ctx, ws.ID, name)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s/%s", ErrWorkflowNotFound, slug, name)
		}
		return nil, nil, fmt.Errorf("get workflow: %w", err)
	}
	if !wf.IsActive {
		return nil, nil, fmt.Errorf("%w: %s/%s", ErrWorkflowInactive, slug, name)
	}

	version, err := s.store.GetLatestVersion(ctx, wf.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s/%s has no published version", ErrWorkflowNotFound, slug, name)
		}
		return nil, nil, fmt.Errorf("get latest version: %w", err)
	}

	return wf, version, nil
}

// loadState собирает RunState из хранилища.
func (s *Service) loadState(ctx context.Context, runID uuid.UUID) (*RunState, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("get run: %w", err)
	}

	version, err := s.store.GetVersion(ctx, run.WorkflowID, run.Version)
	if err != nil {
		return nil, fmt.Errorf("get version %d: %w", run.Version, err)
	}

	graph, err := engine.NewGraph(&version.Dag)
	if err != nil {
		return nil, fmt.Errorf("build graph: %w", err)
	}

	steps, err := s.store.ListSteps(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}

	state := newRunState(run, version, graph)
	state.restore(steps)
	return state, nil
}

// loggingEvaluator логирует ошибки вычисления условий.
// Ошибка по-прежнему означает «условие не выполнено».
type loggingEvaluator struct {
	inner  engine.ConditionEvaluator
	logger *slog.Logger
}

func (e *loggingEvaluator) Evaluate(cond map[string]any, ctx *engine.Context) (bool, error) {
	ok, err := e.inner.Evaluate(cond, ctx)
	if err != nil {
		e.logger.Warn("edge condition failed to evaluate", "condition", cond, "error", err)
	}
	return ok, err
}
