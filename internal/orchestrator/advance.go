package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/engine"
	"github.com/shaiso/Conductor/internal/repo"
	"github.com/shaiso/Conductor/internal/telemetry"
)

// Advance продвигает run после завершения шага.
//
// Отправляет узлы, ставшие готовыми, и финализирует run, если прогресс
// закончен. Для завершённого run ничего не делает. Повторный вызов
// безопасен: шаг узла создаётся не более одного раза.
func (s *Service) Advance(ctx context.Context, runID uuid.UUID) error {
	state, err := s.loadState(ctx, runID)
	if err != nil {
		return err
	}

	_, err = s.advance(ctx, state)
	return err
}

// advance отправляет готовые узлы и финализирует run.
func (s *Service) advance(ctx context.Context, state *RunState) ([]domain.StepJob, error) {
	if state.Run.IsFinished() {
		return nil, nil
	}

	jobs, dispatchErr := s.dispatch(ctx, state, state.Ready(s.eval))

	if err := s.finalize(ctx, state); err != nil {
		return jobs, errors.Join(dispatchErr, err)
	}
	return jobs, dispatchErr
}

// dispatch создаёт шаги для узлов и отправляет их jobs.
//
// Job отправляет только тот, кто создал шаг. Если отправка не удалась,
// шаг остаётся pending и его дошлёт Sweeper.
func (s *Service) dispatch(ctx context.Context, state *RunState, nodeIDs []string) ([]domain.StepJob, error) {
	var (
		jobs []domain.StepJob
		errs []error
	)

	for _, nodeID := range nodeIDs {
		job, err := s.dispatchNode(ctx, state, nodeID)
		if err != nil {
			s.logger.Error("failed to dispatch step",
				"run_id", state.Run.ID,
				"node_id", nodeID,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("dispatch %s: %w", nodeID, err))
			continue
		}
		if job != nil {
			jobs = append(jobs, *job)
		}
	}

	if len(jobs) > 0 {
		s.logger.Debug("steps dispatched", "run_id", state.Run.ID, "count", len(jobs))
	}
	return jobs, errors.Join(errs...)
}

// dispatchNode создаёт шаг узла; nil job — шаг уже создан другим вызовом
// или config не удалось отрендерить (шаг сразу failed).
func (s *Service) dispatchNode(ctx context.Context, state *RunState, nodeID string) (*domain.StepJob, error) {
	node, ok := state.Graph.Node(nodeID)
	if !ok {
		return nil, fmt.Errorf("node %s not in dag", nodeID)
	}

	now := s.now().UTC()
	step := &domain.RunStep{
		ID:        uuid.New(),
		RunID:     state.Run.ID,
		NodeID:    nodeID,
		Status:    domain.StepStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	payload, renderErr := engine.RenderConfig(node.Config, state.Context)
	if renderErr != nil {
		// Шаблон не изменится при повторе — ошибка окончательная
		step.Status = domain.StepStatusFailed
		step.LastError = renderErr.Error()
	}

	created, err := s.store.CreateStepIfAbsent(ctx, step)
	if err != nil {
		return nil, fmt.Errorf("create step: %w", err)
	}
	if !created {
		if existing, err := s.store.GetStep(ctx, state.Run.ID, nodeID); err == nil {
			state.track(existing)
		}
		return nil, nil
	}
	state.track(step)

	if renderErr != nil {
		s.logger.Warn("step config render failed",
			"run_id", state.Run.ID,
			"node_id", nodeID,
			"error", renderErr,
		)
		telemetry.StepFinished(string(domain.StepStatusFailed))
		s.deadLetter(ctx, newJob(state.Run, step, node, node.Config, 1), step.LastError)
		return nil, nil
	}

	job := newJob(state.Run, step, node, payload, 1)
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	telemetry.StepEnqueued()

	// Воркер мог успеть забрать job — тогда шаг уже не pending
	updated, err := s.store.UpdateStep(ctx, repo.StepUpdate{
		RunID:  state.Run.ID,
		NodeID: nodeID,
		From:   []domain.StepStatus{domain.StepStatusPending},
		To:     domain.StepStatusEnqueued,
	})
	switch {
	case err == nil:
		state.track(updated)
	case !errors.Is(err, repo.ErrInvalidState):
		return &job, fmt.Errorf("mark enqueued: %w", err)
	}

	return &job, nil
}

// deadLetter отправляет job шага, упавшего до выполнения, в DLQ.
// Такая ошибка не retryable: redrive для неё недоступен.
func (s *Service) deadLetter(ctx context.Context, job domain.StepJob, reason string) {
	logger := s.logger.With("run_id", job.RunID, "node_id", job.NodeID)

	if err := s.queue.DeadLetter(ctx, job, reason); err != nil {
		logger.Error("failed to publish dead letter", "error", err)
	}

	dl := &domain.DeadLetter{
		ID:       uuid.New(),
		Job:      job,
		Reason:   reason,
		FailedAt: s.now().UTC(),
	}
	if err := s.store.CreateDeadLetter(ctx, dl); err != nil {
		logger.Error("failed to record dead letter", "error", err)
	}
	telemetry.StepDeadLettered()
}

// newJob строит StepJob шага.
func newJob(run *domain.AgentRun, step *domain.RunStep, node *domain.WorkflowNode, payload map[string]any, attempt int) domain.StepJob {
	return domain.StepJob{
		RunID:          run.ID,
		StepID:         step.ID,
		WorkflowID:     run.WorkflowID,
		WorkspaceID:    run.WorkspaceID,
		NodeID:         node.ID,
		Connector:      node.Connector,
		Action:         node.Action,
		Payload:        payload,
		IdempotencyKey: engine.StepIdempotencyKey(run.ID, node.ID),
		Attempt:        attempt,
	}
}

// finalize переводит run в итоговый статус, если прогресс закончен.
//
//   - все узлы выполнены успешно → completed
//   - есть окончательно упавший шаг, нет шагов в работе, нет шагов в DLQ,
//     ожидающих redrive, и нет готовых, но не отправленных узлов → failed
//
// Иначе run остаётся running. Узел за невыполнимым условием тоже оставляет
// run в running до отмены. Run в queued становится running, только когда
// хотя бы один шаг ушёл из pending.
func (s *Service) finalize(ctx context.Context, state *RunState) error {
	if state.Run.Status == domain.RunStatusQueued && state.HasDispatched() {
		if err := s.transition(ctx, state, domain.RunStatusRunning, ""); err != nil {
			return err
		}
	}
	if state.Run.Status != domain.RunStatusRunning {
		return nil
	}

	switch {
	case state.Graph.IsComplete(state.Completed()):
		return s.transition(ctx, state, domain.RunStatusCompleted, "")

	case len(state.Failed()) > 0 && !state.HasInFlight() && !state.HasExhausted() && len(state.Ready(s.eval)) == 0:
		return s.transition(ctx, state, domain.RunStatusFailed, state.failureMessage())
	}

	return nil
}

// transition меняет статус run. Проигранная гонка (run уже перешёл
// в другой статус) не ошибка: state.Run перечитывается.
func (s *Service) transition(ctx context.Context, state *RunState, to domain.RunStatus, errMsg string) error {
	run, err := s.store.TransitionRun(ctx, state.Run.ID, to, errMsg)
	if err != nil {
		if errors.Is(err, repo.ErrInvalidState) {
			current, getErr := s.store.GetRun(ctx, state.Run.ID)
			if getErr != nil {
				return fmt.Errorf("reload run: %w", getErr)
			}
			state.Run = current
			return nil
		}
		return fmt.Errorf("transition run to %s: %w", to, err)
	}
	state.Run = run
	telemetry.RunStatusChanged(string(to))

	attrs := []any{"run_id", run.ID, "status", to}
	switch to {
	case domain.RunStatusFailed:
		s.logger.Warn("run failed", append(attrs, "error", errMsg)...)
	case domain.RunStatusCompleted:
		s.logger.Info("run completed", append(attrs, "duration", run.Duration())...)
	default:
		s.logger.Info("run status changed", attrs...)
	}
	return nil
}

// RequeueStep повторно отправляет job зависшего шага.
//
// Используется Sweeper для шагов, чьё сообщение потеряно или чей воркер
// упал. Payload рендерится заново из текущего состояния run. Шаг
// переводится в enqueued (это же обновляет updated_at).
func (s *Service) RequeueStep(ctx context.Context, step domain.RunStep) (*domain.StepJob, error) {
	state, err := s.loadState(ctx, step.RunID)
	if err != nil {
		return nil, err
	}
	if state.Run.IsFinished() {
		return nil, ErrRunFinished
	}

	node, ok := state.Graph.Node(step.NodeID)
	if !ok {
		return nil, fmt.Errorf("node %s not in dag", step.NodeID)
	}

	payload, err := engine.RenderConfig(node.Config, state.Context)
	if err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}

	// CAS по статусу, который видел Sweeper: если шаг сдвинулся, ничего не шлём
	updated, err := s.store.UpdateStep(ctx, repo.StepUpdate{
		RunID:     step.RunID,
		NodeID:    step.NodeID,
		From:      []domain.StepStatus{step.Status},
		To:        domain.StepStatusEnqueued,
		LastError: step.LastError,
	})
	if err != nil {
		return nil, fmt.Errorf("mark enqueued: %w", err)
	}

	job := newJob(state.Run, updated, node, payload, updated.Attempts+1)
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	telemetry.StepEnqueued()

	// Run мог застрять в queued, если создание прервалось
	if state.Run.Status == domain.RunStatusQueued {
		state.track(updated)
		if err := s.finalize(ctx, state); err != nil {
			return &job, err
		}
	}

	s.logger.Info("stale step requeued",
		"run_id", step.RunID,
		"node_id", step.NodeID,
		"previous_status", step.Status,
		"attempt", job.Attempt,
	)
	return &job, nil
}
