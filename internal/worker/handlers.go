package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conductor/internal/connector"
	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/repo"
	"github.com/shaiso/Conductor/internal/telemetry"
)

// processJob выполняет шаг job и записывает результат.
//
// Возвращает ошибку только при сбое хранилища; повторная доставка
// безопасна, потому что шаг захватывается через compare-and-set.
func (w *Worker) processJob(ctx context.Context, job domain.StepJob) error {
	logger := telemetry.WithStep(w.logger, job.RunID.String(), job.NodeID, job.Attempt)

	// 1. Run должен быть активен
	run, err := w.store.GetRun(ctx, job.RunID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			logger.Warn("run not found, dropping job")
			return nil
		}
		return fmt.Errorf("get run: %w", err)
	}
	if run.IsFinished() {
		logger.Debug("run finished, dropping job", "status", run.Status)
		return nil
	}

	// 2. Повторная доставка уже выполненного шага
	step, err := w.store.GetStep(ctx, job.RunID, job.NodeID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			logger.Warn("step not found, dropping job")
			return nil
		}
		return fmt.Errorf("get step: %w", err)
	}
	if step.Status.IsTerminal() {
		logger.Debug("step already finished", "status", step.Status)
		// Продвижение могло не дойти до конца в прошлый раз
		return w.advance(ctx, logger, job.RunID)
	}

	// 3. Политика повторов узла
	version, err := w.store.GetVersion(ctx, run.WorkflowID, run.Version)
	if err != nil {
		return fmt.Errorf("get version: %w", err)
	}
	node, ok := version.Dag.Node(job.NodeID)
	if !ok {
		logger.Error("node not in workflow version, dropping job", "version", run.Version)
		return nil
	}
	policy := w.retryPolicy(node, version.RetryPolicy)

	// 4. Захватываем шаг
	claimed, err := w.store.UpdateStep(ctx, repo.StepUpdate{
		RunID:       job.RunID,
		NodeID:      job.NodeID,
		From:        []domain.StepStatus{domain.StepStatusPending, domain.StepStatusEnqueued},
		To:          domain.StepStatusRunning,
		IncAttempts: true,
		LastError:   step.LastError,
	})
	if err != nil {
		if errors.Is(err, repo.ErrInvalidState) {
			logger.Debug("step claimed by another worker")
			return nil
		}
		return fmt.Errorf("claim step: %w", err)
	}

	// Счётчик попыток в хранилище главнее номера доставки
	job.Attempt = claimed.Attempts
	logger = telemetry.WithStep(w.logger, job.RunID.String(), job.NodeID, job.Attempt)

	logger.Info("step started",
		"step_id", job.StepID,
		"connector", job.Connector,
		"action", job.Action,
	)

	// 5. Выполняем
	result := w.execute(ctx, job)

	// Результат записываем и при остановке воркера
	ctx = context.WithoutCancel(ctx)

	// 6. Отменённый за время выполнения run — результат отбрасывается
	run, err = w.store.GetRun(ctx, job.RunID)
	if err != nil {
		return fmt.Errorf("reload run: %w", err)
	}
	if run.IsFinished() {
		logger.Info("run finished during step, discarding result", "status", run.Status)
		return nil
	}

	// 7. Обрабатываем результат
	if result.Status == domain.StepResultSucceeded {
		return w.succeed(ctx, logger, job, result.Output)
	}

	msg := "step failed"
	retryable := false
	if result.Error != nil {
		msg = result.Error.Message
		retryable = result.Error.Retryable
	}

	switch {
	case retryable && job.Attempt < policy.MaxAttempts:
		return w.retry(ctx, logger, job, msg, calculateBackoff(job.Attempt, &policy))
	case retryable:
		return w.fail(ctx, logger, job, msg, true)
	default:
		return w.fail(ctx, logger, job, msg, false)
	}
}

// execute вызывает коннектор с таймаутом.
func (w *Worker) execute(ctx context.Context, job domain.StepJob) domain.StepResult {
	ctx, cancel := context.WithTimeout(ctx, w.stepTimeout)
	defer cancel()

	start := w.now()
	result := connector.Invoke(ctx, w.registry, job)
	telemetry.ObserveStepDuration(job.Connector, w.now().Sub(start))

	return result
}

// succeed сохраняет output шага и продвигает run.
func (w *Worker) succeed(ctx context.Context, logger *slog.Logger, job domain.StepJob, output map[string]any) error {
	if _, err := w.store.UpdateStep(ctx, repo.StepUpdate{
		RunID:  job.RunID,
		NodeID: job.NodeID,
		From:   []domain.StepStatus{domain.StepStatusRunning},
		To:     domain.StepStatusSucceeded,
		Output: output,
	}); err != nil {
		if errors.Is(err, repo.ErrInvalidState) {
			logger.Warn("step moved while running, discarding result")
			return nil
		}
		return fmt.Errorf("update step to succeeded: %w", err)
	}

	telemetry.StepFinished(string(domain.StepStatusSucceeded))
	logger.Info("step succeeded")

	return w.advance(ctx, logger, job.RunID)
}

// retry возвращает шаг в очередь с задержкой.
func (w *Worker) retry(ctx context.Context, logger *slog.Logger, job domain.StepJob, msg string, delay time.Duration) error {
	if _, err := w.store.UpdateStep(ctx, repo.StepUpdate{
		RunID:     job.RunID,
		NodeID:    job.NodeID,
		From:      []domain.StepStatus{domain.StepStatusRunning},
		To:        domain.StepStatusEnqueued,
		LastError: msg,
	}); err != nil {
		if errors.Is(err, repo.ErrInvalidState) {
			logger.Warn("step moved while running, discarding result")
			return nil
		}
		return fmt.Errorf("update step for retry: %w", err)
	}

	telemetry.StepFinished("retried")
	logger.Warn("step failed, retrying", "delay", delay, "error", msg)

	next := job
	next.Attempt = job.Attempt + 1
	if err := w.queue.Requeue(ctx, next, delay); err != nil {
		// Шаг остаётся enqueued, его дошлёт Sweeper
		logger.Error("failed to requeue step", "error", err)
	}
	return nil
}

// fail переводит шаг в failed и отправляет его в DLQ.
//
// exhausted — повторы исчерпаны на retryable ошибке: шаг можно отправить
// повторно из DLQ, поэтому run не продвигается к failed.
func (w *Worker) fail(ctx context.Context, logger *slog.Logger, job domain.StepJob, msg string, exhausted bool) error {
	if _, err := w.store.UpdateStep(ctx, repo.StepUpdate{
		RunID:     job.RunID,
		NodeID:    job.NodeID,
		From:      []domain.StepStatus{domain.StepStatusRunning},
		To:        domain.StepStatusFailed,
		LastError: msg,
		Exhausted: exhausted,
	}); err != nil {
		if errors.Is(err, repo.ErrInvalidState) {
			logger.Warn("step moved while running, discarding result")
			return nil
		}
		return fmt.Errorf("update step to failed: %w", err)
	}

	telemetry.StepFinished(string(domain.StepStatusFailed))
	logger.Warn("step failed", "exhausted", exhausted, "error", msg)

	if err := w.queue.DeadLetter(ctx, job, msg); err != nil {
		logger.Error("failed to publish dead letter", "error", err)
	}

	dl := &domain.DeadLetter{
		ID:        uuid.New(),
		Job:       job,
		Reason:    msg,
		Attempts:  job.Attempt,
		Retryable: exhausted,
		FailedAt:  w.now().UTC(),
	}
	if err := w.store.CreateDeadLetter(ctx, dl); err != nil {
		logger.Error("failed to record dead letter", "error", err)
	}
	telemetry.StepDeadLettered()

	if exhausted {
		return nil
	}
	return w.advance(ctx, logger, job.RunID)
}

// advance продвигает run. Ошибка возвращается, чтобы доставка пришла
// повторно и продвижение было выполнено ещё раз.
func (w *Worker) advance(ctx context.Context, logger *slog.Logger, runID uuid.UUID) error {
	if w.advancer == nil {
		return nil
	}
	if err := w.advancer.Advance(ctx, runID); err != nil {
		logger.Error("failed to advance run", "error", err)
		return fmt.Errorf("advance run: %w", err)
	}
	return nil
}

// calculateBackoff вычисляет задержку перед retry с разбросом ±20%.
func calculateBackoff(attempt int, policy *domain.RetryPolicy) time.Duration {
	return jitter(baseBackoff(attempt, policy))
}

// baseBackoff вычисляет задержку перед retry без разброса.
func baseBackoff(attempt int, policy *domain.RetryPolicy) time.Duration {
	if policy == nil {
		return time.Second
	}

	initialDelay := time.Duration(policy.InitialDelayMs) * time.Millisecond
	if initialDelay <= 0 {
		initialDelay = time.Second
	}

	maxDelay := time.Duration(policy.MaxDelayMs) * time.Millisecond
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	var delay time.Duration
	switch policy.Backoff {
	case "exponential":
		// delay = initialDelay * 2^(attempt-1)
		delay = initialDelay
		for i := 1; i < attempt; i++ {
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
				break
			}
		}
	default:
		// "fixed" или неизвестный — используем initialDelay
		delay = initialDelay
	}

	if delay > maxDelay {
		delay = maxDelay
	}

	return delay
}

// jitter растягивает d случайно в пределах ±20%.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return time.Duration(float64(d) * (0.8 + rand.Float64()*0.4))
}
