package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/repo"
	"github.com/shaiso/Conductor/internal/telemetry"
)

// DeadLetterQuery — параметры выборки DLQ.
type DeadLetterQuery struct {
	RunID *uuid.UUID

	// Pending — только записи, которые ещё не отправлялись повторно.
	Pending bool

	Limit int
}

// ListDeadLetters возвращает записи DLQ, новые первыми.
func (s *Service) ListDeadLetters(ctx context.Context, q DeadLetterQuery) ([]domain.DeadLetter, error) {
	items, err := s.store.ListDeadLetters(ctx, repo.DeadLetterFilter{
		RunID:   q.RunID,
		Pending: q.Pending,
		Limit:   q.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	return items, nil
}

// Redrive повторно отправляет шаг из DLQ.
//
// Допустимо только для шага, исчерпавшего повторы на retryable ошибке,
// пока run не завершён. Попытки шага обнуляются.
func (s *Service) Redrive(ctx context.Context, deadLetterID uuid.UUID) (*domain.StepJob, error) {
	dl, err := s.store.GetDeadLetter(ctx, deadLetterID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDeadLetterNotFound, deadLetterID)
		}
		return nil, fmt.Errorf("get dead letter: %w", err)
	}

	if dl.RedrivenAt != nil {
		return nil, fmt.Errorf("%w: already redriven at %s", ErrNotRedrivable, dl.RedrivenAt.Format(time.RFC3339))
	}
	if !dl.Retryable {
		return nil, fmt.Errorf("%w: step failed permanently", ErrNotRedrivable)
	}

	run, err := s.store.GetRun(ctx, dl.Job.RunID)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	if run.IsFinished() {
		return nil, fmt.Errorf("%w: %s", ErrRunFinished, run.ID)
	}

	step, err := s.store.GetStep(ctx, dl.Job.RunID, dl.Job.NodeID)
	if err != nil {
		return nil, fmt.Errorf("get step: %w", err)
	}
	if step.Status != domain.StepStatusFailed || !step.Exhausted {
		return nil, fmt.Errorf("%w: step is %s", ErrNotRedrivable, step.Status)
	}

	// MarkRedriven — CAS против двойного redrive
	if err := s.store.MarkRedriven(ctx, dl.ID, s.now().UTC()); err != nil {
		if errors.Is(err, repo.ErrInvalidState) {
			return nil, fmt.Errorf("%w: already redriven", ErrNotRedrivable)
		}
		return nil, fmt.Errorf("mark redriven: %w", err)
	}

	if _, err := s.store.UpdateStep(ctx, repo.StepUpdate{
		RunID:         step.RunID,
		NodeID:        step.NodeID,
		From:          []domain.StepStatus{domain.StepStatusFailed},
		To:            domain.StepStatusEnqueued,
		ResetAttempts: true,
	}); err != nil {
		return nil, fmt.Errorf("reset step: %w", err)
	}

	job := dl.Job
	job.Attempt = 1
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	telemetry.StepEnqueued()

	s.logger.Info("step redriven from dead letter queue",
		"run_id", job.RunID,
		"node_id", job.NodeID,
		"dead_letter_id", dl.ID,
	)
	return &job, nil
}
