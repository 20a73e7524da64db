package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/repo"
	"github.com/shaiso/Conductor/internal/telemetry"
)

// RunView — run с шагами и сводкой.
type RunView struct {
	Run     *domain.AgentRun `json:"run"`
	Steps   []domain.RunStep `json:"steps"`
	Summary Summary          `json:"summary"`
}

// GetRun возвращает run, его шаги в порядке создания и сводку.
func (s *Service) GetRun(ctx context.Context, runID uuid.UUID) (*RunView, error) {
	state, err := s.loadState(ctx, runID)
	if err != nil {
		return nil, err
	}

	return &RunView{
		Run:     state.Run,
		Steps:   state.Steps(),
		Summary: state.Summary(),
	}, nil
}

// Cancel отменяет run.
//
// Шаги в очереди не отзываются: воркер увидит отменённый run
// и отбросит результат.
func (s *Service) Cancel(ctx context.Context, runID uuid.UUID) (*domain.AgentRun, error) {
	run, err := s.store.TransitionRun(ctx, runID, domain.RunStatusCancelled, "cancelled")
	if err != nil {
		switch {
		case errors.Is(err, repo.ErrNotFound):
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		case errors.Is(err, repo.ErrInvalidState):
			return nil, fmt.Errorf("%w: %s", ErrRunFinished, runID)
		}
		return nil, fmt.Errorf("cancel run: %w", err)
	}

	telemetry.RunStatusChanged(string(domain.RunStatusCancelled))
	s.logger.Info("run cancelled", "run_id", runID)

	return run, nil
}
