package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Conductor/internal/domain"
)

// StepRepo — репозиторий шагов runs.
type StepRepo struct {
	pool *pgxpool.Pool
}

// NewStepRepo создаёт новый StepRepo.
func NewStepRepo(pool *pgxpool.Pool) *StepRepo {
	return &StepRepo{pool: pool}
}

const stepColumns = `id, run_id, node_id, status, attempts, output, last_error,
	exhausted, created_at, updated_at`

// CreateStepIfAbsent создаёт шаг, если для (run_id, node_id) его ещё нет.
// Шаг может создаваться сразу failed (config не отрендерился), поэтому
// last_error и exhausted пишутся вместе со статусом.
func (r *StepRepo) CreateStepIfAbsent(ctx context.Context, step *domain.RunStep) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		INSERT INTO run_steps (id, run_id, node_id, status, attempts, last_error,
		                       exhausted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id, node_id) DO NOTHING
	`,
		step.ID,
		step.RunID,
		step.NodeID,
		string(step.Status),
		step.Attempts,
		nullString(step.LastError),
		step.Exhausted,
		step.CreatedAt,
		step.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert step: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// GetStep возвращает шаг run по ID узла.
func (r *StepRepo) GetStep(ctx context.Context, runID uuid.UUID, nodeID string) (*domain.RunStep, error) {
	return scanStep(r.pool.QueryRow(ctx, `
		SELECT `+stepColumns+`
		FROM run_steps
		WHERE run_id = $1 AND node_id = $2
	`, runID, nodeID))
}

// ListSteps возвращает шаги run в порядке создания.
func (r *StepRepo) ListSteps(ctx context.Context, runID uuid.UUID) ([]domain.RunStep, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+stepColumns+`
		FROM run_steps
		WHERE run_id = $1
		ORDER BY created_at ASC, node_id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	return collectSteps(rows)
}

// UpdateStep — compare-and-set шага.
func (r *StepRepo) UpdateStep(ctx context.Context, upd StepUpdate) (*domain.RunStep, error) {
	var outputJSON []byte
	if upd.Output != nil {
		var err error
		if outputJSON, err = json.Marshal(upd.Output); err != nil {
			return nil, fmt.Errorf("marshal output: %w", err)
		}
	}

	// Пустой массив, не NULL: cardinality(NULL) не равен 0
	from := make([]string, 0, len(upd.From))
	for _, s := range upd.From {
		from = append(from, string(s))
	}

	step, err := scanStep(r.pool.QueryRow(ctx, `
		UPDATE run_steps
		SET status = $3,
		    attempts = CASE WHEN $4 THEN 0 WHEN $5 THEN attempts + 1 ELSE attempts END,
		    output = COALESCE($6, output),
		    last_error = $7,
		    exhausted = $8,
		    updated_at = NOW()
		WHERE run_id = $1 AND node_id = $2
		  AND (cardinality($9::text[]) = 0 OR status = ANY($9::text[]))
		RETURNING `+stepColumns,
		upd.RunID,
		upd.NodeID,
		string(upd.To),
		upd.ResetAttempts,
		upd.IncAttempts,
		outputJSON,
		nullString(upd.LastError),
		upd.Exhausted,
		from,
	))
	if errors.Is(err, ErrNotFound) {
		if _, getErr := r.GetStep(ctx, upd.RunID, upd.NodeID); getErr != nil {
			return nil, getErr
		}
		return nil, ErrInvalidState
	}
	if err != nil {
		return nil, fmt.Errorf("update step: %w", err)
	}
	return step, nil
}

// ListStaleSteps возвращает зависшие шаги активных runs.
func (r *StepRepo) ListStaleSteps(ctx context.Context, olderThan time.Time, limit int) ([]domain.RunStep, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.id, s.run_id, s.node_id, s.status, s.attempts, s.output, s.last_error,
		       s.exhausted, s.created_at, s.updated_at
		FROM run_steps s
		JOIN agent_runs r ON r.id = s.run_id
		WHERE s.status IN ('pending', 'enqueued', 'running')
		  AND s.updated_at < $1
		  AND r.status IN ('queued', 'running')
		ORDER BY s.updated_at ASC
		LIMIT $2
	`, olderThan, defaultLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list stale steps: %w", err)
	}
	return collectSteps(rows)
}

func collectSteps(rows pgx.Rows) ([]domain.RunStep, error) {
	defer rows.Close()

	var steps []domain.RunStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, *step)
	}
	return steps, rows.Err()
}

// scanStep сканирует одну строку в RunStep.
func scanStep(row pgx.Row) (*domain.RunStep, error) {
	var s domain.RunStep
	var status string
	var outputJSON []byte
	var lastError *string

	err := row.Scan(
		&s.ID,
		&s.RunID,
		&s.NodeID,
		&status,
		&s.Attempts,
		&outputJSON,
		&lastError,
		&s.Exhausted,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan step: %w", err)
	}

	s.Status = domain.StepStatus(status)
	if outputJSON != nil {
		if err := json.Unmarshal(outputJSON, &s.Output); err != nil {
			return nil, fmt.Errorf("unmarshal output: %w", err)
		}
	}
	if lastError != nil {
		s.LastError = *lastError
	}
	return &s, nil
}
