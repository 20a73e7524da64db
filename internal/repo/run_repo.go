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

// RunRepo — репозиторий для работы с runs.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

const runColumns = `id, workflow_id, workspace_id, version, status, trigger, input,
	idempotency_key, error, started_at, completed_at, created_at`

// CreateRun создаёт run или возвращает существующий с тем же ключом идемпотентности.
//
// ON CONFLICT по частичному уникальному индексу (workflow_id, idempotency_key)
// делает вставку атомарной: из параллельных запросов с одним ключом
// создаёт run ровно один.
func (r *RunRepo) CreateRun(ctx context.Context, run *domain.AgentRun) (*domain.AgentRun, bool, error) {
	inputJSON, err := json.Marshal(run.Input)
	if err != nil {
		return nil, false, fmt.Errorf("marshal input: %w", err)
	}

	stored, err := scanRun(r.pool.QueryRow(ctx, `
		INSERT INTO agent_runs (id, workflow_id, workspace_id, version, status, trigger,
		                        input, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (workflow_id, idempotency_key) WHERE idempotency_key IS NOT NULL
		DO NOTHING
		RETURNING `+runColumns,
		run.ID,
		run.WorkflowID,
		run.WorkspaceID,
		run.Version,
		string(run.Status),
		string(run.Trigger),
		inputJSON,
		nullString(run.IdempotencyKey),
		run.CreatedAt,
	))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("insert run: %w", err)
	}

	// Конфликт: run с этим ключом уже создан
	existing, err := scanRun(r.pool.QueryRow(ctx, `
		SELECT `+runColumns+`
		FROM agent_runs
		WHERE workflow_id = $1 AND idempotency_key = $2
	`, run.WorkflowID, run.IdempotencyKey))
	if err != nil {
		return nil, false, fmt.Errorf("get run by idempotency key: %w", err)
	}
	return existing, false, nil
}

// GetRun возвращает run по ID.
func (r *RunRepo) GetRun(ctx context.Context, id uuid.UUID) (*domain.AgentRun, error) {
	return scanRun(r.pool.QueryRow(ctx, `
		SELECT `+runColumns+`
		FROM agent_runs
		WHERE id = $1
	`, id))
}

// TransitionRun — compare-and-set статуса run.
func (r *RunRepo) TransitionRun(ctx context.Context, id uuid.UUID, to domain.RunStatus, errMsg string) (*domain.AgentRun, error) {
	from := domain.RunStatusesBefore(to)
	if len(from) == 0 {
		return nil, fmt.Errorf("%w: no transition into %s", ErrInvalidState, to)
	}
	fromStr := make([]string, len(from))
	for i, s := range from {
		fromStr[i] = string(s)
	}

	var completedAt *time.Time
	if to.IsTerminal() {
		now := time.Now()
		completedAt = &now
	}

	run, err := scanRun(r.pool.QueryRow(ctx, `
		UPDATE agent_runs
		SET status = $2,
		    started_at = CASE WHEN $2 = 'running' AND started_at IS NULL THEN NOW() ELSE started_at END,
		    completed_at = COALESCE($3, completed_at),
		    error = COALESCE($4, error)
		WHERE id = $1 AND status = ANY($5)
		RETURNING `+runColumns,
		id, string(to), completedAt, nullString(errMsg), fromStr,
	))
	if errors.Is(err, ErrNotFound) {
		// Различаем "нет run" и "неверный статус"
		if _, getErr := r.GetRun(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrInvalidState
	}
	if err != nil {
		return nil, fmt.Errorf("transition run: %w", err)
	}
	return run, nil
}

// scanRun сканирует одну строку в AgentRun.
func scanRun(row pgx.Row) (*domain.AgentRun, error) {
	var run domain.AgentRun
	var status, trigger string
	var inputJSON []byte
	var idempotencyKey, runError *string

	err := row.Scan(
		&run.ID,
		&run.WorkflowID,
		&run.WorkspaceID,
		&run.Version,
		&status,
		&trigger,
		&inputJSON,
		&idempotencyKey,
		&runError,
		&run.StartedAt,
		&run.CompletedAt,
		&run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	run.Status = domain.RunStatus(status)
	run.Trigger = domain.Trigger(trigger)
	if inputJSON != nil {
		if err := json.Unmarshal(inputJSON, &run.Input); err != nil {
			return nil, fmt.Errorf("unmarshal input: %w", err)
		}
	}
	if idempotencyKey != nil {
		run.IdempotencyKey = *idempotencyKey
	}
	if runError != nil {
		run.Error = *runError
	}
	return &run, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullInt возвращает nil для нулевого int.
func nullInt(i int) *int {
	if i == 0 {
		return nil
	}
	return &i
}
