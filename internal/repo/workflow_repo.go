package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Conductor/internal/domain"
)

// WorkflowRepo — репозиторий workspaces, workflows и версий.
type WorkflowRepo struct {
	pool *pgxpool.Pool
}

// NewWorkflowRepo создаёт новый WorkflowRepo.
func NewWorkflowRepo(pool *pgxpool.Pool) *WorkflowRepo {
	return &WorkflowRepo{pool: pool}
}

// --- Workspace ---

// CreateWorkspace создаёт workspace. Занятый slug — ErrAlreadyExists.
func (r *WorkflowRepo) CreateWorkspace(ctx context.Context, ws *domain.Workspace) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO workspaces (id, slug, name, created_at)
		VALUES ($1, $2, $3, $4)
	`, ws.ID, ws.Slug, nullString(ws.Name), ws.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}

// GetWorkspaceBySlug возвращает workspace по slug.
func (r *WorkflowRepo) GetWorkspaceBySlug(ctx context.Context, slug string) (*domain.Workspace, error) {
	var ws domain.Workspace
	var name *string
	err := r.pool.QueryRow(ctx, `
		SELECT id, slug, name, created_at
		FROM workspaces
		WHERE slug = $1
	`, slug).Scan(&ws.ID, &ws.Slug, &name, &ws.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workspace: %w", err)
	}
	if name != nil {
		ws.Name = *name
	}
	return &ws, nil
}

// --- Workflow ---

// CreateWorkflow создаёт workflow. Имя занято в workspace — ErrAlreadyExists.
func (r *WorkflowRepo) CreateWorkflow(ctx context.Context, wf *domain.Workflow) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO workflows (id, workspace_id, name, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, wf.ID, wf.WorkspaceID, wf.Name, wf.IsActive, wf.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

// GetWorkflowByName возвращает workflow по имени внутри workspace.
func (r *WorkflowRepo) GetWorkflowByName(ctx context.Context, workspaceID uuid.UUID, name string) (*domain.Workflow, error) {
	var wf domain.Workflow
	err := r.pool.QueryRow(ctx, `
		SELECT id, workspace_id, name, is_active, created_at
		FROM workflows
		WHERE workspace_id = $1 AND name = $2
	`, workspaceID, name).Scan(&wf.ID, &wf.WorkspaceID, &wf.Name, &wf.IsActive, &wf.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return &wf, nil
}

// SetWorkflowActive включает или выключает workflow.
func (r *WorkflowRepo) SetWorkflowActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE workflows SET is_active = $2 WHERE id = $1
	`, id, active)
	if err != nil {
		return fmt.Errorf("set workflow active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- WorkflowVersion ---

// CreateVersion публикует новую версию workflow.
//
// Строка workflow блокируется на время транзакции, поэтому параллельные
// публикации получают последовательные номера версий.
func (r *WorkflowRepo) CreateVersion(ctx context.Context, workflowID uuid.UUID, dag domain.WorkflowDag, policy *domain.RetryPolicy) (*domain.WorkflowVersion, error) {
	dagJSON, err := json.Marshal(dag)
	if err != nil {
		return nil, fmt.Errorf("marshal dag: %w", err)
	}
	var policyJSON []byte
	if policy != nil {
		if policyJSON, err = json.Marshal(policy); err != nil {
			return nil, fmt.Errorf("marshal retry policy: %w", err)
		}
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var locked uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM workflows WHERE id = $1 FOR UPDATE`, workflowID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock workflow: %w", err)
	}

	// Следующий номер версии
	var nextVersion int
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1
		FROM workflow_versions
		WHERE workflow_id = $1
	`, workflowID).Scan(&nextVersion)
	if err != nil {
		return nil, fmt.Errorf("get next version: %w", err)
	}

	version, err := scanVersion(tx.QueryRow(ctx, `
		INSERT INTO workflow_versions (workflow_id, version, dag, retry_policy, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING workflow_id, version, dag, retry_policy, created_at
	`, workflowID, nextVersion, dagJSON, policyJSON))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit version: %w", err)
	}
	return version, nil
}

// GetVersion возвращает конкретную версию workflow.
func (r *WorkflowRepo) GetVersion(ctx context.Context, workflowID uuid.UUID, version int) (*domain.WorkflowVersion, error) {
	return scanVersion(r.pool.QueryRow(ctx, `
		SELECT workflow_id, version, dag, retry_policy, created_at
		FROM workflow_versions
		WHERE workflow_id = $1 AND version = $2
	`, workflowID, version))
}

// GetLatestVersion возвращает последнюю опубликованную версию.
func (r *WorkflowRepo) GetLatestVersion(ctx context.Context, workflowID uuid.UUID) (*domain.WorkflowVersion, error) {
	return scanVersion(r.pool.QueryRow(ctx, `
		SELECT workflow_id, version, dag, retry_policy, created_at
		FROM workflow_versions
		WHERE workflow_id = $1
		ORDER BY version DESC
		LIMIT 1
	`, workflowID))
}

func scanVersion(row pgx.Row) (*domain.WorkflowVersion, error) {
	var v domain.WorkflowVersion
	var dagJSON, policyJSON []byte

	err := row.Scan(&v.WorkflowID, &v.Version, &dagJSON, &policyJSON, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan workflow version: %w", err)
	}

	if err := json.Unmarshal(dagJSON, &v.Dag); err != nil {
		return nil, fmt.Errorf("unmarshal dag: %w", err)
	}
	if policyJSON != nil {
		v.RetryPolicy = &domain.RetryPolicy{}
		if err := json.Unmarshal(policyJSON, v.RetryPolicy); err != nil {
			return nil, fmt.Errorf("unmarshal retry policy: %w", err)
		}
	}
	return &v, nil
}
