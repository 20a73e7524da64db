package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/engine"
	"github.com/shaiso/Conductor/internal/repo"
)

// CreateWorkspace создаёт workspace.
func (s *Service) CreateWorkspace(ctx context.Context, slug, name string) (*domain.Workspace, error) {
	if slug == "" {
		return nil, fmt.Errorf("%w: slug is required", ErrInvalidRequest)
	}
	if name == "" {
		name = slug
	}

	ws := &domain.Workspace{
		ID:        uuid.New(),
		Slug:      slug,
		Name:      name,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateWorkspace(ctx, ws); err != nil {
		if errors.Is(err, repo.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: workspace %s", ErrAlreadyExists, slug)
		}
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	s.logger.Info("workspace created", "workspace", slug)
	return ws, nil
}

// CreateWorkflow создаёт активный workflow в workspace.
func (s *Service) CreateWorkflow(ctx context.Context, slug, name string) (*domain.Workflow, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: workflow name is required", ErrInvalidRequest)
	}

	ws, err := s.workspace(ctx, slug)
	if err != nil {
		return nil, err
	}

	wf := &domain.Workflow{
		ID:          uuid.New(),
		WorkspaceID: ws.ID,
		Name:        name,
		IsActive:    true,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.CreateWorkflow(ctx, wf); err != nil {
		if errors.Is(err, repo.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: workflow %s/%s", ErrAlreadyExists, slug, name)
		}
		return nil, fmt.Errorf("create workflow: %w", err)
	}

	s.logger.Info("workflow created", "workspace", slug, "workflow", name)
	return wf, nil
}

// PublishVersion публикует новую версию workflow.
// Невалидный DAG отклоняется с *ValidationFailedError.
func (s *Service) PublishVersion(ctx context.Context, slug, name string, dag domain.WorkflowDag, policy *domain.RetryPolicy) (*domain.WorkflowVersion, error) {
	if errs := engine.ValidateAll(&dag); len(errs) > 0 {
		return nil, &ValidationFailedError{Errors: errs}
	}

	wf, err := s.GetWorkflow(ctx, slug, name)
	if err != nil {
		return nil, err
	}

	version, err := s.store.CreateVersion(ctx, wf.ID, dag, policy)
	if err != nil {
		return nil, fmt.Errorf("create version: %w", err)
	}

	s.logger.Info("workflow version published",
		"workspace", slug,
		"workflow", name,
		"version", version.Version,
		"nodes", len(dag.Nodes),
	)
	return version, nil
}

// GetWorkflow возвращает workflow по slug workspace и имени.
func (s *Service) GetWorkflow(ctx context.Context, slug, name string) (*domain.Workflow, error) {
	ws, err := s.workspace(ctx, slug)
	if err != nil {
		return nil, err
	}

	wf, err := s.store.GetWorkflowByName(ctx, ws.ID, name)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrWorkflowNotFound, slug, name)
		}
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return wf, nil
}

// SetWorkflowActive включает или выключает workflow.
// Выключенный workflow нельзя запустить; уже идущие runs продолжаются.
func (s *Service) SetWorkflowActive(ctx context.Context, slug, name string, active bool) (*domain.Workflow, error) {
	wf, err := s.GetWorkflow(ctx, slug, name)
	if err != nil {
		return nil, err
	}

	if err := s.store.SetWorkflowActive(ctx, wf.ID, active); err != nil {
		return nil, fmt.Errorf("set workflow active: %w", err)
	}
	wf.IsActive = active

	s.logger.Info("workflow activity changed", "workspace", slug, "workflow", name, "active", active)
	return wf, nil
}

func (s *Service) workspace(ctx context.Context, slug string) (*domain.Workspace, error) {
	ws, err := s.store.GetWorkspaceBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrWorkspaceNotFound, slug)
		}
		return nil, fmt.Errorf("get workspace: %w", err)
	}
	return ws, nil
}
