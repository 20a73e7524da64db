package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/orchestrator"
)

// Orchestrate DTOs

// OrchestrateRequest — запрос на запуск workflow.
type OrchestrateRequest struct {
	WorkspaceSlug  string         `json:"workspace_slug"`
	WorkflowName   string         `json:"workflow_name"`
	Input          map[string]any `json:"input,omitempty"`
	Trigger        string         `json:"trigger,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// OrchestrateResponse — ответ на запуск: run и число отправленных шагов.
type OrchestrateResponse struct {
	RunID    uuid.UUID `json:"run_id"`
	Status   string    `json:"status"`
	Steps    int       `json:"steps"`
	Existing bool      `json:"existing,omitempty"`
}

// OrchestrateFromResult конвертирует orchestrator.Result в OrchestrateResponse.
func OrchestrateFromResult(res *orchestrator.Result) OrchestrateResponse {
	return OrchestrateResponse{
		RunID:    res.RunID,
		Status:   string(res.Status),
		Steps:    len(res.StepsEnqueued),
		Existing: res.Existing,
	}
}

// Run DTOs

// RunResponse — ответ с run.
type RunResponse struct {
	ID             uuid.UUID      `json:"id"`
	WorkflowID     uuid.UUID      `json:"workflow_id"`
	WorkspaceID    uuid.UUID      `json:"workspace_id"`
	Version        int            `json:"version"`
	Status         string         `json:"status"`
	Trigger        string         `json:"trigger"`
	Input          map[string]any `json:"input,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Error          string         `json:"error,omitempty"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// RunFromDomain конвертирует domain.AgentRun в RunResponse.
func RunFromDomain(r domain.AgentRun) RunResponse {
	return RunResponse{
		ID:             r.ID,
		WorkflowID:     r.WorkflowID,
		WorkspaceID:    r.WorkspaceID,
		Version:        r.Version,
		Status:         string(r.Status),
		Trigger:        string(r.Trigger),
		Input:          r.Input,
		IdempotencyKey: r.IdempotencyKey,
		Error:          r.Error,
		StartedAt:      r.StartedAt,
		CompletedAt:    r.CompletedAt,
		CreatedAt:      r.CreatedAt,
	}
}

// StepResponse — ответ с шагом run.
type StepResponse struct {
	ID        uuid.UUID      `json:"id"`
	NodeID    string         `json:"node_id"`
	Status    string         `json:"status"`
	Attempts  int            `json:"attempts"`
	Output    map[string]any `json:"output,omitempty"`
	LastError string         `json:"last_error,omitempty"`
	Exhausted bool           `json:"exhausted,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// StepFromDomain конвертирует domain.RunStep в StepResponse.
func StepFromDomain(s domain.RunStep) StepResponse {
	return StepResponse{
		ID:        s.ID,
		NodeID:    s.NodeID,
		Status:    string(s.Status),
		Attempts:  s.Attempts,
		Output:    s.Output,
		LastError: s.LastError,
		Exhausted: s.Exhausted,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// RunDetailResponse — run с шагами в порядке создания и сводкой.
type RunDetailResponse struct {
	RunResponse
	Steps   []StepResponse       `json:"steps"`
	Summary orchestrator.Summary `json:"summary"`
}

// RunDetailFromView конвертирует orchestrator.RunView в RunDetailResponse.
func RunDetailFromView(v *orchestrator.RunView) RunDetailResponse {
	steps := make([]StepResponse, len(v.Steps))
	for i, s := range v.Steps {
		steps[i] = StepFromDomain(s)
	}
	return RunDetailResponse{
		RunResponse: RunFromDomain(*v.Run),
		Steps:       steps,
		Summary:     v.Summary,
	}
}

// Dead letter DTOs

// DeadLetterResponse — ответ с записью DLQ.
type DeadLetterResponse struct {
	ID         uuid.UUID      `json:"id"`
	Job        domain.StepJob `json:"job"`
	Reason     string         `json:"reason"`
	Attempts   int            `json:"attempts"`
	Retryable  bool           `json:"retryable"`
	FailedAt   time.Time      `json:"failed_at"`
	RedrivenAt *time.Time     `json:"redriven_at,omitempty"`
}

// DeadLetterFromDomain конвертирует domain.DeadLetter в DeadLetterResponse.
func DeadLetterFromDomain(d domain.DeadLetter) DeadLetterResponse {
	return DeadLetterResponse{
		ID:         d.ID,
		Job:        d.Job,
		Reason:     d.Reason,
		Attempts:   d.Attempts,
		Retryable:  d.Retryable,
		FailedAt:   d.FailedAt,
		RedrivenAt: d.RedrivenAt,
	}
}

// RedriveResponse — ответ на повторную отправку шага.
type RedriveResponse struct {
	RunID  uuid.UUID `json:"run_id"`
	NodeID string    `json:"node_id"`
	StepID uuid.UUID `json:"step_id"`
}

// Workspace / Workflow DTOs

// CreateWorkspaceRequest — запрос на создание workspace.
type CreateWorkspaceRequest struct {
	Slug string `json:"slug"`
	Name string `json:"name,omitempty"`
}

// CreateWorkflowRequest — запрос на создание workflow.
type CreateWorkflowRequest struct {
	Name string `json:"name"`
}

// SetActiveRequest — запрос на включение/выключение workflow.
type SetActiveRequest struct {
	Active bool `json:"active"`
}

// PublishVersionRequest — запрос на публикацию версии workflow.
type PublishVersionRequest struct {
	Dag         domain.WorkflowDag  `json:"dag"`
	RetryPolicy *domain.RetryPolicy `json:"retry_policy,omitempty"`
}

// VersionResponse — ответ с опубликованной версией.
type VersionResponse struct {
	WorkflowID  uuid.UUID           `json:"workflow_id"`
	Version     int                 `json:"version"`
	Nodes       int                 `json:"nodes"`
	Edges       int                 `json:"edges"`
	RetryPolicy *domain.RetryPolicy `json:"retry_policy,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

// VersionFromDomain конвертирует domain.WorkflowVersion в VersionResponse.
func VersionFromDomain(v *domain.WorkflowVersion) VersionResponse {
	return VersionResponse{
		WorkflowID:  v.WorkflowID,
		Version:     v.Version,
		Nodes:       len(v.Dag.Nodes),
		Edges:       len(v.Dag.Edges),
		RetryPolicy: v.RetryPolicy,
		CreatedAt:   v.CreatedAt,
	}
}

// Schedule DTOs

// CreateScheduleRequest — запрос на создание schedule.
type CreateScheduleRequest struct {
	WorkspaceSlug string         `json:"workspace_slug"`
	WorkflowName  string         `json:"workflow_name"`
	Name          string         `json:"name"`
	CronExpr      string         `json:"cron_expr,omitempty"`
	IntervalSec   int            `json:"interval_sec,omitempty"`
	Timezone      string         `json:"timezone,omitempty"`
	Enabled       bool           `json:"enabled"`
	Input         map[string]any `json:"input,omitempty"`
}

// SetEnabledRequest — запрос на включение/выключение.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// ScheduleResponse — ответ с schedule.
type ScheduleResponse struct {
	ID            uuid.UUID      `json:"id"`
	WorkspaceSlug string         `json:"workspace_slug"`
	WorkflowName  string         `json:"workflow_name"`
	Name          string         `json:"name"`
	CronExpr      string         `json:"cron_expr,omitempty"`
	IntervalSec   int            `json:"interval_sec,omitempty"`
	Timezone      string         `json:"timezone"`
	Enabled       bool           `json:"enabled"`
	NextDueAt     *time.Time     `json:"next_due_at,omitempty"`
	LastRunAt     *time.Time     `json:"last_run_at,omitempty"`
	LastRunID     *uuid.UUID     `json:"last_run_id,omitempty"`
	Input         map[string]any `json:"input,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// ScheduleFromDomain конвертирует domain.Schedule в ScheduleResponse.
func ScheduleFromDomain(s *domain.Schedule) ScheduleResponse {
	if s == nil {
		return ScheduleResponse{}
	}
	return ScheduleResponse{
		ID:            s.ID,
		WorkspaceSlug: s.WorkspaceSlug,
		WorkflowName:  s.WorkflowName,
		Name:          s.Name,
		CronExpr:      s.CronExpr,
		IntervalSec:   s.IntervalSec,
		Timezone:      s.Timezone,
		Enabled:       s.Enabled,
		NextDueAt:     s.NextDueAt,
		LastRunAt:     s.LastRunAt,
		LastRunID:     s.LastRunID,
		Input:         s.Input,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}
