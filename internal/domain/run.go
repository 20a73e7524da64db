package domain

import (
	"time"

	"github.com/google/uuid"
)

// AgentRun — экземпляр выполнения версии workflow.
//
// Run создаётся когда:
// - Клиент вызывает POST /orchestrate (trigger=manual или webhook)
// - Scheduler запускает workflow по расписанию (trigger=schedule)
//
// Run закреплён за одной версией workflow и имеет свой набор шагов (RunStep).
type AgentRun struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// WorkflowID — ссылка на выполняемый workflow.
	WorkflowID uuid.UUID `json:"workflow_id"`

	// WorkspaceID — ссылка на workspace.
	WorkspaceID uuid.UUID `json:"workspace_id"`

	// Version — версия workflow, которая выполняется.
	Version int `json:"version"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// Trigger — источник запуска.
	Trigger Trigger `json:"trigger"`

	// Input — входные параметры run.
	Input map[string]any `json:"input,omitempty"`

	// IdempotencyKey — ключ идемпотентности запуска.
	// Повторный orchestrate с тем же ключом возвращает существующий run.
	// Для запусков по расписанию: "{schedule_id}_{next_due_at}".
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// Error — текст ошибки, если run завершился с failed.
	Error string `json:"error,omitempty"`

	// StartedAt — время перехода в running.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt — время перехода в терминальный статус.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *AgentRun) Duration() time.Duration {
	if r.StartedAt == nil || r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *AgentRun) IsFinished() bool {
	return r.Status.IsTerminal()
}

// ApplyStatus меняет статус и проставляет временные метки.
// Хранилища используют его, чтобы одинаково заполнять started_at/completed_at.
func (r *AgentRun) ApplyStatus(status RunStatus, errMsg string, now time.Time) {
	r.Status = status
	if status == RunStatusRunning && r.StartedAt == nil {
		r.StartedAt = &now
	}
	if status.IsTerminal() {
		r.CompletedAt = &now
		if errMsg != "" {
			r.Error = errMsg
		}
	}
}
