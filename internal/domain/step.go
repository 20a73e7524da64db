package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunStep — состояние одного узла DAG внутри run.
//
// Пара (RunID, NodeID) уникальна: шаг создаётся не более одного раза,
// даже если несколько воркеров одновременно продвигают run.
type RunStep struct {
	// ID — уникальный идентификатор шага.
	ID uuid.UUID `json:"id"`

	// RunID — ссылка на run.
	RunID uuid.UUID `json:"run_id"`

	// NodeID — ID узла DAG.
	NodeID string `json:"node_id"`

	// Status — текущий статус шага.
	Status StepStatus `json:"status"`

	// Attempts — количество начатых попыток выполнения.
	Attempts int `json:"attempts"`

	// Output — результат успешного выполнения.
	// Доступен следующим шагам через {{ .Steps.<node>.Output }}.
	Output map[string]any `json:"output,omitempty"`

	// LastError — текст последней ошибки.
	LastError string `json:"last_error,omitempty"`

	// Exhausted — шаг упал после исчерпания повторов на retryable ошибке.
	// Такой шаг лежит в DLQ и может быть отправлен повторно (redrive),
	// поэтому он не считается окончательным провалом run.
	Exhausted bool `json:"exhausted,omitempty"`

	// CreatedAt — время создания шага.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего изменения статуса.
	UpdatedAt time.Time `json:"updated_at"`
}

// IsPermanentFailure возвращает true для шага, упавшего без возможности redrive.
func (s *RunStep) IsPermanentFailure() bool {
	return s.Status == StepStatusFailed && !s.Exhausted
}

// StepJob — сообщение в очереди шагов.
//
// Формат на проводе — JSON; поля совпадают с json-тегами.
type StepJob struct {
	RunID       uuid.UUID      `json:"run_id"`
	StepID      uuid.UUID      `json:"step_id"`
	WorkflowID  uuid.UUID      `json:"workflow_id"`
	WorkspaceID uuid.UUID      `json:"workspace_id"`
	NodeID      string         `json:"node_id"`
	Connector   string         `json:"connector"`
	Action      string         `json:"action"`
	Payload     map[string]any `json:"payload,omitempty"`

	// IdempotencyKey — hex(sha256(runID ":" nodeID)).
	// Коннекторы могут передавать его во внешние системы.
	IdempotencyKey string `json:"idempotency_key"`

	// Attempt — номер доставки (начиная с 1), растёт при retry.
	Attempt int `json:"attempt"`
}

// StepResultStatus — итог выполнения шага коннектором.
type StepResultStatus string

const (
	StepResultSucceeded StepResultStatus = "succeeded"
	StepResultFailed    StepResultStatus = "failed"
)

// StepResult — результат выполнения шага.
type StepResult struct {
	Status StepResultStatus `json:"status"`
	Output map[string]any   `json:"output,omitempty"`
	Error  *StepError       `json:"error,omitempty"`
}

// StepError — ошибка выполнения шага.
type StepError struct {
	Message string `json:"message"`

	// Retryable — можно ли повторить шаг.
	Retryable bool `json:"retryable"`
}

// Succeeded создаёт успешный результат.
func Succeeded(output map[string]any) StepResult {
	if output == nil {
		output = make(map[string]any)
	}
	return StepResult{Status: StepResultSucceeded, Output: output}
}

// Failed создаёт результат с ошибкой.
func Failed(msg string, retryable bool) StepResult {
	return StepResult{
		Status: StepResultFailed,
		Error:  &StepError{Message: msg, Retryable: retryable},
	}
}

// DeadLetter — запись о шаге, отправленном в DLQ.
type DeadLetter struct {
	// ID — уникальный идентификатор записи.
	ID uuid.UUID `json:"id"`

	// Job — последний отправленный job шага.
	Job StepJob `json:"job"`

	// Reason — текст последней ошибки.
	Reason string `json:"reason"`

	// Attempts — сколько попыток было сделано.
	Attempts int `json:"attempts"`

	// Retryable — ошибка была retryable (повторы исчерпаны).
	// Только такие записи можно отправить повторно.
	Retryable bool `json:"retryable"`

	// FailedAt — время отправки в DLQ.
	FailedAt time.Time `json:"failed_at"`

	// RedrivenAt — время повторной отправки; nil, если ещё не отправлялся.
	RedrivenAt *time.Time `json:"redriven_at,omitempty"`
}
