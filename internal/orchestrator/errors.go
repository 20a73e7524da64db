package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

// Ошибки оркестратора.
var (
	// ErrInvalidRequest — запрос не прошёл базовую проверку (пустые поля, неизвестный trigger).
	ErrInvalidRequest = errors.New("invalid request")

	// ErrWorkspaceNotFound — workspace с таким slug не существует.
	ErrWorkspaceNotFound = errors.New("workspace not found")

	// ErrWorkflowNotFound — workflow не найден или не опубликован.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowInactive — workflow выключен.
	ErrWorkflowInactive = errors.New("workflow is inactive")

	// ErrAlreadyExists — workspace или workflow с таким именем уже есть.
	ErrAlreadyExists = errors.New("already exists")

	// ErrRunNotFound — run не найден.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunFinished — run уже в терминальном статусе.
	ErrRunFinished = errors.New("run already finished")

	// ErrDeadLetterNotFound — запись DLQ не найдена.
	ErrDeadLetterNotFound = errors.New("dead letter not found")

	// ErrNotRedrivable — запись DLQ нельзя отправить повторно.
	ErrNotRedrivable = errors.New("dead letter is not redrivable")
)

// ValidationFailedError — DAG версии не прошёл валидацию.
// Errors содержит все найденные нарушения (см. engine.ValidateAll).
type ValidationFailedError struct {
	Errors []error
}

func (e *ValidationFailedError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("invalid workflow dag: %s", strings.Join(msgs, "; "))
}

// Unwrap позволяет проверять конкретные нарушения через errors.Is/As.
func (e *ValidationFailedError) Unwrap() []error {
	return e.Errors
}
