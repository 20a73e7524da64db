package repo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conductor/internal/domain"
)

// Store — хранилище состояния runs.
//
// Оркестратор и воркеры получают Store через конструктор; реализация
// выбирается при старте бинарника (PostgresStore или MemoryStore).
//
// Гарантии реализаций:
//   - CreateStepIfAbsent создаёт шаг не более одного раза на (run_id, node_id)
//   - TransitionRun и UpdateStep — compare-and-set по текущему статусу
//   - CreateRun с ключом идемпотентности возвращает уже существующий run
type Store interface {
	WorkflowStore
	RunStore
	StepStore
	DeadLetterStore
}

// WorkflowStore — workspaces, workflows и их версии.
type WorkflowStore interface {
	CreateWorkspace(ctx context.Context, ws *domain.Workspace) error
	GetWorkspaceBySlug(ctx context.Context, slug string) (*domain.Workspace, error)

	CreateWorkflow(ctx context.Context, wf *domain.Workflow) error
	GetWorkflowByName(ctx context.Context, workspaceID uuid.UUID, name string) (*domain.Workflow, error)

	// SetWorkflowActive включает или выключает workflow. ErrNotFound — workflow нет.
	SetWorkflowActive(ctx context.Context, id uuid.UUID, active bool) error

	// CreateVersion публикует новую версию; номер назначается автоматически.
	CreateVersion(ctx context.Context, workflowID uuid.UUID, dag domain.WorkflowDag, policy *domain.RetryPolicy) (*domain.WorkflowVersion, error)
	GetVersion(ctx context.Context, workflowID uuid.UUID, version int) (*domain.WorkflowVersion, error)
	GetLatestVersion(ctx context.Context, workflowID uuid.UUID) (*domain.WorkflowVersion, error)
}

// RunStore — runs.
type RunStore interface {
	// CreateRun создаёт run. Если у run задан IdempotencyKey и run с таким
	// ключом для того же workflow уже есть, возвращает существующий и created=false.
	CreateRun(ctx context.Context, run *domain.AgentRun) (stored *domain.AgentRun, created bool, err error)
	GetRun(ctx context.Context, id uuid.UUID) (*domain.AgentRun, error)

	// TransitionRun переводит run в статус to, если текущий статус это допускает.
	// Возвращает ErrInvalidState, если переход невозможен (например, run уже завершён).
	TransitionRun(ctx context.Context, id uuid.UUID, to domain.RunStatus, errMsg string) (*domain.AgentRun, error)
}

// StepStore — шаги runs.
type StepStore interface {
	// CreateStepIfAbsent создаёт шаг; created=false, если шаг уже есть.
	CreateStepIfAbsent(ctx context.Context, step *domain.RunStep) (created bool, err error)
	GetStep(ctx context.Context, runID uuid.UUID, nodeID string) (*domain.RunStep, error)

	// ListSteps возвращает шаги run в порядке создания.
	ListSteps(ctx context.Context, runID uuid.UUID) ([]domain.RunStep, error)

	// UpdateStep применяет StepUpdate, если текущий статус шага входит в From.
	// ErrInvalidState — статус не совпал, ErrNotFound — шага нет.
	UpdateStep(ctx context.Context, upd StepUpdate) (*domain.RunStep, error)

	// ListStaleSteps возвращает шаги в статусах pending/enqueued/running,
	// не менявшиеся с olderThan, у незавершённых runs.
	ListStaleSteps(ctx context.Context, olderThan time.Time, limit int) ([]domain.RunStep, error)
}

// DeadLetterStore — записи DLQ.
type DeadLetterStore interface {
	CreateDeadLetter(ctx context.Context, dl *domain.DeadLetter) error
	GetDeadLetter(ctx context.Context, id uuid.UUID) (*domain.DeadLetter, error)
	ListDeadLetters(ctx context.Context, filter DeadLetterFilter) ([]domain.DeadLetter, error)

	// MarkRedriven отмечает запись как отправленную повторно.
	// ErrInvalidState — запись уже была отправлена.
	MarkRedriven(ctx context.Context, id uuid.UUID, at time.Time) error
}

// ScheduleStore — расписания запусков.
type ScheduleStore interface {
	CreateSchedule(ctx context.Context, s *domain.Schedule) error
	GetSchedule(ctx context.Context, id uuid.UUID) (*domain.Schedule, error)
	ListSchedules(ctx context.Context, filter ScheduleFilter) ([]domain.Schedule, error)
	ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]domain.Schedule, error)
	UpdateSchedule(ctx context.Context, s *domain.Schedule) error
	DeleteSchedule(ctx context.Context, id uuid.UUID) error
}

// StepUpdate — условное изменение шага.
type StepUpdate struct {
	RunID  uuid.UUID
	NodeID string

	// From — допустимые текущие статусы; пусто — любой.
	From []domain.StepStatus
	To   domain.StepStatus

	// IncAttempts увеличивает attempts на 1, ResetAttempts обнуляет.
	IncAttempts   bool
	ResetAttempts bool

	// Output записывается, если не nil.
	Output map[string]any

	// LastError перезаписывается всегда (пустая строка очищает).
	LastError string

	Exhausted bool
}

// allows проверяет, разрешён ли переход из текущего статуса.
func (u *StepUpdate) allows(current domain.StepStatus) bool {
	if len(u.From) == 0 {
		return true
	}
	for _, s := range u.From {
		if s == current {
			return true
		}
	}
	return false
}

// DeadLetterFilter — параметры выборки DLQ.
type DeadLetterFilter struct {
	RunID *uuid.UUID

	// Pending — только записи, которые ещё не отправлялись повторно.
	Pending bool

	Limit int
}

// ScheduleFilter — параметры фильтрации schedules.
type ScheduleFilter struct {
	Enabled *bool
	Limit   int
	Offset  int
}

// defaultLimit подставляет лимит по умолчанию.
func defaultLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
