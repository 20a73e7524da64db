package domain

// RunStatus — статус выполнения run.
//
// Жизненный цикл (монотонный, терминальные статусы окончательны):
//
//	queued → running → completed
//	                 ↘ failed
//	                 ↘ cancelled
//	queued → failed | cancelled
type RunStatus string

const (
	// RunStatusQueued — run создан, шаги ещё не поставлены в очередь.
	RunStatusQueued RunStatus = "queued"

	// RunStatusRunning — хотя бы один шаг поставлен в очередь.
	RunStatusRunning RunStatus = "running"

	// RunStatusCompleted — все узлы DAG выполнены успешно.
	RunStatusCompleted RunStatus = "completed"

	// RunStatusFailed — шаг упал окончательно и прогресс невозможен.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled — run отменён.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo проверяет, допустим ли переход s → next.
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	switch s {
	case RunStatusQueued:
		return next == RunStatusRunning || next == RunStatusFailed || next == RunStatusCancelled
	case RunStatusRunning:
		return next == RunStatusCompleted || next == RunStatusFailed || next == RunStatusCancelled
	default:
		return false
	}
}

// RunStatusesBefore возвращает статусы, из которых можно перейти в next.
// Используется для compare-and-set в хранилище.
func RunStatusesBefore(next RunStatus) []RunStatus {
	var from []RunStatus
	for _, s := range []RunStatus{RunStatusQueued, RunStatusRunning} {
		if s.CanTransitionTo(next) {
			from = append(from, s)
		}
	}
	return from
}

// StepStatus — статус шага run.
//
// Жизненный цикл:
//
//	pending → enqueued → running → succeeded
//	                            ↘ failed
//	running → enqueued (retry)
type StepStatus string

const (
	// StepStatusPending — шаг создан, job ещё не отправлен.
	StepStatusPending StepStatus = "pending"

	// StepStatusEnqueued — job в очереди.
	StepStatusEnqueued StepStatus = "enqueued"

	// StepStatusRunning — воркер выполняет шаг.
	StepStatusRunning StepStatus = "running"

	// StepStatusSucceeded — шаг успешно выполнен.
	StepStatusSucceeded StepStatus = "succeeded"

	// StepStatusFailed — шаг завершился с ошибкой.
	StepStatusFailed StepStatus = "failed"
)

// IsTerminal возвращает true, если статус финальный.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusSucceeded, StepStatusFailed:
		return true
	default:
		return false
	}
}

// IsInFlight возвращает true для шагов, которые ещё могут завершиться сами.
func (s StepStatus) IsInFlight() bool {
	switch s {
	case StepStatusPending, StepStatusEnqueued, StepStatusRunning:
		return true
	default:
		return false
	}
}

// Trigger — источник запуска run.
type Trigger string

const (
	TriggerManual   Trigger = "manual"
	TriggerSchedule Trigger = "schedule"
	TriggerWebhook  Trigger = "webhook"
)

// IsValid возвращает true для известных триггеров.
func (t Trigger) IsValid() bool {
	switch t {
	case TriggerManual, TriggerSchedule, TriggerWebhook:
		return true
	default:
		return false
	}
}
