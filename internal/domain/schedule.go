package domain

import (
	"time"

	"github.com/google/uuid"
)

// Schedule — триггер, периодически запускающий workflow.
//
// Время запуска задаётся cron-выражением ("0 9 * * *") или интервалом
// в секундах; при наличии обоих действует cron. Scheduler выбирает
// записи с next_due_at <= now и вызывает orchestrate с trigger=schedule.
type Schedule struct {
	ID uuid.UUID `json:"id"`

	// Цель запуска. Workflow разрешается по имени на каждом тике,
	// так что расписание выполняет последнюю опубликованную версию.
	WorkspaceSlug string `json:"workspace_slug"`
	WorkflowName  string `json:"workflow_name"`

	Name string `json:"name,omitempty"`

	// CronExpr — стандартный cron из пяти полей или дескриптор (@hourly).
	CronExpr string `json:"cron_expr,omitempty"`

	IntervalSec int `json:"interval_sec,omitempty"`

	// Timezone — IANA-зона для cron ("Europe/Moscow"), по умолчанию UTC.
	Timezone string `json:"timezone"`

	Enabled bool `json:"enabled"`

	// NextDueAt — момент следующего запуска; nil у выключенных расписаний,
	// для которых время ещё не вычислялось.
	NextDueAt *time.Time `json:"next_due_at,omitempty"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastRunID *uuid.UUID `json:"last_run_id,omitempty"`

	// Input копируется в каждый созданный run.
	Input map[string]any `json:"input,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsCron — расписание задано cron-выражением.
func (s *Schedule) IsCron() bool {
	return s.CronExpr != ""
}

// IsInterval — расписание задано только интервалом.
func (s *Schedule) IsInterval() bool {
	return !s.IsCron() && s.IntervalSec > 0
}

// IsDue сообщает, что включённое расписание пора запускать.
func (s *Schedule) IsDue(now time.Time) bool {
	return s.Enabled && s.NextDueAt != nil && !now.Before(*s.NextDueAt)
}

// RecordRun фиксирует созданный run и следующий момент запуска.
func (s *Schedule) RecordRun(runID uuid.UUID, at, nextDue time.Time) {
	s.LastRunAt = &at
	s.LastRunID = &runID
	s.NextDueAt = &nextDue
	s.UpdatedAt = at
}
