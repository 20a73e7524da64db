package api

import (
	"log/slog"
	"time"

	"github.com/shaiso/Conductor/internal/orchestrator"
	"github.com/shaiso/Conductor/internal/repo"
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	orch      *orchestrator.Service
	schedules repo.ScheduleStore
	logger    *slog.Logger
	now       func() time.Time
}

// Config — конфигурация для создания Handler.
type Config struct {
	Orchestrator *orchestrator.Service

	// Schedules — хранилище расписаний (опционально; без него /schedules не регистрируются).
	Schedules repo.ScheduleStore

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		orch:      cfg.Orchestrator,
		schedules: cfg.Schedules,
		logger:    logger,
		now:       time.Now,
	}
}
