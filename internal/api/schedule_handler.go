package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/repo"
	"github.com/shaiso/Conductor/internal/scheduler"
)

// ListSchedules возвращает список schedules с фильтрацией.
// GET /schedules?enabled=...&limit=...&offset=...
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	filter := repo.ScheduleFilter{}

	if enabledStr := r.URL.Query().Get("enabled"); enabledStr != "" {
		enabled := enabledStr == "true"
		filter.Enabled = &enabled
	}

	limit, ok := queryInt(r, "limit", 50)
	if !ok {
		BadRequest(w, "invalid limit")
		return
	}
	offset, ok := queryInt(r, "offset", 0)
	if !ok {
		BadRequest(w, "invalid offset")
		return
	}
	filter.Limit = limit
	filter.Offset = offset

	schedules, err := h.schedules.ListSchedules(r.Context(), filter)
	if HandleError(w, h.logger, err) {
		return
	}

	result := make([]ScheduleResponse, len(schedules))
	for i := range schedules {
		result[i] = ScheduleFromDomain(&schedules[i])
	}

	List(w, result, len(result))
}

// CreateSchedule создаёт schedule для workflow.
// POST /schedules
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}

	now := h.now().UTC()
	schedule := &domain.Schedule{
		ID:            uuid.New(),
		WorkspaceSlug: req.WorkspaceSlug,
		WorkflowName:  req.WorkflowName,
		Name:          req.Name,
		CronExpr:      req.CronExpr,
		IntervalSec:   req.IntervalSec,
		Timezone:      req.Timezone,
		Enabled:       req.Enabled,
		Input:         req.Input,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if HandleError(w, h.logger, scheduler.Prepare(schedule, now)) {
		return
	}

	// Workflow должен существовать на момент создания
	if _, err := h.orch.GetWorkflow(r.Context(), req.WorkspaceSlug, req.WorkflowName); HandleError(w, h.logger, err) {
		return
	}

	if err := h.schedules.CreateSchedule(r.Context(), schedule); HandleError(w, h.logger, err) {
		return
	}

	h.logger.Info("schedule created",
		"schedule_id", schedule.ID,
		"workspace", schedule.WorkspaceSlug,
		"workflow", schedule.WorkflowName,
		"next_due_at", schedule.NextDueAt,
	)
	Created(w, ScheduleFromDomain(schedule))
}

// GetSchedule возвращает schedule по ID.
// GET /schedules/{id}
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	schedule, err := h.schedules.GetSchedule(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, ScheduleFromDomain(schedule))
}

// DeleteSchedule удаляет schedule.
// DELETE /schedules/{id}
func (h *Handler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	if HandleError(w, h.logger, h.schedules.DeleteSchedule(r.Context(), id)) {
		return
	}

	NoContent(w)
}

// SetScheduleEnabled включает или выключает schedule.
// PUT /schedules/{id}/enabled
//
// При включении next_due_at пересчитывается от текущего момента,
// чтобы пропущенные за время простоя запуски не выполнялись пачкой.
func (h *Handler) SetScheduleEnabled(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	var req SetEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	schedule, err := h.schedules.GetSchedule(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}

	now := h.now().UTC()
	if req.Enabled && !schedule.Enabled {
		next, err := scheduler.CalculateNextDue(schedule, now)
		if HandleError(w, h.logger, err) {
			return
		}
		schedule.NextDueAt = &next
	}
	schedule.Enabled = req.Enabled
	schedule.UpdatedAt = now

	if HandleError(w, h.logger, h.schedules.UpdateSchedule(r.Context(), schedule)) {
		return
	}

	Success(w, ScheduleFromDomain(schedule))
}
