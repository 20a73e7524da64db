package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/orchestrator"
)

// Orchestrate запускает последнюю версию workflow.
// POST /orchestrate
//
// Ответ 202: шаги выполняются асинхронно, статус run смотрят через GET /runs/{id}.
// Повтор с тем же idempotency_key возвращает существующий run (existing=true).
func (h *Handler) Orchestrate(w http.ResponseWriter, r *http.Request) {
	var req OrchestrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	var fields []FieldIssue
	if req.WorkspaceSlug == "" {
		fields = append(fields, FieldIssue{Field: "workspace_slug", Message: "is required"})
	}
	if req.WorkflowName == "" {
		fields = append(fields, FieldIssue{Field: "workflow_name", Message: "is required"})
	}
	if req.Trigger != "" && !domain.Trigger(req.Trigger).IsValid() {
		fields = append(fields, FieldIssue{Field: "trigger", Message: "must be one of manual, schedule, webhook"})
	}
	if len(fields) > 0 {
		ValidationFailed(w, "invalid orchestrate request", fields)
		return
	}

	res, err := h.orch.Orchestrate(r.Context(), orchestrator.Request{
		WorkspaceSlug:  req.WorkspaceSlug,
		WorkflowName:   req.WorkflowName,
		Input:          req.Input,
		Trigger:        domain.Trigger(req.Trigger),
		IdempotencyKey: req.IdempotencyKey,
	})
	if HandleError(w, h.logger, err) {
		return
	}

	Accepted(w, OrchestrateFromResult(res))
}

// GetRun возвращает run с шагами и сводкой.
// GET /runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	view, err := h.orch.GetRun(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, RunDetailFromView(view))
}

// CancelRun отменяет run.
// POST /runs/{id}/cancel
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.orch.Cancel(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, RunFromDomain(*run))
}

// queryInt парсит query параметр в int с дефолтным значением.
func queryInt(r *http.Request, name string, defaultVal int) (int, bool) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
