package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/shaiso/Conductor/internal/orchestrator"
)

// ListDeadLetters возвращает записи DLQ.
// GET /dead-letters?run_id=...&pending=true&limit=...
func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	q := orchestrator.DeadLetterQuery{}

	if runIDStr := r.URL.Query().Get("run_id"); runIDStr != "" {
		runID, err := uuid.Parse(runIDStr)
		if err != nil {
			BadRequest(w, "invalid run_id")
			return
		}
		q.RunID = &runID
	}

	q.Pending = r.URL.Query().Get("pending") == "true"

	limit, ok := queryInt(r, "limit", 50)
	if !ok {
		BadRequest(w, "invalid limit")
		return
	}
	q.Limit = limit

	items, err := h.orch.ListDeadLetters(r.Context(), q)
	if HandleError(w, h.logger, err) {
		return
	}

	result := make([]DeadLetterResponse, len(items))
	for i, dl := range items {
		result[i] = DeadLetterFromDomain(dl)
	}

	List(w, result, len(result))
}

// RedriveDeadLetter повторно отправляет шаг из DLQ.
// POST /dead-letters/{id}/redrive
func (h *Handler) RedriveDeadLetter(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid dead letter id")
		return
	}

	job, err := h.orch.Redrive(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}

	Accepted(w, RedriveResponse{
		RunID:  job.RunID,
		NodeID: job.NodeID,
		StepID: job.StepID,
	})
}
