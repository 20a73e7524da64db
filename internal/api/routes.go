package api

import (
	"net/http"
)

// maxBodyBytes — предел размера тела запроса (DAG с конфигами узлов).
const maxBodyBytes = 1 << 20

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
		MaxBodySize(maxBodyBytes),
	)

	// Runs
	mux.Handle("POST /orchestrate", chain(http.HandlerFunc(h.Orchestrate)))
	mux.Handle("GET /runs/{id}", chain(http.HandlerFunc(h.GetRun)))
	mux.Handle("POST /runs/{id}/cancel", chain(http.HandlerFunc(h.CancelRun)))

	// Dead letters
	mux.Handle("GET /dead-letters", chain(http.HandlerFunc(h.ListDeadLetters)))
	mux.Handle("POST /dead-letters/{id}/redrive", chain(http.HandlerFunc(h.RedriveDeadLetter)))

	// Workspaces / Workflows
	mux.Handle("POST /workspaces", chain(http.HandlerFunc(h.CreateWorkspace)))
	mux.Handle("POST /workspaces/{slug}/workflows", chain(http.HandlerFunc(h.CreateWorkflow)))
	mux.Handle("PUT /workspaces/{slug}/workflows/{name}/active", chain(http.HandlerFunc(h.SetWorkflowActive)))
	mux.Handle("POST /workspaces/{slug}/workflows/{name}/versions", chain(http.HandlerFunc(h.PublishVersion)))

	// Schedules
	if h.schedules != nil {
		mux.Handle("GET /schedules", chain(http.HandlerFunc(h.ListSchedules)))
		mux.Handle("POST /schedules", chain(http.HandlerFunc(h.CreateSchedule)))
		mux.Handle("GET /schedules/{id}", chain(http.HandlerFunc(h.GetSchedule)))
		mux.Handle("DELETE /schedules/{id}", chain(http.HandlerFunc(h.DeleteSchedule)))
		mux.Handle("PUT /schedules/{id}/enabled", chain(http.HandlerFunc(h.SetScheduleEnabled)))
	}
}
