package api

import (
	"encoding/json"
	"net/http"
)

// CreateWorkspace создаёт workspace.
// POST /workspaces
func (h *Handler) CreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Slug == "" {
		BadRequest(w, "slug is required")
		return
	}

	ws, err := h.orch.CreateWorkspace(r.Context(), req.Slug, req.Name)
	if HandleError(w, h.logger, err) {
		return
	}

	Created(w, ws)
}

// CreateWorkflow создаёт workflow в workspace.
// POST /workspaces/{slug}/workflows
func (h *Handler) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}

	wf, err := h.orch.CreateWorkflow(r.Context(), r.PathValue("slug"), req.Name)
	if HandleError(w, h.logger, err) {
		return
	}

	Created(w, wf)
}

// PublishVersion публикует новую версию workflow.
// POST /workspaces/{slug}/workflows/{name}/versions
//
// DAG проверяется при публикации; невалидный граф — 400 со списком полей.
func (h *Handler) PublishVersion(w http.ResponseWriter, r *http.Request) {
	var req PublishVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	version, err := h.orch.PublishVersion(r.Context(), r.PathValue("slug"), r.PathValue("name"), req.Dag, req.RetryPolicy)
	if HandleError(w, h.logger, err) {
		return
	}

	Created(w, VersionFromDomain(version))
}

// SetWorkflowActive включает или выключает workflow.
// PUT /workspaces/{slug}/workflows/{name}/active
func (h *Handler) SetWorkflowActive(w http.ResponseWriter, r *http.Request) {
	var req SetActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	wf, err := h.orch.SetWorkflowActive(r.Context(), r.PathValue("slug"), r.PathValue("name"), req.Active)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, wf)
}
