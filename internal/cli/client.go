package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// WorkspaceResponse — workspace из API.
type WorkspaceResponse struct {
	ID        string `json:"id"`
	Slug      string `json:"slug"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

// WorkflowResponse — workflow из API.
type WorkflowResponse struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	Name        string `json:"name"`
	IsActive    bool   `json:"is_active"`
	CreatedAt   string `json:"created_at"`
}

// VersionResponse — опубликованная версия из API.
type VersionResponse struct {
	WorkflowID string `json:"workflow_id"`
	Version    int    `json:"version"`
	Nodes      int    `json:"nodes"`
	Edges      int    `json:"edges"`
	CreatedAt  string `json:"created_at"`
}

// OrchestrateResponse — результат запуска workflow.
type OrchestrateResponse struct {
	RunID    string `json:"run_id"`
	Status   string `json:"status"`
	Steps    int    `json:"steps"`
	Existing bool   `json:"existing,omitempty"`
}

// RunResponse — run из API.
type RunResponse struct {
	ID             string         `json:"id"`
	WorkflowID     string         `json:"workflow_id"`
	WorkspaceID    string         `json:"workspace_id"`
	Version        int            `json:"version"`
	Status         string         `json:"status"`
	Trigger        string         `json:"trigger"`
	Input          map[string]any `json:"input,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Error          string         `json:"error,omitempty"`
	StartedAt      string         `json:"started_at,omitempty"`
	CompletedAt    string         `json:"completed_at,omitempty"`
	CreatedAt      string         `json:"created_at"`
}

// StepResponse — шаг run из API.
type StepResponse struct {
	ID        string         `json:"id"`
	NodeID    string         `json:"node_id"`
	Status    string         `json:"status"`
	Attempts  int            `json:"attempts"`
	Output    map[string]any `json:"output,omitempty"`
	LastError string         `json:"last_error,omitempty"`
	Exhausted bool           `json:"exhausted,omitempty"`
	UpdatedAt string         `json:"updated_at"`
}

// RunSummary — сводка шагов run.
type RunSummary struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Enqueued  int `json:"enqueued"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Exhausted int `json:"exhausted"`
	Blocked   int `json:"blocked"`
}

// RunDetailResponse — run с шагами и сводкой.
type RunDetailResponse struct {
	RunResponse
	Steps   []StepResponse `json:"steps"`
	Summary RunSummary     `json:"summary"`
}

// DeadLetterResponse — запись DLQ из API.
type DeadLetterResponse struct {
	ID  string `json:"id"`
	Job struct {
		RunID     string `json:"run_id"`
		NodeID    string `json:"node_id"`
		Connector string `json:"connector"`
	} `json:"job"`
	Reason     string `json:"reason"`
	Attempts   int    `json:"attempts"`
	Retryable  bool   `json:"retryable"`
	FailedAt   string `json:"failed_at"`
	RedrivenAt string `json:"redriven_at,omitempty"`
}

// RedriveResponse — результат повторной отправки шага.
type RedriveResponse struct {
	RunID  string `json:"run_id"`
	NodeID string `json:"node_id"`
	StepID string `json:"step_id"`
}

// ScheduleResponse — schedule из API.
type ScheduleResponse struct {
	ID            string         `json:"id"`
	WorkspaceSlug string         `json:"workspace_slug"`
	WorkflowName  string         `json:"workflow_name"`
	Name          string         `json:"name"`
	CronExpr      string         `json:"cron_expr,omitempty"`
	IntervalSec   int            `json:"interval_sec,omitempty"`
	Timezone      string         `json:"timezone"`
	Enabled       bool           `json:"enabled"`
	NextDueAt     string         `json:"next_due_at,omitempty"`
	LastRunAt     string         `json:"last_run_at,omitempty"`
	LastRunID     string         `json:"last_run_id,omitempty"`
	Input         map[string]any `json:"input,omitempty"`
	CreatedAt     string         `json:"created_at"`
	UpdatedAt     string         `json:"updated_at"`
}

// --- Request types ---

// OrchestrateRequest — запуск workflow.
type OrchestrateRequest struct {
	WorkspaceSlug  string         `json:"workspace_slug"`
	WorkflowName   string         `json:"workflow_name"`
	Input          map[string]any `json:"input,omitempty"`
	Trigger        string         `json:"trigger,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// PublishRequest — публикация версии: DAG и политика повторов.
type PublishRequest struct {
	Dag         any `json:"dag"`
	RetryPolicy any `json:"retry_policy,omitempty"`
}

// CreateScheduleRequest — создание schedule.
type CreateScheduleRequest struct {
	WorkspaceSlug string         `json:"workspace_slug"`
	WorkflowName  string         `json:"workflow_name"`
	Name          string         `json:"name"`
	CronExpr      string         `json:"cron_expr,omitempty"`
	IntervalSec   int            `json:"interval_sec,omitempty"`
	Timezone      string         `json:"timezone,omitempty"`
	Enabled       bool           `json:"enabled"`
	Input         map[string]any `json:"input,omitempty"`
}

// ListDeadLettersOpts — параметры фильтрации DLQ.
type ListDeadLettersOpts struct {
	RunID   string
	Pending bool
	Limit   int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Fields  []struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		} `json:"fields"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Conductor API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Workspaces / Workflows ---

// CreateWorkspace создаёт workspace.
func (c *Client) CreateWorkspace(slug, name string) (*WorkspaceResponse, error) {
	body := map[string]string{"slug": slug, "name": name}
	var ws WorkspaceResponse
	err := c.post("/workspaces", body, &ws)
	return &ws, err
}

// CreateWorkflow создаёт workflow в workspace.
func (c *Client) CreateWorkflow(workspace, name string) (*WorkflowResponse, error) {
	body := map[string]string{"name": name}
	var wf WorkflowResponse
	err := c.post(workflowPath(workspace, name, ""), body, &wf)
	return &wf, err
}

// SetWorkflowActive включает или выключает workflow.
func (c *Client) SetWorkflowActive(workspace, name string, active bool) (*WorkflowResponse, error) {
	body := map[string]bool{"active": active}
	var wf WorkflowResponse
	err := c.put(workflowPath(workspace, name, "/active"), body, &wf)
	return &wf, err
}

// PublishVersion публикует новую версию workflow.
func (c *Client) PublishVersion(workspace, name string, req PublishRequest) (*VersionResponse, error) {
	var version VersionResponse
	err := c.post(workflowPath(workspace, name, "/versions"), req, &version)
	return &version, err
}

// workflowPath строит путь ресурса workflow; пустое suffix без name — коллекция.
func workflowPath(workspace, name, suffix string) string {
	base := "/workspaces/" + url.PathEscape(workspace) + "/workflows"
	if suffix == "" {
		return base
	}
	return base + "/" + url.PathEscape(name) + suffix
}

// --- Runs ---

// Orchestrate запускает workflow.
func (c *Client) Orchestrate(req OrchestrateRequest) (*OrchestrateResponse, error) {
	var res OrchestrateResponse
	err := c.post("/orchestrate", req, &res)
	return &res, err
}

// GetRun возвращает run с шагами.
func (c *Client) GetRun(id string) (*RunDetailResponse, error) {
	var run RunDetailResponse
	err := c.get("/runs/"+url.PathEscape(id), &run)
	return &run, err
}

// CancelRun отменяет run.
func (c *Client) CancelRun(id string) (*RunResponse, error) {
	var run RunResponse
	err := c.post("/runs/"+url.PathEscape(id)+"/cancel", nil, &run)
	return &run, err
}

// --- Dead letters ---

// ListDeadLetters возвращает записи DLQ.
func (c *Client) ListDeadLetters(opts ListDeadLettersOpts) ([]DeadLetterResponse, error) {
	params := url.Values{}
	if opts.RunID != "" {
		params.Set("run_id", opts.RunID)
	}
	if opts.Pending {
		params.Set("pending", "true")
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	var items []DeadLetterResponse
	err := c.list("/dead-letters", params, &items)
	return items, err
}

// Redrive повторно отправляет шаг из DLQ.
func (c *Client) Redrive(id string) (*RedriveResponse, error) {
	var res RedriveResponse
	err := c.post("/dead-letters/"+url.PathEscape(id)+"/redrive", nil, &res)
	return &res, err
}

// --- Schedules ---

// ListSchedules возвращает schedules. enabled=nil — все.
func (c *Client) ListSchedules(enabled *bool) ([]ScheduleResponse, error) {
	params := url.Values{}
	if enabled != nil {
		params.Set("enabled", strconv.FormatBool(*enabled))
	}

	var schedules []ScheduleResponse
	err := c.list("/schedules", params, &schedules)
	return schedules, err
}

// CreateSchedule создаёт schedule.
func (c *Client) CreateSchedule(req CreateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.post("/schedules", req, &schedule)
	return &schedule, err
}

// GetSchedule возвращает schedule по ID.
func (c *Client) GetSchedule(id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.get("/schedules/"+url.PathEscape(id), &schedule)
	return &schedule, err
}

// DeleteSchedule удаляет schedule.
func (c *Client) DeleteSchedule(id string) error {
	return c.delete("/schedules/" + url.PathEscape(id))
}

// SetScheduleEnabled включает или выключает schedule.
func (c *Client) SetScheduleEnabled(id string, enabled bool) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	body := map[string]bool{"enabled": enabled}
	err := c.put("/schedules/"+url.PathEscape(id)+"/enabled", body, &schedule)
	return &schedule, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) put(path string, body any, result any) error {
	return c.doData(http.MethodPut, path, body, result)
}

func (c *Client) delete(path string) error {
	resp, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// APIError — ошибка, которую вернул сервер.
type APIError struct {
	Status  int
	Code    string
	Message string
	Fields  []string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if len(e.Fields) > 0 {
		msg += " (" + strings.Join(e.Fields, "; ") + ")"
	}
	return msg
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	apiErr := &APIError{
		Status:  resp.StatusCode,
		Code:    er.Error.Code,
		Message: er.Error.Message,
	}
	for _, f := range er.Error.Fields {
		apiErr.Fields = append(apiErr.Fields, f.Field+": "+f.Message)
	}
	return apiErr
}
