package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/shaiso/Conductor/internal/api"
	"github.com/shaiso/Conductor/internal/orchestrator"
	"github.com/shaiso/Conductor/internal/queue"
	"github.com/shaiso/Conductor/internal/repo"
	"github.com/shaiso/Conductor/internal/telemetry"
)

// --- Helpers ---

// newTestServer поднимает настоящий API поверх памяти.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store := repo.NewMemoryStore()
	q := queue.NewMemoryQueue()
	t.Cleanup(func() { q.Close() })

	logger := telemetry.Discard()
	orch := orchestrator.New(orchestrator.Config{Store: store, Queue: q, Logger: logger})
	h := api.NewHandler(api.Config{Orchestrator: orch, Schedules: store, Logger: logger})

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// runCLI выполняет команду и возвращает stdout и stderr.
func runCLI(t *testing.T, srv *httptest.Server, jsonMode bool, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	clientFn := func() *Client { return NewClient(srv.URL) }
	outputFn := func() *Output { return NewOutputTo(jsonMode, &stdout, &stderr) }

	root := &cobra.Command{Use: "conductor", SilenceUsage: true, SilenceErrors: true}
	root.AddCommand(
		NewWorkspaceCmd(clientFn, outputFn),
		NewWorkflowCmd(clientFn, outputFn),
		NewRunCmd(clientFn, outputFn),
		NewDLQCmd(clientFn, outputFn),
		NewScheduleCmd(clientFn, outputFn),
	)
	root.SetArgs(args)
	root.SetOut(&stdout)
	root.SetErr(&stderr)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func mustRun(t *testing.T, srv *httptest.Server, jsonMode bool, args ...string) string {
	t.Helper()

	out, errOut, err := runCLI(t, srv, jsonMode, args...)
	if err != nil {
		t.Fatalf("conductor %s: %v (stderr: %s)", strings.Join(args, " "), err, errOut)
	}
	return out
}

const workflowYAML = `
name: greet
retry_policy:
  max_attempts: 2
nodes:
  - id: hello
    kind: action
    connector: noop
  - id: bye
    kind: action
    connector: noop
edges:
  - from: hello
    to: bye
`

// setupWorkflow создаёт acme/greet и публикует версию из YAML.
func setupWorkflow(t *testing.T, srv *httptest.Server) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "greet.yaml")
	if err := os.WriteFile(path, []byte(workflowYAML), 0o644); err != nil {
		t.Fatalf("write workflow file: %v", err)
	}

	mustRun(t, srv, false, "workspace", "create", "acme", "--name", "Acme")
	mustRun(t, srv, false, "workflow", "create", "acme", "greet")
	mustRun(t, srv, false, "workflow", "publish", "acme", "greet", "-f", path)
}

// --- Tests ---

func TestRunStartAndShow(t *testing.T) {
	srv := newTestServer(t)
	setupWorkflow(t, srv)

	out := mustRun(t, srv, true, "run", "start", "acme", "greet", "--input", "name=alice", "--idempotency-key", "k1")

	var res OrchestrateResponse
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode start output: %v (%s)", err, out)
	}
	if res.RunID == "" || res.Status != "running" {
		t.Fatalf("unexpected start result: %+v", res)
	}
	// Только корень DAG готов сразу
	if res.Steps != 1 {
		t.Errorf("expected 1 step enqueued, got %d", res.Steps)
	}

	// Повтор с тем же ключом возвращает тот же run
	out = mustRun(t, srv, true, "run", "start", "acme", "greet", "--idempotency-key", "k1")
	var again OrchestrateResponse
	json.Unmarshal([]byte(out), &again)
	if again.RunID != res.RunID || !again.Existing {
		t.Errorf("expected existing run %s, got %+v", res.RunID, again)
	}

	out = mustRun(t, srv, true, "run", "show", res.RunID)
	var detail RunDetailResponse
	if err := json.Unmarshal([]byte(out), &detail); err != nil {
		t.Fatalf("decode show output: %v", err)
	}
	if detail.Input["name"] != "alice" {
		t.Errorf("expected input name=alice, got %v", detail.Input)
	}
	if detail.Summary.Total != 2 || len(detail.Steps) != 1 {
		t.Errorf("unexpected summary %+v, steps %d", detail.Summary, len(detail.Steps))
	}

	// Табличный вывод содержит шаг
	out = mustRun(t, srv, false, "run", "show", res.RunID)
	if !strings.Contains(out, "hello") || !strings.Contains(out, "Status:") {
		t.Errorf("unexpected table output:\n%s", out)
	}
}

func TestRunCancel(t *testing.T) {
	srv := newTestServer(t)
	setupWorkflow(t, srv)

	out := mustRun(t, srv, true, "run", "start", "acme", "greet")
	var res OrchestrateResponse
	json.Unmarshal([]byte(out), &res)

	_, errOut, err := runCLI(t, srv, false, "run", "cancel", res.RunID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !strings.Contains(errOut, "Run cancelled") {
		t.Errorf("expected success message, got %q", errOut)
	}

	// Повторная отмена завершённого run — ошибка состояния
	_, _, err = runCLI(t, srv, false, "run", "cancel", res.RunID)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 APIError, got %v", err)
	}
}

func TestRunStart_Errors(t *testing.T) {
	srv := newTestServer(t)
	setupWorkflow(t, srv)

	_, _, err := runCLI(t, srv, false, "run", "start", "acme", "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "NOT_FOUND" {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}

	_, _, err = runCLI(t, srv, false, "run", "start", "acme", "greet", "--input", "novalue")
	if err == nil || !strings.Contains(err.Error(), "KEY=VALUE") {
		t.Errorf("expected input format error, got %v", err)
	}

	// Выключенный workflow не запускается
	mustRun(t, srv, false, "workflow", "disable", "acme", "greet")
	_, _, err = runCLI(t, srv, false, "run", "start", "acme", "greet")
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for inactive workflow, got %v", err)
	}

	mustRun(t, srv, false, "workflow", "enable", "acme", "greet")
	mustRun(t, srv, false, "run", "start", "acme", "greet")
}

func TestWorkflowPublish_InvalidFile(t *testing.T) {
	srv := newTestServer(t)
	mustRun(t, srv, false, "workspace", "create", "acme")
	mustRun(t, srv, false, "workflow", "create", "acme", "greet")

	path := filepath.Join(t.TempDir(), "dup.yaml")
	os.WriteFile(path, []byte("nodes:\n  - {id: a, kind: action}\n  - {id: a, kind: action}\n"), 0o644)

	_, _, err := runCLI(t, srv, false, "workflow", "publish", "acme", "greet", "-f", path)
	if err == nil || !strings.Contains(err.Error(), "invalid workflow file") {
		t.Errorf("expected local validation error, got %v", err)
	}

	_, _, err = runCLI(t, srv, false, "workflow", "publish", "acme", "greet", "-f", filepath.Join(t.TempDir(), "none.yaml"))
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestWorkspaceCreate_Conflict(t *testing.T) {
	srv := newTestServer(t)
	mustRun(t, srv, false, "workspace", "create", "acme")

	_, _, err := runCLI(t, srv, false, "workspace", "create", "acme")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "CONFLICT" {
		t.Errorf("expected CONFLICT, got %v", err)
	}
}

func TestDLQList_Empty(t *testing.T) {
	srv := newTestServer(t)

	out := mustRun(t, srv, true, "dlq", "list", "--pending", "--limit", "10")
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("expected empty list, got %s", out)
	}

	_, _, err := runCLI(t, srv, false, "dlq", "redrive", "not-a-uuid")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestScheduleLifecycle(t *testing.T) {
	srv := newTestServer(t)
	setupWorkflow(t, srv)

	out := mustRun(t, srv, true, "schedule", "create", "acme", "greet",
		"--name", "hourly", "--cron", "0 * * * *", "--input", "name=bob")

	var created ScheduleResponse
	if err := json.Unmarshal([]byte(out), &created); err != nil {
		t.Fatalf("decode create output: %v", err)
	}
	if !created.Enabled || created.NextDueAt == "" || created.Timezone != "UTC" {
		t.Errorf("unexpected schedule: %+v", created)
	}

	mustRun(t, srv, false, "schedule", "disable", created.ID)

	out = mustRun(t, srv, true, "schedule", "list", "--disabled")
	var list []ScheduleResponse
	json.Unmarshal([]byte(out), &list)
	if len(list) != 1 || list[0].ID != created.ID {
		t.Errorf("expected disabled schedule in list, got %+v", list)
	}

	out = mustRun(t, srv, true, "schedule", "list", "--enabled")
	list = nil
	json.Unmarshal([]byte(out), &list)
	if len(list) != 0 {
		t.Errorf("expected no enabled schedules, got %d", len(list))
	}

	mustRun(t, srv, false, "schedule", "enable", created.ID)
	out = mustRun(t, srv, false, "schedule", "show", created.ID)
	if !strings.Contains(out, "acme/greet") || !strings.Contains(out, "true") {
		t.Errorf("unexpected show output:\n%s", out)
	}

	mustRun(t, srv, false, "schedule", "delete", created.ID)
	_, _, err := runCLI(t, srv, false, "schedule", "show", created.ID)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %v", err)
	}
}

func TestScheduleCreate_Invalid(t *testing.T) {
	srv := newTestServer(t)
	setupWorkflow(t, srv)

	_, _, err := runCLI(t, srv, false, "schedule", "create", "acme", "greet", "--name", "bad", "--cron", "not a cron")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid cron, got %v", err)
	}

	_, _, err = runCLI(t, srv, false, "schedule", "list", "--enabled", "--disabled")
	if err == nil {
		t.Error("expected error for conflicting flags")
	}
}

func TestCheckError_FieldErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":"VALIDATION_FAILED","message":"invalid dag","fields":[{"field":"dag.nodes[1].id","message":"duplicate"}]}}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).PublishVersion("acme", "greet", PublishRequest{})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if len(apiErr.Fields) != 1 || !strings.Contains(err.Error(), "dag.nodes[1].id: duplicate") {
		t.Errorf("field errors should be in message, got %q", err.Error())
	}
}

func TestCheckError_NonJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).GetRun("x")
	if err == nil || !strings.Contains(err.Error(), "HTTP 502") {
		t.Errorf("expected HTTP 502 error, got %v", err)
	}
}

func TestParseInputs(t *testing.T) {
	input, err := parseInputs([]string{"b=2", "c=x=y"}, `{"a":1,"b":"json"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if input["a"] != float64(1) || input["b"] != "2" || input["c"] != "x=y" {
		t.Errorf("unexpected input: %v", input)
	}

	if input, _ := parseInputs(nil, ""); input != nil {
		t.Errorf("expected nil input, got %v", input)
	}

	if _, err := parseInputs(nil, "[1]"); err == nil {
		t.Error("expected error for non-object JSON")
	}
	if _, err := parseInputs([]string{"=v"}, ""); err == nil {
		t.Error("expected error for empty key")
	}
}
