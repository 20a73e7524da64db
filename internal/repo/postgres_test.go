package repo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conductor/internal/domain"
)

// newTestPostgres подключается к CONDUCTOR_TEST_DB_URL; без переменной тест пропускается.
func newTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()

	dsn := os.Getenv("CONDUCTOR_TEST_DB_URL")
	if dsn == "" {
		t.Skip("CONDUCTOR_TEST_DB_URL not set")
	}

	ctx := context.Background()
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("migrate: %v", err)
	}

	store := NewPostgresStore(pool)
	t.Cleanup(store.Close)
	return store
}

// createTestRun создаёт workspace, workflow и run с уникальными именами.
func createTestRun(t *testing.T, store Store) *domain.AgentRun {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	ws := &domain.Workspace{ID: uuid.New(), Slug: "ws-" + uuid.NewString()[:8], CreatedAt: now}
	if err := store.CreateWorkspace(ctx, ws); err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	wf := &domain.Workflow{ID: uuid.New(), WorkspaceID: ws.ID, Name: "flow", IsActive: true, CreatedAt: now}
	if err := store.CreateWorkflow(ctx, wf); err != nil {
		t.Fatalf("create workflow: %v", err)
	}

	run := newRun(wf.ID, "")
	run.WorkspaceID = ws.ID
	run.Version = 1
	stored, _, err := store.CreateRun(ctx, run)
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	return stored
}

// assertCreatedFailedStep проверяет, что шаг, созданный сразу failed,
// сохраняет ошибку и флаг exhausted.
func assertCreatedFailedStep(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	run := createTestRun(t, store)
	now := time.Now().UTC()

	step := &domain.RunStep{
		ID:        uuid.New(),
		RunID:     run.ID,
		NodeID:    "n1",
		Status:    domain.StepStatusFailed,
		LastError: "render config: unexpected EOF",
		CreatedAt: now,
		UpdatedAt: now,
	}
	created, err := store.CreateStepIfAbsent(ctx, step)
	if err != nil || !created {
		t.Fatalf("expected created step, got created=%v err=%v", created, err)
	}

	got, err := store.GetStep(ctx, run.ID, "n1")
	if err != nil {
		t.Fatalf("get step: %v", err)
	}
	if got.Status != domain.StepStatusFailed {
		t.Errorf("expected failed, got %s", got.Status)
	}
	if got.LastError != step.LastError {
		t.Errorf("expected last error %q, got %q", step.LastError, got.LastError)
	}
	if got.Exhausted {
		t.Error("render failure must not be exhausted")
	}
}

func TestMemoryStore_CreateStepIfAbsent_KeepsError(t *testing.T) {
	assertCreatedFailedStep(t, NewMemoryStore())
}

func TestPostgresStore_CreateStepIfAbsent_KeepsError(t *testing.T) {
	assertCreatedFailedStep(t, newTestPostgres(t))
}
